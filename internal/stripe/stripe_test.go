package stripe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, 8, New(8).Size())
}

func TestTable_SameKeySameStripe(t *testing.T) {
	table := New(16)

	assert.Equal(t, table.index("mp-1"), table.index("mp-1"))
	assert.Less(t, table.index("mp-2"), 16)
}

func TestTable_SerializesHolders(t *testing.T) {
	table := New(4)

	var (
		wg      sync.WaitGroup
		counter int
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := table.Lock("workflow-1")
			defer unlock()

			current := counter
			counter = current + 1
		}()
	}

	wg.Wait()

	assert.Equal(t, 50, counter)
}
