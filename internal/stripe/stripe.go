// Package stripe provides a fixed-size table of mutexes addressed by key.
package stripe

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultSize is the number of stripes used when a table is created with a non-positive size.
const DefaultSize = 1024

// Table maps arbitrary string keys onto a bounded set of mutexes.
// Two keys may share a stripe, so a holder must never lock a second key of the same table.
type Table struct {
	locks []sync.Mutex
}

func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}

	return &Table{locks: make([]sync.Mutex, size)}
}

// Lock acquires the stripe for key and returns the matching unlock function.
func (t *Table) Lock(key string) func() {
	m := t.stripe(key)
	m.Lock()

	return m.Unlock
}

// Size returns the number of stripes.
func (t *Table) Size() int {
	return len(t.locks)
}

func (t *Table) stripe(key string) *sync.Mutex {
	return &t.locks[t.index(key)]
}

func (t *Table) index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(t.locks)))
}
