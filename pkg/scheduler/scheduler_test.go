package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Add(t *testing.T) {
	s := New(slog.Default())

	err := s.Add("cleanup", "not a cron", func(context.Context) error { return nil })
	require.Error(t, err)

	require.NoError(t, s.Add("cleanup", "@every 1h", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("cleanup", "@every 2h", func(context.Context) error { return nil }))
	assert.Equal(t, []string{"cleanup"}, s.Tasks())
}

func TestScheduler_Runs(t *testing.T) {
	s := New(slog.Default())

	var runs atomic.Int32

	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)

		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
