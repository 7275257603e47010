// Package dispatchertest holds the behavior every dispatcher.JobStore must show.
package dispatchertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/mediaflow/pkg/dispatcher"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunJobStore exercises newStore against the dispatcher.JobStore contract.
func RunJobStore(t *testing.T, newStore func(t *testing.T) dispatcher.JobStore) {
	t.Helper()

	t.Run("save and get", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		started := models.Now()
		job := &models.Job{
			ID:           "job-1",
			JobType:      models.JobTypeWorkflow,
			Operation:    models.JobOperationStartOperation,
			Arguments:    []string{"wf-1", "op-1"},
			Status:       models.JobStatusRunning,
			Creator:      "alice",
			Organization: "org",
			DateCreated:  started,
			DateStarted:  &started,
		}
		require.NoError(t, store.Save(ctx, job))

		got, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, job, got)
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(context.Background(), "missing")
		require.ErrorIs(t, err, persistence.ErrJobNotFound)
		require.ErrorIs(t, store.Delete(context.Background(), "missing"), persistence.ErrJobNotFound)
	})

	t.Run("list by status follows updates", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		base := models.Now()

		for i, id := range []string{"b", "a", "c"} {
			require.NoError(t, store.Save(ctx, &models.Job{
				ID:          id,
				Status:      models.JobStatusQueued,
				DateCreated: base.Add(time.Duration(i) * time.Second),
			}))
		}

		queued, err := store.ListByStatus(ctx, models.JobStatusQueued)
		require.NoError(t, err)
		require.Len(t, queued, 3)
		assert.Equal(t, []string{"b", "a", "c"}, []string{queued[0].ID, queued[1].ID, queued[2].ID})

		job, err := store.Get(ctx, "a")
		require.NoError(t, err)

		job.Status = models.JobStatusFinished
		require.NoError(t, store.Save(ctx, job))

		queued, err = store.ListByStatus(ctx, models.JobStatusQueued)
		require.NoError(t, err)
		assert.Len(t, queued, 2)

		finished, err := store.ListByStatus(ctx, models.JobStatusFinished)
		require.NoError(t, err)
		require.Len(t, finished, 1)
		assert.Equal(t, "a", finished[0].ID)

		require.NoError(t, store.Delete(ctx, "a"))

		finished, err = store.ListByStatus(ctx, models.JobStatusFinished)
		require.NoError(t, err)
		assert.Empty(t, finished)
	})

	t.Run("claim moves a dispatchable job to running", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Save(ctx, &models.Job{
			ID:           "job-1",
			Status:       models.JobStatusQueued,
			Dispatchable: true,
			DateCreated:  models.Now(),
		}))

		job, err := store.Claim(ctx, "job-1", "host-a")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, job.Status)
		assert.Equal(t, "host-a", job.ProcessingHost)
		assert.NotNil(t, job.DateStarted)

		stored, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, job, stored)

		running, err := store.ListByStatus(ctx, models.JobStatusRunning)
		require.NoError(t, err)
		require.Len(t, running, 1)

		queued, err := store.ListByStatus(ctx, models.JobStatusQueued)
		require.NoError(t, err)
		assert.Empty(t, queued)

		_, err = store.Claim(ctx, "job-1", "host-b")
		require.ErrorIs(t, err, dispatcher.ErrNotClaimable)

		_, err = store.Claim(ctx, "missing", "host-b")
		require.ErrorIs(t, err, persistence.ErrJobNotFound)
	})

	t.Run("claim rejects jobs that are not dispatchable", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Save(ctx, &models.Job{
			ID:          "job-1",
			Status:      models.JobStatusQueued,
			DateCreated: models.Now(),
		}))

		_, err := store.Claim(ctx, "job-1", "host-a")
		require.ErrorIs(t, err, dispatcher.ErrNotClaimable)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Save(ctx, &models.Job{
			ID:           "job-1",
			Status:       models.JobStatusQueued,
			Dispatchable: true,
			DateCreated:  models.Now(),
		}))

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)

		for i := range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := store.Claim(ctx, "job-1", fmt.Sprintf("host-%d", i))
				if err == nil {
					wins.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())
	})
}
