// Package persistencetest holds the behavior every persistence.Store must show.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewInstance builds a persisted-looking workflow instance targeting mediaPackageID.
func NewInstance(mediaPackageID string, state models.WorkflowState) *models.WorkflowInstance {
	def := &models.WorkflowDefinition{
		ID:    "publish",
		Title: "Publish",
		Operations: []models.OperationDefinition{
			{Template: "inspect", FailOnError: true, Configuration: map[string]string{"flavor": "presenter/source"}},
			{Template: "encode", RetryStrategy: models.RetryStrategyHold, ExceptionHandlingWorkflow: "error"},
		},
	}
	mp := &models.MediaPackage{
		ID:    mediaPackageID,
		Title: "Lecture",
		ACL: security.AccessControlList{Entries: []security.AccessControlEntry{
			{Role: "ROLE_EDITOR", Action: security.ActionWrite, Allow: true},
		}},
	}

	wi := models.NewWorkflowInstance(def, mp, security.User{Username: "alice", Organization: "org"}, map[string]string{"publish": "true"})
	wi.ID = uuid.New().String()
	wi.State = state

	return wi
}

// Run exercises store against the persistence.Store contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Store) {
	t.Helper()

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		wi := NewInstance("mp-1", models.WorkflowStateRunning)
		wi.Operations[0].State = models.OperationStateSucceeded
		wi.Operations[0].JobID = "job-1"
		wi.InsertBefore(wi.Operations[1].ID, models.NewErrorResolutionOperation(wi.Operations[1]))

		require.NoError(t, store.Update(ctx, wi))

		got, err := store.GetWorkflow(ctx, wi.ID)
		require.NoError(t, err)
		assert.Equal(t, wi, got)
	})

	t.Run("update replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		wi := NewInstance("mp-1", models.WorkflowStateInstantiated)
		require.NoError(t, store.Update(ctx, wi))

		wi.State = models.WorkflowStateSucceeded
		wi.Configuration["done"] = "yes"
		require.NoError(t, store.Update(ctx, wi))

		got, err := store.GetWorkflow(ctx, wi.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStateSucceeded, got.State)
		assert.Equal(t, "yes", got.Configuration["done"])
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetWorkflow(ctx, "missing")
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

		err = store.Remove(ctx, NewInstance("mp-1", models.WorkflowStateStopped))
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		wi := NewInstance("mp-1", models.WorkflowStateStopped)
		require.NoError(t, store.Update(ctx, wi))
		require.NoError(t, store.Remove(ctx, wi))

		_, err := store.GetWorkflow(ctx, wi.ID)
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("media package queries", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		done := NewInstance("mp-1", models.WorkflowStateSucceeded)
		done.DateCreated = done.DateCreated.Add(-time.Hour)
		require.NoError(t, store.Update(ctx, done))
		require.NoError(t, store.Update(ctx, NewInstance("mp-2", models.WorkflowStatePaused)))

		active, err := store.MediaPackageHasActiveWorkflows(ctx, "mp-1")
		require.NoError(t, err)
		assert.False(t, active)

		active, err = store.MediaPackageHasActiveWorkflows(ctx, "mp-2")
		require.NoError(t, err)
		assert.True(t, active)

		running := NewInstance("mp-1", models.WorkflowStateRunning)
		require.NoError(t, store.Update(ctx, running))

		active, err = store.MediaPackageHasActiveWorkflows(ctx, "mp-1")
		require.NoError(t, err)
		assert.True(t, active)

		instances, err := store.GetWorkflowInstancesByMediaPackage(ctx, "mp-1")
		require.NoError(t, err)
		require.Len(t, instances, 2)
		assert.Equal(t, done.ID, instances[0].ID)
		assert.Equal(t, running.ID, instances[1].ID)

		instances, err = store.GetWorkflowInstancesByMediaPackage(ctx, "mp-3")
		require.NoError(t, err)
		assert.Empty(t, instances)
	})

	t.Run("count workflows", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := NewInstance("mp-1", models.WorkflowStateRunning)
		second := NewInstance("mp-2", models.WorkflowStateRunning)
		second.Operations[0].State = models.OperationStateSucceeded

		for _, wi := range []*models.WorkflowInstance{first, second, NewInstance("mp-3", models.WorkflowStateFailed)} {
			require.NoError(t, store.Update(ctx, wi))
		}

		count, err := store.CountWorkflows(ctx, "", "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		count, err = store.CountWorkflows(ctx, models.WorkflowStateRunning, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		count, err = store.CountWorkflows(ctx, models.WorkflowStateRunning, "encode")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		count, err = store.CountWorkflows(ctx, models.WorkflowStateStopped, "")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("cleanup candidates", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		old := NewInstance("mp-1", models.WorkflowStateSucceeded)
		old.DateCreated = models.Now().Add(-48 * time.Hour)
		recent := NewInstance("mp-2", models.WorkflowStateSucceeded)
		oldFailed := NewInstance("mp-3", models.WorkflowStateFailed)
		oldFailed.DateCreated = models.Now().Add(-48 * time.Hour)

		for _, wi := range []*models.WorkflowInstance{old, recent, oldFailed} {
			require.NoError(t, store.Update(ctx, wi))
		}

		instances, err := store.GetWorkflowInstancesForCleanup(ctx, models.WorkflowStateSucceeded, models.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, instances, 1)
		assert.Equal(t, old.ID, instances[0].ID)
	})

	t.Run("health", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HealthCheck(context.Background()))
	})
}
