package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/dukex/mediaflow/pkg/handlers"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SuspendAndResume(t *testing.T) {
	h := newHarness(t)
	inspect := script()
	h.handler("inspect", inspect)
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	wi := h.start(as(alice), def, "mp-1", nil)
	require.True(t, h.jobs.runOne(t, h.engine))

	running := h.reload(wi.ID)
	require.Equal(t, models.WorkflowStateRunning, running.State)
	jobID := running.Operations[0].JobID
	require.NotEmpty(t, jobID)

	paused, err := h.engine.Suspend(as(alice), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatePaused, paused.State)
	assert.Equal(t, jobID, paused.Operations[0].JobID)
	assert.Equal(t, models.JobStatusPaused, h.jobs.job(t, jobID).Status)

	again, err := h.engine.Suspend(as(alice), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatePaused, again.State)

	assert.Zero(t, h.run())
	assert.Zero(t, inspect.calls())

	resumed, err := h.engine.Resume(as(alice), wi.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateRunning, resumed.State)
	assert.True(t, h.jobs.job(t, jobID).IsDispatchable())

	h.run()

	got := h.reload(wi.ID)
	assert.Equal(t, models.WorkflowStateSucceeded, got.State)
	assert.Equal(t, jobID, got.Operations[0].JobID)
	assert.Equal(t, 1, inspect.calls())
}

func TestEngine_ResumeRequiresPausedWorkflow(t *testing.T) {
	h := newHarness(t)
	h.handler("inspect", script())
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	wi := h.start(as(alice), def, "mp-1", nil)

	_, err := h.engine.Resume(as(alice), wi.ID, nil)
	require.ErrorIs(t, err, engine.ErrIllegalState)

	h.run()

	_, err = h.engine.Suspend(as(alice), wi.ID)
	require.ErrorIs(t, err, engine.ErrIllegalState)
}

func TestEngine_ResumeOverridesConfiguration(t *testing.T) {
	h := newHarness(t)
	publish := script()
	h.handler("publish", publish)

	def := h.define(definition("publish",
		models.OperationDefinition{Template: handlers.HoldTemplate},
		models.OperationDefinition{Template: "publish"},
	))

	wi := h.start(as(alice), def, "mp-1", map[string]string{"channel": "engage", "quality": "sd"})
	h.run()
	require.Equal(t, models.WorkflowStatePaused, h.reload(wi.ID).State)

	_, err := h.engine.Resume(as(bob), wi.ID, nil)
	assert.True(t, engine.IsUnauthorized(err))

	_, err = h.engine.Resume(as(alice), wi.ID, map[string]string{"quality": "hd"})
	require.NoError(t, err)

	h.run()

	got := h.reload(wi.ID)
	assert.Equal(t, models.WorkflowStateSucceeded, got.State)
	assert.Equal(t, "hd", got.Configuration["quality"])
	assert.Equal(t, "engage", got.Configuration["channel"])
	require.Equal(t, 1, publish.calls())
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	inspect := script()
	h.handler("inspect", inspect)
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	wi := h.start(as(alice), def, "mp-1", nil)
	require.True(t, h.jobs.runOne(t, h.engine))

	dir, err := h.workspace.Path("mp-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.mp4"), []byte("media"), 0o600))

	stopped, err := h.engine.Stop(as(alice), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateStopped, stopped.State)
	assert.NoDirExists(t, dir)

	assert.Equal(t, models.JobStatusCancelled, h.jobs.job(t, wi.ID).Status)
	assert.Equal(t, models.JobStatusCancelled, h.jobs.job(t, stopped.Operations[0].JobID).Status)

	again, err := h.engine.Stop(as(alice), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateStopped, again.State)

	assert.Zero(t, h.run())
	assert.Zero(t, inspect.calls())

	next := h.start(as(alice), def, "mp-1", nil)
	assert.NotEqual(t, wi.ID, next.ID)
}

func TestEngine_StopCompletedWorkflow(t *testing.T) {
	h := newHarness(t)
	h.handler("inspect", script())
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	wi := h.start(as(alice), def, "mp-1", nil)
	h.run()

	got, err := h.engine.Stop(as(alice), wi.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateSucceeded, got.State)

	_, err = h.engine.Stop(as(eve), wi.ID)
	assert.True(t, engine.IsUnauthorized(err))
}

func TestEngine_Remove(t *testing.T) {
	h := newHarness(t)
	h.handler("inspect", script())
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	wi := h.start(as(alice), def, "mp-1", nil)
	require.True(t, h.jobs.runOne(t, h.engine))

	err := h.engine.Remove(as(alice), wi.ID, false)
	require.ErrorIs(t, err, engine.ErrIllegalState)

	err = h.engine.Remove(as(bob), wi.ID, true)
	assert.True(t, engine.IsUnauthorized(err))

	require.NoError(t, h.engine.Remove(as(alice), wi.ID, true))

	_, err = h.engine.GetWorkflowByID(as(alice), wi.ID)
	assert.True(t, engine.IsNotFound(err))
	assert.Zero(t, h.jobs.len())

	entry, ok := h.index.Get("org", "mp-1")
	require.True(t, ok)
	assert.Equal(t, "mp-1", entry.MediaPackageID)
	assert.Empty(t, entry.WorkflowID)
	assert.Empty(t, entry.WorkflowDefinitionID)
	assert.Empty(t, entry.WorkflowState)
}

func TestEngine_RemoveKeepsIndexOfNewerWorkflow(t *testing.T) {
	h := newHarness(t)
	h.handler("inspect", script())
	quick := h.define(definition("quick", models.OperationDefinition{Template: "inspect"}))
	held := h.define(definition("held", models.OperationDefinition{Template: handlers.HoldTemplate}))

	old := h.start(as(alice), quick, "mp-1", nil)
	h.run()
	require.Equal(t, models.WorkflowStateSucceeded, h.reload(old.ID).State)

	current := h.start(as(alice), held, "mp-1", nil)
	h.run()
	require.Equal(t, models.WorkflowStatePaused, h.reload(current.ID).State)

	require.NoError(t, h.engine.Remove(as(alice), old.ID, false))

	entry, ok := h.index.Get("org", "mp-1")
	require.True(t, ok)
	assert.Equal(t, current.ID, entry.WorkflowID)
	assert.Equal(t, "held", entry.WorkflowDefinitionID)
	assert.Equal(t, models.WorkflowStatePaused, entry.WorkflowState)
}

func TestEngine_CleanupWorkflowInstances(t *testing.T) {
	h := newHarness(t)
	h.handler("inspect", script())
	def := h.define(definition("publish", models.OperationDefinition{Template: "inspect"}))

	done := h.start(as(alice), def, "mp-1", nil)
	h.run()
	active := h.start(as(alice), def, "mp-2", nil)

	_, err := h.engine.CleanupWorkflowInstances(as(alice), 0, models.WorkflowStateSucceeded)
	assert.True(t, engine.IsUnauthorized(err))

	_, err = h.engine.CleanupWorkflowInstances(as(admin), 0, models.WorkflowStateRunning)
	require.ErrorIs(t, err, engine.ErrIllegalState)

	removed, err := h.engine.CleanupWorkflowInstances(as(admin), 1, models.WorkflowStateSucceeded)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = h.engine.CleanupWorkflowInstances(as(admin), 0, models.WorkflowStateSucceeded)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = h.engine.GetWorkflowByID(as(admin), done.ID)
	assert.True(t, engine.IsNotFound(err))

	_, err = h.engine.GetWorkflowByID(as(admin), active.ID)
	require.NoError(t, err)
}

func TestEngine_ResumeOperationWithoutJob(t *testing.T) {
	h := newHarness(t)
	def := h.define(definition("held", models.OperationDefinition{Template: handlers.HoldTemplate}))

	wi := h.start(as(alice), def, "mp-1", nil)
	h.run()

	paused := h.reload(wi.ID)
	require.Equal(t, models.WorkflowStatePaused, paused.State)
	require.NoError(t, h.jobs.RemoveJobs(context.Background(), []string{paused.Operations[0].JobID}))

	paused.Operations[0].JobID = ""
	require.NoError(t, h.store.Update(context.Background(), paused))

	_, err := h.engine.Resume(as(alice), wi.ID, map[string]string{"decision": "go"})
	require.NoError(t, err)

	resumed := h.reload(wi.ID)
	require.NotEmpty(t, resumed.Operations[0].JobID)
	assert.Equal(t, models.JobOperationResume, h.jobs.job(t, resumed.Operations[0].JobID).Operation)

	h.run()

	got := h.reload(wi.ID)
	assert.Equal(t, models.WorkflowStateSucceeded, got.State)
	assert.Equal(t, models.OperationStateSucceeded, got.Operations[0].State)
}
