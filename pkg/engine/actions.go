package engine

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/security"
)

// StartByID starts the definition id visible to the caller.
func (e *Engine) StartByID(ctx context.Context, definitionID string, mp *models.MediaPackage, properties map[string]string) (*models.WorkflowInstance, error) {
	user, err := security.MustUser(ctx)
	if err != nil {
		return nil, err
	}

	def, err := e.definitions.Resolve(user, definitionID)
	if err != nil {
		return nil, err
	}

	return e.Start(ctx, def, mp, properties)
}

// Start creates a workflow instance of def for mp and queues its start job.
// A media package has at most one active workflow; a second start fails with
// ErrActiveWorkflowExists.
func (e *Engine) Start(ctx context.Context, def *models.WorkflowDefinition, mp *models.MediaPackage, properties map[string]string) (*models.WorkflowInstance, error) {
	user, err := security.MustUser(ctx)
	if err != nil {
		return nil, err
	}

	if def == nil || mp == nil || mp.ID == "" {
		return nil, fmt.Errorf("%w: start requires a definition and a media package", ErrInvalidJob)
	}

	unlock := e.mediaPackageLocks.Lock(mp.ID)
	defer unlock()

	err = security.Authorize(user, user.Organization, e.effectiveACL(ctx, user.Organization, mp), security.ActionWrite, "media package "+mp.ID)
	if err != nil {
		return nil, err
	}

	active, err := e.store.MediaPackageHasActiveWorkflows(ctx, mp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active workflows of %s: %w", mp.ID, err)
	}

	if active {
		return nil, fmt.Errorf("%w: %s", ErrActiveWorkflowExists, mp.ID)
	}

	wi := models.NewWorkflowInstance(def, mp, user, properties)

	job, err := e.dispatcher.CreateJob(ctx, models.JobTypeWorkflow, models.JobOperationStartWorkflow, nil, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow job: %w", err)
	}

	wi.ID = job.ID

	err = e.update(ctx, wi)
	if err != nil {
		removeErr := e.dispatcher.RemoveJobs(ctx, []string{job.ID})
		if removeErr != nil {
			e.logger.ErrorContext(ctx, "Failed to remove job of workflow that could not start", "job_id", job.ID, "error", removeErr)
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow started",
		"workflow_id", wi.ID,
		"definition", def.ID,
		"media_package", mp.ID,
		"organization", wi.Organization,
	)

	return wi.Clone(), nil
}

// Stop cancels a workflow. Stopping a workflow in a terminal state leaves it unchanged.
func (e *Engine) Stop(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	unlock := e.workflowLocks.Lock(id)

	wi, err := e.load(ctx, id)
	if err != nil {
		unlock()

		return nil, err
	}

	err = e.authorize(ctx, wi, security.ActionWrite)
	if err != nil {
		unlock()

		return nil, err
	}

	if wi.State.IsTerminated() {
		unlock()

		return wi, nil
	}

	err = wi.Fire(ctx, models.TriggerStop)
	if err == nil {
		err = e.update(ctx, wi)
	}

	unlock()

	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow stopped", "workflow_id", wi.ID)
	e.cleanupWorkspace(ctx, wi)

	return wi, nil
}

// Suspend pauses a running workflow. The current operation keeps its job.
func (e *Engine) Suspend(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	unlock := e.workflowLocks.Lock(id)
	defer unlock()

	wi, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	err = e.authorize(ctx, wi, security.ActionWrite)
	if err != nil {
		return nil, err
	}

	if wi.State == models.WorkflowStatePaused {
		return wi, nil
	}

	if wi.State.IsTerminated() {
		return nil, illegalState("cannot suspend %s workflow %s", wi.State, wi.ID)
	}

	err = wi.Fire(ctx, models.TriggerPause)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIllegalState, err)
	}

	err = e.update(ctx, wi)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow suspended", "workflow_id", wi.ID)

	return wi, nil
}

// Resume continues a paused workflow. Properties override the workflow
// configuration and reach the paused operation's handler unchanged.
func (e *Engine) Resume(ctx context.Context, id string, properties map[string]string) (*models.WorkflowInstance, error) {
	unlock := e.workflowLocks.Lock(id)
	defer unlock()

	wi, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	err = e.authorize(ctx, wi, security.ActionWrite)
	if err != nil {
		return nil, err
	}

	if wi.State != models.WorkflowStatePaused {
		return nil, illegalState("cannot resume %s workflow %s", wi.State, wi.ID)
	}

	err = mergeProperties(wi, properties)
	if err != nil {
		return nil, err
	}

	err = wi.Fire(ctx, models.TriggerResume)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIllegalState, err)
	}

	op := wi.CurrentOperation()

	switch {
	case op != nil && op.State == models.OperationStatePaused:
		err = e.requeueResume(ctx, wi, op, properties)
	case op != nil && op.State == models.OperationStateRunning:
		err = e.update(ctx, wi)
	default:
		err = e.runNext(ctx, wi)
	}

	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow resumed", "workflow_id", wi.ID)

	return wi, nil
}

// Remove deletes a workflow with its jobs and index entry. Active workflows
// are only removed when force is set.
func (e *Engine) Remove(ctx context.Context, id string, force bool) error {
	unlock := e.workflowLocks.Lock(id)
	defer unlock()

	wi, err := e.load(ctx, id)
	if err != nil {
		return err
	}

	err = e.authorize(ctx, wi, security.ActionWrite)
	if err != nil {
		return err
	}

	if !wi.State.IsTerminated() && !force {
		return illegalState("cannot remove %s workflow %s", wi.State, wi.ID)
	}

	err = e.dispatcher.RemoveJobs(ctx, wi.JobIDs())
	if err != nil {
		return fmt.Errorf("failed to remove jobs of workflow %s: %w", wi.ID, err)
	}

	err = e.store.Remove(ctx, wi)
	if err != nil {
		return err
	}

	if e.index != nil {
		err = e.index.RemoveWorkflow(ctx, wi.Organization, wi.MediaPackageID(), wi.ID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to remove workflow from index", "workflow_id", wi.ID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Workflow removed", "workflow_id", wi.ID, "state", wi.State, "forced", force)

	return nil
}

// requeueResume persists wi and queues a RESUME job for its paused operation,
// creating the job when the operation has none.
func (e *Engine) requeueResume(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance, properties map[string]string) error {
	payload, err := models.EncodeProperties(properties)
	if err != nil {
		return err
	}

	if op.JobID == "" {
		created, err := e.dispatcher.CreateJob(ctx, models.JobTypeWorkflow, models.JobOperationResume, []string{wi.ID, op.ID}, payload, false)
		if err != nil {
			return fmt.Errorf("failed to create resume job for operation %s: %w", op.ID, err)
		}

		op.JobID = created.ID
	}

	err = e.update(ctx, wi)
	if err != nil {
		return err
	}

	job, err := e.dispatcher.GetJob(ctx, op.JobID)
	if err != nil {
		return err
	}

	job.Operation = models.JobOperationResume
	job.Arguments = []string{wi.ID, op.ID}
	job.Payload = payload
	job.Status = models.JobStatusQueued
	job.Dispatchable = true

	_, err = e.dispatcher.UpdateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to queue resume of operation %s: %w", op.ID, err)
	}

	return nil
}

func (e *Engine) cleanupWorkspace(ctx context.Context, wi *models.WorkflowInstance) {
	if e.workspace == nil {
		return
	}

	err := e.workspace.CleanupMediaPackage(ctx, wi.MediaPackageID())
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to clean up workspace", "workflow_id", wi.ID, "media_package", wi.MediaPackageID(), "error", err)
	}
}

// mergeProperties overrides the workflow configuration with properties.
func mergeProperties(wi *models.WorkflowInstance, properties map[string]string) error {
	if len(properties) == 0 {
		return nil
	}

	if wi.Configuration == nil {
		wi.Configuration = make(map[string]string, len(properties))
	}

	err := mergo.Merge(&wi.Configuration, properties, mergo.WithOverride)
	if err != nil {
		return fmt.Errorf("failed to merge properties into workflow %s: %w", wi.ID, err)
	}

	return nil
}
