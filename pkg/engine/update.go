package engine

import (
	"context"
	"fmt"

	"github.com/dukex/mediaflow/pkg/events"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/security"
)

// update persists wi, brings its jobs and the index in line with it and notifies
// listeners of what changed since the stored version.
func (e *Engine) update(ctx context.Context, wi *models.WorkflowInstance) error {
	unlock := e.updateLocks.Lock(wi.ID)
	defer unlock()

	previous, err := e.store.GetWorkflow(ctx, wi.ID)
	if err != nil {
		if !persistence.IsWorkflowNotFound(err) {
			return fmt.Errorf("failed to load stored workflow %s: %w", wi.ID, err)
		}

		previous = nil
	}

	e.reconcile(ctx, wi)

	err = e.store.Update(ctx, wi)
	if err != nil {
		return fmt.Errorf("failed to store workflow %s: %w", wi.ID, err)
	}

	err = e.syncJobs(ctx, previous, wi)
	if err != nil {
		e.logger.ErrorContext(ctx, "Workflow and job states diverged",
			"workflow_id", wi.ID,
			"state", wi.State,
			"inconsistency", true,
			"error", err,
		)

		return err
	}

	e.updateIndex(ctx, wi)
	e.notify(ctx, previous, wi)

	return nil
}

// reconcile copies the series of the media package onto the instance and folds
// the series access control list into the episode one.
func (e *Engine) reconcile(ctx context.Context, wi *models.WorkflowInstance) {
	if wi.MediaPackage == nil {
		return
	}

	wi.SeriesID = wi.MediaPackage.SeriesID

	if e.seriesACLs != nil && wi.MediaPackage.SeriesID != "" {
		wi.MediaPackage.ACL = e.effectiveACL(ctx, wi.Organization, wi.MediaPackage)
	}
}

func (e *Engine) syncJobs(ctx context.Context, previous, wi *models.WorkflowInstance) error {
	err := e.syncWorkflowJob(ctx, wi)
	if err != nil {
		return err
	}

	stateChanged := previous == nil || previous.State != wi.State
	current := wi.CurrentOperation()

	for _, op := range wi.Operations {
		if op.JobID == "" {
			continue
		}

		changed := true

		if previous != nil {
			if prev := previous.Operation(op.ID); prev != nil {
				changed = prev.State != op.State || prev.JobID != op.JobID
			}
		}

		if stateChanged && current != nil && current.ID == op.ID {
			changed = true
		}

		if !changed {
			continue
		}

		err := e.syncOperationJob(ctx, wi, op)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) syncWorkflowJob(ctx context.Context, wi *models.WorkflowInstance) error {
	job, err := e.dispatcher.GetJob(ctx, wi.ID)
	if err != nil {
		if persistence.IsJobNotFound(err) {
			e.logger.WarnContext(ctx, "Workflow job is gone", "workflow_id", wi.ID)

			return nil
		}

		return err
	}

	payload, err := models.EncodeInstance(wi)
	if err != nil {
		return err
	}

	job.Payload = payload

	switch wi.State {
	case models.WorkflowStateInstantiated:
		if job.Status != models.JobStatusRunning {
			job.Status = models.JobStatusQueued
			job.Dispatchable = true
		}
	case models.WorkflowStateRunning, models.WorkflowStateFailing:
		job.Status = models.JobStatusRunning
	case models.WorkflowStatePaused:
		job.Status = models.JobStatusPaused
	case models.WorkflowStateSucceeded:
		job.Status = models.JobStatusFinished
	case models.WorkflowStateFailed:
		job.Status = models.JobStatusFailed
	case models.WorkflowStateStopped:
		job.Status = models.JobStatusCancelled
	}

	_, err = e.dispatcher.UpdateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to sync workflow job %s: %w", wi.ID, err)
	}

	return nil
}

// syncOperationJob mirrors the operation state onto its job. Jobs of operations
// waiting to run are parked; only runNext makes them dispatchable.
func (e *Engine) syncOperationJob(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) error {
	job, err := e.dispatcher.GetJob(ctx, op.JobID)
	if err != nil {
		if persistence.IsJobNotFound(err) {
			e.logger.WarnContext(ctx, "Operation job is gone", "workflow_id", wi.ID, "operation_id", op.ID, "job_id", op.JobID)

			return nil
		}

		return err
	}

	status, dispatchable, keep := operationJobStatus(wi.State, op.State, job)
	if keep {
		return nil
	}

	if job.Status == status && job.Dispatchable == dispatchable {
		return nil
	}

	job.Status = status
	job.Dispatchable = dispatchable

	if status == models.JobStatusQueued {
		job.Operation = models.JobOperationStartOperation
	}

	_, err = e.dispatcher.UpdateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to sync job %s of operation %s: %w", job.ID, op.ID, err)
	}

	return nil
}

func operationJobStatus(wfState models.WorkflowState, opState models.OperationState, job *models.Job) (models.JobStatus, bool, bool) {
	switch opState {
	case models.OperationStateSucceeded, models.OperationStateSkipped:
		return models.JobStatusFinished, false, false
	case models.OperationStateFailed:
		return models.JobStatusFailed, false, false
	case models.OperationStateRunning:
		if wfState == models.WorkflowStateStopped {
			return models.JobStatusCancelled, false, false
		}

		return models.JobStatusRunning, false, false
	case models.OperationStatePaused:
		if wfState == models.WorkflowStateStopped {
			return models.JobStatusCancelled, false, false
		}

		return models.JobStatusPaused, false, false
	case models.OperationStateInstantiated, models.OperationStateRetry:
		switch {
		case wfState.IsTerminated():
			return models.JobStatusCancelled, false, false
		case wfState == models.WorkflowStatePaused:
			return models.JobStatusPaused, false, false
		case wfState.IsRunnable():
			if job.IsDispatchable() {
				return models.JobStatusQueued, true, false
			}

			return models.JobStatusQueued, false, false
		}
	}

	return "", false, true
}

func (e *Engine) updateIndex(ctx context.Context, wi *models.WorkflowInstance) {
	if e.index == nil {
		return
	}

	if op := wi.CurrentOperation(); op != nil && op.State == models.OperationStateRunning {
		return
	}

	err := e.index.UpdateWorkflow(ctx, protocol.IndexEntry{
		MediaPackageID:       wi.MediaPackageID(),
		Organization:         wi.Organization,
		WorkflowID:           wi.ID,
		WorkflowDefinitionID: wi.DefinitionID(),
		WorkflowState:        wi.State,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to update index", "workflow_id", wi.ID, "error", err)
	}
}

// notify delivers state and operation changes to listeners and the event bus
// without blocking the caller.
func (e *Engine) notify(ctx context.Context, previous, wi *models.WorkflowInstance) {
	stateChanged := previous == nil || previous.State != wi.State
	operationChanged := operationKey(previous) != operationKey(wi)

	if !stateChanged && !operationChanged {
		return
	}

	e.listenersMu.RLock()
	listeners := append([]protocol.WorkflowListener(nil), e.listeners...)
	e.listenersMu.RUnlock()

	if len(listeners) == 0 && e.publisher == nil {
		return
	}

	snapshot := wi.Clone()

	var previousState models.WorkflowState
	if previous != nil {
		previousState = previous.State
	}

	notifyCtx := context.WithoutCancel(ctx)
	if user, ok := security.UserFrom(ctx); ok {
		notifyCtx = security.WithUser(notifyCtx, user)
	}

	e.notifications.Add(1)

	go func() {
		defer e.notifications.Done()

		for _, listener := range listeners {
			if stateChanged {
				listener.StateChanged(notifyCtx, snapshot.Clone())
			}

			if operationChanged {
				listener.OperationChanged(notifyCtx, snapshot.Clone())
			}
		}

		e.publish(notifyCtx, snapshot, previousState, stateChanged, operationChanged)
	}()
}

func (e *Engine) publish(ctx context.Context, wi *models.WorkflowInstance, previous models.WorkflowState, stateChanged, operationChanged bool) {
	if e.publisher == nil {
		return
	}

	if stateChanged {
		err := e.publisher.Publish(ctx, wi.ID, events.NewWorkflowStateChanged(wi, previous))
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish state change", "workflow_id", wi.ID, "error", err)
		}
	}

	if operationChanged {
		err := e.publisher.Publish(ctx, wi.ID, events.NewWorkflowOperationChanged(wi))
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish operation change", "workflow_id", wi.ID, "error", err)
		}
	}
}

func operationKey(wi *models.WorkflowInstance) string {
	if wi == nil {
		return ""
	}

	op := wi.CurrentOperation()
	if op == nil {
		return ""
	}

	return op.ID + ":" + string(op.State)
}
