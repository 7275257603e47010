package engine

import (
	"context"
	"fmt"
	"maps"

	"dario.cat/mergo"
	"github.com/dukex/mediaflow/pkg/models"
)

// runNext advances wi to its current operation, or completes it when no operation
// is left. The caller holds the workflow lock.
func (e *Engine) runNext(ctx context.Context, wi *models.WorkflowInstance) error {
	op := wi.CurrentOperation()
	if op == nil {
		return e.complete(ctx, wi)
	}

	if op.JobID == "" {
		job, err := e.dispatcher.CreateJob(ctx, models.JobTypeWorkflow, models.JobOperationStartOperation, []string{wi.ID, op.ID}, "", false)
		if err != nil {
			return fmt.Errorf("failed to create job for operation %s: %w", op.ID, err)
		}

		op.JobID = job.ID
	}

	err := e.update(ctx, wi)
	if err != nil {
		return err
	}

	return e.dispatchOperation(ctx, wi, op)
}

func (e *Engine) complete(ctx context.Context, wi *models.WorkflowInstance) error {
	trigger := models.TriggerSucceed
	if wi.State == models.WorkflowStateFailing || wi.HasFailedOperationFailingWorkflow() {
		trigger = models.TriggerFail
	}

	err := wi.Fire(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	}

	err = e.update(ctx, wi)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow completed", "workflow_id", wi.ID, "state", wi.State)

	return nil
}

// dispatchOperation makes the job of op eligible for dispatch.
func (e *Engine) dispatchOperation(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) error {
	job, err := e.dispatcher.GetJob(ctx, op.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job of operation %s: %w", op.ID, err)
	}

	if job.IsDispatchable() {
		return nil
	}

	job.Operation = models.JobOperationStartOperation
	job.Arguments = []string{wi.ID, op.ID}
	job.Payload = ""
	job.Status = models.JobStatusQueued
	job.Dispatchable = true
	job.ProcessingHost = ""

	_, err = e.dispatcher.UpdateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to dispatch operation %s: %w", op.ID, err)
	}

	e.logger.DebugContext(ctx, "Dispatched operation", "workflow_id", wi.ID, "operation_id", op.ID, "template", op.Template, "job_id", job.ID)

	return nil
}

// handleOperationResult records what a handler returned for a running operation
// and moves the workflow on.
func (e *Engine) handleOperationResult(ctx context.Context, workflowID, operationID string, result *models.OperationResult) (*models.WorkflowInstance, error) {
	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	op := wi.Operation(operationID)

	switch {
	case wi.State.IsTerminated():
		e.logger.InfoContext(ctx, "Ignoring result of operation of completed workflow", "workflow_id", wi.ID, "operation_id", operationID, "state", wi.State)

		return wi, nil
	case op == nil || op.State != models.OperationStateRunning:
		e.logger.WarnContext(ctx, "Ignoring stale operation result", "workflow_id", wi.ID, "operation_id", operationID)

		return wi, nil
	}

	now := models.Now()

	switch result.Action {
	case models.ActionContinue:
		op.State = models.OperationStateSucceeded
		op.DateCompleted = &now
	case models.ActionSkip:
		op.State = models.OperationStateSkipped
		op.DateCompleted = &now
	case models.ActionPause:
		op.State = models.OperationStatePaused
		op.Continuable = result.AllowContinue
		op.Abortable = result.AllowAbort

		err = wi.Fire(ctx, models.TriggerPause)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIllegalState, err)
		}
	default:
		return nil, illegalState("operation %s returned unknown action %q", op.ID, result.Action)
	}

	err = mergeProperties(wi, result.Properties)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "Operation finished", "workflow_id", wi.ID, "operation_id", op.ID, "template", op.Template, "action", result.Action)

	if wi.State.IsRunnable() {
		err = e.runNext(ctx, wi)
	} else {
		err = e.update(ctx, wi)
	}

	if err != nil {
		return nil, err
	}

	return wi, nil
}

// handleOperationException applies the retry strategy of a failed operation.
func (e *Engine) handleOperationException(ctx context.Context, workflowID, operationID string, cause error) (*models.WorkflowInstance, error) {
	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	op := wi.Operation(operationID)

	switch {
	case wi.State.IsTerminated():
		e.logger.InfoContext(ctx, "Ignoring failure of operation of completed workflow", "workflow_id", wi.ID, "operation_id", operationID, "error", cause)

		return wi, nil
	case op == nil || op.State != models.OperationStateRunning:
		e.logger.WarnContext(ctx, "Ignoring stale operation failure", "workflow_id", wi.ID, "operation_id", operationID, "error", cause)

		return wi, nil
	}

	now := models.Now()
	op.FailedAttempts++
	op.State = models.OperationStateFailed
	op.DateCompleted = &now

	e.logger.WarnContext(ctx, "Operation failed",
		"workflow_id", wi.ID,
		"operation_id", op.ID,
		"template", op.Template,
		"attempt", op.FailedAttempts,
		"max_attempts", op.MaxAttempts,
		"retry_strategy", op.RetryStrategy,
		"error", cause,
	)

	switch {
	case IsConfigurationError(cause):
		err = e.handleFailedOperation(ctx, wi, op)
	case op.Template == models.ErrorResolutionTemplate:
		err = e.handleFailedResolution(ctx, wi, op)
	case op.FailedAttempts >= op.MaxAttempts:
		err = e.handleFailedOperation(ctx, wi, op)
	case op.RetryStrategy == models.RetryStrategyRetry:
		op.State = models.OperationStateRetry
		op.DateCompleted = nil
	case op.RetryStrategy == models.RetryStrategyHold:
		op.State = models.OperationStateRetry
		op.DateCompleted = nil
		wi.InsertBefore(op.ID, models.NewErrorResolutionOperation(op))
	default:
		err = e.handleFailedOperation(ctx, wi, op)
	}

	if err != nil {
		return nil, err
	}

	if wi.State.IsRunnable() {
		err = e.runNext(ctx, wi)
	} else {
		err = e.update(ctx, wi)
	}

	if err != nil {
		return nil, err
	}

	return wi, nil
}

// handleFailedResolution fails the held operation that follows an error
// resolution the operator did not retry.
func (e *Engine) handleFailedResolution(ctx context.Context, wi *models.WorkflowInstance, resolution *models.OperationInstance) error {
	idx := wi.IndexOf(resolution.ID)
	if idx+1 >= len(wi.Operations) {
		return e.handleFailedOperation(ctx, wi, resolution)
	}

	held := wi.Operations[idx+1]
	now := models.Now()
	held.State = models.OperationStateFailed
	held.DateCompleted = &now

	return e.handleFailedOperation(ctx, wi, held)
}

// handleFailedOperation decides the fate of the workflow after op failed for
// good. Operations that do not fail the workflow let it continue.
func (e *Engine) handleFailedOperation(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) error {
	if !op.FailOnError {
		return nil
	}

	if op.ExceptionHandlingWorkflow == "" || handlingException(wi, op) {
		return e.fire(ctx, wi, models.TriggerFail)
	}

	def, err := e.definitions.ResolveForOrganization(wi.Organization, op.ExceptionHandlingWorkflow)
	if err != nil {
		e.logger.ErrorContext(ctx, "Exception handling workflow is not available",
			"workflow_id", wi.ID,
			"exception_workflow", op.ExceptionHandlingWorkflow,
			"error", err,
		)

		return e.fire(ctx, wi, models.TriggerFail)
	}

	err = e.fire(ctx, wi, models.TriggerFailing)
	if err != nil {
		return err
	}

	wi.TruncateAfter(op.ID)

	for _, opDef := range def.Operations {
		catchOp := models.NewOperationInstance(opDef)

		config := maps.Clone(wi.Configuration)
		if config == nil {
			config = make(map[string]string, len(opDef.Configuration))
		}

		err := mergo.Merge(&config, opDef.Configuration)
		if err != nil {
			return fmt.Errorf("failed to configure exception handling operation %s: %w", opDef.Template, err)
		}

		catchOp.Configuration = config
		wi.Append(catchOp)
	}

	e.logger.InfoContext(ctx, "Running exception handling workflow",
		"workflow_id", wi.ID,
		"exception_workflow", def.ID,
		"operations", len(def.Operations),
	)

	return nil
}

// handlingException reports whether wi already runs an exception handling
// workflow when op fails. A resumed workflow leaves FAILING for RUNNING, so an
// earlier operation that failed the workflow marks it too.
func handlingException(wi *models.WorkflowInstance, op *models.OperationInstance) bool {
	if wi.State == models.WorkflowStateFailing {
		return true
	}

	for _, earlier := range wi.Operations[:max(wi.IndexOf(op.ID), 0)] {
		if earlier.State == models.OperationStateFailed && earlier.FailOnError {
			return true
		}
	}

	return false
}

func (e *Engine) fire(ctx context.Context, wi *models.WorkflowInstance, trigger models.WorkflowTrigger) error {
	err := wi.Fire(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	}

	return nil
}
