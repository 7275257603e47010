package engine

import (
	"context"
	"fmt"
	"log/slog"

	mflog "github.com/dukex/mediaflow/pkg/log"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/otelhelper"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/security"
	"go.opentelemetry.io/otel/attribute"
)

// Runner processes one workflow job: it restores the identity of the job owner
// and advances the workflow by at most one operation.
type Runner struct {
	engine *Engine
	logger *slog.Logger
}

func newRunner(e *Engine) *Runner {
	return &Runner{
		engine: e,
		logger: e.logger.With("component", "runner"),
	}
}

// Call processes job. A returned error means the job failed; the workflow it
// belongs to is failed as well.
func (r *Runner) Call(ctx context.Context, job *models.Job) (string, error) {
	workflowID := jobWorkflowID(job)

	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "engine.runner.call",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobOperationKey, string(job.Operation)),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.HostKey, r.engine.host),
	)
	defer span.End()

	logger := r.logger.With("job_id", job.ID, "workflow_id", workflowID, "operation", job.Operation)
	ctx = mflog.WithLogger(ctx, logger)

	err := r.call(ctx, job, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Workflow job failed", "error", err)
		r.fail(ctx, job, workflowID)

		return "", fmt.Errorf("workflow job %s failed: %w", job.ID, err)
	}

	return "", nil
}

func (r *Runner) call(ctx context.Context, job *models.Job, workflowID string) error {
	if workflowID == "" {
		return fmt.Errorf("%w: job %s names no workflow", ErrInvalidJob, job.ID)
	}

	user, err := r.engine.users.LoadUser(ctx, job.Organization, job.Creator)
	if err != nil {
		return fmt.Errorf("failed to load owner %q of job %s: %w", job.Creator, job.ID, err)
	}

	ctx = security.WithUser(ctx, user)

	switch job.Operation {
	case models.JobOperationStartWorkflow:
		return r.startWorkflow(ctx, workflowID)
	case models.JobOperationStartOperation:
		return r.startOperation(ctx, job, workflowID)
	case models.JobOperationResume:
		return r.resume(ctx, job, workflowID)
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, job.Operation)
	}
}

// startWorkflow moves an instantiated workflow to RUNNING and schedules its
// first operation. A running workflow whose operation job was lost gets it requeued.
func (r *Runner) startWorkflow(ctx context.Context, workflowID string) error {
	e := r.engine

	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		return err
	}

	switch wi.State {
	case models.WorkflowStateInstantiated:
		err = e.fire(ctx, wi, models.TriggerStart)
		if err != nil {
			return err
		}

		return e.runNext(ctx, wi)
	case models.WorkflowStateRunning, models.WorkflowStateFailing:
		live, err := r.hasLiveOperationJob(ctx, wi)
		if err != nil || live {
			return err
		}

		r.logger.InfoContext(ctx, "Requeueing stale operation of running workflow", "workflow_id", wi.ID)

		return e.runNext(ctx, wi)
	default:
		r.logger.DebugContext(ctx, "Workflow does not need to be started", "workflow_id", wi.ID, "state", wi.State)

		return nil
	}
}

func (r *Runner) hasLiveOperationJob(ctx context.Context, wi *models.WorkflowInstance) (bool, error) {
	op := wi.CurrentOperation()
	if op == nil || op.JobID == "" {
		return false, nil
	}

	job, err := r.engine.dispatcher.GetJob(ctx, op.JobID)
	if err != nil {
		if persistence.IsJobNotFound(err) {
			op.JobID = ""

			return false, nil
		}

		return false, err
	}

	return job.Status == models.JobStatusRunning || job.IsDispatchable(), nil
}

func (r *Runner) startOperation(ctx context.Context, job *models.Job, workflowID string) error {
	operationID := job.Argument(1)
	if operationID == "" {
		return fmt.Errorf("%w: job %s names no operation", ErrInvalidJob, job.ID)
	}

	snapshot, err := r.snapshot(ctx, workflowID, operationID, nil, false)
	if err != nil || snapshot == nil {
		return err
	}

	_, err = r.engine.worker.Execute(ctx, snapshot, nil)

	return err
}

// resume continues a paused operation with the properties carried by the job.
func (r *Runner) resume(ctx context.Context, job *models.Job, workflowID string) error {
	operationID := job.Argument(1)
	if operationID == "" {
		return fmt.Errorf("%w: job %s names no operation", ErrInvalidJob, job.ID)
	}

	properties, err := models.DecodeProperties(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	snapshot, err := r.snapshot(ctx, workflowID, operationID, properties, true)
	if err != nil || snapshot == nil {
		return err
	}

	_, err = r.engine.worker.Execute(ctx, snapshot, properties)

	return err
}

// snapshot returns a copy of the workflow prepared for the worker, or nil when
// the operation is no longer due. When resuming, a workflow still PAUSED is
// resumed first and a paused operation is kept paused for the worker to resume.
func (r *Runner) snapshot(ctx context.Context, workflowID, operationID string, properties map[string]string, resuming bool) (*models.WorkflowInstance, error) {
	e := r.engine

	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if resuming && wi.State == models.WorkflowStatePaused {
		err = mergeProperties(wi, properties)
		if err != nil {
			return nil, err
		}

		err = e.fire(ctx, wi, models.TriggerResume)
		if err != nil {
			return nil, err
		}

		err = e.update(ctx, wi)
		if err != nil {
			return nil, err
		}
	}

	op := wi.Operation(operationID)
	if op == nil {
		r.logger.WarnContext(ctx, "Job refers to an unknown operation", "workflow_id", wi.ID, "operation_id", operationID)

		return nil, nil
	}

	current := wi.CurrentOperation()
	if !wi.State.IsRunnable() || current == nil || current.ID != operationID {
		r.logger.InfoContext(ctx, "Operation is not due, syncing its job", "workflow_id", wi.ID, "operation_id", operationID, "state", wi.State)

		return nil, e.syncOperationJob(ctx, wi, op)
	}

	snapshot := wi.Clone()
	snapOp := snapshot.Operation(operationID)

	switch {
	case snapOp.State == models.OperationStateRunning:
		snapOp.State = models.OperationStateInstantiated
	case snapOp.State == models.OperationStatePaused && !resuming:
		snapOp.State = models.OperationStateInstantiated
	}

	return snapshot, nil
}

// fail marks the job and its workflow FAILED after a fault the workflow cannot recover from.
func (r *Runner) fail(ctx context.Context, job *models.Job, workflowID string) {
	e := r.engine

	current, err := e.dispatcher.GetJob(ctx, job.ID)
	if err == nil {
		current.Status = models.JobStatusFailed
		current.Dispatchable = false

		_, err = e.dispatcher.UpdateJob(ctx, current)
	}

	if err != nil && !persistence.IsJobNotFound(err) {
		r.logger.ErrorContext(ctx, "Failed to mark job failed", "job_id", job.ID, "error", err)
	}

	if workflowID == "" {
		return
	}

	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		if !persistence.IsWorkflowNotFound(err) {
			r.logger.ErrorContext(ctx, "Failed to load workflow of failed job", "workflow_id", workflowID, "error", err)
		}

		return
	}

	if wi.State.IsTerminated() {
		return
	}

	if op := wi.CurrentOperation(); op != nil {
		now := models.Now()
		op.State = models.OperationStateFailed
		op.DateCompleted = &now
	}

	err = e.fire(ctx, wi, models.TriggerFail)
	if err == nil {
		err = e.update(ctx, wi)
	}

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to fail workflow", "workflow_id", wi.ID, "inconsistency", true, "error", err)
	}
}

func jobWorkflowID(job *models.Job) string {
	if job.Operation == models.JobOperationStartWorkflow {
		return job.ID
	}

	return job.Argument(0)
}
