package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/otelhelper"
	"github.com/dukex/mediaflow/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// Worker executes the current operation of a workflow through its handler and
// hands the outcome back to the engine.
type Worker struct {
	engine *Engine
	logger *slog.Logger
}

func newWorker(e *Engine) *Worker {
	return &Worker{
		engine: e,
		logger: e.logger.With("component", "worker"),
	}
}

// Execute runs the current operation of snapshot. Operations waiting to run are
// started; paused operations are resumed with properties. Handler failures are
// applied to the workflow and do not surface as errors.
func (w *Worker) Execute(ctx context.Context, snapshot *models.WorkflowInstance, properties map[string]string) (*models.WorkflowInstance, error) {
	op := snapshot.CurrentOperation()
	if op == nil {
		return nil, illegalState("workflow %s has no operation to execute", snapshot.ID)
	}

	ctx, span := otelhelper.StartSpan(ctx, w.engine.tracer, "engine.worker.execute",
		attribute.String(otelhelper.WorkflowIDKey, snapshot.ID),
		attribute.String(otelhelper.WorkflowDefinitionIDKey, snapshot.DefinitionID()),
		attribute.String(otelhelper.MediaPackageIDKey, snapshot.MediaPackageID()),
		attribute.String(otelhelper.OperationIDKey, op.ID),
		attribute.String(otelhelper.OperationTemplateKey, op.Template),
	)
	defer span.End()

	var (
		wi  *models.WorkflowInstance
		err error
	)

	switch op.State {
	case models.OperationStateInstantiated, models.OperationStateRetry:
		wi, err = w.start(ctx, snapshot, op)
	case models.OperationStatePaused:
		wi, err = w.resume(ctx, snapshot, op, properties)
	default:
		err = illegalState("operation %s of workflow %s is %s", op.ID, snapshot.ID, op.State)
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return wi, err
}

func (w *Worker) start(ctx context.Context, snapshot *models.WorkflowInstance, op *models.OperationInstance) (*models.WorkflowInstance, error) {
	wi, ok, err := w.beginOperation(ctx, snapshot.ID, op.ID)
	if err != nil || !ok {
		return wi, err
	}

	running := wi.Operation(op.ID)

	execute, err := shouldExecute(running, wi.Configuration)
	if err != nil {
		return w.engine.handleOperationException(ctx, wi.ID, running.ID, w.operationError(wi, running, err))
	}

	handler, lookupErr := w.engine.handlers.Lookup(running.Template)

	if !execute {
		w.logger.DebugContext(ctx, "Skipping operation", "workflow_id", wi.ID, "operation_id", running.ID, "template", running.Template)

		if lookupErr != nil {
			return w.complete(ctx, wi, running, nil, models.Skip(nil), nil)
		}

		result, err := handler.Skip(ctx, wi.Clone(), running.Clone())
		if result == nil {
			result = models.Skip(nil)
		}

		result.Action = models.ActionSkip

		return w.complete(ctx, wi, running, handler, result, err)
	}

	if lookupErr != nil {
		return w.engine.handleOperationException(ctx, wi.ID, running.ID, w.operationError(wi, running, lookupErr))
	}

	w.logger.DebugContext(ctx, "Starting operation", "workflow_id", wi.ID, "operation_id", running.ID, "template", running.Template)

	result, err := handler.Start(ctx, wi.Clone(), running.Clone())

	return w.complete(ctx, wi, running, handler, result, err)
}

func (w *Worker) resume(ctx context.Context, snapshot *models.WorkflowInstance, op *models.OperationInstance, properties map[string]string) (*models.WorkflowInstance, error) {
	handler, err := w.engine.handlers.Lookup(op.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resume operation %s: %w", ErrIllegalState, op.ID, err)
	}

	resumable, ok := handler.(protocol.ResumableOperationHandler)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotResumable, op.Template)
	}

	wi, ok, err := w.beginOperation(ctx, snapshot.ID, op.ID)
	if err != nil || !ok {
		return wi, err
	}

	running := wi.Operation(op.ID)

	w.logger.DebugContext(ctx, "Resuming operation", "workflow_id", wi.ID, "operation_id", running.ID, "template", running.Template)

	result, err := resumable.Resume(ctx, wi.Clone(), running.Clone(), properties)

	return w.complete(ctx, wi, running, handler, result, err)
}

func (w *Worker) complete(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance, handler protocol.OperationHandler, result *models.OperationResult, err error) (*models.WorkflowInstance, error) {
	if err != nil {
		return w.engine.handleOperationException(ctx, wi.ID, op.ID, w.operationError(wi, op, err))
	}

	if result == nil {
		result = models.Continue(nil)
	}

	if handler != nil && (result.Action == models.ActionContinue || result.Action == models.ActionSkip) {
		err := handler.Destroy(ctx, wi.Clone(), op.Clone())
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to release operation resources", "workflow_id", wi.ID, "operation_id", op.ID, "error", err)
		}
	}

	return w.engine.handleOperationResult(ctx, wi.ID, op.ID, result)
}

// beginOperation marks the operation RUNNING if it is still the current
// operation of a runnable workflow. ok is false for stale requests.
func (w *Worker) beginOperation(ctx context.Context, workflowID, operationID string) (*models.WorkflowInstance, bool, error) {
	e := w.engine

	unlock := e.workflowLocks.Lock(workflowID)
	defer unlock()

	wi, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}

	current := wi.CurrentOperation()

	if !wi.State.IsRunnable() || current == nil || current.ID != operationID {
		w.logger.InfoContext(ctx, "Operation is no longer due", "workflow_id", wi.ID, "operation_id", operationID, "state", wi.State)

		return wi, false, nil
	}

	now := models.Now()
	current.State = models.OperationStateRunning
	current.DateStarted = &now
	current.DateCompleted = nil
	current.ExecutionHost = e.host
	current.Continuable = false
	current.Abortable = false

	err = e.update(ctx, wi)
	if err != nil {
		return nil, false, err
	}

	return wi.Clone(), true, nil
}

func (w *Worker) operationError(wi *models.WorkflowInstance, op *models.OperationInstance, err error) error {
	return &OperationError{
		WorkflowID:  wi.ID,
		OperationID: op.ID,
		Template:    op.Template,
		Err:         err,
	}
}

// shouldExecute evaluates the if and unless conditions of op.
func shouldExecute(op *models.OperationInstance, configuration map[string]string) (bool, error) {
	execute, err := models.EvaluateCondition(op.ExecuteCondition, configuration)
	if err != nil || !execute {
		return false, err
	}

	if op.SkipCondition == "" {
		return true, nil
	}

	skip, err := models.EvaluateCondition(op.SkipCondition, configuration)
	if err != nil {
		return false, err
	}

	return !skip, nil
}
