package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/mediaflow/pkg/models"
)

// ErrResolutionDeclined is returned when the operator did not ask for a retry.
var ErrResolutionDeclined = errors.New("operator declined to retry the failed operation")

// ErrorResolutionHandler holds a workflow after an operation failed under the
// HOLD strategy. Resuming with retryStrategy=RETRY retries the operation; any
// other decision fails it.
type ErrorResolutionHandler struct {
	Base
}

func NewErrorResolutionHandler() *ErrorResolutionHandler {
	return &ErrorResolutionHandler{}
}

func (h *ErrorResolutionHandler) Start(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) (*models.OperationResult, error) {
	result := models.Pause(nil)
	result.AllowContinue = true
	result.AllowAbort = true

	return result, nil
}

func (h *ErrorResolutionHandler) Resume(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance, properties map[string]string) (*models.OperationResult, error) {
	strategy := models.RetryStrategy(properties[models.RetryStrategyProperty])

	switch strategy {
	case models.RetryStrategyRetry:
		return models.Continue(nil), nil
	case models.RetryStrategyNone, "":
		return nil, ErrResolutionDeclined
	default:
		return nil, fmt.Errorf("%w: unsupported retry strategy %q", ErrResolutionDeclined, strategy)
	}
}
