package protocol

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// WorkflowListener is notified asynchronously after a workflow changed.
type WorkflowListener interface {
	StateChanged(ctx context.Context, wi *models.WorkflowInstance)
	OperationChanged(ctx context.Context, wi *models.WorkflowInstance)
}
