// Package protocol defines the capabilities the workflow engine consumes and offers.
package protocol

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// OperationHandler implements the behavior of one operation template.
type OperationHandler interface {
	// Start executes the operation. A returned error fails the operation.
	Start(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error)

	// Skip is called instead of Start when the operation's conditions exclude it.
	Skip(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error)

	// Destroy releases whatever the operation held once it continued or was skipped.
	Destroy(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) error
}

// ResumableOperationHandler is implemented by handlers whose operations may pause.
type ResumableOperationHandler interface {
	OperationHandler

	// Resume continues a paused operation with the properties supplied by the caller of resume.
	Resume(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance, properties map[string]string) (*models.OperationResult, error)
}

// SchemaProvider is implemented by handlers that publish a JSON schema for their configuration.
type SchemaProvider interface {
	Schema() map[string]any
}
