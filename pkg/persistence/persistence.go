// Package persistence provides the durable storage contract for workflow instances.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
)

// Store is the durable storage of workflow instances. Implementations do not check
// permissions; callers filter by organization and access control list.
type Store interface {
	// GetWorkflow returns the instance with id or ErrWorkflowNotFound.
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error)

	// Update inserts or replaces the instance.
	Update(ctx context.Context, wi *models.WorkflowInstance) error

	// Remove deletes the instance or returns ErrWorkflowNotFound.
	Remove(ctx context.Context, wi *models.WorkflowInstance) error

	// CountWorkflows counts instances in state whose current operation is operation.
	// Empty arguments match everything.
	CountWorkflows(ctx context.Context, state models.WorkflowState, operation string) (int64, error)

	// GetWorkflowInstancesByMediaPackage returns the instances of a media package, oldest first.
	GetWorkflowInstancesByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error)

	// MediaPackageHasActiveWorkflows reports whether a non-terminal instance targets the media package.
	MediaPackageHasActiveWorkflows(ctx context.Context, mediaPackageID string) (bool, error)

	// GetWorkflowInstancesForCleanup returns instances in state created before the given time.
	GetWorkflowInstancesForCleanup(ctx context.Context, state models.WorkflowState, before time.Time) ([]*models.WorkflowInstance, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// CurrentOperationTemplate returns the template of the current operation or "".
func CurrentOperationTemplate(wi *models.WorkflowInstance) string {
	if op := wi.CurrentOperation(); op != nil {
		return op.Template
	}

	return ""
}
