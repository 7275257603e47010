package protocol

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// IndexEntry is the reduced workflow projection written to the search index.
type IndexEntry struct {
	MediaPackageID       string
	Organization         string
	WorkflowID           string
	WorkflowDefinitionID string
	WorkflowState        models.WorkflowState
}

// Index is the search index the engine keeps in sync with workflow instances.
type Index interface {
	// UpdateWorkflow upserts the workflow fields of the media package document.
	UpdateWorkflow(ctx context.Context, entry IndexEntry) error

	// RemoveWorkflow clears the workflow fields without deleting the document,
	// provided they still describe workflowID.
	RemoveWorkflow(ctx context.Context, organization, mediaPackageID, workflowID string) error
}
