package handlers

import (
	"context"
	"errors"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
)

// ErrNoWorkspace is returned by CleanupHandler when no workspace is configured.
var ErrNoWorkspace = errors.New("no workspace configured")

// CleanupHandler removes the temporary artifacts of the media package.
type CleanupHandler struct {
	Base

	workspace protocol.Workspace
}

func NewCleanupHandler(workspace protocol.Workspace) *CleanupHandler {
	return &CleanupHandler{workspace: workspace}
}

func (h *CleanupHandler) Start(ctx context.Context, wi *models.WorkflowInstance, _ *models.OperationInstance) (*models.OperationResult, error) {
	if h.workspace == nil {
		return nil, ErrNoWorkspace
	}

	err := h.workspace.CleanupMediaPackage(ctx, wi.MediaPackageID())
	if err != nil {
		return nil, err
	}

	return models.Continue(nil), nil
}
