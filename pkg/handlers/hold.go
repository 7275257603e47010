package handlers

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// HoldHandler pauses the workflow until it is resumed. The resume properties
// are merged into the workflow configuration.
type HoldHandler struct {
	Base
}

func NewHoldHandler() *HoldHandler {
	return &HoldHandler{}
}

func (h *HoldHandler) Start(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) (*models.OperationResult, error) {
	return models.Pause(nil), nil
}

func (h *HoldHandler) Resume(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance, properties map[string]string) (*models.OperationResult, error) {
	return models.Continue(properties), nil
}
