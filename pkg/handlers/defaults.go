package handlers

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// DefaultsHandler copies its operation configuration into the workflow
// configuration for every key the workflow does not set yet.
type DefaultsHandler struct {
	Base
}

func NewDefaultsHandler() *DefaultsHandler {
	return &DefaultsHandler{}
}

func (h *DefaultsHandler) Start(_ context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error) {
	defaults := make(map[string]string)

	for key, value := range op.Configuration {
		if _, set := wi.Configuration[key]; !set {
			defaults[key] = value
		}
	}

	return models.Continue(defaults), nil
}
