// Package handlers provides the operation handlers shipped with mediaflow.
package handlers

import (
	"context"
	"net/http"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
)

// Templates of the built-in handlers.
const (
	DefaultsTemplate        = "defaults"
	LogTemplate             = "log"
	HTTPRequestTemplate     = "http-request"
	HoldTemplate            = "hold"
	CleanupTemplate         = "cleanup"
	ErrorResolutionTemplate = models.ErrorResolutionTemplate
)

// Registrar binds handlers to templates.
type Registrar interface {
	Register(template string, handler protocol.OperationHandler)
}

// Base implements Skip and Destroy as no-ops.
type Base struct{}

func (Base) Skip(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) (*models.OperationResult, error) {
	return models.Skip(nil), nil
}

func (Base) Destroy(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) error {
	return nil
}

// RegisterDefaults binds every built-in handler. client may be nil.
func RegisterDefaults(registrar Registrar, workspace protocol.Workspace, client *http.Client) {
	registrar.Register(DefaultsTemplate, NewDefaultsHandler())
	registrar.Register(LogTemplate, NewLogHandler())
	registrar.Register(HTTPRequestTemplate, NewHTTPRequestHandler(client))
	registrar.Register(HoldTemplate, NewHoldHandler())
	registrar.Register(ErrorResolutionTemplate, NewErrorResolutionHandler())
	registrar.Register(CleanupTemplate, NewCleanupHandler(workspace))
}
