package handlers

import (
	"context"
	"log/slog"

	mflog "github.com/dukex/mediaflow/pkg/log"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/template"
)

// LogHandler writes the rendered "message" configuration to the job logger at
// the level named by "level".
type LogHandler struct {
	Base
}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

func (h *LogHandler) Start(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error) {
	message, err := template.RenderOperation(op.Config("message"), wi, op)
	if err != nil {
		return nil, err
	}

	logger := mflog.FromContext(ctx).With("handler", LogTemplate)
	logger.Log(ctx, logLevel(op.Config("level")), message,
		"workflow_id", wi.ID,
		"media_package", wi.MediaPackageID(),
		"state", wi.State,
	)

	return models.Continue(nil), nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
