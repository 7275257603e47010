// Package web serves the operational HTTP endpoints of a worker: liveness,
// readiness and workflow statistics.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a ping function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// StatisticsSource is implemented by the engine.
type StatisticsSource interface {
	Statistics(ctx context.Context) (*models.Statistics, error)
	Delayed() []string
}

type OpsHandlers struct {
	logger *slog.Logger
	host   string
	stats  StatisticsSource
	checks map[string]HealthChecker
}

func NewOpsHandlers(logger *slog.Logger, host string, stats StatisticsSource, checks map[string]HealthChecker) *OpsHandlers {
	return &OpsHandlers{
		logger: logger.With("module", "web"),
		host:   host,
		stats:  stats,
		checks: checks,
	}
}

// Ready answers 200 when every registered dependency is healthy.
func (h *OpsHandlers) Ready(c fiber.Ctx) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		err := h.checks[name].HealthCheck(c.Context())
		if err != nil {
			h.logger.WarnContext(c.Context(), "Readiness check failed", "dependency", name, "error", err)

			return unavailable(c, fmt.Errorf("%s: %w", name, err))
		}
	}

	return c.JSON(ReadinessResponse{
		Status:    "ready",
		Host:      h.host,
		Timestamp: time.Now().UTC(),
	})
}

func (h *OpsHandlers) Statistics(c fiber.Ctx) error {
	stats, err := h.stats.Statistics(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	delayed := h.stats.Delayed()
	slices.Sort(delayed)

	return c.JSON(StatisticsResponse{Statistics: stats, Delayed: delayed})
}
