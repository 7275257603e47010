package web

import (
	"errors"

	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func unavailable(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
		WithInstance(c.Path()).
		WithType("not_ready").
		WithError(err)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

// handleEngineError maps engine errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	kind := "internal_error"

	switch {
	case engine.IsNotFound(err):
		status, kind = fiber.StatusNotFound, "not_found"
	case engine.IsUnauthorized(err):
		status, kind = fiber.StatusForbidden, "forbidden"
	case errors.Is(err, engine.ErrIllegalState), errors.Is(err, engine.ErrActiveWorkflowExists):
		status, kind = fiber.StatusConflict, "conflict"
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem)
}
