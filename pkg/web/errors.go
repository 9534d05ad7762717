package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/refund-approvals/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType(services.CodeValidation).
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps the service error taxonomy onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var status int

	switch {
	case services.IsValidationError(err):
		status = fiber.StatusBadRequest
	case services.IsPermissionDenied(err):
		status = fiber.StatusForbidden
	case services.IsNotFound(err):
		status = fiber.StatusNotFound
	case services.IsConflictError(err):
		status = fiber.StatusConflict
	default:
		// Don't expose details of unexpected errors
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType(services.CodeInternal).
			WithDetail("internal error")

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(services.ErrorCode(err)).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem)
}
