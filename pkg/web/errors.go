package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/veridianhq/veridian/pkg/services"
)

// respond wraps a success payload in the response envelope.
func respond(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data})
}

// respondProblem wraps a problem in the failure envelope, keeping the problem
// object itself inside errors[].
func respondProblem(c fiber.Ctx, problem *problems.Problem) error {
	return c.Status(problem.Status).JSON(Envelope{
		Success: false,
		Message: problem.Detail,
		Errors:  []*problems.Problem{problem},
	})
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return respondProblem(c, problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return respondProblem(c, problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return respondProblem(c, problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	var validationErr *services.ValidationFailedError

	switch {
	case services.IsNotFoundError(err):
		return notFound(c, "Workflow definition not found")

	case services.IsGraphValidationError(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("graph_validation_failed").
			WithDetail(err.Error())

		// Attach the full validator output so editors can annotate nodes.
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(Envelope{
				Success: false,
				Message: problem.Detail,
				Errors:  []*problems.Problem{problem},
				Data:    fiber.Map{"validation": validationErr.Result},
			})
		}

		return respondProblem(c, problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return respondProblem(c, problem)

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
