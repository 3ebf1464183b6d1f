package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gymops/automation/pkg/services"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func forbidden(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusForbidden).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

// internalError never exposes err to the caller.
func internalError(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithDetail("the request could not be processed, retry later")

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// validationProblem lists each payload error under "errors".
type validationProblem struct {
	*problems.Problem

	Errors []string `json:"errors"`
}

// handleServiceError maps service errors to problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	if limited, ok := services.AsRateLimitError(err); ok {
		seconds := int(limited.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}

		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))

		problem := problems.NewStatusProblem(fiber.StatusTooManyRequests).
			WithInstance(c.Path()).
			WithType("rate_limited").
			WithDetail("too many requests, retry after " + strconv.Itoa(seconds) + " seconds")

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)
	}

	if invalid, ok := services.AsValidationError(err); ok {
		problem := problems.NewStatusProblem(fiber.StatusBadRequest).
			WithInstance(c.Path()).
			WithType("invalid_payload").
			WithDetail("payload failed validation")

		return c.Status(fiber.StatusBadRequest).JSON(validationProblem{Problem: problem, Errors: invalid.Errors})
	}

	switch {
	case errors.Is(err, services.ErrMissingIdentity):
		return badRequest(c, "x-organization-id and x-webhook-id are required")

	case errors.Is(err, services.ErrMalformedPayload):
		problem := problems.NewStatusProblem(fiber.StatusBadRequest).
			WithInstance(c.Path()).
			WithType("malformed_payload").
			WithDetail("request body is not valid JSON")

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsUnauthorizedError(err):
		problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
			WithInstance(c.Path()).
			WithType("invalid_signature").
			WithDetail("signature verification failed")

		return c.Status(fiber.StatusUnauthorized).JSON(problem)

	case services.IsForbiddenError(err):
		return forbidden(c, "webhook_disabled", "webhook is disabled")

	case errors.Is(err, services.ErrWebhookNotFound):
		return notFound(c, "webhook_not_found", "webhook not found")

	case errors.Is(err, services.ErrExecutionMissing):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, services.ErrEventMissing):
		return notFound(c, "event_not_found", "event not found")

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(fiber.StatusConflict).
			WithInstance(c.Path()).
			WithType("execution_finished").
			WithDetail("execution already finished")

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c)
	}
}

// errorHandler renders errors that escape the handlers, such as unknown routes.
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if code >= fiber.StatusInternalServerError {
		return internalError(c)
	}

	problem := problems.NewStatusProblem(code).
		WithInstance(c.Path()).
		WithType("http_error").
		WithDetail(fiberErr.Message)

	return c.Status(code).JSON(problem)
}
