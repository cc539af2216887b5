// Package response holds the JSON envelopes shared by the HTTP handlers.
package response

import (
	"errors"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/validation"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

// Accepted reports work that has started but has no final result yet.
func Accepted(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *fiber.Ctx) error {
	return Error(c, fiber.StatusForbidden, "Insufficient permissions")
}

// ValidationError reports field-level problems. fields may be nil.
func ValidationError(c *fiber.Ctx, message string, fields map[string]string) error {
	body := fiber.Map{"error": message, "code": apperrors.ErrInvalidRequest.Code}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// FromError writes a domain error with its own status and code. Anything
// else is reported as a bare 500 so internals do not leak.
func FromError(c *fiber.Ctx, err error) error {
	de, ok := apperrors.As(err)
	if !ok {
		return ServerError(c, "internal server error")
	}
	body := fiber.Map{"error": de.Message, "code": de.Code}
	if de.Retryable {
		body["retryable"] = true
	}
	var v *validation.Validator
	if errors.As(err, &v) && !v.Valid() {
		body["fields"] = v.Errors
	}
	return c.Status(apperrors.StatusOf(err)).JSON(body)
}
