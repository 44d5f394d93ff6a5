package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends apiErr with "success": false.
// An explicit status code overrides apiErr.Status without mutating apiErr.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, code ...int) error {
	if apiErr == nil {
		apiErr = ErrInternalServer
	}

	statusCode := apiErr.Status
	if len(code) > 0 {
		statusCode = code[0]
	}
	if statusCode == 0 {
		statusCode = fiber.StatusInternalServerError
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   apiErr,
	})
}

// FiberErrorHandler renders errors escaping handlers in the same envelope
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorResponse(c, apiErr)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound:
			return ErrorResponse(c, ErrNotFound)
		case fiber.StatusTooManyRequests:
			return ErrorResponse(c, ErrTooManyRequest)
		}
		return ErrorResponse(c, NewAPIError("HTTP_ERROR", fe.Message, fe.Code))
	}

	return ErrorResponse(c, ErrInternalServer)
}
