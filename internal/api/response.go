package api

import (
	"github.com/gofiber/fiber/v2"
)

// Version is reported by / and /health.
const Version = "1.0.0"

// openAIError is the error envelope served on /v1/* routes, matching what
// OpenAI SDK clients expect to parse.
type openAIError struct {
	Error openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func errorJSON(c *fiber.Ctx, status int, message, errType string) error {
	return c.Status(status).JSON(openAIError{
		Error: openAIErrorBody{
			Message: message,
			Type:    errType,
			Code:    status,
		},
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusBadRequest, message, "invalid_request_error")
}

func upstreamFailure(c *fiber.Ctx, status int, message string) error {
	errType := "api_error"
	switch status {
	case fiber.StatusTooManyRequests:
		errType = "rate_limit_exceeded"
	case fiber.StatusUnauthorized, fiber.StatusForbidden:
		errType = "authentication_error"
	}
	return errorJSON(c, status, message, errType)
}

func rateLimited(c *fiber.Ctx) error {
	return errorJSON(c, fiber.StatusTooManyRequests,
		"Rate limit exceeded, please slow down", "rate_limit_exceeded")
}
