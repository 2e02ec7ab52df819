package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locals keys set by the tracking middleware and read by handlers.
const (
	LocalRequestID = "request_id"
	LocalModel     = "model"
)

// RequestID returns the request ID assigned by the tracking middleware.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(LocalRequestID).(string); ok {
		return id
	}
	return ""
}

// SetModel records the model name for the current request so the metrics
// middleware can label it.
func SetModel(c *fiber.Ctx, model string) {
	c.Locals(LocalModel, model)
}

// RequestTracking assigns every request a unique ID for log correlation,
// measures processing time, and reflects both back to the caller via the
// X-Request-ID and X-Process-Time response headers. An inbound X-Request-ID
// is honored so IDs survive intermediary proxies.
func RequestTracking(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals(LocalRequestID, requestID)

		start := time.Now()

		logger.Info("request.started",
			zap.String("request_id", requestID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("query", string(c.Request().URI().QueryString())))

		err := c.Next()

		elapsed := time.Since(start)
		c.Set("X-Request-ID", requestID)
		c.Set("X-Process-Time", strconv.FormatFloat(elapsed.Seconds(), 'f', 4, 64))

		if err != nil {
			logger.Error("request.failed",
				zap.String("request_id", requestID),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
				zap.Duration("elapsed", elapsed))
			return err
		}

		logger.Info("request.completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("elapsed", elapsed))

		return nil
	}
}
