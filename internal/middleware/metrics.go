package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kirogate/kirogate/internal/metrics"
)

// Metrics collects per-request metrics: request count by endpoint, status
// and model, processing latency, and the number of in-flight requests.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		endpoint := c.Path()

		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		err := c.Next()

		model := "unknown"
		if m, ok := c.Locals(LocalModel).(string); ok && m != "" {
			model = m
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
			metrics.IncError("http", "handler_error")
		}

		metrics.IncRequest(endpoint, strconv.Itoa(status), model)
		metrics.ObserveDuration(metrics.RequestDuration, start, endpoint)

		return err
	}
}
