package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/internal/middleware"
	"github.com/kirogate/kirogate/internal/rate"
	"github.com/kirogate/kirogate/internal/upstream"
	"github.com/kirogate/kirogate/pkg/model"
)

// ChatService is the upstream completion surface the handlers proxy to.
type ChatService interface {
	CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*http.Response, error)
}

// ModelSource serves the cached model list.
type ModelSource interface {
	Models(ctx context.Context) []model.ModelInfo
	Size() int
	LastUpdate() time.Time
}

// TokenStatus reports upstream credential health without side effects.
type TokenStatus interface {
	Valid() bool
}

// HealthChecker pings the backing stores.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// UsageRecorder prices and persists completed requests.
type UsageRecorder interface {
	Record(ctx context.Context, requestID, endpoint, modelID string, userID int64, u model.Usage, streamed bool, status int)
}

// Handler serves the proxy surface: root, health, models and completions.
type Handler struct {
	Logger *zap.Logger
	Chat   ChatService
	Models ModelSource
	Tokens TokenStatus
	Store  HealthChecker
	Usage  UsageRecorder
}

// Root reports service identity.
func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "KiroGate is running",
		"version": Version,
	})
}

// Health reports detailed gateway health. Degraded storage turns the
// status to 503 so orchestrators recycle the instance.
func (h *Handler) Health(c *fiber.Ctx) error {
	status := fiber.StatusOK
	overall := "healthy"

	var storeStatus string
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.Store.HealthCheck(ctx); err != nil {
			storeStatus = err.Error()
			overall = "degraded"
			status = fiber.StatusServiceUnavailable
		} else {
			storeStatus = "ok"
		}
	} else {
		storeStatus = "disabled"
	}

	var lastUpdate string
	if !h.Models.LastUpdate().IsZero() {
		lastUpdate = h.Models.LastUpdate().UTC().Format(time.RFC3339)
	}

	return c.Status(status).JSON(fiber.Map{
		"status":      overall,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"version":     Version,
		"token_valid": h.Tokens.Valid(),
		"model_cache": fiber.Map{
			"size":        h.Models.Size(),
			"last_update": lastUpdate,
		},
		"store": storeStatus,
	})
}

// ListModels serves the cached model list in OpenAI format.
func (h *Handler) ListModels(c *fiber.Ctx) error {
	return c.JSON(model.ModelList{
		Object: "list",
		Data:   h.Models.Models(c.UserContext()),
	})
}

// ChatCompletions proxies OpenAI-format requests upstream.
func (h *Handler) ChatCompletions(c *fiber.Ctx) error {
	var req model.ChatCompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	middleware.SetModel(c, req.Model)

	if req.Stream {
		return h.streamChat(c, &req)
	}

	resp, err := h.Chat.CreateChatCompletion(c.UserContext(), &req)
	if err != nil {
		return h.upstreamError(c, "/v1/chat/completions", req.Model, err)
	}

	h.recordUsage(c, "/v1/chat/completions", req.Model, resp.Usage, false, fiber.StatusOK)
	return c.JSON(resp)
}

// Messages proxies Anthropic-format requests by converting to the OpenAI
// form both ways.
func (h *Handler) Messages(c *fiber.Ctx) error {
	var req model.AnthropicMessagesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	middleware.SetModel(c, req.Model)

	converted := upstream.AnthropicToOpenAI(&req)

	if req.Stream {
		return h.streamMessages(c, converted)
	}

	resp, err := h.Chat.CreateChatCompletion(c.UserContext(), converted)
	if err != nil {
		return h.upstreamError(c, "/v1/messages", req.Model, err)
	}

	h.recordUsage(c, "/v1/messages", req.Model, resp.Usage, false, fiber.StatusOK)
	return c.JSON(upstream.OpenAIToAnthropic(resp))
}

// streamChat passes the upstream SSE stream through unchanged, watching
// the chunks for the final usage block.
func (h *Handler) streamChat(c *fiber.Ctx, req *model.ChatCompletionRequest) error {
	upstreamResp, err := h.Chat.StreamChatCompletion(c.UserContext(), req)
	if err != nil {
		return h.upstreamError(c, "/v1/chat/completions", req.Model, err)
	}

	requestID := middleware.RequestID(c)
	logger := h.Logger
	usage := h.Usage
	modelID := req.Model

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer upstreamResp.Body.Close() //nolint:errcheck

		var total model.Usage
		reader := bufio.NewReader(upstreamResp.Body)
		for {
			data, err := upstream.ScanSSE(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("api.stream_read_failed",
						zap.String("request_id", requestID),
						zap.Error(err))
				}
				break
			}

			if data != "[DONE]" {
				var chunk model.ChatCompletionChunk
				if json.Unmarshal([]byte(data), &chunk) == nil && chunk.Usage != nil {
					total = *chunk.Usage
				}
			}

			if err := (upstream.StreamEvent{Data: data}).WriteTo(w); err != nil {
				break
			}
			if err := w.Flush(); err != nil {
				break
			}
			if data == "[DONE]" {
				break
			}
		}

		if usage != nil {
			usage.Record(context.Background(), requestID, "/v1/chat/completions",
				modelID, 0, total, true, fiber.StatusOK)
		}
	}))
	return nil
}

// streamMessages converts the upstream OpenAI chunk stream into the
// Anthropic event sequence on the fly.
func (h *Handler) streamMessages(c *fiber.Ctx, req *model.ChatCompletionRequest) error {
	upstreamResp, err := h.Chat.StreamChatCompletion(c.UserContext(), req)
	if err != nil {
		return h.upstreamError(c, "/v1/messages", req.Model, err)
	}

	requestID := middleware.RequestID(c)
	logger := h.Logger
	usage := h.Usage
	modelID := req.Model

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer upstreamResp.Body.Close() //nolint:errcheck

		var total model.Usage
		translator := upstream.NewAnthropicStreamTranslator(modelID)
		reader := bufio.NewReader(upstreamResp.Body)
		for {
			data, err := upstream.ScanSSE(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("api.stream_read_failed",
						zap.String("request_id", requestID),
						zap.Error(err))
				}
				break
			}
			if data == "[DONE]" {
				break
			}

			var chunk model.ChatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				total = *chunk.Usage
			}
			for _, ev := range translator.Translate(&chunk) {
				if err := ev.WriteTo(w); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				return
			}
		}

		for _, ev := range translator.Finish() {
			if err := ev.WriteTo(w); err != nil {
				return
			}
		}
		_ = w.Flush()

		if usage != nil {
			usage.Record(context.Background(), requestID, "/v1/messages",
				modelID, 0, total, true, fiber.StatusOK)
		}
	}))
	return nil
}

func (h *Handler) recordUsage(c *fiber.Ctx, endpoint, modelID string, u model.Usage, streamed bool, status int) {
	if h.Usage == nil {
		return
	}
	h.Usage.Record(c.UserContext(), middleware.RequestID(c), endpoint, modelID, 0, u, streamed, status)
}

// upstreamError maps upstream failures to client responses, preserving the
// upstream status for 4xx and hiding 5xx detail behind a generic message.
func (h *Handler) upstreamError(c *fiber.Ctx, endpoint, modelID string, err error) error {
	var ue *upstream.UpstreamError
	if errors.As(err, &ue) {
		h.Logger.Warn("api.upstream_rejected",
			zap.String("endpoint", endpoint),
			zap.String("model", modelID),
			zap.Int("status", ue.Status),
			zap.String("message", ue.Message))
		return upstreamFailure(c, ue.Status, ue.Message)
	}

	h.Logger.Error("api.upstream_failed",
		zap.String("endpoint", endpoint),
		zap.String("model", modelID),
		zap.Error(err))
	metrics.IncError("api", "upstream_failed")
	return errorJSON(c, fiber.StatusBadGateway, "upstream request failed", "api_error")
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// RateLimit rejects callers exceeding their budget with the 429 envelope
// OpenAI SDKs know how to back off from. Buckets are keyed by client IP:
// this middleware runs before key verification, and an unverified header
// value would let a caller mint a fresh bucket per forged credential.
func RateLimit(limiter *rate.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil || !limiter.Enabled() {
			return c.Next()
		}

		key := clientKey(c)
		if !limiter.Allow(key) {
			metrics.IncRateLimited(c.Path())
			return rateLimited(c)
		}
		return c.Next()
	}
}

func clientKey(c *fiber.Ctx) string {
	return c.IP()
}
