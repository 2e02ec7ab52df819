package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/httpclient"
	"github.com/kirogate/kirogate/pkg/model"
)

// UpstreamError is a non-retryable failure reported by the Kiro API. The
// status code is preserved so the gateway can pass it through to clients.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("kiro api %d: %s", e.Status, e.Message)
}

// ErrorHandler decodes Kiro API 4xx bodies into an UpstreamError. Wired
// into the executor so 4xx responses surface with the upstream's message.
func ErrorHandler(status int, body []byte) error {
	var ke kiroErrorResponse
	if err := json.Unmarshal(body, &ke); err == nil {
		msg := ke.Message
		if msg == "" {
			msg = ke.Error
		}
		if msg != "" {
			return &UpstreamError{Status: status, Message: msg}
		}
	}
	return &UpstreamError{Status: status, Message: string(body)}
}

// Client talks to the Kiro completion API using tokens minted by the
// TokenManager. A 401 invalidates the cached token and the request is
// retried once with a fresh one.
type Client struct {
	logger     *zap.Logger
	exec       *httpclient.Executor
	apiBaseURL string
	tokens     *TokenManager
}

func NewClient(logger *zap.Logger, exec *httpclient.Executor, apiBaseURL string, tokens *TokenManager) *Client {
	return &Client{
		logger:     logger,
		exec:       exec,
		apiBaseURL: apiBaseURL,
		tokens:     tokens,
	}
}

func (c *Client) headers(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

// CreateChatCompletion forwards a non-streaming chat request upstream.
func (c *Client) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	url := c.apiBaseURL + "/v1/chat/completions"
	var resp model.ChatCompletionResponse
	if err := c.withAuth(ctx, func(token string) error {
		return c.exec.DoJSON(ctx, http.MethodPost, url, c.headers(token), payload, "chat", &resp)
	}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamChatCompletion forwards a streaming chat request and returns the
// open SSE response. The caller owns resp.Body.
func (c *Client) StreamChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	url := c.apiBaseURL + "/v1/chat/completions"
	var resp *http.Response
	if err := c.withAuth(ctx, func(token string) error {
		h := c.headers(token)
		h.Set("Accept", "text/event-stream")
		var err error
		resp, err = c.exec.DoStream(ctx, http.MethodPost, url, h, payload, "chat")
		return err
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListModels fetches the upstream model catalog.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	url := c.apiBaseURL + "/v1/models"
	var list model.ModelList
	if err := c.withAuth(ctx, func(token string) error {
		return c.exec.DoJSON(ctx, http.MethodGet, url, c.headers(token), nil, "models", &list)
	}); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// withAuth runs fn with a valid access token. On a 401 the cached token is
// dropped and fn runs once more with a freshly minted one.
func (c *Client) withAuth(ctx context.Context, fn func(token string) error) error {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("upstream auth: %w", err)
	}

	err = fn(token)
	var ue *UpstreamError
	if err != nil && errors.As(err, &ue) && ue.Status == http.StatusUnauthorized {
		c.logger.Warn("upstream.token_rejected_retrying")
		c.tokens.Invalidate()

		token, rerr := c.tokens.GetAccessToken(ctx)
		if rerr != nil {
			return fmt.Errorf("upstream auth after 401: %w", rerr)
		}
		return fn(token)
	}
	return err
}
