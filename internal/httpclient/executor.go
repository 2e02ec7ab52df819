package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// 5xx responses and transport errors are retried with backoff; 4xx responses
// go through the errorHandler so callers get an upstream-specific error.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	upstreamTag  string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to
// produce an upstream-specific error. If nil, a default error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	upstreamTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		upstreamTag:  upstreamTag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes the request with rate limiting and retries, then
// JSON-decodes the response into out. Requests with a body must supply it
// via payload so retries can rewind it. rateLimitKey scopes the rate
// limiter per caller.
func (e *Executor) DoJSON(ctx context.Context, method, url string, headers http.Header, payload []byte, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		req, err := e.buildRequest(ctx, method, url, headers, payload)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			e.logger.Warn(e.upstreamTag+".http_failed",
				zap.String("url", url),
				zap.Error(err),
				zap.Int("attempt", attempt))
			metrics.IncUpstreamRequest(url, method, "transport_error")
			time.Sleep(Backoff(attempt))
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		metrics.IncUpstreamRequest(url, method, strconv.Itoa(resp.StatusCode))
		metrics.ObserveDuration(metrics.UpstreamRequestDuration, start, url, method)

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.upstreamTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", url),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.upstreamTag, resp.StatusCode)
			time.Sleep(Backoff(attempt))
			continue
		}

		if resp.StatusCode >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(resp.StatusCode, body)
			}
			return fmt.Errorf("%s returned %d", e.upstreamTag, resp.StatusCode)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.upstreamTag+".decode_failed",
					zap.Error(err),
					zap.String("url", url))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.upstreamTag+".http_success",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.upstreamTag, e.retryMax+1, lastErr)
}

// DoStream executes the request and returns the raw response for SSE
// pass-through. Only transport errors and 5xx responses received before any
// body bytes are retried; once a 2xx arrives the caller owns the body.
func (e *Executor) DoStream(ctx context.Context, method, url string, headers http.Header, payload []byte, rateLimitKey string) (*http.Response, error) {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		req, err := e.buildRequest(ctx, method, url, headers, payload)
		if err != nil {
			return nil, err
		}

		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			metrics.IncUpstreamRequest(url, method, "transport_error")
			time.Sleep(Backoff(attempt))
			continue
		}

		metrics.IncUpstreamRequest(url, method, strconv.Itoa(resp.StatusCode))

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			e.logger.Warn(e.upstreamTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", url),
				zap.String("body", string(body)))
			lastErr = fmt.Errorf("%s server error: %d", e.upstreamTag, resp.StatusCode)
			time.Sleep(Backoff(attempt))
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if e.errorHandler != nil {
				return nil, e.errorHandler(resp.StatusCode, body)
			}
			return nil, fmt.Errorf("%s returned %d", e.upstreamTag, resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s stream failed after %d attempts: %w", e.upstreamTag, e.retryMax+1, lastErr)
}

func (e *Executor) buildRequest(ctx context.Context, method, url string, headers http.Header, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}
