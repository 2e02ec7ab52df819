package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
)

// StaticProxy forwards GET /assets/* to the upstream asset host. Content
// type and caching headers are preserved so browsers cache through the
// gateway.
type StaticProxy struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

func NewStaticProxy(logger *zap.Logger, baseURL string) *StaticProxy {
	return &StaticProxy{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Serve handles GET /assets/*.
func (p *StaticProxy) Serve(c *fiber.Ctx) error {
	assetPath := c.Params("*")
	if assetPath == "" || strings.Contains(assetPath, "..") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid asset path"})
	}

	url := p.baseURL + "/" + assetPath
	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, url, nil)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid asset path"})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("static_proxy.fetch_failed",
			zap.String("path", assetPath),
			zap.Error(err))
		metrics.IncError("static_proxy", "fetch_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "asset fetch failed"})
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return c.Status(resp.StatusCode).JSON(fiber.Map{"error": "asset not available"})
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		c.Set(fiber.HeaderCacheControl, cc)
	} else {
		c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "asset read failed"})
	}
	return c.Send(body)
}
