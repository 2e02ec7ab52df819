package auth

import (
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
)

// KeyVerifier checks the gateway API key on inbound requests. The key can
// be rotated at runtime by an admin; the verifier is safe for concurrent use.
type KeyVerifier struct {
	logger *zap.Logger
	mu     sync.RWMutex
	key    string
}

// NewKeyVerifier creates a verifier for the configured PROXY_API_KEY.
func NewKeyVerifier(logger *zap.Logger, key string) *KeyVerifier {
	return &KeyVerifier{logger: logger, key: key}
}

// Rotate replaces the accepted API key. In-flight requests verified against
// the old key are unaffected; new requests must present the new key.
func (v *KeyVerifier) Rotate(newKey string) {
	v.mu.Lock()
	v.key = newKey
	v.mu.Unlock()
	v.logger.Info("auth.api_key_rotated")
}

func (v *KeyVerifier) current() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key
}

// equal is a constant-time string comparison.
func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// bearerToken extracts the credential from "Authorization: Bearer <key>".
func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// RequireKey enforces "Authorization: Bearer <PROXY_API_KEY>" (OpenAI style).
func (v *KeyVerifier) RequireKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if equal(bearerToken(c), v.current()) {
			return c.Next()
		}
		return v.reject(c)
	}
}

// RequireKeyCompat additionally accepts "x-api-key: <PROXY_API_KEY>"
// (Anthropic SDK style) so both client families can call /v1/messages.
func (v *KeyVerifier) RequireKeyCompat() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := v.current()
		if xkey := c.Get("x-api-key"); xkey != "" && equal(xkey, key) {
			return c.Next()
		}
		if equal(bearerToken(c), key) {
			return c.Next()
		}
		return v.reject(c)
	}
}

func (v *KeyVerifier) reject(c *fiber.Ctx) error {
	v.logger.Warn("auth.invalid_api_key",
		zap.String("path", c.Path()),
		zap.String("ip", c.IP()))
	metrics.IncError("auth", "invalid_api_key")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{
			"message": "Invalid or missing API Key",
			"type":    "invalid_request_error",
			"code":    fiber.StatusUnauthorized,
		},
	})
}
