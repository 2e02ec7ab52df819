package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/auth"
	"github.com/kirogate/kirogate/pkg/model"
	"github.com/kirogate/kirogate/pkg/utils"
)

// AdminStore is the user and usage surface behind the admin endpoints.
type AdminStore interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserBanned(ctx context.Context, id int64, banned bool) error
	ListUsageSummaries(ctx context.Context) ([]model.UsageSummary, error)
}

// AuditPublisher mirrors admin mutations onto the audit stream. Optional.
type AuditPublisher interface {
	PublishAdminAction(ctx context.Context, action string, detail any) error
}

// AdminHandler serves the password-protected management endpoints.
type AdminHandler struct {
	Logger    *zap.Logger
	Admin     *auth.Admin
	Store     AdminStore
	Keys      *auth.KeyVerifier
	Publisher AuditPublisher
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

// Login verifies the admin password and issues a signed session token.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	token, sess, err := h.Admin.Login(c.UserContext(), req.Password)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid password"})
	}

	c.Cookie(&fiber.Cookie{
		Name:     auth.AdminCookie,
		Value:    token,
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/admin",
	})
	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout revokes the presented admin session.
func (h *AdminHandler) Logout(c *fiber.Ctx) error {
	token := c.Cookies(auth.AdminCookie)
	if token == "" {
		token = bearerFrom(c)
	}
	if token != "" {
		if err := h.Admin.Logout(c.UserContext(), token); err != nil {
			h.Logger.Warn("api.admin_logout_failed", zap.Error(err))
		}
	}
	c.ClearCookie(auth.AdminCookie)
	return c.JSON(fiber.Map{"status": "logged out"})
}

// ListUsers returns all registered users.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.Store.ListUsers(c.UserContext())
	if err != nil {
		h.Logger.Error("api.list_users_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list users"})
	}
	return c.JSON(fiber.Map{"users": users, "count": len(users)})
}

// BanUser marks a user as banned; their next login attempt is rejected.
func (h *AdminHandler) BanUser(c *fiber.Ctx) error {
	return h.setBanned(c, true, "user.banned")
}

// UnbanUser lifts a ban.
func (h *AdminHandler) UnbanUser(c *fiber.Ctx) error {
	return h.setBanned(c, false, "user.unbanned")
}

func (h *AdminHandler) setBanned(c *fiber.Ctx, banned bool, action string) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}

	if err := h.Store.SetUserBanned(c.UserContext(), int64(id), banned); err != nil {
		h.Logger.Error("api.set_banned_failed",
			zap.Int("user_id", id),
			zap.Bool("banned", banned),
			zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	h.publishAction(c, action, fiber.Map{"user_id": id})
	return c.JSON(fiber.Map{"user_id": id, "banned": banned})
}

// Usage returns the per-model usage snapshot.
func (h *AdminHandler) Usage(c *fiber.Ctx) error {
	summaries, err := h.Store.ListUsageSummaries(c.UserContext())
	if err != nil {
		h.Logger.Error("api.usage_summary_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load usage"})
	}
	return c.JSON(fiber.Map{"usage": summaries})
}

// RotateKey replaces the proxy API key with a freshly generated one and
// returns it once. The old key stops working immediately.
func (h *AdminHandler) RotateKey(c *fiber.Ctx) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		h.Logger.Error("api.rotate_key_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "key generation failed"})
	}
	newKey := "kg-" + hex.EncodeToString(buf)

	h.Keys.Rotate(newKey)
	h.publishAction(c, "api_key.rotated", fiber.Map{"key": utils.MaskSecret(newKey)})

	return c.JSON(fiber.Map{"api_key": newKey})
}

func (h *AdminHandler) publishAction(c *fiber.Ctx, action string, detail any) {
	if h.Publisher == nil {
		return
	}
	if err := h.Publisher.PublishAdminAction(c.UserContext(), action, detail); err != nil {
		h.Logger.Warn("api.admin_publish_failed",
			zap.String("action", action),
			zap.Error(err))
	}
}

func bearerFrom(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
