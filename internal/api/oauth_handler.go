package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/pkg/model"
)

// SessionCookie carries the user session ID issued after an OAuth login.
const SessionCookie = "kirogate_session"

// LoginFlow is the OAuth login service surface.
type LoginFlow interface {
	BeginLogin(ctx context.Context) (string, error)
	CompleteLogin(ctx context.Context, state, code string) (*model.User, *model.Session, error)
}

// LoginPublisher mirrors successful logins onto the audit stream. Optional.
type LoginPublisher interface {
	PublishLogin(ctx context.Context, u model.User) error
}

// OAuthHandler serves the LinuxDo login endpoints.
type OAuthHandler struct {
	Logger    *zap.Logger
	Flow      LoginFlow
	Publisher LoginPublisher
}

// Login redirects the browser to the LinuxDo authorize endpoint.
func (h *OAuthHandler) Login(c *fiber.Ctx) error {
	authURL, err := h.Flow.BeginLogin(c.UserContext())
	if err != nil {
		h.Logger.Error("api.oauth_begin_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start login",
		})
	}
	return c.Redirect(authURL, fiber.StatusFound)
}

// Callback completes the login: state check, code exchange, user upsert,
// session cookie.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	state := c.Query("state")
	code := c.Query("code")

	user, sess, err := h.Flow.CompleteLogin(c.UserContext(), state, code)
	if err != nil {
		h.Logger.Warn("api.oauth_callback_rejected", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})

	if h.Publisher != nil {
		if err := h.Publisher.PublishLogin(c.UserContext(), *user); err != nil {
			h.Logger.Warn("api.login_publish_failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"user": fiber.Map{
			"id":          user.ID,
			"username":    user.Username,
			"name":        user.Name,
			"trust_level": user.TrustLevel,
		},
		"session_expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
