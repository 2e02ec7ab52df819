package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/pkg/model"
)

// AdminCookie is the cookie name carrying the signed admin session token.
const AdminCookie = "kirogate_admin"

// SessionStore mirrors issued sessions so they can be revoked before expiry.
type SessionStore interface {
	PutSession(ctx context.Context, s model.Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// tokenClaims is the signed payload of a session token.
type tokenClaims struct {
	SessionID string `json:"sid"`
	Kind      string `json:"kind"`
	ExpiresAt int64  `json:"exp"`
}

// Admin handles password verification and signed admin session tokens.
// Tokens are "base64url(claims).hex(hmac-sha256(secret, claims))" — the
// signature proves the gateway issued the token, the store lookup allows
// revocation.
type Admin struct {
	logger   *zap.Logger
	password string
	secret   []byte
	ttl      time.Duration
	sessions SessionStore
}

// NewAdmin constructs the admin authenticator.
func NewAdmin(logger *zap.Logger, password, secretKey string, ttl time.Duration, sessions SessionStore) *Admin {
	return &Admin{
		logger:   logger,
		password: password,
		secret:   []byte(secretKey),
		ttl:      ttl,
		sessions: sessions,
	}
}

// VerifyPassword compares the supplied password in constant time.
func (a *Admin) VerifyPassword(password string) bool {
	return equal(password, a.password)
}

// Login verifies the password and, on success, issues a signed session token
// mirrored in the session store.
func (a *Admin) Login(ctx context.Context, password string) (string, *model.Session, error) {
	if !a.VerifyPassword(password) {
		metrics.IncError("auth", "invalid_admin_password")
		return "", nil, fmt.Errorf("invalid admin password")
	}

	now := time.Now().UTC()
	sess := model.Session{
		ID:        uuid.NewString(),
		Kind:      model.SessionKindAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	if a.sessions != nil {
		if err := a.sessions.PutSession(ctx, sess, a.ttl); err != nil {
			return "", nil, fmt.Errorf("store admin session: %w", err)
		}
	}

	token, err := a.sign(tokenClaims{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", nil, err
	}

	a.logger.Info("auth.admin_login", zap.String("session_id", sess.ID))
	return token, &sess, nil
}

// Logout revokes the session behind a valid token.
func (a *Admin) Logout(ctx context.Context, token string) error {
	claims, err := a.verify(token)
	if err != nil {
		return err
	}
	if a.sessions == nil {
		return nil
	}
	return a.sessions.DeleteSession(ctx, claims.SessionID)
}

// VerifyToken checks signature and expiry and, when a session store is
// wired, that the session has not been revoked.
func (a *Admin) VerifyToken(ctx context.Context, token string) (*tokenClaims, error) {
	claims, err := a.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != model.SessionKindAdmin {
		return nil, fmt.Errorf("not an admin session")
	}
	if a.sessions != nil {
		sess, err := a.sessions.GetSession(ctx, claims.SessionID)
		if err != nil || sess == nil {
			return nil, fmt.Errorf("session revoked or unknown")
		}
	}
	return claims, nil
}

// RequireAdmin is the fiber middleware protecting /admin routes. The token
// is read from the Authorization header or the admin cookie.
func (a *Admin) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			token = c.Cookies(AdminCookie)
		}
		if token == "" {
			return a.reject(c, "missing admin credentials")
		}

		claims, err := a.VerifyToken(c.UserContext(), token)
		if err != nil {
			return a.reject(c, err.Error())
		}

		c.Locals("admin_session_id", claims.SessionID)
		return c.Next()
	}
}

func (a *Admin) reject(c *fiber.Ctx, reason string) error {
	a.logger.Warn("auth.admin_rejected",
		zap.String("path", c.Path()),
		zap.String("ip", c.IP()),
		zap.String("reason", reason))
	metrics.IncError("auth", "admin_rejected")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "admin authentication required",
	})
}

func (a *Admin) sign(claims tokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.mac(encoded), nil
}

func (a *Admin) verify(token string) (*tokenClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("malformed session token")
	}
	if !hmac.Equal([]byte(sig), []byte(a.mac(encoded))) {
		return nil, fmt.Errorf("invalid session signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed session payload: %w", err)
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("malformed session claims: %w", err)
	}
	if time.Now().Unix() >= claims.ExpiresAt {
		return nil, fmt.Errorf("session expired")
	}
	return &claims, nil
}

func (a *Admin) mac(payload string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
