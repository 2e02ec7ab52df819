package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Placeholder values that ship in the deployment template. A gateway started
// with these still in place cannot authenticate against Kiro or LinuxDo, so
// readiness fails loudly instead of letting the first request 401.
const (
	placeholderRefreshToken  = "请在Kiro IDE中获取真实的REFRESH_TOKEN"
	placeholderLinuxDoSecret = "你的LinuxDo客户端密钥"
)

// CheckReadiness validates that the configuration is deployable: required
// secrets present, template placeholders replaced, and optional feature
// groups either fully configured or fully absent. All violations are
// collected and returned as one joined error.
func (c *Config) CheckReadiness() error {
	var errs []error

	if strings.TrimSpace(c.ProxyAPIKey) == "" {
		errs = append(errs, errors.New("PROXY_API_KEY must not be empty"))
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD must not be empty"))
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN must not be empty"))
	}

	if strings.TrimSpace(c.RefreshToken) == placeholderRefreshToken {
		errs = append(errs, errors.New("REFRESH_TOKEN still contains the deployment template placeholder"))
	}
	if strings.TrimSpace(c.LinuxDoClientSecret) == placeholderLinuxDoSecret {
		errs = append(errs, errors.New("LINUXDO_CLIENT_SECRET still contains the deployment template placeholder"))
	}

	// OAuth variables travel together: partially configured OAuth would
	// render the login flow broken in a way users only see mid-redirect.
	oauthSet := 0
	for _, v := range []string{c.LinuxDoClientID, c.LinuxDoClientSecret, c.LinuxDoRedirectURI} {
		if strings.TrimSpace(v) != "" {
			oauthSet++
		}
	}
	if oauthSet != 0 && oauthSet != 3 {
		errs = append(errs, errors.New("LINUXDO_CLIENT_ID, LINUXDO_CLIENT_SECRET and LINUXDO_REDIRECT_URI must be set together"))
	}

	if c.StaticAssetsProxyEnabled && strings.TrimSpace(c.StaticAssetsBaseURL) == "" {
		errs = append(errs, errors.New("STATIC_ASSETS_PROXY_ENABLED requires STATIC_ASSETS_BASE_URL"))
	}

	if c.SecretName != "" && c.AWSRegion == "" {
		errs = append(errs, errors.New("SECRET_NAME requires AWS_REGION"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration not ready: %w", errors.Join(errs...))
	}
	return nil
}

// Finalize applies derivations and compatibility warnings after a successful
// readiness check.
func (c *Config) Finalize(logger *zap.Logger) {
	if strings.TrimSpace(c.AdminSecretKey) == "" {
		// Derive a signing key so admin sessions still verify; rotating
		// ADMIN_PASSWORD then also rotates every session.
		sum := sha256.Sum256([]byte("kirogate-admin:" + c.AdminPassword))
		c.AdminSecretKey = hex.EncodeToString(sum[:])
		logger.Warn("config.admin_secret_key_derived",
			zap.String("hint", "set ADMIN_SECRET_KEY explicitly to decouple admin sessions from the password"))
	}

	if c.UserDBFile != "" {
		logger.Warn("config.user_db_file_deprecated",
			zap.String("user_db_file", c.UserDBFile),
			zap.String("hint", "the user store now lives in Postgres; set DATABASE_URL and drop USER_DB_FILE"))
	}
}
