package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/config"
	pkgsecrets "github.com/kirogate/kirogate/pkg/secrets"
	"github.com/kirogate/kirogate/pkg/utils"
)

// Credentials is the gateway credential bundle stored in AWS Secrets
// Manager when SECRET_NAME is set. Every field is optional; a present field
// overrides the matching environment variable.
//
// Secret JSON format: {"proxy_api_key": "...", "refresh_token": "...",
// "admin_password": "...", "admin_secret_key": "...",
// "linuxdo_client_secret": "..."}
type Credentials struct {
	ProxyAPIKey         string
	RefreshToken        string
	AdminPassword       string
	AdminSecretKey      string
	LinuxDoClientSecret string
}

// Resolver loads the credential bundle from a secrets provider and caches it.
type Resolver struct {
	logger     *zap.Logger
	provider   pkgsecrets.Provider
	cache      *pkgsecrets.Cache[Credentials]
	secretName string
}

func NewResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[Credentials], secretName string) *Resolver {
	return &Resolver{
		logger:     logger,
		provider:   provider,
		cache:      cache,
		secretName: secretName,
	}
}

// Resolve fetches or returns the cached credential bundle.
func (r *Resolver) Resolve(ctx context.Context) (Credentials, error) {
	if creds, ok := r.cache.Get(r.secretName); ok {
		return creds, nil
	}

	raw, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve gateway credentials: %w", err)
	}

	creds := parseCredentials(raw)
	r.cache.Put(r.secretName, creds)
	r.logger.Info("secrets.credentials_resolved",
		zap.String("secret", r.secretName),
		zap.Bool("has_refresh_token", creds.RefreshToken != ""))
	return creds, nil
}

// Overlay applies the resolved bundle on top of an environment-derived
// config. Secrets Manager wins over the environment so rotated credentials
// take effect without a redeploy.
func Overlay(ctx context.Context, cfg *config.Config, r *Resolver) error {
	creds, err := r.Resolve(ctx)
	if err != nil {
		return err
	}

	if creds.ProxyAPIKey != "" {
		cfg.ProxyAPIKey = creds.ProxyAPIKey
	}
	if creds.RefreshToken != "" {
		r.logger.Info("secrets.refresh_token_overridden",
			zap.String("token", utils.MaskSecret(creds.RefreshToken)))
		cfg.RefreshToken = creds.RefreshToken
	}
	if creds.AdminPassword != "" {
		cfg.AdminPassword = creds.AdminPassword
	}
	if creds.AdminSecretKey != "" {
		cfg.AdminSecretKey = creds.AdminSecretKey
	}
	if creds.LinuxDoClientSecret != "" {
		cfg.LinuxDoClientSecret = creds.LinuxDoClientSecret
	}
	return nil
}

func parseCredentials(m map[string]string) Credentials {
	return Credentials{
		ProxyAPIKey:         m["proxy_api_key"],
		RefreshToken:        m["refresh_token"],
		AdminPassword:       m["admin_password"],
		AdminSecretKey:      m["admin_secret_key"],
		LinuxDoClientSecret: m["linuxdo_client_secret"],
	}
}
