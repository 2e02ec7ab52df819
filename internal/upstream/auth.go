package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
)

// TokenManager exchanges the long-lived REFRESH_TOKEN for short-lived Kiro
// access tokens and caches the result. Refreshes are serialized so a burst
// of requests hitting an expired token triggers exactly one exchange.
type TokenManager struct {
	logger      *zap.Logger
	authBaseURL string
	client      *http.Client
	refreshTok  string
	skew        time.Duration

	mu     sync.Mutex
	bundle TokenBundle
}

// NewTokenManager creates a token manager for the given auth service.
// skew is how long before actual expiry a token is treated as expired.
func NewTokenManager(logger *zap.Logger, authBaseURL, refreshToken string, skew time.Duration) *TokenManager {
	return &TokenManager{
		logger:      logger,
		authBaseURL: authBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		refreshTok:  refreshToken,
		skew:        skew,
	}
}

// GetAccessToken returns a valid access token, refreshing if the cached one
// is absent or expiring within the skew window.
func (m *TokenManager) GetAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bundle.AccessToken != "" && !m.expiringSoonLocked() {
		return m.bundle.AccessToken, nil
	}

	bundle, err := m.refresh(ctx)
	if err != nil {
		metrics.IncError("upstream_auth", "refresh_failed")
		metrics.SetTokenValid(false)
		return "", err
	}

	m.bundle = bundle
	metrics.SetTokenValid(true)
	return bundle.AccessToken, nil
}

// Invalidate drops the cached token. Called when the upstream answers 401
// despite a token we believed valid.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.bundle = TokenBundle{}
	m.mu.Unlock()
	metrics.SetTokenValid(false)
}

// Valid reports whether a non-expiring access token is currently cached.
// Used by the health endpoint; never triggers a refresh.
func (m *TokenManager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bundle.AccessToken != "" && !m.expiringSoonLocked()
}

func (m *TokenManager) expiringSoonLocked() bool {
	return time.Now().Add(m.skew).Unix() >= m.bundle.Exp
}

// refresh exchanges the refresh token for a new access token.
func (m *TokenManager) refresh(ctx context.Context) (TokenBundle, error) {
	url := m.authBaseURL + "/refreshToken"
	body, _ := json.Marshal(map[string]string{"refreshToken": m.refreshTok})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return TokenBundle{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("kiro token refresh: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		m.logger.Error("upstream.token_refresh_failed", zap.Int("status", resp.StatusCode))
		return TokenBundle{}, fmt.Errorf("kiro token refresh failed: %d", resp.StatusCode)
	}

	var bundle TokenBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return TokenBundle{}, fmt.Errorf("kiro token refresh decode: %w", err)
	}
	if bundle.AccessToken == "" {
		return TokenBundle{}, fmt.Errorf("kiro token refresh returned empty access token")
	}

	// If no expiry provided, assume 1 hour validity
	if bundle.ExpiresIn > 0 {
		bundle.Exp = time.Now().Add(time.Duration(bundle.ExpiresIn) * time.Second).Unix()
	} else if bundle.Exp == 0 {
		bundle.Exp = time.Now().Add(time.Hour).Unix()
	}

	m.logger.Info("upstream.token_refreshed",
		zap.Time("expires_at", bundle.ExpiresAt()))
	return bundle, nil
}
