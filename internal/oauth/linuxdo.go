package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
)

// LinuxDoUser is the profile returned by the LinuxDo Connect userinfo
// endpoint.
type LinuxDoUser struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	TrustLevel int    `json:"trust_level"`
	Active     bool   `json:"active"`
	Silenced   bool   `json:"silenced"`
}

// LinuxDoClient implements the authorization-code flow against LinuxDo
// Connect.
type LinuxDoClient struct {
	logger       *zap.Logger
	baseURL      string
	clientID     string
	clientSecret string
	redirectURI  string
	http         *http.Client
}

func NewLinuxDoClient(logger *zap.Logger, baseURL, clientID, clientSecret, redirectURI string) *LinuxDoClient {
	return &LinuxDoClient{
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		http:         &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthorizeURL builds the browser redirect target for the given state.
func (c *LinuxDoClient) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.redirectURI)
	q.Set("state", state)
	return c.baseURL + "/oauth2/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for an access token.
func (c *LinuxDoClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncError("oauth", "token_exchange_transport")
		return "", fmt.Errorf("linuxdo token exchange: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("oauth.token_exchange_failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		metrics.IncError("oauth", "token_exchange_failed")
		return "", fmt.Errorf("linuxdo token exchange failed: %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("linuxdo token decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("linuxdo returned empty access token")
	}
	return tok.AccessToken, nil
}

// FetchUser loads the profile behind an access token.
func (c *LinuxDoClient) FetchUser(ctx context.Context, accessToken string) (*LinuxDoUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncError("oauth", "userinfo_transport")
		return nil, fmt.Errorf("linuxdo userinfo: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		metrics.IncError("oauth", "userinfo_failed")
		return nil, fmt.Errorf("linuxdo userinfo failed: %d", resp.StatusCode)
	}

	var user LinuxDoUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("linuxdo userinfo decode: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("linuxdo userinfo missing id")
	}
	return &user, nil
}
