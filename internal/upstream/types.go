package upstream

import "time"

// TokenBundle is the credential set returned by the Kiro auth service in
// exchange for a refresh token.
type TokenBundle struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"` // seconds
	Exp          int64  `json:"exp,omitempty"`       // unix seconds, derived
}

// ExpiresAt returns the absolute expiry of the bundle.
func (t TokenBundle) ExpiresAt() time.Time {
	return time.Unix(t.Exp, 0)
}

// kiroErrorResponse is the error body shape returned by the Kiro API.
type kiroErrorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AvailableModels is the static model list the gateway serves. The model
// cache augments it with upstream metadata when a refresh succeeds, but the
// static list is always served immediately.
var AvailableModels = []string{
	"claude-sonnet-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
}
