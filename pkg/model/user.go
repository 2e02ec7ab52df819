package model

import "time"

// User is a gateway account created through LinuxDo OAuth2 login.
type User struct {
	ID          int64     `json:"id"`
	LinuxDoID   int64     `json:"linuxdo_id"`
	Username    string    `json:"username"`
	Name        string    `json:"name,omitempty"`
	TrustLevel  int       `json:"trust_level"`
	Banned      bool      `json:"banned"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// Session is a signed login session, mirrored in Redis so it can be revoked
// before its natural expiry.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"` // "user" | "admin"
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionKindUser and SessionKindAdmin are the two session kinds the
// gateway issues.
const (
	SessionKindUser  = "user"
	SessionKindAdmin = "admin"
)
