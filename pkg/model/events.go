package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Envelope is the canonical audit event wrapper published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	RequestID     string          `json:"request_id,omitempty"`
	UserID        int64           `json:"user_id,omitempty"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// UsageEvent is one completed proxy request, recorded for accounting.
type UsageEvent struct {
	ID               int64           `json:"id"`
	RequestID        string          `json:"request_id"`
	UserID           int64           `json:"user_id,omitempty"`
	Endpoint         string          `json:"endpoint"`
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
	Streamed         bool            `json:"streamed"`
	Status           int             `json:"status"`
	RecordedAt       time.Time       `json:"recorded_at"`
}

// UsageSummary aggregates usage events per model for the admin dashboard.
type UsageSummary struct {
	Model            string          `json:"model"`
	Requests         int64           `json:"requests"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
	AsOf             time.Time       `json:"as_of"`
}
