package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/pkg/model"
)

// Pricing holds per-1K-token rates for a model.
type Pricing struct {
	PromptPer1K     decimal.Decimal
	CompletionPer1K decimal.Decimal
}

// defaultPricing maps model IDs to rates. Unknown models fall back to the
// sonnet rate so accounting never silently records zero cost.
var defaultPricing = map[string]Pricing{
	"claude-sonnet-4-20250514": {
		PromptPer1K:     decimal.RequireFromString("0.003"),
		CompletionPer1K: decimal.RequireFromString("0.015"),
	},
	"claude-3-7-sonnet-20250219": {
		PromptPer1K:     decimal.RequireFromString("0.003"),
		CompletionPer1K: decimal.RequireFromString("0.015"),
	},
	"claude-3-5-sonnet-20241022": {
		PromptPer1K:     decimal.RequireFromString("0.003"),
		CompletionPer1K: decimal.RequireFromString("0.015"),
	},
	"claude-3-5-haiku-20241022": {
		PromptPer1K:     decimal.RequireFromString("0.0008"),
		CompletionPer1K: decimal.RequireFromString("0.004"),
	},
}

var fallbackPricing = Pricing{
	PromptPer1K:     decimal.RequireFromString("0.003"),
	CompletionPer1K: decimal.RequireFromString("0.015"),
}

// PriceFor returns the pricing for a model, falling back to the default
// sonnet rate for unknown IDs.
func PriceFor(modelID string) Pricing {
	if p, ok := defaultPricing[modelID]; ok {
		return p
	}
	return fallbackPricing
}

// Cost computes the request cost from token counts.
func Cost(modelID string, promptTokens, completionTokens int) decimal.Decimal {
	p := PriceFor(modelID)
	thousand := decimal.NewFromInt(1000)
	prompt := p.PromptPer1K.Mul(decimal.NewFromInt(int64(promptTokens))).Div(thousand)
	completion := p.CompletionPer1K.Mul(decimal.NewFromInt(int64(completionTokens))).Div(thousand)
	return prompt.Add(completion)
}

// EventSink persists usage events. Implemented by the hybrid store.
type EventSink interface {
	RecordUsageEvent(ctx context.Context, ev model.UsageEvent) error
}

// Publisher mirrors usage events onto the audit stream. Optional.
type Publisher interface {
	PublishUsage(ctx context.Context, ev model.UsageEvent) error
}

// Recorder prices and persists usage events. Recording failures are logged
// but never fail the request that produced them.
type Recorder struct {
	logger    *zap.Logger
	sink      EventSink
	publisher Publisher
}

func NewRecorder(logger *zap.Logger, sink EventSink, publisher Publisher) *Recorder {
	return &Recorder{logger: logger, sink: sink, publisher: publisher}
}

// Record prices and stores one completed request. Safe to call from a
// handler's defer path.
func (r *Recorder) Record(ctx context.Context, requestID, endpoint, modelID string, userID int64, u model.Usage, streamed bool, status int) {
	ev := model.UsageEvent{
		RequestID:        requestID,
		UserID:           userID,
		Endpoint:         endpoint,
		Model:            modelID,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Cost:             Cost(modelID, u.PromptTokens, u.CompletionTokens),
		Streamed:         streamed,
		Status:           status,
		RecordedAt:       time.Now().UTC(),
	}

	if r.sink != nil {
		if err := r.sink.RecordUsageEvent(ctx, ev); err != nil {
			r.logger.Warn("usage.record_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			metrics.IncError("usage", "record_failed")
		}
	}

	if r.publisher != nil {
		if err := r.publisher.PublishUsage(ctx, ev); err != nil {
			r.logger.Warn("usage.publish_failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}
}
