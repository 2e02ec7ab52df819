package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/pkg/model"
)

// RecordUsageEvent inserts an immutable accounting event into
// gateway.usage_event.
func (s *HybridStore) RecordUsageEvent(ctx context.Context, ev model.UsageEvent) error {
	if s.PG == nil {
		return nil
	}

	_, err := s.PG.Exec(ctx, `
		INSERT INTO gateway.usage_event (
			request_id, user_id, endpoint, model,
			prompt_tokens, completion_tokens, cost, streamed, status, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, ev.RequestID, ev.UserID, ev.Endpoint, ev.Model,
		ev.PromptTokens, ev.CompletionTokens, ev.Cost, ev.Streamed, ev.Status)
	if err != nil {
		s.logger.Error("store.pg.insert_usage_event_failed",
			zap.String("request_id", ev.RequestID),
			zap.Error(err))
	}
	return err
}

// RefreshUsageSnapshot re-aggregates usage events into the per-model
// snapshot table the admin dashboard reads.
func (s *HybridStore) RefreshUsageSnapshot(ctx context.Context) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}

	_, err := s.PG.Exec(ctx, `
		INSERT INTO gateway.usage_snapshot (model, requests, prompt_tokens, completion_tokens, cost, as_of)
		SELECT model,
		       COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost), 0),
		       NOW()
		FROM gateway.usage_event
		GROUP BY model
		ON CONFLICT (model)
		DO UPDATE SET
			requests = EXCLUDED.requests,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			cost = EXCLUDED.cost,
			as_of = EXCLUDED.as_of;
	`)
	if err != nil {
		s.logger.Error("store.pg.usage_snapshot_refresh_failed", zap.Error(err))
	}
	return err
}

func (s *HybridStore) ListUsageSummaries(ctx context.Context) ([]model.UsageSummary, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}

	rows, err := s.PG.Query(ctx, `
		SELECT model, requests, prompt_tokens, completion_tokens, cost, as_of
		FROM gateway.usage_snapshot
		ORDER BY requests DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.UsageSummary
	for rows.Next() {
		var sum model.UsageSummary
		if err := rows.Scan(&sum.Model, &sum.Requests, &sum.PromptTokens,
			&sum.CompletionTokens, &sum.Cost, &sum.AsOf); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
