package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SnapshotSource re-aggregates usage events into the snapshot table the
// admin dashboard reads. Implemented by the hybrid store.
type SnapshotSource interface {
	RefreshUsageSnapshot(ctx context.Context) error
}

// SnapshotPublisher announces completed refreshes on the audit stream.
type SnapshotPublisher interface {
	PublishSnapshotDone(ctx context.Context, elapsed time.Duration) error
}

// SnapshotRefresher periodically rebuilds the usage snapshot and emits an
// audit event when a cycle completes.
type SnapshotRefresher struct {
	logger    *zap.Logger
	source    SnapshotSource
	publisher SnapshotPublisher
	interval  time.Duration
	stopCh    chan struct{}
}

// NewSnapshotRefresher constructs a background job that runs periodically.
func NewSnapshotRefresher(logger *zap.Logger, source SnapshotSource, publisher SnapshotPublisher, interval time.Duration) *SnapshotRefresher {
	return &SnapshotRefresher{
		logger:    logger,
		source:    source,
		publisher: publisher,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop or context cancellation.
func (r *SnapshotRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("snapshot_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("snapshot_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("snapshot_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *SnapshotRefresher) Stop() {
	close(r.stopCh)
}

// RunOnce executes one refresh cycle. Exposed so the admin API can force a
// refresh on demand.
func (r *SnapshotRefresher) RunOnce(ctx context.Context) {
	start := time.Now()
	r.logger.Info("snapshot_refresher.running")

	if err := r.source.RefreshUsageSnapshot(ctx); err != nil {
		r.logger.Error("snapshot_refresher.refresh_failed", zap.Error(err))
		return
	}

	if r.publisher != nil {
		if err := r.publisher.PublishSnapshotDone(ctx, time.Since(start)); err != nil {
			r.logger.Warn("snapshot_refresher.publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("snapshot_refresher.success",
		zap.Duration("duration", time.Since(start)))
}
