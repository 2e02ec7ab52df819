package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/pkg/model"
)

// ModelCache serves the gateway's model list. The static list is always
// available; upstream metadata replaces it when a refresh succeeds. Stale
// reads trigger a background refresh but never block the caller.
type ModelCache struct {
	logger *zap.Logger
	fetch  func(ctx context.Context) ([]model.ModelInfo, error)
	ttl    time.Duration

	mu         sync.RWMutex
	models     []model.ModelInfo
	lastUpdate time.Time

	refreshing atomic.Bool
}

func NewModelCache(logger *zap.Logger, ttl time.Duration, fetch func(ctx context.Context) ([]model.ModelInfo, error)) *ModelCache {
	c := &ModelCache{
		logger: logger,
		fetch:  fetch,
		ttl:    ttl,
		models: staticModels(),
	}
	metrics.SetModelCacheSize(len(c.models))
	return c
}

func staticModels() []model.ModelInfo {
	now := time.Now().Unix()
	out := make([]model.ModelInfo, 0, len(AvailableModels))
	for _, id := range AvailableModels {
		out = append(out, model.ModelInfo{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "anthropic",
		})
	}
	return out
}

// Models returns the current list. If the cached copy is stale a background
// refresh is kicked off; the caller still gets the current copy immediately.
func (c *ModelCache) Models(ctx context.Context) []model.ModelInfo {
	c.mu.RLock()
	stale := time.Since(c.lastUpdate) > c.ttl
	out := make([]model.ModelInfo, len(c.models))
	copy(out, c.models)
	c.mu.RUnlock()

	if stale {
		c.TriggerRefresh(ctx)
	}
	return out
}

// Size reports the number of cached entries, for the health endpoint.
func (c *ModelCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// LastUpdate reports when the last successful upstream refresh completed.
// Zero means only the static list has ever been served.
func (c *ModelCache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Refresh fetches the upstream catalog synchronously. A failure keeps the
// previous list in place.
func (c *ModelCache) Refresh(ctx context.Context) error {
	models, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("modelcache.refresh_failed", zap.Error(err))
		metrics.IncError("model_cache", "refresh_failed")
		return err
	}
	if len(models) == 0 {
		c.logger.Warn("modelcache.refresh_empty_keeping_static")
		return nil
	}

	c.mu.Lock()
	c.models = models
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	metrics.SetModelCacheSize(len(models))
	c.logger.Info("modelcache.refreshed", zap.Int("models", len(models)))
	return nil
}

// TriggerRefresh starts a background refresh unless one is already running.
func (c *ModelCache) TriggerRefresh(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = c.Refresh(rctx)
	}()
}
