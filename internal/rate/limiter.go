package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines token-bucket parameters for a limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// PerMinute builds a Config from a requests-per-minute budget, the unit the
// gateway exposes to operators.
func PerMinute(perMinute, burst int) Config {
	if burst <= 0 {
		burst = 1
	}
	return Config{
		RequestsPerSecond: float64(perMinute) / 60.0,
		Burst:             burst,
	}
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
}

// New creates a new limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		tokens: float64(cfg.Burst),
		last:   time.Now(),
		rate:   cfg.RequestsPerSecond,
		burst:  float64(cfg.Burst),
	}
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}
	return false
}

func (l *Limiter) lastUsed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds per-key limiters (one per API key or client IP).
// A zero or negative rate disables limiting entirely.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Enabled reports whether the manager imposes any limit at all.
func (m *Manager) Enabled() bool {
	return m != nil && m.defaults.RequestsPerSecond > 0
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Len returns the number of per-key limiters currently held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}

// EvictIdle drops limiters untouched for at least maxIdle, bounding the
// per-key map when callers churn through addresses. Returns the number of
// entries removed.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for key, lim := range m.limiters {
		if lim.lastUsed().Before(cutoff) {
			delete(m.limiters, key)
			evicted++
		}
	}
	return evicted
}

// Allow consumes a token for the given key; always true when disabled.
func (m *Manager) Allow(key string) bool {
	if !m.Enabled() {
		return true
	}
	return m.GetLimiter(key).Allow()
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	if !m.Enabled() {
		return nil
	}
	return m.GetLimiter(key).Wait(ctx)
}
