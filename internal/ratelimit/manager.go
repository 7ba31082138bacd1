package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
)

// Manager holds one independent token bucket per embedding provider, per
// spec.md §4.2 (C2). It reuses MemoryLimiter's bucket/refill arithmetic —
// the same in-process token-bucket idiom ashita uses per arbitrary key —
// generalized here to operate per *provider name* instead. Configuring a
// provider with rpm=0 installs no bucket at all, matching the "unbounded"
// behavior of original_source/src/rate_limiter.rs when no limit is set.
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*MemoryLimiter
}

// NewManager constructs an empty Manager. Providers are added with
// Configure.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*MemoryLimiter)}
}

// Configure installs (or replaces) the bucket for provider. rpm is requests
// per minute; rpm<=0 removes any existing bucket, so Check/WaitForPermit
// become unconditional passes for that provider.
func (m *Manager) Configure(provider string, rpm int, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.limiters[provider]; ok {
		_ = existing.Close()
		delete(m.limiters, provider)
	}
	if rpm <= 0 {
		return
	}
	if burst <= 0 {
		burst = rpm
	}
	m.limiters[provider] = NewMemoryLimiter(float64(rpm)/60.0, burst)
}

// Check is the non-blocking form: it reports whether a token is currently
// available for provider without waiting, consuming one if so.
func (m *Manager) Check(ctx context.Context, provider string) (bool, error) {
	m.mu.Lock()
	l, ok := m.limiters[provider]
	m.mu.Unlock()
	if !ok {
		return true, nil
	}
	allowed, err := l.Allow(ctx, provider)
	if err == nil && !allowed {
		metrics.RateLimitsTotal.WithLabelValues(provider).Inc()
	}
	return allowed, err
}

// pollInterval is how often WaitForPermit retries Check while blocked.
const pollInterval = 50 * time.Millisecond

// WaitForPermit blocks until a token is available for provider, or ctx is
// done. Spec.md §4.2 requires blocking rather than failing fast: a worker
// goroutine that can't get a permit simply waits its turn rather than
// treating the limiter as an error source.
func (m *Manager) WaitForPermit(ctx context.Context, provider string) error {
	for {
		ok, err := m.Check(ctx, provider)
		if err != nil {
			return embederr.New(embederr.RateLimited, "ratelimit.wait", err, "rate limiter check failed")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Close stops every configured provider's background cleanup goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.limiters {
		_ = l.Close()
	}
}
