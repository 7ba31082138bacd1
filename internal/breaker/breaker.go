// Package breaker implements the per-service three-state circuit breaker
// (C3) from spec.md §4.3, translated from original_source/src/circuit_breaker.rs
// into the map+sync.RWMutex idiom used throughout this codebase for
// process-wide mutable state.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iskng/embed-star/internal/metrics"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config configures one breaker instance. Defaults match spec.md §4.3's
// fixed default: {failure_threshold=5, timeout=60s, success_threshold=3,
// failure_rate=0.5, min_requests=10}.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	SuccessThreshold int
	FailureRate      float64
	MinRequests      int
}

// DefaultConfig returns spec.md §4.3's fixed default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 3,
		FailureRate:      0.5,
		MinRequests:      10,
	}
}

// stats tracks per-service counters, mirroring CircuitStats in
// original_source/src/circuit_breaker.rs.
type stats struct {
	total              int64
	failed             int64
	successful         int64
	consecutiveFailures int
	lastFailureAt      time.Time
	lastStateChangeAt  time.Time
	halfOpenSuccesses  int
	state              State
	cfg                Config
}

// Manager owns one breaker (stats+state) per service name, lazily created
// with the manager's default config on first use — mirroring
// CircuitBreakerManager::should_allow_request's entry().or_insert_with().
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*stats
	def      Config
	logger   *slog.Logger
}

// NewManager creates a breaker manager using def as the default config for
// services that have not been explicitly configured.
func NewManager(def Config, logger *slog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*stats),
		def:      def,
		logger:   logger,
	}
}

// Configure installs a specific configuration for service, creating or
// resetting its breaker to Closed.
func (m *Manager) Configure(service string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[service] = &stats{state: Closed, cfg: cfg, lastStateChangeAt: time.Now()}
}

func (m *Manager) get(service string) *stats {
	m.mu.RLock()
	s, ok := m.breakers[service]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.breakers[service]; ok {
		return s
	}
	s = &stats{state: Closed, cfg: m.def, lastStateChangeAt: time.Now()}
	m.breakers[service] = s
	return s
}

// ShouldAllow reports whether a request to service may proceed, per the
// state machine in spec.md §4.3. A transition from Open to HalfOpen is made
// here when the timeout has elapsed.
func (m *Manager) ShouldAllow(service string) bool {
	s := m.get(service)
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s.state {
	case Closed:
		return true
	case Open:
		if time.Since(s.lastStateChangeAt) >= s.cfg.Timeout {
			m.transition(service, s, HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call against service.
func (m *Manager) RecordSuccess(service string) {
	s := m.get(service)
	m.mu.Lock()
	defer m.mu.Unlock()

	s.total++
	s.successful++
	s.consecutiveFailures = 0

	if s.state == HalfOpen {
		s.halfOpenSuccesses++
		if s.halfOpenSuccesses >= s.cfg.SuccessThreshold {
			m.transition(service, s, Closed)
		}
	}
}

// RecordFailure records a failed call against service, possibly opening
// the breaker per the two open conditions in spec.md §4.3.
func (m *Manager) RecordFailure(service string) {
	s := m.get(service)
	m.mu.Lock()
	defer m.mu.Unlock()

	s.total++
	s.failed++
	s.consecutiveFailures++
	s.lastFailureAt = time.Now()

	switch s.state {
	case Closed:
		rate := float64(s.failed) / float64(s.total)
		if s.consecutiveFailures >= s.cfg.FailureThreshold ||
			(s.total >= int64(s.cfg.MinRequests) && rate >= s.cfg.FailureRate) {
			m.transition(service, s, Open)
		}
	case HalfOpen:
		m.transition(service, s, Open)
	}
}

// transition moves service to next, no-op if already there. Caller must
// hold m.mu.
func (m *Manager) transition(service string, s *stats, next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.lastStateChangeAt = time.Now()
	if next == HalfOpen {
		s.halfOpenSuccesses = 0
	}
	if m.logger != nil {
		m.logger.Info("circuit breaker state change", "service", service, "from", prev, "to", next)
	}
	metrics.CircuitBreakerState.WithLabelValues(service).Set(metrics.BreakerStateValue(string(next)))
}

// State returns the current state of service's breaker.
func (m *Manager) State(service string) State {
	s := m.get(service)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.state
}

// Reset clears service's breaker back to Closed with zeroed counters.
func (m *Manager) Reset(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.breakers[service]; ok {
		*s = stats{state: Closed, cfg: s.cfg, lastStateChangeAt: time.Now()}
	}
}
