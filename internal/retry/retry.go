// Package retry implements the exponential-backoff retry envelope (C4)
// from spec.md §4.4, built on cenkalti/backoff/v4 — already an indirect
// dependency of the teacher (pulled in transitively via testcontainers-go)
// and nearly a 1:1 match for original_source/src/retry.rs's use of the
// Rust `backoff` crate.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
)

// Config mirrors RetryConfig in original_source/src/retry.rs. Defaults
// match spec.md's implied default of {max_retries=3, initial_interval=100ms,
// max_interval=10s, multiplier=2.0}.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig returns the fixed default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Layer distinguishes the embedder's inner retry loop from the worker's
// outer retry, for metrics only (spec.md §9 "Retry layering").
type Layer string

const (
	Inner Layer = "inner"
	Outer Layer = "outer"
)

// Do invokes fn, retrying on retryable errors with exponential backoff up
// to cfg.MaxRetries additional attempts. Non-retryable errors (per
// embederr.IsRetryable) return immediately. operation names the call in the
// retry-attempts metric label; Do itself does not log.
func Do(ctx context.Context, operation string, layer Layer, cfg Config, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.Multiplier = cfg.Multiplier
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !embederr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(operation, string(layer)).Inc()
		}
		attempt++
		return err
	}

	return backoff.Retry(op, bo)
}
