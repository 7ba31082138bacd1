package embedding

import (
	"context"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
	"github.com/iskng/embed-star/internal/retry"
	"github.com/iskng/embed-star/internal/validate"
)

// Embedder composes a Provider with text truncation and an optional
// validation hook, per spec.md §4.7. It does not itself rate-limit or trip
// a circuit breaker — internal/worker wraps each Generate call with
// internal/ratelimit and internal/breaker around this, matching
// original_source/src/service.rs's call chain. It does, however, own the
// inner retry envelope: spec.md §9's "two nested retry policies" note that
// the embedder's loop handles both validation retries and provider-specific
// transient failures, counted separately (retry.Inner) from the worker's
// outer retry (retry.Outer).
type Embedder struct {
	provider  Provider
	validator *validate.Validator
	charLimit int
	retryCfg  retry.Config
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithValidator attaches a validator; a result failing validation is
// retried against the same provider, up to the configured retry attempt
// count, before the error is surfaced.
func WithValidator(v *validate.Validator) Option {
	return func(e *Embedder) { e.validator = v }
}

// WithCharLimit overrides the default truncation limit (spec.md §4.7's
// token_limit expressed in characters, ~4 chars/token).
func WithCharLimit(n int) Option {
	return func(e *Embedder) { e.charLimit = n }
}

// WithRetryConfig overrides the inner retry envelope's attempt count and
// backoff schedule. Callers should pass the same retry_attempts value used
// for the worker's outer retry (spec.md §9: "Both use the same backoff
// schedule shape"), so cfg.MaxRetries also bounds the validation-retry loop.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Embedder) { e.retryCfg = cfg }
}

// defaultCharLimit mirrors defaultMaxInputChars in
// internal/service/embedding/ollama.go, generalized to apply to every
// provider variant rather than only Ollama.
const defaultCharLimit = 2000

// New wraps provider with the composition described above.
func New(provider Provider, opts ...Option) *Embedder {
	e := &Embedder{provider: provider, charLimit: defaultCharLimit, retryCfg: retry.DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelName returns the underlying provider's model identifier, used in
// cache keys (internal/cache.Key) and on the persisted embedding row.
func (e *Embedder) ModelName() string { return e.provider.ModelName() }

// Generate truncates text, calls the provider, and validates the result if
// a validator is attached. Each provider call is itself wrapped in the
// inner retry envelope (retry.Inner), so a transient transport error is
// retried without consuming a validation attempt. An invalid-but-
// successfully-generated result is retried against the provider again, up
// to cfg.MaxRetries total attempts, before returning a tagged
// embederr.Validation error.
func (e *Embedder) Generate(ctx context.Context, text string) ([]float32, error) {
	truncated := truncateText(text, e.charLimit)

	maxAttempts := e.retryCfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var vec []float32
		genErr := retry.Do(ctx, "embedder.generate", retry.Inner, e.retryCfg, func() error {
			v, err := e.provider.Generate(ctx, truncated)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
		if genErr != nil {
			return nil, genErr
		}

		if e.validator == nil {
			return vec, nil
		}
		if verr := e.validator.Validate(vec, truncated); verr == nil {
			metrics.EmbeddingValidations.WithLabelValues("pass").Inc()
			return vec, nil
		} else {
			metrics.EmbeddingValidations.WithLabelValues("fail").Inc()
			lastErr = verr
			if attempt < maxAttempts-1 {
				metrics.RetryAttempts.WithLabelValues("embedder.generate", string(retry.Inner)).Inc()
			}
		}
	}
	return nil, embederr.New(embederr.Validation, "embedder.generate", lastErr, "embedding failed validation after retry")
}

// truncateText cuts s to at most limit characters, replacing the final
// three with "..." when truncation occurs, per spec.md §4.7. Cutting is by
// rune, not byte, to avoid splitting multi-byte UTF-8 sequences.
func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
