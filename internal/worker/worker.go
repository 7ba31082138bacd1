// Package worker implements the bounded worker pool (C10) from spec.md
// §4.10: parallelWorkers goroutines share one discovery channel, each
// carrying a record through the full per-record lifecycle (lock, cache
// lookup, rate limit, breaker+retry+generate, validate, cache+stage) and
// flushing a single batched write-back once its local batch fills or a
// timer elapses.
//
// Grounded on original_source/src/service.rs's process_batch_loop_worker
// and process_batch.rs's per-record state machine, composed with a
// ticker/select background-loop shape.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iskng/embed-star/internal/breaker"
	"github.com/iskng/embed-star/internal/cache"
	"github.com/iskng/embed-star/internal/embedding"
	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
	"github.com/iskng/embed-star/internal/ratelimit"
	"github.com/iskng/embed-star/internal/record"
	"github.com/iskng/embed-star/internal/retry"
)

// Store is the subset of *storage.DB the worker pool depends on.
type Store interface {
	TryAcquireLock(ctx context.Context, recordID, instanceID string, leaseDuration time.Duration) (bool, error)
	ExtendLock(ctx context.Context, recordID, instanceID string, leaseDuration time.Duration) error
	ReleaseLock(ctx context.Context, recordID, instanceID, status string) error
	BatchWrite(ctx context.Context, updates []record.EmbeddingUpdate, retryCfg retry.Config, logger *slog.Logger) record.BatchUpdateResult
}

// Config holds the tunables named in spec.md §4.10.
type Config struct {
	ParallelWorkers int
	BatchSize       int
	BatchTimeout    time.Duration
	LeaseDuration   time.Duration
	Provider        string // rate-limit/breaker key, e.g. "ollama", "openai", "together"
	RetryConfig     retry.Config
}

// Pool runs Config.ParallelWorkers goroutines over a shared input channel.
type Pool struct {
	cfg        Config
	store      Store
	embedder   *embedding.Embedder
	cache      *cache.Cache
	limiter    *ratelimit.Manager
	breakers   *breaker.Manager
	instanceID string
	logger     *slog.Logger
}

// New constructs a worker Pool.
func New(cfg Config, store Store, embedder *embedding.Embedder, c *cache.Cache, limiter *ratelimit.Manager, breakers *breaker.Manager, instanceID string, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		cache:      c,
		limiter:    limiter,
		breakers:   breakers,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Run starts Config.ParallelWorkers goroutines consuming in, blocking
// until in is closed and every worker has drained its current batch.
func (p *Pool) Run(ctx context.Context, in <-chan record.Record) {
	var g errgroup.Group
	for i := 0; i < p.cfg.ParallelWorkers; i++ {
		workerID := i
		g.Go(func() error {
			p.runWorker(ctx, workerID, in)
			return nil
		})
	}
	_ = g.Wait()
}

// runWorker pulls records off in, staging successful embeddings into a
// local batch and flushing it when full or when the batch timer fires. On
// shutdown (ctx done), per spec.md §4.10 step 1 and its gather-then-process
// batch semantics, it does not abandon records already sitting in in for
// the current batch: it keeps draining records already buffered in in
// (against a background context, since ctx is already done) until the
// batch reaches BatchSize or in has nothing buffered or is closed, then
// flushes before returning.
func (p *Pool) runWorker(ctx context.Context, workerID int, in <-chan record.Record) {
	batch := make([]record.EmbeddingUpdate, 0, p.cfg.BatchSize)
	timer := time.NewTimer(p.cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		result := p.store.BatchWrite(context.Background(), batch, p.cfg.RetryConfig, p.logger)
		p.logger.Info("worker: batch flushed",
			"worker", workerID, "total", result.Total, "successful", result.Successful, "failed", result.Failed, "duration", result.Duration)

		failed := make(map[string]struct{}, len(result.FailedIDs))
		for _, id := range result.FailedIDs {
			failed[id] = struct{}{}
		}
		for _, u := range batch {
			status := "completed"
			if _, isFailed := failed[u.RecordID]; isFailed {
				status = "failed"
			}
			if err := p.store.ReleaseLock(context.Background(), u.RecordID, p.instanceID, status); err != nil {
				p.logger.Warn("worker: release lock failed", "record_id", u.RecordID, "error", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain the current batch per spec.md §4.10 step 1: records
			// already sitting in the discovery channel for this batch are
			// processed, not abandoned, up to BatchSize or until in has
			// nothing left to offer. processOne runs against a background
			// context here since ctx is already done.
			drainCtx := context.Background()
			for len(batch) < p.cfg.BatchSize {
				var r record.Record
				ok := false
				select {
				case r, ok = <-in:
				default:
				}
				if !ok {
					break
				}
				if update, staged := p.processOne(drainCtx, r); staged {
					batch = append(batch, update)
				}
			}
			flush()
			return
		case r, ok := <-in:
			if !ok {
				flush()
				return
			}
			if update, staged := p.processOne(ctx, r); staged {
				batch = append(batch, update)
				if len(batch) >= p.cfg.BatchSize {
					flush()
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(p.cfg.BatchTimeout)
				}
			}
		case <-timer.C:
			flush()
			timer.Reset(p.cfg.BatchTimeout)
		}
	}
}

// processOne runs the full per-record lifecycle and returns the staged
// update plus whether staging succeeded. Failures release the lock with
// status "failed" and return (zero-value, false).
func (p *Pool) processOne(ctx context.Context, r record.Record) (record.EmbeddingUpdate, bool) {
	acquired, err := p.store.TryAcquireLock(ctx, r.ID, p.instanceID, p.cfg.LeaseDuration)
	if err != nil {
		p.logger.Warn("worker: lock acquisition error", "record_id", r.ID, "error", err)
		metrics.EmbeddingsErrors.WithLabelValues(p.cfg.Provider, string(embederr.KindOf(err))).Inc()
		return record.EmbeddingUpdate{}, false
	}
	if !acquired {
		// Another instance holds this record; not an error.
		return record.EmbeddingUpdate{}, false
	}

	model := p.embedder.ModelName()
	key := cache.Key(r.FullName, model)
	if vec, cachedModel, ok := p.cache.Get(key); ok {
		return record.EmbeddingUpdate{RecordID: r.ID, Vector: vec, Model: cachedModel}, true
	}

	// Generation can retry across both the inner and outer envelopes and
	// may run long enough to approach the lease's expiry; push it back out
	// to the full lease duration before starting the call chain.
	if err := p.store.ExtendLock(ctx, r.ID, p.instanceID, p.cfg.LeaseDuration); err != nil {
		p.logger.Warn("worker: lock extension failed", "record_id", r.ID, "error", err)
	}

	vec, err := p.generateWithGuards(ctx, r)
	if err != nil {
		p.logger.Warn("worker: embedding generation failed", "record_id", r.ID, "error", err)
		metrics.EmbeddingsErrors.WithLabelValues(p.cfg.Provider, string(embederr.KindOf(err))).Inc()
		if relErr := p.store.ReleaseLock(context.Background(), r.ID, p.instanceID, "failed"); relErr != nil {
			p.logger.Warn("worker: release lock after failure", "record_id", r.ID, "error", relErr)
		}
		return record.EmbeddingUpdate{}, false
	}

	p.cache.Put(key, vec, model)
	metrics.EmbeddingsTotal.WithLabelValues(p.cfg.Provider, model).Inc()
	return record.EmbeddingUpdate{RecordID: r.ID, Vector: vec, Model: model}, true
}

// generateWithGuards wraps embedder.Generate with the rate limiter, the
// circuit breaker, and the outer retry envelope, in that order — the call
// chain described in original_source/src/service.rs.
func (p *Pool) generateWithGuards(ctx context.Context, r record.Record) ([]float32, error) {
	if err := p.limiter.WaitForPermit(ctx, p.cfg.Provider); err != nil {
		return nil, err
	}
	if !p.breakers.ShouldAllow(p.cfg.Provider) {
		metrics.ProviderRequests.WithLabelValues(p.cfg.Provider, "breaker_open").Inc()
		return nil, embederr.New(embederr.ServiceUnavailable, "worker.generate", nil, "circuit breaker open for provider "+p.cfg.Provider)
	}

	var vec []float32
	start := time.Now()
	err := retry.Do(ctx, "embedder.generate", retry.Outer, p.cfg.RetryConfig, func() error {
		v, genErr := p.embedder.Generate(ctx, r.EmbeddingText())
		if genErr != nil {
			return genErr
		}
		vec = v
		return nil
	})
	metrics.EmbeddingDuration.WithLabelValues(p.cfg.Provider).Observe(time.Since(start).Seconds())

	if err != nil {
		p.breakers.RecordFailure(p.cfg.Provider)
		metrics.ProviderRequests.WithLabelValues(p.cfg.Provider, "failure").Inc()
		return nil, err
	}
	p.breakers.RecordSuccess(p.cfg.Provider)
	metrics.ProviderRequests.WithLabelValues(p.cfg.Provider, "success").Inc()
	return vec, nil
}
