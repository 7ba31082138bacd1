package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iskng/embed-star/internal/breaker"
	"github.com/iskng/embed-star/internal/cache"
	"github.com/iskng/embed-star/internal/config"
	"github.com/iskng/embed-star/internal/discovery"
	"github.com/iskng/embed-star/internal/embedding"
	"github.com/iskng/embed-star/internal/metrics"
	"github.com/iskng/embed-star/internal/ratelimit"
	"github.com/iskng/embed-star/internal/retry"
	"github.com/iskng/embed-star/internal/shutdown"
	"github.com/iskng/embed-star/internal/storage"
	"github.com/iskng/embed-star/internal/telemetry"
	"github.com/iskng/embed-star/internal/validate"
	"github.com/iskng/embed-star/internal/worker"
)

var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger := telemetry.NewLogger(cfg.LogLevel)

	ctl := shutdown.New(logger, 30*time.Second)
	if err := run(ctl, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctl *shutdown.Controller, cfg config.Config, logger *slog.Logger) error {
	ctx := ctl.Context()
	logger.Info("embedstar starting", "version", version)
	logger.Info(cfg.Summary())

	db, err := storage.New(ctx, storage.PoolConfig{
		DSN:                cfg.DBURL,
		MaxSize:            int32(cfg.PoolMaxSize),
		PreWarm:            int32(cfg.PoolSize),
		AcquireWaitTimeout: cfg.PoolWaitTimeout,
		CreateTimeout:      cfg.PoolCreateTimeout,
		RecycleTimeout:     cfg.PoolRecycleTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	retryCfg := retry.Config{
		MaxRetries:      cfg.RetryAttempts,
		InitialInterval: cfg.RetryDelay,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}

	providerKey := normalizeProvider(cfg.EmbeddingProvider)
	provider, validatorCfg := newProvider(providerKey, cfg, logger)
	validator := validate.New(validatorCfg, logger)
	embedder := embedding.New(provider,
		embedding.WithValidator(validator),
		embedding.WithCharLimit(cfg.TokenLimit),
		embedding.WithRetryConfig(retryCfg),
	)

	c := cache.New(cfg.CacheMaxSize, cfg.CacheTTL)
	defer c.Close()

	limiter := ratelimit.NewManager()
	defer limiter.Close()
	configureProviderDefaults(limiter, providerKey)

	breakers := breaker.NewManager(breaker.DefaultConfig(), logger)
	configureBreakerDefaults(breakers, providerKey)

	instanceID := storage.NewInstanceID()
	logger.Info("instance identity", "instance_id", instanceID)

	disc := discovery.New(db, cfg.BatchSize, cfg.ParallelWorkers, logger)
	ctl.Go(func() { disc.Run(ctx) })

	pool := worker.New(worker.Config{
		ParallelWorkers: cfg.ParallelWorkers,
		BatchSize:       cfg.BatchSize,
		BatchTimeout:    cfg.BatchDelay,
		LeaseDuration:   cfg.LockDuration,
		Provider:        providerKey,
		RetryConfig:     retryCfg,
	}, db, embedder, c, limiter, breakers, instanceID, logger)
	ctl.Go(func() { pool.Run(ctx, disc.Records()) })

	ctl.Go(func() { poolHealthLoop(ctx, db, logger) })
	ctl.Go(func() { lockCleanupLoop(ctx, db, logger) })
	ctl.Go(func() { statsReportingLoop(ctx, db, logger) })

	if !ctl.Wait() {
		logger.Warn("embedstar: shutdown deadline elapsed, exiting anyway")
	}
	logger.Info("embedstar stopped")
	return nil
}

// normalizeProvider collapses the accepted spellings of each provider name
// (e.g. "together" and "togetherai") to the single key used to index the
// rate limiter, circuit breaker, and metrics label for that provider.
func normalizeProvider(provider string) string {
	switch provider {
	case "openai":
		return "openai"
	case "together", "togetherai":
		return "together"
	default:
		return "ollama"
	}
}

// newProvider selects an embedding.Provider and the matching validator
// preset per SPEC_FULL.md §3's per-provider defaults.
func newProvider(providerKey string, cfg config.Config, logger *slog.Logger) (embedding.Provider, validate.Config) {
	switch providerKey {
	case "openai":
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, "", 30*time.Second), validate.DefaultConfig()
	case "together":
		logger.Info("embedding provider: together", "model", cfg.EmbeddingModel)
		return embedding.NewTogetherProvider(cfg.TogetherAPIKey, cfg.EmbeddingModel, 30*time.Second), validate.TogetherE5Preset()
	default:
		logger.Info("embedding provider: ollama", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, 30*time.Second), validate.DefaultConfig()
	}
}

// configureProviderDefaults installs the per-provider rate limits from
// SPEC_FULL.md §3 (openai: 3000 rpm, together: 1000 rpm); Ollama is local
// and unbounded, so no bucket is installed for it.
func configureProviderDefaults(limiter *ratelimit.Manager, providerKey string) {
	switch providerKey {
	case "openai":
		limiter.Configure("openai", 3000, 100)
	case "together":
		limiter.Configure("together", 1000, 50)
	default:
		// ollama: no bucket installed, matches rpm=0 "unbounded" semantics.
	}
}

// configureBreakerDefaults installs the per-provider circuit-breaker
// tunables recovered from original_source/src/service.rs's provider
// configuration block (SPEC_FULL.md §3): hosted APIs trip faster and
// recover slower than the local Ollama default.
func configureBreakerDefaults(breakers *breaker.Manager, providerKey string) {
	switch providerKey {
	case "openai":
		breakers.Configure("openai", breaker.Config{
			FailureThreshold: 5, Timeout: 120 * time.Second, SuccessThreshold: 3, FailureRate: 0.5, MinRequests: 10,
		})
	case "together":
		breakers.Configure("together", breaker.Config{
			FailureThreshold: 10, Timeout: 60 * time.Second, SuccessThreshold: 5, FailureRate: 0.6, MinRequests: 20,
		})
	default:
		breakers.Configure("ollama", breaker.Config{
			FailureThreshold: 3, Timeout: 30 * time.Second, SuccessThreshold: 2, FailureRate: 0.3, MinRequests: 5,
		})
	}
}

func poolHealthLoop(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := db.ReportHealth()
			logger.Debug("pool health", "acquired", h.AcquiredConns, "idle", h.IdleConns, "max", h.MaxConns)
		}
	}
}

// statsReportingLoop mirrors original_source/src/service.rs's
// report_stats_loop: every 60s it updates the repos_pending/repos_processed
// gauges from the current database counts.
func statsReportingLoop(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			pending, err := db.CountPending(opCtx)
			if err != nil {
				logger.Warn("stats: count pending failed", "error", err)
				cancel()
				continue
			}
			processed, err := db.CountEmbedded(opCtx)
			cancel()
			if err != nil {
				logger.Warn("stats: count embedded failed", "error", err)
				continue
			}
			metrics.ReposPending.Set(float64(pending))
			metrics.ReposProcessed.Set(float64(processed))
			logger.Debug("stats reported", "pending", pending, "processed", processed)
		}
	}
}

func lockCleanupLoop(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := db.CleanupExpiredLocks(opCtx)
			cancel()
			if err != nil {
				logger.Warn("lock cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("expired locks cleaned up", "deleted", deleted)
			}
		}
	}
}
