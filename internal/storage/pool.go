// Package storage provides the PostgreSQL storage layer for the embedding
// worker: the bounded connection pool (C1), the repository-record queries
// used for discovery (C9), the distributed processing-lock manager (C8),
// and the batched embedding write-back (spec.md §4.11).
//
// Grounded on internal/storage/pool.go (pgxpool wiring, AfterConnect
// hook, logger-carrying DB struct) and original_source/src/pool_metrics.rs
// / pool.rs (the three independently-timed phases and the RETURN 1 /
// SELECT 1 revalidation probe).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
)

// PoolConfig holds the connection pool parameters from spec.md §4.1 (C1).
type PoolConfig struct {
	DSN                string
	MaxSize            int32
	PreWarm            int32
	AcquireWaitTimeout time.Duration
	CreateTimeout      time.Duration
	RecycleTimeout     time.Duration
}

// DB wraps a pgxpool.Pool configured per PoolConfig, with an on-acquire
// revalidation probe (SELECT 1 — the Postgres equivalent of the SurrealQL
// RETURN 1 probe in original_source/src/pool_metrics.rs) and exports a
// health snapshot for the periodic pool-health background loop described
// in SPEC_FULL.md §3.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a pool per cfg. PreWarm connections are established eagerly so
// that the first discovery cycle doesn't pay full connection-setup latency.
func New(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, embederr.New(embederr.Configuration, "storage.new", err, "parse pool DSN")
	}

	poolCfg.MaxConns = cfg.MaxSize
	poolCfg.MinConns = cfg.PreWarm
	poolCfg.MaxConnLifetime = cfg.RecycleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.CreateTimeout

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	// BeforeAcquire revalidates an idle connection with a trivial round
	// trip before handing it to a caller; a failing probe tells pgxpool to
	// discard the connection and create a fresh one instead.
	poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		var one int
		err := conn.QueryRow(ctx, "SELECT 1").Scan(&one)
		return err == nil && one == 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, embederr.New(embederr.Database, "storage.new", err, "create pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.CreateTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, embederr.New(embederr.Database, "storage.new", err, "ping pool")
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying pgxpool.Pool for use by other storage methods.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Close shuts down the pool.
func (db *DB) Close() { db.pool.Close() }

// Ping checks connectivity. It is bounded only by ctx; the pool's
// acquire-wait timeout is not applied.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Health is a point-in-time snapshot of pool utilization, published on the
// pool-health background loop described in SPEC_FULL.md §3.
type Health struct {
	AcquiredConns int32
	IdleConns     int32
	MaxConns      int32
	TotalConns    int32
}

// ReportHealth reads pgxpool's internal stat struct and records it on the
// pool-size-in-use gauge.
func (db *DB) ReportHealth() Health {
	stat := db.pool.Stat()
	h := Health{
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
		TotalConns:    stat.TotalConns(),
	}
	metrics.ActiveConnections.Set(float64(h.AcquiredConns))
	return h
}

// AcquireWithWaitTimeout acquires a connection, bounding only the
// acquire-wait phase (spec.md §4.1 treats acquire-wait, creation, and
// recycling as three independently timed phases; creation and recycling
// are governed by ConnectTimeout/MaxConnLifetime on the pool itself).
func (db *DB) AcquireWithWaitTimeout(ctx context.Context, wait time.Duration) (*pgxpool.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	conn, err := db.pool.Acquire(waitCtx)
	if err != nil {
		return nil, embederr.New(embederr.Database, "storage.acquire", err, fmt.Sprintf("acquire timed out after %s", wait))
	}
	return conn, nil
}
