package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/record"
	"github.com/iskng/embed-star/internal/retry"
)

// BatchWrite persists a batch of embedding updates. It first attempts a
// single multi-statement transaction; if that fails (e.g. a serialization
// conflict or a connection drop mid-batch), it falls back to committing
// each row individually, wrapping each row in internal/retry so a
// transient per-row failure doesn't fail the whole batch. Grounded on
// original_source/src/surreal_client.rs's batch_update_embeddings /
// batch_update_with_transaction / fallback_individual_updates sequence.
func (db *DB) BatchWrite(ctx context.Context, updates []record.EmbeddingUpdate, retryCfg retry.Config, logger *slog.Logger) record.BatchUpdateResult {
	start := time.Now()
	result := record.BatchUpdateResult{Total: len(updates)}
	if len(updates) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	txErr := WithRetry(ctx, 2, 50*time.Millisecond, func() error {
		return db.batchWriteTx(ctx, updates)
	})
	if txErr == nil {
		result.Successful = len(updates)
		result.Duration = time.Since(start)
		return result
	} else {
		logger.Warn("storage: batch transaction failed, falling back to per-row writes", "error", txErr, "batch_size", len(updates))
	}

	for _, u := range updates {
		u := u
		writeErr := retry.Do(ctx, "storage.write_one", retry.Outer, retryCfg, func() error {
			return db.writeOne(ctx, u)
		})
		if writeErr != nil {
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, u.RecordID)
			logger.Error("storage: write-back failed for record", "record_id", u.RecordID, "error", writeErr)
			continue
		}
		result.Successful++
	}
	result.Duration = time.Since(start)
	return result
}

func (db *DB) batchWriteTx(ctx context.Context, updates []record.EmbeddingUpdate) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return embederr.New(embederr.Database, "storage.batch_write_tx", err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE repo SET embedding = $2, embedding_generated_at = now() WHERE id = $1`,
			u.RecordID, pgvector.NewVector(u.Vector),
		); err != nil {
			return embederr.New(embederr.Database, "storage.batch_write_tx", err, "update row")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return embederr.New(embederr.Database, "storage.batch_write_tx", err, "commit transaction")
	}
	return nil
}

func (db *DB) writeOne(ctx context.Context, u record.EmbeddingUpdate) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE repo SET embedding = $2, embedding_generated_at = now() WHERE id = $1`,
		u.RecordID, pgvector.NewVector(u.Vector),
	)
	if err != nil {
		return embederr.New(embederr.Database, "storage.write_one", err, "update row")
	}
	return nil
}
