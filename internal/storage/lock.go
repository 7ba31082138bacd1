package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iskng/embed-star/internal/embederr"
	"github.com/iskng/embed-star/internal/metrics"
)

// NewInstanceID generates this process's lock-owner identity, per
// original_source/src/deduplication.rs's "embed_star_<uuid>" naming.
func NewInstanceID() string {
	return "embed_star_" + uuid.NewString()
}

// DefaultLeaseDuration is the lock lifetime absent an explicit extension,
// matching the original's 300-second default lease.
const DefaultLeaseDuration = 300 * time.Second

// TryAcquireLock attempts to take ownership of recordID for leaseDuration.
// It uses an ON CONFLICT DO UPDATE ... WHERE expires_at < now() +
// RowsAffected()==1 idiom: a conflicting row (held by this or another
// instance, and not yet expired) means the insert affects zero rows,
// reported here as acquired=false rather than an error — lock contention
// is an expected, non-exceptional outcome (spec.md §4.8).
func (db *DB) TryAcquireLock(ctx context.Context, recordID, instanceID string, leaseDuration time.Duration) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO processing_lock (record_id, instance_id, locked_at, expires_at, status)
		VALUES ($1, $2, now(), now() + $3, 'processing')
		ON CONFLICT (record_id) DO UPDATE
		  SET instance_id = $2, locked_at = now(), expires_at = now() + $3, status = 'processing'
		  WHERE processing_lock.expires_at < now()`,
		recordID, instanceID, leaseDuration,
	)
	if err != nil {
		return false, embederr.New(embederr.Database, "storage.try_acquire_lock", err, "acquire lock")
	}
	acquired := tag.RowsAffected() == 1
	if acquired {
		metrics.LocksHeld.Inc()
	}
	return acquired, nil
}

// ReleaseLock marks recordID's lock as terminal (status is "completed" or
// "failed") and owned by instanceID. A lock released by any other instance
// is left untouched — ownership is enforced in the WHERE clause, matching
// the original's scoped lease guard semantics.
func (db *DB) ReleaseLock(ctx context.Context, recordID, instanceID, status string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE processing_lock
		SET status = $3, expires_at = now()
		WHERE record_id = $1 AND instance_id = $2 AND status = 'processing'`,
		recordID, instanceID, status,
	)
	if err != nil {
		return embederr.New(embederr.Database, "storage.release_lock", err, "release lock")
	}
	if tag.RowsAffected() == 1 {
		metrics.LocksHeld.Dec()
	}
	return nil
}

// ExtendLock pushes expires_at forward by leaseDuration for a lock this
// instance still owns and is still processing. Used by long-running batch
// work that would otherwise outlive the default lease.
func (db *DB) ExtendLock(ctx context.Context, recordID, instanceID string, leaseDuration time.Duration) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE processing_lock
		SET expires_at = now() + $3
		WHERE record_id = $1 AND instance_id = $2 AND status = 'processing'`,
		recordID, instanceID, leaseDuration,
	)
	if err != nil {
		return embederr.New(embederr.Database, "storage.extend_lock", err, "extend lock")
	}
	if tag.RowsAffected() == 0 {
		return embederr.New(embederr.Database, "storage.extend_lock", nil,
			fmt.Sprintf("lock for %s not owned by %s or no longer processing", recordID, instanceID))
	}
	return nil
}

// CleanupExpiredLocks deletes locks whose lease has elapsed, regardless of
// owner. Called on the 5-minute cleanup cadence described in
// original_source/src/cleanup.rs: a crashed instance's lease is never
// actively released, so expiry is the only mechanism that frees the
// record for another instance to claim.
func (db *DB) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM processing_lock WHERE expires_at < now()`)
	if err != nil {
		return 0, embederr.New(embederr.Database, "storage.cleanup_expired_locks", err, "cleanup expired locks")
	}
	return tag.RowsAffected(), nil
}
