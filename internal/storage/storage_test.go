package storage_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskng/embed-star/internal/record"
	"github.com/iskng/embed-star/internal/retry"
	"github.com/iskng/embed-star/internal/storage"
	"github.com/iskng/embed-star/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer db.Close()

	testDB = db
	os.Exit(m.Run())
}

func insertRepo(t *testing.T, ctx context.Context, id string, needsEmbedding bool) {
	t.Helper()
	var err error
	if needsEmbedding {
		_, err = testDB.Pool().Exec(ctx, `
			INSERT INTO repo (id, github_id, name, full_name, url, owner_login)
			VALUES ($1, hashtext($1)::bigint, $1, 'owner/'||$1, 'https://github.com/owner/'||$1, 'owner')
			ON CONFLICT (id) DO NOTHING`, id)
	} else {
		_, err = testDB.Pool().Exec(ctx, `
			INSERT INTO repo (id, github_id, name, full_name, url, owner_login, embedding, embedding_generated_at)
			VALUES ($1, hashtext($1)::bigint, $1, 'owner/'||$1, 'https://github.com/owner/'||$1, 'owner', $2, now())
			ON CONFLICT (id) DO NOTHING`, id, make([]float32, 3))
	}
	require.NoError(t, err)
}

func cleanupRepo(t *testing.T, ctx context.Context, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, _ = testDB.Pool().Exec(ctx, `DELETE FROM processing_lock WHERE record_id = $1`, id)
		_, _ = testDB.Pool().Exec(ctx, `DELETE FROM repo WHERE id = $1`, id)
	}
}

func TestScanBacklogReturnsOnlyRecordsNeedingEmbedding(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "scan-needs-1", true)
	insertRepo(t, ctx, "scan-done-1", false)
	defer cleanupRepo(t, ctx, "scan-needs-1", "scan-done-1")

	recs, err := testDB.ScanBacklog(ctx, "", 100)
	require.NoError(t, err)

	var sawNeeds, sawDone bool
	for _, r := range recs {
		if r.ID == "scan-needs-1" {
			sawNeeds = true
		}
		if r.ID == "scan-done-1" {
			sawDone = true
		}
	}
	assert.True(t, sawNeeds, "expected scan-needs-1 in backlog")
	assert.False(t, sawDone, "did not expect scan-done-1 in backlog")
}

func TestTryAcquireLockIsExclusiveAcrossInstances(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "lock-exclusive-1", true)
	defer cleanupRepo(t, ctx, "lock-exclusive-1")

	ok1, err := testDB.TryAcquireLock(ctx, "lock-exclusive-1", "instance-a", storage.DefaultLeaseDuration)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := testDB.TryAcquireLock(ctx, "lock-exclusive-1", "instance-b", storage.DefaultLeaseDuration)
	require.NoError(t, err)
	assert.False(t, ok2, "a second instance must not acquire a still-leased record")
}

func TestTryAcquireLockReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "lock-expired-1", true)
	defer cleanupRepo(t, ctx, "lock-expired-1")

	ok, err := testDB.TryAcquireLock(ctx, "lock-expired-1", "instance-a", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = testDB.TryAcquireLock(ctx, "lock-expired-1", "instance-b", storage.DefaultLeaseDuration)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be reclaimable by another instance")
}

func TestReleaseLockOnlyAffectsOwningInstance(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "lock-release-1", true)
	defer cleanupRepo(t, ctx, "lock-release-1")

	_, err := testDB.TryAcquireLock(ctx, "lock-release-1", "instance-a", storage.DefaultLeaseDuration)
	require.NoError(t, err)

	require.NoError(t, testDB.ReleaseLock(ctx, "lock-release-1", "instance-b", "completed"))

	ok, err := testDB.TryAcquireLock(ctx, "lock-release-1", "instance-c", storage.DefaultLeaseDuration)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")
}

func TestCleanupExpiredLocksDeletesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "cleanup-expired-1", true)
	insertRepo(t, ctx, "cleanup-live-1", true)
	defer cleanupRepo(t, ctx, "cleanup-expired-1", "cleanup-live-1")

	_, err := testDB.TryAcquireLock(ctx, "cleanup-expired-1", "instance-a", -time.Second)
	require.NoError(t, err)
	_, err = testDB.TryAcquireLock(ctx, "cleanup-live-1", "instance-a", time.Hour)
	require.NoError(t, err)

	deleted, err := testDB.CleanupExpiredLocks(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	ok, err := testDB.TryAcquireLock(ctx, "cleanup-live-1", "instance-b", storage.DefaultLeaseDuration)
	require.NoError(t, err)
	assert.False(t, ok, "live lock must survive cleanup")
}

func TestBatchWriteUpdatesEmbeddingAndGeneratedAt(t *testing.T) {
	ctx := context.Background()
	insertRepo(t, ctx, "batch-write-1", true)
	defer cleanupRepo(t, ctx, "batch-write-1")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	result := testDB.BatchWrite(ctx, []record.EmbeddingUpdate{
		{RecordID: "batch-write-1", Vector: []float32{0.1, 0.2, 0.3}, Model: "test-model"},
	}, retry.Config{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}, logger)

	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 0, result.Failed)

	recs, err := testDB.ScanBacklog(ctx, "", 100)
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, "batch-write-1", r.ID, "record must no longer need embedding after write-back")
	}
}
