package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskng/embed-star/internal/breaker"
	"github.com/iskng/embed-star/internal/cache"
	"github.com/iskng/embed-star/internal/embedding"
	"github.com/iskng/embed-star/internal/ratelimit"
	"github.com/iskng/embed-star/internal/record"
	"github.com/iskng/embed-star/internal/retry"
)

type fakeProvider struct{}

func (fakeProvider) ModelName() string { return "fake-model" }
func (fakeProvider) Generate(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	locks    map[string]bool
	written  []record.EmbeddingUpdate
	releases map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{locks: make(map[string]bool), releases: make(map[string]string)}
}

func (f *fakeStore) TryAcquireLock(_ context.Context, recordID, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[recordID] {
		return false, nil
	}
	f.locks[recordID] = true
	return true, nil
}

func (f *fakeStore) ExtendLock(_ context.Context, _, _ string, _ time.Duration) error {
	return nil
}

func (f *fakeStore) ReleaseLock(_ context.Context, recordID, _, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases[recordID] = status
	return nil
}

func (f *fakeStore) BatchWrite(_ context.Context, updates []record.EmbeddingUpdate, _ retry.Config, _ *slog.Logger) record.BatchUpdateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, updates...)
	return record.BatchUpdateResult{Total: len(updates), Successful: len(updates)}
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(store *fakeStore, batchSize int, batchTimeout time.Duration) *Pool {
	e := embedding.New(fakeProvider{})
	c := cache.New(100, time.Hour)
	limiter := ratelimit.NewManager()
	breakers := breaker.NewManager(breaker.DefaultConfig(), silentLogger())
	cfg := Config{
		ParallelWorkers: 2,
		BatchSize:       batchSize,
		BatchTimeout:    batchTimeout,
		LeaseDuration:   time.Minute,
		Provider:        "fake",
		RetryConfig:     retry.DefaultConfig(),
	}
	return New(cfg, store, e, c, limiter, breakers, "instance-1", silentLogger())
}

func TestPoolProcessesAndReleasesLocks(t *testing.T) {
	store := newFakeStore()
	pool := newTestPool(store, 2, 50*time.Millisecond)

	in := make(chan record.Record, 4)
	in <- record.Record{ID: "r1", FullName: "a/b"}
	in <- record.Record{ID: "r2", FullName: "a/c"}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Run(ctx, in)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.written, 2)
	assert.Equal(t, "completed", store.releases["r1"])
	assert.Equal(t, "completed", store.releases["r2"])
}

func TestPoolSkipsAlreadyLockedRecord(t *testing.T) {
	store := newFakeStore()
	store.locks["r1"] = true // simulate another instance holding the lock
	pool := newTestPool(store, 1, 50*time.Millisecond)

	in := make(chan record.Record, 1)
	in <- record.Record{ID: "r1", FullName: "a/b"}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pool.Run(ctx, in)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.written, "expected no writes for a record locked elsewhere")
}

func TestPoolFlushesOnBatchTimeoutNotOnlyOnSize(t *testing.T) {
	store := newFakeStore()
	pool := newTestPool(store, 10, 30*time.Millisecond) // batch size never reached by 1 record

	in := make(chan record.Record, 1)
	in <- record.Record{ID: "r1", FullName: "a/b"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(in)
	}()
	pool.Run(ctx, in)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.written, 1, "expected timer-driven flush to write the single record")
}

// TestPoolDrainsCurrentBatchOnShutdown covers spec.md §8 scenario 5: a
// single worker (ParallelWorkers=1) with a batch of records already
// sitting in the discovery channel when the context is canceled must keep
// consuming up to BatchSize before exiting, not abandon them.
func TestPoolDrainsCurrentBatchOnShutdown(t *testing.T) {
	store := newFakeStore()
	e := embedding.New(fakeProvider{})
	c := cache.New(100, time.Hour)
	limiter := ratelimit.NewManager()
	breakers := breaker.NewManager(breaker.DefaultConfig(), silentLogger())
	cfg := Config{
		ParallelWorkers: 1,
		BatchSize:       10,
		BatchTimeout:    time.Hour, // never fires on its own
		LeaseDuration:   time.Minute,
		Provider:        "fake",
		RetryConfig:     retry.DefaultConfig(),
	}
	pool := New(cfg, store, e, c, limiter, breakers, "instance-1", silentLogger())

	in := make(chan record.Record, 10)
	for i := 0; i < 10; i++ {
		in <- record.Record{ID: fmt.Sprintf("r%d", i), FullName: "a/b"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown is already requested before the worker starts pulling

	done := make(chan struct{})
	go func() {
		pool.Run(ctx, in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool.Run did not return after shutdown")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.written, 10, "expected the current batch of 10 records to be fully drained before exit")
}
