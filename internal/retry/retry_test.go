package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskng/embed-star/internal/embederr"
)

func TestRetryThenSucceed(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := Do(context.Background(), "test_op", Outer, cfg, func() error {
		calls++
		if calls < 3 {
			return embederr.New(embederr.Database, "test", errors.New("transient"), "")
		}
		return nil
	})
	require.NoError(t, err, "expected eventual success")
	assert.Equal(t, 3, calls)
}

func TestNonRetryableReturnsImmediately(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	err := Do(context.Background(), "test_op", Inner, cfg, func() error {
		calls++
		return embederr.New(embederr.Validation, "test", errors.New("bad shape"), "")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "expected exactly 1 call for a non-retryable error")
}

func TestExhaustsMaxRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := Do(context.Background(), "test_op", Outer, cfg, func() error {
		calls++
		return embederr.New(embederr.ServiceUnavailable, "test", errors.New("down"), "")
	})
	require.Error(t, err, "expected error after exhausting retries")
	assert.Equal(t, 3, calls, "expected 3 calls (1 + max_retries)")
}
