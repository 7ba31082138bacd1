package ratelimit

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iskng/embed-star/internal/metrics"
)

func TestManagerUnconfiguredProviderAlwaysAllows(t *testing.T) {
	m := NewManager()
	defer m.Close()
	ok, err := m.Check(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok, "expected unconfigured provider to always allow")
}

func TestManagerConfigureZeroRPMDisablesLimit(t *testing.T) {
	m := NewManager()
	defer m.Close()
	m.Configure("p", 60, 1)
	m.Configure("p", 0, 0)
	for i := 0; i < 5; i++ {
		ok, _ := m.Check(context.Background(), "p")
		assert.True(t, ok, "expected rpm=0 to remove the bucket entirely")
	}
}

func TestManagerEnforcesBurst(t *testing.T) {
	m := NewManager()
	defer m.Close()
	m.Configure("p", 60, 1)

	ok, _ := m.Check(context.Background(), "p")
	assert.True(t, ok, "expected first request to be allowed")
	ok, _ = m.Check(context.Background(), "p")
	assert.False(t, ok, "expected second immediate request to be rate limited")
}

// TestManagerCountsRateLimitRejections covers spec.md §7's RateLimited row:
// a denied non-blocking Check must be counted in rate_limits_total.
func TestManagerCountsRateLimitRejections(t *testing.T) {
	m := NewManager()
	defer m.Close()
	m.Configure("rate-limit-metric-test", 60, 1)

	before := counterValue(t, "rate-limit-metric-test")
	_, _ = m.Check(context.Background(), "rate-limit-metric-test")
	ok, _ := m.Check(context.Background(), "rate-limit-metric-test")
	require.False(t, ok)
	after := counterValue(t, "rate-limit-metric-test")

	assert.Equal(t, before+1, after)
}

func counterValue(t *testing.T, provider string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.RateLimitsTotal.WithLabelValues(provider).Write(&m))
	return m.GetCounter().GetValue()
}

func TestManagerWaitForPermitBlocksThenSucceeds(t *testing.T) {
	m := NewManager()
	defer m.Close()
	m.Configure("p", 600, 1) // 10/sec, refills fast for the test

	_, _ = m.Check(context.Background(), "p")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.WaitForPermit(ctx, "p"), "expected permit to become available")
}

func TestManagerWaitForPermitRespectsContextCancellation(t *testing.T) {
	m := NewManager()
	defer m.Close()
	m.Configure("p", 1, 1) // 1/min, effectively never refills within the test window

	_, _ = m.Check(context.Background(), "p")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, m.WaitForPermit(ctx, "p"), "expected context deadline to cancel the wait")
}
