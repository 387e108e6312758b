package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func upstreamThrottled(context.Context) error {
	return eris.Wrap(ErrThrottled, "nominatim")
}

func TestGuard_Unlimited(t *testing.T) {
	g := NewGuard(GuardConfig{})

	var calls int
	for range 10 {
		require.NoError(t, g.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 10, calls)
	assert.Equal(t, rate.Inf, g.Limit())
}

func TestGuard_OpensOnThrottling(t *testing.T) {
	g := NewGuard(GuardConfig{
		Breaker: CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})

	for range 5 {
		_ = g.Do(context.Background(), func(context.Context) error { return errors.New("connection refused") })
	}
	assert.Equal(t, CircuitClosed, g.Breaker().State(), "only throttling trips the guard")

	_ = g.Do(context.Background(), upstreamThrottled)
	_ = g.Do(context.Background(), upstreamThrottled)

	err := g.Do(context.Background(), func(context.Context) error {
		t.Fatal("called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, g.Breaker().State())
}

func TestGuard_SlowsDownAndRecovers(t *testing.T) {
	g := NewGuard(GuardConfig{
		RequestsPerSecond: 1000,
		Burst:             10,
		Breaker:           CircuitBreakerConfig{FailureThreshold: 100},
	})

	_ = g.Do(context.Background(), upstreamThrottled)
	assert.InDelta(t, 500, float64(g.Limit()), 0.001)

	for range 5 {
		_ = g.Do(context.Background(), upstreamThrottled)
	}
	assert.InDelta(t, 250, float64(g.Limit()), 0.001, "never below a quarter of the configured rate")

	_ = g.Do(context.Background(), func(context.Context) error { return errors.New("invalid response code 500") })
	assert.InDelta(t, 250, float64(g.Limit()), 0.001, "other errors leave the pace alone")

	for range 20 {
		require.NoError(t, g.Do(context.Background(), ok))
	}
	assert.InDelta(t, 1000, float64(g.Limit()), 0.001, "never above the configured rate")
}

func TestGuard_WaitHonorsContext(t *testing.T) {
	g := NewGuard(GuardConfig{RequestsPerSecond: 0.001})
	require.NoError(t, g.Do(context.Background(), ok))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Do(ctx, func(context.Context) error {
		t.Fatal("should not run before a slot is free")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for rate limit")
}
