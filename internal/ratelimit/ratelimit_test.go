package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	limiter, err := New(Config{MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.IsType(t, &AdaptiveRateLimiter{}, limiter)
	_, ok := limiter.(Feedback)
	assert.True(t, ok)

	limiter, err = New(Config{Mode: ModeTokenBucket, RequestsPerSecond: 10, Burst: 2})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucketRateLimiter{}, limiter)

	_, err = New(Config{Mode: "bogus"})
	assert.Error(t, err)
}

func TestJitterRateLimiterSpacesRequests(t *testing.T) {
	limiter := NewJitterRateLimiter(20*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestJitterRateLimiterHonoursCancel(t *testing.T) {
	limiter := NewJitterRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(time.Second, 2*time.Second)

	for i := 0; i < adaptiveErrorThreshold; i++ {
		limiter.RecordError()
	}
	min, max := limiter.Delays()
	assert.Equal(t, 1500*time.Millisecond, min)
	assert.Equal(t, 3*time.Second, max)

	for i := 0; i < adaptiveSuccessThreshold; i++ {
		limiter.RecordSuccess()
	}
	min, _ = limiter.Delays()
	assert.Equal(t, 1350*time.Millisecond, min)

	for j := 0; j < 20; j++ {
		for i := 0; i < adaptiveSuccessThreshold; i++ {
			limiter.RecordSuccess()
		}
	}
	min, _ = limiter.Delays()
	assert.Equal(t, time.Second, min)
}

func TestAdaptiveRateLimiterCeiling(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)
	for i := 0; i < adaptiveErrorThreshold*5; i++ {
		limiter.RecordError()
	}
	min, max := limiter.Delays()
	assert.Equal(t, adaptiveMinCeiling, min)
	assert.Equal(t, adaptiveMaxCeiling, max)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1000, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}

	limiter.SetDelay(0, 0)
	require.NoError(t, limiter.Wait(ctx))
}
