package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ModeAdaptive    = "adaptive"
	ModeTokenBucket = "token_bucket"
)

// RateLimiter gates outgoing requests to the review site.
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Feedback is implemented by limiters that adjust to fetch outcomes.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// Config selects and tunes a limiter.
type Config struct {
	Mode     string
	MinDelay time.Duration
	MaxDelay time.Duration
	// RequestsPerSecond and Burst apply to ModeTokenBucket only.
	RequestsPerSecond float64
	Burst             int
}

// New creates the limiter selected by cfg.Mode.
func New(cfg Config) (RateLimiter, error) {
	switch cfg.Mode {
	case "", ModeAdaptive:
		return NewAdaptiveRateLimiter(cfg.MinDelay, cfg.MaxDelay), nil
	case ModeTokenBucket:
		return NewTokenBucketRateLimiter(cfg.RequestsPerSecond, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", cfg.Mode)
	}
}

// JitterRateLimiter spaces requests by a random delay in [minDelay, maxDelay).
type JitterRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

// NewJitterRateLimiter creates a new jitter rate limiter.
func NewJitterRateLimiter(minDelay, maxDelay time.Duration) *JitterRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

// Wait blocks until the delay since the previous request has elapsed.
// Callers are serialized so concurrent workers share one politeness budget.
func (r *JitterRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wait := r.nextDelay() - time.Since(r.lastAction); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *JitterRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max < min {
		max = min
	}
	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *JitterRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *JitterRateLimiter) nextDelay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	return r.minDelay + time.Duration(rand.Int63n(int64(r.maxDelay-r.minDelay)))
}

const (
	adaptiveErrorThreshold   = 3
	adaptiveSuccessThreshold = 5
	adaptiveBackoffFactor    = 1.5
	adaptiveRecoveryFactor   = 0.9
	adaptiveFloor            = 500 * time.Millisecond
	adaptiveMinCeiling       = 60 * time.Second
	adaptiveMaxCeiling       = 120 * time.Second
)

// AdaptiveRateLimiter widens its delay window after repeated fetch errors
// and narrows it again after a run of successes.
type AdaptiveRateLimiter struct {
	*JitterRateLimiter
	baseMin      time.Duration
	errorCount   int
	successCount int
}

// NewAdaptiveRateLimiter creates a limiter starting at minDelay.
func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		JitterRateLimiter: NewJitterRateLimiter(minDelay, maxDelay),
		baseMin:           minDelay,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount < adaptiveSuccessThreshold {
		return
	}
	a.successCount = 0

	newMin := time.Duration(float64(a.minDelay) * adaptiveRecoveryFactor)
	floor := a.baseMin
	if floor < adaptiveFloor {
		floor = adaptiveFloor
	}
	if newMin < floor {
		newMin = floor
	}
	if newMin > a.maxDelay {
		newMin = a.maxDelay
	}
	a.minDelay = newMin
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount < adaptiveErrorThreshold {
		return
	}
	a.errorCount = 0

	a.minDelay = minDuration(time.Duration(float64(a.minDelay)*adaptiveBackoffFactor), adaptiveMinCeiling)
	a.maxDelay = minDuration(time.Duration(float64(a.maxDelay)*adaptiveBackoffFactor), adaptiveMaxCeiling)
	if a.maxDelay < a.minDelay {
		a.maxDelay = a.minDelay
	}
}

// TokenBucketRateLimiter allows bursts up to burst requests and refills at
// requestsPerSecond.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketRateLimiter creates a new token bucket rate limiter.
func NewTokenBucketRateLimiter(requestsPerSecond float64, burst int) *TokenBucketRateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (t *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SetDelay maps a delay window onto the refill rate: one token per min.
func (t *TokenBucketRateLimiter) SetDelay(min, _ time.Duration) {
	if min <= 0 {
		t.limiter.SetLimit(rate.Inf)
		return
	}
	t.limiter.SetLimit(rate.Every(min))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
