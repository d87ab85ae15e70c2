package resilience

import (
	"context"
	"sync"
	"time"
)

// Rate limiter defaults.
const (
	DefaultRate    = 100.0
	DefaultBurst   = 10
	DefaultMaxWait = time.Second
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of fetches allowed per second.
	// Default: DefaultRate
	Rate float64

	// Burst is the maximum burst size.
	// Default: DefaultBurst
	Burst int

	// WaitOnLimit waits for a token instead of returning an error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token.
	// Default: DefaultMaxWait
	MaxWait time.Duration
}

// RateLimiter is a token bucket that caps how fast fetches reach the
// backend. Tokens accrue continuously at the configured rate up to the
// burst size.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = DefaultRate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}

	return &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		last:   time.Now(),
	}
}

// accrue adds tokens earned since the last call. Caller holds mu.
func (rl *RateLimiter) accrue() {
	now := time.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.config.Rate
	rl.last = now

	if limit := float64(rl.config.Burst); rl.tokens > limit {
		rl.tokens = limit
	}
}

// take removes n tokens if available and reports whether it did. It
// also returns the shortfall converted to a wait duration.
func (rl *RateLimiter) take(n int) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.accrue()

	need := float64(n)
	if rl.tokens >= need {
		rl.tokens -= need
		return true, 0
	}

	shortfall := need - rl.tokens
	return false, time.Duration(shortfall / rl.config.Rate * float64(time.Second))
}

// Allow reports whether one fetch may proceed right now.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n fetches may proceed right now.
func (rl *RateLimiter) AllowN(n int) bool {
	ok, _ := rl.take(n)
	return ok
}

// Wait blocks until a token is available, the context ends, or MaxWait
// elapses.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available. Returns
// ErrRateLimitExceeded when MaxWait elapses before the bucket refills.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ok, wait := rl.take(n)
	if ok {
		return nil
	}
	if wait > rl.config.MaxWait {
		wait = rl.config.MaxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if ok, _ := rl.take(n); ok {
			return nil
		}
		return ErrRateLimitExceeded
	}
}

// Execute runs op if the rate limit admits it. With WaitOnLimit set it
// waits for a token first; otherwise a dry bucket fails fast.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}

	return op(ctx)
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.accrue()
	return rl.tokens
}

// Reset refills the bucket to burst capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.config.Burst)
	rl.last = time.Now()
}
