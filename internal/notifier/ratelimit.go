package notifier

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound sends to a provider's accepted throughput.
// Callers wait for a token instead of dropping the send.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
	waits   atomic.Int64
	denied  atomic.Int64
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	PerSecond float64 // Sustained sends per second (default: 1)
	Burst     int     // Maximum burst (default: 5)
	Enabled   bool    // Whether rate limiting is enabled
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerSecond: 1,
		Burst:     5,
		Enabled:   true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.PerSecond <= 0 {
		config.PerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(config.PerSecond), config.Burst),
		enabled: config.Enabled,
	}
}

// Wait blocks until a send is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || !r.enabled {
		return nil
	}
	r.waits.Add(1)
	if err := r.limiter.Wait(ctx); err != nil {
		r.denied.Add(1)
		return err
	}
	return nil
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Waits     int64   // Total calls to Wait
	Denied    int64   // Sends abandoned while waiting
	PerSecond float64 // Configured rate
	Burst     int     // Configured burst
	Enabled   bool    // Whether rate limiting is enabled
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Waits:     r.waits.Load(),
		Denied:    r.denied.Load(),
		PerSecond: float64(r.limiter.Limit()),
		Burst:     r.limiter.Burst(),
		Enabled:   r.enabled,
	}
}
