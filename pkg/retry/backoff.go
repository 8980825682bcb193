package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how long to wait before the next attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay after the given failed attempt (1-based).
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay as BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Multiplier defaults to 2 when zero
	Multiplier float64
	// JitterFactor adds up to +/- this fraction of the delay (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns the backoff used when nothing is configured.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := eb.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(eb.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// ConstantBackoff waits the same delay between every attempt. Mostly useful in tests.
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	return cb.Delay
}

// Wait blocks for delay or until ctx is done, whichever comes first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
