package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outgoing requests to the remote service.
type Limiter interface {
	// Allow reports whether a request may proceed right now, consuming a token if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Pause holds every caller back for d, used when the server asks us to slow down
	Pause(d time.Duration)
	Reset()
}

// TokenBucket refills to full capacity once per refill period.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	pausedUntil  time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// PerMinute returns a limiter admitting n requests per minute, or an Unlimited one when n <= 0.
func PerMinute(n int) Limiter {
	if n <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(n, time.Minute)
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	_, ok := tb.take(time.Now())
	return ok
}

// take consumes a token if one is available, otherwise it returns how long to wait.
func (tb *TokenBucket) take(now time.Time) (time.Duration, bool) {
	if now.Before(tb.pausedUntil) {
		return tb.pausedUntil.Sub(now), false
	}

	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return 0, true
	}

	wait := tb.refillPeriod - now.Sub(tb.lastRefill)
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return wait, false
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		wait, ok := tb.take(time.Now())
		tb.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Pause extends the current pause; a shorter pause never cuts a longer one short.
func (tb *TokenBucket) Pause(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if until := time.Now().Add(d); until.After(tb.pausedUntil) {
		tb.pausedUntil = until
	}
}

// Reset resets the token bucket to full capacity and lifts any pause
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
	tb.pausedUntil = time.Time{}
}

// Unlimited never blocks except to honour ctx.
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Pause(time.Duration)            {}
func (Unlimited) Reset()                         {}
