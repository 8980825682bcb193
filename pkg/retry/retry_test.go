package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "attachdl/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No attempt yet"},
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
		{9, 1 * time.Second, "Ninth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			assert.Equal(t, test.expected, backoff.NextDelay(test.attempt))
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		delay := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, delay, 140*time.Millisecond)
		assert.LessOrEqual(t, delay, 260*time.Millisecond)
		delays[delay] = true
	}
	assert.Greater(t, len(delays), 1, "jitter should vary the delay")

	// jitter never pushes past the cap
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, backoff.NextDelay(10), time.Second)
	}
}

func fastPolicy(maxAttempts int) *Policy {
	return NewPolicy(&Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		MaxDelay:    50 * time.Millisecond,
	})
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(5).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeServerError, 503, "unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestExecuteHonoursRetryAfter(t *testing.T) {
	var retries []time.Duration
	policy := NewPolicy(&Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		MaxDelay:    20 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = append(retries, delay)
		},
	})

	calls := 0
	attempts, err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			e := errs.New(errs.ErrorTypeRateLimit, http.StatusTooManyRequests, "slow down")
			e.RetryAfter = 10 * time.Second
			return e
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// hint is capped at MaxDelay
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, retries)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	calls := 0
	last := errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
	attempts, err := fastPolicy(4).Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return last
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, calls)
	assert.Equal(t, errs.KindExhaustedRetries, errs.KindOf(err))
	assert.ErrorIs(t, err, last)

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 4, e.Attempts)
	assert.Equal(t, errs.ErrorTypeNetwork, e.Type)
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", errs.New(errs.ErrorTypeNotFound, 404, "gone")},
		{"auth", errs.New(errs.ErrorTypeAuth, 401, "expired")},
		{"malformed", errs.Malformed("missing id")},
		{"storage", errs.Storage("disk full", errors.New("ENOSPC"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := fastPolicy(5).Execute(context.Background(), func(ctx context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, attempts)
			assert.Equal(t, 1, calls)
			assert.Same(t, tt.err, err)
		})
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewPolicy(&Config{
		MaxAttempts: 10,
		Backoff:     &ConstantBackoff{Delay: time.Hour},
	})

	calls := 0
	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		defer close(done)
		attempts, err = policy.Execute(ctx, func(ctx context.Context) error {
			calls++
			return errs.New(errs.ErrorTypeServerError, 500, "boom")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.IsTransient(err))
}

func TestDoReturnsValue(t *testing.T) {
	calls := 0
	v, attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempts)
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(nil)
	assert.Equal(t, 5, p.MaxAttempts())

	p = NewPolicy(&Config{MaxAttempts: 0})
	assert.Equal(t, 1, p.MaxAttempts())
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
