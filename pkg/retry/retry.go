package retry

import (
	"context"
	"time"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
)

// Operation is one attempt of a retried unit of work.
type Operation func(ctx context.Context) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts counts the first try; values below 1 are treated as 1
	MaxAttempts int
	// Backoff strategy to use between transient failures
	Backoff BackoffStrategy
	// MaxDelay caps server-provided Retry-After hints; zero means no cap
	MaxDelay time.Duration
	// OnRetry is called before sleeping for the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	backoff := DefaultExponentialBackoff()
	return &Config{
		MaxAttempts: 5,
		Backoff:     backoff,
		MaxDelay:    backoff.MaxDelay,
		Logger:      logger.GetLogger(),
	}
}

// Policy decides whether and when a failed operation is attempted again.
// Only transient errors are retried; permanent and storage errors return immediately.
type Policy struct {
	config *Config
}

// NewPolicy creates a policy, filling unset fields from DefaultConfig.
func NewPolicy(cfg *Config) *Policy {
	def := DefaultConfig()
	if cfg == nil {
		return &Policy{config: def}
	}

	c := *cfg
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Backoff == nil {
		c.Backoff = def.Backoff
	}
	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}
	return &Policy{config: &c}
}

func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Delay returns the wait after the given failed attempt. A Retry-After hint carried by
// err takes precedence over the backoff schedule but never exceeds MaxDelay.
func (p *Policy) Delay(attempt int, err error) time.Duration {
	if hint := errs.RetryAfterOf(err); hint > 0 {
		if p.config.MaxDelay > 0 && hint > p.config.MaxDelay {
			return p.config.MaxDelay
		}
		return hint
	}
	return p.config.Backoff.NextDelay(attempt)
}

// Execute runs op until it succeeds, fails non-transiently, or the attempt budget is
// spent. It returns the number of attempts made. When the budget runs out the last
// error is wrapped in an exhausted-retries error.
func (p *Policy) Execute(ctx context.Context, op Operation) (int, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				p.config.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return attempt, nil
		}
		lastErr = err

		if !errs.IsTransient(err) {
			return attempt, err
		}

		if attempt >= p.config.MaxAttempts {
			p.config.Logger.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return attempt, errs.Exhausted(attempt, err)
		}

		delay := p.Delay(attempt, err)
		if p.config.OnRetry != nil {
			p.config.OnRetry(attempt, err, delay)
		}

		p.config.Logger.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": p.config.MaxAttempts,
		})

		if werr := Wait(ctx, delay); werr != nil {
			p.config.Logger.DebugWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt,
				"reason":  werr.Error(),
			})
			return attempt, lastErr
		}
	}
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, int, error) {
	var result T
	attempts, err := p.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, attempts, err
}
