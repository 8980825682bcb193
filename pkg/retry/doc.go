// Package retry implements the retry policy shared by the paginator and the
// download workers.
//
// A Policy retries transient failures with exponential backoff:
//
//	delay(n) = min(MaxDelay, BaseDelay * 2^(n-1)) +/- jitter
//
// A 429 response carrying Retry-After overrides the schedule for that attempt,
// still capped at MaxDelay. Permanent and storage errors are returned right away.
// When MaxAttempts transient failures happen in a row the last one is wrapped in
// an exhausted-retries error so callers can tell the two apart.
//
//	policy := retry.NewPolicy(&retry.Config{
//		MaxAttempts: 5,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    time.Second,
//			MaxDelay:     30 * time.Second,
//			JitterFactor: 0.1,
//		},
//		MaxDelay: 30 * time.Second,
//		Logger:   log,
//	})
//	attempts, err := policy.Execute(ctx, func(ctx context.Context) error {
//		return client.Fetch(ctx)
//	})
package retry
