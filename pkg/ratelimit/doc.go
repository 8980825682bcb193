// Package ratelimit paces requests to the remote record service.
//
// TokenBucket admits up to capacity requests per refill period. Wait is
// context-aware so a cancelled run never sits in the limiter. Pause lets a
// caller that received a 429 hold every other worker back for the period the
// server asked for.
//
//	limiter := ratelimit.PerMinute(cfg.Download.RequestsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
