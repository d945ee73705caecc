// Package cron owns schedule parsing (cron expressions, fixed intervals,
// one-shot runs) and the exponential backoff policy shared by the dispatch
// queue's retry logic.
package cron

import "time"

// RetryConfig controls the per-group dispatch backoff: base delay doubles
// with every consecutive failure up to a cap, and a group is abandoned
// (queued jobs marked failed) once MaxRetries is exceeded.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig: 5s base delay, 5m cap, give up after 5 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}
}

// BackoffFor returns the delay before retry attempt n (1-indexed),
// base * 2^(n-1), capped at MaxDelay.
func (c RetryConfig) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
