package discovery

import (
	"context"
	"math/rand"
	"time"
)

// retryConfig bounds the exponential backoff used when the site root fetch
// itself fails, per spec §4.2's failure semantics.
type retryConfig struct {
	attempts int
	base     time.Duration
	factor   float64
	jitter   float64
}

var rootFetchRetry = retryConfig{
	attempts: 3,
	base:     500 * time.Millisecond,
	factor:   2,
	jitter:   0.25,
}

// retryDo calls fn up to cfg.attempts times, sleeping an exponentially
// growing, jittered delay between attempts. It returns the last error if
// every attempt fails, or nil as soon as one succeeds.
//
// This is the one place in the discovery package that stays hand-rolled
// rather than reaching for an external backoff library: the policy is a
// single fixed curve used exactly once (root fetch), not a reusable
// cross-cutting concern.
func retryDo(ctx context.Context, cfg retryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	d := float64(cfg.base)
	for i := 0; i < attempt-1; i++ {
		d *= cfg.factor
	}
	j := 1 + (rand.Float64()*2-1)*cfg.jitter
	return time.Duration(d * j)
}
