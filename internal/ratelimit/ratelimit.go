// Package ratelimit provides a shared rate limiter keyed by
// (work_type, provider), per spec §5's concurrency model: one limiter per
// pair, constructed once and handed to stage runners as a dependency rather
// than reached for as a package-level singleton.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Registry owns one *rate.Limiter per (work_type, provider) pair, created
// lazily on first use and reused afterward.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// New returns a Registry where every limiter allows rps requests per second
// with the given burst capacity.
func New(rps float64, burst int) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the (workType, provider) pair,
// or ctx is cancelled.
func (r *Registry) Wait(ctx context.Context, workType, provider string) error {
	return r.limiterFor(workType, provider).Wait(ctx)
}

func (r *Registry) limiterFor(workType, provider string) *rate.Limiter {
	key := fmt.Sprintf("%s:%s", workType, provider)

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[key] = l
	}
	return l
}
