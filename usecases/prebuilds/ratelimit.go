package prebuilds

import (
	"sync"

	"golang.org/x/time/rate"
)

// cloneURLLimiter hands out one token bucket per repository so a single
// busy repo cannot starve the rest of the installation.
type cloneURLLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newCloneURLLimiter(limit rate.Limit, burst int) *cloneURLLimiter {
	return &cloneURLLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *cloneURLLimiter) Allow(cloneURL string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[cloneURL]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[cloneURL] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
