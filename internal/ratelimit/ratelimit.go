package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context, store string) error
}

// StoreLimiter keeps one token bucket per store so that concurrent searches
// space out their requests to the same retailer while different retailers
// proceed independently.
type StoreLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

var _ RateLimiter = (*StoreLimiter)(nil)

// NewStoreLimiter allows rps requests per second per store. A non-positive
// rps disables limiting.
func NewStoreLimiter(rps float64, burst int) *StoreLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &StoreLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (s *StoreLimiter) Wait(ctx context.Context, store string) error {
	s.mu.Lock()
	limiter, ok := s.limiters[store]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[store] = limiter
	}
	s.mu.Unlock()

	return limiter.Wait(ctx)
}
