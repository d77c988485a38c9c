package memory

import (
	"context"
	"sync"
	"time"

	"relay-gateway/internal/core/ports"

	"golang.org/x/time/rate"
)

// RateLimitStore implements ports.RateLimitStore with one token bucket per
// key. It backs the rate limiter when Redis is disabled.
type RateLimitStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow refills limit tokens evenly across window with a burst of limit.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if limit <= 0 || window <= 0 {
		return &ports.RateLimitResult{Allowed: true, Limit: limit}, nil
	}
	now := s.now()

	s.mu.Lock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), int(limit))
		s.limiters[key] = lim
	}
	s.mu.Unlock()

	allowed := lim.AllowN(now, 1)
	remaining := int64(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if missing := float64(limit) - lim.TokensAt(now); missing > 0 {
		resetAt = now.Add(time.Duration(missing / float64(lim.Limit()) * float64(time.Second)))
	}

	return &ports.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt.Unix(),
	}, nil
}
