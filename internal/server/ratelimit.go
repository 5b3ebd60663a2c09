package server

import (
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/time/rate"

	"codereview/internal/config"
	"codereview/internal/metrics"
)

// userLimiter keeps one token bucket per user. A nil limiter allows
// everything.
type userLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newUserLimiter(cfg config.RateLimitConfig) *userLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *userLimiter) check(route, userID string) huma.StatusError {
	if l.allow(userID) {
		return nil
	}
	metrics.RateLimited.WithLabelValues(route).Inc()
	return newAPIError(http.StatusTooManyRequests, "rate_limited", "too many evaluation requests", map[string]any{"route": route})
}
