package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"care-platform/backend/internal/server/respond"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 15 * time.Minute
)

// RateLimiter holds one token bucket per client IP. Idle buckets are evicted from an expiring LRU so the
// table cannot grow without bound.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	perMin   int
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows perMinute requests per IP with an equal burst. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		perMin:   perMinute,
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
	}
}

func (l *RateLimiter) limiter(ip string) *rate.Limiter {
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

// Middleware returns 429 with Retry-After once an IP exceeds its budget.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.perMin <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		lim := l.limiter(ClientIPFromContext(r.Context()))
		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMin))
			respond.Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
