package middleware

import (
	"net/http"
	"sync"
	"time"

	"hookrelay/internal/metrics"
)

// RateLimiter is a fixed-window per-IP request limiter. Stale windows
// are pruned lazily on access and by an occasional sweep.
type RateLimiter struct {
	mu       sync.RWMutex
	requests map[string]*window
	limit    int
	interval time.Duration
}

type window struct {
	count   int
	startAt time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*window),
		limit:    limit,
		interval: interval,
	}
}

// Allow records a request from ip and reports whether it is within the
// current window's budget.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.requests[ip]
	if !ok || now.Sub(w.startAt) >= rl.interval {
		rl.requests[ip] = &window{count: 1, startAt: now}
		if len(rl.requests) > 1024 {
			rl.sweepLocked(now)
		}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for ip, w := range rl.requests {
		if now.Sub(w.startAt) >= rl.interval {
			delete(rl.requests, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			metrics.IncrementCounter("http_requests_rate_limited_total",
				map[string]string{"endpoint": r.URL.Path}, "Requests rejected by rate limiting")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
