package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is an in-memory sliding-window limiter keyed by an arbitrary string.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing maxReqs per window per key. The
// cleanup loop stops when ctx is done.
func NewRateLimiter(ctx context.Context, window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
// The second value is how long until the oldest request leaves the window.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	reqs := prune(rl.requests[key], now.Add(-rl.window))
	if len(reqs) >= rl.maxReqs {
		rl.requests[key] = reqs
		return false, reqs[0].Add(rl.window).Sub(now)
	}
	rl.requests[key] = append(reqs, now)
	return true, 0
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	return reqs[i:]
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, reqs := range rl.requests {
		if reqs = prune(reqs, cutoff); len(reqs) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = reqs
		}
	}
}

// RateLimitMiddleware rejects requests over the limit with 429 and Retry-After.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Allow(keyFunc(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests from this address")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey keys by client address. chi's RealIP has already applied
// X-Forwarded-For / X-Real-IP to RemoteAddr.
func GetIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
