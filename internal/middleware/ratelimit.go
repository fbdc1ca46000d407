package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const msgTooManyRequests = "リクエストが多すぎます。しばらくしてから再度お試しください"

// RealIP returns the client address. CF-Connecting-IP wins over the first
// X-Forwarded-For hop, which wins over RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RouteClientKey buckets requests per matched route and client address, so
// limits on different endpoints do not share a counter.
func RouteClientKey(r *http.Request) string {
	return r.Pattern + "|" + RealIP(r)
}

// Rule allows Limit requests per fixed Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per key in fixed windows, in memory.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

type LimiterOption func(*RateLimiter)

func WithLimiterClock(clock func() time.Time) LimiterOption {
	return func(rl *RateLimiter) {
		rl.clock = clock
	}
}

func NewRateLimiter(opts ...LimiterOption) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow records a request for key. When the rule is exceeded it reports
// false and how long until the window resets.
func (rl *RateLimiter) Allow(key string, rule Rule) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rule.Window)}
		return true, 0
	}
	b.count++
	if b.count > rule.Limit {
		return false, b.resetAt.Sub(now)
	}
	return true, 0
}

// Cleanup drops buckets whose window has passed and returns how many.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	n := 0
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// Len is the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit rejects requests over rule with 429 and a Retry-After header.
func RateLimit(limiter *RateLimiter, rule Rule, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Allow(keyFunc(r), rule)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
