package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sfykart/api/internal/platform/httpx"
)

const limiterIdleTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// tokenBucketLimiter keeps one token bucket per key and forgets keys idle for limiterIdleTTL.
type tokenBucketLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenBucketLimiter(perMinute int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenBucketLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		clock:   clock,
		buckets: make(map[string]*bucketEntry),
	}
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.buckets[key]
	if !ok {
		l.pruneIdleLocked(now)
		entry = &bucketEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *tokenBucketLimiter) pruneIdleLocked(now time.Time) {
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// RateLimitMiddleware throttles requests per device, falling back to the user and then the
// client address when no device id is present.
func RateLimitMiddleware(perMinute int, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newTokenBucketLimiter(perMinute, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := deviceID(ctx)
			if key == "" {
				key = optionalUserID(ctx)
			}
			if key == "" {
				key = r.RemoteAddr
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(60/max(perMinute, 1)+1))
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
