// Package ratelimit implements C16: per-device request throttling for the
// admin API and the KEX Connect phase, adapted from this repo's middleware
// package's per-key tiered limiter but built on golang.org/x/time/rate's
// token bucket instead of a hand-rolled sliding window.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/QRCS-CORP/SKDP-sub001/internal/metrics"
)

// Limiter grants or denies requests keyed by an arbitrary string (a KID hex
// string, or a remote address for unauthenticated admin API traffic).
// Buckets are created lazily and never expire explicitly; entries for keys
// that stop appearing are reclaimed by Prune.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter allowing rps sustained requests per second per key,
// with burst as the token bucket depth.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether key may proceed, consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	allowed := b.limiter.Allow()
	l.mu.Unlock()

	if !allowed {
		metrics.RecordRateLimitHit(key)
	}
	return allowed
}

// Prune discards buckets whose key has not been seen in longer than idle.
// Callers run this periodically so long-lived servers don't accumulate one
// bucket per historical device forever.
func (l *Limiter) Prune(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Middleware wraps an HTTP handler, rate limiting by remote address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
