package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket is a per-key token-bucket limiter refilled at capacity/window
// tokens per second with a burst of capacity.
type TokenBucket struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	now func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	cleanupN uint64
}

// NewTokenBucket returns a token-bucket limiter equivalent in sustained rate
// to NewFixedWindow(capacity, window).
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &TokenBucket{
		rps:      rate.Limit(float64(capacity) / window.Seconds()),
		burst:    capacity,
		ttl:      window,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// getVisitor returns (and updates) the limiter for key, creating it if
// absent. Idle visitors are swept before the lookup so a stale bucket can be
// evicted even when it is the one being fetched.
func (l *TokenBucket) getVisitor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupN++
	if l.cleanupN >= gcEvery {
		// A bucket idle for a whole window has fully refilled.
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.cleanupN = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Admit takes one token for key, or reports how long until one is available.
func (l *TokenBucket) Admit(key string) Decision {
	now := l.now()
	r := l.getVisitor(key, now).ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Duration(float64(time.Second) / float64(l.rps))}
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return Decision{Allowed: true}
	}
	r.CancelAt(now)
	return Decision{RetryAfter: delay}
}

// Len returns the number of tracked buckets.
func (l *TokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
