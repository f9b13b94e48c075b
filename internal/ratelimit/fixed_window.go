package ratelimit

import (
	"sync"
	"time"
)

// bucket is one fixed-window counter.
type bucket struct {
	windowStart time.Time
	count       int
}

// FixedWindow admits up to Capacity requests per key per Window.
type FixedWindow struct {
	capacity int
	window   time.Duration

	// now is overridable in tests.
	now func() time.Time

	mu       sync.Mutex
	buckets  map[string]*bucket
	cleanupN uint64
}

// NewFixedWindow returns a fixed-window limiter. capacity <= 0 is coerced to
// 1 and window <= 0 to one second.
func NewFixedWindow(capacity int, window time.Duration) *FixedWindow {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Admit counts one request for key. The whole check-and-increment runs
// under the limiter lock, so two callers can never both take the last slot.
func (l *FixedWindow) Admit(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupN++
	if l.cleanupN >= gcEvery {
		// An elapsed bucket behaves exactly like a missing one.
		for k, b := range l.buckets {
			if now.Sub(b.windowStart) >= l.window {
				delete(l.buckets, k)
			}
		}
		l.cleanupN = 0
	}

	b, ok := l.buckets[key]
	switch {
	case !ok:
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return Decision{Allowed: true}
	case now.Sub(b.windowStart) >= l.window:
		b.windowStart = now
		b.count = 1
		return Decision{Allowed: true}
	case b.count < l.capacity:
		b.count++
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: b.windowStart.Add(l.window).Sub(now)}
}

// Len returns the number of tracked buckets.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
