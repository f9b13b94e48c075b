// Package ratelimit bounds request admission per key (a network origin or a
// session token).
//
// Two algorithms implement the same Limiter contract:
//
//   - FixedWindow: a counter per key that admits up to capacity requests per
//     window and resets once the window has elapsed. Bursts straddling a
//     window boundary may admit up to 2×capacity in a short span.
//   - TokenBucket: golang.org/x/time/rate limiters refilled at
//     capacity/window per second with a burst of capacity.
//
// Both are process-local and safe for concurrent use. Buckets are created on
// first use and idle ones are evicted opportunistically.
package ratelimit

import (
	"fmt"
	"time"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before the key is
	// admitted again. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits or denies one request for key.
type Limiter interface {
	Admit(key string) Decision
}

// Algorithm names a Limiter implementation.
type Algorithm string

const (
	AlgorithmFixedWindow Algorithm = "fixed_window"
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// New builds a limiter of the given algorithm.
func New(alg Algorithm, capacity int, window time.Duration) (Limiter, error) {
	switch alg {
	case AlgorithmFixedWindow, "":
		return NewFixedWindow(capacity, window), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(capacity, window), nil
	}
	return nil, fmt.Errorf("ratelimit: unknown algorithm %q", alg)
}

// gcEvery is the number of Admit calls between idle-bucket sweeps.
const gcEvery = 5000
