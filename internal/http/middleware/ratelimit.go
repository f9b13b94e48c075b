// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts a ratelimit.Limiter to Gin. Two instances are installed:
// one keyed by client IP on every public API route and one keyed by session
// token on authenticated routes. They never share buckets.
//
// Denied requests get:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 3
//	{ "message": "rate limited", "try_in": 2.4 }
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-identity-backend/internal/ratelimit"
)

// KeyFunc selects the bucket key of a request. An empty key skips limiting.
type KeyFunc func(*gin.Context) string

// KeyByIP keys buckets by client IP. X-Forwarded-For only counts when the
// engine trusts the connecting proxy.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyBySessionToken keys buckets by session token. It prefers the token
// authenticated by Authenticate and falls back to the raw request token.
func KeyBySessionToken() KeyFunc {
	return func(c *gin.Context) string {
		tok := SessionToken(c)
		if tok == "" {
			tok = TokenFromRequest(c)
		}
		if tok == "" {
			return ""
		}
		return "token:" + tok
	}
}

// RateLimit returns a middleware that admits requests through l. scope
// labels the denial metric ("ip", "token").
func RateLimit(l ratelimit.Limiter, keyFn KeyFunc, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		d := l.Admit(key)
		if d.Allowed {
			c.Next()
			return
		}

		rateLimitDenials.WithLabelValues(scope).Inc()
		secs := d.RetryAfter.Seconds()
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(secs))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"message": "rate limited",
			"try_in":  secs,
		})
	}
}
