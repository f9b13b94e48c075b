package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-identity-backend/internal/ratelimit"
)

// scriptedLimiter admits the first n calls per key and then denies.
type scriptedLimiter struct {
	n     int
	retry time.Duration
	seen  map[string]int
}

func (s *scriptedLimiter) Admit(key string) ratelimit.Decision {
	if s.seen == nil {
		s.seen = map[string]int{}
	}
	s.seen[key]++
	if s.seen[key] <= s.n {
		return ratelimit.Decision{Allowed: true}
	}
	return ratelimit.Decision{RetryAfter: s.retry}
}

func TestKeyByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestKeyBySessionToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if got := KeyBySessionToken()(c); got != "" {
		t.Fatalf("no token should skip, got %q", got)
	}

	c.Request.Header.Set("Authorization", "Bearer raw-tok")
	if got := KeyBySessionToken()(c); got != "token:raw-tok" {
		t.Fatalf("header key = %q", got)
	}

	c.Set(sessionTokenKey, "authed-tok")
	if got := KeyBySessionToken()(c); got != "token:authed-tok" {
		t.Fatalf("authenticated key = %q", got)
	}
}

func TestRateLimit_DeniesWithRetryHint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lim := &scriptedLimiter{n: 2, retry: 2400 * time.Millisecond}

	r := gin.New()
	r.Use(RateLimit(lim, KeyByIP(), "ip"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	base := testutil.ToFloat64(rateLimitDenials.WithLabelValues("ip"))

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do(); w.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i+1, w.Code)
		}
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After = %q; want 3", got)
	}
	var body struct {
		Message string  `json:"message"`
		TryIn   float64 `json:"try_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Message != "rate limited" || body.TryIn != 2.4 {
		t.Fatalf("body = %+v", body)
	}
	if got := testutil.ToFloat64(rateLimitDenials.WithLabelValues("ip")); got != base+1 {
		t.Fatalf("denials = %v; want %v", got, base+1)
	}
}

func TestRateLimit_EmptyKeyBypasses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lim := &scriptedLimiter{n: 0}

	r := gin.New()
	r.Use(RateLimit(lim, KeyBySessionToken(), "token"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d", w.Code)
	}
	if len(lim.seen) != 0 {
		t.Fatalf("limiter consulted: %v", lim.seen)
	}
}

func TestRateLimit_FixedWindowEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lim := ratelimit.NewFixedWindow(7, 8*time.Second)

	r := gin.New()
	r.Use(RateLimit(lim, KeyByIP(), "ip"))
	r.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 8)
	for i := 0; i < 8; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	for i, c := range codes[:7] {
		if c != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, c)
		}
	}
	if codes[7] != http.StatusTooManyRequests {
		t.Fatalf("8th request: %d", codes[7])
	}
}
