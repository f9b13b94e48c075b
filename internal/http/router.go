// Package httpapi wires the HTTP transport (Gin) to the identity services,
// middleware and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation IDs, access logging, panic recovery, compression,
// metrics, CORS, security headers, rate limiting and session authentication.
//
// Services are built once by the caller and injected through Deps.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-identity-backend/docs"
	"github.com/tbourn/go-identity-backend/internal/config"
	"github.com/tbourn/go-identity-backend/internal/http/handlers"
	"github.com/tbourn/go-identity-backend/internal/http/middleware"
	"github.com/tbourn/go-identity-backend/internal/ratelimit"
)

// maxBodyBytes caps request bodies. Identity payloads are tiny.
const maxBodyBytes = 64 << 10

// healthTimeout bounds each dependency probe of /health.
const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Identity handlers.IdentityService
	Sessions middleware.TokenResolver

	// IPLimiter guards every API route; TokenLimiter additionally guards
	// authenticated routes. Either may be nil to disable it.
	IPLimiter    ratelimit.Limiter
	TokenLimiter ratelimit.Limiter

	// Checks are probed by /health, keyed by dependency name.
	Checks  map[string]HealthCheck
	Version string
}

var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured logs with credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter and gzip
//  6. Metrics
//  7. CORS and security headers
//
// Rate limiting and authentication are mounted per group below.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	// Without trusted proxies ClientIP is the socket peer, so a client
	// cannot pick its own rate-limit bucket through X-Forwarded-For.
	if err := r.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		log.Error().Err(err).Msg("invalid trusted proxies; trusting none")
	}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.LogOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(d.Checks))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = normalizedBase(cfg.APIBasePath)
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(d.Identity, d.Version)

	api := groupWithPrefix(r, cfg.APIBasePath)
	// token-bearing responses must never be cached
	api.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	if d.IPLimiter != nil {
		api.Use(middleware.RateLimit(d.IPLimiter, middleware.KeyByIP(), "ip"))
	}
	{
		api.GET("/version", h.Version)
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
	}

	authed := api.Group("", middleware.Authenticate(d.Sessions))
	if d.TokenLimiter != nil {
		authed.Use(middleware.RateLimit(d.TokenLimiter, middleware.KeyBySessionToken(), "token"))
	}
	{
		authed.GET("/test", h.Echo)
		authed.GET("/user", h.GetUser)
		authed.PATCH("/user", h.UpdateUser)
	}
}

// corsMiddleware allows all origins when none are configured (without
// credentials) and otherwise only the configured list.
func corsMiddleware(c config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{"X-Request-ID", "Retry-After", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}

// health probes every dependency and answers 503 when any is down. Error
// detail is logged, never returned.
func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		res := make(map[string]string, len(checks))
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Str("dependency", name).Msg("health check failed")
				res[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			res[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "checks": res})
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Oversized bodies fail to decode downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	return r.Group(normalizedBase(prefix))
}

func normalizedBase(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	return prefix
}
