// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, store backends, credential hashing, rate limiting and
// observability settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration

	// TrustedProxies lists the proxy IPs/CIDRs whose X-Forwarded-For is
	// honored when resolving the client address. Empty trusts none.
	TrustedProxies []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig addresses one logical store on a Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects the backend holding the Primary and Index stores.
type StoreConfig struct {
	Backend      string // redis|sqlite|postgres
	RedisPrimary RedisConfig
	RedisIndex   RedisConfig
	SQLitePath   string
	PostgresDSN  string
}

// HashConfig holds credential hashing parameters. They are read once at
// startup and never change for the life of the process.
type HashConfig struct {
	Rounds           int
	Salt             string
	LegacyGlobalSalt bool
}

// LimitConfig is one rate limiter instance.
type LimitConfig struct {
	Capacity int
	Window   time.Duration
}

// RateLimitConfig holds both rate limiter instances.
type RateLimitConfig struct {
	Algorithm string // fixed_window|token_bucket
	IP        LimitConfig
	Token     LimitConfig
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful shutdown budget
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Identity
	Store          StoreConfig
	Hash           HashConfig
	ReindexOnStart bool

	RateLimit RateLimitConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Stores
		Store: StoreConfig{
			Backend: strings.ToLower(getenv("STORE_BACKEND", BackendRedis)),
			RedisPrimary: RedisConfig{
				Addr:     getenv("REDIS_PRIMARY_ADDR", "localhost:6379"),
				Password: getenv("REDIS_PRIMARY_PASSWORD", ""),
				DB:       getint("REDIS_PRIMARY_DB", 0),
			},
			RedisIndex: RedisConfig{
				Addr:     getenv("REDIS_INDEX_ADDR", getenv("REDIS_PRIMARY_ADDR", "localhost:6379")),
				Password: getenv("REDIS_INDEX_PASSWORD", getenv("REDIS_PRIMARY_PASSWORD", "")),
				DB:       getint("REDIS_INDEX_DB", 1),
			},
			SQLitePath:  getenv("SQLITE_PATH", "identity.db"),
			PostgresDSN: getenv("POSTGRES_DSN", ""),
		},

		// Credential hashing
		Hash: HashConfig{
			Rounds:           getint("HASH_ROUNDS", 25000),
			Salt:             getenv("HASH_SALT", ""),
			LegacyGlobalSalt: getbool("HASH_LEGACY_GLOBAL_SALT", false),
		},
		ReindexOnStart: getbool("REINDEX_ON_START", true),

		// Rate limiting
		RateLimit: RateLimitConfig{
			Algorithm: strings.ToLower(getenv("RATE_LIMIT_ALGORITHM", "fixed_window")),
			IP: LimitConfig{
				Capacity: getint("IP_RATE_CAPACITY", 7),
				Window:   getdur("IP_RATE_WINDOW", 8*time.Second),
			},
			Token: LimitConfig{
				Capacity: getint("TOKEN_RATE_CAPACITY", 30),
				Window:   getdur("TOKEN_RATE_WINDOW", 60*time.Second),
			},
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),

			TrustedProxies: splitCSV(getenv("TRUSTED_PROXIES", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-identity-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	switch cfg.Store.Backend {
	case BackendRedis:
		p, i := cfg.Store.RedisPrimary, cfg.Store.RedisIndex
		if strings.TrimSpace(p.Addr) == "" || strings.TrimSpace(i.Addr) == "" {
			return errors.New("REDIS_PRIMARY_ADDR and REDIS_INDEX_ADDR must not be empty")
		}
		if p.DB < 0 || i.DB < 0 {
			return errors.New("REDIS_*_DB must be >= 0")
		}
		if p.Addr == i.Addr && p.DB == i.DB {
			// FlushAll on the index would wipe the primary store.
			return errors.New("primary and index stores must use different Redis databases")
		}
	case BackendSQLite:
		if strings.TrimSpace(cfg.Store.SQLitePath) == "" {
			return errors.New("SQLITE_PATH must not be empty")
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.Store.PostgresDSN) == "" {
			return errors.New("POSTGRES_DSN must not be empty")
		}
	default:
		return errors.New("STORE_BACKEND must be one of: redis, sqlite, postgres")
	}

	if cfg.Hash.Rounds < 1000 {
		return errors.New("HASH_ROUNDS must be >= 1000")
	}
	if cfg.Hash.LegacyGlobalSalt && cfg.Hash.Salt == "" {
		return errors.New("HASH_SALT is required when HASH_LEGACY_GLOBAL_SALT is set")
	}

	switch cfg.RateLimit.Algorithm {
	case "fixed_window", "token_bucket":
	default:
		return errors.New("RATE_LIMIT_ALGORITHM must be fixed_window or token_bucket")
	}
	for name, l := range map[string]LimitConfig{"IP": cfg.RateLimit.IP, "TOKEN": cfg.RateLimit.Token} {
		if l.Capacity < 1 {
			return fmt.Errorf("%s_RATE_CAPACITY must be >= 1", name)
		}
		if l.Window <= 0 {
			return fmt.Errorf("%s_RATE_WINDOW must be > 0", name)
		}
	}

	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	for _, p := range cfg.Security.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p)
			}
		}
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
