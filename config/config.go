package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ModeProduction is the default operating mode. Any other mode, such as
// "development", enables the loopback safelist in the admission gate.
const ModeProduction = "production"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Gate     GateConfig
	URLGuard URLGuardConfig
	Fetcher  FetcherConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	// GinMode is "debug", "release" or "test"; default: "release".
	GinMode string
	// Mode is the operating mode, "production" or "development".
	Mode string // default: "production"
	// ShutdownTimeout bounds graceful draining of in-flight requests.
	ShutdownTimeout time.Duration // default: 5s
	// HelpURL is linked from API error responses when set.
	HelpURL string
	// TrustedProxies may set X-Forwarded-For; empty trusts none.
	TrustedProxies []string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// GateConfig controls the admission gate in front of the pipeline.
type GateConfig struct {
	// PathPrefix scopes the ip and global throttles.
	PathPrefix string // default: "/api/v1/extract"

	// HealthPath is always exempt from throttling.
	HealthPath string // default: "/api/v1/health"

	IPLimit      int           // default: 20
	IPWindow     time.Duration // default: 60s
	DomainLimit  int           // default: 10
	DomainWindow time.Duration // default: 60s
	GlobalLimit  int           // default: 100
	GlobalWindow time.Duration // default: 60s

	// Store selects the counter backend: "memory" or "redis".
	Store string // default: "memory"
}

// URLGuardConfig controls SSRF validation of target URLs.
type URLGuardConfig struct {
	// MaxURLLength is the longest URL accepted.
	MaxURLLength int // default: 2048

	// DeniedHosts are rejected outright (exact or subdomain match).
	DeniedHosts []string

	// RequireResolvable rejects hosts that fail DNS resolution.
	RequireResolvable bool // default: false

	// DialGuard re-checks the connected IP at dial time.
	DialGuard bool // default: true
}

// FetcherConfig controls outbound fetching.
type FetcherConfig struct {
	Timeout        time.Duration // default: 30s
	MaxRetries     int           // default: 3
	UserAgent      string
	InitialBackoff time.Duration // default: 1s
	MaxBackoff     time.Duration // default: 30s
	MaxBodyBytes   int64         // default: 10 MiB

	// HostRPS is the per-target-host request rate; 0 disables.
	HostRPS   float64 // default: 2
	HostBurst int     // default: 5

	// ChromeTLS uses a Chrome-like TLS ClientHello for https targets.
	ChromeTLS bool // default: false
}

// CacheConfig controls the extracted-field cache.
type CacheConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend string // default: "memory"

	// TTL is how long extracted fields are served from cache.
	TTL time.Duration // default: 10m

	// MaxEntries caps the in-memory backend.
	MaxEntries int // default: 1000
}

// RedisConfig holds the shared Redis connection used by the counter store
// and the cache when either selects the redis backend.
type RedisConfig struct {
	Address  string // default: "localhost:6379"
	Password string
	DB       int
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   // default: true
	Path    string // default: "/metrics"
}

// DefaultUserAgent identifies the fetcher to target sites.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PluckBot/1.0; +https://github.com/use-agent/pluck)"

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:            envOr("PLUCK_HOST", "0.0.0.0"),
			Port:            envIntOr("PLUCK_PORT", 8080),
			GinMode:         envOr("PLUCK_GIN_MODE", "release"),
			Mode:            envOr("PLUCK_MODE", ModeProduction),
			ShutdownTimeout: envDurationOr("PLUCK_SHUTDOWN_TIMEOUT", 5*time.Second),
			HelpURL:         os.Getenv("PLUCK_HELP_URL"),
			TrustedProxies:  envSliceOr("PLUCK_TRUSTED_PROXIES", nil),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PLUCK_AUTH_ENABLED", false),
			APIKeys: envSliceOr("PLUCK_API_KEYS", nil),
		},
		Gate: GateConfig{
			PathPrefix:   envOr("PLUCK_GATE_PATH_PREFIX", "/api/v1/extract"),
			HealthPath:   envOr("PLUCK_GATE_HEALTH_PATH", "/api/v1/health"),
			IPLimit:      envIntOr("PLUCK_GATE_IP_LIMIT", 20),
			IPWindow:     envDurationOr("PLUCK_GATE_IP_WINDOW", 60*time.Second),
			DomainLimit:  envIntOr("PLUCK_GATE_DOMAIN_LIMIT", 10),
			DomainWindow: envDurationOr("PLUCK_GATE_DOMAIN_WINDOW", 60*time.Second),
			GlobalLimit:  envIntOr("PLUCK_GATE_GLOBAL_LIMIT", 100),
			GlobalWindow: envDurationOr("PLUCK_GATE_GLOBAL_WINDOW", 60*time.Second),
			Store:        envOr("PLUCK_GATE_STORE", "memory"),
		},
		URLGuard: URLGuardConfig{
			MaxURLLength:      envIntOr("PLUCK_MAX_URL_LENGTH", 2048),
			DeniedHosts:       envSliceOr("PLUCK_DENIED_HOSTS", []string{"metadata.google.internal"}),
			RequireResolvable: envBoolOr("PLUCK_REQUIRE_RESOLVABLE", false),
			DialGuard:         envBoolOr("PLUCK_DIAL_GUARD", true),
		},
		Fetcher: FetcherConfig{
			Timeout:        envDurationOr("PLUCK_FETCH_TIMEOUT", 30*time.Second),
			MaxRetries:     envIntOr("PLUCK_FETCH_MAX_RETRIES", 3),
			UserAgent:      envOr("PLUCK_USER_AGENT", DefaultUserAgent),
			InitialBackoff: envDurationOr("PLUCK_FETCH_INITIAL_BACKOFF", 1*time.Second),
			MaxBackoff:     envDurationOr("PLUCK_FETCH_MAX_BACKOFF", 30*time.Second),
			MaxBodyBytes:   int64(envIntOr("PLUCK_FETCH_MAX_BODY_BYTES", 10<<20)),
			HostRPS:        envFloatOr("PLUCK_FETCH_HOST_RPS", 2),
			HostBurst:      envIntOr("PLUCK_FETCH_HOST_BURST", 5),
			ChromeTLS:      envBoolOr("PLUCK_FETCH_CHROME_TLS", false),
		},
		Cache: CacheConfig{
			Backend:    envOr("PLUCK_CACHE_BACKEND", "memory"),
			TTL:        envDurationOr("PLUCK_CACHE_TTL", 10*time.Minute),
			MaxEntries: envIntOr("PLUCK_CACHE_MAX_ENTRIES", 1000),
		},
		Redis: RedisConfig{
			Address:  envOr("PLUCK_REDIS_ADDRESS", "localhost:6379"),
			Password: os.Getenv("PLUCK_REDIS_PASSWORD"),
			DB:       envIntOr("PLUCK_REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  envOr("PLUCK_LOG_LEVEL", "info"),
			Format: envOr("PLUCK_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: envBoolOr("PLUCK_METRICS_ENABLED", true),
			Path:    envOr("PLUCK_METRICS_PATH", "/metrics"),
		},
	}
}

// IsProduction reports whether the server runs in production mode.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Mode, ModeProduction)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
