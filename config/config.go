package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Session   SessionConfig
	Fetch     FetchConfig
	Challenge ChallengeConfig
	Proxy     ProxyConfig
	Lifecycle LifecycleConfig
	Results   ResultsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool // default: true
}

// BrowserConfig controls the Chromium processes.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// RemoteURL connects to an existing browser instead of launching one.
	RemoteURL string

	// Stealth injects the stealth script into every page.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds blocks well-known ad and tracking domains.
	BlockAds bool // default: true
}

// SessionConfig controls session pooling and retirement.
type SessionConfig struct {
	// MaxSessions is the number of sessions a pool may hold and check out.
	MaxSessions int // default: 4

	// MaxUsage retires a session after this many completed navigations.
	MaxUsage int // default: 50

	// MaxErrorScore retires a session after this many failed navigations.
	MaxErrorScore int // default: 3
}

// FetchConfig controls the fetch task.
type FetchConfig struct {
	// DefaultTimeout applies to ordinary hosts when the request sets none.
	DefaultTimeout time.Duration // default: 30s

	// ChallengeTimeout applies to challenge hosts when the request sets none.
	ChallengeTimeout time.Duration // default: 45s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 120s

	// RetryBudget is the number of extra attempts after a failure.
	RetryBudget int // default: 2

	// RetryBaseDelay is the backoff before the first retry.
	RetryBaseDelay time.Duration // default: 250ms

	// RetryMaxDelay caps the retry backoff.
	RetryMaxDelay time.Duration // default: 5s

	// Settle bounds the plain handler's best-effort wait for the page to quiesce.
	Settle time.Duration // default: 5s
}

// ChallengeConfig controls the challenge resolution loop.
type ChallengeConfig struct {
	// Hosts are routed to the challenge handler (suffix match).
	Hosts []string

	// Locales are used by the regional identity profile.
	Locales []string // default: ["es-ES", "es"]

	LoadWait      time.Duration // default: 15s
	IdleWait      time.Duration // default: 15s
	PollTimeout   time.Duration // default: 20s
	PollInterval  time.Duration // default: 1s
	SelectorWait  time.Duration // default: 3s
	FinalIdleWait time.Duration // default: 5s

	// FallbackSelectors are waited for in order when the request names none.
	FallbackSelectors []string

	// LearnTTL enables routing a host through the challenge loop for this
	// long after it served a challenge page on the plain route. Zero disables.
	LearnTTL time.Duration // default: 0
}

// ProxyConfig names the proxy sources.
type ProxyConfig struct {
	// List is a comma-delimited list of proxies.
	List string

	// File is a line-delimited proxy file.
	File string
}

// LifecycleConfig selects how the orchestrator manages pools.
type LifecycleConfig struct {
	// Persistent shares one pool across requests, serialized.
	Persistent bool // default: false
}

// ResultsConfig bounds the pending results store.
type ResultsConfig struct {
	MaxEntries int           // default: 1024
	TTL        time.Duration // default: 10m
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           envOr("RENDERGATE_HOST", "0.0.0.0"),
			Port:           envIntOr("RENDERGATE_PORT", 8080),
			Mode:           envOr("RENDERGATE_MODE", "release"),
			MetricsEnabled: envBoolOr("RENDERGATE_METRICS", true),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("RENDERGATE_HEADLESS", true),
			NoSandbox:  envBoolOr("RENDERGATE_NO_SANDBOX", false),
			BrowserBin: os.Getenv("RENDERGATE_BROWSER_BIN"),
			RemoteURL:  os.Getenv("RENDERGATE_BROWSER_URL"),
			Stealth:    envBoolOr("RENDERGATE_STEALTH", true),
			BlockedResourceTypes: envSliceOr("RENDERGATE_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			BlockAds: envBoolOr("RENDERGATE_BLOCK_ADS", true),
		},
		Session: SessionConfig{
			MaxSessions:   envIntOr("RENDERGATE_MAX_SESSIONS", 4),
			MaxUsage:      envIntOr("RENDERGATE_SESSION_MAX_USAGE", 50),
			MaxErrorScore: envIntOr("RENDERGATE_SESSION_MAX_ERRORS", 3),
		},
		Fetch: FetchConfig{
			DefaultTimeout:   envDurationOr("RENDERGATE_DEFAULT_TIMEOUT", 30*time.Second),
			ChallengeTimeout: envDurationOr("RENDERGATE_CHALLENGE_TIMEOUT", 45*time.Second),
			MaxTimeout:       envDurationOr("RENDERGATE_MAX_TIMEOUT", 120*time.Second),
			RetryBudget:      envIntOr("RENDERGATE_RETRY_BUDGET", 2),
			RetryBaseDelay:   envDurationOr("RENDERGATE_RETRY_BASE_DELAY", 250*time.Millisecond),
			RetryMaxDelay:    envDurationOr("RENDERGATE_RETRY_MAX_DELAY", 5*time.Second),
			Settle:           envDurationOr("RENDERGATE_SETTLE", 5*time.Second),
		},
		Challenge: ChallengeConfig{
			Hosts:         envSliceOr("RENDERGATE_CHALLENGE_HOSTS", nil),
			Locales:       envSliceOr("RENDERGATE_REGIONAL_LOCALES", []string{"es-ES", "es"}),
			LoadWait:      envDurationOr("RENDERGATE_CHALLENGE_LOAD_WAIT", 15*time.Second),
			IdleWait:      envDurationOr("RENDERGATE_CHALLENGE_IDLE_WAIT", 15*time.Second),
			PollTimeout:   envDurationOr("RENDERGATE_CHALLENGE_POLL_TIMEOUT", 20*time.Second),
			PollInterval:  envDurationOr("RENDERGATE_CHALLENGE_POLL_INTERVAL", time.Second),
			SelectorWait:  envDurationOr("RENDERGATE_CHALLENGE_SELECTOR_WAIT", 3*time.Second),
			FinalIdleWait: envDurationOr("RENDERGATE_CHALLENGE_FINAL_IDLE_WAIT", 5*time.Second),
			FallbackSelectors: envSliceOr("RENDERGATE_CHALLENGE_SELECTORS", []string{
				"main", "#content", "article", "[role=main]", "body",
			}),
			LearnTTL: envDurationOr("RENDERGATE_CHALLENGE_LEARN_TTL", 0),
		},
		Proxy: ProxyConfig{
			List: os.Getenv("RENDERGATE_PROXIES"),
			File: os.Getenv("RENDERGATE_PROXY_FILE"),
		},
		Lifecycle: LifecycleConfig{
			Persistent: envBoolOr("RENDERGATE_PERSISTENT", false),
		},
		Results: ResultsConfig{
			MaxEntries: envIntOr("RENDERGATE_RESULTS_MAX", 1024),
			TTL:        envDurationOr("RENDERGATE_RESULTS_TTL", 10*time.Minute),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("RENDERGATE_AUTH_ENABLED", false),
			APIKeys: envSliceOr("RENDERGATE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("RENDERGATE_RATE_RPS", 2.0),
			Burst:             envIntOr("RENDERGATE_RATE_BURST", 5),
		},
		Log: LogConfig{
			Level:  envOr("RENDERGATE_LOG_LEVEL", "info"),
			Format: envOr("RENDERGATE_LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("RENDERGATE_MAX_SESSIONS must be positive, got %d", c.Session.MaxSessions))
	}
	if c.Session.MaxUsage < 1 {
		errs = append(errs, fmt.Errorf("RENDERGATE_SESSION_MAX_USAGE must be positive, got %d", c.Session.MaxUsage))
	}
	if c.Session.MaxErrorScore < 1 {
		errs = append(errs, fmt.Errorf("RENDERGATE_SESSION_MAX_ERRORS must be positive, got %d", c.Session.MaxErrorScore))
	}
	if c.Fetch.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("RENDERGATE_RETRY_BUDGET must not be negative, got %d", c.Fetch.RetryBudget))
	}
	if c.Fetch.DefaultTimeout <= 0 || c.Fetch.ChallengeTimeout <= 0 || c.Fetch.MaxTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeouts must be positive"))
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("RENDERGATE_AUTH_ENABLED requires RENDERGATE_API_KEYS"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit must allow at least one request"))
	}
	return errors.Join(errs...)
}

// LifecycleMode names the configured mode ("ephemeral" or "persistent").
func (c *Config) LifecycleMode() string {
	if c.Lifecycle.Persistent {
		return "persistent"
	}
	return "ephemeral"
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
