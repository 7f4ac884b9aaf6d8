package sso

import (
	"time"

	"github.com/giantswarm/workspace-sso/instrumentation"
)

// Default HTTP layer settings.
const (
	DefaultRateLimit               = 10
	DefaultRateLimitBurst          = 20
	DefaultSecurityEventRate       = 1
	DefaultSecurityEventBurst      = 5
	DefaultMaxFormBytes      int64 = 64 << 10
)

// Config holds the HTTP handler configuration.
// Structured using composition; the server's own settings live in server.Config.
type Config struct {
	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Instrumentation configures metrics and traces. Disabled by default.
	Instrumentation instrumentation.Config
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Disabled turns off per-IP limiting of /authorize, /token, /revoke
	// and /userinfo.
	Disabled bool

	// Rate is requests per second allowed per IP.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	// Default: 20
	Burst int

	// MaxEntries bounds the number of tracked IPs (default: 10000).
	MaxEntries int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration

	// SecurityEventRate limits how often one user/client pair may produce
	// security log lines (theft, reuse, bad secrets).
	// Default: 1 per second, burst 5
	SecurityEventRate  float64
	SecurityEventBurst int
}

// SecurityConfig holds HTTP security settings (secure by default)
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (user ids hashed).
	EnableAuditLogging bool

	// MaxFormBytes bounds request bodies of form endpoints.
	// Default: 64 KiB
	MaxFormBytes int64
}

func applyHandlerDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.RateLimit.Rate <= 0 {
		config.RateLimit.Rate = DefaultRateLimit
	}
	if config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = DefaultRateLimitBurst
	}
	if config.RateLimit.SecurityEventRate <= 0 {
		config.RateLimit.SecurityEventRate = DefaultSecurityEventRate
	}
	if config.RateLimit.SecurityEventBurst <= 0 {
		config.RateLimit.SecurityEventBurst = DefaultSecurityEventBurst
	}
	if config.Security.MaxFormBytes <= 0 {
		config.Security.MaxFormBytes = DefaultMaxFormBytes
	}
	return config
}
