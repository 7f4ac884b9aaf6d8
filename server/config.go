package server

import (
	"log/slog"
	"time"
)

// Lifetime defaults and upper bounds.
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	MaxAuthorizationCodeTTL     = 10 * time.Minute

	DefaultAccessTokenTTL = time.Hour
	MaxAccessTokenTTL     = time.Hour

	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	MaxRefreshTokenTTL     = 30 * 24 * time.Hour

	DefaultSessionTTL              = 24 * time.Hour
	DefaultSessionAbsoluteLifetime = 30 * 24 * time.Hour

	DefaultSessionCookieName = "sso_session"

	// MinSessionKeyLength is the minimum HS256 key size for session cookies.
	MinSessionKeyLength = 32
)

// Standard OIDC scopes.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// DefaultSupportedScopes is used when Config.SupportedScopes is empty.
var DefaultSupportedScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeOfflineAccess}

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Required.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	// Default: 10 minutes, which is also the maximum.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access and ID tokens are valid
	// Default: 1 hour, which is also the maximum.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long each refresh token is valid.
	// Default: 30 days, which is also the maximum.
	RefreshTokenTTL time.Duration

	// SessionTTL is the sliding idle lifetime of an SSO session.
	// Default: 24 hours
	SessionTTL time.Duration

	// SessionAbsoluteLifetime caps a session regardless of activity.
	// Default: 30 days
	SessionAbsoluteLifetime time.Duration

	// SupportedScopes lists the scopes clients may request.
	// Default: openid, profile, email, offline_access
	SupportedScopes []string

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// When false, only S256 is accepted.
	// Default: false
	AllowPKCEPlain bool

	// RequirePKCE requires PKCE from confidential clients too.
	// Public clients must always use PKCE.
	// Default: false
	RequirePKCE bool

	// StrictVerifierLength enforces the RFC 7636 minimum verifier length
	// of 43 characters. The character set and the 128 character maximum
	// are always enforced.
	// Default: false
	StrictVerifierLength bool

	// LoginURL is where browsers without a session are sent to sign in.
	// The authorization URL is appended as the return_to query parameter.
	// When empty, a missing session is reported as login_required.
	LoginURL string

	// SessionCookieName is the name of the SSO session cookie.
	// Default: "sso_session"
	SessionCookieName string

	// SessionKey signs session cookies (HS256). It must be distinct from
	// the token signing keys and at least 32 bytes. Required.
	SessionKey []byte

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int

	// AllowInsecureHTTP allows an http:// issuer on a non-loopback host.
	// Default: false
	AllowInsecureHTTP bool

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns
	// (regex) for native app redirect URIs.
	// Default: RFC 3986 compliant schemes
	AllowedCustomSchemes []string
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config, logger)

	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = append([]string(nil), DefaultSupportedScopes...)
	}
	if config.SessionCookieName == "" {
		config.SessionCookieName = DefaultSessionCookieName
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}
	if len(config.AllowedCustomSchemes) == 0 {
		config.AllowedCustomSchemes = DefaultRFC3986SchemePattern
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for lifetimes and caps them.
func applyTimeDefaults(config *Config, logger *slog.Logger) {
	config.AuthorizationCodeTTL = lifetime(logger, "AuthorizationCodeTTL",
		config.AuthorizationCodeTTL, DefaultAuthorizationCodeTTL, MaxAuthorizationCodeTTL)
	config.AccessTokenTTL = lifetime(logger, "AccessTokenTTL",
		config.AccessTokenTTL, DefaultAccessTokenTTL, MaxAccessTokenTTL)
	config.RefreshTokenTTL = lifetime(logger, "RefreshTokenTTL",
		config.RefreshTokenTTL, DefaultRefreshTokenTTL, MaxRefreshTokenTTL)

	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.SessionAbsoluteLifetime <= 0 {
		config.SessionAbsoluteLifetime = DefaultSessionAbsoluteLifetime
	}
	if config.SessionAbsoluteLifetime < config.SessionTTL {
		logger.Warn("Session absolute lifetime is shorter than the sliding TTL",
			"absolute", config.SessionAbsoluteLifetime,
			"sliding", config.SessionTTL,
			"effect", "sessions end at the absolute lifetime")
	}
}

func lifetime(logger *slog.Logger, name string, configured, def, maxTTL time.Duration) time.Duration {
	switch {
	case configured <= 0:
		return def
	case configured > maxTTL:
		logger.Warn("Lifetime exceeds maximum, capping",
			"setting", name,
			"configured", configured,
			"corrected_to", maxTTL)
		return maxTTL
	}
	return configured
}

// logSecurityWarnings logs warnings for insecure configuration settings.
// This is called after applying defaults.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if !config.StrictVerifierLength {
		logger.Debug("PKCE verifier minimum length not enforced",
			"recommendation", "Set StrictVerifierLength=true once all clients send 43+ character verifiers")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.LoginURL == "" {
		logger.Warn("CONFIGURATION WARNING: LoginURL not configured",
			"effect", "Authorization requests without a session fail with login_required",
			"recommendation", "Point LoginURL at the login UI")
	}
}
