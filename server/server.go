package server

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/keys"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/storage"
)

// Stores groups the storage backends the server runs on. A single store
// such as memory.Store or valkey.Store satisfies all four.
type Stores struct {
	Clients       storage.ClientStore
	Codes         storage.CodeStore
	RefreshTokens storage.RefreshTokenStore
	Sessions      storage.SessionStore
}

// Server implements the SSO authorization server logic.
// It coordinates the components below; the root package serves it over HTTP.
type Server struct {
	Clients   *ClientRegistry
	Codes     *CodeIssuer
	Tokens    *TokenIssuer
	Refresh   *RefreshTokens
	Sessions  *SessionManager
	Discovery *Discovery

	directory identity.Directory
	clock     security.Clock
	tracer    trace.Tracer

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new SSO server
func New(
	stores Stores,
	keyProvider keys.Provider,
	directory identity.Directory,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if stores.Clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if stores.Codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if stores.RefreshTokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if stores.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if keyProvider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("identity directory is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	srv := &Server{
		directory: directory,
		clock:     security.SystemClock(),
		Config:    config,
		Logger:    logger,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	sessions, err := NewSessionManager(stores.Sessions, config.SessionKey, config.Issuer,
		config.SessionTTL, config.SessionAbsoluteLifetime, logger)
	if err != nil {
		return nil, err
	}

	policy := RedirectPolicy{
		RequireHTTPS:         srv.secureCookies(),
		AllowedCustomSchemes: config.AllowedCustomSchemes,
	}

	srv.Clients = NewClientRegistry(stores.Clients, policy, logger)
	srv.Codes = NewCodeIssuer(stores.Codes, config.AuthorizationCodeTTL, config.StrictVerifierLength, logger)
	srv.Tokens = NewTokenIssuer(keyProvider, config.Issuer, config.AccessTokenTTL)
	srv.Refresh = NewRefreshTokens(stores.RefreshTokens, config.RefreshTokenTTL, logger)
	srv.Sessions = sessions
	srv.Discovery = NewDiscovery(config, keyProvider)

	return srv, nil
}

// SetClock replaces the time source of every component. Tests use it to
// check lifetimes at exact offsets.
func (s *Server) SetClock(clock security.Clock) {
	if clock == nil {
		clock = security.SystemClock()
	}
	s.clock = clock
	s.Clients.clock = clock
	s.Codes.clock = clock
	s.Tokens.clock = clock
	s.Refresh.clock = clock
	s.Sessions.clock = clock
	if s.Auditor != nil {
		s.Auditor.SetClock(clock)
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	if aud != nil {
		aud.SetClock(s.clock)
	}
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation enables metrics and flow spans.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.tracer = nil
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// Clock returns the server's time source.
func (s *Server) Clock() security.Clock {
	return s.clock
}

// metrics returns the metric instruments, or nil without instrumentation.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// allowSecurityLog reports whether a security event for key may be logged.
func (s *Server) allowSecurityLog(key string) bool {
	return s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(key)
}
