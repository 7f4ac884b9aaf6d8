package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/security"
	"github.com/giantswarm/workspace-sso/server"
)

const (
	// discovery documents change only with configuration or key rotation
	discoveryMaxAge = 3600
	jwksMaxAge      = 600

	retryAfterSeconds = "60"

	// ReturnToParam carries the authorization URL to the login UI.
	ReturnToParam = "return_to"
)

// Handler is a thin HTTP adapter for the SSO Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *server.Server
	config *Config
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer

	secureCookies bool
	closers       []func(context.Context) error
}

// NewHandler creates the HTTP handler and installs the rate limiters,
// auditor and instrumentation described by config on srv.
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applyHandlerDefaults(config)

	h := &Handler{
		server:        srv,
		config:        config,
		logger:        logger,
		secureCookies: security.IsHTTPS(srv.Config.Issuer),
	}

	if config.Instrumentation.Enabled {
		inst, err := instrumentation.New(config.Instrumentation)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		srv.SetInstrumentation(inst)
		h.closers = append(h.closers, inst.Shutdown)
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	if config.Security.EnableAuditLogging && srv.Auditor == nil {
		auditor := security.NewAuditor(logger, true)
		if srv.Instrumentation != nil {
			auditor.SetRecorder(srv.Instrumentation.Metrics())
		}
		srv.SetAuditor(auditor)
	}

	if !config.RateLimit.Disabled && srv.RateLimiter == nil {
		rl := security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: config.RateLimit.Rate,
			Burst:             config.RateLimit.Burst,
			MaxEntries:        config.RateLimit.MaxEntries,
			CleanupInterval:   config.RateLimit.CleanupInterval,
		}, logger)
		srv.SetRateLimiter(rl)
		h.closers = append(h.closers, stopLimiter(rl))
	}
	if srv.SecurityEventRateLimiter == nil {
		rl := security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: config.RateLimit.SecurityEventRate,
			Burst:             config.RateLimit.SecurityEventBurst,
			MaxEntries:        config.RateLimit.MaxEntries,
			CleanupInterval:   config.RateLimit.CleanupInterval,
		}, logger)
		srv.SetSecurityEventRateLimiter(rl)
		h.closers = append(h.closers, stopLimiter(rl))
	}

	return h, nil
}

func stopLimiter(rl *security.RateLimiter) func(context.Context) error {
	return func(context.Context) error {
		rl.Stop()
		return nil
	}
}

// Close stops the background work started by NewHandler.
func (h *Handler) Close(ctx context.Context) error {
	var errs []error
	for _, closer := range h.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// Instrumentation returns the server's instrumentation, or nil.
func (h *Handler) Instrumentation() *instrumentation.Instrumentation {
	return h.server.Instrumentation
}

// RegisterRoutes registers every SSO endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(server.PathAuthorize, h.instrument("authorize", h.ServeAuthorization))
	mux.Handle(server.PathToken, h.instrument("token", h.ServeToken))
	mux.Handle(server.PathUserInfo, h.instrument("userinfo", h.ServeUserInfo))
	mux.Handle(server.PathRevoke, h.instrument("revoke", h.ServeTokenRevocation))
	mux.Handle(server.PathLogout, h.instrument("logout", h.ServeLogout))
	mux.Handle(server.PathDiscovery, h.instrument("discovery", h.ServeOpenIDConfiguration))
	mux.Handle(server.PathJWKS, h.instrument("jwks", h.ServeJWKS))
}

// Routes returns the SSO endpoints wrapped in the request id middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// instrument wraps an endpoint with a span and the HTTP request metrics.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		if h.tracer != nil {
			ctx, span := h.tracer.Start(r.Context(), "sso.http."+endpoint)
			defer span.End()
			instrumentation.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("request.id", security.GetRequestID(ctx)))
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)

		if h.server.Instrumentation != nil {
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
			h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status, duration)
		}
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
	if m := h.server.Instrumentation; m != nil {
		m.Metrics().RecordRateLimitExceeded(r.Context(), r.URL.Path)
	}
	if h.server.Auditor != nil && (h.server.SecurityEventRateLimiter == nil || h.server.SecurityEventRateLimiter.Allow("ratelimit:"+clientIP)) {
		h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)
	}
	w.Header().Set("Retry-After", retryAfterSeconds)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// parseForm parses a bounded request body. Query parameters are not
// accepted on POST endpoints.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.Security.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return false
	}
	return true
}

// singleValues returns the named parameters, rejecting any that occur
// more than once (RFC 6749 section 3.1).
func singleValues(values url.Values, names ...string) (map[string]string, string) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		switch v := values[name]; len(v) {
		case 0:
		case 1:
			out[name] = v[0]
		default:
			return nil, name
		}
	}
	return out, ""
}

// ServeOpenIDConfiguration serves the OpenID Provider metadata.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writePublicJSON(w, h.server.Discovery.Metadata(""), discoveryMaxAge)
}

// ServeJWKS serves the token verification keys.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	set, err := h.server.Discovery.JWKS(r.Context())
	if err != nil {
		h.logger.Error("Failed to load verification keys", "error", err)
		h.writeOAuthError(w, err)
		return
	}
	h.writePublicJSON(w, set, jwksMaxAge)
}

// ServeAuthorization handles OIDC authentication requests (GET and POST).
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if !h.parseForm(w, r) {
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	values := r.URL.Query()
	if r.Method == http.MethodPost {
		values = r.PostForm
	}
	params, dup := singleValues(values,
		"client_id", "redirect_uri", "response_type", "scope", "state",
		"code_challenge", "code_challenge_method", "nonce", "prompt")
	if dup != "" {
		// The redirect URI may be the duplicate, so nothing is redirected.
		h.writeError(w, ErrorCodeInvalidRequest, dup+" must not be repeated", http.StatusBadRequest)
		return
	}

	req := server.AuthorizeRequest{
		ClientID:            params["client_id"],
		RedirectURI:         params["redirect_uri"],
		ResponseType:        params["response_type"],
		Scope:               params["scope"],
		State:               params["state"],
		CodeChallenge:       params["code_challenge"],
		CodeChallengeMethod: params["code_challenge_method"],
		Nonce:               params["nonce"],
		Prompt:              params["prompt"],
		SessionID:           h.sessionID(r),
		ClientIP:            clientIP,
	}

	result, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		h.handleAuthorizeError(w, r, values, err)
		return
	}

	h.redirect(w, r, result.RedirectURI, url.Values{
		"code":  {result.Code},
		"state": nonEmpty(result.State),
	})
}

func (h *Handler) handleAuthorizeError(w http.ResponseWriter, r *http.Request, values url.Values, err error) {
	if re, ok := server.IsRedirectable(err); ok {
		oe := oauthErrorFrom(re.Err)
		desc := re.Description
		if desc == "" {
			desc = oe.Description
		}
		h.redirect(w, r, re.RedirectURI, url.Values{
			"error":             {oe.Code},
			"error_description": {desc},
			"state":             nonEmpty(re.State),
		})
		return
	}

	switch {
	case errors.Is(err, server.ErrLoginRequired):
		h.redirectToLogin(w, r, values)
	case errors.Is(err, server.ErrInvalidClient):
		h.writeError(w, ErrorCodeInvalidRequest, "client_id is not registered", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidRedirectURI):
		h.writeError(w, ErrorCodeInvalidRequest, "redirect_uri is not registered for this client", http.StatusBadRequest)
	default:
		h.logger.Error("Authorization request failed", "error", err)
		h.writeOAuthError(w, err)
	}
}

// redirectToLogin sends the browser to the login UI with the authorization
// request to return to. prompt=login is dropped from the return URL so the
// fresh session is used after signing in.
func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request, values url.Values) {
	returnTo := url.Values{}
	for name, v := range values {
		returnTo[name] = append([]string(nil), v...)
	}
	if prompt := returnTo.Get("prompt"); prompt != "" {
		var kept []string
		for _, p := range util.ParseScope(prompt) {
			if p != server.PromptLogin {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			returnTo.Del("prompt")
		} else {
			returnTo.Set("prompt", util.JoinScope(kept))
		}
	}

	authorizeURL := strings.TrimSuffix(h.server.Config.Issuer, "/") + server.PathAuthorize + "?" + returnTo.Encode()
	h.redirect(w, r, h.server.Config.LoginURL, url.Values{ReturnToParam: {authorizeURL}})
}

// redirect appends params to target, keeping its own query, and answers 302.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		h.logger.Error("Refusing to redirect to unparseable URI", "error", err)
		h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
		return
	}
	q := u.Query()
	for name, v := range params {
		for _, value := range v {
			q.Add(name, value)
		}
	}
	u.RawQuery = q.Encode()

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}
	if !h.parseForm(w, r) {
		return
	}

	params, dup := singleValues(r.PostForm,
		"grant_type", "code", "redirect_uri", "code_verifier", "refresh_token", "scope")
	if dup != "" {
		h.writeError(w, ErrorCodeInvalidRequest, dup+" must not be repeated", http.StatusBadRequest)
		return
	}

	clientID, clientSecret, basic, oerr := clientCredentials(r)
	if oerr != nil {
		h.writeOAuthError(w, oerr)
		return
	}

	result, err := h.server.Token(r.Context(), server.TokenRequest{
		GrantType:    params["grant_type"],
		Code:         params["code"],
		RedirectURI:  params["redirect_uri"],
		CodeVerifier: params["code_verifier"],
		RefreshToken: params["refresh_token"],
		Scope:        params["scope"],
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientIP:     clientIP,
	})
	if err != nil {
		h.writeClientError(w, err, basic)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
		Scope:        result.Scope,
	})
}

// clientCredentials extracts client_secret_basic or client_secret_post
// credentials. Using both at once is rejected (RFC 6749 section 2.3).
func clientCredentials(r *http.Request) (clientID, secret string, basic bool, err *OAuthError) {
	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	user, pass, ok := r.BasicAuth()
	if !ok {
		return formID, formSecret, false, nil
	}
	if formSecret != "" {
		return "", "", true, ErrInvalidRequest("Multiple client authentication methods used")
	}

	// RFC 6749 section 2.3.1: both parts are form-urlencoded
	id, err1 := url.QueryUnescape(user)
	sec, err2 := url.QueryUnescape(pass)
	if err1 != nil || err2 != nil {
		return "", "", true, ErrInvalidClient("Malformed client credentials")
	}
	if formID != "" && formID != id {
		return "", "", true, ErrInvalidRequest("client_id does not match the authenticated client")
	}
	return id, sec, true, nil
}

// ServeTokenRevocation handles RFC 7009 revocation. Authenticated clients
// always get 200, whether or not the token was known.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}
	if !h.parseForm(w, r) {
		return
	}

	clientID, clientSecret, basic, oerr := clientCredentials(r)
	if oerr != nil {
		h.writeOAuthError(w, oerr)
		return
	}

	err := h.server.RevokeToken(r.Context(), server.RevokeRequest{
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		ClientIP:      clientIP,
	})
	switch {
	case err == nil:
	case errors.Is(err, server.ErrInvalidClient), errors.Is(err, server.ErrInvalidRequest):
		h.writeClientError(w, err, basic)
		return
	default:
		// RFC 7009 section 2.2: the client cannot act on this
		h.logger.Error("Failed to revoke token", "client_id", clientID, "ip", clientIP, "error", err)
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeUserInfo handles the OIDC userinfo endpoint.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	accessToken, ok := h.extractBearerToken(w, r)
	if !ok {
		return
	}

	claims, err := h.server.UserInfo(r.Context(), accessToken)
	if err != nil {
		if !errors.Is(err, server.ErrInvalidToken) && !errors.Is(err, server.ErrInsufficientScope) {
			h.logger.Error("UserInfo lookup failed", "ip", clientIP, "error", err)
		}
		h.writeBearerError(w, oauthErrorFrom(err))
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// RFC 6750 section 3.1: no error code when credentials are absent
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		w.Header().Set("WWW-Authenticate", server.TokenTypeBearer)
		h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:            ErrorCodeInvalidToken,
			ErrorDescription: "Missing Authorization header",
		})
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], server.TokenTypeBearer) || strings.TrimSpace(parts[1]) == "" {
		h.writeBearerError(w, ErrInvalidToken("Invalid Authorization header format"))
		return "", false
	}

	return strings.TrimSpace(parts[1]), true
}

// ServeLogout ends the SSO session (RP-initiated logout).
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	var values url.Values
	switch r.Method {
	case http.MethodGet:
		values = r.URL.Query()
	case http.MethodPost:
		if !h.parseForm(w, r) {
			return
		}
		values = r.PostForm
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	redirect, err := h.server.Logout(r.Context(), server.LogoutRequest{
		SessionID:             h.sessionID(r),
		ClientID:              values.Get("client_id"),
		PostLogoutRedirectURI: values.Get("post_logout_redirect_uri"),
		ClientIP:              h.clientIP(r),
	})
	h.clearSessionCookie(w)
	if err != nil {
		h.logger.Error("Logout failed", "error", err)
		h.writeOAuthError(w, err)
		return
	}

	if redirect != "" {
		h.redirect(w, r, redirect, url.Values{"state": nonEmpty(values.Get("state"))})
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Signed out\n"))
}

// EstablishSession is called by the login UI once it has authenticated
// userID. It starts an SSO session and sets the session cookie; the UI
// then redirects the browser back to its return_to URL.
func (h *Handler) EstablishSession(w http.ResponseWriter, r *http.Request, userID string) error {
	session, err := h.server.EstablishSession(r.Context(), userID, h.clientIP(r))
	if err != nil {
		return err
	}

	sealed, err := h.server.Sessions.Seal(session.SessionID, session.AbsoluteExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to seal session cookie: %w", err)
	}

	maxAge := int(session.AbsoluteExpiresAt.Sub(h.server.Clock().Now()).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.server.Config.SessionCookieName,
		Value:    sealed,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  session.AbsoluteExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// sessionID returns the session id from a valid session cookie, or "".
func (h *Handler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(h.server.Config.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	id, err := h.server.Sessions.Open(cookie.Value)
	if err != nil {
		h.logger.Debug("Ignoring invalid session cookie", "error", err)
		return ""
	}
	return id
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.server.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeClientError writes a token or revocation endpoint error. 401s carry
// the challenge for the authentication scheme the client tried.
func (h *Handler) writeClientError(w http.ResponseWriter, err error, basic bool) {
	oe := oauthErrorFrom(err)
	if oe.Status == http.StatusInternalServerError {
		h.logger.Error("Token endpoint request failed", "error", err)
	}
	if oe.Status == http.StatusUnauthorized {
		scheme := "Basic"
		if !basic {
			scheme = "Form"
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`%s realm=%q`, scheme, h.server.Config.Issuer))
	}
	h.writeOAuthError(w, oe)
}

// writeBearerError writes an RFC 6750 error with its WWW-Authenticate
// challenge.
func (h *Handler) writeBearerError(w http.ResponseWriter, oe *OAuthError) {
	scope := ""
	if oe.Code == ErrorCodeInsufficientScope {
		scope = server.ScopeOpenID
	}
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(scope, oe.Code, oe.Description))
	h.writeOAuthError(w, oe)
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 section 3.
func formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	var params []string
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quoteEscape(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errorDesc)))
	}
	if len(params) == 0 {
		return server.TokenTypeBearer
	}
	return server.TokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes backslashes first, then quotes (RFC 7230 quoted-string).
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	oe := oauthErrorFrom(err)
	h.writeError(w, oe.Code, oe.Description, oe.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeJSON writes a no-store JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// writePublicJSON writes a cacheable JSON response.
func (h *Handler) writePublicJSON(w http.ResponseWriter, body any, maxAge int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetPublicCache(w, maxAge)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}
