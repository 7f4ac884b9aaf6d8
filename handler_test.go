package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/internal/testutil"
	"github.com/giantswarm/workspace-sso/server"
	"github.com/giantswarm/workspace-sso/storage/memory"
)

const (
	testIssuer       = "https://sso.example.com"
	testClientID     = "workspace-app"
	testClientSecret = "workspace-app-secret"
	testRedirectURI  = "https://app.example/cb"
	testUserID       = "user-123"
	testUserEmail    = "ada@example.com"
)

type testHandler struct {
	h     *Handler
	srv   *server.Server
	clock *testutil.MockTime
	mux   http.Handler
}

func setupTestHandler(t *testing.T, config *Config) *testHandler {
	t.Helper()

	clock := testutil.NewMockTime(testutil.Epoch)
	store := memory.New()
	store.SetClock(clock)
	t.Cleanup(store.Stop)

	dir := identity.NewStaticDirectory(&identity.UserInfo{
		ID:            testUserID,
		Email:         testUserEmail,
		EmailVerified: identity.Bool(true),
		Name:          "Ada Lovelace",
	})

	srv, err := server.New(server.Stores{
		Clients:       store,
		Codes:         store,
		RefreshTokens: store,
		Sessions:      store,
	}, testutil.KeyProvider(t), dir, &server.Config{
		Issuer:     testIssuer,
		SessionKey: testutil.SessionKey(),
		LoginURL:   testIssuer + "/login",
	}, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	srv.SetClock(clock)

	if _, err := srv.Clients.Register(context.Background(), server.ClientRegistration{
		ClientID:     testClientID,
		Secret:       testClientSecret,
		RedirectURIs: []string{testRedirectURI},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	h, err := NewHandler(srv, config, nil)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	return &testHandler{h: h, srv: srv, clock: clock, mux: h.Routes()}
}

func (th *testHandler) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	th.mux.ServeHTTP(w, req)
	return w
}

// login signs the test user in and returns the session cookie.
func (th *testHandler) login(t *testing.T) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	if err := th.h.EstablishSession(w, httptest.NewRequest(http.MethodPost, "/login", nil), testUserID); err != nil {
		t.Fatalf("EstablishSession() error = %v", err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("EstablishSession() set %d cookies, want 1", len(cookies))
	}
	return cookies[0]
}

func authorizeQuery(scope, challenge string) url.Values {
	return url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {"code"},
		"scope":                 {scope},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"nonce":                 {"n-0S6_WzA2Mj"},
	}
}

func (th *testHandler) authorize(t *testing.T, cookie *http.Cookie, q url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return th.do(req)
}

// code runs the authorization request and returns the issued code.
func (th *testHandler) code(t *testing.T, cookie *http.Cookie, scope string) (code, verifier string) {
	t.Helper()
	challenge, verifier := testutil.GeneratePKCEPair()
	w := th.authorize(t, cookie, authorizeQuery(scope, challenge))
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d; body = %s", w.Code, http.StatusFound, w.Body.String())
	}
	loc := mustParseLocation(t, w)
	if got := loc.Query().Get("state"); got != "xyz" {
		t.Errorf("state = %q, want %q", got, "xyz")
	}
	code = loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %s", loc)
	}
	return code, verifier
}

func tokenRequest(form url.Values, basic bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic {
		req.SetBasicAuth(testClientID, testClientSecret)
	}
	return req
}

func (th *testHandler) exchange(t *testing.T, code, verifier string) TokenResponse {
	t.Helper()
	w := th.do(tokenRequest(url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}, true))
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return resp
}

func mustParseLocation(t *testing.T, w *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location header: %v", err)
	}
	return loc
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestNewHandler(t *testing.T) {
	if _, err := NewHandler(nil, nil, nil); err == nil {
		t.Error("NewHandler(nil) should fail")
	}

	th := setupTestHandler(t, nil)
	if th.h.logger == nil {
		t.Error("logger should not be nil")
	}
	if th.srv.RateLimiter == nil {
		t.Error("rate limiter should be installed by default")
	}
	if th.srv.SecurityEventRateLimiter == nil {
		t.Error("security event rate limiter should be installed")
	}
	if th.srv.Auditor != nil {
		t.Error("auditor should stay off unless audit logging is enabled")
	}
	if !th.h.secureCookies {
		t.Error("https issuer should produce secure cookies")
	}
}

func TestNewHandler_AuditAndRateLimitOptions(t *testing.T) {
	th := setupTestHandler(t, &Config{
		RateLimit: RateLimitConfig{Disabled: true},
		Security:  SecurityConfig{EnableAuditLogging: true},
	})
	if th.srv.RateLimiter != nil {
		t.Error("rate limiter should not be installed when disabled")
	}
	if th.srv.Auditor == nil {
		t.Error("auditor should be installed when audit logging is enabled")
	}
}

func TestHandler_ServeOpenIDConfiguration(t *testing.T) {
	th := setupTestHandler(t, nil)

	w := th.do(httptest.NewRequest(http.MethodGet, server.PathDiscovery, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be set")
	}

	var meta server.ProviderMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Issuer != testIssuer {
		t.Errorf("issuer = %q, want %q", meta.Issuer, testIssuer)
	}
	if meta.TokenEndpoint != testIssuer+server.PathToken {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}

	w = th.do(httptest.NewRequest(http.MethodPost, server.PathDiscovery, nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_ServeJWKS(t *testing.T) {
	th := setupTestHandler(t, nil)

	w := th.do(httptest.NewRequest(http.MethodGet, server.PathJWKS, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=600" {
		t.Errorf("Cache-Control = %q", got)
	}

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(w.Body).Decode(&set); err != nil {
		t.Fatalf("failed to decode JWKS: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(set.Keys))
	}
	if set.Keys[0]["kty"] != "RSA" {
		t.Errorf("kty = %v, want RSA", set.Keys[0]["kty"])
	}
	if _, ok := set.Keys[0]["d"]; ok {
		t.Error("JWKS must not expose private key material")
	}
}

func TestHandler_AuthorizationCodeFlow(t *testing.T) {
	th := setupTestHandler(t, nil)

	cookie := th.login(t)
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie attributes = HttpOnly:%v Secure:%v SameSite:%v", cookie.HttpOnly, cookie.Secure, cookie.SameSite)
	}

	code, verifier := th.code(t, cookie, "openid profile email")
	tokens := th.exchange(t, code, verifier)

	if tokens.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", tokens.TokenType)
	}
	if tokens.AccessToken == "" || tokens.IDToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("incomplete token response: %+v", tokens)
	}
	if tokens.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want > 0", tokens.ExpiresIn)
	}

	req := httptest.NewRequest(http.MethodGet, server.PathUserInfo, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := th.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("userinfo status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	var claims server.UserInfoClaims
	if err := json.NewDecoder(w.Body).Decode(&claims); err != nil {
		t.Fatalf("failed to decode userinfo: %v", err)
	}
	if claims.Subject != testUserID || claims.Email != testUserEmail {
		t.Errorf("claims = %+v", claims)
	}

	// the code is single use
	w = th.do(tokenRequest(url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}, true))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replayed code status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", got, ErrorCodeInvalidGrant)
	}
}

func TestHandler_AuthorizeFormPost(t *testing.T) {
	th := setupTestHandler(t, nil)
	cookie := th.login(t)

	challenge, _ := testutil.GeneratePKCEPair()
	req := httptest.NewRequest(http.MethodPost, server.PathAuthorize, strings.NewReader(authorizeQuery("openid", challenge).Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	w := th.do(req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusFound, w.Body.String())
	}
	if mustParseLocation(t, w).Query().Get("code") == "" {
		t.Error("expected a code in the redirect")
	}
}

func TestHandler_AuthorizeWithoutSession(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	t.Run("sent to login", func(t *testing.T) {
		th := setupTestHandler(t, nil)
		q := authorizeQuery("openid", challenge)
		q.Set("prompt", "login")

		w := th.authorize(t, nil, q)
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		loc := mustParseLocation(t, w)
		if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testIssuer+"/login" {
			t.Fatalf("redirected to %q, want the login page", got)
		}

		returnTo, err := url.Parse(loc.Query().Get(ReturnToParam))
		if err != nil {
			t.Fatalf("invalid return_to: %v", err)
		}
		if returnTo.Path != server.PathAuthorize {
			t.Errorf("return_to path = %q", returnTo.Path)
		}
		if returnTo.Query().Has("prompt") {
			t.Errorf("return_to should drop prompt=login, got %q", returnTo.Query().Get("prompt"))
		}
		if got := returnTo.Query().Get("state"); got != "xyz" {
			t.Errorf("return_to state = %q, want xyz", got)
		}
	})

	t.Run("prompt none", func(t *testing.T) {
		th := setupTestHandler(t, nil)
		q := authorizeQuery("openid", challenge)
		q.Set("prompt", "none")

		w := th.authorize(t, nil, q)
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		loc := mustParseLocation(t, w)
		if !strings.HasPrefix(loc.String(), testRedirectURI) {
			t.Fatalf("redirected to %q, want the client", loc)
		}
		if got := loc.Query().Get("error"); got != ErrorCodeLoginRequired {
			t.Errorf("error = %q, want %q", got, ErrorCodeLoginRequired)
		}
		if got := loc.Query().Get("state"); got != "xyz" {
			t.Errorf("state = %q, want xyz", got)
		}
	})

	t.Run("tampered cookie", func(t *testing.T) {
		th := setupTestHandler(t, nil)
		cookie := th.login(t)
		cookie.Value = "tampered." + cookie.Value

		w := th.authorize(t, cookie, authorizeQuery("openid", challenge))
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if loc := mustParseLocation(t, w); loc.Path != "/login" {
			t.Errorf("redirected to %q, want the login page", loc)
		}
	})
}

func TestHandler_AuthorizeErrors(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name         string
		mutate       func(q url.Values)
		wantStatus   int
		wantRedirect string // error code in the redirect, empty for a JSON error
	}{
		{
			name:       "unregistered redirect uri",
			mutate:     func(q url.Values) { q.Set("redirect_uri", "https://evil.example/cb") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "redirect uri path suffix",
			mutate:     func(q url.Values) { q.Set("redirect_uri", testRedirectURI+"/evil") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown client",
			mutate:     func(q url.Values) { q.Set("client_id", "nobody") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "repeated redirect uri",
			mutate:     func(q url.Values) { q.Add("redirect_uri", "https://evil.example/cb") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:         "unsupported response type",
			mutate:       func(q url.Values) { q.Set("response_type", "token") },
			wantStatus:   http.StatusFound,
			wantRedirect: ErrorCodeUnsupportedResponseType,
		},
		{
			name:         "unknown scope",
			mutate:       func(q url.Values) { q.Set("scope", "openid admin") },
			wantStatus:   http.StatusFound,
			wantRedirect: ErrorCodeInvalidScope,
		},
		{
			name:         "plain pkce",
			mutate:       func(q url.Values) { q.Set("code_challenge_method", "plain") },
			wantStatus:   http.StatusFound,
			wantRedirect: ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := setupTestHandler(t, nil)
			cookie := th.login(t)

			q := authorizeQuery("openid", challenge)
			tt.mutate(q)
			w := th.authorize(t, cookie, q)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantRedirect == "" {
				if loc := w.Header().Get("Location"); loc != "" {
					t.Errorf("must not redirect, got Location %q", loc)
				}
				if got := decodeError(t, w).Error; got != ErrorCodeInvalidRequest {
					t.Errorf("error = %q, want %q", got, ErrorCodeInvalidRequest)
				}
				return
			}

			loc := mustParseLocation(t, w)
			if !strings.HasPrefix(loc.String(), testRedirectURI) {
				t.Fatalf("redirected to %q, want the client", loc)
			}
			if got := loc.Query().Get("error"); got != tt.wantRedirect {
				t.Errorf("error = %q, want %q", got, tt.wantRedirect)
			}
			if loc.Query().Get("error_description") == "" {
				t.Error("error_description should be set")
			}
			if loc.Query().Has("code") {
				t.Error("error redirect must not carry a code")
			}
		})
	}
}

func TestHandler_ServeTokenErrors(t *testing.T) {
	th := setupTestHandler(t, &Config{RateLimit: RateLimitConfig{Disabled: true}})
	cookie := th.login(t)

	t.Run("wrong secret", func(t *testing.T) {
		req := tokenRequest(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}}, false)
		req.SetBasicAuth(testClientID, "wrong")

		w := th.do(req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic realm=") {
			t.Errorf("WWW-Authenticate = %q", got)
		}
		if got := decodeError(t, w).Error; got != ErrorCodeInvalidClient {
			t.Errorf("error = %q, want %q", got, ErrorCodeInvalidClient)
		}
	})

	t.Run("two authentication methods", func(t *testing.T) {
		w := th.do(tokenRequest(url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {"x"},
			"client_secret": {testClientSecret},
		}, true))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, w).Error; got != ErrorCodeInvalidRequest {
			t.Errorf("error = %q, want %q", got, ErrorCodeInvalidRequest)
		}
	})

	t.Run("client_secret_post", func(t *testing.T) {
		code, verifier := th.code(t, cookie, "openid")
		w := th.do(tokenRequest(url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
			"client_id":     {testClientID},
			"client_secret": {testClientSecret},
		}, false))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q, want no-store", got)
		}
	})

	t.Run("wrong verifier", func(t *testing.T) {
		code, _ := th.code(t, cookie, "openid")
		_, otherVerifier := testutil.GeneratePKCEPair()
		w := th.do(tokenRequest(url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {otherVerifier},
		}, true))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
			t.Errorf("error = %q, want %q", got, ErrorCodeInvalidGrant)
		}
	})

	t.Run("unsupported grant", func(t *testing.T) {
		w := th.do(tokenRequest(url.Values{"grant_type": {"password"}}, true))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, w).Error; got != ErrorCodeUnsupportedGrantType {
			t.Errorf("error = %q, want %q", got, ErrorCodeUnsupportedGrantType)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := th.do(httptest.NewRequest(http.MethodGet, server.PathToken, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestHandler_RefreshAndRevoke(t *testing.T) {
	th := setupTestHandler(t, nil)
	cookie := th.login(t)
	code, verifier := th.code(t, cookie, "openid profile")
	tokens := th.exchange(t, code, verifier)

	w := th.do(tokenRequest(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"scope":         {"openid"},
	}, true))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var refreshed TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&refreshed); err != nil {
		t.Fatalf("failed to decode refresh response: %v", err)
	}
	if refreshed.Scope != "openid" {
		t.Errorf("scope = %q, want openid", refreshed.Scope)
	}
	if refreshed.RefreshToken == "" || refreshed.RefreshToken == tokens.RefreshToken {
		t.Error("refresh should rotate the refresh token")
	}

	revoke := func(token string, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, server.PathRevoke, strings.NewReader(url.Values{"token": {token}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(testClientID, secret)
		return th.do(req)
	}

	if w := revoke(refreshed.RefreshToken, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("revoke with bad secret status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := revoke(refreshed.RefreshToken, testClientSecret); w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := revoke("unknown-token", testClientSecret); w.Code != http.StatusOK {
		t.Errorf("revoking an unknown token status = %d, want %d", w.Code, http.StatusOK)
	}

	w = th.do(tokenRequest(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshed.RefreshToken},
	}, true))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("refresh after revoke status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", got, ErrorCodeInvalidGrant)
	}
}

func TestHandler_ServeUserInfoErrors(t *testing.T) {
	th := setupTestHandler(t, nil)
	cookie := th.login(t)
	code, verifier := th.code(t, cookie, "profile")
	noOpenID := th.exchange(t, code, verifier)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantAuth   string
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantAuth:   "Bearer",
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
			wantAuth:   `error="invalid_token"`,
		},
		{
			name:       "garbage token",
			header:     "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
			wantAuth:   `error="invalid_token"`,
		},
		{
			name:       "no openid scope",
			header:     "Bearer " + noOpenID.AccessToken,
			wantStatus: http.StatusForbidden,
			wantAuth:   `error="insufficient_scope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, server.PathUserInfo, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := th.do(req)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, tt.wantAuth) {
				t.Errorf("WWW-Authenticate = %q, want it to contain %q", got, tt.wantAuth)
			}
		})
	}

	t.Run("expired token", func(t *testing.T) {
		code, verifier := th.code(t, cookie, "openid")
		tokens := th.exchange(t, code, verifier)
		th.clock.Advance(24 * time.Hour)

		req := httptest.NewRequest(http.MethodGet, server.PathUserInfo, nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		w := th.do(req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestHandler_ServeLogout(t *testing.T) {
	th := setupTestHandler(t, nil)
	cookie := th.login(t)

	q := url.Values{
		"client_id":                {testClientID},
		"post_logout_redirect_uri": {testRedirectURI},
		"state":                    {"bye"},
	}
	req := httptest.NewRequest(http.MethodGet, server.PathLogout+"?"+q.Encode(), nil)
	req.AddCookie(cookie)
	w := th.do(req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	loc := mustParseLocation(t, w)
	if !strings.HasPrefix(loc.String(), testRedirectURI) || loc.Query().Get("state") != "bye" {
		t.Errorf("redirected to %q", loc)
	}

	cleared := w.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cleared)
	}

	// the old cookie no longer signs the user in
	challenge, _ := testutil.GeneratePKCEPair()
	w = th.authorize(t, cookie, authorizeQuery("openid", challenge))
	if loc := mustParseLocation(t, w); loc.Path != "/login" {
		t.Errorf("after logout redirected to %q, want the login page", loc)
	}

	t.Run("unregistered redirect", func(t *testing.T) {
		q.Set("post_logout_redirect_uri", "https://evil.example/bye")
		w := th.do(httptest.NewRequest(http.MethodGet, server.PathLogout+"?"+q.Encode(), nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if loc := w.Header().Get("Location"); loc != "" {
			t.Errorf("must not redirect, got %q", loc)
		}
	})
}

func TestHandler_EstablishSessionUnknownUser(t *testing.T) {
	th := setupTestHandler(t, nil)

	w := httptest.NewRecorder()
	if err := th.h.EstablishSession(w, httptest.NewRequest(http.MethodPost, "/login", nil), "nobody"); err == nil {
		t.Fatal("EstablishSession() for an unknown user should fail")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no cookie should be set on failure")
	}
}

func TestHandler_RateLimit(t *testing.T) {
	th := setupTestHandler(t, &Config{
		RateLimit: RateLimitConfig{Rate: 1, Burst: 1},
		Security:  SecurityConfig{EnableAuditLogging: true},
	})

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}}
	if w := th.do(tokenRequest(form, true)); w.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}

	w := th.do(tokenRequest(form, true))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := decodeError(t, w).Error; got != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q, want %q", got, ErrorCodeRateLimitExceeded)
	}

	// discovery is not limited
	if w := th.do(httptest.NewRequest(http.MethodGet, server.PathDiscovery, nil)); w.Code != http.StatusOK {
		t.Errorf("discovery status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestFormatWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		code  string
		desc  string
		want  string
	}{
		{name: "bare", want: "Bearer"},
		{
			name: "invalid token",
			code: "invalid_token",
			desc: "The access token expired",
			want: `Bearer error="invalid_token", error_description="The access token expired"`,
		},
		{
			name:  "insufficient scope",
			scope: "openid",
			code:  "insufficient_scope",
			want:  `Bearer scope="openid", error="insufficient_scope"`,
		},
		{
			name: "quotes escaped",
			code: "invalid_token",
			desc: `bad "token" \ here`,
			want: `Bearer error="invalid_token", error_description="bad \"token\" \\ here"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatWWWAuthenticate(tt.scope, tt.code, tt.desc); got != tt.want {
				t.Errorf("formatWWWAuthenticate() = %q, want %q", got, tt.want)
			}
		})
	}
}
