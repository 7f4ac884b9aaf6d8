package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/workspace-sso/identity"
	"github.com/giantswarm/workspace-sso/instrumentation"
	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/storage"
)

// OIDC prompt values.
const (
	PromptNone  = "none"
	PromptLogin = "login"
)

// TokenTypeBearer is the token_type of every access token.
const TokenTypeBearer = "Bearer"

// Metric result labels.
const (
	resultSuccess = "success"
	resultInvalid = "invalid"
	resultReused  = "reused"
	resultPKCE    = "pkce_failed"
	resultExpired = "expired"
	resultMissing = "missing"
	resultError   = "error"
)

// AuthorizeRequest is a parsed authorization request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Prompt              string

	// SessionID comes from the verified session cookie; empty without one.
	SessionID string
	ClientIP  string
}

// AuthorizeResult is delivered to the client as redirect_uri?code&state.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
}

// TokenRequest is a parsed token endpoint request with the client's
// credentials already extracted from Basic auth or the form.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
	ClientIP     string
}

// TokenResult is the token endpoint response.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	IDToken      string
	Scope        string
}

// UserInfoClaims is the userinfo endpoint response.
type UserInfoClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email,omitempty"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// RevokeRequest is an RFC 7009 revocation request.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
	ClientIP      string
}

// LogoutRequest is an RP-initiated logout.
type LogoutRequest struct {
	SessionID             string
	ClientID              string
	PostLogoutRedirectURI string
	ClientIP              string
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	return s.tracer.Start(ctx, "sso."+name)
}

func hasPrompt(prompt, value string) bool {
	return util.HasScope(prompt, value)
}

// Authorize handles an authorization request for the user of the current
// SSO session.
//
// ErrInvalidClient and ErrInvalidRedirectURI are returned as is and must
// never be delivered by redirect. ErrLoginRequired without a RedirectError
// means the browser should be sent to log in. Every other failure is a
// *RedirectError.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, "", req.Scope)
	if s.Instrumentation != nil && s.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, req.ClientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, req.ClientID)
	}

	client, err := s.Clients.ValidateRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		if s.Auditor != nil {
			if errors.Is(err, ErrInvalidRedirectURI) {
				s.Auditor.LogInvalidRedirect(req.ClientID, req.ClientIP, req.RedirectURI)
			} else {
				s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "unknown_client")
			}
		}
		instrumentation.RecordError(span, err)
		return nil, err
	}

	redirectErr := func(err error, description string) error {
		instrumentation.RecordError(span, err)
		return &RedirectError{
			Err:         err,
			Description: description,
			RedirectURI: req.RedirectURI,
			State:       req.State,
		}
	}

	if req.ResponseType != ResponseTypeCode {
		return nil, redirectErr(ErrUnsupportedResponseType, "only response_type=code is supported")
	}

	scope := util.JoinScope(util.ParseScope(req.Scope))
	if err := s.validateScopes(scope, client.Scopes); err != nil {
		return nil, redirectErr(ErrInvalidScope, "requested scope is not allowed")
	}

	if req.CodeChallenge == "" {
		if req.CodeChallengeMethod != "" {
			return nil, redirectErr(ErrInvalidRequest, "code_challenge_method without code_challenge")
		}
		if client.IsPublic() || s.Config.RequirePKCE {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", client.ClientID, req.ClientIP, "missing_pkce")
			}
			return nil, redirectErr(ErrInvalidRequest, "code_challenge is required")
		}
	} else if err := s.validatePKCEChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, redirectErr(ErrInvalidRequest, errorDescription(err))
	}

	if hasPrompt(req.Prompt, PromptNone) && hasPrompt(req.Prompt, PromptLogin) {
		return nil, redirectErr(ErrInvalidRequest, "prompt=none cannot be combined with other values")
	}

	var session *storage.Session
	if !hasPrompt(req.Prompt, PromptLogin) {
		session = s.resolveSession(ctx, req.SessionID)
	}
	if session == nil {
		if m := s.metrics(); m != nil {
			m.RecordLoginRequired(ctx, client.ClientID)
		}
		if hasPrompt(req.Prompt, PromptNone) || s.Config.LoginURL == "" {
			return nil, redirectErr(ErrLoginRequired, "no active session")
		}
		return nil, ErrLoginRequired
	}
	instrumentation.AddFlowAttributes(span, "", session.UserID, "")

	code, err := s.Codes.Issue(ctx, CodeRequest{
		UserID:              session.UserID,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		AuthTime:            session.AuthTime,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	pkce := "none"
	if code.CodeChallenge != "" {
		pkce = code.CodeChallengeMethod
	}
	instrumentation.AddPKCEAttributes(span, pkce)
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, client.ClientID, pkce)
	}
	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(session.UserID, client.ClientID, req.ClientIP, scope)
	}

	instrumentation.SetSpanSuccess(span)
	return &AuthorizeResult{
		Code:        code.Code,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	}, nil
}

// resolveSession returns the live session for sessionID, or nil.
func (s *Server) resolveSession(ctx context.Context, sessionID string) *storage.Session {
	if sessionID == "" {
		if m := s.metrics(); m != nil {
			m.RecordSessionValidation(ctx, resultMissing)
		}
		return nil
	}

	session, err := s.Sessions.Validate(ctx, sessionID)
	result := resultSuccess
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrSessionExpired):
		result = resultExpired
	case errors.Is(err, storage.ErrSessionNotFound):
		result = resultMissing
	default:
		result = resultError
		s.Logger.Error("Failed to validate session", "error", err)
	}
	if m := s.metrics(); m != nil {
		m.RecordSessionValidation(ctx, result)
	}
	if err != nil {
		return nil
	}
	return session
}

// Token handles a token endpoint request. It authenticates the client and
// dispatches on grant_type.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	ctx, span := s.startSpan(ctx, "token")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	client, err := s.Clients.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) && s.Auditor != nil && s.allowSecurityLog("client:"+req.ClientIP) {
			s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "invalid_client_credentials")
		}
		instrumentation.RecordError(span, err)
		return nil, err
	}

	var result *TokenResult
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		result, err = s.ExchangeAuthorizationCode(ctx, client, req.Code, req.RedirectURI, req.CodeVerifier, req.ClientIP)
	case GrantTypeRefreshToken:
		result, err = s.RefreshAccessToken(ctx, client, req.RefreshToken, req.Scope, req.ClientIP)
	case "":
		err = invalidRequest("grant_type is required")
	default:
		err = ErrUnsupportedGrantType
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

// ExchangeAuthorizationCode redeems an authorization code for tokens.
// A replayed code revokes every refresh token its first exchange produced.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI, verifier, clientIP string) (*TokenResult, error) {
	ctx, span := s.startSpan(ctx, "exchange_authorization_code")
	defer span.End()

	record, err := s.Codes.Redeem(ctx, code, client.ClientID, redirectURI, verifier)
	if err != nil {
		s.recordCodeFailure(ctx, client.ClientID, clientIP, record, err)
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, client.ClientID, record.UserID, record.Scope)

	result, err := s.issueTokens(ctx, client.ClientID, record.UserID, record.Scope, record.GrantID, record.Nonce, record.AuthTime)
	if err != nil {
		if m := s.metrics(); m != nil {
			m.RecordCodeExchange(ctx, client.ClientID, resultError)
		}
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, client.ClientID, resultSuccess)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(record.UserID, client.ClientID, clientIP, record.Scope)
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

func (s *Server) recordCodeFailure(ctx context.Context, clientID, clientIP string, record *storage.AuthorizationCode, err error) {
	m := s.metrics()

	switch {
	case errors.Is(err, ErrCodeReused):
		userID, revoked := "", 0
		switch {
		case record == nil:
			s.Logger.Error("Reused authorization code could not be read, grant not revoked",
				"client_id", clientID,
				"reason", err)
		case record.ClientID != clientID:
			// only the client the code was issued to can revoke its grant
			userID = record.UserID
			s.Logger.Warn("Spent authorization code presented by another client, grant kept",
				"issued_to", record.ClientID,
				"presented_by", clientID)
		default:
			// RFC 6749 section 4.1.2: revoke what the first redemption produced
			userID = record.UserID
			n, revokeErr := s.Refresh.RevokeGroup(ctx, record.GrantID)
			if revokeErr != nil {
				s.Logger.Error("Failed to revoke tokens after code reuse", "error", revokeErr)
			}
			revoked = n
		}
		if s.allowSecurityLog(userID + ":" + clientID) {
			s.Logger.Error("Authorization code reuse detected",
				"client_id", clientID,
				"tokens_revoked", revoked)
			if s.Auditor != nil {
				s.Auditor.LogCodeReuse(userID, clientID, clientIP, revoked)
			}
		}
		if m != nil {
			m.RecordCodeReuseDetected(ctx)
			m.RecordCodeExchange(ctx, clientID, resultReused)
		}

	case errors.Is(err, ErrInvalidPKCE):
		method := ""
		userID := ""
		if record != nil {
			method = pkceMethod(record.CodeChallengeMethod)
			userID = record.UserID
		}
		if s.Auditor != nil {
			s.Auditor.LogInvalidPKCE(userID, clientID, clientIP, method)
		}
		if m != nil {
			m.RecordPKCEValidationFailed(ctx, method)
			m.RecordCodeExchange(ctx, clientID, resultPKCE)
		}

	case errors.Is(err, ErrInvalidGrant):
		s.Logger.Debug("Authorization code rejected", "client_id", clientID, "reason", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid_authorization_code")
		}
		if m != nil {
			m.RecordCodeExchange(ctx, clientID, resultInvalid)
		}

	default:
		s.Logger.Error("Failed to redeem authorization code", "client_id", clientID, "error", err)
		if m != nil {
			m.RecordCodeExchange(ctx, clientID, resultError)
		}
	}
}

// RefreshAccessToken rotates a refresh token and issues new tokens. scope
// may narrow the granted scope but never widen it.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken, scope, clientIP string) (*TokenResult, error) {
	ctx, span := s.startSpan(ctx, "refresh_access_token")
	defer span.End()

	requested := util.JoinScope(util.ParseScope(scope))
	if requested != "" {
		// reject widening on a live token before rotating, so it stays usable;
		// spent or expired tokens go through rotation and its reuse handling
		if current, err := s.Refresh.Peek(ctx, refreshToken); err == nil &&
			current.ClientID == client.ClientID && !current.Revoked &&
			s.Clock().Now().Before(current.ExpiresAt) &&
			!util.ScopeSubset(requested, current.Scope) {
			if m := s.metrics(); m != nil {
				m.RecordTokenRefresh(ctx, client.ClientID, resultInvalid)
			}
			err := fmt.Errorf("%w: scope exceeds the original grant", ErrInvalidScope)
			instrumentation.RecordError(span, err)
			return nil, err
		}
	}

	consumed, next, err := s.Refresh.RedeemAndRotate(ctx, refreshToken, client.ClientID)
	if err != nil {
		s.recordRefreshFailure(ctx, client.ClientID, clientIP, consumed, err)
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, client.ClientID, next.UserID, next.Scope)
	instrumentation.AddRotationAttributes(span, next.RotationGroupID, next.Generation)

	granted := next.Scope
	if requested != "" {
		if !util.ScopeSubset(requested, granted) {
			if m := s.metrics(); m != nil {
				m.RecordTokenRefresh(ctx, client.ClientID, resultInvalid)
			}
			err := fmt.Errorf("%w: scope exceeds the original grant", ErrInvalidScope)
			instrumentation.RecordError(span, err)
			return nil, err
		}
		granted = requested
	}

	result, err := s.mintTokens(ctx, client.ClientID, next.UserID, granted, "", next.AuthTime)
	if err != nil {
		if m := s.metrics(); m != nil {
			m.RecordTokenRefresh(ctx, client.ClientID, resultError)
		}
		instrumentation.RecordError(span, err)
		return nil, err
	}
	result.RefreshToken = next.Token

	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, client.ClientID, resultSuccess)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(next.UserID, client.ClientID, clientIP, next.Generation)
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

func (s *Server) recordRefreshFailure(ctx context.Context, clientID, clientIP string, consumed *storage.RefreshToken, err error) {
	m := s.metrics()

	if errors.Is(err, ErrTokenTheftDetected) {
		revoked := 0
		var reuse *storage.ReuseError
		if errors.As(err, &reuse) {
			revoked = reuse.Revoked
		}
		userID, groupID := "", ""
		if consumed != nil {
			userID, groupID = consumed.UserID, consumed.RotationGroupID
		}
		if s.Auditor != nil && s.allowSecurityLog(userID+":"+clientID) {
			s.Auditor.LogTokenReuse(userID, clientID, clientIP, groupID, revoked)
		}
		if m != nil {
			m.RecordTokenReuseDetected(ctx)
			m.RecordTokenRefresh(ctx, clientID, resultReused)
		}
		return
	}

	if errors.Is(err, ErrInvalidGrant) {
		s.Logger.Debug("Refresh token rejected", "client_id", clientID, "reason", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid_refresh_token")
		}
		if m != nil {
			m.RecordTokenRefresh(ctx, clientID, resultInvalid)
		}
		return
	}

	s.Logger.Error("Failed to rotate refresh token", "client_id", clientID, "error", err)
	if m != nil {
		m.RecordTokenRefresh(ctx, clientID, resultError)
	}
}

// issueTokens mints the first token set of a grant, including the refresh
// token that starts rotation group groupID.
func (s *Server) issueTokens(ctx context.Context, clientID, userID, scope, groupID, nonce string, authTime time.Time) (*TokenResult, error) {
	result, err := s.mintTokens(ctx, clientID, userID, scope, nonce, authTime)
	if err != nil {
		return nil, err
	}

	refresh, err := s.Refresh.Issue(ctx, userID, clientID, scope, groupID, authTime)
	if err != nil {
		return nil, err
	}
	result.RefreshToken = refresh.Token
	return result, nil
}

// mintTokens signs an access token and, for openid scopes, an ID token.
func (s *Server) mintTokens(ctx context.Context, clientID, userID, scope, nonce string, authTime time.Time) (*TokenResult, error) {
	var profile *identity.UserInfo
	if util.HasScope(scope, ScopeOpenID) {
		var err error
		profile, err = s.directory.LookupUser(ctx, userID)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidGrant)
			}
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
	}

	accessToken, ttl, err := s.Tokens.IssueAccessToken(ctx, userID, clientID, scope)
	if err != nil {
		return nil, err
	}

	result := &TokenResult{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(ttl / time.Second),
		Scope:       scope,
	}

	if profile != nil {
		result.IDToken, err = s.Tokens.IssueIDToken(ctx, profile, clientID, nonce, authTime)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UserInfo verifies an access token and returns the claims its scope
// allows. Tokens without the openid scope get ErrInsufficientScope.
func (s *Server) UserInfo(ctx context.Context, accessToken string) (*UserInfoClaims, error) {
	ctx, span := s.startSpan(ctx, "userinfo")
	defer span.End()

	claims, err := s.Tokens.Verify(ctx, accessToken, "")
	if m := s.metrics(); m != nil {
		m.RecordTokenVerification(ctx, verificationResult(err))
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, claims.ClientID, claims.Subject, claims.Scope)

	if !util.HasScope(claims.Scope, ScopeOpenID) {
		instrumentation.RecordError(span, ErrInsufficientScope)
		return nil, ErrInsufficientScope
	}

	profile, err := s.directory.LookupUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", ErrInvalidToken)
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	info := &UserInfoClaims{Subject: profile.ID}
	if util.HasScope(claims.Scope, ScopeProfile) {
		info.Name = profile.Name
		info.PreferredUsername = profile.PreferredUsername
	}
	if util.HasScope(claims.Scope, ScopeEmail) {
		info.Email = profile.Email
		info.EmailVerified = profile.EmailVerified
	}

	instrumentation.SetSpanSuccess(span)
	return info, nil
}

func verificationResult(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrTokenExpired):
		return resultExpired
	case errors.Is(err, ErrInvalidToken):
		return resultInvalid
	}
	return resultError
}

// RevokeToken revokes a refresh token and its rotation group (RFC 7009).
// Unknown tokens and access tokens are accepted silently.
func (s *Server) RevokeToken(ctx context.Context, req RevokeRequest) error {
	ctx, span := s.startSpan(ctx, "revoke_token")
	defer span.End()

	client, err := s.Clients.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) && s.Auditor != nil && s.allowSecurityLog("client:"+req.ClientIP) {
			s.Auditor.LogAuthFailure("", req.ClientID, req.ClientIP, "invalid_client_credentials")
		}
		instrumentation.RecordError(span, err)
		return err
	}
	if req.Token == "" {
		return invalidRequest("token is required")
	}

	revoked, err := s.Refresh.Revoke(ctx, req.Token, client.ClientID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}

	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, client.ClientID, revoked)
	}
	if revoked > 0 && s.Auditor != nil {
		s.Auditor.LogTokenRevoked("", client.ClientID, req.ClientIP, revoked)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// EstablishSession starts an SSO session for a user the login UI has
// authenticated.
func (s *Server) EstablishSession(ctx context.Context, userID, clientIP string) (*storage.Session, error) {
	ctx, span := s.startSpan(ctx, "establish_session")
	defer span.End()

	profile, err := s.directory.LookupUser(ctx, userID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	session, err := s.Sessions.Create(ctx, profile.ID, profile)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if m := s.metrics(); m != nil {
		m.RecordSessionCreated(ctx)
	}
	if s.Auditor != nil {
		s.Auditor.LogSessionCreated(session.UserID, clientIP)
	}
	instrumentation.SetSpanSuccess(span)
	return session, nil
}

// Logout ends the SSO session. It returns the URI to send the browser to,
// which is empty unless PostLogoutRedirectURI is registered for ClientID.
func (s *Server) Logout(ctx context.Context, req LogoutRequest) (string, error) {
	ctx, span := s.startSpan(ctx, "logout")
	defer span.End()

	if req.SessionID != "" {
		userID := ""
		if session := s.resolveSession(ctx, req.SessionID); session != nil {
			userID = session.UserID
		}
		if err := s.Sessions.Destroy(ctx, req.SessionID); err != nil {
			instrumentation.RecordError(span, err)
			return "", err
		}
		if userID != "" {
			if m := s.metrics(); m != nil {
				m.RecordSessionDestroyed(ctx)
			}
			if s.Auditor != nil {
				s.Auditor.LogSessionDestroyed(userID, req.ClientIP)
			}
		}
	}

	redirect := ""
	if req.PostLogoutRedirectURI != "" && req.ClientID != "" {
		if _, err := s.Clients.ValidateRedirect(ctx, req.ClientID, req.PostLogoutRedirectURI); err == nil {
			redirect = req.PostLogoutRedirectURI
		} else if s.Auditor != nil {
			s.Auditor.LogInvalidRedirect(req.ClientID, req.ClientIP, req.PostLogoutRedirectURI)
		}
	}

	instrumentation.SetSpanSuccess(span)
	return redirect, nil
}

// errorDescription returns the part of an invalid request error safe to
// show to clients.
func errorDescription(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}
