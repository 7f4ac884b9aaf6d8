package sso

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/workspace-sso/server"
)

// OAuth and OIDC error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeLoginRequired           = "login_required"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description, safe to send to clients
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid, expired or revoked
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or exceeds the grant
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates a valid access token lacks a required scope
	ErrInsufficientScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrUnauthorizedClient indicates the client may not use the requested grant
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates a response_type other than code
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrLoginRequired indicates there is no session and prompt=none forbids asking
	ErrLoginRequired = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeLoginRequired, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// oauthErrorFrom maps a domain error to its wire form. Descriptions are
// fixed strings except for invalid_request, whose details are written by
// the server for clients. Reuse, theft and PKCE failures all look like a
// plain invalid_grant.
func oauthErrorFrom(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	switch {
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrInvalidRedirectURI):
		return ErrInvalidRequest("redirect_uri is not registered for this client")
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant("The authorization grant is invalid, expired or revoked")
	case errors.Is(err, server.ErrInvalidScope):
		return ErrInvalidScope("The requested scope is invalid or exceeds the grant")
	case errors.Is(err, server.ErrInsufficientScope):
		return ErrInsufficientScope("The access token lacks the openid scope")
	case errors.Is(err, server.ErrTokenExpired):
		return ErrInvalidToken("The access token expired")
	case errors.Is(err, server.ErrInvalidToken):
		return ErrInvalidToken("The access token is invalid")
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidRequest(requestErrorDescription(err))
	case errors.Is(err, server.ErrUnauthorizedClient):
		return ErrUnauthorizedClient("The client is not allowed to use this grant")
	case errors.Is(err, server.ErrUnsupportedGrantType):
		return ErrUnsupportedGrantType("Only authorization_code and refresh_token are supported")
	case errors.Is(err, server.ErrUnsupportedResponseType):
		return ErrUnsupportedResponseType("Only response_type=code is supported")
	case errors.Is(err, server.ErrLoginRequired):
		return ErrLoginRequired("The user is not signed in")
	}
	return ErrServerError("Internal server error")
}

func requestErrorDescription(err error) string {
	desc := strings.TrimPrefix(err.Error(), server.ErrInvalidRequest.Error())
	desc = strings.TrimPrefix(desc, ": ")
	if desc == "" {
		return "The request is malformed"
	}
	return desc
}
