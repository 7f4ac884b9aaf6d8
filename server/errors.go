package server

import (
	"errors"
	"fmt"
)

// Domain errors. The root package maps them to OAuth error codes; store
// errors are translated into these at the component boundary.
var (
	// ErrInvalidClient means the client is unknown or failed to authenticate.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidRedirectURI means redirect_uri is not registered for the
	// client. It is never reported by redirecting.
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")

	// ErrInvalidGrant covers every rejected code or refresh token.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidPKCE means the code_verifier did not match the challenge.
	ErrInvalidPKCE = fmt.Errorf("%w: pkce verification failed", ErrInvalidGrant)

	// ErrCodeReused means a consumed authorization code was presented again.
	ErrCodeReused = fmt.Errorf("%w: authorization code reused", ErrInvalidGrant)

	// ErrTokenTheftDetected means a rotated refresh token was presented
	// again and its rotation group has been revoked.
	ErrTokenTheftDetected = fmt.Errorf("%w: refresh token reuse detected", ErrInvalidGrant)

	// ErrInvalidToken covers every rejected access token.
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrTokenMalformed = fmt.Errorf("%w: token malformed", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: token signature invalid", ErrInvalidToken)

	// ErrInsufficientScope means a valid access token lacks a needed scope.
	ErrInsufficientScope = errors.New("insufficient scope")

	ErrLoginRequired           = errors.New("login required")
	ErrInvalidScope            = errors.New("invalid scope")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUnauthorizedClient      = errors.New("unauthorized client")
	ErrUnsupportedGrantType    = errors.New("unsupported grant type")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
)

// RedirectError is an authorization error to be reported to the client by
// redirecting to its already validated redirect URI.
type RedirectError struct {
	Err         error
	Description string
	RedirectURI string
	State       string
}

func (e *RedirectError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Description)
	}
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// IsRedirectable reports whether err may be delivered to the client's
// redirect URI, and returns it as a RedirectError when so.
func IsRedirectable(err error) (*RedirectError, bool) {
	var re *RedirectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// invalidRequest wraps ErrInvalidRequest with a description.
func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
