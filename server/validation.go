package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/giantswarm/workspace-sso/internal/util"
	"github.com/giantswarm/workspace-sso/security"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateHTTPSEnforcement requires an https issuer, except on loopback
// hosts or when AllowInsecureHTTP is set.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("DEVELOPMENT WARNING: Running SSO over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Session cookies are sent without the Secure flag",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme, hostname)
	}

	s.Logger.Error("CRITICAL SECURITY WARNING: Running SSO server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "Codes, tokens and session cookies exposed to network sniffing",
		"action_required", "Switch to HTTPS")
	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	ip := net.ParseIP(strings.Trim(hostname, "[]"))
	return ip != nil && ip.IsLoopback()
}

// secureCookies reports whether the session cookie gets the Secure flag.
func (s *Server) secureCookies() bool {
	return security.IsHTTPS(s.Config.Issuer)
}

// isVerifierChar reports whether ch is an RFC 7636 unreserved character.
func isVerifierChar(ch rune) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_' || ch == '~'
}

// pkceMethod returns the effective method; RFC 7636 defaults to plain.
func pkceMethod(method string) string {
	if method == "" {
		return PKCEMethodPlain
	}
	return method
}

// validatePKCEChallenge checks code_challenge and code_challenge_method
// on an authorization request. An empty challenge is checked by the caller.
func (s *Server) validatePKCEChallenge(challenge, method string) error {
	switch pkceMethod(method) {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return invalidRequest("code_challenge_method plain is not allowed")
		}
	default:
		return invalidRequest("unsupported code_challenge_method")
	}

	if len(challenge) > MaxCodeVerifierLength {
		return invalidRequest("code_challenge too long")
	}
	for _, ch := range challenge {
		if !isVerifierChar(ch) {
			return invalidRequest("code_challenge contains invalid characters")
		}
	}
	return nil
}

// verifyPKCE checks verifier against the challenge stored with a code.
// Every failure is ErrInvalidPKCE. strict enforces the 43 character minimum.
func verifyPKCE(challenge, method, verifier string, strict bool) error {
	if challenge == "" {
		// A verifier for a code issued without a challenge is a downgrade
		// attempt (OAuth 2.1 section 4.1.3).
		if verifier != "" {
			return fmt.Errorf("%w: code_verifier sent for a code without code_challenge", ErrInvalidPKCE)
		}
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("%w: code_verifier is required", ErrInvalidPKCE)
	}
	if strict && len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("%w: code_verifier must be at least %d characters", ErrInvalidPKCE, MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("%w: code_verifier must be at most %d characters", ErrInvalidPKCE, MaxCodeVerifierLength)
	}
	for _, ch := range verifier {
		if !isVerifierChar(ch) {
			return fmt.Errorf("%w: code_verifier contains invalid characters", ErrInvalidPKCE)
		}
	}

	var computed string
	switch pkceMethod(method) {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("%w: unsupported code_challenge_method", ErrInvalidPKCE)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("%w: code_verifier does not match code_challenge", ErrInvalidPKCE)
	}
	return nil
}

// validateScopes checks requested scopes against the server's supported
// scopes and the client's allow-list.
func (s *Server) validateScopes(scope string, clientScopes []string) error {
	requested := util.ParseScope(scope)

	supported := util.JoinScope(s.Config.SupportedScopes)
	for _, reqScope := range requested {
		if !util.HasScope(supported, reqScope) {
			return fmt.Errorf("%w: unsupported scope %q", ErrInvalidScope, reqScope)
		}
	}

	if len(clientScopes) == 0 {
		return nil
	}
	// Don't reveal which scope the client lacks.
	if !util.ScopeSubset(scope, util.JoinScope(clientScopes)) {
		return fmt.Errorf("%w: client is not authorized for one or more requested scopes", ErrInvalidScope)
	}
	return nil
}
