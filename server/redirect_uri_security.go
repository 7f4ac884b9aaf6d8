package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// RedirectURISecurityError is a redirect URI rejected at provisioning time.
// Error() is safe to show to operators; Reason carries the detail for logs.
type RedirectURISecurityError struct {
	// Category is the error category for logging/metrics
	Category string
	// URI is the offending redirect URI, sanitized for logging
	URI string
	// Reason is the detailed internal reason
	Reason string
	// Message is the summary returned by Error
	Message string
}

func (e *RedirectURISecurityError) Error() string {
	return e.Message
}

// Redirect URI security error categories for metrics and logging.
const (
	RedirectURIErrorCategoryBlockedScheme  = "blocked_scheme"
	RedirectURIErrorCategoryHTTPNotAllowed = "http_not_allowed"
	RedirectURIErrorCategoryInvalidFormat  = "invalid_format"
	RedirectURIErrorCategoryFragment       = "fragment_not_allowed"
	RedirectURIErrorCategoryNotAbsolute    = "not_absolute"
)

var (
	// DangerousSchemes lists URI schemes that are never allowed
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

// RedirectPolicy decides which redirect URIs may be registered. Matching
// at authorization time is always exact; this only keeps unsafe URIs out
// of the registry.
type RedirectPolicy struct {
	// RequireHTTPS rejects http:// redirect URIs on non-loopback hosts.
	RequireHTTPS bool

	// AllowedCustomSchemes are regex patterns for native app schemes.
	AllowedCustomSchemes []string
}

// Validate performs security validation of a redirect URI.
func (p RedirectPolicy) Validate(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return &RedirectURISecurityError{
			Category: RedirectURIErrorCategoryInvalidFormat,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   fmt.Sprintf("URL parse error: %v", err),
			Message:  "redirect_uri: invalid URI format",
		}
	}

	if !parsed.IsAbs() {
		return &RedirectURISecurityError{
			Category: RedirectURIErrorCategoryNotAbsolute,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   "redirect URI has no scheme",
			Message:  "redirect_uri: must be an absolute URI",
		}
	}

	// OAuth 2.0 Security BCP Section 4.1.3: no fragments
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return &RedirectURISecurityError{
			Category: RedirectURIErrorCategoryFragment,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   "URI contains fragment which is prohibited by OAuth 2.0 Security BCP",
			Message:  "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return &RedirectURISecurityError{
				Category: RedirectURIErrorCategoryBlockedScheme,
				URI:      sanitizeURIForLogging(redirectURI),
				Reason:   fmt.Sprintf("scheme '%s' is in blocked list", scheme),
				Message:  fmt.Sprintf("redirect_uri: scheme '%s' is blocked", scheme),
			}
		}
	}

	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		if parsed.Host == "" {
			return &RedirectURISecurityError{
				Category: RedirectURIErrorCategoryInvalidFormat,
				URI:      sanitizeURIForLogging(redirectURI),
				Reason:   "http(s) redirect URI without host",
				Message:  "redirect_uri: host is required",
			}
		}
		// RFC 8252 Section 7.3 allows plain HTTP for loopback redirects
		if scheme == SchemeHTTP && p.RequireHTTPS && !isLoopbackAddress(parsed.Hostname()) {
			return &RedirectURISecurityError{
				Category: RedirectURIErrorCategoryHTTPNotAllowed,
				URI:      sanitizeURIForLogging(redirectURI),
				Reason:   "HTTPS issuer requires HTTPS for non-loopback redirect URIs",
				Message:  "redirect_uri: HTTPS is required (HTTP only allowed for loopback)",
			}
		}
		return nil
	}

	if err := validateCustomScheme(scheme, p.AllowedCustomSchemes); err != nil {
		return &RedirectURISecurityError{
			Category: RedirectURIErrorCategoryBlockedScheme,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   err.Error(),
			Message:  fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
		}
	}
	return nil
}

// validateCustomScheme validates a custom URI scheme against allowed patterns
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}

	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, scheme)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern '%s': %w", pattern, err)
		}
		if matched {
			return nil
		}
	}

	return fmt.Errorf("scheme '%s' does not match allowed patterns %v", scheme, allowedSchemes)
}

// isLoopbackAddress checks if a hostname is a loopback address
func isLoopbackAddress(hostname string) bool {
	hostname = strings.Trim(strings.TrimSpace(hostname), "[]")
	if hostname == "localhost" {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// sanitizeURIForLogging strips the query, fragment and userinfo of a URI.
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		if len(uri) > 100 {
			return uri[:100] + "...[truncated]"
		}
		return uri
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil

	return parsed.String()
}

// GetRedirectURIErrorCategory returns the error category if the error is a RedirectURISecurityError.
func GetRedirectURIErrorCategory(err error) string {
	var secErr *RedirectURISecurityError
	if errors.As(err, &secErr) {
		return secErr.Category
	}
	return ""
}
