package security

import (
	"fmt"
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the headers every SSO response carries.
// HSTS is only sent when the issuer is served over https.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if IsHTTPS(issuer) {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	SetNoStore(w)
}

// SetNoStore forbids caching of the response. Token, userinfo and
// authorization responses always carry it.
func SetNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SetPublicCache allows shared caches to keep a response for maxAgeSeconds.
// Used for the discovery document and the JWKS.
func SetPublicCache(w http.ResponseWriter, maxAgeSeconds int) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
	w.Header().Del("Pragma")
}

// IsHTTPS reports whether rawURL uses the https scheme. Schemes compare
// case-insensitively.
func IsHTTPS(rawURL string) bool {
	scheme, _, ok := strings.Cut(rawURL, "://")
	return ok && strings.EqualFold(scheme, "https")
}
