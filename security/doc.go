// Package security holds the hardening pieces shared by the SSO server:
// per-caller rate limiting, audit logging with hashed identifiers,
// AES-GCM encryption of cached profiles, request ids, client IP
// extraction, HTTP security headers and the Clock abstraction every
// expiry decision goes through.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (normally the client
// IP). The set of buckets is bounded: when MaxEntries is reached the least
// recently used bucket is evicted, and a background loop drops buckets that
// have been idle longer than IdleTimeout.
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// # Audit Logging
//
// Auditor writes one "security_audit" record per event. User ids are
// replaced by the first 16 hex characters of their SHA-256 so the audit
// stream can be correlated without carrying raw identifiers.
package security
