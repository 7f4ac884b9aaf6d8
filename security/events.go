package security

// Event type constants for security audit logging.
const (
	// Authorization code events

	// EventCodeIssued is logged when an authorization code is handed to a relying party
	EventCodeIssued = "authorization_code_issued"

	// EventCodeReuseDetected is logged when a consumed authorization code is presented again
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// Token lifecycle events

	// EventTokenIssued is logged when tokens are minted for an authorization code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenReuseDetected is logged when a rotated refresh token is replayed.
	// The whole rotation group is revoked when this happens.
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // G101: event type name, not a credential

	// EventTokenRevoked is logged when a client revokes a refresh token
	EventTokenRevoked = "token_revoked"

	// Session events

	// EventSessionCreated is logged when an SSO session is established
	EventSessionCreated = "session_created"

	// EventSessionDestroyed is logged on explicit logout
	EventSessionDestroyed = "session_destroyed"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventInvalidPKCE is logged when a code_verifier does not match the stored challenge
	EventInvalidPKCE = "invalid_pkce"

	// EventInvalidRedirect is logged when a redirect_uri is not registered for the client
	EventInvalidRedirect = "invalid_redirect"

	// EventRateLimitExceeded is logged when a caller exceeds its request budget
	EventRateLimitExceeded = "rate_limit_exceeded"
)
