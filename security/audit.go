package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// AuditRecorder receives a notification for every audit event written.
// instrumentation.Metrics satisfies it.
type AuditRecorder interface {
	RecordAuditEvent(ctx context.Context, eventType string)
}

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	clock    Clock
	recorder AuditRecorder
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		clock:   SystemClock(),
	}
}

// SetClock replaces the time source used for event timestamps.
func (a *Auditor) SetClock(clock Clock) {
	if clock != nil {
		a.clock = clock
	}
}

// SetRecorder attaches a metrics sink that counts audit events by type.
func (a *Auditor) SetRecorder(recorder AuditRecorder) {
	a.recorder = recorder
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.clock.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.recorder != nil {
		a.recorder.RecordAuditEvent(context.Background(), event.Type)
	}
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(userID, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventCodeIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeReuse logs the replay of a consumed authorization code together
// with the number of refresh tokens revoked in response.
func (a *Auditor) LogCodeReuse(userID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      EventCodeReuseDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity":       "critical",
			"tokens_revoked": revoked,
		},
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when a refresh token is rotated
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string, generation int) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"generation": generation,
		},
	})
}

// LogTokenReuse logs the replay of a rotated refresh token.
func (a *Auditor) LogTokenReuse(userID, clientID, ipAddress, groupID string, revoked int) {
	a.LogEvent(Event{
		Type:      EventTokenReuseDetected,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity":          "critical",
			"rotation_group_id": groupID,
			"tokens_revoked":    revoked,
		},
	})
}

// LogTokenRevoked logs when a client revokes a refresh token
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress string, revoked int) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": revoked,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidPKCE logs a code_verifier that did not match its challenge
func (a *Auditor) LogInvalidPKCE(userID, clientID, ipAddress, method string) {
	a.LogEvent(Event{
		Type:      EventInvalidPKCE,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"code_challenge_method": method,
		},
	})
}

// LogInvalidRedirect logs an authorization request with an unregistered redirect_uri
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// LogSessionCreated logs a new SSO session
func (a *Auditor) LogSessionCreated(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventSessionCreated,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogSessionDestroyed logs an explicit logout
func (a *Auditor) LogSessionDestroyed(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventSessionDestroyed,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
