package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the SSO server
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow
	AuthorizationStarted metric.Int64Counter
	LoginRequired        metric.Int64Counter
	CodeIssued           metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	TokenVerified        metric.Int64Counter

	// Sessions
	SessionCreated   metric.Int64Counter
	SessionValidated metric.Int64Counter
	SessionDestroyed metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageClients           metric.Int64ObservableGauge
	StorageCodes             metric.Int64ObservableGauge
	StorageRefreshTokens     metric.Int64ObservableGauge
	StorageRotationGroups    metric.Int64ObservableGauge
	StorageSessions          metric.Int64ObservableGauge
}

type instrumentBuilder struct {
	err error
}

func (b *instrumentBuilder) counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(meter metric.Meter, name, description string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("ms"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

func (b *instrumentBuilder) gauge(meter metric.Meter, name, description string) metric.Int64ObservableGauge {
	if b.err != nil {
		return nil
	}
	g, err := meter.Int64ObservableGauge(name, metric.WithDescription(description), metric.WithUnit("{item}"))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s gauge: %w", name, err)
	}
	return g
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	b := &instrumentBuilder{}
	m := &Metrics{
		HTTPRequestsTotal:   b.counter(httpMeter, "sso.http.requests", "Number of HTTP requests served", "{request}"),
		HTTPRequestDuration: b.histogram(httpMeter, "sso.http.request.duration", "HTTP request duration in milliseconds"),

		AuthorizationStarted: b.counter(serverMeter, "sso.authorization.started", "Number of authorization requests received", "{request}"),
		LoginRequired:        b.counter(serverMeter, "sso.authorization.login_required", "Authorization requests that had no usable session", "{request}"),
		CodeIssued:           b.counter(serverMeter, "sso.code.issued", "Number of authorization codes issued", "{code}"),
		CodeExchanged:        b.counter(serverMeter, "sso.code.exchanged", "Number of authorization code redemptions", "{exchange}"),
		TokenRefreshed:       b.counter(serverMeter, "sso.token.refreshed", "Number of refresh token grants", "{refresh}"),
		TokenRevoked:         b.counter(serverMeter, "sso.token.revoked", "Number of refresh token revocations", "{revocation}"),
		TokenVerified:        b.counter(serverMeter, "sso.token.verified", "Number of access token verifications", "{verification}"),

		SessionCreated:   b.counter(serverMeter, "sso.session.created", "Number of SSO sessions created", "{session}"),
		SessionValidated: b.counter(serverMeter, "sso.session.validated", "Number of SSO session validations", "{validation}"),
		SessionDestroyed: b.counter(serverMeter, "sso.session.destroyed", "Number of SSO sessions destroyed", "{session}"),

		RateLimitExceeded:    b.counter(securityMeter, "sso.security.rate_limit_exceeded", "Requests rejected by rate limiting", "{request}"),
		PKCEValidationFailed: b.counter(securityMeter, "sso.security.pkce_failed", "Code verifiers that did not match their challenge", "{failure}"),
		CodeReuseDetected:    b.counter(securityMeter, "sso.security.code_reuse", "Replays of consumed authorization codes", "{event}"),
		TokenReuseDetected:   b.counter(securityMeter, "sso.security.token_reuse", "Replays of rotated refresh tokens", "{event}"),
		AuditEventsTotal:     b.counter(securityMeter, "sso.security.audit_events", "Security audit events written", "{event}"),

		StorageOperationTotal:    b.counter(storageMeter, "sso.storage.operations", "Storage operations performed", "{operation}"),
		StorageOperationDuration: b.histogram(storageMeter, "sso.storage.operation.duration", "Storage operation duration in milliseconds"),
		StorageClients:           b.gauge(storageMeter, "sso.storage.clients", "Registered clients"),
		StorageCodes:             b.gauge(storageMeter, "sso.storage.codes", "Authorization codes held"),
		StorageRefreshTokens:     b.gauge(storageMeter, "sso.storage.refresh_tokens", "Refresh tokens held, including rotated ones"),
		StorageRotationGroups:    b.gauge(storageMeter, "sso.storage.rotation_groups", "Refresh token rotation groups held"),
		StorageSessions:          b.gauge(storageMeter, "sso.storage.sessions", "SSO sessions held"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthorizationStarted records an incoming authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordLoginRequired records an authorization request without a usable session
func (m *Metrics) RecordLoginRequired(ctx context.Context, clientID string) {
	m.LoginRequired.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID, pkceMethod string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordCodeExchange records a code redemption and its outcome
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, result string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordTokenRefresh records a refresh grant and its outcome
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID, result string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string, revoked int) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Int("tokens_revoked", revoked),
	))
}

// RecordTokenVerification records an access token verification
func (m *Metrics) RecordTokenVerification(ctx context.Context, result string) {
	m.TokenVerified.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSessionCreated records a new SSO session
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	m.SessionCreated.Add(ctx, 1)
}

// RecordSessionValidation records a session lookup and its outcome
func (m *Metrics) RecordSessionValidation(ctx context.Context, result string) {
	m.SessionValidated.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSessionDestroyed records an explicit logout
func (m *Metrics) RecordSessionDestroyed(ctx context.Context) {
	m.SessionDestroyed.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token replay
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
