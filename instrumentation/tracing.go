package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Only metadata goes into spans. Codes, tokens, secrets and session ids
// never do.
const (
	AttrClientID        = "sso.client_id"
	AttrUserID          = "sso.user_id"
	AttrScope           = "sso.scope"
	AttrGrantType       = "sso.grant_type"
	AttrPKCEMethod      = "sso.pkce.method"
	AttrRotationGroupID = "sso.refresh.rotation_group_id"
	AttrGeneration      = "sso.refresh.generation"
	AttrCodeReuse       = "sso.code.reuse"
	AttrTokenReuse      = "sso.refresh.reuse" //nolint:gosec // attribute name
	AttrError           = "sso.error"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	AttrClientIP = "security.client_ip"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds the client, user and scope of a flow to a span.
// Empty values are skipped.
func AddFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddRotationAttributes records which rotation group and generation a
// refresh token belongs to.
func AddRotationAttributes(span trace.Span, groupID string, generation int) {
	if groupID != "" {
		SetSpanAttributes(span,
			attribute.String(AttrRotationGroupID, groupID),
			attribute.Int(AttrGeneration, generation),
		)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddSecurityAttributes adds the client IP to a span. Callers check
// ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
