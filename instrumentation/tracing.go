package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record actual credential values (access tokens,
// refresh tokens, authorization codes, state values, client secrets) in
// traces or metrics. Only record metadata such as token types and results.
const (
	// Login flow attributes
	AttrProvider     = "identity.provider"
	AttrUserID       = "identity.user_id"
	AttrScopes       = "identity.scopes"
	AttrGroups       = "identity.groups"
	AttrTokenType    = "identity.token_type"    //nolint:gosec // Token type ("access", "refresh") - NOT the actual token
	AttrTokenRotated = "identity.token.rotated" //nolint:gosec // Whether the refresh token was rotated
	AttrTokenReuse   = "identity.token.reuse"   //nolint:gosec // Whether reuse of a revoked token was detected
	AttrHasRedirect  = "identity.redirect.present"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
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

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddLoginAttributes adds provider and user attributes to a span (nil-safe)
func AddLoginAttributes(span trace.Span, provider, userID string) {
	if provider != "" {
		SetSpanAttributes(span, attribute.String(AttrProvider, provider))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
}

// AddEntitlementAttributes adds resolved group slugs and scope keys to a span (nil-safe)
func AddEntitlementAttributes(span trace.Span, groups, scopes []string) {
	SetSpanAttributes(span,
		attribute.StringSlice(AttrGroups, groups),
		attribute.StringSlice(AttrScopes, scopes),
	)
}

// AddRefreshAttributes records the outcome of a refresh attempt (nil-safe)
func AddRefreshAttributes(span trace.Span, rotated, reuse bool) {
	SetSpanAttributes(span,
		attribute.Bool(AttrTokenRotated, rotated),
		attribute.Bool(AttrTokenReuse, reuse),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddStorageResult records the outcome of a storage operation (nil-safe)
func AddStorageResult(span trace.Span, result string) {
	SetSpanAttributes(span, attribute.String(AttrStorageResult, result))
}

// AddTokenType records which kind of token a span handles (nil-safe)
func AddTokenType(span trace.Span, tokenType string) {
	SetSpanAttributes(span, attribute.String(AttrTokenType, tokenType))
}

// AddRedirectAttributes records whether a login carries a redirect target (nil-safe)
func AddRedirectAttributes(span trace.Span, hasRedirect bool) {
	SetSpanAttributes(span, attribute.Bool(AttrHasRedirect, hasRedirect))
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
//
// PRIVACY NOTE: check Instrumentation.ShouldLogClientIPs before calling.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
