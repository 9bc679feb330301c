package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the adapter
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Login Flow Metrics
	LoginStarted   metric.Int64Counter
	LoginCompleted metric.Int64Counter
	StateFailures  metric.Int64Counter
	TokensIssued   metric.Int64Counter
	RefreshRotated metric.Int64Counter
	TokensRevoked  metric.Int64Counter

	// Security Metrics
	RateLimitExceeded       metric.Int64Counter
	RefreshReuseDetected    metric.Int64Counter
	AuthRejections          metric.Int64Counter
	RateLimitActiveLimiters metric.Int64ObservableGauge

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageUsersCount         metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge

	// Provider Metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	var err error

	// HTTP Layer Metrics
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"identity.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"identity.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// Login Flow Metrics
	m.LoginStarted, err = serverMeter.Int64Counter(
		"identity.login.started",
		metric.WithDescription("Number of provider logins started"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.started counter: %w", err)
	}

	m.LoginCompleted, err = serverMeter.Int64Counter(
		"identity.login.completed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.completed counter: %w", err)
	}

	m.StateFailures, err = serverMeter.Int64Counter(
		"identity.state.failures",
		metric.WithDescription("Number of callbacks rejected by state verification"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.failures counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"identity.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.RefreshRotated, err = serverMeter.Int64Counter(
		"identity.refresh.rotated",
		metric.WithDescription("Number of refresh tokens rotated"),
		metric.WithUnit("{rotation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.rotated counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"identity.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	// Security Metrics
	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"identity.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.RefreshReuseDetected, err = securityMeter.Int64Counter(
		"identity.refresh.reuse_detected",
		metric.WithDescription("Number of revoked refresh tokens presented again"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.reuse_detected counter: %w", err)
	}

	m.AuthRejections, err = securityMeter.Int64Counter(
		"identity.auth.rejections",
		metric.WithDescription("Number of requests rejected by the authenticator"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.rejections counter: %w", err)
	}

	m.RateLimitActiveLimiters, err = securityMeter.Int64ObservableGauge(
		"identity.rate_limit.active_limiters",
		metric.WithDescription("Number of tracked rate limiter keys"),
		metric.WithUnit("{limiter}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.active_limiters gauge: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageUsersCount, err = storageMeter.Int64ObservableGauge(
		"storage.users.count",
		metric.WithDescription("Number of stored users"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.users.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of stored refresh tokens, including revoked ones"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	// Provider Metrics
	m.ProviderAPICallsTotal, err = providerMeter.Int64Counter(
		"provider.api.calls.total",
		metric.WithDescription("Total number of provider API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.calls.total counter: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"provider.api.duration",
		metric.WithDescription("Provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.ProviderAPIErrors, err = providerMeter.Int64Counter(
		"provider.api.errors.total",
		metric.WithDescription("Total number of provider API errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.errors.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns. All of them are
// no-ops on a nil *Metrics.

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordLoginStarted records a login redirect to a provider
func (m *Metrics) RecordLoginStarted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.LoginStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordLoginCompleted records a processed provider callback
func (m *Metrics) RecordLoginCompleted(ctx context.Context, provider string, success bool) {
	if m == nil {
		return
	}
	m.LoginCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordStateFailure records a callback rejected by state verification
func (m *Metrics) RecordStateFailure(ctx context.Context, provider, identifier string) {
	if m == nil {
		return
	}
	m.StateFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("identifier", identifier),
	))
}

// RecordTokenIssued records an issued access token; reason is "login" or "refresh"
func (m *Metrics) RecordTokenIssued(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// RecordRefreshRotated records a successful refresh token rotation
func (m *Metrics) RecordRefreshRotated(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.RefreshRotated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordTokenRevocation records revoked tokens of the given type ("access" or "refresh")
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.TokensRevoked.Add(ctx, count, metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordRefreshReuseDetected records a revoked refresh token being presented
func (m *Metrics) RecordRefreshReuseDetected(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.RefreshReuseDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordAuthRejection records a request rejected by the authenticator
func (m *Metrics) RecordAuthRejection(ctx context.Context, identifier string) {
	if m == nil {
		return
	}
	m.AuthRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("identifier", identifier),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	}

	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))

	if err != nil {
		errorType := "unknown"
		if statusCode >= 400 && statusCode < 500 {
			errorType = "client_error"
		} else if statusCode >= 500 {
			errorType = "server_error"
		}

		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("error_type", errorType),
		))
	}
}
