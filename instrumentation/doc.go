// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the identity adapter.
//
// Metrics are recorded through the OpenTelemetry metric API and exported to a
// Prometheus registry owned by the Instrumentation value. Traces use the no-op
// tracer provider; spans are still opened around login, callback, refresh and
// storage operations so a tracer provider can be swapped in without touching
// call sites.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "identity-adapter",
//		ServiceVersion: version,
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Available Metrics
//
// HTTP Layer:
//   - identity.http.requests.total{method, endpoint, status}
//   - identity.http.request.duration{endpoint} in milliseconds
//
// Login Flows:
//   - identity.login.started{provider}
//   - identity.login.completed{provider, success}
//   - identity.state.failures{provider, identifier}
//   - identity.token.issued{provider, reason}
//   - identity.refresh.rotated{provider}
//   - identity.token.revoked{token_type}
//
// Security:
//   - identity.rate_limit.exceeded{limiter_type}
//   - identity.rate_limit.active_limiters
//   - identity.refresh.reuse_detected{provider}
//   - identity.auth.rejections{identifier}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation} in milliseconds
//   - storage.users.count, storage.refresh_tokens.count
//
// Provider:
//   - provider.api.calls.total{provider, operation, status}
//   - provider.api.duration{provider, operation} in milliseconds
//   - provider.api.errors.total{provider, operation, error_type}
//
// # Metric Cardinality
//
// No metric carries a user ID label. Provider, endpoint, identifier and
// operation labels come from fixed sets.
//
// # Security Considerations
//
// Never record token values, refresh values, state values or client secrets.
// Client IP addresses are only attached to spans when Config.LogClientIPs is set.
package instrumentation
