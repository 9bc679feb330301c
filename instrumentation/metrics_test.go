package instrumentation

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newEnabled(t *testing.T) *Instrumentation {
	t.Helper()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	metrics := newEnabled(t).Metrics()

	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"login redirect", "GET", "/api/auth/{provider}", 302, 12.3},
		{"refresh", "POST", "/api/auth/refresh", 200, 23.4},
		{"unauthenticated", "GET", "/api/users/me", 401, 1.2},
		{"server error", "GET", "/api/auth/{provider}/callback", 500, 567.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
		})
	}
}

func TestMetrics_RecordLoginFlow(t *testing.T) {
	ctx := context.Background()
	metrics := newEnabled(t).Metrics()

	metrics.RecordLoginStarted(ctx, "github")
	metrics.RecordLoginCompleted(ctx, "github", true)
	metrics.RecordLoginCompleted(ctx, "github", false)
	metrics.RecordStateFailure(ctx, "github", "STATE_EXPIRED")
	metrics.RecordTokenIssued(ctx, "github", "login")
	metrics.RecordTokenIssued(ctx, "github", "refresh")
	metrics.RecordRefreshRotated(ctx, "github")
	metrics.RecordTokenRevocation(ctx, "refresh", 3)
	metrics.RecordTokenRevocation(ctx, "access", 0)
}

func TestMetrics_RecordSecurityEvents(t *testing.T) {
	ctx := context.Background()
	metrics := newEnabled(t).Metrics()

	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordRefreshReuseDetected(ctx, "github")
	metrics.RecordAuthRejection(ctx, "TOKEN_EXPIRED")
}

func TestMetrics_RecordStorageAndProvider(t *testing.T) {
	ctx := context.Background()
	metrics := newEnabled(t).Metrics()

	metrics.RecordStorageOperation(ctx, "rotate_refresh_token", "success", 1.5)
	metrics.RecordStorageOperation(ctx, "rotate_refresh_token", "error", 0.4)

	metrics.RecordProviderAPICall(ctx, "github", "exchange", 200, 140, nil)
	metrics.RecordProviderAPICall(ctx, "github", "exchange", 401, 80, errors.New("bad code"))
	metrics.RecordProviderAPICall(ctx, "github", "exchange", 502, 30000, errors.New("upstream"))
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	metrics := newEnabled(t).Metrics()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				metrics.RecordHTTPRequest(ctx, "GET", "/api/health", 200, 0.5)
				metrics.RecordStorageOperation(ctx, "ping", "success", 0.1)
			}
		}()
	}
	wg.Wait()
}

func TestMetrics_NilReceiver(t *testing.T) {
	ctx := context.Background()
	var metrics *Metrics

	// Every recorder tolerates a nil holder so callers need no guards.
	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	metrics.RecordLoginStarted(ctx, "github")
	metrics.RecordLoginCompleted(ctx, "github", true)
	metrics.RecordStateFailure(ctx, "github", "STATE_MISSING")
	metrics.RecordTokenIssued(ctx, "github", "login")
	metrics.RecordRefreshRotated(ctx, "github")
	metrics.RecordTokenRevocation(ctx, "access", 1)
	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordRefreshReuseDetected(ctx, "github")
	metrics.RecordAuthRejection(ctx, "INVALID_TOKEN")
	metrics.RecordStorageOperation(ctx, "get_user", "success", 1)
	metrics.RecordProviderAPICall(ctx, "github", "exchange", 200, 1, nil)

	var inst *Instrumentation
	if inst.Metrics() != nil {
		t.Error("nil Instrumentation returned non-nil Metrics")
	}
}
