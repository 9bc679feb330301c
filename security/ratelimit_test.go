package security

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
	if rl.maxEntries != defaultMaxLimiters {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, defaultMaxLimiters)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Allow() should return false when burst is exhausted")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Allow() for a different key should be allowed")
	}
}

func TestRateLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	rl := NewRateLimiterWithMaxEntries(1, 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a becomes most recent
	rl.Allow("c") // evicts b

	if got := rl.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := rl.Evictions(); got != 1 {
		t.Errorf("Evictions() = %d, want 1", got)
	}

	// a kept its exhausted bucket
	if rl.Allow("a") {
		t.Error("Allow(a) should still be limited after eviction of b")
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")

	if removed := rl.Sweep(time.Hour); removed != 0 {
		t.Errorf("Sweep(1h) removed %d, want 0", removed)
	}
	if removed := rl.Sweep(-time.Second); removed != 2 {
		t.Errorf("Sweep(-1s) removed %d, want 2", removed)
	}
	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rejected := 0
	rl.SetRejectHook(func(*http.Request) { rejected++ })

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := rl.Middleware(func(*http.Request) string { return "client" }, next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/github", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/github", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body["identifier"] != "RATE_LIMITED" {
		t.Errorf("identifier = %q, want RATE_LIMITED", body["identifier"])
	}
	if rejected != 1 {
		t.Errorf("reject hook calls = %d, want 1", rejected)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
