package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogEvent(Event{Type: EventLoginSucceeded, UserID: "user-123", Provider: "github"})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestAuditor_HashesUserID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogRefreshReuse("user-secret-id", "github", "10.0.0.1", 3)

	out := buf.String()
	if strings.Contains(out, "user-secret-id") {
		t.Error("raw user ID leaked into audit log")
	}
	if !strings.Contains(out, hashForLogging("user-secret-id")) {
		t.Error("hashed user ID missing from audit log")
	}
	if !strings.Contains(out, EventRefreshTokenReuseDetected) {
		t.Errorf("event type missing from audit log: %s", out)
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var a *Auditor
	a.LogLogout("user", "127.0.0.1")
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	got := hashForLogging("abc")
	if len(got) != 16 {
		t.Errorf("len(hashForLogging()) = %d, want 16", len(got))
	}
	if got != hashForLogging("abc") {
		t.Error("hashForLogging() is not deterministic")
	}
}
