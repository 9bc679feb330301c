package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		wantKeep bool
	}{
		{name: "no upstream id", upstream: "", wantKeep: false},
		{name: "valid upstream id", upstream: "abc-123_DEF", wantKeep: true},
		{name: "header injection rejected", upstream: "abc\r\nSet-Cookie: x=y", wantKeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstream != "" {
				r.Header[RequestIDHeader] = []string{tt.upstream}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if seen == "" {
				t.Fatal("request ID missing from context")
			}
			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header = %q, context = %q", got, seen)
			}
			if tt.wantKeep && seen != tt.upstream {
				t.Errorf("request ID = %q, want upstream %q", seen, tt.upstream)
			}
			if !tt.wantKeep && seen == tt.upstream {
				t.Errorf("upstream ID %q should have been replaced", tt.upstream)
			}
		})
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://api.example.com")

	for _, h := range []string{"X-Frame-Options", "X-Content-Type-Options", "Content-Security-Policy", "Strict-Transport-Security", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("header %s not set", h)
		}
	}

	rec = httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:3000")
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should not be set for http base URL")
	}
}
