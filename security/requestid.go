package security

import (
	"context"
	"net/http"
	"regexp"
)

// RequestIDHeader is the HTTP header carrying the correlation ID
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// Upstream IDs are accepted only if they cannot inject headers.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID returns a 128-bit random ID encoded as base64url.
// It panics if the system random source fails.
func GenerateRequestID() string {
	id, err := GenerateToken(16)
	if err != nil {
		panic("security: crypto/rand failed: " + err.Error())
	}
	return id
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware propagates a valid upstream X-Request-ID or generates
// a new one, echoing it on the response and storing it in the context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
