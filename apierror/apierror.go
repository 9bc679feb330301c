// Package apierror defines the error taxonomy surfaced at the HTTP boundary.
//
// Every failure that should reach a client is an *Error carrying a Kind (which
// fixes the HTTP status), a stable machine identifier and a human message.
// Anything else is treated as an unexpected internal failure and rendered
// generically by Write.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error and determines its HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindConflict
	KindServiceUnavailable
	KindTooManyRequests
)

// Default identifiers per kind
const (
	IdentifierBadRequest         = "BAD_REQUEST"
	IdentifierUnauthorized       = "UNAUTHORIZED"
	IdentifierNotFound           = "NOT_FOUND"
	IdentifierConflict           = "CONFLICT"
	IdentifierServiceUnavailable = "SERVICE_UNAVAILABLE"
	IdentifierInternal           = "INTERNAL_SERVER_ERROR"
	IdentifierTooManyRequests    = "RATE_LIMITED"

	// IdentifierGeneric is used for errors that are not *Error values.
	// The original cause is never exposed to the client.
	IdentifierGeneric = "API_ERROR"
	genericMessage    = "An internal server error occurred."
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Error is an error that is safe to render to API clients.
type Error struct {
	Kind       Kind
	Identifier string // stable machine-readable code, e.g. "STATE_EXPIRED"
	Message    string // human-readable description

	// cause is kept for logging and errors.Unwrap; it is never rendered.
	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Identifier, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Identifier, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same kind and identifier.
// This lets sentinel values match copies produced by Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Identifier == t.Identifier
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// Wrap returns a copy of e that records cause for logging.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Identifier: e.Identifier, Message: e.Message, cause: cause}
}

// New creates a new API error
func New(kind Kind, identifier, message string) *Error {
	return &Error{Kind: kind, Identifier: identifier, Message: message}
}

func withIdentifier(def string, identifier []string) string {
	if len(identifier) > 0 && identifier[0] != "" {
		return identifier[0]
	}
	return def
}

// BadRequest indicates malformed input (missing state, invalid redirect).
func BadRequest(message string, identifier ...string) *Error {
	return New(KindBadRequest, withIdentifier(IdentifierBadRequest, identifier), message)
}

// Unauthorized indicates a missing, invalid, expired or revoked credential.
func Unauthorized(message string, identifier ...string) *Error {
	return New(KindUnauthorized, withIdentifier(IdentifierUnauthorized, identifier), message)
}

// NotFound indicates an unknown provider or user.
func NotFound(message string, identifier ...string) *Error {
	return New(KindNotFound, withIdentifier(IdentifierNotFound, identifier), message)
}

// Conflict is reserved for identity collisions.
func Conflict(message string, identifier ...string) *Error {
	return New(KindConflict, withIdentifier(IdentifierConflict, identifier), message)
}

// ServiceUnavailable indicates a provider that is not configured.
func ServiceUnavailable(message string, identifier ...string) *Error {
	return New(KindServiceUnavailable, withIdentifier(IdentifierServiceUnavailable, identifier), message)
}

// Internal indicates a server-side failure such as signing misconfiguration.
func Internal(message string, identifier ...string) *Error {
	return New(KindInternal, withIdentifier(IdentifierInternal, identifier), message)
}

// TooManyRequests indicates the caller exceeded its rate limit.
func TooManyRequests(message string) *Error {
	return New(KindTooManyRequests, IdentifierTooManyRequests, message)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}
