// Package session provides the per-browser session used to carry pending
// OAuth logins between the login redirect and the provider callback.
//
// Two stores are available. CookieStore seals the whole session into the
// cookie with AES-GCM. ServerStore keeps only a random session ID in the
// cookie and the values in a Backend (memory or valkey).
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultCookieName matches the cookie name of the original deployment.
	DefaultCookieName = "broiler.sid"

	// DefaultMaxAge bounds the lifetime of an idle session.
	DefaultMaxAge = 24 * time.Hour
)

// Session is a set of JSON values bound to one browser.
// A Session is not safe for concurrent use; it belongs to a single request.
type Session struct {
	// ID identifies server-side sessions. Cookie sessions leave it empty.
	ID string

	values    map[string]json.RawMessage
	isNew     bool
	dirty     bool
	destroyed bool
}

// New returns an empty session that has not been persisted yet.
func New() *Session {
	return newSession("")
}

func newSession(id string) *Session {
	return &Session{ID: id, values: make(map[string]json.RawMessage), isNew: true}
}

// Get decodes the value at key into v and reports whether it existed.
func (s *Session) Get(key string, v any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode session value %q: %w", key, err)
	}
	return true, nil
}

// Set stores v at key.
func (s *Session) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session value %q: %w", key, err)
	}
	s.values[key] = raw
	s.dirty = true
	return nil
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Len returns the number of stored values.
func (s *Session) Len() int {
	return len(s.values)
}

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Store loads and persists sessions for HTTP requests.
type Store interface {
	// Load returns the session of r, or a new empty session.
	Load(r *http.Request) (*Session, error)

	// Save persists s if it changed. It must be called before the response
	// header is written.
	Save(w http.ResponseWriter, r *http.Request, s *Session) error

	// Destroy drops s and expires its cookie.
	Destroy(w http.ResponseWriter, r *http.Request, s *Session) error
}

// CookieOptions controls the session cookie attributes.
type CookieOptions struct {
	Name   string
	Domain string
	Path   string
	Secure bool
	MaxAge time.Duration
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

func (o CookieOptions) cookie(value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   o.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) expired() *http.Cookie {
	c := o.cookie("", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}
