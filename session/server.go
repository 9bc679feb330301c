package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/identity-adapter/security"
)

// sessionIDBytes is the entropy of a server-side session ID.
const sessionIDBytes = 32

// Backend persists server-side session data by ID.
type Backend interface {
	// LoadSession returns the data stored for id, or nil when absent or expired.
	LoadSession(ctx context.Context, id string) ([]byte, error)

	// SaveSession stores data for id with the given lifetime.
	SaveSession(ctx context.Context, id string, data []byte, ttl time.Duration) error

	// DeleteSession removes id.
	DeleteSession(ctx context.Context, id string) error
}

// ServerStore keeps session values in a Backend and only the session ID in
// the cookie.
type ServerStore struct {
	opts    CookieOptions
	backend Backend
	logger  *slog.Logger
}

// NewServerStore creates a ServerStore over backend.
func NewServerStore(backend Backend, opts CookieOptions, logger *slog.Logger) *ServerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerStore{opts: opts.withDefaults(), backend: backend, logger: logger}
}

// NewMemoryStore creates a ServerStore backed by process memory.
func NewMemoryStore(opts CookieOptions, logger *slog.Logger) *ServerStore {
	return NewServerStore(NewMemoryBackend(), opts, logger)
}

// Load implements Store. Unknown IDs are never adopted; a fresh ID is
// assigned on the next save.
func (s *ServerStore) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.opts.Name)
	if err != nil || cookie.Value == "" {
		return newSession(""), nil
	}

	data, err := s.backend.LoadSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if data == nil {
		return newSession(""), nil
	}

	sess := newSession(cookie.Value)
	sess.isNew = false
	if err := json.Unmarshal(data, &sess.values); err != nil {
		s.logger.Warn("Discarding undecodable session", "error", err)
		return newSession(""), nil
	}
	if sess.values == nil {
		sess.values = make(map[string]json.RawMessage)
	}
	return sess, nil
}

// Save implements Store.
func (s *ServerStore) Save(w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess.destroyed || !sess.dirty {
		return nil
	}

	if len(sess.values) == 0 {
		if sess.ID != "" {
			if err := s.backend.DeleteSession(r.Context(), sess.ID); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			http.SetCookie(w, s.opts.expired())
		}
		sess.dirty = false
		return nil
	}

	if sess.ID == "" {
		id, err := security.GenerateToken(sessionIDBytes)
		if err != nil {
			return fmt.Errorf("failed to generate session id: %w", err)
		}
		sess.ID = id
	}

	data, err := json.Marshal(sess.values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.backend.SaveSession(r.Context(), sess.ID, data, s.opts.MaxAge); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, s.opts.cookie(sess.ID, s.opts.MaxAge))
	sess.dirty = false
	return nil
}

// Destroy implements Store.
func (s *ServerStore) Destroy(w http.ResponseWriter, r *http.Request, sess *Session) error {
	http.SetCookie(w, s.opts.expired())
	if sess == nil {
		return nil
	}
	sess.values = make(map[string]json.RawMessage)
	sess.destroyed = true
	if sess.ID == "" {
		return nil
	}
	if err := s.backend.DeleteSession(r.Context(), sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
