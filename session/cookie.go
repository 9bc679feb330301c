package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/identity-adapter/security"
)

// maxCookieSize is the largest cookie value browsers reliably accept.
const maxCookieSize = 4096

// keyPurpose separates the session key from other keys derived from the
// same secret.
const keyPurpose = "session"

// sealed is the encrypted cookie payload.
type sealed struct {
	Values    map[string]json.RawMessage `json:"v"`
	ExpiresAt int64                      `json:"e"`
}

// CookieStore keeps the whole session in an encrypted cookie.
type CookieStore struct {
	opts      CookieOptions
	encryptor *security.Encryptor
	now       func() time.Time
}

// NewCookieStore creates a CookieStore keyed by secret.
func NewCookieStore(secret string, opts CookieOptions) (*CookieStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	enc, err := security.NewEncryptorFromSecret(secret, keyPurpose)
	if err != nil {
		return nil, err
	}
	return &CookieStore{opts: opts.withDefaults(), encryptor: enc, now: time.Now}, nil
}

// Load implements Store. A missing, tampered or expired cookie yields a new
// session rather than an error.
func (c *CookieStore) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(c.opts.Name)
	if err != nil || cookie.Value == "" {
		return newSession(""), nil
	}

	plaintext, err := c.encryptor.Open(cookie.Value, []byte(c.opts.Name))
	if err != nil {
		return newSession(""), nil
	}

	var payload sealed
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return newSession(""), nil
	}
	if c.now().Unix() > payload.ExpiresAt {
		return newSession(""), nil
	}

	s := newSession("")
	s.isNew = false
	if payload.Values != nil {
		s.values = payload.Values
	}
	return s, nil
}

// Save implements Store.
func (c *CookieStore) Save(w http.ResponseWriter, _ *http.Request, s *Session) error {
	if s.destroyed || !s.dirty {
		return nil
	}
	if len(s.values) == 0 {
		// Nothing left to carry; drop the cookie instead of sealing an empty map.
		if !s.isNew {
			http.SetCookie(w, c.opts.expired())
		}
		s.dirty = false
		return nil
	}

	payload, err := json.Marshal(sealed{
		Values:    s.values,
		ExpiresAt: c.now().Add(c.opts.MaxAge).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	value, err := c.encryptor.Seal(payload, []byte(c.opts.Name))
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	if len(value) > maxCookieSize {
		return fmt.Errorf("session cookie exceeds %d bytes", maxCookieSize)
	}

	http.SetCookie(w, c.opts.cookie(value, c.opts.MaxAge))
	s.dirty = false
	return nil
}

// Destroy implements Store.
func (c *CookieStore) Destroy(w http.ResponseWriter, _ *http.Request, s *Session) error {
	if s != nil {
		s.values = make(map[string]json.RawMessage)
		s.destroyed = true
	}
	http.SetCookie(w, c.opts.expired())
	return nil
}
