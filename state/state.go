// Package state issues and verifies the one-time CSRF state that ties an
// OAuth callback to the browser session that started the login.
//
// A pending login is kept in the session under "oauth:<provider>". Consume
// removes the entry before checking it. A client-side session can be replayed
// with the removed entry still in it, so with UsedStates configured every
// accepted value is also recorded server-side and accepted only once.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/security"
)

// tokenBytes is the entropy of a state value (hex-encoded to 48 characters).
const tokenBytes = 24

// keyPrefix prefixes the session slot of each provider.
const keyPrefix = "oauth:"

// usedKeyPrefix prefixes the UsedStates key of a redeemed value.
const usedKeyPrefix = "oauth_state:"

// defaultUsedTTL bounds the used-state record when no max age is set.
const defaultUsedTTL = 24 * time.Hour

var (
	// ErrStateMissing is returned when no login is pending for the provider.
	ErrStateMissing = apierror.BadRequest("OAuth session is no longer available. Please restart the login.", "STATE_MISSING")

	// ErrStateMismatch is returned when the callback state is absent or differs.
	ErrStateMismatch = apierror.BadRequest("OAuth state verification failed.", "STATE_MISMATCH")

	// ErrStateExpired is returned when the callback arrives after the max age.
	ErrStateExpired = apierror.BadRequest("OAuth state has expired. Please initiate the login flow again.", "STATE_EXPIRED")

	// ErrStateUnverified is returned when the used-state record cannot be written.
	ErrStateUnverified = apierror.Internal("OAuth state could not be verified. Please restart the login.", "STATE_UNVERIFIED")

	// ErrNoSession is returned when the request carries no session.
	ErrNoSession = apierror.Internal("Session support is required for OAuth flows.", "SESSION_UNAVAILABLE")
)

// Session is the subset of a request session the manager needs.
type Session interface {
	// Get decodes the value at key into v and reports whether it existed.
	Get(key string, v any) (bool, error)
	// Set stores v at key.
	Set(key string, v any) error
	// Delete removes key.
	Delete(key string)
}

// Entry is the pending login stored in the session.
type Entry struct {
	Provider  string    `json:"provider"`
	State     string    `json:"state"`
	Redirect  string    `json:"redirect,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UsedStates records redeemed state values. storage.RevocationStore
// implements it.
type UsedStates interface {
	// RevokeOnce records key for ttl and reports whether it was not
	// recorded before.
	RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Manager creates and redeems state values.
type Manager struct {
	now  func() time.Time
	used UsedStates
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithUsedStates records every redeemed value in used, so a replayed
// session cannot redeem it again.
func WithUsedStates(used UsedStates) Option {
	return func(m *Manager) {
		m.used = used
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key returns the session key of provider's pending login.
func Key(provider string) string {
	return keyPrefix + provider
}

// Begin records a new pending login for provider and returns its state value.
// A previous pending login for the same provider is replaced.
func (m *Manager) Begin(sess Session, provider, redirect string) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}

	value, err := security.GenerateHex(tokenBytes)
	if err != nil {
		return "", ErrNoSession.Wrap(fmt.Errorf("failed to generate state: %w", err))
	}

	entry := Entry{
		Provider:  provider,
		State:     value,
		Redirect:  redirect,
		CreatedAt: m.now(),
	}
	if err := sess.Set(Key(provider), entry); err != nil {
		return "", ErrNoSession.Wrap(fmt.Errorf("failed to store state: %w", err))
	}
	return value, nil
}

// Consume redeems supplied against the pending login of provider and returns
// the redirect recorded by Begin. The entry is removed whether or not the
// check passes. A value already redeemed through the same UsedStates fails
// with ErrStateMissing.
func (m *Manager) Consume(ctx context.Context, sess Session, provider, supplied string, maxAge time.Duration) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}

	var entry Entry
	found, err := sess.Get(Key(provider), &entry)
	sess.Delete(Key(provider))
	if err != nil {
		return "", ErrStateMissing.Wrap(err)
	}
	if !found || entry.State == "" {
		return "", ErrStateMissing
	}

	if supplied == "" || !security.ConstantTimeEqual(entry.State, supplied) {
		return "", ErrStateMismatch
	}

	if maxAge > 0 && m.now().Sub(entry.CreatedAt) > maxAge {
		return "", ErrStateExpired
	}

	if m.used != nil {
		ttl := maxAge
		if ttl <= 0 {
			ttl = defaultUsedTTL
		}
		first, err := m.used.RevokeOnce(ctx, usedKeyPrefix+security.HashToken(entry.State), ttl)
		if err != nil {
			return "", ErrStateUnverified.Wrap(err)
		}
		if !first {
			return "", ErrStateMissing
		}
	}

	return entry.Redirect, nil
}

// Clear drops the pending login of provider, if any.
func (m *Manager) Clear(sess Session, provider string) {
	if sess == nil {
		return
	}
	sess.Delete(Key(provider))
}
