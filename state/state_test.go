package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/internal/testutil"
)

// mapSession stores JSON values the way the real session stores do.
type mapSession struct {
	values map[string]json.RawMessage
}

func newMapSession() *mapSession {
	return &mapSession{values: make(map[string]json.RawMessage)}
}

func (s *mapSession) Get(key string, v any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (s *mapSession) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.values[key] = raw
	return nil
}

func (s *mapSession) Delete(key string) {
	delete(s.values, key)
}

// usedSet is an in-memory UsedStates.
type usedSet struct {
	keys map[string]time.Duration
	err  error
}

func (u *usedSet) RevokeOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if u.err != nil {
		return false, u.err
	}
	if _, ok := u.keys[key]; ok {
		return false, nil
	}
	u.keys[key] = ttl
	return true, nil
}

// copySession returns an independent copy of s, as a browser replaying a
// client-side session cookie would present it.
func copySession(s *mapSession) *mapSession {
	c := newMapSession()
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

func TestManager_BeginConsume(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(WithClock(clock.Now))
	sess := newMapSession()

	value, err := m.Begin(sess, "github", "https://app.example.com/dashboard")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if len(value) != 48 {
		t.Errorf("state length = %d, want 48", len(value))
	}
	if _, ok := sess.values["oauth:github"]; !ok {
		t.Fatal("Begin() did not store the entry under oauth:github")
	}

	clock.Advance(4 * time.Minute)
	redirect, err := m.Consume(context.Background(), sess, "github", value, 5*time.Minute)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if redirect != "https://app.example.com/dashboard" {
		t.Errorf("Consume() redirect = %q", redirect)
	}

	if _, err := m.Consume(context.Background(), sess, "github", value, 5*time.Minute); !errors.Is(err, ErrStateMissing) {
		t.Fatalf("second Consume() error = %v, want ErrStateMissing", err)
	}
}

func TestManager_ConsumeExpired(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	m := NewManager(WithClock(clock.Now))
	sess := newMapSession()

	value, err := m.Begin(sess, "github", "/welcome")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	clock.Advance(5*time.Minute + time.Second)
	if _, err := m.Consume(context.Background(), sess, "github", value, 5*time.Minute); !errors.Is(err, ErrStateExpired) {
		t.Fatalf("Consume() error = %v, want ErrStateExpired", err)
	}
	if len(sess.values) != 0 {
		t.Error("expired entry was not removed")
	}
}

func TestManager_ConsumeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		supplied string
	}{
		{name: "different value", supplied: "not-the-state"},
		{name: "empty value", supplied: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			sess := newMapSession()
			if _, err := m.Begin(sess, "github", ""); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}

			_, err := m.Consume(context.Background(), sess, "github", tt.supplied, time.Minute)
			if !errors.Is(err, ErrStateMismatch) {
				t.Fatalf("Consume() error = %v, want ErrStateMismatch", err)
			}
			if !apierror.IsKind(err, apierror.KindBadRequest) {
				t.Errorf("Consume() kind is not BadRequest")
			}
			if len(sess.values) != 0 {
				t.Error("mismatched entry was not removed")
			}
		})
	}
}

func TestManager_ProvidersAreIsolated(t *testing.T) {
	m := NewManager()
	sess := newMapSession()

	value, err := m.Begin(sess, "github", "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := m.Consume(context.Background(), sess, "gitlab", value, time.Minute); !errors.Is(err, ErrStateMissing) {
		t.Fatalf("Consume(other provider) error = %v, want ErrStateMissing", err)
	}
	if _, err := m.Consume(context.Background(), sess, "github", value, time.Minute); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
}

func TestManager_NoSession(t *testing.T) {
	m := NewManager()
	if _, err := m.Begin(nil, "github", ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Begin(nil) error = %v, want ErrNoSession", err)
	}
	if _, err := m.Consume(context.Background(), nil, "github", "x", time.Minute); !apierror.IsKind(err, apierror.KindInternal) {
		t.Fatalf("Consume(nil) error = %v, want Internal", err)
	}
	m.Clear(nil, "github")
}

func TestManager_Clear(t *testing.T) {
	m := NewManager()
	sess := newMapSession()
	if _, err := m.Begin(sess, "github", ""); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	m.Clear(sess, "github")
	m.Clear(sess, "github")

	if len(sess.values) != 0 {
		t.Error("Clear() left the entry in place")
	}
}

func TestManager_ReplayedSessionRejected(t *testing.T) {
	used := &usedSet{keys: make(map[string]time.Duration)}
	m := NewManager(WithUsedStates(used))
	ctx := context.Background()

	sess := newMapSession()
	value, err := m.Begin(sess, "github", "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	replay := copySession(sess)

	if _, err := m.Consume(ctx, sess, "github", value, 5*time.Minute); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if _, err := m.Consume(ctx, replay, "github", value, 5*time.Minute); !errors.Is(err, ErrStateMissing) {
		t.Fatalf("Consume(replayed session) error = %v, want ErrStateMissing", err)
	}

	if len(used.keys) != 1 {
		t.Fatalf("used keys = %d, want 1", len(used.keys))
	}
	for key, ttl := range used.keys {
		if key == usedKeyPrefix+value {
			t.Error("used key must not contain the raw state value")
		}
		if ttl != 5*time.Minute {
			t.Errorf("used ttl = %v, want 5m", ttl)
		}
	}
}

func TestManager_UsedStatesWithoutMaxAge(t *testing.T) {
	used := &usedSet{keys: make(map[string]time.Duration)}
	m := NewManager(WithUsedStates(used))

	sess := newMapSession()
	value, err := m.Begin(sess, "github", "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := m.Consume(context.Background(), sess, "github", value, 0); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	for _, ttl := range used.keys {
		if ttl != defaultUsedTTL {
			t.Errorf("used ttl = %v, want %v", ttl, defaultUsedTTL)
		}
	}
}

func TestManager_UsedStatesFailure(t *testing.T) {
	used := &usedSet{keys: make(map[string]time.Duration), err: errors.New("backend down")}
	m := NewManager(WithUsedStates(used))

	sess := newMapSession()
	value, err := m.Begin(sess, "github", "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := m.Consume(context.Background(), sess, "github", value, time.Minute); !errors.Is(err, ErrStateUnverified) {
		t.Fatalf("Consume() error = %v, want ErrStateUnverified", err)
	}
}

func TestManager_MismatchIsNotRecorded(t *testing.T) {
	used := &usedSet{keys: make(map[string]time.Duration)}
	m := NewManager(WithUsedStates(used))

	sess := newMapSession()
	if _, err := m.Begin(sess, "github", ""); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := m.Consume(context.Background(), sess, "github", "forged", time.Minute); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("Consume() error = %v, want ErrStateMismatch", err)
	}
	if len(used.keys) != 0 {
		t.Errorf("used keys = %d, want 0", len(used.keys))
	}
}
