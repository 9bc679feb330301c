package valkey

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/session"
	"github.com/giantswarm/identity-adapter/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("identitytest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestExpiry(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 100 * time.Millisecond, want: time.Second},
		{in: 1500 * time.Millisecond, want: 2 * time.Second},
		{in: time.Hour, want: time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expiry(tt.in), "expiry(%v)", tt.in)
	}
}

func TestValidateLength(t *testing.T) {
	assert.Error(t, validateLength("", MaxKeyLength, "key"))
	assert.ErrorIs(t, validateLength(string(make([]byte, MaxKeyLength+1)), MaxKeyLength, "key"), errInputTooLarge)
	assert.NoError(t, validateLength("revoked_token:abc", MaxKeyLength, "key"))
}

func TestStore_Revocation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := storage.RevokedTokenKey("jti-1")
	require.NoError(t, store.Revoke(ctx, key, time.Minute))

	revoked, err := store.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, storage.RevokedTokenKey("jti-2"))
	require.NoError(t, err)
	assert.False(t, revoked)

	ttl, err := store.client.Do(ctx, store.client.B().Ttl().Key(store.revokedKey(key)).Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0))
	assert.LessOrEqual(t, ttl, int64(60))
}

func TestStore_Revoke_NonPositiveTTL(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := storage.RevokedTokenKey("expired")
	require.NoError(t, store.Revoke(ctx, key, 0))

	revoked, err := store.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no entry")
}

func TestStore_RevokeOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first, err := store.RevokeOnce(ctx, "oauth_state:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.RevokeOnce(ctx, "oauth_state:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	revoked, err := store.IsRevoked(ctx, "oauth_state:abc")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = store.RevokeOnce(ctx, "oauth_state:def", 0)
	assert.Error(t, err)
}

func TestStore_SessionBackend(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	data, err := store.LoadSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.SaveSession(ctx, "sid-1", []byte(`{"a":1}`), time.Minute))
	data, err = store.LoadSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, store.DeleteSession(ctx, "sid-1"))
	data, err = store.LoadSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Nil(t, data)

	err = store.SaveSession(ctx, "sid-2", make([]byte, MaxSessionDataSize+1), time.Minute)
	assert.ErrorIs(t, err, errInputTooLarge)
}

func TestStore_SessionEncryption(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	enc, err := security.NewEncryptorFromSecret("test-session-secret-with-enough-entropy", "session")
	require.NoError(t, err)
	store.SetEncryptor(enc)

	require.NoError(t, store.SaveSession(ctx, "sid-1", []byte(`{"secret":true}`), time.Minute))

	raw, err := store.client.Do(ctx, store.client.B().Get().Key(store.sessionKey("sid-1")).Build()).ToString()
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret", "session data must be sealed at rest")

	data, err := store.LoadSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, `{"secret":true}`, string(data))
}

func TestStore_ServerSessionStore(t *testing.T) {
	store := testStore(t)
	sessions := session.NewServerStore(store, session.CookieOptions{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/github", nil)
	sess, err := sessions.Load(req)
	require.NoError(t, err)
	require.NoError(t, sess.Set("oauth:github", "pending"))

	rr := httptest.NewRecorder()
	require.NoError(t, sessions.Save(rr, req, sess))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	next := httptest.NewRequest(http.MethodGet, "/auth/github/callback", nil)
	next.AddCookie(cookies[0])
	loaded, err := sessions.Load(next)
	require.NoError(t, err)

	var value string
	found, err := loaded.Get("oauth:github", &value)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pending", value)
}

func TestStore_Ping(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Ping(context.Background()))
}
