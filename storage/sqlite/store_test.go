package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/identity-adapter/internal/testutil"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:    filepath.Join(t.TempDir(), "identity.db"),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createUser(t *testing.T, store *Store) *storage.User {
	t.Helper()
	user, err := store.UpsertUser(context.Background(), testutil.GenerateTestProfile())
	require.NoError(t, err)
	return user
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{Path: "  "})
	require.Error(t, err)
}

func TestMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db), "second up must be a no-op")

	version, dirty, err = MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, MigrateDown(db))

	var tables int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&tables))
	assert.Zero(t, tables)
}

func TestStore_UpsertUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	profile := testutil.GenerateTestProfile()
	first, err := store.UpsertUser(ctx, profile)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, profile.ID, first.ProviderID)

	profile.DisplayName = "Renamed"
	profile.Email = ""
	second, err := store.UpsertUser(ctx, profile)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Renamed", second.DisplayName)
	assert.Empty(t, second.Email)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	got, err := store.GetUser(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Graph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, store)

	editors, err := store.CreateGroup(ctx, "editors", "Editors", "Can write posts")
	require.NoError(t, err)
	viewers, err := store.CreateGroup(ctx, "viewers", "", "")
	require.NoError(t, err)
	assert.Equal(t, "viewers", viewers.Name)

	read, err := store.CreateScope(ctx, "posts:read", "")
	require.NoError(t, err)
	write, err := store.CreateScope(ctx, "posts:write", "")
	require.NoError(t, err)

	require.NoError(t, store.AddUserToGroup(ctx, user.ID, editors.ID))
	require.NoError(t, store.AddUserToGroup(ctx, user.ID, editors.ID), "duplicate membership is a no-op")
	require.NoError(t, store.AddGroupDependency(ctx, editors.ID, viewers.ID))
	require.NoError(t, store.AddGroupDependency(ctx, viewers.ID, editors.ID), "cycles are allowed")
	require.NoError(t, store.GrantScope(ctx, editors.ID, write.ID))
	require.NoError(t, store.GrantScope(ctx, viewers.ID, read.ID))
	require.NoError(t, store.GrantUserScope(ctx, user.ID, read.ID))

	direct, err := store.DirectGroups(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "editors", direct[0].Slug)

	deps, err := store.GroupDependencies(ctx, editors.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, viewers.ID, deps[0].ID)

	scopes, err := store.GroupScopes(ctx, editors.ID)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "posts:write", scopes[0].Key)

	userScopes, err := store.UserScopes(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, userScopes, 1)
	assert.Equal(t, "posts:read", userScopes[0].Key)

	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "editors", groups[0].Slug)

	bySlug, err := store.GetGroupBySlug(ctx, "editors")
	require.NoError(t, err)
	assert.Equal(t, editors.ID, bySlug.ID)
	assert.Equal(t, "Can write posts", bySlug.Description)

	byKey, err := store.GetScopeByKey(ctx, "posts:read")
	require.NoError(t, err)
	assert.Equal(t, read.ID, byKey.ID)
}

func TestStore_GraphValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g, err := store.CreateGroup(ctx, "admins", "Admins", "")
	require.NoError(t, err)

	_, err = store.CreateGroup(ctx, "admins", "Again", "")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = store.CreateScope(ctx, "admin", "")
	require.NoError(t, err)
	_, err = store.CreateScope(ctx, "admin", "")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	assert.ErrorIs(t, store.AddGroupDependency(ctx, g.ID, g.ID), storage.ErrSelfDependency)
	assert.ErrorIs(t, store.AddUserToGroup(ctx, "nobody", g.ID), storage.ErrNotFound)
	assert.ErrorIs(t, store.GrantScope(ctx, g.ID, "missing"), storage.ErrNotFound)

	_, err = store.GetGroupBySlug(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetScopeByKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RefreshTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, store)
	client := testutil.GenerateTestClientInfo()

	raw, token, err := store.CreateRefreshToken(ctx, user.ID, "github", client)
	require.NoError(t, err)
	assert.Equal(t, security.HashToken(raw), token.TokenHash)

	found, err := store.FindRefreshTokenByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	assert.Equal(t, client.IPAddress, found.IPAddress)
	assert.False(t, found.IsRevoked())
	assert.True(t, found.ExpiresAt.Equal(token.ExpiresAt))

	nextRaw, next, err := store.RotateRefreshToken(ctx, found, client)
	require.NoError(t, err)
	assert.NotEqual(t, raw, nextRaw)

	old, err := store.FindRefreshTokenByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.True(t, old.IsRevoked())
	assert.Equal(t, next.TokenHash, old.ReplacedByHash)

	_, _, err = store.RotateRefreshToken(ctx, found, client)
	assert.ErrorIs(t, err, storage.ErrTokenAlreadyRotated)

	_, err = store.FindRefreshTokenByHash(ctx, security.HashToken("unknown"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, err = store.CreateRefreshToken(ctx, "nobody", "github", client)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RefreshTokenHashCheck(t *testing.T) {
	store := newTestStore(t)
	user := createUser(t, store)

	bad := storage.NewRefreshToken("id-1", user.ID, "github", "NOT-A-HASH", security.ClientInfo{}, time.Now(), time.Hour)
	err := insertRefreshToken(context.Background(), store.db, bad)
	require.Error(t, err, "schema must reject non sha256-hex hashes")
}

func TestStore_RotateRefreshToken_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, store)
	client := testutil.GenerateTestClientInfo()

	_, token, err := store.CreateRefreshToken(ctx, user.ID, "github", client)
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.RotateRefreshToken(ctx, token, client)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, storage.ErrTokenAlreadyRotated):
				rejected.Add(1)
			default:
				t.Errorf("RotateRefreshToken() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
}

func TestStore_RotateRefreshToken_Expired(t *testing.T) {
	store := newTestStore(t)
	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)
	store.refreshTokenTTL = time.Hour
	ctx := context.Background()
	user := createUser(t, store)

	_, token, err := store.CreateRefreshToken(ctx, user.ID, "github", security.ClientInfo{})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, _, err = store.RotateRefreshToken(ctx, token, security.ClientInfo{})
	assert.ErrorIs(t, err, storage.ErrTokenAlreadyRotated)
}

func TestStore_RevokeRefreshTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := createUser(t, store)

	_, a, err := store.CreateRefreshToken(ctx, user.ID, "github", security.ClientInfo{})
	require.NoError(t, err)
	_, _, err = store.CreateRefreshToken(ctx, user.ID, "github", security.ClientInfo{})
	require.NoError(t, err)
	_, _, err = store.CreateRefreshToken(ctx, user.ID, "github", security.ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, store.RevokeRefreshToken(ctx, a.ID))
	require.NoError(t, store.RevokeRefreshToken(ctx, a.ID))

	count, err := store.RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_Revocation(t *testing.T) {
	store := newTestStore(t)
	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)
	ctx := context.Background()

	key := storage.RevokedTokenKey("jti-1")
	require.NoError(t, store.Revoke(ctx, key, time.Minute))
	require.NoError(t, store.Revoke(ctx, key, time.Minute), "revoking twice extends the entry")

	revoked, err := store.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, storage.RevokedTokenKey("jti-2"))
	require.NoError(t, err)
	assert.False(t, revoked)

	clock.Advance(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.False(t, revoked)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestStore_RevokeOnce(t *testing.T) {
	store := newTestStore(t)
	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)
	ctx := context.Background()

	first, err := store.RevokeOnce(ctx, "oauth_state:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.RevokeOnce(ctx, "oauth_state:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, again, "a live key is recorded only once")

	revoked, err := store.IsRevoked(ctx, "oauth_state:abc")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock.Advance(2 * time.Minute)
	lapsed, err := store.RevokeOnce(ctx, "oauth_state:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, lapsed, "a lapsed key can be recorded again")

	_, err = store.RevokeOnce(ctx, "oauth_state:def", 0)
	assert.Error(t, err)
}

func TestStore_RevokeOnce_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.RevokeOnce(ctx, "oauth_state:race", time.Minute)
			if err == nil && first {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}
