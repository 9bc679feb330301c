// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage"
)

// storageType is the storage.type span attribute of this backend.
const storageType = "memory"

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	users      map[string]*storage.User
	identities map[string]string // provider + "\x00" + provider ID -> user ID

	groups      map[string]*storage.Group
	groupBySlug map[string]string
	scopes      map[string]*storage.Scope
	scopeByKey  map[string]string

	memberships  map[string]map[string]struct{} // user ID -> group IDs
	dependencies map[string]map[string]struct{} // group ID -> group IDs
	groupScopes  map[string]map[string]struct{} // group ID -> scope IDs
	userScopes   map[string]map[string]struct{} // user ID -> scope IDs

	refreshTokens map[string]*storage.RefreshToken
	refreshByHash map[string]string

	revoked map[string]time.Time // revocation key -> expiry

	refreshTokenTTL time.Duration
	now             func() time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	usersCountAtomic         atomic.Int64
	refreshTokensCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.UserStore         = (*Store)(nil)
	_ storage.GraphStore        = (*Store)(nil)
	_ storage.GroupAdmin        = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.RevocationStore   = (*Store)(nil)
	_ storage.Pinger            = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		users:           make(map[string]*storage.User),
		identities:      make(map[string]string),
		groups:          make(map[string]*storage.Group),
		groupBySlug:     make(map[string]string),
		scopes:          make(map[string]*storage.Scope),
		scopeByKey:      make(map[string]string),
		memberships:     make(map[string]map[string]struct{}),
		dependencies:    make(map[string]map[string]struct{}),
		groupScopes:     make(map[string]map[string]struct{}),
		userScopes:      make(map[string]map[string]struct{}),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		refreshByHash:   make(map[string]string),
		revoked:         make(map[string]time.Time),
		refreshTokenTTL: storage.DefaultRefreshTokenTTL,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetRefreshTokenTTL sets the lifetime of newly issued refresh tokens.
func (s *Store) SetRefreshTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		s.refreshTokenTTL = ttl
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.usersCountAtomic.Store(int64(len(s.users)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.usersCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

func identityKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

// UpsertUser creates or updates the user linked to the profile's identity.
func (s *Store) UpsertUser(ctx context.Context, profile *providers.Profile) (user *storage.User, err error) {
	ctx, span := s.startStorageSpan(ctx, "upsert_user")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "upsert_user", err, startTime) }()

	if profile == nil || profile.Provider == "" || profile.ID == "" {
		return nil, fmt.Errorf("profile must carry a provider and an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := identityKey(profile.Provider, profile.ID)
	u, ok := s.users[s.identities[key]]
	if !ok {
		u = &storage.User{
			ID:         uuid.NewString(),
			Provider:   profile.Provider,
			ProviderID: profile.ID,
			CreatedAt:  now,
		}
		s.users[u.ID] = u
		s.identities[key] = u.ID
		s.usersCountAtomic.Add(1)
		s.logger.Debug("Created user", "user_id", u.ID, "provider", u.Provider)
	}

	u.Username = profile.Username
	u.DisplayName = profile.DisplayName
	u.Email = profile.Email
	u.AvatarURL = profile.AvatarURL
	u.ProfileURL = profile.ProfileURL
	u.UpdatedAt = now

	out := *u
	return &out, nil
}

// GetUser returns the user with id.
func (s *Store) GetUser(ctx context.Context, id string) (user *storage.User, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_user")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_user", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *u
	return &out, nil
}

// ============================================================
// GraphStore Implementation
// ============================================================

// DirectGroups returns the groups the user belongs to directly.
func (s *Store) DirectGroups(ctx context.Context, userID string) ([]storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupsOf(s.memberships[userID]), nil
}

// GroupDependencies returns the groups groupID depends on.
func (s *Store) GroupDependencies(ctx context.Context, groupID string) ([]storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupsOf(s.dependencies[groupID]), nil
}

// GroupScopes returns the scopes granted to groupID.
func (s *Store) GroupScopes(ctx context.Context, groupID string) ([]storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopesOf(s.groupScopes[groupID]), nil
}

// UserScopes returns the scopes granted directly to userID.
func (s *Store) UserScopes(ctx context.Context, userID string) ([]storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopesOf(s.userScopes[userID]), nil
}

// groupsOf must be called with the lock held.
func (s *Store) groupsOf(ids map[string]struct{}) []storage.Group {
	out := make([]storage.Group, 0, len(ids))
	for id := range ids {
		if g, ok := s.groups[id]; ok {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// scopesOf must be called with the lock held.
func (s *Store) scopesOf(ids map[string]struct{}) []storage.Scope {
	out := make([]storage.Scope, 0, len(ids))
	for id := range ids {
		if sc, ok := s.scopes[id]; ok {
			out = append(out, *sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ============================================================
// GroupAdmin Implementation
// ============================================================

// CreateGroup adds a group. Slugs are unique.
func (s *Store) CreateGroup(ctx context.Context, slug, name, description string) (*storage.Group, error) {
	if slug == "" {
		return nil, fmt.Errorf("group slug is required")
	}
	if name == "" {
		name = slug
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groupBySlug[slug]; ok {
		return nil, fmt.Errorf("group %q: %w", slug, storage.ErrAlreadyExists)
	}
	now := s.now()
	g := &storage.Group{
		ID:          uuid.NewString(),
		Slug:        slug,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.groups[g.ID] = g
	s.groupBySlug[slug] = g.ID

	out := *g
	return &out, nil
}

// CreateScope adds a scope. Keys are unique.
func (s *Store) CreateScope(ctx context.Context, key, description string) (*storage.Scope, error) {
	if key == "" {
		return nil, fmt.Errorf("scope key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scopeByKey[key]; ok {
		return nil, fmt.Errorf("scope %q: %w", key, storage.ErrAlreadyExists)
	}
	sc := &storage.Scope{ID: uuid.NewString(), Key: key, Description: description}
	s.scopes[sc.ID] = sc
	s.scopeByKey[key] = sc.ID

	out := *sc
	return &out, nil
}

// GetGroupBySlug returns the group with slug.
func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[s.groupBySlug[slug]]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *g
	return &out, nil
}

// GetScopeByKey returns the scope with key.
func (s *Store) GetScopeByKey(ctx context.Context, key string) (*storage.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scopes[s.scopeByKey[key]]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *sc
	return &out, nil
}

// ListGroups returns all groups ordered by slug.
func (s *Store) ListGroups(ctx context.Context) ([]storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// AddUserToGroup adds a direct membership. Adding it twice is a no-op.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %q: %w", userID, storage.ErrNotFound)
	}
	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %q: %w", groupID, storage.ErrNotFound)
	}
	addEdge(s.memberships, userID, groupID)
	return nil
}

// AddGroupDependency makes groupID depend on dependencyID. Cycles through
// other groups are allowed; a direct self-dependency is rejected.
func (s *Store) AddGroupDependency(ctx context.Context, groupID, dependencyID string) error {
	if groupID == dependencyID {
		return storage.ErrSelfDependency
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{groupID, dependencyID} {
		if _, ok := s.groups[id]; !ok {
			return fmt.Errorf("group %q: %w", id, storage.ErrNotFound)
		}
	}
	addEdge(s.dependencies, groupID, dependencyID)
	return nil
}

// GrantScope grants scopeID to every member of groupID and its dependents.
func (s *Store) GrantScope(ctx context.Context, groupID, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %q: %w", groupID, storage.ErrNotFound)
	}
	if _, ok := s.scopes[scopeID]; !ok {
		return fmt.Errorf("scope %q: %w", scopeID, storage.ErrNotFound)
	}
	addEdge(s.groupScopes, groupID, scopeID)
	return nil
}

// GrantUserScope grants scopeID to userID directly.
func (s *Store) GrantUserScope(ctx context.Context, userID, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %q: %w", userID, storage.ErrNotFound)
	}
	if _, ok := s.scopes[scopeID]; !ok {
		return fmt.Errorf("scope %q: %w", scopeID, storage.ErrNotFound)
	}
	addEdge(s.userScopes, userID, scopeID)
	return nil
}

func addEdge(edges map[string]map[string]struct{}, from, to string) {
	set, ok := edges[from]
	if !ok {
		set = make(map[string]struct{})
		edges[from] = set
	}
	set[to] = struct{}{}
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken issues a new refresh token for userID.
func (s *Store) CreateRefreshToken(ctx context.Context, userID, provider string, client security.ClientInfo) (raw string, token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "create_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_refresh_token", err, startTime) }()

	raw, hash, err := storage.NewRefreshValue()
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return "", nil, fmt.Errorf("user %q: %w", userID, storage.ErrNotFound)
	}
	token = s.insertRefreshToken(userID, provider, hash, client)
	return raw, token, nil
}

// insertRefreshToken must be called with the write lock held.
func (s *Store) insertRefreshToken(userID, provider, hash string, client security.ClientInfo) *storage.RefreshToken {
	t := storage.NewRefreshToken(uuid.NewString(), userID, provider, hash, client, s.now(), s.refreshTokenTTL)
	s.refreshTokens[t.ID] = t
	s.refreshByHash[hash] = t.ID
	s.refreshTokensCountAtomic.Add(1)

	out := *t
	return &out
}

// RotateRefreshToken revokes existing and issues its replacement under one
// lock, so of two concurrent rotations of the same token only one succeeds.
func (s *Store) RotateRefreshToken(ctx context.Context, existing *storage.RefreshToken, client security.ClientInfo) (raw string, token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime) }()

	raw, hash, err := storage.NewRefreshValue()
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.refreshTokens[existing.ID]
	if !ok || current.RevokedAt != nil || current.IsExpired(s.now()) {
		return "", nil, storage.ErrTokenAlreadyRotated
	}

	now := s.now()
	current.RevokedAt = &now
	current.ReplacedByHash = hash

	token = s.insertRefreshToken(current.UserID, current.Provider, hash, client)
	return raw, token, nil
}

// FindRefreshTokenByHash returns the token stored under hash.
func (s *Store) FindRefreshTokenByHash(ctx context.Context, hash string) (token *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "find_refresh_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[s.refreshByHash[hash]]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *t
	return &out, nil
}

// RevokeRefreshToken marks one token revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.RevokedAt == nil {
		now := s.now()
		t.RevokedAt = &now
	}
	return nil
}

// RevokeAllForUser revokes every live token of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count int64
	for _, t := range s.refreshTokens {
		if t.UserID == userID && t.RevokedAt == nil {
			revokedAt := now
			t.RevokedAt = &revokedAt
			count++
		}
	}
	if count > 0 {
		s.logger.Info("Revoked refresh tokens for user", "user_id", userID, "count", count)
	}
	return count, nil
}

// ============================================================
// RevocationStore Implementation
// ============================================================

// Revoke records key as revoked for ttl.
func (s *Store) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[key] = s.now().Add(ttl)
	return nil
}

// RevokeOnce records key for ttl unless it is already revoked.
func (s *Store) RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("revocation ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiresAt, ok := s.revoked[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.revoked[key] = now.Add(ttl)
	return true, nil
}

// IsRevoked reports whether key is revoked and not yet expired.
func (s *Store) IsRevoked(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiresAt, ok := s.revoked[key]
	return ok && s.now().Before(expiresAt), nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired revocations and refresh tokens past their expiry
// plus the clock skew grace period.
func (s *Store) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for key, expiresAt := range s.revoked {
		if !now.Before(expiresAt) {
			delete(s.revoked, key)
			cleaned++
		}
	}

	for id, t := range s.refreshTokens {
		if security.IsExpired(now, t.ExpiresAt, security.DefaultClockSkewGracePeriod) {
			delete(s.refreshTokens, id)
			delete(s.refreshByHash, t.TokenHash)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, storageType)
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	instrumentation.AddStorageResult(span, result)

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
