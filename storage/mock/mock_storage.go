// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage"
)

// MockGraphStore is a mock implementation of GraphStore for testing. The
// exported maps form the default graph; the Func fields override lookups.
type MockGraphStore struct {
	mu sync.RWMutex

	// Members maps user IDs to direct group IDs
	Members map[string][]string
	// Dependencies maps group IDs to the group IDs they depend on
	Dependencies map[string][]string
	// Grants maps group IDs to scope keys
	Grants map[string][]string
	// UserGrants maps user IDs to directly granted scope keys
	UserGrants map[string][]string

	DirectGroupsFunc      func(ctx context.Context, userID string) ([]storage.Group, error)
	GroupDependenciesFunc func(ctx context.Context, groupID string) ([]storage.Group, error)
	GroupScopesFunc       func(ctx context.Context, groupID string) ([]storage.Scope, error)
	UserScopesFunc        func(ctx context.Context, userID string) ([]storage.Scope, error)

	CallCounts map[string]int
}

var _ storage.GraphStore = (*MockGraphStore)(nil)

// NewMockGraphStore creates a new mock graph store with an empty graph.
func NewMockGraphStore() *MockGraphStore {
	return &MockGraphStore{
		Members:      make(map[string][]string),
		Dependencies: make(map[string][]string),
		Grants:       make(map[string][]string),
		UserGrants:   make(map[string][]string),
		CallCounts:   make(map[string]int),
	}
}

// Group builds a group whose ID and slug are both id.
func Group(id string) storage.Group {
	return storage.Group{ID: id, Slug: id, Name: id}
}

// Scope builds a scope whose ID and key are both key.
func Scope(key string) storage.Scope {
	return storage.Scope{ID: key, Key: key}
}

func (m *MockGraphStore) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// GetCallCount returns the number of times a method was called
func (m *MockGraphStore) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockGraphStore) groups(ids []string) []storage.Group {
	out := make([]storage.Group, 0, len(ids))
	for _, id := range ids {
		out = append(out, Group(id))
	}
	return out
}

func (m *MockGraphStore) scopes(keys []string) []storage.Scope {
	out := make([]storage.Scope, 0, len(keys))
	for _, key := range keys {
		out = append(out, Scope(key))
	}
	return out
}

// DirectGroups implements storage.GraphStore
func (m *MockGraphStore) DirectGroups(ctx context.Context, userID string) ([]storage.Group, error) {
	m.incrementCallCount("DirectGroups")
	if m.DirectGroupsFunc != nil {
		return m.DirectGroupsFunc(ctx, userID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups(m.Members[userID]), nil
}

// GroupDependencies implements storage.GraphStore
func (m *MockGraphStore) GroupDependencies(ctx context.Context, groupID string) ([]storage.Group, error) {
	m.incrementCallCount("GroupDependencies")
	if m.GroupDependenciesFunc != nil {
		return m.GroupDependenciesFunc(ctx, groupID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups(m.Dependencies[groupID]), nil
}

// GroupScopes implements storage.GraphStore
func (m *MockGraphStore) GroupScopes(ctx context.Context, groupID string) ([]storage.Scope, error) {
	m.incrementCallCount("GroupScopes")
	if m.GroupScopesFunc != nil {
		return m.GroupScopesFunc(ctx, groupID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopes(m.Grants[groupID]), nil
}

// UserScopes implements storage.GraphStore
func (m *MockGraphStore) UserScopes(ctx context.Context, userID string) ([]storage.Scope, error) {
	m.incrementCallCount("UserScopes")
	if m.UserScopesFunc != nil {
		return m.UserScopesFunc(ctx, userID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scopes(m.UserGrants[userID]), nil
}

// MockRevocationStore is a mock implementation of RevocationStore for testing
type MockRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Duration

	RevokeFunc     func(ctx context.Context, key string, ttl time.Duration) error
	IsRevokedFunc  func(ctx context.Context, key string) (bool, error)
	RevokeOnceFunc func(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CallCounts     map[string]int
}

var _ storage.RevocationStore = (*MockRevocationStore)(nil)

// NewMockRevocationStore creates a new mock revocation store
func NewMockRevocationStore() *MockRevocationStore {
	m := &MockRevocationStore{
		revoked:    make(map[string]time.Duration),
		CallCounts: make(map[string]int),
	}

	m.RevokeFunc = func(ctx context.Context, key string, ttl time.Duration) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.revoked[key] = ttl
		return nil
	}

	m.IsRevokedFunc = func(ctx context.Context, key string) (bool, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		_, ok := m.revoked[key]
		return ok, nil
	}

	m.RevokeOnceFunc = func(ctx context.Context, key string, ttl time.Duration) (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.revoked[key]; ok {
			return false, nil
		}
		m.revoked[key] = ttl
		return true, nil
	}

	return m
}

func (m *MockRevocationStore) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Revoke implements storage.RevocationStore
func (m *MockRevocationStore) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	m.incrementCallCount("Revoke")
	return m.RevokeFunc(ctx, key, ttl)
}

// IsRevoked implements storage.RevocationStore
func (m *MockRevocationStore) IsRevoked(ctx context.Context, key string) (bool, error) {
	m.incrementCallCount("IsRevoked")
	return m.IsRevokedFunc(ctx, key)
}

// RevokeOnce implements storage.RevocationStore
func (m *MockRevocationStore) RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.incrementCallCount("RevokeOnce")
	return m.RevokeOnceFunc(ctx, key, ttl)
}

// TTL returns the ttl key was revoked with, and whether it was revoked.
func (m *MockRevocationStore) TTL(key string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ttl, ok := m.revoked[key]
	return ttl, ok
}

// GetCallCount returns the number of times a method was called
func (m *MockRevocationStore) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// MockRefreshTokenStore wraps a RefreshTokenStore and lets tests override
// single methods. Methods without an override delegate to Inner.
type MockRefreshTokenStore struct {
	Inner storage.RefreshTokenStore

	CreateFunc           func(ctx context.Context, userID, provider string, client security.ClientInfo) (string, *storage.RefreshToken, error)
	RotateFunc           func(ctx context.Context, existing *storage.RefreshToken, client security.ClientInfo) (string, *storage.RefreshToken, error)
	FindByHashFunc       func(ctx context.Context, hash string) (*storage.RefreshToken, error)
	RevokeFunc           func(ctx context.Context, id string) error
	RevokeAllForUserFunc func(ctx context.Context, userID string) (int64, error)
}

var _ storage.RefreshTokenStore = (*MockRefreshTokenStore)(nil)

// CreateRefreshToken implements storage.RefreshTokenStore
func (m *MockRefreshTokenStore) CreateRefreshToken(ctx context.Context, userID, provider string, client security.ClientInfo) (string, *storage.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, provider, client)
	}
	return m.Inner.CreateRefreshToken(ctx, userID, provider, client)
}

// RotateRefreshToken implements storage.RefreshTokenStore
func (m *MockRefreshTokenStore) RotateRefreshToken(ctx context.Context, existing *storage.RefreshToken, client security.ClientInfo) (string, *storage.RefreshToken, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, existing, client)
	}
	return m.Inner.RotateRefreshToken(ctx, existing, client)
}

// FindRefreshTokenByHash implements storage.RefreshTokenStore
func (m *MockRefreshTokenStore) FindRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error) {
	if m.FindByHashFunc != nil {
		return m.FindByHashFunc(ctx, hash)
	}
	return m.Inner.FindRefreshTokenByHash(ctx, hash)
}

// RevokeRefreshToken implements storage.RefreshTokenStore
func (m *MockRefreshTokenStore) RevokeRefreshToken(ctx context.Context, id string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id)
	}
	return m.Inner.RevokeRefreshToken(ctx, id)
}

// RevokeAllForUser implements storage.RefreshTokenStore
func (m *MockRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return m.Inner.RevokeAllForUser(ctx, userID)
}
