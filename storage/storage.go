// Package storage defines the persistence interfaces of the identity adapter:
// users, the group graph, refresh tokens and access token revocations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/security"
)

// DefaultRefreshTokenTTL is the lifetime of a refresh token.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// revokedTokenPrefix prefixes revocation keys of access tokens.
const revokedTokenPrefix = "revoked_token:"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTokenAlreadyRotated is returned when a refresh token was revoked or
	// replaced between lookup and rotation.
	ErrTokenAlreadyRotated = errors.New("refresh token already rotated")

	// ErrSelfDependency is returned when a group would depend on itself.
	ErrSelfDependency = errors.New("group cannot depend on itself")

	// ErrAlreadyExists is returned when a unique key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// User is a local account linked to one provider identity.
type User struct {
	ID          string
	Provider    string
	ProviderID  string
	Username    string
	DisplayName string
	Email       string
	AvatarURL   string
	ProfileURL  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group is a node of the entitlement graph.
type Group struct {
	ID          string
	Slug        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scope is a named permission granted to groups or users.
type Scope struct {
	ID          string
	Key         string
	Description string
}

// RefreshToken is the stored form of a refresh credential. The raw value is
// never persisted; TokenHash is its lowercase sha256 hex.
type RefreshToken struct {
	ID             string
	UserID         string
	Provider       string
	TokenHash      string
	ExpiresAt      time.Time
	UserAgent      string
	IPAddress      string
	CreatedAt      time.Time
	RevokedAt      *time.Time
	ReplacedByHash string
}

// IsRevoked reports whether the token was revoked or rotated.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// UserStore persists users.
type UserStore interface {
	// UpsertUser creates or updates the user matching (profile.Provider, profile.ID).
	UpsertUser(ctx context.Context, profile *providers.Profile) (*User, error)

	// GetUser returns the user with id, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)
}

// GraphStore reads the entitlement graph.
type GraphStore interface {
	// DirectGroups returns the groups the user is a direct member of.
	DirectGroups(ctx context.Context, userID string) ([]Group, error)

	// GroupDependencies returns the groups groupID depends on.
	GroupDependencies(ctx context.Context, groupID string) ([]Group, error)

	// GroupScopes returns the scopes granted to groupID.
	GroupScopes(ctx context.Context, groupID string) ([]Scope, error)

	// UserScopes returns the scopes granted directly to the user.
	UserScopes(ctx context.Context, userID string) ([]Scope, error)
}

// GroupAdmin edits the entitlement graph.
type GroupAdmin interface {
	CreateGroup(ctx context.Context, slug, name, description string) (*Group, error)
	CreateScope(ctx context.Context, key, description string) (*Scope, error)
	GetGroupBySlug(ctx context.Context, slug string) (*Group, error)
	GetScopeByKey(ctx context.Context, key string) (*Scope, error)
	ListGroups(ctx context.Context) ([]Group, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	AddGroupDependency(ctx context.Context, groupID, dependencyID string) error
	GrantScope(ctx context.Context, groupID, scopeID string) error
	GrantUserScope(ctx context.Context, userID, scopeID string) error
}

// RefreshTokenStore persists refresh credentials.
type RefreshTokenStore interface {
	// CreateRefreshToken issues a new refresh token and returns its raw value.
	CreateRefreshToken(ctx context.Context, userID, provider string, client security.ClientInfo) (string, *RefreshToken, error)

	// RotateRefreshToken revokes existing and issues its replacement atomically.
	// It returns ErrTokenAlreadyRotated if existing is no longer live.
	RotateRefreshToken(ctx context.Context, existing *RefreshToken, client security.ClientInfo) (string, *RefreshToken, error)

	// FindRefreshTokenByHash returns the token with hash, or ErrNotFound.
	FindRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)

	// RevokeRefreshToken revokes one token. Revoking a revoked token is a no-op.
	RevokeRefreshToken(ctx context.Context, id string) error

	// RevokeAllForUser revokes every live token of the user and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// RevocationStore records revoked keys (access token IDs, redeemed OAuth
// states) until they would have expired.
type RevocationStore interface {
	Revoke(ctx context.Context, key string, ttl time.Duration) error
	IsRevoked(ctx context.Context, key string) (bool, error)

	// RevokeOnce records key unless it is already revoked and reports
	// whether this call recorded it. Concurrent calls for one key return
	// true at most once.
	RevokeOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RevokedTokenKey returns the revocation key of an access token ID.
func RevokedTokenKey(jti string) string {
	return revokedTokenPrefix + jti
}

// NewRefreshValue generates a raw refresh credential and its stored hash.
func NewRefreshValue() (raw, hash string, err error) {
	raw, err = security.GenerateToken(security.RefreshTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return raw, security.HashToken(raw), nil
}

// NewRefreshToken builds the row for a freshly generated credential.
func NewRefreshToken(id, userID, provider, hash string, client security.ClientInfo, now time.Time, ttl time.Duration) *RefreshToken {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshToken{
		ID:        id,
		UserID:    userID,
		Provider:  provider,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
		CreatedAt: now,
	}
}
