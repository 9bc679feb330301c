package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/storage"
)

// ErrUserNotFound is returned by Resolve for unknown users.
var ErrUserNotFound = apierror.NotFound("User not found.", "USER_NOT_FOUND")

// GraphSource is the read side of users and the group graph.
type GraphSource interface {
	GetUser(ctx context.Context, id string) (*storage.User, error)
	storage.GraphStore
}

// Authorization is a user's effective entitlements at one point in time.
type Authorization struct {
	User   *storage.User
	Groups []storage.Group
	Scopes []storage.Scope
}

// GroupSlugs returns the group slugs in resolution order.
func (a *Authorization) GroupSlugs() []string {
	out := make([]string, len(a.Groups))
	for i, g := range a.Groups {
		out[i] = g.Slug
	}
	return out
}

// ScopeKeys returns the scope keys in resolution order.
func (a *Authorization) ScopeKeys() []string {
	out := make([]string, len(a.Scopes))
	for i, s := range a.Scopes {
		out[i] = s.Key
	}
	return out
}

// HasScope reports whether key is among the resolved scopes.
func (a *Authorization) HasScope(key string) bool {
	for _, s := range a.Scopes {
		if s.Key == key {
			return true
		}
	}
	return false
}

// ExpandFunc returns the groups a group depends on.
type ExpandFunc func(ctx context.Context, groupID string) ([]storage.Group, error)

// Closure returns direct plus every group reachable through expand. Each
// group is expanded at most once, so cycles terminate. The result is sorted
// by slug.
func Closure(ctx context.Context, direct []storage.Group, expand ExpandFunc) ([]storage.Group, error) {
	visited := make(map[string]storage.Group, len(direct))
	worklist := make([]storage.Group, 0, len(direct))

	for _, g := range direct {
		if _, ok := visited[g.ID]; !ok {
			visited[g.ID] = g
			worklist = append(worklist, g)
		}
	}

	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		deps, err := expand(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("expand group %s: %w", current.ID, err)
		}
		for _, dep := range deps {
			if _, ok := visited[dep.ID]; ok {
				continue
			}
			visited[dep.ID] = dep
			worklist = append(worklist, dep)
		}
	}

	groups := make([]storage.Group, 0, len(visited))
	for _, g := range visited {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Slug < groups[j].Slug })
	return groups, nil
}

// Resolver computes Authorization values from a GraphSource.
type Resolver struct {
	source GraphSource
	logger *slog.Logger
}

// NewResolver creates a Resolver over source.
func NewResolver(source GraphSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve returns the user with their transitive groups and the union of the
// scopes granted to those groups and to the user directly.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Authorization, error) {
	user, err := r.source.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	direct, err := r.source.DirectGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load direct groups: %w", err)
	}

	groups, err := Closure(ctx, direct, r.source.GroupDependencies)
	if err != nil {
		return nil, err
	}

	scopes := make(map[string]storage.Scope)
	for _, g := range groups {
		granted, err := r.source.GroupScopes(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("load scopes of group %s: %w", g.ID, err)
		}
		for _, s := range granted {
			scopes[s.ID] = s
		}
	}

	own, err := r.source.UserScopes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user scopes: %w", err)
	}
	for _, s := range own {
		scopes[s.ID] = s
	}

	auth := &Authorization{User: user, Groups: groups, Scopes: make([]storage.Scope, 0, len(scopes))}
	for _, s := range scopes {
		auth.Scopes = append(auth.Scopes, s)
	}
	sort.Slice(auth.Scopes, func(i, j int) bool { return auth.Scopes[i].Key < auth.Scopes[j].Key })

	r.logger.Debug("Resolved authorization",
		"user_id", userID,
		"groups", len(auth.Groups),
		"scopes", len(auth.Scopes))

	return auth, nil
}
