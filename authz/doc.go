// Package authz resolves a user's effective groups and scopes.
//
// Groups form a directed graph: a group depends on other groups, and a
// member of a group is also a member of everything it depends on. The graph
// may contain cycles. Closure walks it with a worklist and a visited set, so
// every group is expanded once.
//
// Scopes granted to any reachable group, plus scopes granted to the user
// directly, are merged and deduplicated by ID. Groups are ordered by slug and
// scopes by key, so the same graph always yields the same token claims.
package authz
