package identity

import (
	"time"

	"github.com/giantswarm/identity-adapter/internal/util"
	"github.com/giantswarm/identity-adapter/storage"
)

// LoginResponse is returned by the callback when no redirect target applies
type LoginResponse struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	User         *UserResponse   `json:"user"`
	Groups       []GroupResponse `json:"groups"`
	Scopes       []ScopeResponse `json:"scopes"`
}

// GroupResponse is the public representation of a resolved group
type GroupResponse struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// ScopeResponse is the public representation of a resolved scope
type ScopeResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

// SerializeGroups renders groups in order. The result is never nil.
func SerializeGroups(groups []storage.Group) []GroupResponse {
	out := make([]GroupResponse, len(groups))
	for i, g := range groups {
		out[i] = GroupResponse{ID: g.ID, Slug: g.Slug, Name: g.Name}
	}
	return out
}

// SerializeScopes renders scopes in order. The result is never nil.
func SerializeScopes(scopes []storage.Scope) []ScopeResponse {
	out := make([]ScopeResponse, len(scopes))
	for i, sc := range scopes {
		out[i] = ScopeResponse{ID: sc.ID, Key: sc.Key, Description: sc.Description}
	}
	return out
}

// RefreshRequest is the optional JSON body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by a successful refresh
type RefreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// UserResponse is the public representation of a user. Fields beyond the
// base set depend on the caller's scopes.
type UserResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ProfileURL  string    `json:"profileUrl,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	// Visible with users:read or to the user themself
	Username   string     `json:"username,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	ProviderID string     `json:"providerId,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`

	// Visible with users:read.email or to the user themself
	Email string `json:"email,omitempty"`
}

// Scopes that widen the user representation
const (
	ScopeUsersRead      = "users:read"
	ScopeUsersReadEmail = "users:read.email"
)

// SerializeUser renders u for a caller holding scopes. isSelf grants every
// field.
func SerializeUser(u *storage.User, scopes []string, isSelf bool) *UserResponse {
	if u == nil {
		return nil
	}

	resp := &UserResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		ProfileURL:  u.ProfileURL,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}

	if isSelf || util.Contains(scopes, ScopeUsersRead) {
		updated := u.UpdatedAt
		resp.Username = u.Username
		resp.Provider = u.Provider
		resp.ProviderID = u.ProviderID
		resp.UpdatedAt = &updated
	}

	if isSelf || util.Contains(scopes, ScopeUsersReadEmail) {
		resp.Email = u.Email
	}

	return resp
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Database  string    `json:"database"`
	Uptime    float64   `json:"uptime"`
}

const (
	// HealthServiceName is reported by the health endpoint
	HealthServiceName = "api.broiler.dev"

	healthStatusHealthy       = "healthy"
	healthStatusUnhealthy     = "unhealthy"
	healthDatabaseConnected   = "connected"
	healthDatabaseUnavailable = "disconnected"
)
