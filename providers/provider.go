// Package providers defines the identity provider abstraction and the
// static registry of configured providers.
package providers

import (
	"context"
)

// Provider performs the provider side of an authorization code login.
type Provider interface {
	// Name returns the provider key (e.g., "github")
	Name() string

	// AuthCodeURL returns the provider's authorize URL carrying state
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the user's profile.
	// The provider's access token is used only to read the profile and is not retained.
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Profile is the identity asserted by a provider after a successful exchange.
type Profile struct {
	// Provider is the provider key the profile came from
	Provider string

	// ID is the provider's stable user identifier
	ID string

	// Username is the provider login handle
	Username string

	// DisplayName is the user's full name, falling back to Username
	DisplayName string

	// Email is the primary email address, if any
	Email string

	// AvatarURL is the avatar image URL
	AvatarURL string

	// ProfileURL is the public profile page
	ProfileURL string
}
