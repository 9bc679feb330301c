// Package github implements providers.Provider for GitHub OAuth Apps.
//
// The code exchange goes through golang.org/x/oauth2 with the GitHub
// endpoint. The resulting access token is used once, to read /user and, when
// the public profile hides the address, /user/emails. The primary email wins,
// otherwise the first listed one is used.
//
// Profile mapping:
//   - ID: the numeric GitHub user ID
//   - Username: login, falling back to name, then ID
//   - DisplayName: name, falling back to login, then ID
//   - AvatarURL / ProfileURL: avatar_url / html_url
//
// # Default Scopes
//
// When no scopes are configured the provider requests read:user and
// user:email.
package github
