// Package providers defines the OAuth identity provider interface, the
// normalized Profile it returns and the Registry of configured providers.
//
// Implementations are provided in subpackages:
//   - providers/github: GitHub OAuth App provider
//   - providers/mock: Mock provider for testing
//
// A provider builds the authorize URL for a CSRF state and exchanges the
// callback code for a Profile. The Registry resolves the route key
// ("github") to the provider and its static Config, and reports providers
// without client credentials as disabled.
//
// Example usage:
//
//	gh, err := github.NewProvider(&github.Config{
//	    ClientID:     "your-client-id",
//	    ClientSecret: "your-client-secret",
//	    RedirectURL:  "http://localhost:3000/api/auth/github/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry := providers.NewRegistry()
//	_ = registry.Register(providers.Config{Key: "github", DisplayName: "GitHub", ClientID: id, ClientSecret: secret}, gh)
package providers
