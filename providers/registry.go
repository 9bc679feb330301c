package providers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/redirect"
)

// DefaultStateMaxAge is how long a pending login's CSRF state stays valid.
const DefaultStateMaxAge = 5 * time.Minute

// DefaultGitHubScopes are requested when no scope is configured.
var DefaultGitHubScopes = []string{"read:user", "user:email"}

// Config is the static configuration of one provider. Values are loaded
// once at startup and never mutated.
type Config struct {
	// Key is the route segment and registry key (e.g., "github")
	Key string

	// DisplayName is used in user-facing messages (e.g., "GitHub")
	DisplayName string

	ClientID     string
	ClientSecret string

	// CallbackURL is where the provider sends the user back
	CallbackURL string

	// Scopes requested at the provider
	Scopes []string

	// SuccessRedirect receives "?token=" after login when no target was requested
	SuccessRedirect string

	// FailureRedirect receives the user when login fails. Empty returns 401 JSON.
	FailureRedirect string

	// DefaultRedirect is the base for relative redirect targets. Defaults to SuccessRedirect.
	DefaultRedirect string

	// AllowedOrigins are extra origins accepted as redirect targets
	AllowedOrigins []string

	// StateMaxAge bounds the time between login start and callback
	StateMaxAge time.Duration

	// APIBaseURL is the public base URL of this service
	APIBaseURL string
}

// Enabled reports whether client credentials are configured.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// BaseRedirect returns the URL relative redirect targets resolve against:
// the origin of DefaultRedirect, else of SuccessRedirect, else APIBaseURL.
func (c Config) BaseRedirect() string {
	for _, candidate := range []string{c.DefaultRedirect, c.SuccessRedirect} {
		if origin, ok := redirect.Origin(candidate); ok {
			return origin
		}
	}
	return c.APIBaseURL
}

// RedirectPolicy returns the redirect allow-list of the provider: the
// explicit origins plus the origins of the success, default and API base URLs.
func (c Config) RedirectPolicy() redirect.Policy {
	return redirect.Policy{
		BaseURL:        c.BaseRedirect(),
		AllowedOrigins: redirect.ParseOriginList(append(append([]string{}, c.AllowedOrigins...), c.SuccessRedirect, c.DefaultRedirect, c.APIBaseURL)...),
	}
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.DisplayName == "" {
		c.DisplayName = c.Key
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultGitHubScopes...)
	} else {
		c.Scopes = append([]string(nil), c.Scopes...)
	}
	if c.DefaultRedirect == "" {
		c.DefaultRedirect = c.SuccessRedirect
	}
	if c.StateMaxAge <= 0 {
		c.StateMaxAge = DefaultStateMaxAge
	}
	if c.CallbackURL == "" && c.APIBaseURL != "" {
		c.CallbackURL = strings.TrimRight(c.APIBaseURL, "/") + "/auth/" + c.Key + "/callback"
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// ParseScopes splits a comma or space separated scope list.
func ParseScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

type entry struct {
	config   Config
	provider Provider
}

// Registry maps provider keys to their configuration and implementation.
// It is populated at startup and read-only afterwards.
type Registry struct {
	entries map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a provider. p may be nil for a provider that is not enabled.
func (r *Registry) Register(cfg Config, p Provider) error {
	if cfg.Key == "" {
		return fmt.Errorf("provider key is required")
	}
	if _, exists := r.entries[cfg.Key]; exists {
		return fmt.Errorf("provider %q already registered", cfg.Key)
	}
	cfg = cfg.withDefaults()
	if cfg.Enabled() && p == nil {
		return fmt.Errorf("provider %q is enabled but has no implementation", cfg.Key)
	}
	r.entries[cfg.Key] = entry{config: cfg, provider: p}
	return nil
}

// Lookup returns the configuration for key.
func (r *Registry) Lookup(key string) (Config, error) {
	e, ok := r.entries[key]
	if !ok {
		return Config{}, apierror.NotFound(fmt.Sprintf("OAuth provider %q is not supported.", key), "PROVIDER_NOT_FOUND")
	}
	return e.config, nil
}

// EnsureEnabled fails with a 503 error when cfg has no client credentials.
func (r *Registry) EnsureEnabled(cfg Config) error {
	if !cfg.Enabled() {
		return apierror.ServiceUnavailable(cfg.DisplayName+" OAuth is not configured on the API.", "PROVIDER_DISABLED")
	}
	return nil
}

// Provider returns the enabled implementation for key.
func (r *Registry) Provider(key string) (Provider, Config, error) {
	cfg, err := r.Lookup(key)
	if err != nil {
		return nil, Config{}, err
	}
	if err := r.EnsureEnabled(cfg); err != nil {
		return nil, Config{}, err
	}
	return r.entries[key].provider, cfg, nil
}

// Keys returns the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnabledKeys returns the keys of providers with credentials configured.
func (r *Registry) EnabledKeys() []string {
	var keys []string
	for _, k := range r.Keys() {
		if r.entries[k].config.Enabled() {
			keys = append(keys, k)
		}
	}
	return keys
}
