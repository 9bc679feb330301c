package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/giantswarm/identity-adapter/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name().
const providerName = "github"

// DefaultAPIBaseURL is the GitHub REST API root.
const DefaultAPIBaseURL = "https://api.github.com"

// Provider implements providers.Provider for GitHub OAuth Apps.
type Provider struct {
	config         *oauth2.Config
	httpClient     *http.Client
	apiBaseURL     string
	requestTimeout time.Duration
}

// Config holds GitHub OAuth configuration.
type Config struct {
	// ClientID is the GitHub OAuth App client ID.
	ClientID string

	// ClientSecret is the GitHub OAuth App client secret.
	ClientSecret string

	// RedirectURL is the OAuth callback URL.
	RedirectURL string

	// Scopes are the requested scopes (defaults to ["read:user", "user:email"]).
	Scopes []string

	// Endpoint overrides the OAuth endpoints (defaults to github.com).
	Endpoint *oauth2.Endpoint

	// APIBaseURL overrides the REST API root (defaults to https://api.github.com).
	APIBaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for GitHub API calls (default: 30s).
	RequestTimeout time.Duration
}

// NewProvider creates a new GitHub OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := append([]string(nil), cfg.Scopes...)
	if len(scopes) == 0 {
		scopes = append(scopes, providers.DefaultGitHubScopes...)
	}

	endpoint := oauthgithub.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = providers.DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient:     httpClient,
		apiBaseURL:     apiBaseURL,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL returns the GitHub authorize URL for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades code for an access token and reads the user's profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*providers.Profile, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, p.requestTimeout)
	defer cancel()

	token, err := providers.ExchangeCode(ctx, p.config, p.httpClient, code)
	if err != nil {
		return nil, err
	}

	user, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	profile := user.toProfile()

	// Private emails are only listed by /user/emails.
	if profile.Email == "" {
		email, err := p.fetchPrimaryEmail(ctx, token.AccessToken)
		if err == nil {
			profile.Email = email
		}
	}

	return profile, nil
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

func (u githubUser) toProfile() *providers.Profile {
	id := strconv.FormatInt(u.ID, 10)

	username := firstNonEmpty(u.Login, u.Name, id)
	return &providers.Profile{
		Provider:    providerName,
		ID:          id,
		Username:    username,
		DisplayName: firstNonEmpty(u.Name, u.Login, id),
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		ProfileURL:  u.HTMLURL,
	}
}

func (p *Provider) fetchUser(ctx context.Context, accessToken string) (*githubUser, error) {
	var user githubUser
	if err := p.getJSON(ctx, accessToken, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user response has no id")
	}
	return &user, nil
}

// fetchPrimaryEmail returns the primary email, else the first listed one.
func (p *Provider) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, accessToken, "/user/emails", &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Email != "" {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Email != "" {
			return e.Email, nil
		}
	}
	return "", nil
}

func (p *Provider) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request failed with status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
