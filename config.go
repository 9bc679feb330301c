package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/giantswarm/identity-adapter/internal/util"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/session"
	"github.com/giantswarm/identity-adapter/token"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Session store kinds accepted by SESSION_STORE.
const (
	SessionStoreCookie = "cookie"
	SessionStoreMemory = "memory"
	SessionStoreValkey = "valkey"
)

// ErrMissingJWTSecret is returned by Validate in production when no signing
// secret is configured.
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required in production")

// Config holds the service configuration.
// Structured using composition, one section per concern.
type Config struct {
	// Env is the deployment mode ("development", "production", "test")
	Env string `env:"APP_ENV" envDefault:"development"`

	// Port is the listen port
	Port int `env:"PORT" envDefault:"3000"`

	// APIPrefix is the path all routes are mounted under
	APIPrefix string `env:"API_PREFIX" envDefault:"/api"`

	// APIBaseURL is the public base URL of the service (default: http://localhost:<port>)
	APIBaseURL string `env:"API_BASE_URL"`

	// DatabasePath is the sqlite database file
	DatabasePath string `env:"DATABASE_PATH" envDefault:"identity.db"`

	// PublicPaths bypass authentication; relative to APIPrefix
	PublicPaths []string `env:"PUBLIC_PATHS" envSeparator:"," envDefault:"/auth,/health,/callback"`

	GitHub        GitHubConfig
	JWT           JWTConfig
	Refresh       RefreshConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Valkey        ValkeyConfig
	Observability ObservabilityConfig
}

// GitHubConfig holds the GitHub OAuth App settings
type GitHubConfig struct {
	ClientID     string `env:"GITHUB_CLIENT_ID"`
	ClientSecret string `env:"GITHUB_CLIENT_SECRET"`

	// CallbackURL defaults to APIBaseURL + APIPrefix + "/auth/github/callback"
	CallbackURL string `env:"GITHUB_CALLBACK_URL"`

	SuccessRedirect string `env:"GITHUB_SUCCESS_REDIRECT"`
	FailureRedirect string `env:"GITHUB_FAILURE_REDIRECT"`
	DefaultRedirect string `env:"GITHUB_DEFAULT_REDIRECT"`

	// AllowList is a comma-separated list of extra redirect origins
	AllowList string `env:"GITHUB_REDIRECT_ALLOW_LIST"`

	// StateMaxAgeMS bounds the login round trip in milliseconds (default: 5 minutes)
	StateMaxAgeMS int64 `env:"GITHUB_STATE_MAX_AGE_MS"`

	// Scope is a comma or space separated scope list
	Scope string `env:"GITHUB_SCOPE"`

	// APIURL overrides the GitHub REST API root (GitHub Enterprise)
	APIURL string `env:"GITHUB_API_URL"`
}

// JWTConfig holds access token settings
type JWTConfig struct {
	// Secret is the HS256 signing key. Required in production.
	Secret string `env:"JWT_SECRET"`

	ExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"1h"`

	// Issuer defaults to APIBaseURL
	Issuer string `env:"JWT_ISSUER"`

	CookieName     string `env:"JWT_COOKIE_NAME" envDefault:"broiler_token"`
	CookieDomain   string `env:"JWT_COOKIE_DOMAIN"`
	CookieMaxAgeMS int64  `env:"JWT_COOKIE_MAX_AGE_MS"`

	// SecureCookie forces the Secure attribute outside production
	SecureCookie bool `env:"JWT_SECURE_COOKIE"`
}

// RefreshConfig holds refresh token settings
type RefreshConfig struct {
	CookieName string        `env:"REFRESH_COOKIE_NAME" envDefault:"broiler_refresh"`
	TTL        time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
}

// SessionConfig holds the login session settings
type SessionConfig struct {
	Secret       string `env:"SESSION_SECRET"`
	CookieName   string `env:"SESSION_COOKIE_NAME" envDefault:"broiler.sid"`
	CookieDomain string `env:"SESSION_COOKIE_DOMAIN"`
	SecureCookie bool   `env:"SESSION_SECURE_COOKIE"`

	// Store selects the session store: cookie, memory or valkey
	Store string `env:"SESSION_STORE" envDefault:"cookie"`
}

// RateLimitConfig holds per-IP rate limiting for the /auth routes
type RateLimitConfig struct {
	// RPS is requests per second allowed per IP. Zero disables limiting.
	RPS int `env:"RATE_LIMIT_RPS" envDefault:"10"`

	Burst int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `env:"TRUST_PROXY"`

	TrustedProxyCount int `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`
}

// ValkeyConfig points at the optional valkey instance used for token
// revocation and server-side sessions. Empty Addr keeps both in memory.
type ValkeyConfig struct {
	Addr     string `env:"VALKEY_ADDR"`
	Password string `env:"VALKEY_PASSWORD"`
	DB       int    `env:"VALKEY_DB"`
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text"`

	// AuditEnabled turns on security audit events
	AuditEnabled bool `env:"AUDIT_LOG_ENABLED" envDefault:"true"`

	// TraceClientIPs adds client IP addresses to trace spans
	TraceClientIPs bool `env:"TRACE_CLIENT_IPS" envDefault:"false"`
}

// LoadConfig reads envFiles (missing files are ignored), then parses the
// environment. Variables already set win over file values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ParseConfig builds a Config from environ instead of the process
// environment.
func ParseConfig(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.APIPrefix != "" {
		c.APIPrefix = "/" + strings.Trim(c.APIPrefix, "/")
		if c.APIPrefix == "/" {
			c.APIPrefix = ""
		}
	}
	c.APIBaseURL = strings.TrimRight(util.FirstNonEmpty(c.APIBaseURL, "http://localhost:"+strconv.Itoa(c.Port)), "/")
	c.JWT.Issuer = util.FirstNonEmpty(c.JWT.Issuer, c.APIBaseURL)
	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = c.APIBaseURL + c.APIPrefix + "/auth/github/callback"
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate checks the configuration. A missing JWT secret is fatal in
// production and only logged otherwise; token issue then fails at request
// time.
func (c *Config) Validate(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if c.JWT.Secret == "" {
		if c.IsProduction() {
			return ErrMissingJWTSecret
		}
		logger.Warn("JWT_SECRET is not set; token issue is disabled")
	}

	switch c.Session.Store {
	case SessionStoreCookie:
		if c.Session.Secret == "" {
			if c.IsProduction() {
				return fmt.Errorf("SESSION_SECRET is required for the cookie session store in production")
			}
			logger.Warn("SESSION_SECRET is not set; using an insecure development secret")
		}
	case SessionStoreMemory:
	case SessionStoreValkey:
		if c.Valkey.Addr == "" {
			return fmt.Errorf("SESSION_STORE=valkey requires VALKEY_ADDR")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Session.Store)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.RateLimit.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"trusted_proxy_count", c.RateLimit.TrustedProxyCount)
	}
	if c.JWT.ExpiresIn <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}
	if c.Refresh.TTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be positive")
	}
	return nil
}

// secureCookies reports whether credential cookies carry Secure.
func (c *Config) secureCookies(flag bool) bool {
	return flag || c.IsProduction()
}

// GitHubProvider returns the provider registry entry for GitHub.
func (c *Config) GitHubProvider() providers.Config {
	var maxAge time.Duration
	if c.GitHub.StateMaxAgeMS > 0 {
		maxAge = time.Duration(c.GitHub.StateMaxAgeMS) * time.Millisecond
	}
	return providers.Config{
		Key:             "github",
		DisplayName:     "GitHub",
		ClientID:        c.GitHub.ClientID,
		ClientSecret:    c.GitHub.ClientSecret,
		CallbackURL:     c.GitHub.CallbackURL,
		Scopes:          providers.ParseScopes(c.GitHub.Scope),
		SuccessRedirect: c.GitHub.SuccessRedirect,
		FailureRedirect: c.GitHub.FailureRedirect,
		DefaultRedirect: c.GitHub.DefaultRedirect,
		AllowedOrigins:  strings.Split(c.GitHub.AllowList, ","),
		StateMaxAge:     maxAge,
		APIBaseURL:      c.APIBaseURL,
	}
}

// TokenConfig returns the access token issuer settings.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		Secret: c.JWT.Secret,
		Issuer: c.JWT.Issuer,
		Expiry: c.JWT.ExpiresIn,
	}
}

// AccessCookie returns the access token cookie. Its max age defaults to the
// token lifetime.
func (c *Config) AccessCookie() token.CookieConfig {
	maxAge := c.JWT.ExpiresIn
	if c.JWT.CookieMaxAgeMS > 0 {
		maxAge = time.Duration(c.JWT.CookieMaxAgeMS) * time.Millisecond
	}
	return token.CookieConfig{
		Name:   c.JWT.CookieName,
		Domain: c.JWT.CookieDomain,
		MaxAge: maxAge,
		Secure: c.secureCookies(c.JWT.SecureCookie),
	}
}

// RefreshCookie returns the refresh token cookie, scoped to the auth routes.
func (c *Config) RefreshCookie() token.CookieConfig {
	return token.CookieConfig{
		Name:   c.Refresh.CookieName,
		Domain: c.JWT.CookieDomain,
		Path:   c.APIPrefix + "/auth",
		MaxAge: c.Refresh.TTL,
		Secure: c.secureCookies(c.JWT.SecureCookie),
	}
}

// SessionCookie returns the login session cookie options.
func (c *Config) SessionCookie() session.CookieOptions {
	return session.CookieOptions{
		Name:   c.Session.CookieName,
		Domain: c.Session.CookieDomain,
		Secure: c.secureCookies(c.Session.SecureCookie),
	}
}

// PublicPathPrefixes returns PublicPaths mounted under APIPrefix.
func (c *Config) PublicPathPrefixes() []string {
	out := make([]string, 0, len(c.PublicPaths))
	for _, p := range c.PublicPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, c.APIPrefix+"/"+strings.TrimLeft(p, "/"))
	}
	return out
}
