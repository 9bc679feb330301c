package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/identity-adapter/authn"
	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/providers/github"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/session"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/token"
)

// developmentSessionSecret seals cookie sessions when SESSION_SECRET is
// unset outside production. Validate refuses it in production.
const developmentSessionSecret = "identity-adapter-development-session-secret"

// Store is the persistent backend of the service
type Store interface {
	storage.UserStore
	storage.GraphStore
	storage.RefreshTokenStore
	storage.Pinger
}

// Dependencies are the runtime backends wired into a Service
type Dependencies struct {
	// Store persists users, the group graph and refresh tokens. Required.
	Store Store

	// Revocations records revoked access tokens. Optional.
	Revocations storage.RevocationStore

	// SessionBackend keeps server-side sessions when SESSION_STORE is
	// valkey. Ignored for the cookie and memory stores.
	SessionBackend session.Backend

	// GitHub overrides the GitHub provider implementation. When nil and
	// credentials are configured, the x/oauth2 based provider is built.
	GitHub providers.Provider

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger

	// Now is the clock shared by the flows and the token issuer
	Now func() time.Time
}

// Service is the assembled HTTP service
type Service struct {
	Server      *Server
	Handler     *Handler
	RateLimiter *security.RateLimiter
}

// NewService wires cfg and deps into a Handler.
func NewService(cfg *Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	registry, err := newRegistry(cfg, deps.GitHub)
	if err != nil {
		return nil, err
	}

	tokenCfg := cfg.TokenConfig()
	tokenCfg.Now = deps.Now
	issuer, err := token.NewIssuer(tokenCfg)
	if errors.Is(err, token.ErrConfiguration) {
		// Token issue fails at request time; Validate rejects this in production.
		issuer = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	server, err := NewServer(registry, issuer, Stores{
		Users:         deps.Store,
		Graph:         deps.Store,
		RefreshTokens: deps.Store,
		Revocations:   deps.Revocations,
	}, &ServerConfig{Now: deps.Now}, logger)
	if err != nil {
		return nil, err
	}

	auditor := security.NewAuditor(logger, cfg.Observability.AuditEnabled)
	server.SetAuditor(auditor)
	server.SetInstrumentation(deps.Instrumentation)

	sessions, err := newSessionStore(cfg, deps.SessionBackend, logger)
	if err != nil {
		return nil, err
	}

	ipExtractor := security.IPExtractor{
		TrustProxy:        cfg.RateLimit.TrustProxy,
		TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
	}

	authenticator := authn.New(authn.Config{
		Verifier:        issuer,
		Revocations:     deps.Revocations,
		Cookie:          cfg.AccessCookie(),
		PublicPaths:     cfg.PublicPathPrefixes(),
		IPExtractor:     ipExtractor,
		Auditor:         auditor,
		Instrumentation: deps.Instrumentation,
		Logger:          logger,
	})

	var limiter *security.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = security.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
		limiter.SetAuditor(auditor)
		metrics := deps.Instrumentation.Metrics()
		limiter.SetRejectHook(func(r *http.Request) {
			metrics.RecordRateLimitExceeded(r.Context(), "ip")
		})
		if deps.Instrumentation != nil {
			if err := deps.Instrumentation.RegisterRateLimiterCallback(func() int64 { return int64(limiter.Len()) }); err != nil {
				logger.Warn("Failed to register rate limiter gauge", "error", err)
			}
		}
	}

	handler, err := NewHandler(server, HandlerConfig{
		APIPrefix:       cfg.APIPrefix,
		APIBaseURL:      cfg.APIBaseURL,
		Sessions:        sessions,
		Authenticator:   authenticator,
		AccessCookie:    cfg.AccessCookie(),
		RefreshCookie:   cfg.RefreshCookie(),
		IPExtractor:     ipExtractor,
		RateLimiter:     limiter,
		Database:        deps.Store,
		Instrumentation: deps.Instrumentation,
		Now:             deps.Now,
	}, logger)
	if err != nil {
		if limiter != nil {
			limiter.Stop()
		}
		return nil, err
	}

	return &Service{Server: server, Handler: handler, RateLimiter: limiter}, nil
}

// Close releases background workers
func (s *Service) Close() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}

func newRegistry(cfg *Config, override providers.Provider) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	ghCfg := cfg.GitHubProvider()

	var gh providers.Provider
	if ghCfg.Enabled() {
		gh = override
		if gh == nil {
			p, err := github.NewProvider(&github.Config{
				ClientID:     ghCfg.ClientID,
				ClientSecret: ghCfg.ClientSecret,
				RedirectURL:  ghCfg.CallbackURL,
				Scopes:       ghCfg.Scopes,
				APIBaseURL:   cfg.GitHub.APIURL,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create GitHub provider: %w", err)
			}
			gh = p
		}
	}

	if err := registry.Register(ghCfg, gh); err != nil {
		return nil, err
	}
	return registry, nil
}

func newSessionStore(cfg *Config, backend session.Backend, logger *slog.Logger) (session.Store, error) {
	opts := cfg.SessionCookie()
	switch cfg.Session.Store {
	case SessionStoreMemory:
		return session.NewMemoryStore(opts, logger), nil
	case SessionStoreValkey:
		if backend == nil {
			return nil, fmt.Errorf("SESSION_STORE=valkey requires a session backend")
		}
		return session.NewServerStore(backend, opts, logger), nil
	default:
		secret := cfg.Session.Secret
		if secret == "" {
			secret = developmentSessionSecret
		}
		return session.NewCookieStore(secret, opts)
	}
}
