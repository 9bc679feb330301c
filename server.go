package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/authz"
	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/internal/util"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/redirect"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/state"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/token"
)

// Token issue reasons recorded in metrics
const (
	issueReasonLogin   = "login"
	issueReasonRefresh = "refresh"
)

// maxProviderErrorLength bounds the provider's error parameter in audit logs.
const maxProviderErrorLength = 64

// Server implements the login, refresh and logout flows (transport-agnostic).
// It coordinates the provider registry, the state manager, storage and the
// token issuer.
type Server struct {
	registry        *providers.Registry
	states          *state.Manager
	users           storage.UserStore
	resolver        *authz.Resolver
	issuer          *token.Issuer
	refreshTokens   storage.RefreshTokenStore
	revocations     storage.RevocationStore
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	logger          *slog.Logger
	config          *ServerConfig
}

// Stores groups the storage backends a Server needs.
type Stores struct {
	// Users persists provider identities
	Users storage.UserStore

	// Graph is the group graph read by the authorization resolver
	Graph authz.GraphSource

	// RefreshTokens persists refresh tokens
	RefreshTokens storage.RefreshTokenStore

	// Revocations records revoked access tokens and redeemed OAuth states.
	// Optional; without it logout cannot revoke access tokens before they
	// expire and a replayed cookie session can redeem a state again.
	Revocations storage.RevocationStore
}

// ServerConfig holds flow settings
type ServerConfig struct {
	// Now is the clock (default: time.Now)
	Now func() time.Time
}

// NewServer creates a new Server. issuer may be nil, in which case every
// token issue fails with token.ErrConfiguration.
func NewServer(registry *providers.Registry, issuer *token.Issuer, stores Stores, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if stores.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if stores.Graph == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if stores.RefreshTokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	stateOpts := []state.Option{state.WithClock(config.Now)}
	if stores.Revocations != nil {
		stateOpts = append(stateOpts, state.WithUsedStates(stores.Revocations))
	}

	return &Server{
		registry:      registry,
		states:        state.NewManager(stateOpts...),
		users:         stores.Users,
		resolver:      authz.NewResolver(stores.Graph, logger),
		issuer:        issuer,
		refreshTokens: stores.RefreshTokens,
		revocations:   stores.Revocations,
		tracer:        tracenoop.NewTracerProvider().Tracer(""),
		logger:        logger,
		config:        config,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetInstrumentation sets the instrumentation for metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// Registry returns the provider registry
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Issuer returns the token issuer, which may be nil
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

// BeginLogin validates the requested redirect, records a fresh state in sess
// and returns the provider's authorize URL.
func (s *Server) BeginLogin(ctx context.Context, providerKey, rawRedirect string, sess state.Session) (string, error) {
	ctx, span := s.tracer.Start(ctx, "identity.begin_login")
	defer span.End()
	instrumentation.AddProviderAttributes(span, providerKey, "authorize")

	provider, cfg, err := s.registry.Provider(providerKey)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	target, err := redirect.Resolve(rawRedirect, cfg.RedirectPolicy())
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}
	instrumentation.AddRedirectAttributes(span, target != "")

	stateValue, err := s.states.Begin(sess, cfg.Key, target)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	s.instrumentation.Metrics().RecordLoginStarted(ctx, cfg.Key)
	instrumentation.SetSpanSuccess(span)
	return provider.AuthCodeURL(stateValue), nil
}

// CallbackParams are the query parameters the provider sends back
type CallbackParams struct {
	Code  string
	State string

	// Error is set when the user denied access or the provider failed
	Error string
}

// LoginResult is the outcome of a completed login
type LoginResult struct {
	Authorization *authz.Authorization
	AccessToken   string
	Claims        *token.Claims
	RefreshToken  string

	// Redirect is the browser target including "?token=". Empty means the
	// result is returned as JSON.
	Redirect string
}

// CompleteLogin finishes a provider callback: it redeems the state, exchanges
// the code, upserts the user, resolves entitlements and issues the access and
// refresh tokens.
//
// A provider-side denial or a failed exchange returns ErrLoginFailed, which
// the caller turns into a redirect to the failure route.
func (s *Server) CompleteLogin(ctx context.Context, providerKey string, params CallbackParams, sess state.Session, client security.ClientInfo) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.complete_login")
	defer span.End()
	if s.instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, client.IPAddress)
	}

	provider, cfg, err := s.registry.Provider(providerKey)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if params.Error != "" {
		s.states.Clear(sess, cfg.Key)
		s.failLogin(ctx, cfg.Key, client.IPAddress, "provider_error: "+util.SafeTruncate(params.Error, maxProviderErrorLength))
		instrumentation.SetSpanError(span, "provider returned error")
		return nil, ErrLoginFailed
	}

	target, err := s.states.Consume(ctx, sess, cfg.Key, params.State, cfg.StateMaxAge)
	if err != nil {
		identifier := state.ErrStateMissing.Identifier
		if apiErr, ok := apierror.As(err); ok {
			identifier = apiErr.Identifier
		}
		s.instrumentation.Metrics().RecordStateFailure(ctx, cfg.Key, identifier)
		s.auditor.LogStateFailure(cfg.Key, client.IPAddress, identifier)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if params.Code == "" {
		s.failLogin(ctx, cfg.Key, client.IPAddress, "missing_code")
		instrumentation.SetSpanError(span, "missing code")
		return nil, ErrMissingCode
	}

	exchangeStart := time.Now()
	profile, err := provider.Exchange(ctx, params.Code)
	exchangeStatus := http.StatusOK
	if err != nil {
		exchangeStatus = http.StatusBadGateway
	}
	s.instrumentation.Metrics().RecordProviderAPICall(ctx, cfg.Key, "exchange", exchangeStatus, float64(time.Since(exchangeStart).Milliseconds()), err)
	if err != nil {
		s.logger.Warn("Provider code exchange failed", "provider", cfg.Key, "error", err)
		s.failLogin(ctx, cfg.Key, client.IPAddress, "exchange_failed")
		instrumentation.RecordError(span, err)
		return nil, ErrLoginFailed.Wrap(err)
	}
	if profile.Provider == "" {
		profile.Provider = cfg.Key
	}

	user, err := s.users.UpsertUser(ctx, profile)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	auth, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddLoginAttributes(span, cfg.Key, user.ID)
	instrumentation.AddEntitlementAttributes(span, auth.GroupSlugs(), auth.ScopeKeys())

	accessToken, claims, err := s.issuer.Issue(auth)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	refreshToken, _, err := s.refreshTokens.CreateRefreshToken(ctx, user.ID, cfg.Key, client)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	if target == "" {
		target = cfg.SuccessRedirect
	}
	if target != "" {
		target, err = withToken(target, accessToken)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, err
		}
	}

	s.instrumentation.Metrics().RecordLoginCompleted(ctx, cfg.Key, true)
	s.instrumentation.Metrics().RecordTokenIssued(ctx, cfg.Key, issueReasonLogin)
	s.auditor.LogLoginSucceeded(user.ID, cfg.Key, client.IPAddress, auth.ScopeKeys())
	s.logger.Info("Login completed", "provider", cfg.Key, "groups", len(auth.Groups), "scopes", len(auth.Scopes))
	instrumentation.SetSpanSuccess(span)

	return &LoginResult{
		Authorization: auth,
		AccessToken:   accessToken,
		Claims:        claims,
		RefreshToken:  refreshToken,
		Redirect:      target,
	}, nil
}

func (s *Server) failLogin(ctx context.Context, provider, ip, reason string) {
	s.instrumentation.Metrics().RecordLoginCompleted(ctx, provider, false)
	s.auditor.LogLoginFailed(provider, ip, reason)
}

// FailureTarget returns where a failed login of providerKey is sent. An
// empty target means the failure is returned as a 401 body.
func (s *Server) FailureTarget(providerKey string) (string, error) {
	cfg, err := s.registry.Lookup(providerKey)
	if err != nil {
		return "", err
	}
	if cfg.FailureRedirect != "" {
		return cfg.FailureRedirect, nil
	}
	return "", errOAuthFailed(cfg.DisplayName)
}

// RefreshResult is the outcome of a successful refresh
type RefreshResult struct {
	Authorization *authz.Authorization
	AccessToken   string
	Claims        *token.Claims
	RefreshToken  string
}

// Refresh rotates the refresh token raw and issues a new access token with
// freshly resolved entitlements.
//
// SECURITY: presenting a token that was already rotated or revoked is
// treated as theft. Every refresh token of the user is revoked.
func (s *Server) Refresh(ctx context.Context, raw string, client security.ClientInfo) (*RefreshResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.refresh")
	defer span.End()
	instrumentation.AddTokenType(span, "refresh_token")
	if s.instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, client.IPAddress)
	}

	if raw == "" {
		return nil, ErrRefreshTokenRequired
	}

	existing, err := s.refreshTokens.FindRefreshTokenByHash(ctx, security.HashToken(raw))
	if errors.Is(err, storage.ErrNotFound) {
		instrumentation.SetSpanError(span, "unknown refresh token")
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if existing.IsRevoked() {
		revoked, revokeErr := s.refreshTokens.RevokeAllForUser(ctx, existing.UserID)
		if revokeErr != nil {
			s.logger.Error("Failed to revoke refresh token family", "error", revokeErr)
		}
		s.instrumentation.Metrics().RecordRefreshReuseDetected(ctx, existing.Provider)
		s.instrumentation.Metrics().RecordTokenRevocation(ctx, "refresh_token", revoked)
		s.auditor.LogRefreshReuse(existing.UserID, existing.Provider, client.IPAddress, revoked)
		instrumentation.AddRefreshAttributes(span, false, true)
		instrumentation.SetSpanError(span, "refresh token reuse")
		return nil, ErrInvalidRefreshToken
	}

	if existing.IsExpired(s.config.Now()) {
		instrumentation.SetSpanError(span, "refresh token expired")
		return nil, ErrRefreshTokenExpired
	}

	// Everything that can fail runs before the rotation commits, so a failed
	// refresh leaves the presented token usable.
	auth, err := s.resolver.Resolve(ctx, existing.UserID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	accessToken, claims, err := s.issuer.Issue(auth)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	rotated, _, err := s.refreshTokens.RotateRefreshToken(ctx, existing, client)
	if errors.Is(err, storage.ErrTokenAlreadyRotated) {
		// Lost the race against a concurrent rotation of the same token.
		s.instrumentation.Metrics().RecordRefreshReuseDetected(ctx, existing.Provider)
		s.auditor.LogRefreshReuse(existing.UserID, existing.Provider, client.IPAddress, 0)
		instrumentation.AddRefreshAttributes(span, false, true)
		instrumentation.SetSpanError(span, "refresh token already rotated")
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	s.instrumentation.Metrics().RecordRefreshRotated(ctx, existing.Provider)
	s.instrumentation.Metrics().RecordTokenIssued(ctx, existing.Provider, issueReasonRefresh)
	s.auditor.LogRefreshRotated(existing.UserID, existing.Provider, client.IPAddress)
	instrumentation.AddRefreshAttributes(span, true, false)
	instrumentation.AddEntitlementAttributes(span, auth.GroupSlugs(), auth.ScopeKeys())
	instrumentation.SetSpanSuccess(span)

	return &RefreshResult{
		Authorization: auth,
		AccessToken:   accessToken,
		Claims:        claims,
		RefreshToken:  rotated,
	}, nil
}

// Logout revokes the presented access token until its expiry and the
// presented refresh token. Either value may be empty. Failures are logged
// and never returned, so logout always completes for the client.
func (s *Server) Logout(ctx context.Context, accessToken, refreshToken string, client security.ClientInfo) {
	ctx, span := s.tracer.Start(ctx, "identity.logout")
	defer span.End()

	var userID string

	if accessToken != "" {
		if claims, err := s.issuer.Verify(accessToken); err == nil {
			userID = claims.Subject
			s.revokeAccessToken(ctx, claims, client)
		}
	}

	if refreshToken != "" {
		existing, err := s.refreshTokens.FindRefreshTokenByHash(ctx, security.HashToken(refreshToken))
		switch {
		case err == nil:
			if userID == "" {
				userID = existing.UserID
			}
			if err := s.refreshTokens.RevokeRefreshToken(ctx, existing.ID); err != nil {
				s.logger.Warn("Failed to revoke refresh token on logout", "error", err)
			} else {
				s.instrumentation.Metrics().RecordTokenRevocation(ctx, "refresh_token", 1)
				s.auditor.LogTokenRevoked(existing.UserID, client.IPAddress, "refresh_token")
			}
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("Failed to look up refresh token on logout", "error", err)
		}
	}

	s.auditor.LogLogout(userID, client.IPAddress)
	instrumentation.SetSpanSuccess(span)
}

func (s *Server) revokeAccessToken(ctx context.Context, claims *token.Claims, client security.ClientInfo) {
	if s.revocations == nil || claims.ID == "" {
		return
	}
	ttl := claims.RemainingLifetime(s.config.Now())
	if ttl <= 0 {
		return
	}
	if err := s.revocations.Revoke(ctx, storage.RevokedTokenKey(claims.ID), ttl); err != nil {
		s.logger.Warn("Failed to revoke access token on logout", "error", err)
		return
	}
	s.instrumentation.Metrics().RecordTokenRevocation(ctx, "access_token", 1)
	s.auditor.LogTokenRevoked(claims.Subject, client.IPAddress, "access_token")
}

// GetUser returns the user with id, or authz.ErrUserNotFound.
func (s *Server) GetUser(ctx context.Context, id string) (*storage.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, authz.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// withToken appends "token=<accessToken>" to target's query.
func withToken(target, accessToken string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid redirect target: %w", err)
	}
	q := u.Query()
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
