package authn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/token"
)

// Rejection errors.
var (
	ErrAuthenticationRequired = apierror.Unauthorized("Authentication token is required to access this resource.", "AUTHENTICATION_REQUIRED")
	ErrTokenRevoked           = apierror.Unauthorized("Token has been revoked", "TOKEN_REVOKED")
)

// Verifier checks raw access tokens.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

type contextKey int

const (
	claimsKey contextKey = iota
	anonymousKey
)

// Config configures an Authenticator.
type Config struct {
	// Verifier checks token signatures and validity windows. A nil Verifier
	// rejects every credential with token.ErrConfiguration.
	Verifier Verifier

	// Revocations is consulted for the token's jti. Optional.
	Revocations storage.RevocationStore

	// Cookie is read when no Authorization header is present.
	Cookie token.CookieConfig

	// PublicPaths bypass authentication, matched on whole path segments.
	PublicPaths []string

	IPExtractor     security.IPExtractor
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Authenticator is the request authentication middleware.
type Authenticator struct {
	cfg         Config
	publicPaths []string
	logger      *slog.Logger
}

// New creates an Authenticator.
func New(cfg Config) *Authenticator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths := make([]string, 0, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		if p = normalizePath(strings.TrimSpace(p)); p != "" {
			paths = append(paths, p)
		}
	}
	return &Authenticator{cfg: cfg, publicPaths: paths, logger: logger}
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// IsPublic reports whether path is a configured public path or lies below one.
func (a *Authenticator) IsPublic(path string) bool {
	path = normalizePath(path)
	for _, p := range a.publicPaths {
		if path == p || strings.HasPrefix(path, p+"/") || p == "/" {
			return true
		}
	}
	return false
}

// AllowAnonymous marks r so the next authentication check lets it through
// without a credential. The mark is consumed by that check.
func AllowAnonymous(r *http.Request) *http.Request {
	flag := &atomic.Bool{}
	flag.Store(true)
	return r.WithContext(context.WithValue(r.Context(), anonymousKey, flag))
}

func consumeAnonymous(r *http.Request) bool {
	flag, ok := r.Context().Value(anonymousKey).(*atomic.Bool)
	return ok && flag.CompareAndSwap(true, false)
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok && claims != nil
}

// ExtractToken returns the bearer token of r, falling back to cookie.
func ExtractToken(r *http.Request, cookie token.CookieConfig) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); raw != "" {
			return raw
		}
	}
	return cookie.Value(r)
}

// Authenticate verifies the request's credential and checks its revocation.
func (a *Authenticator) Authenticate(r *http.Request) (*token.Claims, error) {
	raw := ExtractToken(r, a.cfg.Cookie)
	if raw == "" {
		return nil, ErrAuthenticationRequired
	}

	if a.cfg.Verifier == nil {
		return nil, token.ErrConfiguration
	}
	claims, err := a.cfg.Verifier.Verify(raw)
	if err != nil {
		return nil, err
	}

	// Tokens without a jti cannot be revoked individually.
	if a.cfg.Revocations != nil && claims.ID != "" {
		revoked, err := a.cfg.Revocations.IsRevoked(r.Context(), storage.RevokedTokenKey(claims.ID))
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Middleware rejects requests without a valid credential and attaches the
// verified claims to the request context. OPTIONS requests, public paths and
// requests marked with AllowAnonymous pass through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || consumeAnonymous(r) || a.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		claims, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}

		a.logger.Debug("Authenticated request",
			"user_id", claims.Subject,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	identifier := apierror.IdentifierGeneric
	if apiErr, ok := apierror.As(err); ok {
		identifier = apiErr.Identifier
	}

	a.cfg.Instrumentation.Metrics().RecordAuthRejection(r.Context(), identifier)
	if apierror.IsKind(err, apierror.KindUnauthorized) {
		a.cfg.Auditor.LogAuthFailure(a.cfg.IPExtractor.ClientIP(r), r.URL.Path, identifier)
	}

	apierror.Write(w, a.logger, err)
}
