package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/identity-adapter/apierror"
	"github.com/giantswarm/identity-adapter/authn"
	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/internal/util"
	"github.com/giantswarm/identity-adapter/redirect"
	"github.com/giantswarm/identity-adapter/security"
	"github.com/giantswarm/identity-adapter/session"
	"github.com/giantswarm/identity-adapter/state"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/token"
)

const (
	// maxBodySize bounds JSON request bodies
	maxBodySize = 1 << 20

	// healthCheckTimeout bounds the database ping of GET /health
	healthCheckTimeout = 2 * time.Second

	// MetricsPath serves the Prometheus exposition, outside the API prefix
	MetricsPath = "/metrics"
)

// HandlerConfig configures the HTTP adapter
type HandlerConfig struct {
	// APIPrefix is the path all API routes are mounted under (e.g., "/api")
	APIPrefix string

	// APIBaseURL is the public base URL, used for HSTS decisions
	APIBaseURL string

	// Sessions carries pending logins between login and callback. Required.
	Sessions session.Store

	// Authenticator guards every non-public route under APIPrefix. Required.
	Authenticator *authn.Authenticator

	// AccessCookie and RefreshCookie deliver the issued credentials
	AccessCookie  token.CookieConfig
	RefreshCookie token.CookieConfig

	// IPExtractor resolves client addresses for audit and rate limiting
	IPExtractor security.IPExtractor

	// RateLimiter limits the /auth routes per client IP. Optional.
	RateLimiter *security.RateLimiter

	// Database is pinged by GET /health. Optional; without it the health
	// endpoint always reports disconnected.
	Database storage.Pinger

	// Instrumentation records HTTP metrics and serves /metrics. Optional.
	Instrumentation *instrumentation.Instrumentation

	// Now is the clock (default: time.Now)
	Now func() time.Time
}

// Handler is a thin HTTP adapter for the identity Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server  *Server
	config  HandlerConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	mux     *http.ServeMux
	root    http.Handler
	started time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, config HandlerConfig, logger *slog.Logger) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if config.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:  server,
		config:  config,
		logger:  logger,
		tracer:  tracenoop.NewTracerProvider().Tracer(""),
		started: config.Now(),
	}
	if config.Instrumentation != nil {
		h.tracer = config.Instrumentation.Tracer("http")
	}
	h.mux = h.routes()
	h.root = h.chain()
	return h, nil
}

func (h *Handler) routes() *http.ServeMux {
	p := h.config.APIPrefix
	mux := http.NewServeMux()

	mux.Handle("GET "+p+"/auth/{provider}", h.limited(h.ServeLogin))
	mux.Handle("GET "+p+"/auth/{provider}/callback", h.limited(h.ServeCallback))
	mux.Handle("GET "+p+"/auth/{provider}/failure", h.limited(h.ServeFailure))
	mux.Handle("POST "+p+"/auth/refresh", h.limited(h.ServeRefresh))
	mux.Handle("POST "+p+"/auth/logout", h.limited(h.ServeLogout))

	mux.HandleFunc("GET "+p+"/users/me", h.ServeCurrentUser)
	mux.HandleFunc("GET "+p+"/users/{id}", h.ServeUser)

	mux.HandleFunc("GET "+p+"/health", h.ServeHealth)
	mux.Handle("GET "+MetricsPath, h.config.Instrumentation.MetricsHandler())

	mux.HandleFunc("/", h.ServeNotFound)
	return mux
}

// limited applies the per-IP rate limit of the /auth routes.
func (h *Handler) limited(fn http.HandlerFunc) http.Handler {
	if h.config.RateLimiter == nil {
		return fn
	}
	return h.config.RateLimiter.Middleware(h.config.IPExtractor.ClientIP, fn)
}

// ServeHTTP implements http.Handler. The middleware order is request ID,
// security headers, CORS, metrics, then authentication of the API prefix.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) chain() http.Handler {
	protected := h.config.Authenticator.Middleware(h.mux)
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if util.HasPathPrefix(r.URL.Path, h.config.APIPrefix) {
			protected.ServeHTTP(w, r)
			return
		}
		h.mux.ServeHTTP(w, r)
	})
	return security.RequestIDMiddleware(
		security.SecurityHeadersMiddleware(h.config.APIBaseURL,
			corsMiddleware(h.metricsMiddleware(api))))
}

// corsMiddleware allows any origin and answers preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	metrics := h.config.Instrumentation.Metrics()
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "identity.http.request")
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Route patterns keep the endpoint label cardinality bounded.
		_, pattern := h.mux.Handler(r)
		if pattern == "" || pattern == "/" {
			pattern = "unmatched"
		}
		instrumentation.AddHTTPAttributes(span, r.Method, pattern, rec.status)
		metrics.RecordHTTPRequest(ctx, r.Method, pattern, rec.status, float64(time.Since(start).Milliseconds()))
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apierror.Write(w, h.logger, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

// loadSession returns the request's session. A session that cannot be read
// is replaced by an empty one so the login can restart.
func (h *Handler) loadSession(r *http.Request) *session.Session {
	sess, err := h.config.Sessions.Load(r)
	if err != nil || sess == nil {
		h.logger.Warn("Failed to load session", "error", err)
		return session.New()
	}
	return sess
}

func (h *Handler) saveSession(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	if err := h.config.Sessions.Save(w, r, sess); err != nil {
		return state.ErrNoSession.Wrap(err)
	}
	return nil
}

// ServeLogin handles GET /auth/{provider}: it records the CSRF state and
// redirects the browser to the provider.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.http.login")
	defer span.End()

	sess := h.loadSession(r)
	authURL, err := h.server.BeginLogin(ctx, r.PathValue("provider"), redirect.FromQuery(r.URL.Query()), sess)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	if err := h.saveSession(w, r, sess); err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles GET /auth/{provider}/callback
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.http.callback")
	defer span.End()

	providerKey := r.PathValue("provider")
	q := r.URL.Query()
	params := CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	sess := h.loadSession(r)
	result, err := h.server.CompleteLogin(ctx, providerKey, params, sess, h.config.IPExtractor.ClientInfo(r))

	// The state slot is gone whatever the outcome.
	if saveErr := h.saveSession(w, r, sess); saveErr != nil {
		h.logger.Warn("Failed to persist session after callback", "error", saveErr)
	}

	if err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, ErrLoginFailed) {
			http.Redirect(w, r, h.config.APIPrefix+"/auth/"+providerKey+"/failure", http.StatusFound)
			return
		}
		h.writeError(w, err)
		return
	}

	h.config.AccessCookie.Set(w, result.AccessToken)
	h.config.RefreshCookie.Set(w, result.RefreshToken)
	instrumentation.SetSpanSuccess(span)

	if result.Redirect != "" {
		http.Redirect(w, r, result.Redirect, http.StatusFound)
		return
	}

	h.writeJSON(w, http.StatusOK, LoginResponse{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         SerializeUser(result.Authorization.User, result.Claims.Scopes, true),
		Groups:       SerializeGroups(result.Authorization.Groups),
		Scopes:       SerializeScopes(result.Authorization.Scopes),
	})
}

// ServeFailure handles GET /auth/{provider}/failure
func (h *Handler) ServeFailure(w http.ResponseWriter, r *http.Request) {
	target, err := h.server.FailureTarget(r.PathValue("provider"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// refreshValue returns the presented refresh token: the cookie first, then
// the JSON body.
func (h *Handler) refreshValue(r *http.Request) (string, error) {
	if v := h.config.RefreshCookie.Value(r); v != "" {
		return v, nil
	}
	if r.Body == nil {
		return "", nil
	}

	var req RefreshRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", apierror.BadRequest("Request body must be valid JSON.", "INVALID_REQUEST_BODY").Wrap(err)
	}
	return req.RefreshToken, nil
}

// ServeRefresh handles POST /auth/refresh
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.http.refresh")
	defer span.End()

	raw, err := h.refreshValue(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.server.Refresh(ctx, raw, h.config.IPExtractor.ClientInfo(r))
	if err != nil {
		instrumentation.RecordError(span, err)
		if apierror.IsKind(err, apierror.KindUnauthorized) {
			h.config.RefreshCookie.Clear(w)
		}
		h.writeError(w, err)
		return
	}

	h.config.AccessCookie.Set(w, result.AccessToken)
	h.config.RefreshCookie.Set(w, result.RefreshToken)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, RefreshResponse{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

// ServeLogout handles POST /auth/logout. It always answers 204.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.http.logout")
	defer span.End()

	accessToken := authn.ExtractToken(r, h.config.AccessCookie)
	refreshToken, err := h.refreshValue(r)
	if err != nil {
		h.logger.Debug("Ignoring unreadable logout body", "error", err)
	}

	h.server.Logout(ctx, accessToken, refreshToken, h.config.IPExtractor.ClientInfo(r))

	h.config.AccessCookie.Clear(w)
	h.config.RefreshCookie.Clear(w)
	if sess, err := h.config.Sessions.Load(r); err == nil {
		if err := h.config.Sessions.Destroy(w, r, sess); err != nil {
			h.logger.Warn("Failed to destroy session on logout", "error", err)
		}
	}

	instrumentation.SetSpanSuccess(span)
	w.WriteHeader(http.StatusNoContent)
}

// ServeCurrentUser handles GET /users/me
func (h *Handler) ServeCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, authn.ErrAuthenticationRequired)
		return
	}

	user, err := h.server.GetUser(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SerializeUser(user, claims.Scopes, true))
}

// ServeUser handles GET /users/{id}. Fields beyond the base set require
// users:read or users:read.email unless the caller is the user.
func (h *Handler) ServeUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, authn.ErrAuthenticationRequired)
		return
	}

	id := r.PathValue("id")
	user, err := h.server.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SerializeUser(user, claims.Scopes, claims.Subject == user.ID))
}

// ServeHealth handles GET /health
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	healthy := false
	if h.config.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.config.Database.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Error("Database health check failed", "error", err)
		} else {
			healthy = true
		}
	}

	now := h.config.Now()
	resp := HealthResponse{
		Status:    healthStatusUnhealthy,
		Timestamp: now.UTC(),
		Service:   HealthServiceName,
		Database:  healthDatabaseUnavailable,
		Uptime:    now.Sub(h.started).Seconds(),
	}
	status := http.StatusServiceUnavailable
	if healthy {
		resp.Status = healthStatusHealthy
		resp.Database = healthDatabaseConnected
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// ServeNotFound answers every unmatched route
func (h *Handler) ServeNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, errRouteNotFound(r.URL.RequestURI()))
}
