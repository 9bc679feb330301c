package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/giantswarm/identity-adapter/instrumentation"
	"github.com/giantswarm/identity-adapter/internal/testutil"
	"github.com/giantswarm/identity-adapter/providers"
	"github.com/giantswarm/identity-adapter/providers/mock"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/storage/memory"
)

type testService struct {
	service  *Service
	handler  *Handler
	store    *memory.Store
	provider *mock.MockProvider
}

func testEnviron(overrides map[string]string) map[string]string {
	environ := map[string]string{
		"API_BASE_URL":         "https://api.example.com",
		"GITHUB_CLIENT_ID":     "client-id",
		"GITHUB_CLIENT_SECRET": "client-secret",
		"JWT_SECRET":           testSecret,
		"SESSION_SECRET":       "test-session-secret",
	}
	for k, v := range overrides {
		environ[k] = v
	}
	return environ
}

func setupTestService(t *testing.T, overrides map[string]string, mutate ...func(*Dependencies)) *testService {
	t.Helper()

	cfg, err := ParseConfig(testEnviron(overrides))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	store := memory.New()
	t.Cleanup(store.Stop)
	provider := mock.NewMockProvider()

	deps := Dependencies{
		Store:       store,
		Revocations: store,
		GitHub:      provider,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	svc, err := NewService(cfg, deps)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(svc.Close)

	return &testService{service: svc, handler: svc.Handler, store: store, provider: provider}
}

// callback runs the browser login through the handler and returns the
// callback response.
func (ts *testService) callback(t *testing.T, loginURL string) *httptest.ResponseRecorder {
	t.Helper()

	rr := testutil.NewHTTPRequest(http.MethodGet, loginURL).Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusFound)

	sessionCookie := testutil.CookieByName(rr, "broiler.sid")
	if sessionCookie == nil {
		t.Fatal("login should set the session cookie")
	}
	stateValue := stateFrom(t, rr.Header().Get("Location"))

	return testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github/callback?code=abc&state="+url.QueryEscape(stateValue)).
		WithCookies(sessionCookie).
		Do(ts.handler)
}

func (ts *testService) login(t *testing.T) (*LoginResponse, *httptest.ResponseRecorder) {
	t.Helper()

	rr := ts.callback(t, "/api/auth/github")
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp LoginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return &resp, rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (identifier, message string) {
	t.Helper()
	var body struct {
		Identifier string `json:"identifier"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Identifier, body.Message
}

func TestNewHandler_Validation(t *testing.T) {
	ts := setupTestService(t, nil)

	if _, err := NewHandler(nil, HandlerConfig{}, nil); err == nil {
		t.Error("NewHandler() should require a server")
	}
	if _, err := NewHandler(ts.service.Server, HandlerConfig{}, nil); err == nil {
		t.Error("NewHandler() should require a session store")
	}
}

func TestHandler_Login_RedirectsToProvider(t *testing.T) {
	ts := setupTestService(t, nil)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusFound)

	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "https://github.example.com/login/oauth/authorize") {
		t.Errorf("Location = %q", location)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry a request ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("response should carry security headers")
	}
}

func TestHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		overrides  map[string]string
		url        string
		wantStatus int
		identifier string
	}{
		{name: "unknown provider", url: "/api/auth/gitlab", wantStatus: http.StatusNotFound, identifier: "PROVIDER_NOT_FOUND"},
		{name: "disabled provider", overrides: map[string]string{"GITHUB_CLIENT_SECRET": ""}, url: "/api/auth/github", wantStatus: http.StatusServiceUnavailable, identifier: "PROVIDER_DISABLED"},
		{name: "redirect not allowed", url: "/api/auth/github?redirect=https://evil.example.net/", wantStatus: http.StatusBadRequest, identifier: "REDIRECT_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestService(t, tt.overrides)
			rr := testutil.NewHTTPRequest(http.MethodGet, tt.url).Do(ts.handler)
			testutil.AssertStatus(t, rr, tt.wantStatus)
			if id, _ := decodeError(t, rr); id != tt.identifier {
				t.Errorf("identifier = %q, want %q", id, tt.identifier)
			}
		})
	}
}

func TestHandler_Callback_JSONEntitlements(t *testing.T) {
	ts := setupTestService(t, nil)
	ctx := context.Background()

	first, _ := ts.login(t)
	editors, err := ts.store.CreateGroup(ctx, "editors", "Editors", "")
	testutil.AssertNoError(t, err)
	write, err := ts.store.CreateScope(ctx, "posts:write", "Publish posts")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, ts.store.AddUserToGroup(ctx, first.User.ID, editors.ID))
	testutil.AssertNoError(t, ts.store.GrantScope(ctx, editors.ID, write.ID))

	resp, _ := ts.login(t)
	wantGroups := []GroupResponse{{ID: editors.ID, Slug: "editors", Name: "Editors"}}
	if !reflect.DeepEqual(resp.Groups, wantGroups) {
		t.Errorf("groups = %+v, want %+v", resp.Groups, wantGroups)
	}
	wantScopes := []ScopeResponse{{ID: write.ID, Key: "posts:write", Description: "Publish posts"}}
	if !reflect.DeepEqual(resp.Scopes, wantScopes) {
		t.Errorf("scopes = %+v, want %+v", resp.Scopes, wantScopes)
	}
}

func TestHandler_Callback_JSON(t *testing.T) {
	ts := setupTestService(t, nil)

	resp, rr := ts.login(t)
	if resp.Token == "" || resp.RefreshToken == "" {
		t.Fatalf("login response should carry both tokens: %+v", resp)
	}
	if resp.User == nil || resp.User.Username != "octocat" || resp.User.Email != "octocat@example.com" {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.Groups == nil || resp.Scopes == nil {
		t.Error("groups and scopes should be present even when empty")
	}

	access := testutil.CookieByName(rr, "broiler_token")
	if access == nil || access.Value != resp.Token || !access.HttpOnly {
		t.Errorf("access cookie = %+v", access)
	}
	refresh := testutil.CookieByName(rr, "broiler_refresh")
	if refresh == nil || refresh.Value != resp.RefreshToken || refresh.Path != "/api/auth" {
		t.Errorf("refresh cookie = %+v", refresh)
	}
}

func TestHandler_Callback_Redirect(t *testing.T) {
	ts := setupTestService(t, map[string]string{
		"GITHUB_SUCCESS_REDIRECT": "https://app.example.com/welcome",
	})

	rr := ts.callback(t, "/api/auth/github?redirect=/projects")
	testutil.AssertStatus(t, rr, http.StatusFound)

	target, err := url.Parse(rr.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	if target.Host != "app.example.com" || target.Path != "/projects" {
		t.Errorf("Location = %q", target)
	}
	if target.Query().Get("token") == "" {
		t.Error("redirect should carry the access token")
	}
}

func TestHandler_Callback_ReplayedState(t *testing.T) {
	ts := setupTestService(t, nil)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
	sessionCookie := testutil.CookieByName(rr, "broiler.sid")
	callbackURL := "/api/auth/github/callback?code=abc&state=" + url.QueryEscape(stateFrom(t, rr.Header().Get("Location")))

	first := testutil.NewHTTPRequest(http.MethodGet, callbackURL).WithCookies(sessionCookie).Do(ts.handler)
	testutil.AssertStatus(t, first, http.StatusOK)

	// The callback drops the consumed slot from the session cookie.
	updated := testutil.CookieByName(first, "broiler.sid")
	if updated == nil {
		t.Fatal("callback should rewrite the session cookie")
	}
	second := testutil.NewHTTPRequest(http.MethodGet, callbackURL).WithCookies(updated).Do(ts.handler)
	testutil.AssertStatus(t, second, http.StatusBadRequest)
	if id, _ := decodeError(t, second); id != "STATE_MISSING" {
		t.Errorf("identifier = %q, want STATE_MISSING", id)
	}
}

func TestHandler_Callback_ReplayedSessionCookie(t *testing.T) {
	for _, store := range []string{"cookie", "memory"} {
		t.Run(store, func(t *testing.T) {
			ts := setupTestService(t, map[string]string{"SESSION_STORE": store})

			rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
			sessionCookie := testutil.CookieByName(rr, "broiler.sid")
			if sessionCookie == nil {
				t.Fatal("login should set the session cookie")
			}
			callbackURL := "/api/auth/github/callback?code=abc&state=" + url.QueryEscape(stateFrom(t, rr.Header().Get("Location")))

			first := testutil.NewHTTPRequest(http.MethodGet, callbackURL).WithCookies(sessionCookie).Do(ts.handler)
			testutil.AssertStatus(t, first, http.StatusOK)

			// The pre-callback cookie still holds the pending state.
			second := testutil.NewHTTPRequest(http.MethodGet, callbackURL).WithCookies(sessionCookie).Do(ts.handler)
			testutil.AssertStatus(t, second, http.StatusBadRequest)
			if id, _ := decodeError(t, second); id != "STATE_MISSING" {
				t.Errorf("identifier = %q, want STATE_MISSING", id)
			}
			if got := ts.provider.GetCallCount("Exchange"); got != 1 {
				t.Errorf("Exchange calls = %d, want 1", got)
			}
		})
	}
}

func TestHandler_Callback_StateMismatch(t *testing.T) {
	ts := setupTestService(t, nil)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
	sessionCookie := testutil.CookieByName(rr, "broiler.sid")

	cb := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github/callback?code=abc&state=forged").
		WithCookies(sessionCookie).
		Do(ts.handler)
	testutil.AssertStatus(t, cb, http.StatusBadRequest)
	if id, _ := decodeError(t, cb); id != "STATE_MISMATCH" {
		t.Errorf("identifier = %q, want STATE_MISMATCH", id)
	}
}

func TestHandler_Callback_ProviderFailure(t *testing.T) {
	ts := setupTestService(t, nil)
	ts.provider.ExchangeFunc = func(context.Context, string) (*providers.Profile, error) {
		return nil, errors.New("bad_verification_code")
	}

	rr := ts.callback(t, "/api/auth/github")
	testutil.AssertStatus(t, rr, http.StatusFound)
	if got := rr.Header().Get("Location"); got != "/api/auth/github/failure" {
		t.Errorf("Location = %q, want failure route", got)
	}
}

func TestHandler_Failure(t *testing.T) {
	t.Run("without failure redirect", func(t *testing.T) {
		ts := setupTestService(t, nil)
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github/failure").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		if _, msg := decodeError(t, rr); msg != "GitHub authentication was cancelled or failed." {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("with failure redirect", func(t *testing.T) {
		ts := setupTestService(t, map[string]string{"GITHUB_FAILURE_REDIRECT": "https://app.example.com/login?error=1"})
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github/failure").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusFound)
		if got := rr.Header().Get("Location"); got != "https://app.example.com/login?error=1" {
			t.Errorf("Location = %q", got)
		}
	})
}

func TestHandler_Refresh(t *testing.T) {
	ts := setupTestService(t, nil)
	login, _ := ts.login(t)

	t.Run("from body", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").
			WithHeader("Content-Type", "application/json").
			WithBody(`{"refreshToken":"` + login.RefreshToken + `"}`).
			Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp RefreshResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Token == "" || resp.RefreshToken == "" || resp.RefreshToken == login.RefreshToken {
			t.Errorf("refresh response = %+v", resp)
		}

		// The next round uses the rotated cookie.
		cookie := testutil.CookieByName(rr, "broiler_refresh")
		if cookie == nil || cookie.Value != resp.RefreshToken {
			t.Fatalf("refresh cookie = %+v", cookie)
		}
		again := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").WithCookies(cookie).Do(ts.handler)
		testutil.AssertStatus(t, again, http.StatusOK)
	})

	t.Run("reused token", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").
			WithBody(`{"refreshToken":"` + login.RefreshToken + `"}`).
			Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		if c := testutil.CookieByName(rr, "broiler_refresh"); c == nil || c.MaxAge >= 0 {
			t.Errorf("rejected refresh should clear the cookie, got %+v", c)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		if id, _ := decodeError(t, rr); id != IdentifierRefreshTokenRequired {
			t.Errorf("identifier = %q", id)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").WithBody("{").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestHandler_Logout(t *testing.T) {
	ts := setupTestService(t, nil)
	login, _ := ts.login(t)

	rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/logout").
		WithBearer(login.Token).
		WithBody(`{"refreshToken":"` + login.RefreshToken + `"}`).
		Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	for _, name := range []string{"broiler_token", "broiler_refresh"} {
		if c := testutil.CookieByName(rr, name); c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s should be cleared, got %+v", name, c)
		}
	}

	me := testutil.NewHTTPRequest(http.MethodGet, "/api/users/me").WithBearer(login.Token).Do(ts.handler)
	testutil.AssertStatus(t, me, http.StatusUnauthorized)

	refresh := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/refresh").
		WithBody(`{"refreshToken":"` + login.RefreshToken + `"}`).
		Do(ts.handler)
	testutil.AssertStatus(t, refresh, http.StatusUnauthorized)
}

func TestHandler_Logout_Anonymous(t *testing.T) {
	ts := setupTestService(t, nil)
	rr := testutil.NewHTTPRequest(http.MethodPost, "/api/auth/logout").Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusNoContent)
}

func TestHandler_CurrentUser(t *testing.T) {
	ts := setupTestService(t, nil)
	login, rr := ts.login(t)

	t.Run("bearer", func(t *testing.T) {
		me := testutil.NewHTTPRequest(http.MethodGet, "/api/users/me").WithBearer(login.Token).Do(ts.handler)
		testutil.AssertStatus(t, me, http.StatusOK)

		var user UserResponse
		if err := json.NewDecoder(me.Body).Decode(&user); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if user.ID != login.User.ID || user.Email != "octocat@example.com" {
			t.Errorf("user = %+v", user)
		}
	})

	t.Run("cookie", func(t *testing.T) {
		me := testutil.NewHTTPRequest(http.MethodGet, "/api/users/me").
			WithCookies(testutil.CookieByName(rr, "broiler_token")).
			Do(ts.handler)
		testutil.AssertStatus(t, me, http.StatusOK)
	})

	t.Run("anonymous", func(t *testing.T) {
		me := testutil.NewHTTPRequest(http.MethodGet, "/api/users/me").Do(ts.handler)
		testutil.AssertStatus(t, me, http.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		me := testutil.NewHTTPRequest(http.MethodGet, "/api/users/me").WithBearer("garbage").Do(ts.handler)
		testutil.AssertStatus(t, me, http.StatusUnauthorized)
	})
}

func TestHandler_User_ScopeFiltering(t *testing.T) {
	ts := setupTestService(t, nil)
	ctx := context.Background()

	other, err := ts.store.UpsertUser(ctx, &providers.Profile{
		Provider:    "github",
		ID:          "999",
		Username:    "hubot",
		DisplayName: "Hubot",
		Email:       "hubot@example.com",
	})
	testutil.AssertNoError(t, err)

	login, _ := ts.login(t)

	fetch := func(token, id string) UserResponse {
		t.Helper()
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/users/"+id).WithBearer(token).Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusOK)
		var user UserResponse
		if err := json.NewDecoder(rr.Body).Decode(&user); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return user
	}

	if got := fetch(login.Token, other.ID); got.Email != "" || got.Username != "" {
		t.Errorf("unscoped caller should see base fields only: %+v", got)
	}
	if got := fetch(login.Token, login.User.ID); got.Email == "" {
		t.Error("caller should see their own email")
	}

	emailScope, err := ts.store.CreateScope(ctx, ScopeUsersReadEmail, "")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, ts.store.GrantUserScope(ctx, login.User.ID, emailScope.ID))

	scoped, _ := ts.login(t)
	got := fetch(scoped.Token, other.ID)
	if got.Email != "hubot@example.com" {
		t.Errorf("users:read.email caller should see email: %+v", got)
	}
	if got.Username != "" {
		t.Errorf("users:read.email alone should not expose username: %+v", got)
	}

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/users/missing").WithBearer(login.Token).Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Ping(context.Context) error {
	return errors.New("database is locked")
}

func TestHandler_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := setupTestService(t, nil)
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/health").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp HealthResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "healthy" || resp.Database != "connected" || resp.Service != HealthServiceName {
			t.Errorf("health = %+v", resp)
		}
	})

	t.Run("database down", func(t *testing.T) {
		ts := setupTestService(t, nil, func(d *Dependencies) {
			d.Store = failingStore{Store: d.Store.(*memory.Store)}
		})
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/health").Do(ts.handler)
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)

		var resp HealthResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "unhealthy" || resp.Database != "disconnected" {
			t.Errorf("health = %+v", resp)
		}
	})
}

func TestHandler_NotFound(t *testing.T) {
	ts := setupTestService(t, nil)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/nope?x=1").Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	id, msg := decodeError(t, rr)
	if id != IdentifierRouteNotFound || msg != "Route /nope?x=1 not found" {
		t.Errorf("error = %q %q", id, msg)
	}

	// Unknown routes under the prefix are authenticated first.
	rr = testutil.NewHTTPRequest(http.MethodGet, "/api/nope").Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	login, _ := ts.login(t)
	rr = testutil.NewHTTPRequest(http.MethodGet, "/api/nope").WithBearer(login.Token).Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestHandler_CORSPreflight(t *testing.T) {
	ts := setupTestService(t, nil)

	rr := testutil.NewHTTPRequest(http.MethodOptions, "/api/users/me").Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusOK)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	ts := setupTestService(t, map[string]string{"RATE_LIMIT_RPS": "1", "RATE_LIMIT_BURST": "1"})

	first := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
	testutil.AssertStatus(t, first, http.StatusFound)

	second := testutil.NewHTTPRequest(http.MethodGet, "/api/auth/github").Do(ts.handler)
	testutil.AssertStatus(t, second, http.StatusTooManyRequests)

	// Non-auth routes are not limited.
	health := testutil.NewHTTPRequest(http.MethodGet, "/api/health").Do(ts.handler)
	testutil.AssertStatus(t, health, http.StatusOK)
}

func TestHandler_Metrics(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	testutil.AssertNoError(t, err)

	ts := setupTestService(t, nil, func(d *Dependencies) {
		d.Instrumentation = inst
	})

	testutil.NewHTTPRequest(http.MethodGet, "/api/health").Do(ts.handler)

	rr := testutil.NewHTTPRequest(http.MethodGet, MetricsPath).Do(ts.handler)
	testutil.AssertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "identity_http_requests") {
		t.Errorf("metrics output should include HTTP request counters")
	}
}

func TestNewService_Validation(t *testing.T) {
	cfg, err := ParseConfig(testEnviron(map[string]string{"SESSION_STORE": SessionStoreValkey, "VALKEY_ADDR": "localhost:6379"}))
	testutil.AssertNoError(t, err)

	store := memory.New()
	defer store.Stop()

	if _, err := NewService(cfg, Dependencies{}); err == nil {
		t.Error("NewService() should require a store")
	}
	if _, err := NewService(cfg, Dependencies{Store: store}); err == nil {
		t.Error("NewService() should require a session backend for the valkey store")
	}
}

var _ Store = (*memory.Store)(nil)
var _ storage.RevocationStore = (*memory.Store)(nil)
