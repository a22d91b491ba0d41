// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-id/sentra/internal/account"
	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/httpapi"
	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/config"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
	"github.com/sentra-id/sentra/internal/platform/sec"
	"github.com/sentra-id/sentra/internal/rbac"
	"github.com/sentra-id/sentra/internal/token"
)

// newTestRouter composes the full server against in-memory stores, exactly as
// main.go does against the real ones.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	signer, err := sec.NewSigner(
		[]byte("test-access-secret-0123456789abcdef"),
		[]byte("test-refresh-secret-0123456789abcd"),
		constants.AuthIssuer,
		constants.AuthAudience,
	)
	require.NoError(t, err)

	csrf, err := admission.NewCSRF([]byte("test-csrf-secret"))
	require.NoError(t, err)

	store := kvstore.NewMemoryStore()
	ids := identity.NewMemoryStore()

	tokenService := token.NewService(signer, store, ids.Sessions, ids.Users, logger)
	accountService := account.NewService(ids, tokenService, logger)
	rbacService := rbac.NewService(ids.Roles, ids.Users, logger)
	limiter := admission.NewLimiter(store, logger)
	recorder := admission.NewRecorder(store, logger)

	liveness, readiness := httpapi.NewHealthHandlers(httpapi.HealthDependencies{}, logger)

	cfg := &config.Config{
		ServerPort:  "0",
		Environment: "development",
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := httpapi.NewServer(ctx, cfg, logger,
		httpapi.Gates{
			Validator:  tokenService,
			Authorizer: rbacService,
			Keys:       accountService,
			Limiter:    limiter,
			Recorder:   recorder,
			CSRF:       csrf,
		},
		httpapi.Handlers{
			Liveness:  liveness,
			Readiness: readiness,
			Auth:      httpapi.NewAuthHandler(accountService, tokenService, csrf, false),
			Roles:     httpapi.NewRoleHandler(rbacService),
			ApiKeys:   httpapi.NewApiKeyHandler(accountService, recorder),
			Workflows: httpapi.NewWorkflowHandler(),
		})

	return server.Router()
}

// browserClient drives the router the way a cookie-bearing browser would:
// it carries cookies between requests and can attach the bearer token and
// the CSRF header.
type browserClient struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie

	accessToken string
	csrfToken   string
}

func newBrowserClient(t *testing.T, router http.Handler) *browserClient {
	return &browserClient{
		t:       t,
		router:  router,
		cookies: make(map[string]*http.Cookie),
	}
}

// do performs one request, feeding stored cookies in and captured Set-Cookie
// headers back out. Expired cookies (MaxAge < 0) are dropped from the jar.
func (client *browserClient) do(method, path string, body any, decorate ...func(*http.Request)) *http.Response {
	client.t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(client.t, err)
		reader = bytes.NewReader(encoded)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range client.cookies {
		request.AddCookie(cookie)
	}
	for _, fn := range decorate {
		fn(request)
	}

	recorder := httptest.NewRecorder()
	client.router.ServeHTTP(recorder, request)
	response := recorder.Result()

	for _, cookie := range response.Cookies() {
		if cookie.MaxAge < 0 {
			delete(client.cookies, cookie.Name)
			continue
		}
		client.cookies[cookie.Name] = cookie
	}
	return response
}

func (client *browserClient) withAuth(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+client.accessToken)
}

func (client *browserClient) withCSRF(request *http.Request) {
	request.Header.Set(constants.HeaderCSRFToken, client.csrfToken)
}

// register creates an account and asserts success.
func (client *browserClient) register(email, password string) {
	client.t.Helper()
	response := client.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(client.t, http.StatusCreated, response.StatusCode)
}

// login authenticates and captures the access and CSRF tokens.
func (client *browserClient) login(email, password string) {
	client.t.Helper()
	response := client.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(client.t, http.StatusOK, response.StatusCode)

	var envelope struct {
		Data struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			SessionID   string `json:"session_id"`
			CSRFToken   string `json:"csrf_token"`
		} `json:"data"`
	}
	decodeBody(client.t, response, &envelope)

	require.NotEmpty(client.t, envelope.Data.AccessToken)
	require.Equal(client.t, "Bearer", envelope.Data.TokenType)
	client.accessToken = envelope.Data.AccessToken
	client.csrfToken = envelope.Data.CSRFToken
}

// decodeBody unmarshals a response body into target.
func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	defer response.Body.Close()
	require.NoError(t, json.NewDecoder(response.Body).Decode(target))
}

// errorCode extracts the machine-readable code from an error envelope.
func errorCode(t *testing.T, response *http.Response) string {
	t.Helper()
	var envelope struct {
		Code string `json:"code"`
	}
	decodeBody(t, response, &envelope)
	return envelope.Code
}

func TestInfrastructureEndpoints(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	response := client.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)

	response = client.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)

	response = client.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	// Registration and the duplicate-email conflict.
	client.register("alice@example.com", "correct horse battery")

	response := client.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "Alice@Example.com",
		"password": "correct horse battery",
	})
	assert.Equal(t, http.StatusConflict, response.StatusCode)

	// Bad credentials never reveal whether the account exists.
	response = client.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong password!!",
	})
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, response))

	client.login("alice@example.com", "correct horse battery")

	// The refresh cookie is HttpOnly and scoped to the auth endpoints; the
	// CSRF cookie must stay script-readable for the double submit.
	refreshCookie := client.cookies[constants.RefreshTokenCookieName]
	require.NotNil(t, refreshCookie)
	assert.True(t, refreshCookie.HttpOnly)
	assert.Equal(t, constants.RefreshTokenCookiePath, refreshCookie.Path)

	csrfCookie := client.cookies[constants.CSRFCookieName]
	require.NotNil(t, csrfCookie)
	assert.False(t, csrfCookie.HttpOnly)

	// Session introspection sees exactly one live session.
	response = client.do(http.MethodGet, "/api/v1/auth/sessions", nil, client.withAuth)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var sessions struct {
		Data []identity.Session `json:"data"`
	}
	decodeBody(t, response, &sessions)
	assert.Len(t, sessions.Data, 1)

	// A fresh CSRF token can be minted on demand; it replaces the cookie.
	response = client.do(http.MethodGet, "/api/v1/auth/csrf-token", nil, client.withAuth)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var minted struct {
		Data struct {
			CSRFToken string `json:"csrf_token"`
		} `json:"data"`
	}
	decodeBody(t, response, &minted)
	require.NotEmpty(t, minted.Data.CSRFToken)
	client.csrfToken = minted.Data.CSRFToken

	// Logout is idempotent and clears both cookies.
	response = client.do(http.MethodPost, "/api/v1/auth/logout", nil, client.withAuth, client.withCSRF)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)
	assert.NotContains(t, client.cookies, constants.RefreshTokenCookieName)

	response = client.do(http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, response.StatusCode)

	// The access token presented at logout was blacklisted, not left to age out.
	response = client.do(http.MethodGet, "/api/v1/auth/sessions", nil, client.withAuth)
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, response))
}

func TestCSRFTokenIssuedToAnonymousVisitors(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	// Pre-login callers get a token bound to a visitor id cookie.
	response := client.do(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var minted struct {
		Data struct {
			CSRFToken string `json:"csrf_token"`
		} `json:"data"`
	}
	decodeBody(t, response, &minted)
	assert.NotEmpty(t, minted.Data.CSRFToken)

	visitor, ok := client.cookies[constants.VisitorCookieName]
	require.True(t, ok, "visitor binding cookie must be set")
	assert.True(t, visitor.HttpOnly)
	_, ok = client.cookies[constants.CSRFCookieName]
	assert.True(t, ok, "double-submit cookie must be set")

	// A repeat call keeps the same visitor binding.
	response = client.do(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, visitor.Value, client.cookies[constants.VisitorCookieName].Value)
}

func TestCSRFGuardOnMutations(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	client.register("bob@example.com", "hunter2hunter2")
	client.login("bob@example.com", "hunter2hunter2")

	changeBody := map[string]string{
		"current_password": "hunter2hunter2",
		"new_password":     "hunter3hunter3",
	}

	// Authenticated mutation with no CSRF header is refused.
	response := client.do(http.MethodPut, "/api/v1/auth/password", changeBody, client.withAuth)
	require.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, "CSRF_TOKEN_MISSING", errorCode(t, response))

	// A header that disagrees with the cookie is a mismatch, not a pass.
	response = client.do(http.MethodPut, "/api/v1/auth/password", changeBody, client.withAuth,
		func(request *http.Request) {
			request.Header.Set(constants.HeaderCSRFToken, "1700000000.bm90LXRoZS1yZWFsLW1hYw")
		})
	require.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, "CSRF_TOKEN_MISMATCH", errorCode(t, response))

	// Matching header and cookie let the mutation through; the password change
	// then kills every session, so the refresh cookie is dead.
	response = client.do(http.MethodPut, "/api/v1/auth/password", changeBody, client.withAuth, client.withCSRF)
	require.Equal(t, http.StatusNoContent, response.StatusCode)

	response = client.do(http.MethodPost, "/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	// The new password works.
	client.login("bob@example.com", "hunter3hunter3")
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	client.register("carol@example.com", "a long enough password")
	client.login("carol@example.com", "a long enough password")

	staleCookie := client.cookies[constants.RefreshTokenCookieName]
	require.NotNil(t, staleCookie)

	// Rotation succeeds and replaces the cookie.
	response := client.do(http.MethodPost, "/api/v1/auth/refresh", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	rotated := client.cookies[constants.RefreshTokenCookieName]
	require.NotNil(t, rotated)
	require.NotEqual(t, staleCookie.Value, rotated.Value)

	// Replaying the superseded token is theft evidence: the whole session
	// dies, and the server expires the client's cookies.
	response = client.do(http.MethodPost, "/api/v1/auth/refresh", nil,
		func(request *http.Request) {
			request.Header.Set("Cookie", "")
			request.AddCookie(staleCookie)
		})
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, "TOKEN_REUSE_DETECTED", errorCode(t, response))
	assert.NotContains(t, client.cookies, constants.RefreshTokenCookieName)

	// The rotated token went down with the session.
	response = client.do(http.MethodPost, "/api/v1/auth/refresh", nil,
		func(request *http.Request) {
			request.Header.Set("Cookie", "")
			request.AddCookie(rotated)
		})
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestRoleRoutesEnforcePermissions(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	// Unauthenticated listing is a 401, not a 403.
	response := client.do(http.MethodGet, "/api/v1/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	client.register("dave@example.com", "a long enough password")
	client.login("dave@example.com", "a long enough password")

	// A default account can inspect its own permissions...
	response = client.do(http.MethodGet, "/api/v1/roles/permissions", nil, client.withAuth)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var mine struct {
		Data struct {
			Roles       []string `json:"roles"`
			Permissions []string `json:"permissions"`
		} `json:"data"`
	}
	decodeBody(t, response, &mine)
	assert.Contains(t, mine.Data.Roles, identity.RoleUser)
	assert.Contains(t, mine.Data.Permissions, "read:profile")

	// ...but cannot administer roles.
	response = client.do(http.MethodGet, "/api/v1/roles", nil, client.withAuth)
	require.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, response))
}

// createApiKey mints a key through the management API and returns its secret.
func createApiKey(t *testing.T, client *browserClient, scopes []string) string {
	t.Helper()

	response := client.do(http.MethodPost, "/api/v1/apikeys", map[string]any{
		"scopes": scopes,
		"tier":   "free",
	}, client.withAuth, client.withCSRF)
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var created struct {
		Data struct {
			Key    identity.ApiKey `json:"key"`
			Secret string          `json:"secret"`
		} `json:"data"`
	}
	decodeBody(t, response, &created)

	require.True(t, strings.HasPrefix(created.Data.Secret, "sk_live_"))
	require.True(t, strings.HasPrefix(created.Data.Secret, created.Data.Key.SecretPrefix))
	return created.Data.Secret
}

func TestWorkflowSurfaceRequiresApiKey(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	client.register("eve@example.com", "a long enough password")
	client.login("eve@example.com", "a long enough password")
	secret := createApiKey(t, client, []string{"read:workflows", "write:workflows"})

	withKey := func(request *http.Request) {
		request.Header.Set(constants.HeaderAPIKey, secret)
	}

	// No key, no entry. A bearer token is not accepted on the machine surface.
	response := client.do(http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	response = client.do(http.MethodGet, "/api/v1/workflows", nil, client.withAuth)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	// Admitted traffic always sees the rate-limit headers.
	response = client.do(http.MethodGet, "/api/v1/workflows", nil, withKey)
	require.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "60", response.Header.Get(constants.HeaderRateLimitLimit))
	assert.NotEmpty(t, response.Header.Get(constants.HeaderRateLimitRemaining))
	assert.NotEmpty(t, response.Header.Get(constants.HeaderRateLimitReset))

	// Create then list a workflow via the machine surface.
	response = client.do(http.MethodPost, "/api/v1/workflows", map[string]string{"name": "nightly-export"}, withKey)
	require.Equal(t, http.StatusCreated, response.StatusCode)

	response = client.do(http.MethodGet, "/api/v1/workflows", nil, withKey)
	require.Equal(t, http.StatusOK, response.StatusCode)
	var listed struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	decodeBody(t, response, &listed)
	require.Len(t, listed.Data, 1)
	assert.Equal(t, "nightly-export", listed.Data[0].Name)

	// A key scoped to reads only cannot create.
	readOnly := createApiKey(t, client, []string{"read:workflows"})
	response = client.do(http.MethodPost, "/api/v1/workflows", map[string]string{"name": "blocked"},
		func(request *http.Request) {
			request.Header.Set(constants.HeaderAPIKey, readOnly)
		})
	require.Equal(t, http.StatusForbidden, response.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, response))
}

func TestWorkflowSurfaceRateLimitsPerMinute(t *testing.T) {
	router := newTestRouter(t)
	client := newBrowserClient(t, router)

	client.register("frank@example.com", "a long enough password")
	client.login("frank@example.com", "a long enough password")
	secret := createApiKey(t, client, []string{"read:workflows"})

	withKey := func(request *http.Request) {
		request.Header.Set(constants.HeaderAPIKey, secret)
	}

	// Drain the free tier's minute budget.
	for i := 0; i < 60; i++ {
		response := client.do(http.MethodGet, "/api/v1/workflows", nil, withKey)
		require.Equal(t, http.StatusOK, response.StatusCode, "request %d", i)
	}

	response := client.do(http.MethodGet, "/api/v1/workflows", nil, withKey)
	require.Equal(t, http.StatusTooManyRequests, response.StatusCode)
	assert.NotEmpty(t, response.Header.Get(constants.HeaderRetryAfter))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, response))
}
