// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Session lifecycle endpoints: register, login, refresh, logout, CSRF.
//
// # Architecture
//
// Handlers act as the "gatekeepers" to the system. They are responsible for:
//   - JSON request parsing and strict input validation.
//   - Mapping HTTP contexts to service layer method calls.
//   - Standardizing JSON response formats via the [respond] package.
//
// They contain NO business logic or database queries. The refresh token
// never appears in a response body: it travels exclusively in an HttpOnly
// cookie scoped to the auth endpoints.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-id/sentra/internal/account"
	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/middleware"
	requestutil "github.com/sentra-id/sentra/internal/platform/request"
	"github.com/sentra-id/sentra/internal/platform/respond"
	"github.com/sentra-id/sentra/internal/token"
	"github.com/sentra-id/sentra/pkg/uuid"
)

// AuthHandler implements the session lifecycle HTTP endpoints.
type AuthHandler struct {
	accounts *account.Service
	tokens   *token.Service
	csrf     *admission.CSRF

	// secureCookies toggles the Secure cookie attribute; off only in
	// development where the API serves plain HTTP.
	secureCookies bool
}

// NewAuthHandler constructs a new [AuthHandler] with its dependencies.
func NewAuthHandler(accounts *account.Service, tokens *token.Service, csrf *admission.CSRF, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		accounts:      accounts,
		tokens:        tokens,
		csrf:          csrf,
		secureCookies: secureCookies,
	}
}

// Routes returns a [chi.Router] configured with the session lifecycle routes.
//
// # Endpoints
//   - POST /register  : Creates a new account.
//   - POST /login     : Authenticates and starts a session.
//   - POST /refresh   : Rotates the refresh token, returns a new access token.
//   - POST /logout    : Terminates the presenting session.
//   - POST /logout-all: Terminates every session of the caller.
//   - GET  /csrf-token : Issues a CSRF token bound to the caller's session,
//     or to an anonymous visitor id for pre-login forms.
//   - GET  /sessions  : Lists the caller's active sessions.
//   - PUT  /password  : Changes the password and revokes all sessions.
//
// The unauthenticated credential endpoints share a per-IP throttle.
func (handler *AuthHandler) Routes(done <-chan struct{}) chi.Router {
	router := chi.NewRouter()

	router.Group(func(throttled chi.Router) {
		throttled.Use(middleware.LoginThrottle(done))

		throttled.Post("/register", handler.register)
		throttled.Post("/login", handler.login)
		throttled.Post("/refresh", handler.refresh)
	})

	router.Post("/logout", handler.logout)
	router.Get("/csrf-token", handler.csrfToken)

	router.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireAuth)

		authed.Post("/logout-all", handler.logoutAll)
		authed.Get("/sessions", handler.sessions)
		authed.Put("/password", handler.changePassword)
	})

	return router
}

// # Registration & Login

// credentialsRequest is the JSON payload for register and login.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// register handles POST /api/v1/auth/register requests.
//
// # Returns
//   - HTTP 201 Created with the account profile.
//   - HTTP 400 Bad Request if validation rules fail.
//   - HTTP 409 Conflict if the email is taken.
func (handler *AuthHandler) register(writer http.ResponseWriter, request *http.Request) {
	var input credentialsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.accounts.Register(request.Context(), input.Email, input.Password)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, user)
}

// loginResponse carries the access token; the refresh token travels only in
// the cookie set alongside.
type loginResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	TokenType       string    `json:"token_type"`
	SessionID       string    `json:"session_id"`
	CSRFToken       string    `json:"csrf_token"`
}

// login handles POST /api/v1/auth/login requests.
//
// # Flow
//  1. Verify credentials and start a session.
//  2. Set the refresh token as an HttpOnly cookie scoped to /api/v1/auth.
//  3. Set the CSRF double-submit cookie (readable by scripts by design).
//  4. Return the access token in the body.
func (handler *AuthHandler) login(writer http.ResponseWriter, request *http.Request) {
	var input credentialsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	pair, _, err := handler.accounts.Login(
		request.Context(),
		input.Email,
		input.Password,
		middleware.RealIP(request),
		request.UserAgent(),
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.writeSessionCookies(writer, pair)

	respond.OK(writer, loginResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		TokenType:       pair.TokenType,
		SessionID:       pair.SessionID,
		CSRFToken:       handler.csrf.Issue(pair.SessionID),
	})
}

// # Rotation

// refresh handles POST /api/v1/auth/refresh requests.
//
// # Returns
//   - HTTP 200 with a fresh access token; the rotated refresh cookie rides along.
//   - HTTP 401 with the precise taxonomy code on any token problem.
//   - HTTP 409 CONCURRENT_ROTATION_LOST when another rotation won; the client
//     should back off briefly and retry with its (now current) token.
func (handler *AuthHandler) refresh(writer http.ResponseWriter, request *http.Request) {
	raw := ""
	if cookie, err := request.Cookie(constants.RefreshTokenCookieName); err == nil {
		raw = cookie.Value
	} else {
		// Non-browser clients may send the token in the body instead.
		var input struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := requestutil.DecodeJSON(request, &input); err == nil {
			raw = input.RefreshToken
		}
	}
	if raw == "" {
		respond.Error(writer, request, apperr.Unauthorized("Refresh token required"))
		return
	}

	pair, err := handler.tokens.Rotate(request.Context(), raw, middleware.RealIP(request))
	if err != nil {
		// A dead session means dead cookies; stop the client re-presenting them.
		if appError := apperr.As(err); appError != nil && appError.HTTPStatus == http.StatusUnauthorized {
			handler.clearSessionCookies(writer)
		}
		respond.Error(writer, request, err)
		return
	}

	handler.writeSessionCookies(writer, pair)

	respond.OK(writer, loginResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		TokenType:       pair.TokenType,
		SessionID:       pair.SessionID,
		CSRFToken:       handler.csrf.Issue(pair.SessionID),
	})
}

// # Termination

// logout handles POST /api/v1/auth/logout requests. Idempotent: a missing or
// invalid cookie still clears client state and returns 204.
func (handler *AuthHandler) logout(writer http.ResponseWriter, request *http.Request) {
	if cookie, err := request.Cookie(constants.RefreshTokenCookieName); err == nil {
		if err := handler.accounts.Logout(request.Context(), cookie.Value); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	// The presenting access token dies immediately rather than aging out.
	if claims := requestutil.Claims(request); claims != nil {
		if err := handler.tokens.Revoke(request.Context(), claims); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	handler.clearSessionCookies(writer)
	respond.NoContent(writer)
}

// logoutAll handles POST /api/v1/auth/logout-all requests.
func (handler *AuthHandler) logoutAll(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)

	if err := handler.accounts.LogoutAll(request.Context(), claims.UserID()); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearSessionCookies(writer)
	respond.NoContent(writer)
}

// # CSRF & Session Introspection

// csrfTokenResponse carries a freshly minted CSRF token.
type csrfTokenResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// csrfToken handles GET /api/v1/auth/csrf-token requests: mints a token bound
// to the caller's session and sets the double-submit cookie. Anonymous callers
// get a token bound to a visitor identifier instead, carried in its own
// HttpOnly cookie, so pre-login forms can submit with a valid token.
func (handler *AuthHandler) csrfToken(writer http.ResponseWriter, request *http.Request) {
	bindingID := ""
	if claims := requestutil.Claims(request); claims != nil {
		bindingID = claims.SessionID
	} else if cookie, err := request.Cookie(constants.VisitorCookieName); err == nil && cookie.Value != "" {
		bindingID = cookie.Value
	} else {
		bindingID = uuid.New()
		http.SetCookie(writer, &http.Cookie{
			Name:     constants.VisitorCookieName,
			Value:    bindingID,
			Path:     "/",
			MaxAge:   int(admission.CSRFTokenTTL.Seconds()),
			HttpOnly: true,
			Secure:   handler.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}

	tokenValue := handler.csrf.Issue(bindingID)
	handler.setCSRFCookie(writer, tokenValue)
	respond.OK(writer, csrfTokenResponse{CSRFToken: tokenValue})
}

// sessions handles GET /api/v1/auth/sessions requests.
func (handler *AuthHandler) sessions(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)

	active, err := handler.accounts.ListSessions(request.Context(), claims.UserID())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, active)
}

// # Password Management

// changePasswordRequest is the JSON payload for password changes.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword handles PUT /api/v1/auth/password requests. On success every
// session dies, including the caller's: they must log in again.
func (handler *AuthHandler) changePassword(writer http.ResponseWriter, request *http.Request) {
	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	claims := requestutil.Claims(request)

	if err := handler.accounts.ChangePassword(request.Context(), claims.UserID(), input.CurrentPassword, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearSessionCookies(writer)
	respond.NoContent(writer)
}

// # Cookie Plumbing

// writeSessionCookies sets the refresh and CSRF cookies for a fresh pair.
func (handler *AuthHandler) writeSessionCookies(writer http.ResponseWriter, pair *token.TokenPair) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    pair.RefreshToken,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	handler.setCSRFCookie(writer, handler.csrf.Issue(pair.SessionID))
}

// setCSRFCookie sets the double-submit half. NOT HttpOnly: the page script
// must read it back into the X-CSRF-Token header; that readability is the
// mechanism, not an oversight.
func (handler *AuthHandler) setCSRFCookie(writer http.ResponseWriter, tokenValue string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.CSRFCookieName,
		Value:    tokenValue,
		Path:     "/",
		MaxAge:   int(admission.CSRFTokenTTL.Seconds()),
		HttpOnly: false,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookies expires both cookies on the client.
func (handler *AuthHandler) clearSessionCookies(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(writer, &http.Cookie{
		Name:   constants.CSRFCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
