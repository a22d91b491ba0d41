// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Authentication and authorization middleware for the Sentra API.
//
// # Architecture
//
// Authenticate only establishes identity; RequireAuth and RequirePermission
// enforce it. The split lets public routes share the chain with protected
// ones while still logging user context when a token happens to be present.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/ctxutil"
	"github.com/sentra-id/sentra/internal/platform/metrics"
	"github.com/sentra-id/sentra/internal/platform/respond"
	"github.com/sentra-id/sentra/internal/platform/sec"
)

// TokenValidator defines the token check needed by [Authenticate].
//
// # Why an interface?
//
// Defining TokenValidator here decouples the middleware from the token
// service implementation, allowing mocks during unit testing.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*sec.Claims, error)
}

// Authorizer defines the permission check needed by [RequirePermission].
type Authorizer interface {
	Authorize(ctx context.Context, roleNames []string, required ...string) error
}

// Authenticate extracts and verifies the access token from the Authorization
// header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, the request proceeds as anonymous.
//  3. If present, validate via [TokenValidator]. Validation includes the
//     shared-store blacklist, so a presented-but-revoked token fails here
//     with its precise taxonomy code rather than a generic 401.
//  4. Inject the verified [*sec.Claims] into the request context.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get("Authorization")

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Token Verification ─────────────────────────────────────────
			claims, err := validator.ValidateAccessToken(request.Context(), parts[1])
			if err != nil {
				outcome := "error"
				if appError := apperr.As(err); appError != nil {
					outcome = appError.Code
				}
				metrics.TokenValidations.WithLabelValues(outcome).Inc()
				respond.Error(writer, request, err)
				return
			}
			metrics.TokenValidations.WithLabelValues("ok").Inc()

			// ── 4. Context Injection ──────────────────────────────────────────
			ctx := ctxutil.WithClaims(request.Context(), claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetClaims(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequirePermission blocks requests whose role set does not satisfy EVERY
// listed permission.
//
// # Usage
//
// Must be registered AFTER [Authenticate]. It implies [RequireAuth], so the
// two do not need to be stacked.
func RequirePermission(authorizer Authorizer, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetClaims(request.Context())

			// ── 1. Authentication Check ───────────────────────────────────────
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			// ── 2. Authorization Check ────────────────────────────────────────
			if err := authorizer.Authorize(request.Context(), claims.Roles, required...); err != nil {
				respond.Error(writer, request, err)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
