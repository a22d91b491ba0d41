// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Admission middleware: API-key rate limiting and CSRF enforcement.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/ctxkey"
	"github.com/sentra-id/sentra/internal/platform/ctxutil"
	"github.com/sentra-id/sentra/internal/platform/metrics"
	"github.com/sentra-id/sentra/internal/platform/respond"
)

// KeyAuthenticator resolves a raw API-key secret to its usable record.
type KeyAuthenticator interface {
	AuthenticateApiKey(ctx context.Context, rawSecret string) (*identity.ApiKey, error)
}

/*
ApiKeyGate authenticates and rate-limits machine traffic.

# Flow

 1. Resolve the X-API-Key header to a usable key record.
 2. Reserve admission atomically (all windows plus a concurrency slot).
 3. On denial: emit X-RateLimit and Retry-After headers, account the 429.
 4. On admission: run the handler, then release the concurrency slot and
    account the final status and elapsed time. Both happen on a
    cancellation-detached context, so an abandoned request still returns its
    slot.

The X-RateLimit headers describe the minute window and are set on every
response, allowed or denied, so well-behaved clients can pace themselves.
*/
func ApiKeyGate(keys KeyAuthenticator, limiter *admission.Limiter, recorder *admission.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()

			// ── 1. Key Authentication ─────────────────────────────────────────
			key, err := keys.AuthenticateApiKey(request.Context(), request.Header.Get(constants.HeaderAPIKey))
			if err != nil {
				respond.Error(writer, request, err)
				return
			}

			// ── 2. Admission Decision ─────────────────────────────────────────
			decision, err := limiter.CheckAndReserve(request.Context(), key)
			if err != nil {
				// Fail closed: the store outage response is 503, not an open gate.
				metrics.AdmissionDecisions.WithLabelValues(string(key.Tier), "unavailable").Inc()
				respond.Error(writer, request, err)
				return
			}

			header := writer.Header()
			header.Set(constants.HeaderRateLimitLimit, strconv.FormatInt(decision.Limit, 10))
			header.Set(constants.HeaderRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))
			header.Set(constants.HeaderRateLimitReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))

			// ── 3. Denial ─────────────────────────────────────────────────────
			if !decision.Allowed {
				retryAfterSeconds := int(decision.RetryAfter.Seconds())
				if retryAfterSeconds < 1 {
					retryAfterSeconds = 1
				}
				header.Set(constants.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))

				metrics.AdmissionDecisions.WithLabelValues(string(key.Tier), "denied").Inc()
				recorder.Record(request.Context(), key.ID, http.StatusTooManyRequests, time.Since(start))

				respond.Error(writer, request, apperr.RateLimited(retryAfterSeconds, map[string]any{
					"limit":     decision.Limit,
					"remaining": decision.Remaining,
					"reset_at":  decision.ResetAt.Unix(),
				}))
				return
			}
			metrics.AdmissionDecisions.WithLabelValues(string(key.Tier), "allowed").Inc()

			// ── 4. Admitted Request ───────────────────────────────────────────
			wrappedWriter := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
			defer func() {
				limiter.Release(request.Context(), key.ID)
				recorder.Record(request.Context(), key.ID, wrappedWriter.status, time.Since(start))
			}()

			ctx := context.WithValue(request.Context(), ctxkey.KeyAPIKey, key)
			next.ServeHTTP(wrappedWriter, request.WithContext(ctx))
		})
	}
}

// GetApiKey retrieves the authenticated [*identity.ApiKey] from the context,
// or nil for non-machine traffic.
func GetApiKey(ctx context.Context) *identity.ApiKey {
	key, ok := ctx.Value(ctxkey.KeyAPIKey).(*identity.ApiKey)
	if !ok {
		return nil
	}
	return key
}

/*
CSRFGuard enforces double-submit CSRF tokens on state-changing browser
requests.

# Scope

 1. Safe methods (GET, HEAD, OPTIONS) pass untouched.
 2. Machine traffic authenticated by API key is exempt: it carries no ambient
    cookie credential for a cross-site page to ride on.
 3. Requests from an exactly-matching trusted Origin are exempt.
 4. Everything else must present matching header and cookie tokens bound to
    the caller's session.

Anonymous requests pass: without a session cookie there is no ambient
authority to forge, and the credential endpoints have their own throttle.
*/
func CSRFGuard(csrf *admission.CSRF, trustedOrigins []string) func(http.Handler) http.Handler {
	trusted := make(map[string]struct{}, len(trustedOrigins))
	for _, origin := range trustedOrigins {
		trusted[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			switch request.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(writer, request)
				return
			}

			if GetApiKey(request.Context()) != nil {
				next.ServeHTTP(writer, request)
				return
			}

			// Exact match only: a suffix or prefix rule would let
			// "evil-sentra.dev" or "sentra.dev.evil.com" through.
			if origin := request.Header.Get(constants.HeaderOrigin); origin != "" {
				if _, ok := trusted[origin]; ok {
					next.ServeHTTP(writer, request)
					return
				}
			}

			claims := ctxutil.GetClaims(request.Context())
			if claims == nil {
				next.ServeHTTP(writer, request)
				return
			}

			headerToken := request.Header.Get(constants.HeaderCSRFToken)
			cookieToken := ""
			if cookie, err := request.Cookie(constants.CSRFCookieName); err == nil {
				cookieToken = cookie.Value
			}

			if err := csrf.Validate(headerToken, cookieToken, claims.SessionID); err != nil {
				if appError := apperr.As(err); appError != nil {
					metrics.CSRFRejections.WithLabelValues(appError.Code).Inc()
				}
				respond.Error(writer, request, err)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
