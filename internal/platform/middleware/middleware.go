// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package middleware provides the cross-cutting HTTP processing chain.

It acts as a series of decorators around the standard http.Handler, injecting
traceability, safety, and security into every request lifecycle.

Standard Stack:

  - Trace: RequestID generation for log correlation.
  - Log: Structured activity logging (slog).
  - Observe: Prometheus latency and in-flight instrumentation.
  - Guard: Per-IP throttling on credential endpoints, token authentication,
    permission checks, API-key admission, CSRF.
  - Safe: Panic recovery to prevent server crashes.

This package ensures that domain handlers can focus purely on business logic
without worrying about infrastructure-level concerns.
*/
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/ctxutil"
	"github.com/sentra-id/sentra/internal/platform/metrics"
	"github.com/sentra-id/sentra/internal/platform/respond"
	"github.com/sentra-id/sentra/pkg/uuid"
)

// # Request Tracing

// RequestID attaches a correlation ID to every request for log tracing.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// 1. Check if the client already provided an ID
			requestID := request.Header.Get(constants.HeaderXRequestID)

			// 2. Generate a new one if missing (UUIDv7 for time-sortable logs)
			if requestID == "" {
				requestID = uuid.New()
			}

			// 3. Inject into context and response headers
			ctx := ctxutil.WithRequestID(request.Context(), requestID)
			writer.Header().Set(constants.HeaderXRequestID, requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// # Activity Logging

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(code int) {
	recorder.status = code
	recorder.ResponseWriter.WriteHeader(code)
}

// StructuredLogger logs every request status and performance metrics.
// It also injects a request-specific logger into the context.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			startTime := time.Now()
			rid := ctxutil.GetRequestID(request.Context())
			ip := RealIP(request)

			// 1. Create a sub-logger for this specific request
			requestLogger := logger.With(
				slog.String("request_id", rid),
				slog.String("method", request.Method),
				slog.String("path", request.URL.Path),
				slog.String("ip", ip),
			)

			// 2. Inject this logger into the context for downstream use
			ctx := ctxutil.WithLogger(request.Context(), requestLogger)
			wrappedWriter := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

			// 3. Proceed to downstream handlers with the enriched context
			next.ServeHTTP(wrappedWriter, request.WithContext(ctx))

			// 4. Final log entry after the request is finished
			latency := time.Since(startTime).Milliseconds()
			logLevel := slog.LevelInfo

			if wrappedWriter.status >= 500 {
				logLevel = slog.LevelError
			} else if wrappedWriter.status >= 400 {
				logLevel = slog.LevelWarn
			}

			logAttrs := []any{
				slog.Int("status", wrappedWriter.status),
				slog.Int64("latency_ms", latency),
				slog.String("user_agent", request.UserAgent()),
			}

			// Add user_id if the request is authenticated
			if claims := ctxutil.GetClaims(ctx); claims != nil {
				logAttrs = append(logAttrs, slog.String("user_id", claims.UserID()))
			}

			requestLogger.Log(ctx, logLevel, "http_request_finished", logAttrs...)
		})
	}
}

// # Observability

// Metrics records Prometheus latency histograms and the in-flight gauge.
// Mounted inside the chi router so the matched route pattern is available.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			startTime := time.Now()
			metrics.RequestsInFlight.Inc()
			defer metrics.RequestsInFlight.Dec()

			wrappedWriter := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
			next.ServeHTTP(wrappedWriter, request)

			route := chi.RouteContext(request.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}

			metrics.RequestDuration.WithLabelValues(
				route,
				request.Method,
				strconv.Itoa(wrappedWriter.status/100*100),
			).Observe(time.Since(startTime).Seconds())
		})
	}
}

// # Credential Endpoint Throttling

type throttleClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

/*
LoginThrottle limits requests per IP using a token bucket.

This guards only the unauthenticated credential endpoints (login, register,
refresh) against online guessing. It is deliberately per-instance and
in-memory: a guesser hammering one instance is slowed by that instance, and
the distributed API-key limiter is a separate concern with separate keys.
*/
func LoginThrottle(done <-chan struct{}) func(http.Handler) http.Handler {

	var (
		throttleMu      sync.Mutex
		throttleClients = make(map[string]*throttleClient)
	)

	// Background cleanup so idle IPs do not accumulate forever.
	go func() {
		ticker := time.NewTicker(constants.ThrottleCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				throttleMu.Lock()
				for ip, clientInfo := range throttleClients {
					if time.Since(clientInfo.lastSeen) > constants.ThrottleClientTTL {
						delete(throttleClients, ip)
					}
				}
				throttleMu.Unlock()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			clientIP := RealIP(request)

			throttleMu.Lock()
			clientInfo, found := throttleClients[clientIP]
			if !found {
				clientInfo = &throttleClient{
					limiter: rate.NewLimiter(
						rate.Limit(constants.LoginThrottleRPS),
						constants.LoginThrottleBurst,
					),
				}
				throttleClients[clientIP] = clientInfo
			}
			clientInfo.lastSeen = time.Now()

			allowed := clientInfo.limiter.Allow()
			throttleMu.Unlock()

			if !allowed {
				respond.Error(writer, request, apperr.RateLimited(1, nil))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// # Reliability & Safety

// PanicRecovery recovers from panics, logs the stack trace, and returns 500.
func PanicRecovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			defer func() {
				if err := recover(); err != nil {

					// Capture the runtime stack trace for diagnostics
					stackTrace := make([]byte, 2048)
					length := runtime.Stack(stackTrace, false)

					reqLogger := ctxutil.GetLogger(request.Context())
					reqLogger.ErrorContext(request.Context(), "panic_recovered",
						slog.Any("error", err),
						slog.String("stack", string(stackTrace[:length])),
					)

					respond.Error(writer, request, apperr.Internal(nil))
				}
			}()

			next.ServeHTTP(writer, request)
		})
	}
}

// # Middleware Helpers

// RealIP extracts the client IP, respecting common proxy headers.
func RealIP(request *http.Request) string {

	// Check standard proxy headers first
	if ip := request.Header.Get(constants.HeaderXRealIP); ip != "" {
		return ip
	}

	if forwarded := request.Header.Get(constants.HeaderXForwardedFor); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	// Fallback to the direct connection's address
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}
