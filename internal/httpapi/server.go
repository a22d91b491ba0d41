// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package httpapi wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework
    (chi router).
  - Only this package and cmd/api are allowed to import net/http server
    primitives.
*/
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/platform/config"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/middleware"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here — no other change to server.go is required.
type Handlers struct {
	// Liveness is the /health handler — always returns 200 if process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler — returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles session lifecycle routes (register, login, refresh, logout).
	Auth *AuthHandler

	// Roles handles RBAC administration routes.
	Roles *RoleHandler

	// ApiKeys handles machine-credential management routes.
	ApiKeys *ApiKeyHandler

	// Workflows is the API-key-gated sample resource surface.
	Workflows *WorkflowHandler
}

// Gates bundles the admission dependencies the router mounts per route group.
type Gates struct {
	// Validator authenticates bearer tokens for browser/user traffic.
	Validator middleware.TokenValidator

	// Authorizer answers RBAC questions for protected route groups.
	Authorizer middleware.Authorizer

	// Keys authenticates API-key secrets for machine traffic.
	Keys middleware.KeyAuthenticator

	// Limiter and Recorder meter admitted machine traffic.
	Limiter  *admission.Limiter
	Recorder *admission.Recorder

	// CSRF validates double-submit tokens on state-changing browser requests.
	CSRF *admission.CSRF
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(ctx context.Context, cfg *config.Config, log *slog.Logger, gates Gates, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(middleware.Metrics())
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.PanicRecovery())
	r.Use(corsHandler(cfg).Handler)
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated probes and metrics for orchestration and scraping.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// # Application API
	r.Route("/api/v1", func(api chi.Router) {

		// Browser/user surface: bearer tokens plus CSRF on mutations.
		api.Group(func(browser chi.Router) {
			browser.Use(middleware.Authenticate(gates.Validator))
			browser.Use(middleware.CSRFGuard(gates.CSRF, cfg.TrustedOriginList()))

			browser.Mount("/auth", h.Auth.Routes(ctx.Done()))
			browser.Mount("/roles", h.Roles.Routes(gates.Authorizer))
			browser.Mount("/apikeys", h.ApiKeys.Routes())
		})

		// Machine surface: API-key admission, no cookies, no CSRF.
		api.Group(func(machine chi.Router) {
			machine.Use(middleware.ApiKeyGate(gates.Keys, gates.Limiter, gates.Recorder))

			machine.Mount("/workflows", h.Workflows.Routes())
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// corsHandler builds the CORS policy: the configured trusted origins in
// production, permissive in development.
func corsHandler(cfg *config.Config) *cors.Cors {
	if cfg.IsDevelopment() {
		return cors.New(cors.Options{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", constants.HeaderCSRFToken, constants.HeaderAPIKey, constants.HeaderXRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		})
	}

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.TrustedOriginList(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", constants.HeaderCSRFToken, constants.HeaderAPIKey, constants.HeaderXRequestID},
		ExposedHeaders:   []string{constants.HeaderXRequestID, constants.HeaderRateLimitLimit, constants.HeaderRateLimitRemaining, constants.HeaderRateLimitReset},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the composed handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
