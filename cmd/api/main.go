// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Command api is the entry point for the Sentra HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables (.env honored in dev).
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis (the shared trust-boundary store).
//  5. Run database migrations (idempotent).
//  6. Wire domain services and HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentra-id/sentra/internal/account"
	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/httpapi"
	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/config"
	"github.com/sentra-id/sentra/internal/platform/constants"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
	"github.com/sentra-id/sentra/internal/platform/migration"
	pgstore "github.com/sentra-id/sentra/internal/platform/postgres"
	redisstore "github.com/sentra-id/sentra/internal/platform/redis"
	"github.com/sentra-id/sentra/internal/platform/sec"
	"github.com/sentra-id/sentra/internal/rbac"
	"github.com/sentra-id/sentra/internal/token"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "sentra"))
	slog.SetDefault(log)

	log.Info("[Sentra] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "sentra"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Security Primitives ────────────────────────────────────────────
	signer, err := sec.NewSigner(
		[]byte(cfg.AccessTokenSecret),
		[]byte(cfg.RefreshTokenSecret),
		constants.AuthIssuer,
		constants.AuthAudience,
	)
	must(log, err, "initialize token signer")

	csrf, err := admission.NewCSRF([]byte(cfg.CSRFSecret))
	must(log, err, "initialize csrf manager")

	// ── 7. Health Handlers (wired with real dependency checkers) ──────────
	liveness, readiness := httpapi.NewHealthHandlers(httpapi.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckStore: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	idStore := &identity.Store{
		Users:    identity.NewPostgresUserStore(pool),
		Roles:    identity.NewPostgresRoleStore(pool),
		ApiKeys:  identity.NewPostgresApiKeyStore(pool),
		Sessions: identity.NewPostgresSessionStore(pool),
	}
	sharedStore := kvstore.NewRedisStore(rdb)

	tokenService := token.NewService(signer, sharedStore, idStore.Sessions, idStore.Users, log)
	accountService := account.NewService(idStore, tokenService, log)
	rbacService := rbac.NewService(idStore.Roles, idStore.Users, log)
	limiter := admission.NewLimiter(sharedStore, log)
	recorder := admission.NewRecorder(sharedStore, log)

	// ── 9. HTTP Server ────────────────────────────────────────────────────
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	handlers := httpapi.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      httpapi.NewAuthHandler(accountService, tokenService, csrf, cfg.IsProduction()),
		Roles:     httpapi.NewRoleHandler(rbacService),
		ApiKeys:   httpapi.NewApiKeyHandler(accountService, recorder),
		Workflows: httpapi.NewWorkflowHandler(),
	}

	gates := httpapi.Gates{
		Validator:  tokenService,
		Authorizer: rbacService,
		Keys:       accountService,
		Limiter:    limiter,
		Recorder:   recorder,
		CSRF:       csrf,
	}

	server := httpapi.NewServer(serverCtx, cfg, log, gates, handlers)

	// ── 10. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
	serverCancel()

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
