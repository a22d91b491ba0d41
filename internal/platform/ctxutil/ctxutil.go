// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Package ctxutil provides helpers for interacting with values stored in [context.Context].
package ctxutil

import (
	"context"
	"log/slog"

	"github.com/sentra-id/sentra/internal/platform/ctxkey"
	"github.com/sentra-id/sentra/internal/platform/sec"
)

// # Request Tracing

// WithRequestID returns a new context with the provided request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRequestID, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.KeyRequestID).(string)
	return id
}

// # Structured Logging

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.KeyLogger, logger)
}

// GetLogger retrieves the logger from the context.
// If no logger is found, it returns the global default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxkey.KeyLogger).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// # Identity & Access

// WithClaims returns a new context with the validated token claims attached.
func WithClaims(ctx context.Context, claims *sec.Claims) context.Context {
	return context.WithValue(ctx, ctxkey.KeyClaims, claims)
}

// GetClaims retrieves the [*sec.Claims] from the [context.Context].
// Returns nil for anonymous requests.
func GetClaims(ctx context.Context) *sec.Claims {
	claims, ok := ctx.Value(ctxkey.KeyClaims).(*sec.Claims)
	if !ok {
		return nil
	}
	return claims
}
