// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sentra-id/sentra/internal/platform/ctxutil"
	"github.com/sentra-id/sentra/internal/platform/sec"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Claims verifies that token claims can be stored in context.
*/
func TestContext_Claims(t *testing.T) {
	ctx := context.Background()
	claims := &sec.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
		Roles:            []string{"admin"},
		SessionID:        "session-456",
	}

	// 1. Initially should be nil
	assert.Nil(t, ctxutil.GetClaims(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithClaims(ctx, claims)
	retrieved := ctxutil.GetClaims(ctx)

	assert.NotNil(t, retrieved)
	assert.Equal(t, "user-123", retrieved.UserID())
	assert.Equal(t, []string{"admin"}, retrieved.Roles)
	assert.Equal(t, "session-456", retrieved.SessionID)
}
