// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package account

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/kvstore"
	"github.com/sentra-id/sentra/internal/platform/sec"
	"github.com/sentra-id/sentra/internal/token"
	"github.com/sentra-id/sentra/pkg/pointer"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	signer, err := sec.NewSigner(
		[]byte("test-access-secret-0123456789abcdef"),
		[]byte("test-refresh-secret-0123456789abcdef"),
		"sentra.id", "sentra-api",
	)
	require.NoError(t, err)

	idStore := identity.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := token.NewService(signer, kvstore.NewMemoryStore(), idStore.Sessions, idStore.Users, logger)

	return NewService(idStore, tokens, logger)
}

// # Registration

func TestRegister(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	testCases := []struct {
		name         string
		email        string
		password     string
		expectedCode string
	}{
		{
			name:     "valid registration",
			email:    "alice@example.com",
			password: "correct horse battery",
		},
		{
			name:         "email is normalized and duplicates rejected",
			email:        "  ALICE@example.com ",
			password:     "correct horse battery",
			expectedCode: "CONFLICT",
		},
		{
			name:         "malformed email",
			email:        "not-an-email",
			password:     "correct horse battery",
			expectedCode: "VALIDATION_ERROR",
		},
		{
			name:         "password too short",
			email:        "bob@example.com",
			password:     "short",
			expectedCode: "VALIDATION_ERROR",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			user, err := service.Register(ctx, testCase.email, testCase.password)

			if testCase.expectedCode != "" {
				require.Error(t, err)
				assert.True(t, apperr.IsCode(err, testCase.expectedCode), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(strings.TrimSpace(testCase.email)), user.Email)
			assert.Equal(t, []string{identity.RoleUser}, user.Roles)
			assert.True(t, user.IsActive)
			assert.NotEqual(t, testCase.password, user.PasswordHash)
			assert.True(t, strings.HasPrefix(user.PasswordHash, "$argon2id$"))
		})
	}
}

// # Login

func TestLogin(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		pair, user, err := service.Login(ctx, "Alice@Example.com", "correct horse battery", "203.0.113.7", "test-agent")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		_, _, errWrongPassword := service.Login(ctx, "alice@example.com", "wrong password!!", "", "")
		_, _, errUnknownEmail := service.Login(ctx, "nobody@example.com", "correct horse battery", "", "")

		require.Error(t, errWrongPassword)
		require.Error(t, errUnknownEmail)
		assert.Equal(t, apperr.As(errWrongPassword).Code, apperr.As(errUnknownEmail).Code)
		assert.Equal(t, apperr.As(errWrongPassword).Message, apperr.As(errUnknownEmail).Message)
	})

	t.Run("deactivated account", func(t *testing.T) {
		require.NoError(t, service.store.Users.SetActive(ctx, registered.ID, false))
		defer func() {
			require.NoError(t, service.store.Users.SetActive(ctx, registered.ID, true))
		}()

		_, _, err := service.Login(ctx, "alice@example.com", "correct horse battery", "", "")
		assert.True(t, apperr.IsCode(err, "USER_INACTIVE"), "got %v", err)
	})
}

func TestLogout_IsIdempotent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	pair, _, err := service.Login(ctx, "alice@example.com", "correct horse battery", "", "")
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, pair.RefreshToken))
	// Second logout with the same (now dead) token is still fine.
	require.NoError(t, service.Logout(ctx, pair.RefreshToken))
	// So is garbage.
	require.NoError(t, service.Logout(ctx, "not.a.token"))
}

// # Password Management

func TestChangePassword_RevokesAllSessions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	laptop, _, err := service.Login(ctx, "alice@example.com", "correct horse battery", "", "laptop")
	require.NoError(t, err)
	phone, _, err := service.Login(ctx, "alice@example.com", "correct horse battery", "", "phone")
	require.NoError(t, err)

	t.Run("wrong current password", func(t *testing.T) {
		err := service.ChangePassword(ctx, user.ID, "wrong password!!", "brand new passphrase")
		assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"), "got %v", err)
	})

	t.Run("success kills outstanding sessions", func(t *testing.T) {
		require.NoError(t, service.ChangePassword(ctx, user.ID, "correct horse battery", "brand new passphrase"))

		_, _, err := service.Login(ctx, "alice@example.com", "correct horse battery", "", "")
		assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"), "old password must fail")

		_, _, err = service.Login(ctx, "alice@example.com", "brand new passphrase", "", "")
		assert.NoError(t, err, "new password must work")

		require.NoError(t, service.Logout(ctx, laptop.RefreshToken))
		require.NoError(t, service.Logout(ctx, phone.RefreshToken))

		sessions, err := service.ListSessions(ctx, user.ID)
		require.NoError(t, err)
		// Only the fresh login above survives.
		assert.Len(t, sessions, 1)
	})
}

// # API Keys

func TestApiKeyLifecycle(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	created, err := service.CreateApiKey(ctx, user.ID, []string{"read:workflows"}, identity.TierPremium, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Secret, "sk_live_"))
	assert.True(t, strings.HasPrefix(created.Secret, created.Key.SecretPrefix))
	assert.NotContains(t, created.Key.SecretHash, created.Secret)

	t.Run("authenticate with raw secret", func(t *testing.T) {
		key, err := service.AuthenticateApiKey(ctx, created.Secret)
		require.NoError(t, err)
		assert.Equal(t, created.Key.ID, key.ID)
		assert.Equal(t, identity.TierPremium, key.Tier)
	})

	t.Run("unknown secret", func(t *testing.T) {
		_, err := service.AuthenticateApiKey(ctx, "sk_live_definitely-not-real")
		assert.True(t, apperr.IsCode(err, "UNAUTHORIZED"), "got %v", err)
	})

	t.Run("expired key", func(t *testing.T) {
		expiry := time.Now().Add(time.Minute)
		expiring, err := service.CreateApiKey(ctx, user.ID, nil, identity.TierFree, pointer.To(expiry))
		require.NoError(t, err)

		assert.True(t, expiring.Key.Usable(expiry.Add(-time.Second)))
		assert.False(t, expiring.Key.Usable(expiry.Add(time.Second)))
	})

	t.Run("revoked key stops authenticating", func(t *testing.T) {
		require.NoError(t, service.RevokeApiKey(ctx, user.ID, created.Key.ID))

		_, err := service.AuthenticateApiKey(ctx, created.Secret)
		assert.True(t, apperr.IsCode(err, "UNAUTHORIZED"), "got %v", err)
	})

	t.Run("cannot revoke someone else's key", func(t *testing.T) {
		other, err := service.Register(ctx, "mallory@example.com", "another passphrase")
		require.NoError(t, err)

		fresh, err := service.CreateApiKey(ctx, user.ID, nil, identity.TierFree, nil)
		require.NoError(t, err)

		err = service.RevokeApiKey(ctx, other.ID, fresh.Key.ID)
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"), "got %v", err)
	})

	t.Run("invalid tier rejected", func(t *testing.T) {
		_, err := service.CreateApiKey(ctx, user.ID, nil, identity.Tier("platinum"), nil)
		assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"), "got %v", err)
	})
}
