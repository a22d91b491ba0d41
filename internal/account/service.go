// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package account implements credential management: registration, login,
password changes, and the machine credentials (API keys) a user owns.

Architecture:

  - Service: Application-layer orchestrator over the identity repositories
    and the token lifecycle.
  - Passwords: argon2id hashes only; a plaintext password exists in memory
    for the duration of one request and never reaches storage or logs.
  - API keys: the raw secret is shown exactly once at creation. Only its
    SHA-256 digest is persisted; lookup is by digest.

Authentication failures are deliberately uniform: a missing account and a
wrong password both surface as INVALID_CREDENTIALS so responses cannot be
used for account enumeration.
*/
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/sec"
	"github.com/sentra-id/sentra/internal/platform/validate"
	"github.com/sentra-id/sentra/internal/token"
	"github.com/sentra-id/sentra/pkg/uuid"
)

const (
	// minPasswordLength follows current NIST guidance: length over complexity.
	minPasswordLength = 10
	maxPasswordLength = 128

	// apiKeySecretBytes is the entropy of a generated API-key secret.
	apiKeySecretBytes = 32

	// apiKeyPrefixLength is how much of the secret is stored in clear for
	// display purposes ("sk_live_AbCd…").
	apiKeyPrefixLength = 8
)

// Service orchestrates account and credential operations.
type Service struct {
	store  *identity.Store
	tokens *token.Service
	logger *slog.Logger
}

// NewService creates a new account service.
func NewService(store *identity.Store, tokens *token.Service, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		logger: logger,
	}
}

// # Registration & Login

/*
Register creates a new account with the default user role.

Parameters:
  - ctx: context.Context
  - email: Unique login identifier; normalized to lower case.
  - password: Plaintext password, hashed with argon2id before storage.

Returns:
  - *identity.User: The created account (password hash stripped by JSON tags).
  - error: Validation failure or a conflict on duplicate email.
*/
func (service *Service) Register(ctx context.Context, email, password string) (*identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := (&validate.Validator{}).
		Required("email", email).
		Email("email", email).
		MinLen("password", password, minPasswordLength).
		MaxLen("password", password, maxPasswordLength).
		Err(); err != nil {
		return nil, err
	}

	passwordHash, err := sec.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &identity.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        []string{identity.RoleUser},
		IsActive:     true,
	}

	if err := service.store.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	service.logger.Info("account registered", slog.String("user_id", user.ID))
	return user, nil
}

/*
Login verifies credentials and starts a new session.

# Anti-Enumeration

An unknown email burns a hash verification against a fixed decoy hash so the
response time does not reveal whether the account exists, and both failure
modes return the same INVALID_CREDENTIALS error.
*/
func (service *Service) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*token.TokenPair, *identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := service.store.Users.FindByEmail(ctx, email)
	if err != nil {
		if apperr.IsCode(err, "NOT_FOUND") {
			sec.CheckPasswordHash(password, decoyHash)
			return nil, nil, apperr.UserNotFound()
		}
		return nil, nil, err
	}

	if !sec.CheckPasswordHash(password, user.PasswordHash) {
		service.logger.Warn("failed login attempt",
			slog.String("user_id", user.ID),
			slog.String("ip", ipAddress),
		)
		return nil, nil, apperr.UserNotFound()
	}

	if !user.IsActive {
		return nil, nil, apperr.UserInactive()
	}

	pair, err := service.tokens.StartSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// Logout consumes a raw refresh token and terminates its session. An invalid
// or expired token is not an error: logout is idempotent.
func (service *Service) Logout(ctx context.Context, rawRefreshToken string) error {
	claims, err := service.tokens.ValidateRefreshToken(ctx, rawRefreshToken)
	if err != nil {
		var appError *apperr.AppError
		if errors.As(err, &appError) && appError.HTTPStatus < 500 {
			return nil
		}
		return err
	}
	return service.tokens.RevokeSession(ctx, claims.SessionID)
}

// # Password Management

/*
ChangePassword replaces the password after verifying the current one, then
revokes every session the user holds. Outstanding refresh tokens die with
their sessions; outstanding access tokens age out within their short TTL.
*/
func (service *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := (&validate.Validator{}).
		MinLen("new_password", newPassword, minPasswordLength).
		MaxLen("new_password", newPassword, maxPasswordLength).
		Err(); err != nil {
		return err
	}

	user, err := service.store.Users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return apperr.UserNotFound()
	}

	newHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := service.store.Users.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	if err := service.tokens.RevokeAllSessions(ctx, userID); err != nil {
		// The password already changed; session cleanup failure must not
		// roll that back. Log and surface nothing to the client.
		service.logger.Error("failed to revoke sessions after password change",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}

	service.logger.Info("password changed", slog.String("user_id", userID))
	return nil
}

// ListSessions returns the user's active sessions for device review.
func (service *Service) ListSessions(ctx context.Context, userID string) ([]identity.Session, error) {
	return service.store.Sessions.ListActiveForUser(ctx, userID)
}

// LogoutAll revokes every session belonging to the user.
func (service *Service) LogoutAll(ctx context.Context, userID string) error {
	return service.tokens.RevokeAllSessions(ctx, userID)
}

// # API Keys

// CreatedApiKey carries the one-time plaintext secret alongside the record.
type CreatedApiKey struct {
	Key *identity.ApiKey `json:"key"`

	// Secret is shown exactly once; only its digest is stored.
	Secret string `json:"secret"`
}

/*
CreateApiKey mints a machine credential owned by the user.

Parameters:
  - ctx: context.Context
  - userID: Owning account.
  - scopes: Permission strings granted to the key (validated for shape).
  - tier: Rate-limit tier; must be a known [identity.Tier].
  - expiresAt: Optional absolute expiry; nil means non-expiring.

Returns:
  - *CreatedApiKey: The record plus the plaintext secret (single disclosure).
  - error: Validation or storage failure.
*/
func (service *Service) CreateApiKey(ctx context.Context, userID string, scopes []string, tier identity.Tier, expiresAt *time.Time) (*CreatedApiKey, error) {
	validator := &validate.Validator{}
	validator.Custom("tier", !tier.Valid(), "must be one of: free, premium, enterprise")
	for _, scope := range scopes {
		validator.Permission("scopes", scope)
	}
	if expiresAt != nil {
		validator.Custom("expires_at", !expiresAt.After(time.Now()), "must be in the future")
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	secret, err := sec.GenerateSecureToken(apiKeySecretBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	secret = "sk_live_" + secret

	key := &identity.ApiKey{
		ID:           uuid.New(),
		SecretHash:   sec.HashSecret(secret),
		SecretPrefix: secret[:len("sk_live_")+apiKeyPrefixLength],
		UserID:       userID,
		Scopes:       scopes,
		Tier:         tier,
		IsActive:     true,
		ExpiresAt:    expiresAt,
	}

	if err := service.store.ApiKeys.Create(ctx, key); err != nil {
		return nil, err
	}

	service.logger.Info("api key created",
		slog.String("user_id", userID),
		slog.String("key_id", key.ID),
		slog.String("tier", string(tier)),
	)

	return &CreatedApiKey{Key: key, Secret: secret}, nil
}

// ListApiKeys returns the user's keys. Digests stay server-side; the prefix
// is all a client ever sees again.
func (service *Service) ListApiKeys(ctx context.Context, userID string) ([]identity.ApiKey, error) {
	return service.store.ApiKeys.ListByUser(ctx, userID)
}

// RevokeApiKey permanently deactivates a key. Only the owner may revoke.
func (service *Service) RevokeApiKey(ctx context.Context, userID, keyID string) error {
	keys, err := service.store.ApiKeys.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key.ID == keyID {
			return service.store.ApiKeys.Revoke(ctx, keyID)
		}
	}
	return apperr.NotFound("API key")
}

/*
AuthenticateApiKey resolves a raw secret to its usable key record.

The lookup digest is computed client-side of the store, so the plaintext
secret never leaves this function. Expired, revoked, and unknown keys all
return the same UNAUTHORIZED error.
*/
func (service *Service) AuthenticateApiKey(ctx context.Context, rawSecret string) (*identity.ApiKey, error) {
	if rawSecret == "" {
		return nil, apperr.Unauthorized("API key required")
	}

	key, err := service.store.ApiKeys.FindBySecretHash(ctx, sec.HashSecret(rawSecret))
	if err != nil {
		if apperr.IsCode(err, "NOT_FOUND") {
			return nil, apperr.Unauthorized("Invalid API key")
		}
		return nil, err
	}

	if !key.Usable(time.Now()) {
		return nil, apperr.Unauthorized("Invalid API key")
	}

	return key, nil
}

// decoyHash is a throwaway argon2id hash used to equalize login timing for
// unknown accounts. The corresponding password was discarded at generation.
const decoyHash = "$argon2id$v=19$m=65536,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$Sz0kDYiAlbWp8hpHUkRsW5cOCusiOdAkAc2kCzMkM6M"
