// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package identity

import (
	"context"
	"time"
)

// # User Data Access

// UserStore defines the data access contract for user accounts.
//
// All lookups may fail with apperr.NotFound or a wrapped storage error; a
// storage error is surfaced to callers as STORE_UNAVAILABLE semantics.
type UserStore interface {

	// FindByID returns the account with the given ID.
	FindByID(ctx context.Context, id string) (*User, error)

	// FindByEmail returns the account with the given email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Create persists a brand-new user account.
	Create(ctx context.Context, user *User) error

	// UpdatePassword replaces only the user's password hash.
	UpdatePassword(ctx context.Context, userID, newHash string) error

	// UpdateRoles replaces the user's role set.
	UpdateRoles(ctx context.Context, userID string, roles []string) error

	// SetActive flips the soft-deactivation flag. Users are never deleted.
	SetActive(ctx context.Context, userID string, active bool) error

	// CountWithRole returns how many users currently hold the named role.
	CountWithRole(ctx context.Context, roleName string) (int, error)
}

// # Role Data Access

// RoleStore defines the data access contract for role definitions.
type RoleStore interface {

	// FindByName returns the role definition with the given name.
	FindByName(ctx context.Context, name string) (*Role, error)

	// List returns every role definition.
	List(ctx context.Context) ([]Role, error)

	// Create persists a new custom role.
	Create(ctx context.Context, role *Role) error

	// UpdatePermissions replaces the permission set of a custom role.
	UpdatePermissions(ctx context.Context, name string, permissions []string) error

	// Delete removes a custom role definition.
	Delete(ctx context.Context, name string) error
}

// # API Key Data Access

// ApiKeyStore defines the data access contract for machine credentials.
type ApiKeyStore interface {

	// FindBySecretHash returns the key whose persisted digest matches.
	// Lookup is always by digest — the raw secret never reaches storage.
	FindBySecretHash(ctx context.Context, secretHash string) (*ApiKey, error)

	// ListByUser returns all keys belonging to a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]ApiKey, error)

	// Create persists a new key record.
	Create(ctx context.Context, key *ApiKey) error

	// Revoke flips IsActive off. Revocation is permanent.
	Revoke(ctx context.Context, keyID string) error
}

// # Session Data Access

// SessionStore defines the data access contract for refresh-token sessions.
type SessionStore interface {

	// Create persists a new tracking session for an authenticated login.
	Create(ctx context.Context, session *Session) error

	// FindByID returns the session with the given ID.
	FindByID(ctx context.Context, id string) (*Session, error)

	// UpdateRefreshTokenID records the latest committed refresh jti.
	// The atomic swap happens in the shared store; this is the durable echo.
	UpdateRefreshTokenID(ctx context.Context, sessionID, refreshTokenID string, expiresAt time.Time) error

	// Deactivate terminates a single session.
	Deactivate(ctx context.Context, sessionID string) error

	// DeactivateAllForUser terminates every session belonging to the user
	// (password change, forced invalidation).
	DeactivateAllForUser(ctx context.Context, userID string) error

	// ListActiveForUser returns the user's live sessions, newest first.
	ListActiveForUser(ctx context.Context, userID string) ([]Session, error)
}

// Store bundles the four repositories for injection convenience.
type Store struct {
	Users    UserStore
	Roles    RoleStore
	ApiKeys  ApiKeyStore
	Sessions SessionStore
}
