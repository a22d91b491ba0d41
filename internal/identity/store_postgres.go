// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// PostgreSQL implementations of the identity store contracts.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types via [dberr.Wrap] to avoid leaking storage
// implementation details.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-id/sentra/internal/platform/dberr"
)

// # User Repository

// PostgresUserStore implements [UserStore] using pgx.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore creates a new PostgreSQL implementation of the UserStore.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

/*
Create persists a new user record into the identity.account table.

Parameters:
  - ctx: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (store *PostgresUserStore) Create(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO identity.account (
			id, email, password_hash, roles, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := store.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Roles,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "User")
	}

	return nil
}

/*
FindByID retrieves a user record by primary key.

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (store *PostgresUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, roles, is_active, created_at, updated_at
		FROM identity.account
		WHERE id = $1`

	return store.scanUser(ctx, query, id)
}

/*
FindByEmail retrieves a user record by their unique email address.

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (store *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, roles, is_active, created_at, updated_at
		FROM identity.account
		WHERE email = $1`

	return store.scanUser(ctx, query, email)
}

// UpdatePassword replaces only the password hash column.
func (store *PostgresUserStore) UpdatePassword(ctx context.Context, userID, newHash string) error {
	const query = `
		UPDATE identity.account
		SET password_hash = $2, updated_at = $3
		WHERE id = $1`

	tag, err := store.pool.Exec(ctx, query, userID, newHash, time.Now())
	if err != nil {
		return dberr.Wrap(err, "User")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "User")
	}
	return nil
}

// UpdateRoles replaces the user's role set.
func (store *PostgresUserStore) UpdateRoles(ctx context.Context, userID string, roles []string) error {
	const query = `
		UPDATE identity.account
		SET roles = $2, updated_at = $3
		WHERE id = $1`

	tag, err := store.pool.Exec(ctx, query, userID, roles, time.Now())
	if err != nil {
		return dberr.Wrap(err, "User")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "User")
	}
	return nil
}

// SetActive flips the soft-deactivation flag.
func (store *PostgresUserStore) SetActive(ctx context.Context, userID string, active bool) error {
	const query = `
		UPDATE identity.account
		SET is_active = $2, updated_at = $3
		WHERE id = $1`

	tag, err := store.pool.Exec(ctx, query, userID, active, time.Now())
	if err != nil {
		return dberr.Wrap(err, "User")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "User")
	}
	return nil
}

// CountWithRole returns how many accounts currently hold the named role.
func (store *PostgresUserStore) CountWithRole(ctx context.Context, roleName string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM identity.account
		WHERE $1 = ANY(roles)`

	var count int
	if err := store.pool.QueryRow(ctx, query, roleName).Scan(&count); err != nil {
		return 0, dberr.Wrap(err, "User")
	}
	return count, nil
}

// scanUser runs a single-row user query and hydrates the entity.
func (store *PostgresUserStore) scanUser(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := store.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Roles,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "User")
	}
	return user, nil
}

// # Role Repository

// PostgresRoleStore implements [RoleStore] using pgx.
type PostgresRoleStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRoleStore creates a new PostgreSQL implementation of the RoleStore.
func NewPostgresRoleStore(pool *pgxpool.Pool) *PostgresRoleStore {
	return &PostgresRoleStore{pool: pool}
}

// FindByName returns the role definition with the given name.
func (store *PostgresRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	const query = `
		SELECT name, description, permissions, is_system, created_at, updated_at
		FROM identity.role
		WHERE name = $1`

	role := &Role{}
	err := store.pool.QueryRow(ctx, query, name).Scan(
		&role.Name,
		&role.Description,
		&role.Permissions,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "Role")
	}
	return role, nil
}

// List returns every role definition ordered by name.
func (store *PostgresRoleStore) List(ctx context.Context) ([]Role, error) {
	const query = `
		SELECT name, description, permissions, is_system, created_at, updated_at
		FROM identity.role
		ORDER BY name`

	rows, err := store.pool.Query(ctx, query)
	if err != nil {
		return nil, dberr.Wrap(err, "Role")
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(
			&role.Name,
			&role.Description,
			&role.Permissions,
			&role.IsSystem,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, dberr.Wrap(err, "Role")
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "Role")
	}
	return roles, nil
}

// Create persists a new custom role.
func (store *PostgresRoleStore) Create(ctx context.Context, role *Role) error {
	const query = `
		INSERT INTO identity.role (
			name, description, permissions, is_system, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now

	_, err := store.pool.Exec(ctx, query,
		role.Name,
		role.Description,
		role.Permissions,
		role.IsSystem,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "Role")
	}
	return nil
}

// UpdatePermissions replaces the permission set of a role.
func (store *PostgresRoleStore) UpdatePermissions(ctx context.Context, name string, permissions []string) error {
	const query = `
		UPDATE identity.role
		SET permissions = $2, updated_at = $3
		WHERE name = $1`

	tag, err := store.pool.Exec(ctx, query, name, permissions, time.Now())
	if err != nil {
		return dberr.Wrap(err, "Role")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "Role")
	}
	return nil
}

// Delete removes a role definition.
func (store *PostgresRoleStore) Delete(ctx context.Context, name string) error {
	const query = `DELETE FROM identity.role WHERE name = $1`

	tag, err := store.pool.Exec(ctx, query, name)
	if err != nil {
		return dberr.Wrap(err, "Role")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "Role")
	}
	return nil
}

// # API Key Repository

// PostgresApiKeyStore implements [ApiKeyStore] using pgx.
type PostgresApiKeyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresApiKeyStore creates a new PostgreSQL implementation of the ApiKeyStore.
func NewPostgresApiKeyStore(pool *pgxpool.Pool) *PostgresApiKeyStore {
	return &PostgresApiKeyStore{pool: pool}
}

// FindBySecretHash returns the key whose persisted digest matches.
func (store *PostgresApiKeyStore) FindBySecretHash(ctx context.Context, secretHash string) (*ApiKey, error) {
	const query = `
		SELECT id, secret_hash, secret_prefix, user_id, scopes, tier, is_active, expires_at, created_at
		FROM identity.api_key
		WHERE secret_hash = $1`

	key := &ApiKey{}
	err := store.pool.QueryRow(ctx, query, secretHash).Scan(
		&key.ID,
		&key.SecretHash,
		&key.SecretPrefix,
		&key.UserID,
		&key.Scopes,
		&key.Tier,
		&key.IsActive,
		&key.ExpiresAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "API key")
	}
	return key, nil
}

// ListByUser returns all keys belonging to a user, newest first.
func (store *PostgresApiKeyStore) ListByUser(ctx context.Context, userID string) ([]ApiKey, error) {
	const query = `
		SELECT id, secret_hash, secret_prefix, user_id, scopes, tier, is_active, expires_at, created_at
		FROM identity.api_key
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, dberr.Wrap(err, "API key")
	}
	defer rows.Close()

	var keys []ApiKey
	for rows.Next() {
		var key ApiKey
		if err := rows.Scan(
			&key.ID,
			&key.SecretHash,
			&key.SecretPrefix,
			&key.UserID,
			&key.Scopes,
			&key.Tier,
			&key.IsActive,
			&key.ExpiresAt,
			&key.CreatedAt,
		); err != nil {
			return nil, dberr.Wrap(err, "API key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "API key")
	}
	return keys, nil
}

// Create persists a new key record.
func (store *PostgresApiKeyStore) Create(ctx context.Context, key *ApiKey) error {
	const query = `
		INSERT INTO identity.api_key (
			id, secret_hash, secret_prefix, user_id, scopes, tier, is_active, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	_, err := store.pool.Exec(ctx, query,
		key.ID,
		key.SecretHash,
		key.SecretPrefix,
		key.UserID,
		key.Scopes,
		key.Tier,
		key.IsActive,
		key.ExpiresAt,
		key.CreatedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "API key")
	}
	return nil
}

// Revoke flips IsActive off.
func (store *PostgresApiKeyStore) Revoke(ctx context.Context, keyID string) error {
	const query = `
		UPDATE identity.api_key
		SET is_active = FALSE
		WHERE id = $1`

	tag, err := store.pool.Exec(ctx, query, keyID)
	if err != nil {
		return dberr.Wrap(err, "API key")
	}
	if tag.RowsAffected() == 0 {
		return dberr.Wrap(errNoRows(), "API key")
	}
	return nil
}

// # Session Repository

// PostgresSessionStore implements [SessionStore] using pgx.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a new PostgreSQL implementation of the SessionStore.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Create persists a new tracking session.
func (store *PostgresSessionStore) Create(ctx context.Context, session *Session) error {
	const query = `
		INSERT INTO identity.session (
			id, user_id, refresh_token_id, ip_address, user_agent, created_at, expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := store.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenID,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.ExpiresAt,
		session.IsActive,
	)
	if err != nil {
		return dberr.Wrap(err, "Session")
	}
	return nil
}

// FindByID returns the session with the given ID.
func (store *PostgresSessionStore) FindByID(ctx context.Context, id string) (*Session, error) {
	const query = `
		SELECT id, user_id, refresh_token_id, ip_address, user_agent, created_at, expires_at, is_active
		FROM identity.session
		WHERE id = $1`

	session := &Session{}
	err := store.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenID,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.IsActive,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "Session")
	}
	return session, nil
}

// UpdateRefreshTokenID records the latest committed refresh jti.
func (store *PostgresSessionStore) UpdateRefreshTokenID(ctx context.Context, sessionID, refreshTokenID string, expiresAt time.Time) error {
	const query = `
		UPDATE identity.session
		SET refresh_token_id = $2, expires_at = $3
		WHERE id = $1 AND is_active`

	_, err := store.pool.Exec(ctx, query, sessionID, refreshTokenID, expiresAt)
	if err != nil {
		return dberr.Wrap(err, "Session")
	}
	return nil
}

// Deactivate terminates a single session.
func (store *PostgresSessionStore) Deactivate(ctx context.Context, sessionID string) error {
	const query = `
		UPDATE identity.session
		SET is_active = FALSE
		WHERE id = $1`

	_, err := store.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return dberr.Wrap(err, "Session")
	}
	return nil
}

// DeactivateAllForUser terminates every session belonging to the user.
func (store *PostgresSessionStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	const query = `
		UPDATE identity.session
		SET is_active = FALSE
		WHERE user_id = $1`

	_, err := store.pool.Exec(ctx, query, userID)
	if err != nil {
		return dberr.Wrap(err, "Session")
	}
	return nil
}

// ListActiveForUser returns the user's live sessions, newest first.
func (store *PostgresSessionStore) ListActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	const query = `
		SELECT id, user_id, refresh_token_id, ip_address, user_agent, created_at, expires_at, is_active
		FROM identity.session
		WHERE user_id = $1 AND is_active AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, dberr.Wrap(err, "Session")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.RefreshTokenID,
			&session.IPAddress,
			&session.UserAgent,
			&session.CreatedAt,
			&session.ExpiresAt,
			&session.IsActive,
		); err != nil {
			return nil, dberr.Wrap(err, "Session")
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "Session")
	}
	return sessions, nil
}

// errNoRows signals a zero-row update so dberr maps it to NotFound.
func errNoRows() error {
	return fmt.Errorf("no rows affected: %w", pgx.ErrNoRows)
}
