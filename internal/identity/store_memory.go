// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentra-id/sentra/internal/platform/apperr"
)

// In-memory implementations of the identity store contracts.
//
// Used by unit tests and local development wiring where a PostgreSQL
// instance is not available. All methods are safe for concurrent use.

// # User Repository

// MemoryUserStore implements [UserStore] with a mutex-guarded map.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User // keyed by ID
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (store *MemoryUserStore) Create(_ context.Context, user *User) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, existing := range store.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return apperr.Conflict("User already exists")
		}
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	store.users[user.ID] = *user
	return nil
}

func (store *MemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	user, ok := store.users[id]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return &user, nil
}

func (store *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for _, user := range store.users {
		if strings.EqualFold(user.Email, email) {
			found := user
			return &found, nil
		}
	}
	return nil, apperr.NotFound("User")
}

func (store *MemoryUserStore) UpdatePassword(_ context.Context, userID, newHash string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	user, ok := store.users[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	user.PasswordHash = newHash
	user.UpdatedAt = time.Now()
	store.users[userID] = user
	return nil
}

func (store *MemoryUserStore) UpdateRoles(_ context.Context, userID string, roles []string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	user, ok := store.users[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	user.Roles = append([]string(nil), roles...)
	user.UpdatedAt = time.Now()
	store.users[userID] = user
	return nil
}

func (store *MemoryUserStore) SetActive(_ context.Context, userID string, active bool) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	user, ok := store.users[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	user.IsActive = active
	user.UpdatedAt = time.Now()
	store.users[userID] = user
	return nil
}

func (store *MemoryUserStore) CountWithRole(_ context.Context, roleName string) (int, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	count := 0
	for _, user := range store.users {
		for _, role := range user.Roles {
			if role == roleName {
				count++
				break
			}
		}
	}
	return count, nil
}

// # Role Repository

// MemoryRoleStore implements [RoleStore] with a mutex-guarded map,
// pre-seeded with the built-in system roles.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]Role // keyed by name
}

// NewMemoryRoleStore creates an in-memory role store seeded with the
// system role definitions.
func NewMemoryRoleStore() *MemoryRoleStore {
	store := &MemoryRoleStore{roles: make(map[string]Role)}
	for _, role := range SystemRoles() {
		store.roles[role.Name] = role
	}
	return store
}

func (store *MemoryRoleStore) FindByName(_ context.Context, name string) (*Role, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	role, ok := store.roles[name]
	if !ok {
		return nil, apperr.NotFound("Role")
	}
	return &role, nil
}

func (store *MemoryRoleStore) List(_ context.Context) ([]Role, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	roles := make([]Role, 0, len(store.roles))
	for _, role := range store.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (store *MemoryRoleStore) Create(_ context.Context, role *Role) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, exists := store.roles[role.Name]; exists {
		return apperr.Conflict("Role already exists")
	}

	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now
	store.roles[role.Name] = *role
	return nil
}

func (store *MemoryRoleStore) UpdatePermissions(_ context.Context, name string, permissions []string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	role, ok := store.roles[name]
	if !ok {
		return apperr.NotFound("Role")
	}
	role.Permissions = append([]string(nil), permissions...)
	role.UpdatedAt = time.Now()
	store.roles[name] = role
	return nil
}

func (store *MemoryRoleStore) Delete(_ context.Context, name string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.roles[name]; !ok {
		return apperr.NotFound("Role")
	}
	delete(store.roles, name)
	return nil
}

// # API Key Repository

// MemoryApiKeyStore implements [ApiKeyStore] with a mutex-guarded map.
type MemoryApiKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ApiKey // keyed by ID
}

// NewMemoryApiKeyStore creates an empty in-memory API key store.
func NewMemoryApiKeyStore() *MemoryApiKeyStore {
	return &MemoryApiKeyStore{keys: make(map[string]ApiKey)}
}

func (store *MemoryApiKeyStore) FindBySecretHash(_ context.Context, secretHash string) (*ApiKey, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for _, key := range store.keys {
		if key.SecretHash == secretHash {
			found := key
			return &found, nil
		}
	}
	return nil, apperr.NotFound("API key")
}

func (store *MemoryApiKeyStore) ListByUser(_ context.Context, userID string) ([]ApiKey, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var keys []ApiKey
	for _, key := range store.keys {
		if key.UserID == userID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (store *MemoryApiKeyStore) Create(_ context.Context, key *ApiKey) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, exists := store.keys[key.ID]; exists {
		return apperr.Conflict("API key already exists")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	store.keys[key.ID] = *key
	return nil
}

func (store *MemoryApiKeyStore) Revoke(_ context.Context, keyID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	key, ok := store.keys[keyID]
	if !ok {
		return apperr.NotFound("API key")
	}
	key.IsActive = false
	store.keys[keyID] = key
	return nil
}

// # Session Repository

// MemorySessionStore implements [SessionStore] with a mutex-guarded map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session // keyed by ID
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (store *MemorySessionStore) Create(_ context.Context, session *Session) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	store.sessions[session.ID] = *session
	return nil
}

func (store *MemorySessionStore) FindByID(_ context.Context, id string) (*Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	session, ok := store.sessions[id]
	if !ok {
		return nil, apperr.NotFound("Session")
	}
	return &session, nil
}

func (store *MemorySessionStore) UpdateRefreshTokenID(_ context.Context, sessionID, refreshTokenID string, expiresAt time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	session, ok := store.sessions[sessionID]
	if !ok || !session.IsActive {
		return nil
	}
	session.RefreshTokenID = refreshTokenID
	session.ExpiresAt = expiresAt
	store.sessions[sessionID] = session
	return nil
}

func (store *MemorySessionStore) Deactivate(_ context.Context, sessionID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	session, ok := store.sessions[sessionID]
	if !ok {
		return nil
	}
	session.IsActive = false
	store.sessions[sessionID] = session
	return nil
}

func (store *MemorySessionStore) DeactivateAllForUser(_ context.Context, userID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for id, session := range store.sessions {
		if session.UserID == userID {
			session.IsActive = false
			store.sessions[id] = session
		}
	}
	return nil
}

func (store *MemorySessionStore) ListActiveForUser(_ context.Context, userID string) ([]Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	now := time.Now()
	var sessions []Session
	for _, session := range store.sessions {
		if session.UserID == userID && session.IsActive && session.ExpiresAt.After(now) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

// NewMemoryStore bundles the in-memory repositories into a [Store],
// with system roles pre-seeded.
func NewMemoryStore() *Store {
	return &Store{
		Users:    NewMemoryUserStore(),
		Roles:    NewMemoryRoleStore(),
		ApiKeys:  NewMemoryApiKeyStore(),
		Sessions: NewMemorySessionStore(),
	}
}
