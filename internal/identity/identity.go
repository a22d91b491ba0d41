// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

/*
Package identity defines the credential store: the persistent entities and
data-access contracts that every other trust-boundary component resolves
credentials against.

It covers user accounts, role definitions, API keys, and refresh-token
sessions. This layer is the "Truth" of the system: entities defined here have
no external dependencies and encapsulate all business rules related to who a
credential belongs to and whether it is still standing.

Architecture:

  - Entities: User, Role, ApiKey, Session.
  - Contracts: One narrow repository interface per entity.
  - Implementations: PostgreSQL (production) and in-memory (tests, dev mode).
*/
package identity

import (
	"time"
)

// # API Key Tiers

// Tier names the rate-limit profile attached to an API key.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether the tier is one of the known profiles.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// # Domain Entities

// User represents a registered account.
//
// Users are never physically deleted: deactivation flips IsActive, and every
// credential check downstream treats an inactive user as non-existent.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Explicitly omitted from JSON for security.
	Roles        []string  `json:"roles"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named set of permission strings of the form "action:resource".
//
// Either segment may be the wildcard '*', or the whole string may be "*"
// meaning all permissions. System roles are immutable.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApiKey is a machine credential.
//
// The raw secret is generated once, returned to the caller a single time, and
// never re-derivable: only its SHA-256 digest and a short display prefix are
// persisted. Expired keys are treated identically to revoked keys.
type ApiKey struct {
	ID           string     `json:"id"`
	SecretHash   string     `json:"-"` // SHA-256 digest of the bearer value.
	SecretPrefix string     `json:"secret_prefix"`
	UserID       string     `json:"user_id"`
	Scopes       []string   `json:"scopes"`
	Tier         Tier       `json:"tier"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Usable reports whether the key may authenticate a request right now.
func (k *ApiKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// Session anchors refresh-token rotation.
//
// At most one currently valid refresh-token identifier exists per session at
// any time; the session row records the last one committed. The authoritative
// copy lives in the shared store so the swap can be a compare-and-swap.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	RefreshTokenID string    `json:"-"` // Current refresh jti. Omitted for security.
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
}

// # System Roles

// Built-in role names. These exist in every deployment and reject mutation.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// SystemRoles returns the immutable built-in role definitions.
//
// The slice is rebuilt on every call so callers can never mutate the
// canonical definitions.
func SystemRoles() []Role {
	return []Role{
		{
			Name:        RoleUser,
			Description: "Default role for registered accounts",
			Permissions: []string{"read:profile", "write:profile", "read:workflows", "write:workflows"},
			IsSystem:    true,
		},
		{
			Name:        RoleAdmin,
			Description: "Operational administration",
			Permissions: []string{"read:*", "write:roles", "delete:roles", "write:users", "write:apikeys"},
			IsSystem:    true,
		},
		{
			Name:        RoleSuperAdmin,
			Description: "Unrestricted access",
			Permissions: []string{"*"},
			IsSystem:    true,
		},
	}
}

// IsSystemRole reports whether name is one of the built-in immutable roles.
func IsSystemRole(name string) bool {
	switch name {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
