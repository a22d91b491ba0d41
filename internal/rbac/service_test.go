// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/pkg/uuid"
)

func newTestService(t *testing.T) (*Service, *identity.Store) {
	t.Helper()

	idStore := identity.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(idStore.Roles, idStore.Users, logger), idStore
}

// # Matching

func TestMatch(t *testing.T) {
	testCases := []struct {
		name     string
		granted  string
		required string
		expected bool
	}{
		{"exact match", "read:workflows", "read:workflows", true},
		{"exact mismatch", "read:workflows", "write:workflows", false},
		{"action wildcard", "read:*", "read:workflows", true},
		{"action wildcard wrong action", "read:*", "write:workflows", false},
		{"resource wildcard", "*:workflows", "delete:workflows", true},
		{"resource wildcard wrong resource", "*:workflows", "delete:users", false},
		{"full wildcard", "*", "anything:at-all", true},
		{"double wildcard grant", "*:*", "read:workflows", true},
		{"grant without colon", "admin", "read:workflows", false},
		{"resource prefix is not a match", "read:work", "read:workflows", false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, Match(testCase.granted, testCase.required))
		})
	}
}

// # Resolution

func TestResolvePermissions(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	t.Run("union across roles is deduplicated", func(t *testing.T) {
		permissions, err := service.ResolvePermissions(ctx, []string{identity.RoleUser, identity.RoleAdmin})
		require.NoError(t, err)

		seen := make(map[string]int)
		for _, permission := range permissions {
			seen[permission]++
		}
		for permission, count := range seen {
			assert.Equal(t, 1, count, "duplicate permission %q", permission)
		}
		assert.Contains(t, permissions, "read:profile")
		assert.Contains(t, permissions, "read:*")
	})

	t.Run("unknown role contributes nothing", func(t *testing.T) {
		withGhost, err := service.ResolvePermissions(ctx, []string{identity.RoleUser, "ghost"})
		require.NoError(t, err)
		alone, err := service.ResolvePermissions(ctx, []string{identity.RoleUser})
		require.NoError(t, err)
		assert.Equal(t, alone, withGhost)
	})

	t.Run("no roles means no permissions", func(t *testing.T) {
		permissions, err := service.ResolvePermissions(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, permissions)
	})

	t.Run("cache key ignores role order", func(t *testing.T) {
		forward, err := service.ResolvePermissions(ctx, []string{identity.RoleUser, identity.RoleAdmin})
		require.NoError(t, err)
		backward, err := service.ResolvePermissions(ctx, []string{identity.RoleAdmin, identity.RoleUser})
		require.NoError(t, err)
		assert.Equal(t, forward, backward)
	})
}

func TestAuthorize(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	testCases := []struct {
		name     string
		roles    []string
		required []string
		allowed  bool
	}{
		{
			name:     "user may read own profile",
			roles:    []string{identity.RoleUser},
			required: []string{"read:profile"},
			allowed:  true,
		},
		{
			name:     "user may not manage roles",
			roles:    []string{identity.RoleUser},
			required: []string{"write:roles"},
			allowed:  false,
		},
		{
			name:     "admin satisfies read via wildcard",
			roles:    []string{identity.RoleAdmin},
			required: []string{"read:anything"},
			allowed:  true,
		},
		{
			name:     "conjunctive check fails on one missing grant",
			roles:    []string{identity.RoleUser},
			required: []string{"read:profile", "write:roles"},
			allowed:  false,
		},
		{
			name:     "super admin satisfies everything",
			roles:    []string{identity.RoleSuperAdmin},
			required: []string{"delete:users", "write:roles", "read:audit"},
			allowed:  true,
		},
		{
			name:     "no roles no access",
			roles:    nil,
			required: []string{"read:profile"},
			allowed:  false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := service.Authorize(ctx, testCase.roles, testCase.required...)
			if testCase.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperr.IsCode(err, "FORBIDDEN"), "got %v", err)
			}
		})
	}
}

// # Role Administration

func TestRoleAdministration(t *testing.T) {
	service, idStore := newTestService(t)
	ctx := context.Background()

	t.Run("create and authorize against custom role", func(t *testing.T) {
		role, err := service.CreateRole(ctx, "Auditor", "Read-only audit access", []string{"read:audit", "read:audit"})
		require.NoError(t, err)
		assert.Equal(t, "auditor", role.Name)
		assert.Equal(t, []string{"read:audit"}, role.Permissions, "duplicates must collapse")

		require.NoError(t, service.Authorize(ctx, []string{"auditor"}, "read:audit"))
	})

	t.Run("system role names are reserved", func(t *testing.T) {
		_, err := service.CreateRole(ctx, "admin", "", nil)
		assert.True(t, apperr.IsCode(err, "IMMUTABLE_ROLE"), "got %v", err)
	})

	t.Run("malformed permission rejected", func(t *testing.T) {
		_, err := service.CreateRole(ctx, "broken", "", []string{"Read Workflows"})
		assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"), "got %v", err)
	})

	t.Run("update invalidates cached resolution", func(t *testing.T) {
		before, err := service.ResolvePermissions(ctx, []string{"auditor"})
		require.NoError(t, err)
		assert.NotContains(t, before, "write:audit")

		_, err = service.UpdateRolePermissions(ctx, "auditor", []string{"read:audit", "write:audit"})
		require.NoError(t, err)

		after, err := service.ResolvePermissions(ctx, []string{"auditor"})
		require.NoError(t, err)
		assert.Contains(t, after, "write:audit")
	})

	t.Run("system roles cannot be updated or deleted", func(t *testing.T) {
		_, err := service.UpdateRolePermissions(ctx, identity.RoleAdmin, []string{"read:nothing"})
		assert.True(t, apperr.IsCode(err, "IMMUTABLE_ROLE"), "got %v", err)

		err = service.DeleteRole(ctx, identity.RoleSuperAdmin)
		assert.True(t, apperr.IsCode(err, "IMMUTABLE_ROLE"), "got %v", err)
	})

	t.Run("role held by a user cannot be deleted", func(t *testing.T) {
		user := &identity.User{
			ID:       uuid.New(),
			Email:    "auditor@example.com",
			Roles:    []string{"auditor"},
			IsActive: true,
		}
		require.NoError(t, idStore.Users.Create(ctx, user))

		err := service.DeleteRole(ctx, "auditor")
		assert.True(t, apperr.IsCode(err, "ROLE_IN_USE"), "got %v", err)

		require.NoError(t, idStore.Users.UpdateRoles(ctx, user.ID, []string{identity.RoleUser}))
		require.NoError(t, service.DeleteRole(ctx, "auditor"))

		_, err = service.GetRole(ctx, "auditor")
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"), "got %v", err)
	})

	t.Run("assign unknown role fails", func(t *testing.T) {
		user := &identity.User{
			ID:       uuid.New(),
			Email:    "bob@example.com",
			Roles:    []string{identity.RoleUser},
			IsActive: true,
		}
		require.NoError(t, idStore.Users.Create(ctx, user))

		err := service.AssignRoles(ctx, user.ID, []string{"does-not-exist"})
		assert.True(t, apperr.IsCode(err, "NOT_FOUND"), "got %v", err)
	})
}
