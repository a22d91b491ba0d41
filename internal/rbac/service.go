// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package rbac

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/validate"
	"github.com/sentra-id/sentra/pkg/slice"
)

/*
Service resolves role names to permission sets and manages role definitions.

# Caching

Resolution runs on every authorized request, so resolved permission sets are
cached in-process keyed by the sorted role-name tuple. The cache is dropped
wholesale on ANY role mutation: mutations are administrative and rare, and a
coarse invalidation can never serve a stale grant, which a per-key strategy
could get wrong.

# Unknown Roles

A role name on a user that no longer resolves (deleted concurrently, stale
token claim) contributes NO permissions rather than failing the request: the
user keeps whatever their remaining roles grant.
*/
type Service struct {
	roles  identity.RoleStore
	users  identity.UserStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]string
}

// NewService creates a new RBAC service.
func NewService(roles identity.RoleStore, users identity.UserStore, logger *slog.Logger) *Service {
	return &Service{
		roles:  roles,
		users:  users,
		logger: logger,
		cache:  make(map[string][]string),
	}
}

// # Resolution

/*
ResolvePermissions returns the union of permissions granted by the given
roles, deduplicated and sorted.

Parameters:
  - ctx: context.Context
  - roleNames: The caller's role set, typically from verified token claims.

Returns:
  - []string: The effective permission set. Never nil; empty for no roles.
  - error: Storage failure while loading an uncached role.
*/
func (service *Service) ResolvePermissions(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return []string{}, nil
	}

	key := cacheKey(roleNames)

	service.mu.RLock()
	cached, ok := service.cache[key]
	service.mu.RUnlock()
	if ok {
		return cached, nil
	}

	permissionSet := make(map[string]struct{})
	for _, roleName := range roleNames {
		role, err := service.roles.FindByName(ctx, roleName)
		if err != nil {
			if apperr.IsCode(err, "NOT_FOUND") {
				service.logger.Warn("unknown role skipped during resolution",
					slog.String("role", roleName),
				)
				continue
			}
			return nil, err
		}
		for _, permission := range role.Permissions {
			permissionSet[permission] = struct{}{}
		}
	}

	permissions := make([]string, 0, len(permissionSet))
	for permission := range permissionSet {
		permissions = append(permissions, permission)
	}
	sort.Strings(permissions)

	service.mu.Lock()
	service.cache[key] = permissions
	service.mu.Unlock()

	return permissions, nil
}

/*
Authorize checks that the role set satisfies EVERY required permission.

The check is conjunctive: an operation demanding both "write:roles" and
"read:users" fails unless both are granted (directly or via wildcard).

Returns:
  - nil when all requirements are satisfied.
  - apperr.Forbidden naming nothing about which requirement failed.
*/
func (service *Service) Authorize(ctx context.Context, roleNames []string, required ...string) error {
	granted, err := service.ResolvePermissions(ctx, roleNames)
	if err != nil {
		return err
	}

	for _, requirement := range required {
		if !MatchAny(granted, requirement) {
			return apperr.Forbidden("Insufficient permissions")
		}
	}
	return nil
}

// # Role Administration

// ListRoles returns every role definition.
func (service *Service) ListRoles(ctx context.Context) ([]identity.Role, error) {
	return service.roles.List(ctx)
}

// GetRole returns a single role definition by name.
func (service *Service) GetRole(ctx context.Context, name string) (*identity.Role, error) {
	return service.roles.FindByName(ctx, name)
}

/*
CreateRole defines a new custom role.

System role names are reserved even when the definition does not yet exist in
storage, so a fresh deployment cannot be raced into shadowing "admin".
*/
func (service *Service) CreateRole(ctx context.Context, name, description string, permissions []string) (*identity.Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	validator := (&validate.Validator{}).
		Required("name", name).
		MaxLen("name", name, 64).
		MaxLen("description", description, 256)
	for _, permission := range permissions {
		validator.Permission("permissions", permission)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	if identity.IsSystemRole(name) {
		return nil, apperr.ImmutableRole(name)
	}

	role := &identity.Role{
		Name:        name,
		Description: description,
		Permissions: slice.SortedUnique(permissions),
		IsSystem:    false,
	}

	if err := service.roles.Create(ctx, role); err != nil {
		return nil, err
	}

	service.invalidate()
	service.logger.Info("role created", slog.String("role", name))
	return role, nil
}

// UpdateRolePermissions replaces a custom role's permission set. System roles
// are immutable.
func (service *Service) UpdateRolePermissions(ctx context.Context, name string, permissions []string) (*identity.Role, error) {
	validator := &validate.Validator{}
	for _, permission := range permissions {
		validator.Permission("permissions", permission)
	}
	if err := validator.Err(); err != nil {
		return nil, err
	}

	role, err := service.roles.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, apperr.ImmutableRole(name)
	}

	deduped := slice.SortedUnique(permissions)
	if err := service.roles.UpdatePermissions(ctx, name, deduped); err != nil {
		return nil, err
	}
	role.Permissions = deduped

	service.invalidate()
	service.logger.Info("role permissions updated", slog.String("role", name))
	return role, nil
}

/*
DeleteRole removes a custom role definition.

A role still assigned to any user cannot be deleted: deleting it would
silently shrink those users' permissions, so the conflict is surfaced and the
administrator must reassign first.
*/
func (service *Service) DeleteRole(ctx context.Context, name string) error {
	role, err := service.roles.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperr.ImmutableRole(name)
	}

	holders, err := service.users.CountWithRole(ctx, name)
	if err != nil {
		return err
	}
	if holders > 0 {
		return apperr.RoleInUse(name)
	}

	if err := service.roles.Delete(ctx, name); err != nil {
		return err
	}

	service.invalidate()
	service.logger.Info("role deleted", slog.String("role", name))
	return nil
}

// AssignRoles replaces a user's role set after checking every role exists.
func (service *Service) AssignRoles(ctx context.Context, userID string, roleNames []string) error {
	deduped := slice.SortedUnique(roleNames)
	for _, roleName := range deduped {
		if _, err := service.roles.FindByName(ctx, roleName); err != nil {
			return err
		}
	}
	return service.users.UpdateRoles(ctx, userID, deduped)
}

// # Internals

// invalidate drops the whole resolution cache.
func (service *Service) invalidate() {
	service.mu.Lock()
	service.cache = make(map[string][]string)
	service.mu.Unlock()
}

// cacheKey builds a canonical key from a role set; order must not matter.
func cacheKey(roleNames []string) string {
	sorted := append([]string(nil), roleNames...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
