// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// RBAC administration endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-id/sentra/internal/platform/middleware"
	requestutil "github.com/sentra-id/sentra/internal/platform/request"
	"github.com/sentra-id/sentra/internal/platform/respond"
	"github.com/sentra-id/sentra/internal/rbac"
)

// RoleHandler implements the role administration HTTP endpoints.
type RoleHandler struct {
	rbacService *rbac.Service
}

// NewRoleHandler constructs a new [RoleHandler].
func NewRoleHandler(rbacService *rbac.Service) *RoleHandler {
	return &RoleHandler{rbacService: rbacService}
}

// Routes returns a [chi.Router] with the role administration routes.
//
// # Endpoints
//   - GET    /            : Lists all role definitions.        (read:roles)
//   - POST   /            : Creates a custom role.             (write:roles)
//   - GET    /{name}      : Returns one role definition.       (read:roles)
//   - PUT    /{name}      : Replaces a role's permissions.     (write:roles)
//   - DELETE /{name}      : Deletes an unassigned custom role. (delete:roles)
//   - GET    /permissions : Resolves the caller's permissions. (authenticated)
func (handler *RoleHandler) Routes(authorizer middleware.Authorizer) chi.Router {
	router := chi.NewRouter()

	router.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireAuth)
		authed.Get("/permissions", handler.myPermissions)
	})

	router.Group(func(readers chi.Router) {
		readers.Use(middleware.RequirePermission(authorizer, "read:roles"))
		readers.Get("/", handler.list)
		readers.Get("/{name}", handler.get)
	})

	router.Group(func(writers chi.Router) {
		writers.Use(middleware.RequirePermission(authorizer, "write:roles"))
		writers.Post("/", handler.create)
		writers.Put("/{name}", handler.updatePermissions)
	})

	router.Group(func(deleters chi.Router) {
		deleters.Use(middleware.RequirePermission(authorizer, "delete:roles"))
		deleters.Delete("/{name}", handler.remove)
	})

	return router
}

// list handles GET /api/v1/roles requests.
func (handler *RoleHandler) list(writer http.ResponseWriter, request *http.Request) {
	roles, err := handler.rbacService.ListRoles(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, roles)
}

// get handles GET /api/v1/roles/{name} requests.
func (handler *RoleHandler) get(writer http.ResponseWriter, request *http.Request) {
	role, err := handler.rbacService.GetRole(request.Context(), requestutil.Param(request, "name"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, role)
}

// roleRequest is the JSON payload for creating or updating a role.
type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// create handles POST /api/v1/roles requests.
//
// # Returns
//   - HTTP 201 Created with the role definition.
//   - HTTP 403 IMMUTABLE_ROLE when the name shadows a system role.
//   - HTTP 409 Conflict when the name is taken.
func (handler *RoleHandler) create(writer http.ResponseWriter, request *http.Request) {
	var input roleRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	role, err := handler.rbacService.CreateRole(request.Context(), input.Name, input.Description, input.Permissions)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, role)
}

// updatePermissions handles PUT /api/v1/roles/{name} requests.
func (handler *RoleHandler) updatePermissions(writer http.ResponseWriter, request *http.Request) {
	var input roleRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	role, err := handler.rbacService.UpdateRolePermissions(request.Context(), requestutil.Param(request, "name"), input.Permissions)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, role)
}

// remove handles DELETE /api/v1/roles/{name} requests.
//
// # Returns
//   - HTTP 204 on success.
//   - HTTP 403 IMMUTABLE_ROLE for system roles.
//   - HTTP 409 ROLE_IN_USE while any user still holds the role.
func (handler *RoleHandler) remove(writer http.ResponseWriter, request *http.Request) {
	if err := handler.rbacService.DeleteRole(request.Context(), requestutil.Param(request, "name")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// permissionsResponse is the resolved permission view for the caller.
type permissionsResponse struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// myPermissions handles GET /api/v1/roles/permissions requests: the caller's
// effective permission set, resolved from their token's role claims.
func (handler *RoleHandler) myPermissions(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)

	permissions, err := handler.rbacService.ResolvePermissions(request.Context(), claims.Roles)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, permissionsResponse{
		Roles:       claims.Roles,
		Permissions: permissions,
	})
}
