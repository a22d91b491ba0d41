// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// Machine-credential management endpoints.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-id/sentra/internal/account"
	"github.com/sentra-id/sentra/internal/admission"
	"github.com/sentra-id/sentra/internal/identity"
	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/middleware"
	requestutil "github.com/sentra-id/sentra/internal/platform/request"
	"github.com/sentra-id/sentra/internal/platform/respond"
)

// ApiKeyHandler implements the API-key management HTTP endpoints. All routes
// operate on the authenticated caller's own keys.
type ApiKeyHandler struct {
	accounts *account.Service
	usage    *admission.Recorder
}

// NewApiKeyHandler constructs a new [ApiKeyHandler].
func NewApiKeyHandler(accounts *account.Service, usage *admission.Recorder) *ApiKeyHandler {
	return &ApiKeyHandler{accounts: accounts, usage: usage}
}

// Routes returns a [chi.Router] with the key management routes.
//
// # Endpoints
//   - GET    /            : Lists the caller's keys (prefix only).
//   - POST   /            : Creates a key; the secret is returned ONCE.
//   - DELETE /{id}        : Revokes one of the caller's keys.
//   - GET    /{id}/usage  : Today's usage counters for one key.
func (handler *ApiKeyHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequireAuth)

	router.Get("/", handler.list)
	router.Post("/", handler.create)
	router.Delete("/{id}", handler.revoke)
	router.Get("/{id}/usage", handler.keyUsage)

	return router
}

// list handles GET /api/v1/apikeys requests.
func (handler *ApiKeyHandler) list(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)

	keys, err := handler.accounts.ListApiKeys(request.Context(), claims.UserID())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, keys)
}

// createKeyRequest is the JSON payload for minting a key.
type createKeyRequest struct {
	Scopes    []string   `json:"scopes"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// create handles POST /api/v1/apikeys requests.
//
// # Returns
//   - HTTP 201 Created with the record AND the plaintext secret. This is the
//     only response that will ever contain the secret.
func (handler *ApiKeyHandler) create(writer http.ResponseWriter, request *http.Request) {
	var input createKeyRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	claims := requestutil.Claims(request)

	created, err := handler.accounts.CreateApiKey(
		request.Context(),
		claims.UserID(),
		input.Scopes,
		identity.Tier(input.Tier),
		input.ExpiresAt,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created)
}

// revoke handles DELETE /api/v1/apikeys/{id} requests.
func (handler *ApiKeyHandler) revoke(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)

	if err := handler.accounts.RevokeApiKey(request.Context(), claims.UserID(), requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// keyUsage handles GET /api/v1/apikeys/{id}/usage requests.
func (handler *ApiKeyHandler) keyUsage(writer http.ResponseWriter, request *http.Request) {
	claims := requestutil.Claims(request)
	keyID := requestutil.Param(request, "id")

	// Ownership check first: usage data for someone else's key is a 404,
	// same as a key that does not exist.
	keys, err := handler.accounts.ListApiKeys(request.Context(), claims.UserID())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	owned := false
	for _, key := range keys {
		if key.ID == keyID {
			owned = true
			break
		}
	}
	if !owned {
		respond.Error(writer, request, apperr.NotFound("API key"))
		return
	}

	stats, err := handler.usage.Stats(request.Context(), keyID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, stats)
}
