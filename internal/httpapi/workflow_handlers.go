// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

// The API-key-gated machine surface.
package httpapi

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-id/sentra/internal/platform/apperr"
	"github.com/sentra-id/sentra/internal/platform/middleware"
	requestutil "github.com/sentra-id/sentra/internal/platform/request"
	"github.com/sentra-id/sentra/internal/platform/respond"
	"github.com/sentra-id/sentra/internal/platform/validate"
	"github.com/sentra-id/sentra/internal/rbac"
	"github.com/sentra-id/sentra/pkg/slice"
	"github.com/sentra-id/sentra/pkg/uuid"
)

// Workflow is the sample machine-facing resource gated by API keys. It keeps
// the admission path honest end to end without dragging in a real execution
// engine.
type Workflow struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowHandler implements the gated sample endpoints. Authentication and
// rate limiting happen in the [middleware.ApiKeyGate] mounted above; this
// handler only enforces key scopes.
type WorkflowHandler struct {
	mu        sync.RWMutex
	workflows map[string]Workflow
}

// NewWorkflowHandler constructs a new [WorkflowHandler].
func NewWorkflowHandler() *WorkflowHandler {
	return &WorkflowHandler{workflows: make(map[string]Workflow)}
}

// Routes returns a [chi.Router] with the workflow routes.
//
// # Endpoints
//   - GET  / : Lists the key owner's workflows. (scope read:workflows)
//   - POST / : Creates a workflow.              (scope write:workflows)
func (handler *WorkflowHandler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.list)
	router.Post("/", handler.create)

	return router
}

// requireScope checks the authenticated key's scopes against a requirement.
// Scopes use the same "action:resource" grammar and wildcards as RBAC
// permissions.
func requireScope(request *http.Request, required string) error {
	key := middleware.GetApiKey(request.Context())
	if key == nil {
		return apperr.Unauthorized("API key required")
	}
	if !rbac.MatchAny(key.Scopes, required) {
		return apperr.Forbidden("API key lacks required scope")
	}
	return nil
}

// list handles GET /api/v1/workflows requests.
func (handler *WorkflowHandler) list(writer http.ResponseWriter, request *http.Request) {
	if err := requireScope(request, "read:workflows"); err != nil {
		respond.Error(writer, request, err)
		return
	}
	ownerID := middleware.GetApiKey(request.Context()).UserID

	handler.mu.RLock()
	all := make([]Workflow, 0, len(handler.workflows))
	for _, workflow := range handler.workflows {
		all = append(all, workflow)
	}
	handler.mu.RUnlock()

	owned := slice.Filter(all, func(workflow Workflow) bool { return workflow.OwnerID == ownerID })
	if owned == nil {
		owned = []Workflow{}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	respond.OK(writer, owned)
}

// createWorkflowRequest is the JSON payload for creating a workflow.
type createWorkflowRequest struct {
	Name string `json:"name"`
}

// create handles POST /api/v1/workflows requests.
func (handler *WorkflowHandler) create(writer http.ResponseWriter, request *http.Request) {
	if err := requireScope(request, "write:workflows"); err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input createWorkflowRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if err := (&validate.Validator{}).
		Required("name", input.Name).
		MaxLen("name", input.Name, 128).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	workflow := Workflow{
		ID:        uuid.New(),
		OwnerID:   middleware.GetApiKey(request.Context()).UserID,
		Name:      input.Name,
		CreatedAt: time.Now(),
	}

	handler.mu.Lock()
	handler.workflows[workflow.ID] = workflow
	handler.mu.Unlock()

	respond.Created(writer, workflow)
}
