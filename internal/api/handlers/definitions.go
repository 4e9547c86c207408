package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/runtime"
	"github.com/procflow/procflow/internal/store"
)

// DefinitionHandler handles definition CRUD requests.
type DefinitionHandler struct {
	manager *runtime.Manager
	logger  logger.Logger
}

// NewDefinitionHandler creates a definition handler.
func NewDefinitionHandler(manager *runtime.Manager, logger logger.Logger) *DefinitionHandler {
	return &DefinitionHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers definition routes.
func (h *DefinitionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/definitions", h.Create).Methods("POST")
	router.HandleFunc("/definitions", h.List).Methods("GET")
	router.HandleFunc("/definitions/{id}", h.Get).Methods("GET")
	router.HandleFunc("/definitions/{id}", h.Delete).Methods("DELETE")
}

// definitionResponse is the API shape of a stored definition: the raw
// document inlined next to the record metadata.
type definitionResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Document   json.RawMessage `json:"document"`
	InsertedAt string          `json:"insertedAt"`
	UpdatedAt  string          `json:"updatedAt"`
}

func toDefinitionResponse(rec *execution.DefinitionRecord) definitionResponse {
	return definitionResponse{
		ID:         rec.ID,
		Name:       rec.Name,
		Document:   json.RawMessage(rec.Document),
		InsertedAt: rec.InsertedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:  rec.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// Create stores a new definition document.
func (h *DefinitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	rec, err := h.manager.CreateDefinition(r.Context(), body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, toDefinitionResponse(rec))
}

// Get returns a stored definition.
func (h *DefinitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.manager.GetDefinition(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Definition not found")
			return
		}
		h.logger.Error("Failed to get definition", "error", err, "definition_id", id)
		respondError(w, http.StatusInternalServerError, "Failed to get definition")
		return
	}

	respondJSON(w, http.StatusOK, toDefinitionResponse(rec))
}

// List returns stored definitions, newest first.
func (h *DefinitionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	recs, err := h.manager.ListDefinitions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list definitions", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list definitions")
		return
	}

	out := make([]definitionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDefinitionResponse(rec))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"definitions": out})
}

// Delete removes a stored definition.
func (h *DefinitionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.DeleteDefinition(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Definition not found")
			return
		}
		h.logger.Error("Failed to delete definition", "error", err, "definition_id", id)
		respondError(w, http.StatusInternalServerError, "Failed to delete definition")
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}
