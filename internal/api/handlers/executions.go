package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/runtime"
	"github.com/procflow/procflow/internal/store"
)

// ExecutionHandler handles execution lifecycle and activity requests.
type ExecutionHandler struct {
	manager *runtime.Manager
	logger  logger.Logger
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(manager *runtime.Manager, logger logger.Logger) *ExecutionHandler {
	return &ExecutionHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers execution routes.
func (h *ExecutionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/definitions/{id}/executions", h.Start).Methods("POST")
	router.HandleFunc("/executions", h.List).Methods("GET")
	router.HandleFunc("/executions/{id}", h.Get).Methods("GET")
	router.HandleFunc("/executions/{id}", h.Cancel).Methods("DELETE")
	router.HandleFunc("/executions/{id}/nodes", h.ListNodeExecutions).Methods("GET")
	router.HandleFunc("/executions/{id}/activities", h.ListWaiting).Methods("GET")
	router.HandleFunc("/executions/{id}/activities/{nodeId}/complete", h.CompleteActivity).Methods("POST")
}

type startExecutionRequest struct {
	Data map[string]interface{} `json:"data"`
}

type completeActivityRequest struct {
	TokenID string                 `json:"token_id"`
	Data    map[string]interface{} `json:"data"`
}

// Start launches a new execution of a stored definition.
func (h *ExecutionHandler) Start(w http.ResponseWriter, r *http.Request) {
	definitionID := mux.Vars(r)["id"]

	var req startExecutionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	exec, err := h.manager.StartExecution(r.Context(), definitionID, req.Data)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Definition not found")
			return
		}
		h.logger.Error("Failed to start execution", "error", err, "definition_id", definitionID)
		respondError(w, http.StatusInternalServerError, "Failed to start execution")
		return
	}

	respondJSON(w, http.StatusCreated, exec)
}

// Get returns one execution with its current state.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	exec, err := h.manager.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Execution not found")
			return
		}
		h.logger.Error("Failed to get execution", "error", err, "execution_id", id)
		respondError(w, http.StatusInternalServerError, "Failed to get execution")
		return
	}

	respondJSON(w, http.StatusOK, exec)
}

// List returns executions, newest first.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	execs, err := h.manager.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list executions", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"executions": execs})
}

// Cancel stops a running execution.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.manager.CancelExecution(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, runtime.ErrExecutionFinished):
			respondError(w, http.StatusConflict, "Execution is no longer running")
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "Execution not found")
		default:
			h.logger.Error("Failed to cancel execution", "error", err, "execution_id", id)
			respondError(w, http.StatusInternalServerError, "Failed to cancel execution")
		}
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// ListNodeExecutions returns the audit trail of one execution.
func (h *ExecutionHandler) ListNodeExecutions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	recs, err := h.manager.ListNodeExecutions(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list node executions", "error", err, "execution_id", id)
		respondError(w, http.StatusInternalServerError, "Failed to list node executions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"nodeExecutions": recs})
}

// ListWaiting returns tokens paused at user and manual activities,
// optionally filtered by node_id.
func (h *ExecutionHandler) ListWaiting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	nodeID := r.URL.Query().Get("node_id")

	tokens, err := h.manager.ListWaiting(id, nodeID)
	if err != nil {
		if errors.Is(err, runtime.ErrExecutionFinished) {
			respondError(w, http.StatusConflict, "Execution is no longer running")
			return
		}
		h.logger.Error("Failed to list waiting tokens", "error", err, "execution_id", id)
		respondError(w, http.StatusInternalServerError, "Failed to list waiting tokens")
		return
	}
	if tokens == nil {
		tokens = []engine.WaitingToken{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"waiting": tokens})
}

// CompleteActivity resumes a waiting token with external data. Without a
// token_id the oldest token waiting at the node is resumed.
func (h *ExecutionHandler) CompleteActivity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	nodeID := vars["nodeId"]

	var req completeActivityRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var (
		token engine.Token
		err   error
	)
	if req.TokenID != "" {
		token, err = h.manager.CompleteActivity(id, nodeID, req.TokenID, req.Data)
	} else {
		token, err = h.manager.TriggerUserTask(id, nodeID, req.Data)
	}
	if err != nil {
		switch {
		case errors.Is(err, runtime.ErrExecutionFinished):
			respondError(w, http.StatusConflict, "Execution is no longer running")
		case errors.Is(err, engine.ErrTokenNotWaiting):
			respondError(w, http.StatusNotFound, "No matching waiting token")
		case errors.Is(err, engine.ErrTokenAtDifferentNode):
			respondError(w, http.StatusConflict, "Token is waiting at a different node")
		case errors.Is(err, engine.ErrNotAnActivity):
			respondError(w, http.StatusBadRequest, "Node does not accept external completion")
		default:
			h.logger.Error("Failed to complete activity",
				"error", err, "execution_id", id, "node_id", nodeID)
			respondError(w, http.StatusInternalServerError, "Failed to complete activity")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}
