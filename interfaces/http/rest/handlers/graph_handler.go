package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"graphsync/pkg/utils"
)

// GraphHandler serves the live view and caller statements
type GraphHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(e Engine, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{engine: e, logger: logger}
}

// QueryRequest is the body of POST /queries
type QueryRequest struct {
	Statement string `json:"statement" validate:"required,max=10000"`
}

// GetGraph handles GET /graph
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.View())
}

// Reload handles POST /graph/reload
func (h *GraphHandler) Reload(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.engine.Reload(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"outcome": outcome})
}

// RunQuery handles POST /queries. Invalid statements come back with
// accepted=false and a reason; refused mutations are errors.
func (h *GraphHandler) RunQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := h.engine.RunQuery(r.Context(), req.Statement)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetConfig handles GET /config
func (h *GraphHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Config())
}
