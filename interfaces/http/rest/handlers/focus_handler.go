package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"graphsync/application/focus"
	"graphsync/domain/core/valueobjects"
	"graphsync/pkg/utils"
)

// FocusHandler handles focus, activity and visibility input
type FocusHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewFocusHandler creates a new focus handler
func NewFocusHandler(e Engine, logger *zap.Logger) *FocusHandler {
	return &FocusHandler{engine: e, logger: logger}
}

type SearchRequest struct {
	Text string `json:"text" validate:"max=200"`
}

type ClickRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type VisibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

type PositionsRequest struct {
	Positions map[string]valueobjects.Position `json:"positions" validate:"required"`
}

// FocusResponse reports whether the input changed focus and the state after
type FocusResponse struct {
	Accepted bool        `json:"accepted"`
	Focus    focus.State `json:"focus"`
}

// Search handles POST /focus/search
func (h *FocusHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	accepted := h.engine.Search(req.Text)
	respondJSON(w, http.StatusOK, FocusResponse{Accepted: accepted, Focus: h.engine.View().Focus})
}

// Click handles POST /focus/click
func (h *FocusHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	accepted := h.engine.Click(req.Name)
	respondJSON(w, http.StatusOK, FocusResponse{Accepted: accepted, Focus: h.engine.View().Focus})
}

// Clear handles POST /focus/clear
func (h *FocusHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearFocus()
	respondJSON(w, http.StatusOK, FocusResponse{Accepted: true, Focus: h.engine.View().Focus})
}

// Activity handles POST /activity
func (h *FocusHandler) Activity(w http.ResponseWriter, r *http.Request) {
	h.engine.Touch()
	w.WriteHeader(http.StatusNoContent)
}

// SetVisibility handles PUT /visibility
func (h *FocusHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	h.engine.SetVisible(*req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

// ReportPositions handles PUT /positions
func (h *FocusHandler) ReportPositions(w http.ResponseWriter, r *http.Request) {
	var req PositionsRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	h.engine.ReportPositions(req.Positions)
	w.WriteHeader(http.StatusNoContent)
}
