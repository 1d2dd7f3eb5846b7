package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"graphsync/application/engine"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	apperrors "graphsync/pkg/errors"
	"graphsync/pkg/utils"
)

// EntityHandler handles entity and relation writes
type EntityHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(e Engine, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{engine: e, logger: logger}
}

// UpdateEntityRequest is the body of PATCH /entities/{name}. Attributes
// are applied before the rename.
type UpdateEntityRequest struct {
	NewName    *string              `json:"newName,omitempty" validate:"omitempty,min=1,max=200"`
	Attributes *entities.Attributes `json:"attributes,omitempty"`
}

// UpdateEntityResponse reports what the update did
type UpdateEntityResponse struct {
	Name     string `json:"name"`
	Renamed  bool   `json:"renamed"`
	Collided bool   `json:"collided"`
}

// RelationNoteRequest is the body of PUT /relations/{source}/{target}/note
type RelationNoteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// CreateEntity handles POST /entities
func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateEntityRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := h.engine.CreateEntity(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// UpdateEntity handles PATCH /entities/{name}
func (h *EntityHandler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req UpdateEntityRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.NewName == nil && req.Attributes == nil {
		respondError(w, h.logger, apperrors.NewValidationError("nothing to update"))
		return
	}

	resp := UpdateEntityResponse{Name: name}
	if req.Attributes != nil {
		if err := h.engine.UpdateEntity(r.Context(), name, *req.Attributes); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	if req.NewName != nil {
		collided, err := h.engine.RenameEntity(r.Context(), name, *req.NewName)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		resp.Renamed = true
		resp.Collided = collided
		if canonical, err := valueobjects.NewCanonicalName(*req.NewName); err == nil {
			resp.Name = canonical.String()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// SetRelationNote handles PUT /relations/{source}/{target}/note
func (h *EntityHandler) SetRelationNote(w http.ResponseWriter, r *http.Request) {
	source, err := pathParam(r, "source")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	target, err := pathParam(r, "target")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req RelationNoteRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	if err := h.engine.SetRelationNote(r.Context(), source, target, req.Note); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	value, err := url.PathUnescape(raw)
	if err != nil || value == "" {
		return "", apperrors.NewValidationError(key + " is required")
	}
	return value, nil
}
