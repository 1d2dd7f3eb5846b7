package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"graphsync/application/engine"
	"graphsync/application/timeline"
	"graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/services"
	apperrors "graphsync/pkg/errors"
)

// Engine is the part of the engine facade the handlers drive.
type Engine interface {
	View() engine.View
	RunQuery(ctx context.Context, text string) (*engine.QueryResult, error)
	Reload(ctx context.Context) (string, error)

	CreateEntity(ctx context.Context, req engine.CreateEntityRequest) (*engine.CreateEntityResult, error)
	RenameEntity(ctx context.Context, oldName, newName string) (bool, error)
	UpdateEntity(ctx context.Context, name string, attrs entities.Attributes) error
	SetRelationNote(ctx context.Context, source, target, note string) error

	Search(text string) bool
	Click(name string) bool
	ClearFocus()
	Touch()
	SetVisible(visible bool)
	ReportPositions(positions map[string]valueobjects.Position)

	TimelineBounds(ctx context.Context) (services.TimelineWindow, error)
	TimelineSnapshot(ctx context.Context, t time.Time) (*aggregates.Snapshot, error)
	EnterTimeline(ctx context.Context) (timeline.View, error)
	StepTimeline(ctx context.Context, delta time.Duration) (timeline.View, error)
	TimelineNow(ctx context.Context) (timeline.View, error)
	SeekTimeline(ctx context.Context, t time.Time) (timeline.View, error)
	LeaveTimeline()

	Config() *config.EngineConfig
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure
type ErrorBody struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError maps an AppError to its HTTP status; anything else is a 500
// with a generic message.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		logger.Error("Unhandled error", zap.Error(err))
		appErr = apperrors.NewInternalError("internal server error")
	} else if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Warn("Request failed", zap.Error(err))
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, ErrorResponse{Error: ErrorBody{
		Type:    string(appErr.Type),
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}
