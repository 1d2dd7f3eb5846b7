package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"graphsync/application/timeline"
	apperrors "graphsync/pkg/errors"
)

// TimelineHandler handles timeline mode and point-in-time reads
type TimelineHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewTimelineHandler creates a new timeline handler
func NewTimelineHandler(e Engine, logger *zap.Logger) *TimelineHandler {
	return &TimelineHandler{engine: e, logger: logger}
}

// StepRequest moves the cursor. Delta is a Go duration; only the step
// sizes the mode offers are accepted.
type StepRequest struct {
	Delta string `json:"delta"`
}

// SeekRequest moves the cursor to an absolute time.
type SeekRequest struct {
	At time.Time `json:"at"`
}

var allowedSteps = map[time.Duration]bool{
	timeline.StepSmall:  true,
	-timeline.StepSmall: true,
	timeline.StepLarge:  true,
	-timeline.StepLarge: true,
}

// Bounds handles GET /timeline/bounds
func (h *TimelineHandler) Bounds(w http.ResponseWriter, r *http.Request) {
	window, err := h.engine.TimelineBounds(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, window)
}

// Snapshot handles GET /timeline/snapshot?at=RFC3339
func (h *TimelineHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		respondError(w, h.logger, apperrors.NewValidationError("at is required"))
		return
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(w, h.logger, apperrors.NewValidationError("at must be an RFC3339 time"))
		return
	}
	snap, err := h.engine.TimelineSnapshot(r.Context(), at)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Enter handles POST /timeline/enter
func (h *TimelineHandler) Enter(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, func() (timeline.View, error) { return h.engine.EnterTimeline(r.Context()) })
}

// Step handles POST /timeline/step
func (h *TimelineHandler) Step(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	delta, err := time.ParseDuration(req.Delta)
	if err != nil || !allowedSteps[delta] {
		respondError(w, h.logger, apperrors.NewValidationError("delta must be one of 1m, -1m, 5m, -5m"))
		return
	}
	h.respondView(w, func() (timeline.View, error) { return h.engine.StepTimeline(r.Context(), delta) })
}

// Now handles POST /timeline/now
func (h *TimelineHandler) Now(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, func() (timeline.View, error) { return h.engine.TimelineNow(r.Context()) })
}

// Seek handles POST /timeline/seek
func (h *TimelineHandler) Seek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := decode(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.At.IsZero() {
		respondError(w, h.logger, apperrors.NewValidationError("at is required"))
		return
	}
	h.respondView(w, func() (timeline.View, error) { return h.engine.SeekTimeline(r.Context(), req.At) })
}

// Leave handles POST /timeline/leave
func (h *TimelineHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.engine.LeaveTimeline()
	w.WriteHeader(http.StatusNoContent)
}

func (h *TimelineHandler) respondView(w http.ResponseWriter, fn func() (timeline.View, error)) {
	view, err := fn()
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
