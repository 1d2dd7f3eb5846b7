package timeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/services"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

// Cursor steps offered to callers.
const (
	StepSmall = time.Minute
	StepLarge = 5 * time.Minute
)

// LiveSync is the polling side that timeline mode suspends.
type LiveSync interface {
	Suspend()
	Resume()
}

// Ambient is the idle animation flag that timeline mode pauses.
type Ambient interface {
	Pause()
	Resume()
}

// View is what the timeline surface shows.
type View struct {
	Active   bool                    `json:"active"`
	Window   services.TimelineWindow `json:"window"`
	Cursor   time.Time               `json:"cursor"`
	Snapshot *aggregates.Snapshot    `json:"snapshot,omitempty"`
}

// Service runs timeline mode. Every cursor move re-reads the full graph and
// rebuilds the point-in-time snapshot from scratch.
type Service struct {
	store   ports.GraphStore
	live    LiveSync
	ambient Ambient
	config  *domainconfig.Holder
	clock   clock.Clock
	logger  *zap.Logger

	mu   sync.Mutex
	view View
}

// NewService creates a timeline service. live and ambient may be nil.
func NewService(store ports.GraphStore, live LiveSync, ambient Ambient, config *domainconfig.Holder, clk clock.Clock, logger *zap.Logger) *Service {
	if config == nil {
		config = domainconfig.NewHolder(nil)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, live: live, ambient: ambient, config: config, clock: clk, logger: logger}
}

// Bounds reads the graph and returns its timeline window.
func (s *Service) Bounds(ctx context.Context) (services.TimelineWindow, error) {
	full, err := s.read(ctx)
	if err != nil {
		return services.TimelineWindow{}, err
	}
	return s.bounds(full), nil
}

// SnapshotAt reads the graph and returns its state at t.
func (s *Service) SnapshotAt(ctx context.Context, t time.Time) (*aggregates.Snapshot, error) {
	full, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return services.SnapshotAt(full, t), nil
}

// Enter switches to timeline mode with the cursor at the latest bound.
// Live polling and the ambient flag stay suspended until Leave.
func (s *Service) Enter(ctx context.Context) (View, error) {
	full, err := s.read(ctx)
	if err != nil {
		return View{}, err
	}
	w := s.bounds(full)

	s.mu.Lock()
	wasActive := s.view.Active
	s.view = View{Active: true, Window: w, Cursor: w.Latest, Snapshot: services.SnapshotAt(full, w.Latest)}
	out := s.view
	s.mu.Unlock()

	if !wasActive {
		if s.live != nil {
			s.live.Suspend()
		}
		if s.ambient != nil {
			s.ambient.Pause()
		}
		s.logger.Info("Entered timeline mode",
			zap.Time("earliest", w.Earliest),
			zap.Time("latest", w.Latest),
			zap.Bool("fallback", w.Fallback),
		)
	}
	return out, nil
}

// Step moves the cursor by delta, clamped to the window.
func (s *Service) Step(ctx context.Context, delta time.Duration) (View, error) {
	if delta == 0 {
		return View{}, apperrors.NewValidationError("step must not be zero")
	}
	return s.move(ctx, func(v View) time.Time { return v.Cursor.Add(delta) })
}

// Now moves the cursor to the current time, clamped to the window.
func (s *Service) Now(ctx context.Context) (View, error) {
	return s.move(ctx, func(View) time.Time { return s.clock.Now() })
}

// Seek moves the cursor to t, clamped to the window.
func (s *Service) Seek(ctx context.Context, t time.Time) (View, error) {
	return s.move(ctx, func(View) time.Time { return t })
}

func (s *Service) move(ctx context.Context, next func(View) time.Time) (View, error) {
	s.mu.Lock()
	current := s.view
	s.mu.Unlock()
	if !current.Active {
		return View{}, apperrors.NewConflictError("timeline mode is not active")
	}

	full, err := s.read(ctx)
	if err != nil {
		return View{}, err
	}
	w := s.bounds(full)
	cursor := w.Clamp(next(current))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.view.Active {
		return View{}, apperrors.NewConflictError("timeline mode is not active")
	}
	s.view = View{Active: true, Window: w, Cursor: cursor, Snapshot: services.SnapshotAt(full, cursor)}
	return s.view, nil
}

// Leave discards the window and cursor and resumes live polling.
func (s *Service) Leave() {
	s.mu.Lock()
	wasActive := s.view.Active
	s.view = View{}
	s.mu.Unlock()

	if !wasActive {
		return
	}
	if s.ambient != nil {
		s.ambient.Resume()
	}
	if s.live != nil {
		s.live.Resume()
	}
	s.logger.Info("Left timeline mode")
}

// View returns the current timeline view; Active is false outside the mode.
func (s *Service) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Active reports whether timeline mode is on.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Active
}

func (s *Service) read(ctx context.Context) (*aggregates.Snapshot, error) {
	rows, err := s.store.Execute(ctx, statements.ReadGraph())
	if err != nil {
		s.logger.Warn("Timeline read failed", zap.Error(err))
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	return statements.ParseSnapshot(rows), nil
}

func (s *Service) bounds(full *aggregates.Snapshot) services.TimelineWindow {
	return services.TimelineBounds(full, s.clock.Now(), s.config.Get().TimelineFallbackWindow)
}
