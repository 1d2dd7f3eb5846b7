package focus

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/scheduler"
	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/pkg/clock"
)

// Timer names.
const (
	timerTimeout = "focus-timeout"
	timerSettle  = "focus-settle"
	timerCamera  = "focus-camera"
)

// SnapshotSource provides the snapshot visibility is computed against.
type SnapshotSource interface {
	Live() *aggregates.Snapshot
}

// State is the arbitration state. The visibility set outlives the armed
// window and is only replaced by a winning trigger or a background clear.
type State struct {
	Kind     Kind          `json:"kind"`
	FocusIDs []string      `json:"focusIds"`
	Search   string        `json:"search,omitempty"`
	Visible  []string      `json:"visible"`
	Armed    bool          `json:"armed"`
	Since    time.Time     `json:"since"`
	Camera   *CameraAction `json:"camera,omitempty"`
}

func (s State) clone() State {
	s.FocusIDs = append([]string{}, s.FocusIDs...)
	s.Visible = append([]string{}, s.Visible...)
	if s.Camera != nil {
		c := *s.Camera
		s.Camera = &c
	}
	return s
}

// Arbiter turns competing triggers into one focus state and one camera
// action.
type Arbiter struct {
	source    SnapshotSource
	config    *domainconfig.Holder
	clock     clock.Clock
	timers    *clock.Timers
	publisher ports.EventPublisher
	metrics   ports.Metrics
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	positions map[string]valueobjects.Position
	// gen changes with every winning trigger so stale settle and camera
	// callbacks can tell they lost.
	gen uint64
}

// NewArbiter creates an arbiter in the Idle state. publisher may be nil.
func NewArbiter(
	source SnapshotSource,
	config *domainconfig.Holder,
	clk clock.Clock,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	logger *zap.Logger,
) *Arbiter {
	if config == nil {
		config = domainconfig.NewHolder(nil)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{
		source:    source,
		config:    config,
		clock:     clk,
		timers:    clock.NewTimers(clk),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		state:     State{Kind: KindIdle, Visible: []string{}},
		positions: make(map[string]valueobjects.Position),
	}
}

// Submit evaluates a batch of triggers arriving together and reports
// whether the highest priority one won.
func (a *Arbiter) Submit(triggers ...Trigger) bool {
	batch := make([]Trigger, 0, len(triggers))
	now := a.clock.Now()
	for _, t := range triggers {
		if t.Kind == KindSearch && strings.TrimSpace(t.Text) == "" {
			t = BackgroundClear()
		}
		if t.At.IsZero() {
			t.At = now
		}
		batch = append(batch, t)
	}
	winner, ok := pick(batch)
	if !ok {
		return false
	}

	if winner.Kind == KindBackgroundClear {
		a.clear(now)
		return true
	}

	cfg := a.config.Get()
	snap := a.snapshot()

	a.mu.Lock()
	if a.state.Armed && winner.Kind.Priority() < a.state.Kind.Priority() {
		current := a.state.Kind
		a.mu.Unlock()
		a.logger.Debug("Focus trigger lost arbitration",
			zap.String("trigger", winner.Kind.String()),
			zap.String("current", current.String()),
		)
		return false
	}

	next := State{Kind: winner.Kind, Armed: true, Since: now, Search: a.state.Search}
	switch winner.Kind {
	case KindSearch:
		next.Search = strings.TrimSpace(winner.Text)
		next.FocusIDs = SearchMatches(snap, next.Search)
	case KindClick:
		next.Search = ""
		next.FocusIDs = dedupe(winner.IDs)
	default:
		next.FocusIDs = dedupe(winner.IDs)
	}
	next.Visible = Visibility(snap, next.FocusIDs, cfg.FocusHops, next.Search)

	a.gen++
	gen := a.gen
	a.state = next
	out := a.state.clone()
	a.mu.Unlock()

	a.timers.Schedule(timerTimeout, cfg.FocusTimeout, func() { a.unarm(gen) })
	a.timers.Cancel(timerCamera)
	if winner.Kind.settles() {
		a.timers.Schedule(timerSettle, cfg.SettleDelay, func() { a.frame(gen) })
	} else {
		a.timers.Cancel(timerSettle)
		a.frame(gen)
	}

	a.logger.Debug("Focus changed",
		zap.String("state", out.Kind.String()),
		zap.Strings("focus", out.FocusIDs),
		zap.Int("visible", len(out.Visible)),
	)
	a.announce(out, now)
	return true
}

func (a *Arbiter) clear(now time.Time) {
	a.mu.Lock()
	a.gen++
	a.state = State{Kind: KindIdle, Visible: []string{}, Since: now}
	out := a.state.clone()
	a.mu.Unlock()

	a.timers.Cancel(timerTimeout)
	a.timers.Cancel(timerSettle)
	a.timers.Cancel(timerCamera)
	a.announce(out, now)
}

func (a *Arbiter) announce(s State, now time.Time) {
	a.metrics.FocusChanged(s.Kind.String())
	if a.publisher == nil {
		return
	}
	event := events.NewFocusChanged(s.Kind.String(), s.FocusIDs, len(s.Visible), now)
	if err := a.publisher.Publish(context.Background(), event); err != nil {
		a.logger.Warn("Failed to publish focus event", zap.Error(err))
	}
}

func (a *Arbiter) unarm(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.state.Armed = false
	}
}

// frame issues the camera action for the state of generation gen, retrying
// while no positions are known for the visible entities.
func (a *Arbiter) frame(gen uint64) {
	cfg := a.config.Get()
	vp := Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight, Padding: cfg.ViewportPadding, MaxZoom: cfg.MaxZoom}
	policy := scheduler.RetryPolicy{MaxAttempts: cfg.FocusRetryAttempts, Backoff: cfg.FocusRetryBackoff}

	policy.Run(a.timers, timerCamera, func(int) bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen {
			return true
		}
		if len(a.state.Visible) == 0 {
			return true
		}
		action, ok := Frame(a.state.Visible, a.positions, vp)
		if !ok {
			return false
		}
		action.At = a.clock.Now()
		a.state.Camera = &action
		return true
	}, func(attempts int) {
		a.logger.Warn("No layout positions for focused entities, camera left in place",
			zap.Int("attempts", attempts),
		)
	})
}

// Refresh recomputes the visibility set against the latest snapshot without
// re-arming.
func (a *Arbiter) Refresh() {
	cfg := a.config.Get()
	snap := a.snapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Kind == KindIdle {
		return
	}
	if a.state.Kind == KindSearch {
		a.state.FocusIDs = SearchMatches(snap, a.state.Search)
	}
	a.state.Visible = Visibility(snap, a.state.FocusIDs, cfg.FocusHops, a.state.Search)
}

// ReportPositions merges layout positions reported by the renderer.
func (a *Arbiter) ReportPositions(positions map[string]valueobjects.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, p := range positions {
		a.positions[id] = p
	}
}

// Positions returns a copy of the known layout positions.
func (a *Arbiter) Positions() map[string]valueobjects.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]valueobjects.Position, len(a.positions))
	for id, p := range a.positions {
		out[id] = p
	}
	return out
}

// State returns a copy of the current state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Stop cancels every pending focus timer.
func (a *Arbiter) Stop() {
	a.timers.StopAll()
}

// Start allows timers again after Stop.
func (a *Arbiter) Start() {
	a.timers.Reopen()
}

func (a *Arbiter) snapshot() *aggregates.Snapshot {
	if a.source == nil {
		return aggregates.EmptySnapshot()
	}
	if s := a.source.Live(); s != nil {
		return s
	}
	return aggregates.EmptySnapshot()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
