package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/events"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

// State is the single tagged state of the scheduler.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateCustomQuery
	StateMutationInFlight
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateCustomQuery:
		return "custom_query"
	case StateMutationInFlight:
		return "mutation_in_flight"
	case StateSuspended:
		return "suspended"
	default:
		return "idle"
	}
}

// Timer names.
const (
	timerPoll      = "poll"
	timerDebounce  = "debounce"
	timerCapReset  = "cap-reset"
	timerIdleCheck = "session-idle"
)

// Options qualify an on-demand reload.
type Options struct {
	// Force accepts the candidate without waiting out the debounce window.
	Force bool
	// FocusName is carried to listeners, typically a just-created entity.
	FocusName string
}

// CommitResult is delivered to listeners after every commit, and after a
// store failure cleared the live snapshot.
type CommitResult struct {
	Snapshot  *aggregates.Snapshot
	Diff      aggregates.Diff
	First     bool
	Forced    bool
	Cleared   bool
	FocusName string
}

// Listener receives commit results outside the scheduler's locks.
type Listener func(CommitResult)

// IdleSource reports whether the caller has been inactive long enough to end
// a custom-query session.
type IdleSource interface {
	IsIdle() bool
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State       string    `json:"state"`
	Visible     bool      `json:"visible"`
	Preview     bool      `json:"preview"`
	Pending     bool      `json:"pending"`
	CommitCount int       `json:"commitCount"`
	LastCommit  time.Time `json:"lastCommit,omitempty"`
	Fingerprint string    `json:"fingerprint"`
}

type candidate struct {
	snapshot *aggregates.Snapshot
	diff     aggregates.Diff
	forced   bool
	focus    string
	// ready is set once the debounce has elapsed and only the commit cap
	// holds the candidate back.
	ready bool
}

// Scheduler drives the poll cycle and owns the live snapshot.
type Scheduler struct {
	store     ports.GraphStore
	cache     ports.SnapshotCache
	publisher ports.EventPublisher
	metrics   ports.Metrics
	config    *domainconfig.Holder
	idle      IdleSource
	clock     clock.Clock
	timers    *clock.Timers
	logger    *zap.Logger

	// exec is the in-flight guard: at most one store round trip at a time.
	exec sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	state       State
	visible     bool
	live        *aggregates.Snapshot
	committed   *aggregates.Snapshot
	preview     bool
	lastCommit  time.Time
	commitCount int
	pending     *candidate
	listeners   []Listener
}

// NewScheduler creates a scheduler. cache, publisher and idle may be nil.
func NewScheduler(
	store ports.GraphStore,
	cache ports.SnapshotCache,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	config *domainconfig.Holder,
	idle IdleSource,
	clk clock.Clock,
	logger *zap.Logger,
) *Scheduler {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if config == nil {
		config = domainconfig.NewHolder(nil)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		metrics:   metrics,
		config:    config,
		idle:      idle,
		clock:     clk,
		timers:    clock.NewTimers(clk),
		logger:    logger,
		ctx:       context.Background(),
		visible:   true,
		live:      aggregates.EmptySnapshot(),
	}
}

// Subscribe registers a commit listener.
func (s *Scheduler) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start shows the cached snapshot as a preview, runs the first cycle and
// arms the poll and cap-reset timers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.NewConflictError("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.state = StateIdle
	s.timers.Reopen()
	s.mu.Unlock()

	s.loadPreview()
	s.armCapReset()

	if _, err := s.Reload(s.ctx, Options{}); err != nil {
		s.logger.Warn("Initial load failed, retrying on next tick", zap.Error(err))
	}
	s.armPoll()
	return nil
}

// Stop cancels every timer. Results of store calls still in flight are
// discarded.
func (s *Scheduler) Stop() {
	s.timers.StopAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.pending = nil
	s.cancel()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loadPreview() {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.Load(s.ctx)
	if err != nil {
		s.logger.Warn("Soft cache unavailable", zap.Error(err))
		return
	}
	if cached == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		s.live = cached
		s.preview = true
		s.logger.Debug("Showing cached snapshot until first load",
			zap.Int("entities", cached.EntityCount()),
			zap.Int("relations", cached.RelationCount()),
		)
	}
}

func (s *Scheduler) armPoll() {
	s.mu.Lock()
	ok := s.started && s.visible && s.state != StateSuspended
	s.mu.Unlock()
	if ok {
		s.timers.Schedule(timerPoll, s.config.Get().PollInterval, s.tick)
	}
}

func (s *Scheduler) armCapReset() {
	s.timers.Schedule(timerCapReset, s.config.Get().CommitWindow, s.resetCap)
}

func (s *Scheduler) tick() {
	s.armPoll()

	start := s.clock.Now()
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.metrics.SyncCycle(ports.OutcomeSkipped, 0)
		return
	}
	s.mu.Unlock()

	if !s.exec.TryLock() {
		s.metrics.SyncCycle(ports.OutcomeSkipped, 0)
		return
	}
	defer s.exec.Unlock()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.metrics.SyncCycle(ports.OutcomeSkipped, 0)
		return
	}
	s.state = StatePolling
	ctx := s.ctx
	s.mu.Unlock()

	outcome, _ := s.cycle(ctx, statements.ReadGraph(), Options{}, StatePolling)
	s.metrics.SyncCycle(outcome, s.clock.Now().Sub(start))
}

// Reload runs the default read on demand, waiting for any cycle in flight.
// It ends a custom-query session.
func (s *Scheduler) Reload(ctx context.Context, opts Options) (string, error) {
	s.exec.Lock()
	defer s.exec.Unlock()

	s.mu.Lock()
	if s.state == StateSuspended {
		s.mu.Unlock()
		return ports.OutcomeSkipped, nil
	}
	s.state = StatePolling
	s.mu.Unlock()
	s.timers.Cancel(timerIdleCheck)

	return s.cycle(ctx, statements.ReadGraph(), opts, StatePolling)
}

// Query runs a caller-supplied read. Any read other than the default one
// opens a custom-query session that holds off polling until the caller is
// idle or issues a mutation. The parsed result is returned and committed as
// a forced candidate.
func (s *Scheduler) Query(ctx context.Context, stmt statements.Statement) (*aggregates.Snapshot, error) {
	s.exec.Lock()
	defer s.exec.Unlock()

	s.mu.Lock()
	if s.state == StateSuspended {
		s.mu.Unlock()
		return nil, apperrors.NewConflictError("live sync is suspended while the timeline is open")
	}
	s.state = StateCustomQuery
	s.mu.Unlock()

	rows, err := s.execute(ctx, stmt)
	if err != nil {
		s.mu.Lock()
		if s.state == StateCustomQuery {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	snapshot := statements.ParseSnapshot(rows)

	s.mu.Lock()
	if s.state != StateCustomQuery {
		s.mu.Unlock()
		return snapshot, nil
	}
	result := s.acceptLocked(snapshot, Options{Force: true})
	s.mu.Unlock()

	s.armIdleCheck()
	s.afterCommit(ctx, result)
	return snapshot, nil
}

// Mutate runs fn against the store with polling held off, then reloads the
// default read. A custom-query session ends here.
func (s *Scheduler) Mutate(ctx context.Context, fn func(ctx context.Context, store ports.GraphStore) error, opts Options) error {
	s.exec.Lock()
	defer s.exec.Unlock()

	s.mu.Lock()
	suspended := s.state == StateSuspended
	if !suspended {
		s.state = StateMutationInFlight
		// A debounced candidate read before the write is stale. A capped
		// forced one stays so the reload below inherits it.
		if s.pending != nil && !s.pending.forced {
			s.pending = nil
		}
	}
	s.mu.Unlock()
	s.timers.Cancel(timerDebounce)
	s.timers.Cancel(timerIdleCheck)

	if err := fn(ctx, s.store); err != nil {
		s.mu.Lock()
		if s.state == StateMutationInFlight {
			s.state = StateIdle
		}
		s.mu.Unlock()
		return err
	}
	if suspended {
		return nil
	}

	_, err := s.cycle(ctx, statements.ReadGraph(), opts, StateMutationInFlight)
	return err
}

// cycle executes a read and hands the candidate to the gate. Callers hold
// exec and have set the state to from; the result is dropped if the state
// moved on meanwhile.
func (s *Scheduler) cycle(ctx context.Context, stmt statements.Statement, opts Options, from State) (string, error) {
	rows, err := s.execute(ctx, stmt)
	var snapshot *aggregates.Snapshot
	if err == nil {
		snapshot = statements.ParseSnapshot(rows)
	}

	s.mu.Lock()
	if s.state != from || !s.started {
		s.mu.Unlock()
		return ports.OutcomeSkipped, nil
	}
	s.state = StateIdle

	if err != nil {
		result := s.clearLocked()
		s.mu.Unlock()
		s.logger.Warn("Graph store unavailable, cleared live snapshot", zap.Error(err))
		s.notify(result)
		return ports.OutcomeError, apperrors.NewStoreUnavailableError(err)
	}

	result := s.acceptLocked(snapshot, opts)
	s.mu.Unlock()

	if result == nil {
		if s.hasPending() {
			return ports.OutcomePending, nil
		}
		return ports.OutcomeUnchanged, nil
	}
	s.afterCommit(ctx, result)
	return ports.OutcomeCommitted, nil
}

func (s *Scheduler) execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	start := s.clock.Now()
	rows, err := s.store.Execute(ctx, stmt)
	s.metrics.StoreCall(stmt.Op.Kind.String(), s.clock.Now().Sub(start), err)
	return rows, err
}

// acceptLocked is the commit gate. It returns a result when the candidate
// was committed right away.
func (s *Scheduler) acceptLocked(snapshot *aggregates.Snapshot, opts Options) *CommitResult {
	cfg := s.config.Get()
	first := s.committed == nil
	diff := aggregates.Compare(snapshot, s.committed)
	c := &candidate{snapshot: snapshot, diff: diff, forced: opts.Force, focus: opts.FocusName}

	// A newer read replaces a capped forced candidate but keeps it forced.
	if p := s.pending; p != nil && p.forced && !c.forced {
		c.forced = true
		c.focus = p.focus
	}

	if first || c.forced {
		if s.commitCount >= cfg.CommitCap {
			c.ready = true
			s.pending = c
			s.timers.Cancel(timerDebounce)
			s.logger.Debug("Commit cap reached, holding candidate", zap.Int("cap", cfg.CommitCap))
			return nil
		}
		return s.commitLocked(c, first)
	}

	if !diff.Changed {
		s.pending = nil
		s.timers.Cancel(timerDebounce)
		return nil
	}

	// Trailing edge: the latest candidate replaces any pending one and
	// restarts the window.
	s.pending = c
	delay := cfg.Debounce
	if since := s.lastCommit.Add(cfg.Debounce).Sub(s.clock.Now()); since > delay {
		delay = since
	}
	s.timers.Schedule(timerDebounce, delay, s.flush)
	return nil
}

func (s *Scheduler) commitLocked(c *candidate, first bool) *CommitResult {
	s.live = c.snapshot
	s.committed = c.snapshot
	s.preview = false
	s.lastCommit = s.clock.Now()
	s.commitCount++
	s.pending = nil
	s.timers.Cancel(timerDebounce)
	return &CommitResult{
		Snapshot:  c.snapshot,
		Diff:      c.diff,
		First:     first,
		Forced:    c.forced,
		FocusName: c.focus,
	}
}

func (s *Scheduler) clearLocked() CommitResult {
	empty := aggregates.EmptySnapshot()
	s.live = empty
	s.committed = empty
	s.preview = false
	s.pending = nil
	s.timers.Cancel(timerDebounce)
	return CommitResult{Snapshot: empty, Cleared: true}
}

func (s *Scheduler) flush() {
	s.mu.Lock()
	c := s.pending
	if c == nil || !s.started || s.state == StateMutationInFlight {
		s.mu.Unlock()
		return
	}
	if s.commitCount >= s.config.Get().CommitCap {
		c.ready = true
		s.mu.Unlock()
		s.logger.Debug("Commit cap reached, candidate waits for window reset")
		return
	}
	result := s.commitLocked(c, false)
	ctx := s.ctx
	s.mu.Unlock()
	s.afterCommit(ctx, result)
}

func (s *Scheduler) resetCap() {
	s.armCapReset()

	s.mu.Lock()
	s.commitCount = 0
	c := s.pending
	if c == nil || !c.ready || !s.started || s.state == StateMutationInFlight {
		s.mu.Unlock()
		return
	}
	result := s.commitLocked(c, s.committed == nil)
	ctx := s.ctx
	s.mu.Unlock()
	s.afterCommit(ctx, result)
}

func (s *Scheduler) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Scheduler) afterCommit(ctx context.Context, result *CommitResult) {
	if result == nil {
		return
	}
	snap := result.Snapshot

	s.logger.Info("Snapshot committed",
		zap.String("fingerprint", snap.Fingerprint().String()),
		zap.Int("entities", snap.EntityCount()),
		zap.Int("relations", snap.RelationCount()),
		zap.Int("changed", len(result.Diff.ChangedIDs)),
		zap.Bool("first", result.First),
		zap.Bool("forced", result.Forced),
	)
	s.metrics.SnapshotCommitted(snap.EntityCount(), snap.RelationCount(), result.Forced)

	if s.cache != nil {
		if err := s.cache.Save(ctx, snap); err != nil {
			s.logger.Warn("Failed to save snapshot to soft cache", zap.Error(err))
		}
	}
	if s.publisher != nil {
		event := events.NewSnapshotCommitted(snap.Fingerprint().String(), snap.EntityCount(), snap.RelationCount(),
			result.Diff.ChangedIDs, result.First, result.Forced, s.clock.Now())
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish commit event", zap.Error(err))
		}
	}
	s.notify(*result)
}

func (s *Scheduler) notify(result CommitResult) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		l(result)
	}
}

func (s *Scheduler) armIdleCheck() {
	s.timers.Schedule(timerIdleCheck, s.config.Get().IdleCheckInterval, s.checkSessionIdle)
}

func (s *Scheduler) checkSessionIdle() {
	s.mu.Lock()
	inSession := s.state == StateCustomQuery
	s.mu.Unlock()
	if !inSession {
		return
	}
	if s.idle != nil && !s.idle.IsIdle() {
		s.armIdleCheck()
		return
	}

	s.logger.Debug("Caller idle, leaving custom query session")
	s.exitSession()
}

func (s *Scheduler) exitSession() {
	s.mu.Lock()
	if s.state != StateCustomQuery {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.Reload(ctx, Options{}); err != nil {
		s.logger.Warn("Reload after custom query session failed", zap.Error(err))
	}
}

// EndSession leaves a custom-query session right away.
func (s *Scheduler) EndSession() {
	s.timers.Cancel(timerIdleCheck)
	s.exitSession()
}

// SetVisible pauses the poll timer while the host surface is hidden. Showing
// it again schedules the next tick a full interval out; there is no
// immediate catch-up poll.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	changed := s.visible != visible
	s.visible = visible
	s.mu.Unlock()
	if !changed {
		return
	}
	if !visible {
		s.timers.Cancel(timerPoll)
		return
	}
	s.armPoll()
}

// Suspend stops live polling and commits for timeline mode. Any cycle in
// flight has its result discarded.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	s.state = StateSuspended
	s.pending = nil
	s.mu.Unlock()
	s.timers.Cancel(timerPoll)
	s.timers.Cancel(timerDebounce)
	s.timers.Cancel(timerIdleCheck)
}

// Resume returns to idle polling after timeline mode.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StateSuspended {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.armPoll()
}

// Live returns the snapshot currently rendered.
func (s *Scheduler) Live() *aggregates.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a view of the scheduler for callers.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state.String(),
		Visible:     s.visible,
		Preview:     s.preview,
		Pending:     s.pending != nil,
		CommitCount: s.commitCount,
		LastCommit:  s.lastCommit,
		Fingerprint: s.live.Fingerprint().String(),
	}
}

// Timers exposes the registry so collaborators can schedule retries that
// are torn down with the scheduler.
func (s *Scheduler) Timers() *clock.Timers { return s.timers }

// Retry returns the configured retry policy.
func (s *Scheduler) Retry() RetryPolicy {
	cfg := s.config.Get()
	return RetryPolicy{MaxAttempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
}
