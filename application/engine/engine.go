package engine

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"graphsync/application/dedup"
	"graphsync/application/focus"
	"graphsync/application/ports"
	"graphsync/application/scheduler"
	"graphsync/application/statements"
	"graphsync/application/timeline"
	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/domain/services"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

// CreateEntityRequest describes a creation, optionally connected to a
// holder entity the way a tag check-in links a visitor to the tag owner.
type CreateEntityRequest struct {
	Name       string              `json:"name" validate:"required,max=200"`
	Attributes entities.Attributes `json:"attributes"`
	ConnectTo  string              `json:"connectTo,omitempty" validate:"max=200"`
	Note       string              `json:"note,omitempty" validate:"max=1000"`
}

// CreateEntityResult reports what a creation did.
type CreateEntityResult struct {
	Name    string `json:"name"`
	Merged  int    `json:"merged"`
	Holder  string `json:"holder,omitempty"`
	Outcome string `json:"outcome"`
}

// QueryResult reports how a caller statement was handled. Accepted is false
// for invalid text, which is not an error.
type QueryResult struct {
	Kind     string               `json:"kind"`
	Accepted bool                 `json:"accepted"`
	Reason   string               `json:"reason,omitempty"`
	Affected []string             `json:"affected,omitempty"`
	Snapshot *aggregates.Snapshot `json:"snapshot,omitempty"`
}

// View is everything a renderer needs.
type View struct {
	Snapshot *aggregates.Snapshot `json:"snapshot"`
	Focus    focus.State          `json:"focus"`
	Timeline timeline.View        `json:"timeline"`
	Ambient  bool                 `json:"ambient"`
	Sync     scheduler.Status     `json:"sync"`
}

// Engine wires the scheduler, deduplicator, focus arbiter and timeline
// behind one facade.
type Engine struct {
	store     ports.GraphStore
	locker    ports.Locker
	publisher ports.EventPublisher
	metrics   ports.Metrics
	config    *domainconfig.Holder
	clock     clock.Clock
	logger    *zap.Logger

	scheduler *scheduler.Scheduler
	arbiter   *focus.Arbiter
	activity  *focus.Activity
	dedup     *dedup.Deduplicator
	timeline  *timeline.Service
}

// NewEngine builds every engine component on top of the given ports. cache,
// publisher and metrics may be nil.
func NewEngine(
	store ports.GraphStore,
	cache ports.SnapshotCache,
	publisher ports.EventPublisher,
	locker ports.Locker,
	metrics ports.Metrics,
	config *domainconfig.Holder,
	clk clock.Clock,
	logger *zap.Logger,
) *Engine {
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

	activity := focus.NewActivity(config, clk)
	sched := scheduler.NewScheduler(store, cache, publisher, metrics, config, activity, clk, logger.Named("scheduler"))
	e := &Engine{
		store:     store,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		config:    config,
		clock:     clk,
		logger:    logger,
		scheduler: sched,
		activity:  activity,
		arbiter:   focus.NewArbiter(sched, config, clk, publisher, metrics, logger.Named("focus")),
		dedup:     dedup.NewDeduplicator(clk, publisher, logger.Named("dedup")),
		timeline:  timeline.NewService(store, sched, activity, config, clk, logger.Named("timeline")),
	}
	sched.Subscribe(e.onCommit)
	return e
}

// Start begins polling and idle tracking.
func (e *Engine) Start(ctx context.Context) error {
	e.activity.Start()
	e.arbiter.Start()
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("Engine started")
	return nil
}

// Stop tears down every timer the engine owns.
func (e *Engine) Stop() {
	e.timeline.Leave()
	e.scheduler.Stop()
	e.arbiter.Stop()
	e.activity.Stop()
	e.logger.Info("Engine stopped")
}

// onCommit runs after every commit with the scheduler's execution lock
// held, so it must never reload synchronously.
func (e *Engine) onCommit(result scheduler.CommitResult) {
	e.arbiter.Refresh()
	if result.First || result.Cleared || result.FocusName != "" {
		return
	}
	if len(result.Diff.ChangedIDs) == 0 {
		return
	}
	e.arbiter.Submit(focus.RemoteChange(result.Diff.ChangedIDs))
}

// CreateEntity creates or merges an entity under its canonical name,
// collapsing duplicates first. The entity is focused once it is live.
func (e *Engine) CreateEntity(ctx context.Context, req CreateEntityRequest) (*CreateEntityResult, error) {
	name, err := valueobjects.NewCanonicalName(req.Name)
	if err != nil {
		return nil, err
	}
	var holder valueobjects.CanonicalName
	if strings.TrimSpace(req.ConnectTo) != "" {
		if holder, err = valueobjects.NewCanonicalName(req.ConnectTo); err != nil {
			return nil, err
		}
		if holder == name {
			return nil, apperrors.NewValidationError("an entity cannot be connected to itself")
		}
	}
	cfg := e.config.Get()
	attrs := req.Attributes.Trimmed()
	note := strings.TrimSpace(req.Note)

	lease, err := e.lock(ctx, name.String())
	if err != nil {
		return nil, err
	}
	defer e.release(lease, name.String())

	result := &CreateEntityResult{Name: name.String(), Holder: holder.String()}
	err = e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
		merged, err := e.dedup.EnsureCanonical(ctx, store, name.String())
		if err != nil {
			return err
		}
		result.Merged = merged
		if !holder.IsZero() {
			if _, err := e.dedup.EnsureCanonical(ctx, store, holder.String()); err != nil {
				return err
			}
		}

		b := statements.NewMutationBuilder().MergeEntity(name.String(), attrs)
		if !holder.IsZero() {
			b.EnsureEntity(holder.String(), entities.Attributes{Role: cfg.HolderRole})
			b.MergeRelation(name.String(), holder.String())
			if note != "" {
				b.SetRelationNote(name.String(), holder.String(), note)
			}
		}
		m, err := b.Build()
		if err != nil {
			return err
		}
		return store.ExecuteBatch(ctx, m.Stamp(e.clock.Now()).Statements())
	}, scheduler.Options{Force: true, FocusName: name.String()})
	if err != nil {
		e.logger.Warn("Entity creation failed", zap.String("entity", name.String()), zap.Error(err))
		return nil, err
	}

	e.logger.Info("Entity created",
		zap.String("entity", name.String()),
		zap.String("holder", holder.String()),
		zap.Int("merged", result.Merged),
	)
	result.Outcome = e.focusWhenLive(name.String())
	return result, nil
}

// focusWhenLive submits a Creation trigger once the entity shows up in the
// live snapshot, retrying on the scheduler's timers.
func (e *Engine) focusWhenLive(name string) string {
	outcome := ports.OutcomePending
	e.scheduler.Retry().Run(e.scheduler.Timers(), "creation-check:"+name, func(int) bool {
		if !e.scheduler.Live().HasEntity(name) {
			return false
		}
		outcome = ports.OutcomeCommitted
		e.arbiter.Submit(focus.Creation(name))
		return true
	}, func(attempts int) {
		e.logger.Error("Created entity never became live, giving up on focus",
			zap.String("entity", name),
			zap.Int("attempts", attempts),
		)
		e.metrics.RetryExhausted("create_entity")
		e.publish(events.NewCreationAbandoned(name, attempts, e.clock.Now()))
	})
	return outcome
}

// RenameEntity renames an entity, folding it into an existing one when the
// new name is taken.
func (e *Engine) RenameEntity(ctx context.Context, oldName, newName string) (bool, error) {
	to, err := valueobjects.NewCanonicalName(newName)
	if err != nil {
		return false, err
	}
	from := oldName
	if c, err := valueobjects.NewCanonicalName(oldName); err == nil {
		from = c.String()
	}
	unlock, err := e.lockNames(ctx, from, to.String())
	if err != nil {
		return false, err
	}
	defer unlock()

	var collided bool
	err = e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
		collided, err = e.dedup.ResolveRename(ctx, store, oldName, to.String())
		return err
	}, scheduler.Options{FocusName: to.String()})
	if err != nil {
		return false, err
	}
	e.arbiter.Submit(focus.Mutation([]string{to.String()}))
	return collided, nil
}

// UpdateEntity replaces the attributes of an existing entity.
func (e *Engine) UpdateEntity(ctx context.Context, name string, attrs entities.Attributes) error {
	err := e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
		rows, err := store.Execute(ctx, statements.MatchEntities(name))
		if err != nil {
			return apperrors.NewStoreUnavailableError(err)
		}
		if len(statements.ParseEntities(rows)) == 0 {
			return apperrors.NewNotFoundError("entity " + name)
		}
		m, err := statements.NewMutationBuilder().SetAttributes(name, attrs.Trimmed()).Build()
		if err != nil {
			return err
		}
		return store.ExecuteBatch(ctx, m.Stamp(e.clock.Now()).Statements())
	}, scheduler.Options{FocusName: name})
	if err != nil {
		return err
	}
	e.arbiter.Submit(focus.Mutation([]string{name}))
	return nil
}

// SetRelationNote replaces the note on an existing relation.
func (e *Engine) SetRelationNote(ctx context.Context, source, target, note string) error {
	err := e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
		rows, err := store.Execute(ctx, statements.MatchRelations(source))
		if err != nil {
			return apperrors.NewStoreUnavailableError(err)
		}
		found := false
		for _, r := range statements.ParseRelations(rows) {
			if r.Source == source && r.Target == target {
				found = true
				break
			}
		}
		if !found {
			return apperrors.NewNotFoundError("relation " + source + " -> " + target)
		}
		m, err := statements.NewMutationBuilder().SetRelationNote(source, target, strings.TrimSpace(note)).Build()
		if err != nil {
			return err
		}
		return store.ExecuteBatch(ctx, m.Stamp(e.clock.Now()).Statements())
	}, scheduler.Options{FocusName: source})
	if err != nil {
		return err
	}
	e.arbiter.Submit(focus.Mutation([]string{source, target}))
	return nil
}

// RunQuery classifies and runs caller text. Invalid text is reported in the
// result, unsafe mutations are refused with an error, mutations get a
// shared timestamp, and any other read opens a custom-query session.
func (e *Engine) RunQuery(ctx context.Context, text string) (*QueryResult, error) {
	c := statements.Classify(text)
	e.metrics.QueryClassified(c.Kind.String())
	e.activity.Touch()
	result := &QueryResult{Kind: c.Kind.String(), Reason: c.Reason}

	switch c.Kind {
	case statements.KindInvalid:
		e.logger.Info("Ignoring invalid query", zap.String("reason", c.Reason))
		return result, nil

	case statements.KindUnsafeMutation:
		e.logger.Warn("Refused destructive query", zap.String("keyword", c.Keyword))
		e.publish(events.NewMutationRefused(c.Keyword, e.clock.Now()))
		return result, c.Err()

	case statements.KindMutation:
		affected := statements.AffectedNames(c.Text)
		opts := scheduler.Options{}
		if len(affected) > 0 {
			opts.FocusName = affected[0]
		}
		stmts := statements.RawMutation(c.Text, e.clock.Now())
		err := e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
			if err := store.ExecuteBatch(ctx, stmts); err != nil {
				return apperrors.NewStoreUnavailableError(err)
			}
			return nil
		}, opts)
		if err != nil {
			return nil, err
		}
		result.Accepted = true
		result.Affected = affected
		if len(affected) > 0 {
			e.arbiter.Submit(focus.Mutation(affected))
		}
		return result, nil

	default:
		snap, err := e.scheduler.Query(ctx, statements.Raw(c.Text))
		if err != nil {
			return nil, err
		}
		result.Accepted = true
		result.Snapshot = snap
		return result, nil
	}
}

// Reload runs the default read on demand.
func (e *Engine) Reload(ctx context.Context) (string, error) {
	return e.scheduler.Reload(ctx, scheduler.Options{})
}

// MigrateTimestamps stamps every entity and relation that lacks a creation
// time and reports how many were touched.
func (e *Engine) MigrateTimestamps(ctx context.Context) (int, int, error) {
	var ents, rels int
	err := e.scheduler.Mutate(ctx, func(ctx context.Context, store ports.GraphStore) error {
		rows, err := store.Execute(ctx, statements.BackfillTimestamps(e.clock.Now()))
		if err != nil {
			return apperrors.NewStoreUnavailableError(err)
		}
		if len(rows) > 0 {
			ents = countColumn(rows[0], "entities")
			rels = countColumn(rows[0], "relations")
		}
		return nil
	}, scheduler.Options{})
	if err != nil {
		return 0, 0, err
	}
	e.logger.Info("Backfilled timestamps", zap.Int("entities", ents), zap.Int("relations", rels))
	return ents, rels, nil
}

// Search focuses entities matching text; empty text clears focus.
func (e *Engine) Search(text string) bool {
	e.activity.Touch()
	return e.arbiter.Submit(focus.Search(text))
}

// Click focuses one entity.
func (e *Engine) Click(name string) bool {
	e.activity.Touch()
	return e.arbiter.Submit(focus.Click(name))
}

// ClearFocus resets focus to idle.
func (e *Engine) ClearFocus() {
	e.activity.Touch()
	e.arbiter.Submit(focus.BackgroundClear())
}

// Touch records caller activity.
func (e *Engine) Touch() { e.activity.Touch() }

// SetVisible pauses or resumes polling with the host surface.
func (e *Engine) SetVisible(visible bool) { e.scheduler.SetVisible(visible) }

// ReportPositions records renderer layout positions for camera framing.
func (e *Engine) ReportPositions(positions map[string]valueobjects.Position) {
	e.arbiter.ReportPositions(positions)
}

// TimelineBounds returns the timeline window without entering the mode.
func (e *Engine) TimelineBounds(ctx context.Context) (services.TimelineWindow, error) {
	return e.timeline.Bounds(ctx)
}

// TimelineSnapshot returns the graph as of t without entering the mode.
func (e *Engine) TimelineSnapshot(ctx context.Context, t time.Time) (*aggregates.Snapshot, error) {
	return e.timeline.SnapshotAt(ctx, t)
}

// EnterTimeline suspends live sync and opens the timeline at its latest point.
func (e *Engine) EnterTimeline(ctx context.Context) (timeline.View, error) {
	return e.timeline.Enter(ctx)
}

// StepTimeline moves the timeline cursor.
func (e *Engine) StepTimeline(ctx context.Context, delta time.Duration) (timeline.View, error) {
	return e.timeline.Step(ctx, delta)
}

// TimelineNow moves the timeline cursor to the current time.
func (e *Engine) TimelineNow(ctx context.Context) (timeline.View, error) {
	return e.timeline.Now(ctx)
}

// SeekTimeline moves the timeline cursor to t.
func (e *Engine) SeekTimeline(ctx context.Context, t time.Time) (timeline.View, error) {
	return e.timeline.Seek(ctx, t)
}

// LeaveTimeline resumes live sync.
func (e *Engine) LeaveTimeline() { e.timeline.Leave() }

// View returns the live snapshot with known positions, focus, timeline and
// sync state.
func (e *Engine) View() View {
	return View{
		Snapshot: e.scheduler.Live().WithPositions(e.arbiter.Positions()),
		Focus:    e.arbiter.State(),
		Timeline: e.timeline.View(),
		Ambient:  e.activity.Ambient(),
		Sync:     e.scheduler.Status(),
	}
}

// ApplyConfig validates and swaps the engine tunables. Running timers pick
// up the new values when they are next armed.
func (e *Engine) ApplyConfig(cfg *domainconfig.EngineConfig) error {
	if err := e.config.Set(cfg); err != nil {
		return err
	}
	e.logger.Info("Engine configuration updated",
		zap.Duration("pollInterval", cfg.PollInterval),
		zap.Duration("debounce", cfg.Debounce),
		zap.Int("commitCap", cfg.CommitCap),
	)
	return nil
}

// Config returns the current tunables.
func (e *Engine) Config() *domainconfig.EngineConfig { return e.config.Get() }

func (e *Engine) lock(ctx context.Context, name string) (ports.Lease, error) {
	if e.locker == nil {
		return nil, nil
	}
	cfg := e.config.Get()
	lockCtx, cancel := context.WithTimeout(ctx, cfg.LockWait)
	defer cancel()

	lease, err := e.locker.Acquire(lockCtx, "entity#"+name, cfg.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Could not acquire entity lock", zap.String("entity", name), zap.Error(err))
		return nil, apperrors.NewTimeoutError("acquire lock for " + name)
	}
	return lease, nil
}

// lockNames takes one lease per distinct name in sorted order, so callers
// locking overlapping pairs cannot deadlock. unlock releases them in reverse.
func (e *Engine) lockNames(ctx context.Context, names ...string) (unlock func(), err error) {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(keys, n) {
			keys = append(keys, n)
		}
	}
	sort.Strings(keys)

	leases := make([]ports.Lease, 0, len(keys))
	unlock = func() {
		for i := len(leases) - 1; i >= 0; i-- {
			e.release(leases[i], keys[i])
		}
	}
	for _, k := range keys {
		lease, err := e.lock(ctx, k)
		if err != nil {
			unlock()
			return nil, err
		}
		leases = append(leases, lease)
	}
	return unlock, nil
}

func (e *Engine) release(lease ports.Lease, name string) {
	if lease == nil {
		return
	}
	if err := lease.Release(context.Background()); err != nil {
		e.logger.Warn("Failed to release entity lock", zap.String("entity", name), zap.Error(err))
	}
}

func (e *Engine) publish(event events.DomainEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(context.Background(), event); err != nil {
		e.logger.Warn("Failed to publish event", zap.String("event", event.GetEventType()), zap.Error(err))
	}
}

func countColumn(row statements.Row, key string) int {
	v, _ := row.Get(key)
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
