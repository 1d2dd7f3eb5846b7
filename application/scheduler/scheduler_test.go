package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"graphsync/application/ports"
	"graphsync/application/statements"
	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/events"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// stubStore serves default-shape rows for a configurable graph.
type stubStore struct {
	mu      sync.Mutex
	rows    []statements.Row
	err     error
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (s *stubStore) set(entities []string, relations ...[2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = graphRows(entities, relations)
	s.err = nil
}

func (s *stubStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubStore) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	s.mu.Lock()
	s.calls++
	entered, release := s.entered, s.release
	rows, err := s.rows, s.err
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return rows, err
}

func (s *stubStore) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	return nil
}

var rowKeys = []string{"source", "sourceCreatedAt", "target", "targetCreatedAt", "createdAt", "note"}

func graphRows(names []string, relations [][2]string) []statements.Row {
	var rows []statements.Row
	linked := map[string]bool{}
	for _, r := range relations {
		rows = append(rows, statements.NewRow(rowKeys, map[string]any{
			"source": r[0], "sourceCreatedAt": epoch.UnixMilli(),
			"target": r[1], "targetCreatedAt": epoch.UnixMilli(),
			"createdAt": epoch.UnixMilli(),
		}))
		linked[r[0]] = true
	}
	for _, n := range names {
		if !linked[n] {
			rows = append(rows, statements.NewRow(rowKeys, map[string]any{"source": n, "sourceCreatedAt": epoch.UnixMilli()}))
		}
	}
	return rows
}

type idleFlag struct {
	mu   sync.Mutex
	idle bool
}

func (f *idleFlag) IsIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *idleFlag) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = v
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

type fakeCache struct {
	snapshot *aggregates.Snapshot
	saves    int
}

func (c *fakeCache) Load(ctx context.Context) (*aggregates.Snapshot, error) { return c.snapshot, nil }

func (c *fakeCache) Save(ctx context.Context, s *aggregates.Snapshot) error {
	c.snapshot = s
	c.saves++
	return nil
}

type harness struct {
	store   *stubStore
	clock   *clock.Fake
	idle    *idleFlag
	cache   *fakeCache
	sched   *Scheduler
	commits []CommitResult
	mu      sync.Mutex
}

func newHarness(t *testing.T, mutate func(*domainconfig.EngineConfig)) *harness {
	t.Helper()
	cfg := domainconfig.DefaultEngineConfig()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		store: &stubStore{},
		clock: clock.NewFake(epoch),
		idle:  &idleFlag{},
		cache: &fakeCache{},
	}
	h.sched = NewScheduler(h.store, h.cache, nil, nil, domainconfig.NewHolder(cfg), h.idle, h.clock, nil)
	h.sched.Subscribe(func(r CommitResult) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.commits = append(h.commits, r)
	})
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) committed() []CommitResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CommitResult, 0, len(h.commits))
	for _, c := range h.commits {
		if !c.Cleared {
			out = append(out, c)
		}
	}
	return out
}

func TestScenarioCommitsOnlyWhenContentChanges(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice", "Bob"}, [2]string{"Alice", "Bob"})

	require.NoError(t, h.sched.Start(context.Background()))
	commits := h.committed()
	require.Len(t, commits, 1)
	assert.True(t, commits[0].First)
	f1 := commits[0].Snapshot.Fingerprint()

	// tick2: identical data
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 2, h.store.callCount())
	assert.Len(t, h.committed(), 1)
	assert.Equal(t, f1, h.sched.Live().Fingerprint())

	// tick3: new relation between existing entities
	h.store.set([]string{"Alice", "Bob"}, [2]string{"Alice", "Bob"}, [2]string{"Bob", "Alice"})
	h.clock.Advance(5 * time.Second)
	assert.True(t, h.sched.Status().Pending)
	h.clock.Advance(2 * time.Second)

	commits = h.committed()
	require.Len(t, commits, 2)
	assert.NotEqual(t, f1, commits[1].Snapshot.Fingerprint())
	assert.Equal(t, []string{"Alice", "Bob"}, commits[1].Diff.ChangedIDs)
	assert.False(t, commits[1].First)
	assert.Equal(t, 2, h.cache.saves)
}

func TestDebounceCoalescesToLaterCandidate(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.SetVisible(false)
	h.clock.Advance(3 * time.Second)

	h.store.set([]string{"Alice", "Bob"})
	outcome, err := h.sched.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomePending, outcome)

	h.clock.Advance(time.Second)
	h.store.set([]string{"Alice", "Bob", "Carol"})
	_, err = h.sched.Reload(context.Background(), Options{})
	require.NoError(t, err)

	// The first candidate's window would have closed here.
	h.clock.Advance(1500 * time.Millisecond)
	assert.Len(t, h.committed(), 1)

	h.clock.Advance(time.Second)
	commits := h.committed()
	require.Len(t, commits, 2)
	assert.True(t, commits[1].Snapshot.HasEntity("Carol"))
}

func TestUnchangedCandidateDropsPending(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.SetVisible(false)

	h.store.set([]string{"Alice", "Bob"})
	_, _ = h.sched.Reload(context.Background(), Options{})
	h.store.set([]string{"Alice"})
	_, _ = h.sched.Reload(context.Background(), Options{})

	h.clock.Advance(10 * time.Second)
	assert.Len(t, h.committed(), 1)
	assert.False(t, h.sched.Status().Pending)
}

func TestCommitCapHoldsUntilWindowReset(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"A"})
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.SetVisible(false)

	for _, names := range [][]string{{"A", "B"}, {"A", "B", "C"}, {"A", "B", "C", "D"}} {
		h.store.set(names)
		_, err := h.sched.Reload(context.Background(), Options{Force: true})
		require.NoError(t, err)
	}

	commits := h.committed()
	require.Len(t, commits, 3, "cap of 3 includes the first commit")
	assert.True(t, h.sched.Status().Pending)
	assert.False(t, h.sched.Live().HasEntity("D"))

	h.clock.Advance(30 * time.Second)

	commits = h.committed()
	require.Len(t, commits, 4)
	assert.True(t, commits[3].Snapshot.HasEntity("D"))
	assert.Equal(t, 1, h.sched.Status().CommitCount)
}

func TestCapIsNeverExceededWithinAWindow(t *testing.T) {
	h := newHarness(t, func(c *domainconfig.EngineConfig) { c.PollInterval = time.Second; c.Debounce = 0 })
	names := []string{"A"}
	h.store.set(names)
	require.NoError(t, h.sched.Start(context.Background()))

	for i := 0; i < 25; i++ {
		names = append(names, string(rune('B'+i)))
		h.store.set(names)
		h.clock.Advance(time.Second)
	}

	// 25s into the first 30s window
	assert.Len(t, h.committed(), 3)
}

func TestStoreFailureClearsAndKeepsPolling(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice", "Bob"}, [2]string{"Alice", "Bob"})
	require.NoError(t, h.sched.Start(context.Background()))

	h.store.fail(errors.New("connection refused"))
	_, err := h.sched.Reload(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	assert.True(t, h.sched.Live().IsEmpty())
	h.mu.Lock()
	last := h.commits[len(h.commits)-1]
	h.mu.Unlock()
	assert.True(t, last.Cleared)
	assert.True(t, h.sched.Timers().Active(timerPoll))

	h.store.set([]string{"Alice", "Bob"}, [2]string{"Alice", "Bob"})
	h.clock.Advance(7 * time.Second)
	assert.Equal(t, 2, h.sched.Live().EntityCount())
}

func TestCustomQuerySessionHoldsPollingUntilIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice", "Bob"})
	require.NoError(t, h.sched.Start(context.Background()))

	h.store.set([]string{"Alice"})
	snap, err := h.sched.Query(context.Background(), statements.Raw("MATCH (u:User {name: 'Alice'}) RETURN u.name AS name"))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.EntityCount())
	assert.Equal(t, StateCustomQuery, h.sched.State())
	assert.Equal(t, 1, h.sched.Live().EntityCount())

	calls := h.store.callCount()
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, calls, h.store.callCount(), "tick skipped during session")
	assert.Equal(t, StateCustomQuery, h.sched.State())

	h.store.set([]string{"Alice", "Bob"})
	h.idle.set(true)
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, StateIdle, h.sched.State())
	assert.Greater(t, h.store.callCount(), calls)
}

func TestMutationEndsCustomQuerySession(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))

	_, err := h.sched.Query(context.Background(), statements.Raw("MATCH (n) RETURN n"))
	require.NoError(t, err)

	var seen State
	err = h.sched.Mutate(context.Background(), func(ctx context.Context, store ports.GraphStore) error {
		seen = h.sched.State()
		h.store.set([]string{"Alice", "Bob"})
		return nil
	}, Options{Force: true, FocusName: "Bob"})
	require.NoError(t, err)

	assert.Equal(t, StateMutationInFlight, seen)
	assert.Equal(t, StateIdle, h.sched.State())
	commits := h.committed()
	assert.Equal(t, "Bob", commits[len(commits)-1].FocusName)
	assert.True(t, h.sched.Live().HasEntity("Bob"))
}

func TestPendingCandidateNeverCommitsDuringMutation(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.SetVisible(false)

	h.store.set([]string{"Alice", "Bob"})
	outcome, err := h.sched.Reload(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, ports.OutcomePending, outcome)

	var during int
	err = h.sched.Mutate(context.Background(), func(ctx context.Context, store ports.GraphStore) error {
		h.clock.Advance(3 * time.Second)
		during = len(h.committed())
		h.store.set([]string{"Alice", "Bob", "Carol"})
		return nil
	}, Options{Force: true, FocusName: "Carol"})
	require.NoError(t, err)

	assert.Equal(t, 1, during)
	commits := h.committed()
	require.Len(t, commits, 2)
	assert.True(t, commits[1].Snapshot.HasEntity("Carol"))
	assert.Equal(t, "Carol", commits[1].FocusName)

	h.clock.Advance(10 * time.Second)
	assert.Len(t, h.committed(), 2)
	assert.False(t, h.sched.Status().Pending)
}

func TestCapResetDuringMutationWaitsForReload(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"A"})
	require.NoError(t, h.sched.Start(context.Background()))
	h.sched.SetVisible(false)

	for _, names := range [][]string{{"A", "B"}, {"A", "B", "C"}, {"A", "B", "C", "D"}} {
		h.store.set(names)
		_, err := h.sched.Reload(context.Background(), Options{Force: true, FocusName: names[len(names)-1]})
		require.NoError(t, err)
	}
	require.Len(t, h.committed(), 3)
	require.True(t, h.sched.Status().Pending)

	var during int
	err := h.sched.Mutate(context.Background(), func(ctx context.Context, store ports.GraphStore) error {
		h.clock.Advance(30 * time.Second)
		during = len(h.committed())
		h.store.set([]string{"A", "B", "C", "D", "E"})
		return nil
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, during)
	commits := h.committed()
	require.Len(t, commits, 4)
	last := commits[3]
	assert.True(t, last.Snapshot.HasEntity("E"))
	assert.True(t, last.Forced, "capped forced candidate keeps its priority")
	assert.Equal(t, "D", last.FocusName)
}

func TestHiddenSurfacePausesPolling(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))

	h.sched.SetVisible(false)
	calls := h.store.callCount()
	h.clock.Advance(time.Minute)
	assert.Equal(t, calls, h.store.callCount())

	h.sched.SetVisible(true)
	assert.Equal(t, calls, h.store.callCount(), "no catch-up poll on resume")
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, calls+1, h.store.callCount())
}

func TestTickSkipsWhileCycleInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))

	h.store.mu.Lock()
	h.store.entered = make(chan struct{})
	h.store.release = make(chan struct{})
	h.store.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.sched.Reload(context.Background(), Options{})
	}()
	<-h.store.entered
	calls := h.store.callCount()

	h.sched.tick()
	assert.Equal(t, calls, h.store.callCount())

	close(h.store.release)
	<-done
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestSuspendDiscardsAndResumeRearms(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))

	h.sched.Suspend()
	assert.False(t, h.sched.Timers().Active(timerPoll))
	outcome, err := h.sched.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeSkipped, outcome)

	h.sched.Resume()
	assert.Equal(t, StateIdle, h.sched.State())
	assert.True(t, h.sched.Timers().Active(timerPoll))
}

func TestStopCancelsEveryTimer(t *testing.T) {
	h := newHarness(t, nil)
	h.store.set([]string{"Alice"})
	require.NoError(t, h.sched.Start(context.Background()))
	_, _ = h.sched.Query(context.Background(), statements.Raw("MATCH (n) RETURN n"))

	h.sched.Stop()
	assert.Equal(t, 0, h.sched.Timers().Len())

	calls := h.store.callCount()
	h.clock.Advance(time.Hour)
	assert.Equal(t, calls, h.store.callCount())
}

func TestCachedSnapshotIsOnlyAPreview(t *testing.T) {
	h := newHarness(t, nil)
	cached := statements.ParseSnapshot(graphRows([]string{"Old"}, nil))
	h.cache.snapshot = cached

	h.sched.loadPreview()
	assert.True(t, h.sched.Status().Preview)
	assert.True(t, h.sched.Live().HasEntity("Old"))

	h.store.set([]string{"Old"})
	require.NoError(t, h.sched.Start(context.Background()))
	commits := h.committed()
	require.Len(t, commits, 1)
	assert.True(t, commits[0].First, "the preview never counts as a commit")
	assert.False(t, h.sched.Status().Preview)
}

func TestCommitPublishesEvent(t *testing.T) {
	store := &stubStore{}
	store.set([]string{"Alice"})
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("events.SnapshotCommitted")).Return(nil).Once()

	s := NewScheduler(store, nil, publisher, nil, nil, nil, clock.NewFake(epoch), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	publisher.AssertExpectations(t)
}

func TestRetryPolicy(t *testing.T) {
	fake := clock.NewFake(epoch)
	timers := clock.NewTimers(fake)
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

	t.Run("succeeds on a later attempt", func(t *testing.T) {
		var attempts []int
		failed := false
		policy.Run(timers, "ok", func(n int) bool {
			attempts = append(attempts, n)
			return n == 2
		}, func(int) { failed = true })
		fake.Advance(5 * time.Second)
		assert.Equal(t, []int{1, 2}, attempts)
		assert.False(t, failed)
	})

	t.Run("reports terminal failure", func(t *testing.T) {
		got := 0
		policy.Run(timers, "bad", func(int) bool { return false }, func(n int) { got = n })
		fake.Advance(5 * time.Second)
		assert.Equal(t, 3, got)
	})

	t.Run("dropped on teardown", func(t *testing.T) {
		calls := 0
		policy.Run(timers, "torn", func(int) bool { calls++; return false }, nil)
		timers.StopAll()
		fake.Advance(5 * time.Second)
		assert.Equal(t, 1, calls)
	})
}
