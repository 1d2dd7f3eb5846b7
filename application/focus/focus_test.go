package focus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainconfig "graphsync/domain/config"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/pkg/clock"
)

var start = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type staticSource struct{ snap *aggregates.Snapshot }

func (s *staticSource) Live() *aggregates.Snapshot { return s.snap }

// Chain: Ann - Bob - Cid - Dan, plus Eve alone.
func chainGraph() *aggregates.Snapshot {
	return aggregates.NewSnapshot(
		[]entities.Entity{
			{Name: "Ann", Attributes: entities.Attributes{Location: "Oslo"}},
			{Name: "Bob"},
			{Name: "Cid", Attributes: entities.Attributes{Role: "Engineer"}},
			{Name: "Dan"},
			{Name: "Eve", Attributes: entities.Attributes{Role: "engineering lead"}},
		},
		[]entities.Relation{
			{Source: "Ann", Target: "Bob"},
			{Source: "Cid", Target: "Bob"},
			{Source: "Cid", Target: "Dan"},
		},
	)
}

func newArbiter(t *testing.T) (*Arbiter, *clock.Fake, *staticSource) {
	t.Helper()
	fake := clock.NewFake(start)
	src := &staticSource{snap: chainGraph()}
	a := NewArbiter(src, domainconfig.NewHolder(nil), fake, nil, nil, nil)
	t.Cleanup(a.Stop)
	return a, fake, src
}

func TestClickBeatsRemoteChangeInSameBatch(t *testing.T) {
	for _, order := range [][]Trigger{
		{Click("Dan"), RemoteChange([]string{"Ann", "Bob"})},
		{RemoteChange([]string{"Ann", "Bob"}), Click("Dan")},
	} {
		a, _, _ := newArbiter(t)
		require.True(t, a.Submit(order...))
		s := a.State()
		assert.Equal(t, KindClick, s.Kind)
		assert.Equal(t, []string{"Dan"}, s.FocusIDs)
	}
}

func TestPriorityWhileArmed(t *testing.T) {
	tests := []struct {
		name    string
		current Trigger
		next    Trigger
		wins    bool
	}{
		{"lower loses", Click("Ann"), RemoteChange([]string{"Dan"}), false},
		{"equal wins", Search("oslo"), Search("engineer"), true},
		{"higher wins", Mutation([]string{"Ann"}), Creation("Dan"), true},
		{"creation loses to search", Search("oslo"), Creation("Dan"), false},
		{"background clear always wins", Click("Ann"), BackgroundClear(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newArbiter(t)
			require.True(t, a.Submit(tt.current))
			assert.Equal(t, tt.wins, a.Submit(tt.next))
		})
	}
}

func TestTimeoutUnarmsButKeepsHighlight(t *testing.T) {
	a, fake, _ := newArbiter(t)
	require.True(t, a.Submit(Click("Ann")))
	visible := a.State().Visible

	fake.Advance(10 * time.Second)
	s := a.State()
	assert.False(t, s.Armed)
	assert.Equal(t, KindClick, s.Kind)
	assert.Equal(t, visible, s.Visible)

	assert.True(t, a.Submit(RemoteChange([]string{"Dan"})))
	assert.Equal(t, KindRemoteChange, a.State().Kind)
}

func TestBackgroundClearResetsToIdle(t *testing.T) {
	a, _, _ := newArbiter(t)
	require.True(t, a.Submit(Search("oslo")))

	require.True(t, a.Submit(BackgroundClear()))
	s := a.State()
	assert.Equal(t, KindIdle, s.Kind)
	assert.Empty(t, s.Visible)
	assert.Empty(t, s.Search)
	assert.False(t, s.Armed)
}

func TestEmptySearchClears(t *testing.T) {
	a, _, _ := newArbiter(t)
	require.True(t, a.Submit(Click("Ann")))
	require.True(t, a.Submit(Search("  ")))
	assert.Equal(t, KindIdle, a.State().Kind)
}

func TestRemoteChangeVisibility(t *testing.T) {
	a, _, _ := newArbiter(t)
	require.True(t, a.Submit(RemoteChange([]string{"Ann", "Bob"})))

	s := a.State()
	assert.Equal(t, KindRemoteChange, s.Kind)
	assert.Equal(t, []string{"Ann", "Bob"}, s.FocusIDs)
	assert.Equal(t, []string{"Ann", "Bob", "Cid"}, s.Visible)
}

func TestActiveSearchIsUnionedUntilClick(t *testing.T) {
	a, fake, _ := newArbiter(t)
	require.True(t, a.Submit(Search("engineer")))
	assert.Equal(t, []string{"Cid", "Eve"}, a.State().FocusIDs)

	fake.Advance(10 * time.Second)
	require.True(t, a.Submit(Mutation([]string{"Ann"})))
	s := a.State()
	assert.Equal(t, "engineer", s.Search)
	assert.Equal(t, []string{"Ann", "Bob", "Cid", "Dan", "Eve"}, s.Visible)

	require.True(t, a.Submit(Click("Dan")))
	s = a.State()
	assert.Empty(t, s.Search)
	assert.Equal(t, []string{"Cid", "Dan"}, s.Visible)
}

func TestCameraFramesVisibleEntities(t *testing.T) {
	a, _, _ := newArbiter(t)
	a.ReportPositions(map[string]valueobjects.Position{
		"Ann": {X: 0, Y: 0},
		"Bob": {X: 200, Y: 100},
		"Cid": {X: 400, Y: 0},
	})

	require.True(t, a.Submit(Click("Bob")))
	cam := a.State().Camera
	require.NotNil(t, cam)
	assert.Equal(t, valueobjects.Position{X: 200, Y: 50}, cam.Center)
	// min((1200-100)/400, (800-100)/100, 2)
	assert.InDelta(t, 2.0, cam.Scale, 1e-9)
}

func TestCreationCameraWaitsForSettle(t *testing.T) {
	a, fake, _ := newArbiter(t)
	a.ReportPositions(map[string]valueobjects.Position{"Dan": {X: 10, Y: 10}})

	require.True(t, a.Submit(Creation("Dan")))
	assert.Nil(t, a.State().Camera)

	fake.Advance(time.Second)
	require.NotNil(t, a.State().Camera)
}

func TestSettleIsReplacedByLaterWinner(t *testing.T) {
	a, fake, _ := newArbiter(t)
	a.ReportPositions(map[string]valueobjects.Position{"Dan": {X: 10, Y: 10}, "Ann": {X: 0, Y: 0}})

	require.True(t, a.Submit(Creation("Dan")))
	require.True(t, a.Submit(Click("Ann")))
	fake.Advance(2 * time.Second)

	s := a.State()
	assert.Equal(t, KindClick, s.Kind)
	require.NotNil(t, s.Camera)
	assert.NotContains(t, s.Camera.FocusIDs, "Dan")
}

func TestCameraRetriesUntilPositionsArrive(t *testing.T) {
	a, fake, _ := newArbiter(t)
	require.True(t, a.Submit(Click("Eve")))
	assert.Nil(t, a.State().Camera)

	fake.Advance(500 * time.Millisecond)
	a.ReportPositions(map[string]valueobjects.Position{"Eve": {X: 5, Y: 5}})
	fake.Advance(500 * time.Millisecond)

	cam := a.State().Camera
	require.NotNil(t, cam)
	assert.Equal(t, 2.0, cam.Scale)
}

func TestRefreshFollowsNewSnapshot(t *testing.T) {
	a, _, src := newArbiter(t)
	require.True(t, a.Submit(Click("Eve")))
	assert.Equal(t, []string{"Eve"}, a.State().Visible)

	src.snap = aggregates.NewSnapshot(
		append(chainGraph().Entities(), entities.Entity{Name: "Fay"}),
		[]entities.Relation{{Source: "Eve", Target: "Fay"}},
	)
	a.Refresh()
	assert.Equal(t, []string{"Eve", "Fay"}, a.State().Visible)
	assert.True(t, a.State().Armed)
}

func TestVisibilityHops(t *testing.T) {
	g := chainGraph()
	assert.Equal(t, []string{"Ann"}, Visibility(g, []string{"Ann"}, 0, ""))
	assert.Equal(t, []string{"Ann", "Bob", "Cid"}, Visibility(g, []string{"Ann"}, 2, ""))
	assert.Equal(t, []string{"Ann", "Bob", "Cid", "Dan"}, Visibility(g, []string{"Ann"}, 3, ""))
	assert.Equal(t, []string{}, Visibility(g, []string{"Nobody"}, 1, ""))
}

func TestFrameGuardsZeroSize(t *testing.T) {
	vp := Viewport{Width: 1200, Height: 800, Padding: 100, MaxZoom: 2}

	cam, ok := Frame([]string{"A"}, map[string]valueobjects.Position{"A": {X: 3, Y: 4}}, vp)
	require.True(t, ok)
	assert.Equal(t, 2.0, cam.Scale)

	_, ok = Frame([]string{"A"}, nil, vp)
	assert.False(t, ok)

	cam, ok = Frame([]string{"A", "B"}, map[string]valueobjects.Position{"A": {X: 0, Y: 0}, "B": {X: 2200, Y: 0}}, vp)
	require.True(t, ok)
	assert.InDelta(t, 0.5, cam.Scale, 1e-9)
}

func TestActivity(t *testing.T) {
	fake := clock.NewFake(start)
	act := NewActivity(domainconfig.NewHolder(nil), fake)
	act.Start()
	defer act.Stop()

	fake.Advance(4 * time.Second)
	assert.False(t, act.IsIdle())
	assert.False(t, act.Ambient())

	fake.Advance(2 * time.Second)
	assert.True(t, act.IsIdle())
	assert.True(t, act.Ambient())

	act.Touch()
	assert.False(t, act.Ambient())
	assert.False(t, act.IsIdle())

	act.Pause()
	fake.Advance(10 * time.Second)
	assert.True(t, act.IsIdle())
	assert.False(t, act.Ambient(), "ambient stays off while paused")
}

func TestAmbientFlagDoesNotTouchArbiter(t *testing.T) {
	a, fake, _ := newArbiter(t)
	act := NewActivity(domainconfig.NewHolder(nil), fake)
	act.Start()
	defer act.Stop()

	require.True(t, a.Submit(Click("Ann")))
	before := a.State().Visible
	fake.Advance(8 * time.Second)

	assert.True(t, act.Ambient())
	assert.Equal(t, before, a.State().Visible)
	assert.Equal(t, KindClick, a.State().Kind)
}
