package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/application/statements"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/domain/services"
	"graphsync/infrastructure/persistence/graphmodel"
	"graphsync/infrastructure/persistence/memory"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ts(hoursAgo int) valueobjects.Timestamp {
	return valueobjects.NewTimestamp(now.Add(-time.Duration(hoursAgo) * time.Hour))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, es []events.DomainEvent) error {
	for _, e := range es {
		_ = p.Publish(ctx, e)
	}
	return nil
}

func newDedup(t *testing.T) (*Deduplicator, *memory.Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewDeduplicator(clock.NewFake(now), pub, nil), memory.NewStore(nil), pub
}

func read(t *testing.T, s *memory.Store) *aggregates.Snapshot {
	t.Helper()
	rows, err := s.Execute(context.Background(), statements.ReadGraph())
	require.NoError(t, err)
	return statements.ParseSnapshot(rows)
}

func TestEnsureCanonicalConvergesConcurrentCreators(t *testing.T) {
	d, store, pub := newDedup(t)
	store.Seed(
		[]graphmodel.Node{
			{ID: "1", Name: "Alice", Attributes: entities.Attributes{Role: "Engineer"}, CreatedAt: ts(3)},
			{ID: "2", Name: "Alice", Attributes: entities.Attributes{Role: "Manager", Location: "Oslo"}, CreatedAt: ts(2)},
			{ID: "3", Name: "alice", Attributes: entities.Attributes{Contact: "alice.example"}, CreatedAt: ts(1)},
			{ID: "4", Name: "Bob", CreatedAt: ts(5)},
		},
		[]graphmodel.Edge{
			{ID: "a", SourceID: "1", TargetID: "4", CreatedAt: ts(3), Note: "first"},
			{ID: "b", SourceID: "2", TargetID: "4", CreatedAt: ts(2)},
			{ID: "c", SourceID: "1", TargetID: "2", CreatedAt: ts(2)},
			{ID: "d", SourceID: "4", TargetID: "3", CreatedAt: ts(1)},
		},
	)

	merged, err := d.EnsureCanonical(context.Background(), store, "  alice ")
	require.NoError(t, err)
	assert.Equal(t, 3, merged)

	snap := read(t, store)
	assert.Equal(t, 2, snap.EntityCount())
	alice, ok := snap.Entity("Alice")
	require.True(t, ok)
	assert.Equal(t, entities.Attributes{Role: "Engineer", Location: "Oslo", Contact: "alice.example"}, alice.Attributes)
	assert.Equal(t, now.UnixMilli(), alice.CreatedAt.Millis())

	require.Equal(t, 2, snap.RelationCount())
	out, ok := snap.Relation("Alice", "Bob")
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), out.CreatedAt.Millis())
	assert.Equal(t, "first", out.Note)
	in, ok := snap.Relation("Bob", "Alice")
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), in.CreatedAt.Millis())
	assert.False(t, snap.HasRelation("Alice", "Alice"))

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.NewEntitiesMerged("Alice", 3, now).GetEventType(), pub.events[0].GetEventType())

	again, err := d.EnsureCanonical(context.Background(), store, "Alice")
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, pub.events, 1)
}

func TestMergedRelationsStayInLatestTimelineSnapshot(t *testing.T) {
	d, store, _ := newDedup(t)
	store.Seed(
		[]graphmodel.Node{
			{ID: "1", Name: "alice", CreatedAt: ts(3)},
			{ID: "2", Name: "Bob", CreatedAt: ts(4)},
		},
		[]graphmodel.Edge{{ID: "a", SourceID: "1", TargetID: "2", CreatedAt: ts(3)}},
	)

	_, err := d.EnsureCanonical(context.Background(), store, "Alice")
	require.NoError(t, err)

	live := read(t, store)
	require.Equal(t, 1, live.RelationCount())
	window := services.TimelineBounds(live, now, 24*time.Hour)
	assert.False(t, window.Fallback)

	at := services.SnapshotAt(live, window.Latest)
	assert.Equal(t, live.RelationCount(), at.RelationCount())
	assert.True(t, at.HasRelation("Alice", "Bob"))
	assert.True(t, at.HasEntity("Alice"))
}

func TestEnsureCanonicalNoop(t *testing.T) {
	tests := []struct {
		name  string
		nodes []graphmodel.Node
	}{
		{"absent", nil},
		{"single canonical", []graphmodel.Node{{ID: "1", Name: "Ann Lee"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, pub := newDedup(t)
			store.Seed(tt.nodes, nil)
			n, err := d.EnsureCanonical(context.Background(), store, "ann   lee")
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, pub.events)
		})
	}
}

func TestEnsureCanonicalRenamesSingleVariant(t *testing.T) {
	d, store, _ := newDedup(t)
	store.Seed([]graphmodel.Node{{ID: "1", Name: "ann lee", Attributes: entities.Attributes{Role: "Dev"}}}, nil)

	n, err := d.EnsureCanonical(context.Background(), store, "Ann Lee")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := read(t, store)
	e, ok := snap.Entity("Ann Lee")
	require.True(t, ok)
	assert.Equal(t, "Dev", e.Role)
	assert.False(t, snap.HasEntity("ann lee"))
}

func TestEnsureCanonicalRejectsEmptyName(t *testing.T) {
	d, store, _ := newDedup(t)
	_, err := d.EnsureCanonical(context.Background(), store, "   ")
	assert.True(t, apperrors.IsValidation(err))
}

func TestResolveRenameWithoutCollision(t *testing.T) {
	d, store, pub := newDedup(t)
	store.Seed(
		[]graphmodel.Node{{ID: "1", Name: "Ann"}, {ID: "2", Name: "Bob"}},
		[]graphmodel.Edge{{ID: "a", SourceID: "1", TargetID: "2", CreatedAt: ts(1)}},
	)

	collided, err := d.ResolveRename(context.Background(), store, "Ann", "ann  smith")
	require.NoError(t, err)
	assert.False(t, collided)

	snap := read(t, store)
	assert.True(t, snap.HasEntity("Ann Smith"))
	assert.False(t, snap.HasEntity("Ann"))
	assert.True(t, snap.HasRelation("Ann Smith", "Bob"))
	require.Len(t, pub.events, 1)
	renamed, ok := pub.events[0].(events.EntityRenamed)
	require.True(t, ok)
	assert.False(t, renamed.Collision)
}

func TestResolveRenameCollisionFoldsIntoTarget(t *testing.T) {
	d, store, pub := newDedup(t)
	store.Seed(
		[]graphmodel.Node{
			{ID: "ann", Name: "Ann", Attributes: entities.Attributes{Role: "Dev", Location: "Oslo"}},
			{ID: "bob", Name: "Bob"},
			{ID: "cid", Name: "Cid"},
			{ID: "dan", Name: "Dan", Attributes: entities.Attributes{Role: "Lead"}},
		},
		[]graphmodel.Edge{
			{ID: "1", SourceID: "ann", TargetID: "bob", CreatedAt: ts(1), Note: "from ann"},
			{ID: "2", SourceID: "cid", TargetID: "ann", CreatedAt: ts(2)},
			{ID: "3", SourceID: "ann", TargetID: "dan", CreatedAt: ts(3)},
			{ID: "4", SourceID: "dan", TargetID: "bob", CreatedAt: ts(4)},
		},
	)

	collided, err := d.ResolveRename(context.Background(), store, "Ann", "dan")
	require.NoError(t, err)
	assert.True(t, collided)

	snap := read(t, store)
	assert.False(t, snap.HasEntity("Ann"))
	dan, ok := snap.Entity("Dan")
	require.True(t, ok)
	// Target keeps its own role; only its empty location is filled.
	assert.Equal(t, entities.Attributes{Role: "Lead", Location: "Oslo"}, dan.Attributes)

	assert.Equal(t, 2, snap.RelationCount())
	kept, ok := snap.Relation("Dan", "Bob")
	require.True(t, ok)
	assert.Equal(t, ts(4).Millis(), kept.CreatedAt.Millis())
	assert.Empty(t, kept.Note)
	copied, ok := snap.Relation("Cid", "Dan")
	require.True(t, ok)
	assert.Equal(t, ts(2).Millis(), copied.CreatedAt.Millis())
	assert.False(t, snap.HasRelation("Dan", "Dan"))

	require.Len(t, pub.events, 1)
	renamed := pub.events[0].(events.EntityRenamed)
	assert.True(t, renamed.Collision)
}

func TestResolveRenameRestampsRelationsOlderThanTarget(t *testing.T) {
	d, store, _ := newDedup(t)
	store.Seed(
		[]graphmodel.Node{
			{ID: "ann", Name: "Ann", CreatedAt: ts(5)},
			{ID: "bob", Name: "Bob", CreatedAt: ts(5)},
			{ID: "cid", Name: "Cid", CreatedAt: ts(5)},
			{ID: "dan", Name: "Dan", CreatedAt: ts(2)},
		},
		[]graphmodel.Edge{
			{ID: "1", SourceID: "ann", TargetID: "bob", CreatedAt: ts(4)},
			{ID: "2", SourceID: "cid", TargetID: "ann", CreatedAt: ts(1)},
		},
	)

	collided, err := d.ResolveRename(context.Background(), store, "Ann", "Dan")
	require.NoError(t, err)
	require.True(t, collided)

	snap := read(t, store)
	older, ok := snap.Relation("Dan", "Bob")
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), older.CreatedAt.Millis())
	newer, ok := snap.Relation("Cid", "Dan")
	require.True(t, ok)
	assert.Equal(t, ts(1).Millis(), newer.CreatedAt.Millis())

	at := services.SnapshotAt(snap, services.TimelineBounds(snap, now, 24*time.Hour).Latest)
	assert.Equal(t, snap.RelationCount(), at.RelationCount())
}

func TestResolveRenameMissingEntity(t *testing.T) {
	d, store, _ := newDedup(t)
	_, err := d.ResolveRename(context.Background(), store, "Ghost", "Bob")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolveRenameSameName(t *testing.T) {
	d, store, pub := newDedup(t)
	store.Seed([]graphmodel.Node{{ID: "1", Name: "Ann"}}, nil)
	collided, err := d.ResolveRename(context.Background(), store, "Ann", " ann ")
	require.NoError(t, err)
	assert.False(t, collided)
	assert.Empty(t, pub.events)
}

type failingStore struct{ *memory.Store }

func (f failingStore) ExecuteBatch(context.Context, []statements.Statement) error {
	return errors.New("connection reset")
}

func TestEnsureCanonicalStoreFailure(t *testing.T) {
	d, store, pub := newDedup(t)
	store.Seed([]graphmodel.Node{{ID: "1", Name: "Ann"}, {ID: "2", Name: "Ann"}}, nil)

	_, err := d.EnsureCanonical(context.Background(), failingStore{store}, "Ann")
	require.Error(t, err)
	assert.Empty(t, pub.events)
	assert.Len(t, store.Graph().Nodes(), 2)
}
