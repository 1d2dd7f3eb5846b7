package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/domain/events"
	"graphsync/pkg/clock"
	apperrors "graphsync/pkg/errors"
)

// Deduplicator keeps at most one entity per canonical name. It runs inside a
// scheduler mutation, against the store it is handed; callers serialize
// per name through a ports.Locker.
type Deduplicator struct {
	clock     clock.Clock
	publisher ports.EventPublisher
	logger    *zap.Logger
}

// NewDeduplicator creates a deduplicator. publisher may be nil.
func NewDeduplicator(clk clock.Clock, publisher ports.EventPublisher, logger *zap.Logger) *Deduplicator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{clock: clk, publisher: publisher, logger: logger}
}

// EnsureCanonical collapses every entity whose name canonicalizes to name
// into a single entity stored under the canonical form. Per attribute the
// first non-empty value in store return order wins; relations of the
// removed duplicates are recreated on the survivor. It returns the number
// of entities that were merged, zero when nothing had to change.
func (d *Deduplicator) EnsureCanonical(ctx context.Context, store ports.GraphStore, name string) (int, error) {
	canonical, err := valueobjects.NewCanonicalName(name)
	if err != nil {
		return 0, err
	}
	key := canonical.String()

	dups, err := d.findDuplicates(ctx, store, canonical)
	if err != nil {
		return 0, err
	}
	if len(dups) == 0 || (len(dups) == 1 && dups[0].Name == key) {
		return 0, nil
	}

	names := distinctNames(dups)
	attrs := make([]entities.Attributes, 0, len(dups))
	for _, e := range dups {
		attrs = append(attrs, e.Attributes)
	}
	merged := entities.MergeFirstNonEmpty(attrs...).Trimmed()

	isDup := make(map[string]bool, len(names))
	for _, n := range names {
		isDup[n] = true
	}
	rels, err := d.relationsOf(ctx, store, names)
	if err != nil {
		return 0, err
	}

	b := statements.NewMutationBuilder()
	for _, n := range names {
		b.DetachDelete(n)
	}
	b.CreateEntity(key, merged)

	seen := make(map[entities.RelationKey]bool)
	for _, r := range rels {
		src, tgt := r.Source, r.Target
		if isDup[src] {
			src = key
		}
		if isDup[tgt] {
			tgt = key
		}
		k := entities.RelationKey{Source: src, Target: tgt}
		if k.IsSelfLoop() || seen[k] {
			continue
		}
		seen[k] = true
		// The survivor is recreated under the shared timestamp, so its
		// relations take it too.
		b.CopyRelation(src, tgt, valueobjects.AbsentTimestamp(), r.Note)
	}

	m, err := b.Build()
	if err != nil {
		return 0, err
	}
	now := d.clock.Now()
	if err := store.ExecuteBatch(ctx, m.Stamp(now).Statements()); err != nil {
		return 0, apperrors.Wrap(err, "failed to merge duplicates")
	}

	d.logger.Info("Merged duplicate entities",
		zap.String("name", key),
		zap.Int("duplicates", len(dups)),
		zap.Int("relations", len(seen)),
	)
	d.publish(ctx, events.NewEntitiesMerged(key, len(dups), now))
	return len(dups), nil
}

// findDuplicates returns every stored entity whose name canonicalizes to
// canonical. Exact-name matches come first, in store order, followed by
// spelling variants.
func (d *Deduplicator) findDuplicates(ctx context.Context, store ports.GraphStore, canonical valueobjects.CanonicalName) ([]entities.Entity, error) {
	rows, err := store.Execute(ctx, statements.MatchEntities(canonical.String()))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up entity")
	}
	dups := statements.ParseEntities(rows)

	graphRows, err := store.Execute(ctx, statements.ReadGraph())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read graph")
	}
	for _, e := range statements.ParseSnapshot(graphRows).Entities() {
		if e.Name == canonical.String() || !canonical.Matches(e.Name) {
			continue
		}
		variantRows, err := store.Execute(ctx, statements.MatchEntities(e.Name))
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to look up entity")
		}
		dups = append(dups, statements.ParseEntities(variantRows)...)
	}
	return dups, nil
}

func (d *Deduplicator) relationsOf(ctx context.Context, store ports.GraphStore, names []string) ([]entities.Relation, error) {
	var out []entities.Relation
	for _, n := range names {
		rows, err := store.Execute(ctx, statements.MatchRelations(n))
		if err != nil {
			return nil, apperrors.Wrap(err, fmt.Sprintf("failed to read relations of %s", n))
		}
		out = append(out, statements.ParseRelations(rows)...)
	}
	return out, nil
}

// ResolveRename renames oldName to newName. When newName already belongs to
// another entity, the edited entity is folded into it: its relations are
// copied across (self-loops and pairs the target already has are skipped),
// the target's non-empty attributes win over the edited ones, and the
// edited entity is removed. It reports whether such a collision happened.
func (d *Deduplicator) ResolveRename(ctx context.Context, store ports.GraphStore, oldName, newName string) (bool, error) {
	canonical, err := valueobjects.NewCanonicalName(newName)
	if err != nil {
		return false, err
	}
	to := canonical.String()
	if oldName == to {
		return false, nil
	}

	editedRows, err := store.Execute(ctx, statements.MatchEntities(oldName))
	if err != nil {
		return false, apperrors.Wrap(err, "failed to look up entity")
	}
	edited := statements.ParseEntities(editedRows)
	if len(edited) == 0 {
		return false, apperrors.NewNotFoundError("entity " + oldName)
	}

	targetRows, err := store.Execute(ctx, statements.MatchEntities(to))
	if err != nil {
		return false, apperrors.Wrap(err, "failed to look up rename target")
	}
	targets := statements.ParseEntities(targetRows)
	now := d.clock.Now()

	if len(targets) == 0 {
		m, err := statements.NewMutationBuilder().Rename(oldName, to).Build()
		if err != nil {
			return false, err
		}
		if err := store.ExecuteBatch(ctx, m.Stamp(now).Statements()); err != nil {
			return false, apperrors.Wrap(err, "failed to rename entity")
		}
		d.publish(ctx, events.NewEntityRenamed(oldName, to, false, now))
		return false, nil
	}

	// The pre-existing target keeps its own non-empty values.
	merged := targets[0].Attributes.FillEmpty(edited[0].Attributes)

	oldRels, err := d.relationsOf(ctx, store, []string{oldName})
	if err != nil {
		return false, err
	}
	targetRels, err := d.relationsOf(ctx, store, []string{to})
	if err != nil {
		return false, err
	}
	existing := make(map[entities.RelationKey]bool, len(targetRels))
	for _, r := range targetRels {
		existing[r.Key()] = true
	}

	b := statements.NewMutationBuilder()
	copied := 0
	for _, r := range oldRels {
		var k entities.RelationKey
		var other string
		switch {
		case r.Source == oldName:
			other = r.Target
			k = entities.RelationKey{Source: to, Target: other}
		case r.Target == oldName:
			other = r.Source
			k = entities.RelationKey{Source: other, Target: to}
		default:
			continue
		}
		if other == oldName || other == to || existing[k] {
			continue
		}
		existing[k] = true
		b.CopyRelation(k.Source, k.Target, relationTime(r.CreatedAt, targets[0].CreatedAt), r.Note)
		copied++
	}
	b.DetachDelete(oldName)
	b.SetAttributes(to, merged)

	m, err := b.Build()
	if err != nil {
		return false, err
	}
	if err := store.ExecuteBatch(ctx, m.Stamp(now).Statements()); err != nil {
		return false, apperrors.Wrap(err, "failed to fold renamed entity")
	}

	d.logger.Info("Rename collided with existing entity, folded into it",
		zap.String("from", oldName),
		zap.String("to", to),
		zap.Int("relationsCopied", copied),
	)
	d.publish(ctx, events.NewEntityRenamed(oldName, to, true, now))
	return true, nil
}

// relationTime keeps a copied relation's timestamp unless it predates the
// endpoint it is moved onto; the mutation's shared timestamp applies then.
func relationTime(rel, endpoint valueobjects.Timestamp) valueobjects.Timestamp {
	if !rel.Valid() || (endpoint.Valid() && rel.Time().Before(endpoint.Time())) {
		return valueobjects.AbsentTimestamp()
	}
	return rel
}

func (d *Deduplicator) publish(ctx context.Context, event events.DomainEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("Failed to publish dedup event", zap.String("event", event.GetEventType()), zap.Error(err))
	}
}

func distinctNames(ents []entities.Entity) []string {
	seen := make(map[string]bool, len(ents))
	var out []string
	for _, e := range ents {
		if !seen[e.Name] {
			seen[e.Name] = true
			out = append(out, e.Name)
		}
	}
	return out
}
