package services

import (
	"time"

	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
)

// TimelineWindow is the range over which point-in-time snapshots can be
// requested.
type TimelineWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	// Fallback is set when no relation carried a valid timestamp.
	Fallback bool `json:"fallback"`
}

// Contains reports whether t lies within the window, inclusive.
func (w TimelineWindow) Contains(t time.Time) bool {
	return !t.Before(w.Earliest) && !t.After(w.Latest)
}

// Clamp limits t to the window.
func (w TimelineWindow) Clamp(t time.Time) time.Time {
	if t.Before(w.Earliest) {
		return w.Earliest
	}
	if t.After(w.Latest) {
		return w.Latest
	}
	return t
}

// TimelineBounds derives the window from relation timestamps only;
// standalone entities never widen it. Without any valid relation timestamp
// the window is the fallback duration ending at now.
func TimelineBounds(s *aggregates.Snapshot, now time.Time, fallback time.Duration) TimelineWindow {
	var w TimelineWindow
	found := false
	if s != nil {
		for _, r := range s.Relations() {
			if !r.CreatedAt.Valid() {
				continue
			}
			t := r.CreatedAt.Time()
			if !found || t.Before(w.Earliest) {
				w.Earliest = t
			}
			if !found || t.After(w.Latest) {
				w.Latest = t
			}
			found = true
		}
	}
	if !found {
		return TimelineWindow{Earliest: now.Add(-fallback), Latest: now, Fallback: true}
	}
	return w
}

// SnapshotAt reconstructs the graph as of t: every entity created at or
// before t, and every relation whose own timestamp and both endpoints'
// timestamps are at or before t. Items without a valid timestamp are
// excluded.
func SnapshotAt(s *aggregates.Snapshot, t time.Time) *aggregates.Snapshot {
	if s == nil {
		return aggregates.EmptySnapshot()
	}

	ents := make([]entities.Entity, 0, s.EntityCount())
	present := make(map[string]bool, s.EntityCount())
	for _, e := range s.Entities() {
		if e.CreatedAt.AtOrBefore(t) {
			ents = append(ents, e)
			present[e.Name] = true
		}
	}

	rels := make([]entities.Relation, 0, s.RelationCount())
	for _, r := range s.Relations() {
		if r.CreatedAt.AtOrBefore(t) && present[r.Source] && present[r.Target] {
			rels = append(rels, r)
		}
	}
	return aggregates.NewSnapshot(ents, rels)
}
