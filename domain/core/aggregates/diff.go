package aggregates

import "sort"

// Diff is the result of comparing a candidate snapshot with the last
// accepted one.
type Diff struct {
	Changed    bool     `json:"changed"`
	ChangedIDs []string `json:"changedIds"`
}

// Compare reports whether candidate differs from previous and which entities
// are affected: entities that are new or whose content changed, plus both
// endpoints of every relation that is new or whose note or timestamp changed.
// A nil previous treats every candidate entity as changed.
func Compare(candidate, previous *Snapshot) Diff {
	if candidate == nil {
		candidate = EmptySnapshot()
	}
	if previous == nil {
		ids := make([]string, 0, candidate.EntityCount())
		for _, e := range candidate.entities {
			ids = append(ids, e.Name)
		}
		return Diff{Changed: true, ChangedIDs: ids}
	}

	changed := candidate.EntityCount() != previous.EntityCount() ||
		candidate.RelationCount() != previous.RelationCount()

	ids := make(map[string]struct{})
	for _, e := range candidate.entities {
		prev, ok := previous.Entity(e.Name)
		if !ok || !e.SameContent(prev) {
			ids[e.Name] = struct{}{}
			changed = true
		}
	}
	for _, r := range candidate.relations {
		prev, ok := previous.Relation(r.Source, r.Target)
		if !ok || !r.SameContent(prev) {
			ids[r.Source] = struct{}{}
			ids[r.Target] = struct{}{}
			changed = true
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return Diff{Changed: changed, ChangedIDs: out}
}
