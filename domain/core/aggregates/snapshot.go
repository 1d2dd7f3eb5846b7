package aggregates

import (
	"encoding/json"
	"sort"

	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
)

// Snapshot is an immutable (entities, relations) pair with a derived
// fingerprint. Entities are sorted by name and relations by (source,
// target); a relation whose endpoint is missing is dropped.
type Snapshot struct {
	entities    []entities.Entity
	relations   []entities.Relation
	byName      map[string]int
	relIndex    map[entities.RelationKey]int
	adjacency   map[string][]string
	fingerprint Fingerprint
}

// NewSnapshot builds a snapshot from unordered input. The first occurrence of
// a name or a relation key wins.
func NewSnapshot(ents []entities.Entity, rels []entities.Relation) *Snapshot {
	s := &Snapshot{
		byName:    make(map[string]int, len(ents)),
		relIndex:  make(map[entities.RelationKey]int, len(rels)),
		adjacency: make(map[string][]string),
	}

	for _, e := range ents {
		if e.Name == "" {
			continue
		}
		if _, dup := s.byName[e.Name]; dup {
			continue
		}
		s.byName[e.Name] = len(s.entities)
		s.entities = append(s.entities, e)
	}
	sort.SliceStable(s.entities, func(i, j int) bool {
		return s.entities[i].Name < s.entities[j].Name
	})
	for i, e := range s.entities {
		s.byName[e.Name] = i
	}

	for _, r := range rels {
		if _, ok := s.byName[r.Source]; !ok {
			continue
		}
		if _, ok := s.byName[r.Target]; !ok {
			continue
		}
		if _, dup := s.relIndex[r.Key()]; dup {
			continue
		}
		s.relIndex[r.Key()] = len(s.relations)
		s.relations = append(s.relations, r)
	}
	sort.SliceStable(s.relations, func(i, j int) bool {
		return s.relations[i].Key().Less(s.relations[j].Key())
	})
	for i, r := range s.relations {
		s.relIndex[r.Key()] = i
		s.adjacency[r.Source] = append(s.adjacency[r.Source], r.Target)
		if r.Source != r.Target {
			s.adjacency[r.Target] = append(s.adjacency[r.Target], r.Source)
		}
	}

	s.fingerprint = computeFingerprint(s.entities, s.relations)
	return s
}

// EmptySnapshot returns a snapshot with no content.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil, nil)
}

// Entities returns a copy of the sorted entity list.
func (s *Snapshot) Entities() []entities.Entity {
	out := make([]entities.Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Relations returns a copy of the sorted relation list.
func (s *Snapshot) Relations() []entities.Relation {
	out := make([]entities.Relation, len(s.relations))
	copy(out, s.relations)
	return out
}

// Entity looks up an entity by exact name.
func (s *Snapshot) Entity(name string) (entities.Entity, bool) {
	i, ok := s.byName[name]
	if !ok {
		return entities.Entity{}, false
	}
	return s.entities[i], true
}

// HasEntity reports whether name is present.
func (s *Snapshot) HasEntity(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Relation looks up a relation by its endpoints.
func (s *Snapshot) Relation(source, target string) (entities.Relation, bool) {
	i, ok := s.relIndex[entities.RelationKey{Source: source, Target: target}]
	if !ok {
		return entities.Relation{}, false
	}
	return s.relations[i], true
}

// HasRelation reports whether the directed pair is present.
func (s *Snapshot) HasRelation(source, target string) bool {
	_, ok := s.relIndex[entities.RelationKey{Source: source, Target: target}]
	return ok
}

// Neighbors returns entities one relation away in either direction.
func (s *Snapshot) Neighbors(name string) []string {
	return s.adjacency[name]
}

func (s *Snapshot) EntityCount() int   { return len(s.entities) }
func (s *Snapshot) RelationCount() int { return len(s.relations) }
func (s *Snapshot) IsEmpty() bool      { return len(s.entities) == 0 }

// Fingerprint returns the content hash computed at construction.
func (s *Snapshot) Fingerprint() Fingerprint { return s.fingerprint }

// WithPositions returns a copy whose entities carry the given positions.
// The fingerprint is unchanged since positions are not hashed.
func (s *Snapshot) WithPositions(positions map[string]valueobjects.Position) *Snapshot {
	ents := s.Entities()
	for i := range ents {
		if p, ok := positions[ents[i].Name]; ok {
			p := p
			ents[i].Position = &p
		}
	}
	return NewSnapshot(ents, s.relations)
}

type snapshotJSON struct {
	Fingerprint string              `json:"fingerprint"`
	Entities    []entities.Entity   `json:"entities"`
	Relations   []entities.Relation `json:"relations"`
}

// MarshalJSON encodes the snapshot for transport and the soft cache.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	ents := s.entities
	if ents == nil {
		ents = []entities.Entity{}
	}
	rels := s.relations
	if rels == nil {
		rels = []entities.Relation{}
	}
	return json.Marshal(snapshotJSON{
		Fingerprint: s.fingerprint.String(),
		Entities:    ents,
		Relations:   rels,
	})
}

// UnmarshalJSON rebuilds the snapshot and recomputes its fingerprint.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = *NewSnapshot(raw.Entities, raw.Relations)
	return nil
}
