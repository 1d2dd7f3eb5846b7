package entities

import (
	"fmt"

	"graphsync/domain/core/valueobjects"
)

// RelationKey identifies a directed relation by its endpoints.
type RelationKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (k RelationKey) String() string {
	return fmt.Sprintf("%s->%s", k.Source, k.Target)
}

// Less orders keys by (source, target).
func (k RelationKey) Less(other RelationKey) bool {
	if k.Source != other.Source {
		return k.Source < other.Source
	}
	return k.Target < other.Target
}

// IsSelfLoop reports whether both endpoints are the same entity.
func (k RelationKey) IsSelfLoop() bool {
	return k.Source == k.Target
}

// Relation is a directed edge between two entities.
type Relation struct {
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	CreatedAt valueobjects.Timestamp `json:"createdAt"`
	Note      string                 `json:"note,omitempty"`
}

func (r Relation) Key() RelationKey {
	return RelationKey{Source: r.Source, Target: r.Target}
}

// SameContent compares timestamp and note of two relations with equal keys.
func (r Relation) SameContent(other Relation) bool {
	return r.Key() == other.Key() && r.Note == other.Note && r.CreatedAt.Equal(other.CreatedAt)
}
