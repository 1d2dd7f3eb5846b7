package entities

import (
	"strings"

	"graphsync/domain/core/valueobjects"
)

// Attributes are the user-editable properties of an entity.
type Attributes struct {
	Role     string `json:"role" yaml:"role"`
	Location string `json:"location" yaml:"location"`
	Contact  string `json:"contact" yaml:"contact"`
}

// IsEmpty reports whether every attribute is blank.
func (a Attributes) IsEmpty() bool {
	return a.Role == "" && a.Location == "" && a.Contact == ""
}

// FillEmpty keeps every non-empty value of a and takes the rest from other.
// The receiver's values therefore win over other's.
func (a Attributes) FillEmpty(other Attributes) Attributes {
	if a.Role == "" {
		a.Role = other.Role
	}
	if a.Location == "" {
		a.Location = other.Location
	}
	if a.Contact == "" {
		a.Contact = other.Contact
	}
	return a
}

// Trimmed returns a copy with surrounding whitespace removed.
func (a Attributes) Trimmed() Attributes {
	return Attributes{
		Role:     strings.TrimSpace(a.Role),
		Location: strings.TrimSpace(a.Location),
		Contact:  strings.TrimSpace(a.Contact),
	}
}

// MergeFirstNonEmpty picks, per attribute, the first non-empty value in the
// order given.
func MergeFirstNonEmpty(candidates ...Attributes) Attributes {
	var merged Attributes
	for _, c := range candidates {
		merged = merged.FillEmpty(c)
	}
	return merged
}

// Entity is a graph node as observed in one snapshot.
type Entity struct {
	Name string `json:"name"`
	Attributes
	CreatedAt valueobjects.Timestamp `json:"createdAt"`
	// Position is layout state reported by the renderer, never compared.
	Position *valueobjects.Position `json:"position,omitempty"`
}

// Key returns the canonical identity of the entity.
func (e Entity) Key() valueobjects.CanonicalName {
	return valueobjects.Canonicalize(e.Name)
}

// SameContent compares every non-position field.
func (e Entity) SameContent(other Entity) bool {
	return e.Name == other.Name &&
		e.Attributes == other.Attributes &&
		e.CreatedAt.Equal(other.CreatedAt)
}

// Matches reports whether the case-insensitive needle occurs in the name,
// location, role or contact.
func (e Entity) Matches(needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	for _, field := range []string{e.Name, e.Location, e.Role, e.Contact} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
