package valueobjects

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	pkgerrors "graphsync/pkg/errors"
)

// MaxNameLength bounds canonical names accepted from callers.
const MaxNameLength = 200

// CanonicalName is the identity key of an entity: whitespace trimmed and
// collapsed, each space-delimited token title-cased.
type CanonicalName string

// Canonicalize normalizes raw into its canonical form. It never fails; an
// all-whitespace input yields the empty name.
func Canonicalize(raw string) CanonicalName {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return ""
	}
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)
	for i, tok := range tokens {
		r, size := utf8.DecodeRuneInString(tok)
		tokens[i] = upper.String(string(r)) + lower.String(tok[size:])
	}
	return CanonicalName(strings.Join(tokens, " "))
}

// NewCanonicalName canonicalizes raw and rejects empty or oversized names.
func NewCanonicalName(raw string) (CanonicalName, error) {
	name := Canonicalize(raw)
	if name == "" {
		return "", pkgerrors.NewValidationError("entity name cannot be empty")
	}
	if utf8.RuneCountInString(string(name)) > MaxNameLength {
		return "", pkgerrors.NewValidationError("entity name is too long")
	}
	return name, nil
}

func (n CanonicalName) String() string { return string(n) }

// IsZero reports whether the name is empty.
func (n CanonicalName) IsZero() bool { return n == "" }

// Matches reports whether raw canonicalizes to n.
func (n CanonicalName) Matches(raw string) bool {
	return Canonicalize(raw) == n
}
