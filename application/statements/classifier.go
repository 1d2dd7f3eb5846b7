package statements

import (
	"regexp"
	"strings"

	apperrors "graphsync/pkg/errors"
)

// Kind is the outcome of classifying a statement.
type Kind int

const (
	KindInvalid Kind = iota
	KindRead
	KindMutation
	KindUnsafeMutation
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindMutation:
		return "mutation"
	case KindUnsafeMutation:
		return "unsafe_mutation"
	default:
		return "invalid"
	}
}

// Classification describes a statement.
type Classification struct {
	Kind Kind `json:"-"`
	// Text is the trimmed statement.
	Text string `json:"text"`
	// Leading is the upper-cased leading keyword, empty when invalid.
	Leading string `json:"leading,omitempty"`
	// Keyword is the first write keyword found, or the destructive one for
	// unsafe mutations.
	Keyword string `json:"keyword,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

var (
	leadingKeywords = regexp.MustCompile(`(?i)^(MATCH|CREATE|MERGE|DELETE|SET|RETURN|WITH|UNWIND|CALL)\b`)
	writeKeywords   = regexp.MustCompile(`(?i)\b(DETACH\s+DELETE|CREATE|MERGE|SET|DELETE|REMOVE)\b`)
	destructive     = regexp.MustCompile(`(?i)\b(DELETE|REMOVE)\b`)

	// Quoted literals are blanked before keyword scanning so that
	// {name: 'Set Theory'} does not read as a write.
	stringLiteral = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
)

// Classify sorts a statement into Invalid, Read, Mutation or UnsafeMutation.
// The leading keyword check runs first; write keywords are then searched
// anywhere in the statement.
func Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	c := Classification{Text: trimmed}
	if trimmed == "" {
		c.Reason = "empty statement"
		return c
	}

	lead := leadingKeywords.FindString(trimmed)
	if lead == "" {
		c.Reason = "statement must start with one of MATCH, CREATE, MERGE, DELETE, SET, RETURN, WITH, UNWIND, CALL"
		return c
	}
	c.Leading = strings.ToUpper(lead)

	scan := stringLiteral.ReplaceAllString(trimmed, "''")
	write := writeKeywords.FindString(scan)
	if write == "" {
		c.Kind = KindRead
		return c
	}
	c.Keyword = strings.ToUpper(strings.Join(strings.Fields(write), " "))

	if d := destructive.FindString(scan); d != "" {
		c.Kind = KindUnsafeMutation
		c.Keyword = strings.ToUpper(d)
		c.Reason = "destructive keyword " + c.Keyword
		return c
	}
	c.Kind = KindMutation
	return c
}

// ClassifyValue classifies an arbitrary input; anything but a string is
// invalid.
func ClassifyValue(v any) Classification {
	s, ok := v.(string)
	if !ok {
		return Classification{Reason: "statement is not a string"}
	}
	return Classify(s)
}

// Err converts a refusing classification into the matching application
// error. Read and Mutation return nil.
func (c Classification) Err() error {
	switch c.Kind {
	case KindInvalid:
		return apperrors.NewInvalidQueryError(c.Reason)
	case KindUnsafeMutation:
		return apperrors.NewUnsafeMutationError(c.Keyword)
	default:
		return nil
	}
}

// IsMutation reports whether the statement writes, safely or not.
func (c Classification) IsMutation() bool {
	return c.Kind == KindMutation || c.Kind == KindUnsafeMutation
}
