package types

import "strings"

// ConceptID identifies a taxonomy concept
type ConceptID string

// SchemeID identifies a concept scheme
type SchemeID string

// ConceptRef is a resolved concept together with its canonical notation.
type ConceptRef struct {
	ID       ConceptID
	SchemeID SchemeID
	Notation string
}

// StrictTagFilter is a resolved filter. All fields combine with logical AND
// and an empty field is a no-op.
type StrictTagFilter struct {
	RequiredConcepts []ConceptRef
	AnyConcepts      []ConceptRef
	ExcludedConcepts []ConceptRef
	RequiredSchemes  []SchemeID
	ExcludedSchemes  []SchemeID

	// Plain string tags, matched hierarchically like concept notations
	RequiredTags []string
	AnyTags      []string
	ExcludedTags []string

	MinTagCount     *int
	IncludeUntagged bool

	// MatchNone short-circuits the filter to reject every note
	MatchNone bool
}

// NewStrictTagFilter returns an empty filter that includes untagged notes.
func NewStrictTagFilter() StrictTagFilter {
	return StrictTagFilter{IncludeUntagged: true}
}

// IsEmpty reports whether the filter imposes no constraint.
func (f *StrictTagFilter) IsEmpty() bool {
	return len(f.RequiredConcepts) == 0 &&
		len(f.AnyConcepts) == 0 &&
		len(f.ExcludedConcepts) == 0 &&
		len(f.RequiredSchemes) == 0 &&
		len(f.ExcludedSchemes) == 0 &&
		len(f.RequiredTags) == 0 &&
		len(f.AnyTags) == 0 &&
		len(f.ExcludedTags) == 0 &&
		f.MinTagCount == nil &&
		f.IncludeUntagged &&
		!f.MatchNone
}

// StrictTagFilterInput is the notation-level filter accepted from callers.
// Every field is optional.
type StrictTagFilterInput struct {
	RequiredTags    []string `json:"required_tags,omitempty" yaml:"required_tags"`
	AnyTags         []string `json:"any_tags,omitempty" yaml:"any_tags"`
	ExcludedTags    []string `json:"excluded_tags,omitempty" yaml:"excluded_tags"`
	RequiredSchemes []string `json:"required_schemes,omitempty" yaml:"required_schemes"`
	ExcludedSchemes []string `json:"excluded_schemes,omitempty" yaml:"excluded_schemes"`
	MinTagCount     *int     `json:"min_tag_count,omitempty" yaml:"min_tag_count"`
	IncludeUntagged *bool    `json:"include_untagged,omitempty" yaml:"include_untagged"`
}

// ElementCount returns the number of notations across all list fields.
func (in *StrictTagFilterInput) ElementCount() int {
	if in == nil {
		return 0
	}
	return len(in.RequiredTags) + len(in.AnyTags) + len(in.ExcludedTags) +
		len(in.RequiredSchemes) + len(in.ExcludedSchemes)
}

// ConceptAssociation links a note to a concept.
type ConceptAssociation struct {
	ConceptID ConceptID
	SchemeID  SchemeID
	Notation  string
}

// NoteAssociations is everything the filter needs to know about one note.
type NoteAssociations struct {
	NoteID   string
	Concepts []ConceptAssociation
	Tags     []string
}

// NotationMatches reports whether candidate equals notation or sits below it
// in the hierarchy, ignoring case.
func NotationMatches(notation, candidate string) bool {
	n := strings.ToLower(notation)
	c := strings.ToLower(candidate)
	return c == n || strings.HasPrefix(c, n+"/")
}
