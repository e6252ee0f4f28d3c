package filter

import (
	"fmt"
	"strings"

	"github.com/dshills/notesearch-mcp/pkg/types"
)

// ClauseKind identifies one conjunct of a Predicate
type ClauseKind int

const (
	// ClauseRequireConcept: note has an association matching the concept target
	ClauseRequireConcept ClauseKind = iota + 1
	// ClauseAnyConcept: note has an association matching at least one target
	ClauseAnyConcept
	// ClauseExcludeConcepts: note has no association matching any target
	ClauseExcludeConcepts
	// ClauseSchemeIsolation: note has associations, all inside the scheme set
	ClauseSchemeIsolation
	// ClauseExcludeSchemes: note has no association inside the scheme set
	ClauseExcludeSchemes
	// ClauseRequireTag: note has a string tag matching the notation
	ClauseRequireTag
	// ClauseAnyTag: note has a string tag matching at least one notation
	ClauseAnyTag
	// ClauseExcludeTags: note has no string tag matching any notation
	ClauseExcludeTags
	// ClauseMinTagCount: note has at least Count concept associations
	ClauseMinTagCount
	// ClauseTagged: note has at least one concept association
	ClauseTagged
	// ClauseMatchNone rejects every note
	ClauseMatchNone
)

var clauseNames = map[ClauseKind]string{
	ClauseRequireConcept:  "require_concept",
	ClauseAnyConcept:      "any_concept",
	ClauseExcludeConcepts: "exclude_concepts",
	ClauseSchemeIsolation: "scheme_isolation",
	ClauseExcludeSchemes:  "exclude_schemes",
	ClauseRequireTag:      "require_tag",
	ClauseAnyTag:          "any_tag",
	ClauseExcludeTags:     "exclude_tags",
	ClauseMinTagCount:     "min_tag_count",
	ClauseTagged:          "tagged",
	ClauseMatchNone:       "match_none",
}

func (k ClauseKind) String() string {
	if name, ok := clauseNames[k]; ok {
		return name
	}
	return fmt.Sprintf("clause(%d)", int(k))
}

// ConceptTarget selects a concept and everything below it in the
// hierarchy of its own scheme. Notation is lowercased.
type ConceptTarget struct {
	SchemeID types.SchemeID
	Notation string
}

func (t ConceptTarget) String() string {
	return string(t.SchemeID) + ":" + t.Notation
}

// matches reports whether the association is the target concept or one of
// its descendants. Concepts in other schemes never match, even when they
// share the notation.
func (t ConceptTarget) matches(a types.ConceptAssociation) bool {
	return a.SchemeID == t.SchemeID && types.NotationMatches(t.Notation, a.Notation)
}

// Clause is a single conjunct. Concepts holds targets for concept clauses,
// Notations holds lowercased tags for tag clauses, Schemes holds scheme IDs
// for scheme clauses and Count is used by ClauseMinTagCount.
type Clause struct {
	Kind      ClauseKind
	Concepts  []ConceptTarget
	Notations []string
	Schemes   []types.SchemeID
	Count     int
}

// Predicate is a backend-agnostic conjunction of clauses built from a
// StrictTagFilter. A nil *Predicate matches every note.
type Predicate struct {
	filter  types.StrictTagFilter
	clauses []Clause
}

// Build converts a resolved filter into a Predicate.
func Build(f types.StrictTagFilter) *Predicate {
	p := &Predicate{filter: f}

	if f.MatchNone {
		p.clauses = []Clause{{Kind: ClauseMatchNone}}
		return p
	}

	// One clause per required concept so each must be present
	for _, t := range conceptTargets(f.RequiredConcepts) {
		p.clauses = append(p.clauses, Clause{Kind: ClauseRequireConcept, Concepts: []ConceptTarget{t}})
	}
	if ts := conceptTargets(f.AnyConcepts); len(ts) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseAnyConcept, Concepts: ts})
	}
	if ts := conceptTargets(f.ExcludedConcepts); len(ts) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseExcludeConcepts, Concepts: ts})
	}
	if ss := uniqueSchemes(f.RequiredSchemes); len(ss) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseSchemeIsolation, Schemes: ss})
	}
	if ss := uniqueSchemes(f.ExcludedSchemes); len(ss) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseExcludeSchemes, Schemes: ss})
	}

	for _, n := range lowerUnique(f.RequiredTags) {
		p.clauses = append(p.clauses, Clause{Kind: ClauseRequireTag, Notations: []string{n}})
	}
	if ns := lowerUnique(f.AnyTags); len(ns) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseAnyTag, Notations: ns})
	}
	if ns := lowerUnique(f.ExcludedTags); len(ns) > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseExcludeTags, Notations: ns})
	}

	if f.MinTagCount != nil && *f.MinTagCount > 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseMinTagCount, Count: *f.MinTagCount})
	}

	// Required and any concept clauses already exclude untagged notes
	if !f.IncludeUntagged && len(f.RequiredConcepts) == 0 && len(f.AnyConcepts) == 0 {
		p.clauses = append(p.clauses, Clause{Kind: ClauseTagged})
	}

	return p
}

// Filter returns the resolved filter the predicate was built from.
func (p *Predicate) Filter() types.StrictTagFilter {
	if p == nil {
		return types.NewStrictTagFilter()
	}
	return p.filter
}

// Clauses returns a copy of the predicate's conjuncts.
func (p *Predicate) Clauses() []Clause {
	if p == nil {
		return nil
	}
	out := make([]Clause, len(p.clauses))
	copy(out, p.clauses)
	return out
}

// IsEmpty reports whether the predicate accepts every note.
func (p *Predicate) IsEmpty() bool {
	return p == nil || len(p.clauses) == 0
}

// Matches evaluates the predicate against one note's associations.
func (p *Predicate) Matches(a types.NoteAssociations) bool {
	if p == nil {
		return true
	}
	for _, c := range p.clauses {
		if !c.matches(a) {
			return false
		}
	}
	return true
}

func (c Clause) matches(a types.NoteAssociations) bool {
	switch c.Kind {
	case ClauseRequireConcept, ClauseAnyConcept:
		return anyConceptMatches(c.Concepts, a.Concepts)
	case ClauseExcludeConcepts:
		return !anyConceptMatches(c.Concepts, a.Concepts)
	case ClauseSchemeIsolation:
		if len(a.Concepts) == 0 {
			return false
		}
		for _, assoc := range a.Concepts {
			if !containsScheme(c.Schemes, assoc.SchemeID) {
				return false
			}
		}
		return true
	case ClauseExcludeSchemes:
		for _, assoc := range a.Concepts {
			if containsScheme(c.Schemes, assoc.SchemeID) {
				return false
			}
		}
		return true
	case ClauseRequireTag, ClauseAnyTag:
		return anyTagMatches(c.Notations, a.Tags)
	case ClauseExcludeTags:
		return !anyTagMatches(c.Notations, a.Tags)
	case ClauseMinTagCount:
		return len(a.Concepts) >= c.Count
	case ClauseTagged:
		return len(a.Concepts) > 0
	default:
		return false
	}
}

// String renders the predicate for logs.
func (p *Predicate) String() string {
	if p.IsEmpty() {
		return "true"
	}
	parts := make([]string, 0, len(p.clauses))
	for _, c := range p.clauses {
		switch {
		case len(c.Concepts) > 0:
			targets := make([]string, len(c.Concepts))
			for i, t := range c.Concepts {
				targets[i] = t.String()
			}
			parts = append(parts, fmt.Sprintf("%s(%s)", c.Kind, strings.Join(targets, ",")))
		case len(c.Notations) > 0:
			parts = append(parts, fmt.Sprintf("%s(%s)", c.Kind, strings.Join(c.Notations, ",")))
		case len(c.Schemes) > 0:
			ids := make([]string, len(c.Schemes))
			for i, s := range c.Schemes {
				ids[i] = string(s)
			}
			parts = append(parts, fmt.Sprintf("%s(%s)", c.Kind, strings.Join(ids, ",")))
		case c.Kind == ClauseMinTagCount:
			parts = append(parts, fmt.Sprintf("%s(%d)", c.Kind, c.Count))
		default:
			parts = append(parts, c.Kind.String())
		}
	}
	return strings.Join(parts, " AND ")
}

func anyConceptMatches(targets []ConceptTarget, concepts []types.ConceptAssociation) bool {
	for _, assoc := range concepts {
		for _, t := range targets {
			if t.matches(assoc) {
				return true
			}
		}
	}
	return false
}

func anyTagMatches(notations []string, tags []string) bool {
	for _, tag := range tags {
		for _, n := range notations {
			if types.NotationMatches(n, tag) {
				return true
			}
		}
	}
	return false
}

func containsScheme(set []types.SchemeID, id types.SchemeID) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

func conceptTargets(refs []types.ConceptRef) []ConceptTarget {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[ConceptTarget]struct{}, len(refs))
	out := make([]ConceptTarget, 0, len(refs))
	for _, r := range refs {
		t := ConceptTarget{SchemeID: r.SchemeID, Notation: strings.ToLower(strings.TrimSpace(r.Notation))}
		if t.Notation == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func lowerUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func uniqueSchemes(ids []types.SchemeID) []types.SchemeID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[types.SchemeID]struct{}, len(ids))
	out := make([]types.SchemeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
