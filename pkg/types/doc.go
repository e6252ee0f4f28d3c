// Package types provides shared type definitions for the notesearch engine.
//
// These types cross package boundaries: the filter evaluator produces a
// StrictTagFilter from a StrictTagFilterInput, storage reports
// NoteAssociations, and every retrieval path returns SearchHit values.
//
// # Filters
//
// StrictTagFilterInput is the notation-level DSL accepted from callers:
//
//	input := &types.StrictTagFilterInput{
//	    RequiredTags:    []string{"project/alpha"},
//	    ExcludedTags:    []string{"draft"},
//	    RequiredSchemes: []string{"work"},
//	}
//
// StrictTagFilter is the resolved form. Every field combines with logical AND
// and empty fields impose no constraint.
//
// # Hierarchical matching
//
// A concept or tag notation X matches an association whose notation is equal
// to X or begins with "X/", compared case-insensitively:
//
//	types.NotationMatches("project", "Project/Alpha/Sprint3") // true
//	types.NotationMatches("project", "projects")              // false
//
// # Search Results
//
// SearchHit scores are normalized to the [0, 1] range, with higher values
// indicating better matches.
package types
