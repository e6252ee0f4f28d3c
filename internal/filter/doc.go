// Package filter turns notation-level tag filters into exact predicates.
//
// An Evaluator resolves the human-readable notations of a
// types.StrictTagFilterInput against the taxonomy and builds a Predicate: a
// conjunction of typed clauses. The same Predicate is rendered to SQL by the
// storage layer and evaluated in memory by Predicate.Matches, so every
// retrieval path enforces identical semantics.
//
// # Clause semantics
//
//   - require_concept: note has an association matching the concept target
//   - any_concept: note matches at least one target
//   - exclude_concepts: note matches none of the targets
//   - scheme_isolation: note has associations and all of them are inside the set
//   - exclude_schemes: note has no association inside the set
//   - min_tag_count: note has at least N concept associations
//   - tagged: note has at least one concept association
//
// Notation matching is hierarchical and case-insensitive: "project" matches
// "project", "PROJECT" and "project/alpha/sprint3". A concept target only
// matches inside its own scheme, so a same-notation concept in another
// scheme is a different concept. Writing "work:project" resolves the
// notation in the "work" scheme; a bare notation shared by several schemes
// resolves to one of them.
//
// # Resolution
//
//	cache := filter.NewNotationCache(1000, 5*time.Minute)
//	eval := filter.NewEvaluator(store, filter.WithCache(cache), filter.WithLogger(logger))
//
//	compiled, err := eval.Compile(ctx, &types.StrictTagFilterInput{
//	    RequiredTags:    []string{"project"},
//	    RequiredSchemes: []string{"work"},
//	})
//
// Unresolvable required notations fail with *types.FilterResolutionError.
// Unresolvable optional notations are dropped and listed in Compiled.Dropped.
package filter
