package filter

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/notesearch-mcp/pkg/types"
)

// MaxFilterElements caps the number of notations a single filter may carry
const MaxFilterElements = 1000

// Input field names used in errors and dropped-notation reports
const (
	FieldRequiredTags    = "required_tags"
	FieldAnyTags         = "any_tags"
	FieldExcludedTags    = "excluded_tags"
	FieldRequiredSchemes = "required_schemes"
	FieldExcludedSchemes = "excluded_schemes"
	FieldMinTagCount     = "min_tag_count"
)

// Resolver looks up taxonomy entries by notation, preferred label or
// alternate label, ignoring case.
type Resolver interface {
	ResolveConcept(ctx context.Context, notation string) (types.ConceptRef, bool, error)
	// ResolveConceptInScheme looks up a notation inside a single scheme
	ResolveConceptInScheme(ctx context.Context, schemeID types.SchemeID, notation string) (types.ConceptRef, bool, error)
	ResolveScheme(ctx context.Context, notation string) (types.SchemeID, bool, error)
	// TagExists reports whether any note carries the string tag or a tag below it
	TagExists(ctx context.Context, tag string) (bool, error)
}

// DroppedNotation records an optional notation that did not resolve
type DroppedNotation struct {
	Field    string `json:"field"`
	Notation string `json:"notation"`
}

// Compiled is the result of resolving a filter input
type Compiled struct {
	Filter    types.StrictTagFilter
	Predicate *Predicate
	Dropped   []DroppedNotation
}

// Evaluator resolves notation-level filters into predicates
type Evaluator struct {
	resolver Resolver
	cache    *NotationCache
	logger   *zap.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithCache memoizes resolutions in the given cache
func WithCache(cache *NotationCache) Option {
	return func(e *Evaluator) {
		e.cache = cache
	}
}

// WithLogger sets the evaluator's logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator creates an evaluator backed by resolver
func NewEvaluator(resolver Resolver, opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver: resolver,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile resolves every notation in the input and builds a predicate.
//
// A tag notation written as "scheme:notation" resolves only inside that
// scheme. A bare notation resolves across all schemes. Either way the
// resulting clause matches the concept and its descendants in the concept's
// own scheme only.
//
// Required tags resolve to a concept, falling back to an existing plain
// string tag; failure is a *types.FilterResolutionError. Required schemes
// must resolve. Optional notations that fail to resolve are dropped and
// reported in Compiled.Dropped. When any_tags is non-empty but none of its
// entries resolve, the predicate matches nothing.
func (e *Evaluator) Compile(ctx context.Context, in *types.StrictTagFilterInput) (*Compiled, error) {
	if in == nil {
		f := types.NewStrictTagFilter()
		return &Compiled{Filter: f, Predicate: Build(f)}, nil
	}

	if n := in.ElementCount(); n > MaxFilterElements {
		return nil, &types.FilterResolutionError{
			Field:  "filter",
			Reason: fmt.Sprintf("too many filter elements: %d exceeds %d", n, MaxFilterElements),
		}
	}

	f := types.NewStrictTagFilter()
	if in.IncludeUntagged != nil {
		f.IncludeUntagged = *in.IncludeUntagged
	}
	if in.MinTagCount != nil {
		if *in.MinTagCount < 0 {
			return nil, &types.FilterResolutionError{
				Field:  FieldMinTagCount,
				Reason: "must not be negative",
			}
		}
		count := *in.MinTagCount
		f.MinTagCount = &count
	}

	out := &Compiled{}

	// Required tags
	for _, notation := range cleanNotations(in.RequiredTags) {
		ref, ok, err := e.concept(ctx, notation)
		if err != nil {
			return nil, err
		}
		if ok {
			f.RequiredConcepts = append(f.RequiredConcepts, ref)
			continue
		}
		exists, err := e.tagExists(ctx, notation)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &types.FilterResolutionError{
				Field:    FieldRequiredTags,
				Notation: notation,
				Reason:   "unknown concept or tag",
			}
		}
		f.RequiredTags = append(f.RequiredTags, notation)
	}

	// Any tags
	anyTags := cleanNotations(in.AnyTags)
	for _, notation := range anyTags {
		ref, tag, ok, err := e.optionalTag(ctx, notation)
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			out.Dropped = append(out.Dropped, DroppedNotation{Field: FieldAnyTags, Notation: notation})
		case tag != "":
			f.AnyTags = append(f.AnyTags, tag)
		default:
			f.AnyConcepts = append(f.AnyConcepts, ref)
		}
	}
	if len(anyTags) > 0 && len(f.AnyConcepts) == 0 && len(f.AnyTags) == 0 {
		f.MatchNone = true
	}

	// Excluded tags
	for _, notation := range cleanNotations(in.ExcludedTags) {
		ref, tag, ok, err := e.optionalTag(ctx, notation)
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			out.Dropped = append(out.Dropped, DroppedNotation{Field: FieldExcludedTags, Notation: notation})
		case tag != "":
			f.ExcludedTags = append(f.ExcludedTags, tag)
		default:
			f.ExcludedConcepts = append(f.ExcludedConcepts, ref)
		}
	}

	// Required schemes
	for _, notation := range cleanNotations(in.RequiredSchemes) {
		id, ok, err := e.scheme(ctx, notation)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.FilterResolutionError{
				Field:    FieldRequiredSchemes,
				Notation: notation,
				Reason:   "unknown scheme",
			}
		}
		f.RequiredSchemes = append(f.RequiredSchemes, id)
	}

	// Excluded schemes
	for _, notation := range cleanNotations(in.ExcludedSchemes) {
		id, ok, err := e.scheme(ctx, notation)
		if err != nil {
			return nil, err
		}
		if !ok {
			out.Dropped = append(out.Dropped, DroppedNotation{Field: FieldExcludedSchemes, Notation: notation})
			continue
		}
		f.ExcludedSchemes = append(f.ExcludedSchemes, id)
	}

	f.RequiredConcepts = uniqueConcepts(f.RequiredConcepts)
	f.AnyConcepts = uniqueConcepts(f.AnyConcepts)
	f.ExcludedConcepts = uniqueConcepts(f.ExcludedConcepts)
	f.RequiredSchemes = uniqueSchemes(f.RequiredSchemes)
	f.ExcludedSchemes = uniqueSchemes(f.ExcludedSchemes)

	for _, d := range out.Dropped {
		e.logger.Warn("dropped unresolved filter notation",
			zap.String("field", d.Field),
			zap.String("notation", d.Notation))
	}

	out.Filter = f
	out.Predicate = Build(f)
	return out, nil
}

// optionalTag resolves an optional notation to a concept or, failing that,
// to an existing string tag.
func (e *Evaluator) optionalTag(ctx context.Context, notation string) (types.ConceptRef, string, bool, error) {
	ref, ok, err := e.concept(ctx, notation)
	if err != nil || ok {
		return ref, "", ok, err
	}
	exists, err := e.tagExists(ctx, notation)
	if err != nil || !exists {
		return types.ConceptRef{}, "", false, err
	}
	return types.ConceptRef{}, notation, true, nil
}

func (e *Evaluator) concept(ctx context.Context, notation string) (types.ConceptRef, bool, error) {
	if e.cache != nil {
		if ref, ok := e.cache.Concept(notation); ok {
			return ref, true, nil
		}
	}
	var (
		ref types.ConceptRef
		ok  bool
		err error
	)
	if schemeName, local, qualified := strings.Cut(notation, ":"); qualified {
		ref, ok, err = e.conceptInScheme(ctx, strings.TrimSpace(schemeName), strings.TrimSpace(local))
	} else {
		ref, ok, err = e.resolver.ResolveConcept(ctx, notation)
		if err != nil {
			err = &types.BackendError{Provider: "taxonomy", Err: err}
		}
	}
	if err != nil {
		return types.ConceptRef{}, false, err
	}
	if ok && e.cache != nil {
		e.cache.PutConcept(notation, ref)
	}
	return ref, ok, nil
}

func (e *Evaluator) conceptInScheme(ctx context.Context, schemeName, notation string) (types.ConceptRef, bool, error) {
	if schemeName == "" || notation == "" {
		return types.ConceptRef{}, false, nil
	}
	schemeID, ok, err := e.scheme(ctx, schemeName)
	if err != nil || !ok {
		return types.ConceptRef{}, false, err
	}
	ref, ok, err := e.resolver.ResolveConceptInScheme(ctx, schemeID, notation)
	if err != nil {
		return types.ConceptRef{}, false, &types.BackendError{Provider: "taxonomy", Err: err}
	}
	return ref, ok, nil
}

func (e *Evaluator) scheme(ctx context.Context, notation string) (types.SchemeID, bool, error) {
	if e.cache != nil {
		if id, ok := e.cache.Scheme(notation); ok {
			return id, true, nil
		}
	}
	id, ok, err := e.resolver.ResolveScheme(ctx, notation)
	if err != nil {
		return "", false, &types.BackendError{Provider: "taxonomy", Err: err}
	}
	if ok && e.cache != nil {
		e.cache.PutScheme(notation, id)
	}
	return id, ok, nil
}

func (e *Evaluator) tagExists(ctx context.Context, tag string) (bool, error) {
	exists, err := e.resolver.TagExists(ctx, tag)
	if err != nil {
		return false, &types.BackendError{Provider: "taxonomy", Err: err}
	}
	return exists, nil
}

// cleanNotations trims entries, drops blanks and removes case-insensitive
// duplicates while keeping first-seen order.
func cleanNotations(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func uniqueConcepts(refs []types.ConceptRef) []types.ConceptRef {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[types.ConceptID]struct{}, len(refs))
	out := make([]types.ConceptRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
