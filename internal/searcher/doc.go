// Package searcher implements hybrid note search with strict tag filtering.
//
// A request moves through six stages: Received, FilterResolved,
// ListsRetrieved, Fused, Limited and Returned. The filter is compiled once
// into a *filter.Predicate and handed to every provider, so filtering happens
// before each provider ranks and truncates its list.
//
// # Search Modes
//
//   - ModeHybrid (default): lexical and semantic providers run concurrently
//     and their lists are merged with Reciprocal Rank Fusion
//   - ModeFTSOnly: BM25 full-text search only
//   - ModeSemanticOnly: cosine similarity over stored embeddings only
//
// A single-list search still goes through fusion, so scores are always
// normalized to [0, 1] and ordered the same way.
//
// # Basic Usage
//
//	evaluator := filter.NewEvaluator(store)
//	s := searcher.New(evaluator,
//	    retrieval.NewLexicalProvider(store),
//	    retrieval.NewSemanticProvider(store),
//	    searcher.WithLogger(logger))
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:       "quarterly planning",
//	    QueryVector: vec,
//	    Limit:       10,
//	    Filter: &types.StrictTagFilterInput{
//	        RequiredTags:    []string{"work"},
//	        RequiredSchemes: []string{"projects"},
//	    },
//	})
//
// # Failures
//
// Every error is a *StageError naming the stage that failed. The wrapped
// error matches one of types.ErrFilterResolution, types.ErrInvalidQuery,
// types.ErrBackendUnavailable or a context error. In hybrid mode a failure
// in either provider cancels the other and fails the whole request; a
// partial result set is never returned.
//
// # Limits
//
// Limit 0 returns an empty result after the filter resolves. Negative limits
// and limits above MaxLimit fail with types.ErrInvalidQuery. Each provider is asked for Limit times the candidate
// multiplier, up to MaxCandidates.
package searcher
