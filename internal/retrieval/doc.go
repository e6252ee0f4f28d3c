// Package retrieval provides the ranked-list producers that feed fusion.
//
// LexicalProvider runs BM25 full-text search and SemanticProvider runs cosine
// similarity over stored embeddings. Both receive the same compiled
// *filter.Predicate, which the store applies before ranking and LIMIT, so a
// note that fails the filter never appears in either list.
//
// Store failures come back as *types.BackendError. Malformed queries come
// back wrapping types.ErrInvalidQuery.
package retrieval
