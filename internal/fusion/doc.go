// Package fusion merges independently ranked result lists with Reciprocal
// Rank Fusion.
//
//	engine := fusion.New(fusion.DefaultK)
//	hits := engine.Fuse([]fusion.RankedList{lexical, semantic}, 10)
//
// Scores are normalized against the best achievable score for the supplied
// lists, so they always fall in [0, 1]. Ordering is deterministic: equal
// scores keep the order in which notes first appeared.
package fusion
