package fusion

import (
	"math"
	"sort"

	"github.com/dshills/notesearch-mcp/pkg/types"
)

// DefaultK is the RRF smoothing constant used when none is configured
const DefaultK = 20.0

// scoreEpsilon treats raw scores this close as tied
const scoreEpsilon = 1e-12

// RankedItem is one entry of a ranked list. Metadata is captured when the
// list is produced.
type RankedItem struct {
	NoteID  string
	Score   float64 // Provider-native score, informational only
	Title   string
	Snippet string
	Tags    []string
}

// RankedList is an ordered, best-first result list from one retrieval method.
type RankedList struct {
	Source string
	// Weight scales this list's contribution; zero means 1.0
	Weight float64
	Items  []RankedItem
}

func (l RankedList) weight() float64 {
	if l.Weight <= 0 {
		return 1.0
	}
	return l.Weight
}

// Engine fuses ranked lists with Reciprocal Rank Fusion
type Engine struct {
	k float64
}

// New creates an engine with smoothing constant k. Non-positive k selects DefaultK.
func New(k float64) *Engine {
	if k <= 0 {
		k = DefaultK
	}
	return &Engine{k: k}
}

// K returns the smoothing constant
func (e *Engine) K() float64 {
	return e.k
}

// fused accumulates one note's contributions
type fused struct {
	item RankedItem
	raw  float64
	seq  int // first-occurrence order across lists
}

// Fuse merges lists into a single ranking of at most limit hits.
//
// Each occurrence contributes weight/(k+rank) with 1-based rank. Scores are
// divided by the maximum possible score, sum(weight)/(k+1), so a note ranked
// first in every list scores exactly 1. Ties keep first-occurrence order:
// lists in the order supplied, then rank within the list. Metadata comes from
// the first occurrence. A note repeated inside one list counts once, at its
// best rank.
func (e *Engine) Fuse(lists []RankedList, limit int) []types.SearchHit {
	if len(lists) == 0 || limit <= 0 {
		return []types.SearchHit{}
	}

	var maxPossible float64
	byID := make(map[string]*fused)
	order := make([]*fused, 0)

	for _, list := range lists {
		w := list.weight()
		maxPossible += w / (e.k + 1)

		seen := make(map[string]struct{}, len(list.Items))
		for i, item := range list.Items {
			if item.NoteID == "" {
				continue
			}
			if _, dup := seen[item.NoteID]; dup {
				continue
			}
			seen[item.NoteID] = struct{}{}

			contribution := w / (e.k + float64(i+1))
			if f, ok := byID[item.NoteID]; ok {
				f.raw += contribution
				continue
			}
			f := &fused{item: item, raw: contribution, seq: len(order)}
			byID[item.NoteID] = f
			order = append(order, f)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		delta := order[i].raw - order[j].raw
		if math.Abs(delta) <= scoreEpsilon {
			return order[i].seq < order[j].seq
		}
		return delta > 0
	})

	if len(order) > limit {
		order = order[:limit]
	}

	hits := make([]types.SearchHit, len(order))
	for i, f := range order {
		hits[i] = types.SearchHit{
			NoteID:  f.item.NoteID,
			Score:   normalize(f.raw, maxPossible),
			Title:   f.item.Title,
			Snippet: f.item.Snippet,
			Tags:    f.item.Tags,
		}
	}
	return hits
}

func normalize(raw, maxPossible float64) float32 {
	if maxPossible <= 0 {
		return 0
	}
	score := raw / maxPossible
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return float32(score)
}
