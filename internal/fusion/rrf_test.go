package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func list(source string, ids ...string) RankedList {
	items := make([]RankedItem, len(ids))
	for i, id := range ids {
		items[i] = RankedItem{NoteID: id, Title: source + ":" + id}
	}
	return RankedList{Source: source, Items: items}
}

func ids(t *testing.T, lists []RankedList, e *Engine, limit int) []string {
	t.Helper()
	hits := e.Fuse(lists, limit)
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.NoteID
	}
	return out
}

func TestFuse_TieBreakFirstOccurrence(t *testing.T) {
	a := list("A", "X", "Y", "Z")
	b := list("B", "Y", "X", "W")

	e := New(20)
	hits := e.Fuse([]RankedList{a, b}, 10)
	require.Len(t, hits, 4)

	assert.Equal(t, "X", hits[0].NoteID, "X and Y tie, X occurs first")
	assert.Equal(t, "Y", hits[1].NoteID)
	assert.Equal(t, hits[0].Score, hits[1].Score)

	// Z (1/23 in A) precedes W (1/23 in B) by first occurrence
	assert.Equal(t, "Z", hits[2].NoteID)
	assert.Equal(t, "W", hits[3].NoteID)

	maxPossible := 2.0 / 21.0
	assert.InDelta(t, (1.0/21+1.0/22)/maxPossible, float64(hits[0].Score), 1e-6)
	assert.InDelta(t, (1.0/23)/maxPossible, float64(hits[3].Score), 1e-6)
	assert.Less(t, hits[3].Score, hits[1].Score)
}

func TestFuse_Normalization(t *testing.T) {
	e := New(20)

	t.Run("top of every list scores one", func(t *testing.T) {
		hits := e.Fuse([]RankedList{list("A", "X", "Y"), list("B", "X", "Z")}, 10)
		require.NotEmpty(t, hits)
		assert.Equal(t, "X", hits[0].NoteID)
		assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
	})

	t.Run("single list is normalized", func(t *testing.T) {
		hits := e.Fuse([]RankedList{list("A", "X", "Y")}, 10)
		require.Len(t, hits, 2)
		assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
		assert.InDelta(t, 21.0/22.0, float64(hits[1].Score), 1e-6)
	})

	t.Run("one list of two caps at half", func(t *testing.T) {
		hits := e.Fuse([]RankedList{list("A", "X"), list("B")}, 10)
		require.Len(t, hits, 1)
		assert.InDelta(t, 0.5, float64(hits[0].Score), 1e-6)
	})
}

func TestFuse_ScoresInRangeAndDescending(t *testing.T) {
	lists := []RankedList{
		list("A", "a", "b", "c", "d", "e"),
		list("B", "e", "d", "f", "a"),
		list("C", "g", "a", "b"),
	}

	for _, k := range []float64{1, 20, 60} {
		t.Run(fmt.Sprintf("k=%v", k), func(t *testing.T) {
			hits := New(k).Fuse(lists, 100)
			seen := make(map[string]bool)
			for i, h := range hits {
				assert.NoError(t, h.Validate())
				assert.False(t, seen[h.NoteID], "duplicate %s", h.NoteID)
				seen[h.NoteID] = true
				if i > 0 {
					assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
				}
			}
			assert.Len(t, hits, 7)
		})
	}
}

func TestFuse_EdgeCases(t *testing.T) {
	e := New(20)

	assert.Empty(t, e.Fuse(nil, 10))
	assert.NotNil(t, e.Fuse(nil, 10))
	assert.Empty(t, e.Fuse([]RankedList{list("A", "X")}, 0))
	assert.Empty(t, e.Fuse([]RankedList{list("A", "X")}, -1))
	assert.Empty(t, e.Fuse([]RankedList{list("A"), list("B")}, 10))
}

func TestFuse_Limit(t *testing.T) {
	e := New(20)
	got := ids(t, []RankedList{list("A", "1", "2", "3", "4"), list("B", "4", "3")}, e, 2)
	assert.Equal(t, []string{"4", "3"}, got)
}

func TestFuse_MetadataFromFirstOccurrence(t *testing.T) {
	a := RankedList{Source: "lexical", Items: []RankedItem{
		{NoteID: "X", Title: "from lexical", Snippet: "<b>match</b>", Tags: []string{"t1"}},
	}}
	b := RankedList{Source: "semantic", Items: []RankedItem{
		{NoteID: "Y", Title: "semantic Y"},
		{NoteID: "X", Title: "from semantic"},
	}}

	hits := New(20).Fuse([]RankedList{a, b}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "X", hits[0].NoteID)
	assert.Equal(t, "from lexical", hits[0].Title)
	assert.Equal(t, "<b>match</b>", hits[0].Snippet)
	assert.Equal(t, []string{"t1"}, hits[0].Tags)
}

func TestFuse_DuplicateWithinListCountsOnce(t *testing.T) {
	hits := New(20).Fuse([]RankedList{list("A", "X", "Y", "X")}, 10)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
}

func TestFuse_Weights(t *testing.T) {
	lexical := list("lexical", "X", "Y")
	semantic := list("semantic", "Y", "X")
	semantic.Weight = 3

	hits := New(20).Fuse([]RankedList{lexical, semantic}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "Y", hits[0].NoteID, "heavier list wins the tie")

	maxPossible := 4.0 / 21.0
	assert.InDelta(t, (1.0/22+3.0/21)/maxPossible, float64(hits[0].Score), 1e-6)
}

func TestFuse_Deterministic(t *testing.T) {
	lists := []RankedList{list("A", "p", "q", "r", "s"), list("B", "s", "r", "q", "p")}
	e := New(20)

	first := ids(t, lists, e, 10)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ids(t, lists, e, 10))
	}
	assert.Equal(t, []string{"p", "s", "q", "r"}, first)
}

func TestFuse_LargeLists(t *testing.T) {
	const n = 1000
	a := RankedList{Source: "A", Items: make([]RankedItem, n)}
	b := RankedList{Source: "B", Items: make([]RankedItem, n)}
	for i := 0; i < n; i++ {
		a.Items[i] = RankedItem{NoteID: fmt.Sprintf("n%04d", i)}
		b.Items[i] = RankedItem{NoteID: fmt.Sprintf("n%04d", n-1-i)}
	}

	hits := New(20).Fuse([]RankedList{a, b}, n)
	require.Len(t, hits, n)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, float32(0))
		assert.LessOrEqual(t, h.Score, float32(1))
	}
}

func TestNew_DefaultK(t *testing.T) {
	assert.Equal(t, DefaultK, New(0).K())
	assert.Equal(t, DefaultK, New(-5).K())
	assert.Equal(t, 60.0, New(60).K())
}
