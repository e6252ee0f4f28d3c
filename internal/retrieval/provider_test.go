package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/internal/storage"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// mixedCorpus stores 40 notes spread over two schemes, string tags and
// untagged notes. Every note mentions "note" and has a 4-d embedding. It
// returns the store and the "work" and "home" scheme IDs.
func mixedCorpus(t *testing.T) (*storage.SQLiteStorage, types.SchemeID, types.SchemeID) {
	t.Helper()
	ctx := context.Background()

	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	work := &storage.Scheme{Notation: "work"}
	home := &storage.Scheme{Notation: "home"}
	require.NoError(t, s.UpsertScheme(ctx, work))
	require.NoError(t, s.UpsertScheme(ctx, home))

	var concepts []*storage.Concept
	for _, c := range []struct {
		scheme   types.SchemeID
		notation string
	}{
		{work.ID, "project"}, {work.ID, "project/alpha"}, {work.ID, "project/beta"},
		{work.ID, "ops"}, {home.ID, "garden"}, {home.ID, "garden/roses"},
	} {
		concept := &storage.Concept{SchemeID: c.scheme, Notation: c.notation}
		require.NoError(t, s.UpsertConcept(ctx, concept))
		concepts = append(concepts, concept)
	}

	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("note-%02d", i)
		require.NoError(t, s.UpsertNote(ctx, &storage.Note{
			ID:      id,
			Title:   fmt.Sprintf("Note %d", i),
			Content: fmt.Sprintf("shared note body number %d", i),
		}))

		// i%7 picks zero, one or two concepts
		var ids []types.ConceptID
		switch i % 7 {
		case 0:
		case 1, 2, 3, 4, 5:
			ids = append(ids, concepts[i%len(concepts)].ID)
		default:
			ids = append(ids, concepts[i%len(concepts)].ID, concepts[(i+3)%len(concepts)].ID)
		}
		require.NoError(t, s.SetNoteConcepts(ctx, id, ids))
		if i%4 == 0 {
			require.NoError(t, s.SetNoteTags(ctx, id, []string{"inbox/triage"}))
		}

		vec := []float32{float32(i%5) + 1, float32(i%3) + 1, float32(i % 2), 1}
		require.NoError(t, s.UpsertEmbedding(ctx, &storage.Embedding{
			NoteID: id, Vector: storage.SerializeVector(vec), Dimension: len(vec), Provider: "test", Model: "4d",
		}))
	}
	return s, work.ID, home.ID
}

func TestProviders_HonorPredicate(t *testing.T) {
	s, work, home := mixedCorpus(t)
	ctx := context.Background()

	ref := func(scheme types.SchemeID, n string) types.ConceptRef { return types.ConceptRef{SchemeID: scheme, Notation: n} }
	one := 1
	filters := map[string]types.StrictTagFilter{
		"required project":  {RequiredConcepts: []types.ConceptRef{ref(work, "project")}, IncludeUntagged: true},
		"exclude garden":    {ExcludedConcepts: []types.ConceptRef{ref(home, "garden")}, IncludeUntagged: true},
		"tagged only":       {IncludeUntagged: false},
		"any ops or roses":  {AnyConcepts: []types.ConceptRef{ref(work, "ops"), ref(home, "garden/roses")}, IncludeUntagged: true},
		"string tag":        {RequiredTags: []string{"inbox"}, IncludeUntagged: true},
		"exclude tag":       {ExcludedTags: []string{"inbox/triage"}, MinTagCount: &one},
		"match none":        {MatchNone: true},
		"empty":             types.NewStrictTagFilter(),
	}

	providers := []Provider{NewLexicalProvider(s), NewSemanticProvider(s)}
	q := Query{Text: "shared note", Vector: []float32{1, 1, 0, 1}}

	for name, f := range filters {
		pred := filter.Build(f)
		for _, p := range providers {
			t.Run(name+"/"+p.Name(), func(t *testing.T) {
				list, err := p.Retrieve(ctx, q, pred, 100)
				require.NoError(t, err)
				assert.Equal(t, p.Name(), list.Source)

				seen := map[string]bool{}
				for _, item := range list.Items {
					assert.False(t, seen[item.NoteID], "duplicate %s", item.NoteID)
					seen[item.NoteID] = true

					assoc, err := s.NoteAssociations(ctx, item.NoteID)
					require.NoError(t, err)
					assert.True(t, pred.Matches(assoc), "%s violates %s", item.NoteID, pred)
				}

				// Nothing that passes the filter is missing
				all, err := s.ListNotes(ctx, pred, 100)
				require.NoError(t, err)
				assert.Len(t, list.Items, len(all))
			})
		}
	}
}

func TestProviders_LimitAndMetadata(t *testing.T) {
	s, _, _ := mixedCorpus(t)
	ctx := context.Background()

	list, err := NewLexicalProvider(s).Retrieve(ctx, Query{Text: "number"}, nil, 5)
	require.NoError(t, err)
	require.Len(t, list.Items, 5)
	assert.NotEmpty(t, list.Items[0].Title)
	assert.Contains(t, list.Items[0].Snippet, "<b>")

	list, err = NewSemanticProvider(s).Retrieve(ctx, Query{Vector: []float32{1, 1, 0, 1}}, nil, 3)
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	for i := 1; i < len(list.Items); i++ {
		assert.GreaterOrEqual(t, list.Items[i-1].Score, list.Items[i].Score)
	}

	for _, p := range []Provider{NewLexicalProvider(s), NewSemanticProvider(s)} {
		list, err := p.Retrieve(ctx, Query{Text: "note", Vector: []float32{1, 1, 0, 1}}, nil, 0)
		require.NoError(t, err)
		assert.NotNil(t, list.Items)
		assert.Empty(t, list.Items)
	}
}

func TestProviders_InvalidQuery(t *testing.T) {
	s, _, _ := mixedCorpus(t)
	ctx := context.Background()

	_, err := NewLexicalProvider(s).Retrieve(ctx, Query{Text: "((("}, nil, 10)
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
	assert.NotErrorIs(t, err, types.ErrBackendUnavailable)

	_, err = NewSemanticProvider(s).Retrieve(ctx, Query{Text: "no vector"}, nil, 10)
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

type failingStore struct {
	err error
}

func (f failingStore) SearchText(context.Context, string, int, *filter.Predicate) ([]storage.TextResult, error) {
	return nil, f.err
}

func (f failingStore) SearchVector(context.Context, []float32, int, *filter.Predicate) ([]storage.VectorResult, error) {
	return nil, f.err
}

func TestProviders_BackendErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("database is locked")

	_, err := NewLexicalProvider(failingStore{err: boom}).Retrieve(ctx, Query{Text: "x"}, nil, 10)
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)
	assert.ErrorIs(t, err, boom)
	var be *types.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, SourceLexical, be.Provider)

	_, err = NewSemanticProvider(failingStore{err: boom}).Retrieve(ctx, Query{Vector: []float32{1}}, nil, 10)
	require.ErrorAs(t, err, &be)
	assert.Equal(t, SourceSemantic, be.Provider)

	_, err = NewLexicalProvider(failingStore{err: context.Canceled}).Retrieve(ctx, Query{Text: "x"}, nil, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrBackendUnavailable)
}
