package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/internal/fusion"
	"github.com/dshills/notesearch-mcp/internal/storage"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// Provider names, also used as RankedList.Source
const (
	SourceLexical  = "lexical"
	SourceSemantic = "semantic"
)

// Query carries what the providers need. Lexical uses Text, semantic uses Vector.
type Query struct {
	Text   string
	Vector []float32
}

// Provider produces a ranked list of notes that satisfy pred.
type Provider interface {
	Name() string
	Retrieve(ctx context.Context, q Query, pred *filter.Predicate, limit int) (fusion.RankedList, error)
}

// TextSearcher is the part of the store the lexical provider reads
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int, pred *filter.Predicate) ([]storage.TextResult, error)
}

// VectorSearcher is the part of the store the semantic provider reads
type VectorSearcher interface {
	SearchVector(ctx context.Context, vector []float32, limit int, pred *filter.Predicate) ([]storage.VectorResult, error)
}

// LexicalProvider ranks notes by BM25 over title and content
type LexicalProvider struct {
	store TextSearcher
}

// NewLexicalProvider creates a lexical provider over store
func NewLexicalProvider(store TextSearcher) *LexicalProvider {
	return &LexicalProvider{store: store}
}

func (p *LexicalProvider) Name() string { return SourceLexical }

// Retrieve returns up to limit notes matching q.Text, best first.
func (p *LexicalProvider) Retrieve(ctx context.Context, q Query, pred *filter.Predicate, limit int) (fusion.RankedList, error) {
	list := fusion.RankedList{Source: SourceLexical, Items: []fusion.RankedItem{}}
	if limit <= 0 {
		return list, nil
	}

	results, err := p.store.SearchText(ctx, q.Text, limit, pred)
	if err != nil {
		return list, classify(SourceLexical, err)
	}

	list.Items = make([]fusion.RankedItem, len(results))
	for i, r := range results {
		list.Items[i] = fusion.RankedItem{
			NoteID:  r.NoteID,
			Score:   r.BM25Score,
			Title:   r.Title,
			Snippet: r.Snippet,
			Tags:    r.Tags,
		}
	}
	return list, nil
}

// SemanticProvider ranks notes by cosine similarity to q.Vector
type SemanticProvider struct {
	store VectorSearcher
}

// NewSemanticProvider creates a semantic provider over store
func NewSemanticProvider(store VectorSearcher) *SemanticProvider {
	return &SemanticProvider{store: store}
}

func (p *SemanticProvider) Name() string { return SourceSemantic }

// Retrieve returns up to limit notes closest to q.Vector, best first.
func (p *SemanticProvider) Retrieve(ctx context.Context, q Query, pred *filter.Predicate, limit int) (fusion.RankedList, error) {
	list := fusion.RankedList{Source: SourceSemantic, Items: []fusion.RankedItem{}}
	if len(q.Vector) == 0 {
		return list, fmt.Errorf("%w: semantic search needs a query vector", types.ErrInvalidQuery)
	}
	if limit <= 0 {
		return list, nil
	}

	results, err := p.store.SearchVector(ctx, q.Vector, limit, pred)
	if err != nil {
		return list, classify(SourceSemantic, err)
	}

	list.Items = make([]fusion.RankedItem, len(results))
	for i, r := range results {
		list.Items[i] = fusion.RankedItem{
			NoteID:  r.NoteID,
			Score:   r.SimilarityScore,
			Title:   r.Title,
			Snippet: r.Snippet,
			Tags:    r.Tags,
		}
	}
	return list, nil
}

// classify passes through query and cancellation errors and reports
// everything else as the backend being unavailable.
func classify(provider string, err error) error {
	switch {
	case errors.Is(err, types.ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &types.BackendError{Provider: provider, Err: err}
	}
}
