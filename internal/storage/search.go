package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// snippetChars is the length of vector-search snippets
const snippetChars = 200

// SearchText performs BM25 full-text search restricted to notes accepted by pred
func (s queries) SearchText(ctx context.Context, query string, limit int, pred *filter.Predicate) ([]TextResult, error) {
	match, err := buildFTSQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []TextResult{}, nil
	}

	where, predArgs := predicateSQL(pred)
	sqlQuery := `
		SELECT
			n.id,
			n.title,
			snippet(notes_fts, -1, '<b>', '</b>', '...', 16),
			bm25(notes_fts) AS score
		FROM notes_fts
		JOIN notes n ON n.seq = notes_fts.rowid
		WHERE notes_fts MATCH ?` + where + `
		ORDER BY score, n.seq
		LIMIT ?
	`
	args := make([]interface{}, 0, len(predArgs)+2)
	args = append(args, match)
	args = append(args, predArgs...)
	args = append(args, limit)

	results, err := s.collectTextResults(ctx, sqlQuery, args)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}

	if err := s.attachTextTags(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s queries) collectTextResults(ctx context.Context, query string, args []interface{}) ([]TextResult, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0)
	for rows.Next() {
		var r TextResult
		var snippet sql.NullString
		if err := rows.Scan(&r.NoteID, &r.Title, &snippet, &r.BM25Score); err != nil {
			return nil, err
		}
		r.Snippet = snippet.String

		// Convert BM25 score (negative, lower is better) to positive normalized score
		// BM25 scores are typically in range [-50, 0]
		r.BM25Score = 1.0 / (1.0 + math.Abs(r.BM25Score)/50.0)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s queries) attachTextTags(ctx context.Context, results []TextResult) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].NoteID
	}
	tags, err := s.tagsFor(ctx, ids)
	if err != nil {
		return err
	}
	for i := range results {
		results[i].Tags = tags[results[i].NoteID]
	}
	return nil
}

// SearchVector ranks notes accepted by pred by cosine similarity to vector.
// Embeddings whose dimension differs from the query are skipped.
func (s queries) SearchVector(ctx context.Context, vector []float32, limit int, pred *filter.Predicate) ([]VectorResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrInvalidQuery)
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	var results []VectorResult
	var err error
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		results, err = s.searchVectorOptimized(ctx, vector, limit, pred)
	} else {
		results, err = s.searchVectorFallback(ctx, vector, limit, pred)
	}
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return results, nil
	}
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].NoteID
	}
	tags, err := s.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Tags = tags[results[i].NoteID]
	}
	return results, nil
}

// searchVectorOptimized computes distances in SQL with sqlite-vec
func (s queries) searchVectorOptimized(ctx context.Context, vector []float32, limit int, pred *filter.Predicate) ([]VectorResult, error) {
	blob := SerializeVector(vector)
	where, predArgs := predicateSQL(pred)

	// vec_distance_cosine returns a distance, lower is better
	query := `
		SELECT
			n.id,
			n.title,
			substr(n.content, 1, ?),
			1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM embeddings e
		JOIN notes n ON n.id = e.note_id
		WHERE e.dimension = ?` + where + `
		ORDER BY similarity DESC, n.seq
		LIMIT ?
	`
	args := make([]interface{}, 0, len(predArgs)+4)
	args = append(args, snippetChars, blob, len(vector))
	args = append(args, predArgs...)
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.NoteID, &r.Title, &r.Snippet, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback computes cosine similarity in Go over the candidates
// that pass the predicate. Used by purego builds.
func (s queries) searchVectorFallback(ctx context.Context, vector []float32, limit int, pred *filter.Predicate) ([]VectorResult, error) {
	where, predArgs := predicateSQL(pred)
	query := `
		SELECT n.id, n.title, substr(n.content, 1, ?), e.vector
		FROM embeddings e
		JOIN notes n ON n.id = e.note_id
		WHERE e.dimension = ?` + where + `
		ORDER BY n.seq
	`
	args := make([]interface{}, 0, len(predArgs)+2)
	args = append(args, snippetChars, len(vector))
	args = append(args, predArgs...)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0)
	for rows.Next() {
		var r VectorResult
		var blob []byte
		if err := rows.Scan(&r.NoteID, &r.Title, &r.Snippet, &blob); err != nil {
			return nil, err
		}

		stored := deserializeVector(blob)
		if len(stored) != len(vector) {
			continue // Dimension mismatch, skip
		}
		r.SimilarityScore = cosineSimilarity(vector, stored)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable keeps insertion order among equal scores
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SimilarityScore > candidates[j].SimilarityScore
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// buildFTSQuery turns free text into an FTS5 MATCH expression. Every word
// becomes a quoted phrase so operators and punctuation are taken literally;
// adjacent phrases are implicitly ANDed.
func buildFTSQuery(query string) (string, error) {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return "", fmt.Errorf("%w: query has no searchable terms", types.ErrInvalidQuery)
	}

	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " "), nil
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "malformed MATCH") ||
		strings.Contains(msg, "unterminated string")
}

// SerializeVector encodes a vector for Embedding.Vector as little-endian float32s
func SerializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
