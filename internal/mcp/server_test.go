package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/notesearch-mcp/internal/embedder"
	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/internal/indexer"
	"github.com/dshills/notesearch-mcp/internal/metrics"
	"github.com/dshills/notesearch-mcp/internal/retrieval"
	"github.com/dshills/notesearch-mcp/internal/searcher"
	"github.com/dshills/notesearch-mcp/internal/storage"
)

const testNotes = `
schemes:
  - notation: work
    concepts:
      - notation: project
      - notation: project/alpha
        pref_label: Alpha
  - notation: home
    concepts:
      - notation: garden
notes:
  - id: sprint
    title: Sprint planning
    content: Planning the alpha sprint with the team.
    concepts: ["work:project/alpha"]
    tags: [meeting]
  - id: veg
    title: Garden planning
    content: Planning the vegetable garden beds.
    concepts: [garden]
  - id: loose
    title: Loose thought
    content: Planning is half the work.
`

type failingEmbedder struct {
	embedder.Embedder
}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, embedder.ErrProviderFailed
}

// blockingEmbedder holds every batch until release is closed
type blockingEmbedder struct {
	embedder.Embedder
	started atomic.Bool
	release chan struct{}
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.started.Store(true)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Embedder.EmbedBatch(ctx, texts)
}

type testEnv struct {
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	filter   *filter.Evaluator
	searcher *searcher.Searcher
}

func newTestEnv(t *testing.T, seed bool) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(embedder.NewCache(100))
	require.NoError(t, err)

	if seed {
		doc, err := indexer.ParseDocument(strings.NewReader(testNotes))
		require.NoError(t, err)
		_, err = indexer.New(store, indexer.WithEmbedder(emb)).Ingest(context.Background(), []*indexer.Document{doc}, nil)
		require.NoError(t, err)
	}

	eval := filter.NewEvaluator(store, filter.WithCache(filter.NewNotationCache(100, time.Minute)))
	srch := searcher.New(eval, retrieval.NewLexicalProvider(store), retrieval.NewSemanticProvider(store))
	return &testEnv{store: store, embedder: emb, filter: eval, searcher: srch}
}

func (e *testEnv) server(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Storage:  e.store,
		Searcher: e.searcher,
		Filter:   e.filter,
		Embedder: e.embedder,
		Metrics:  metrics.New(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func resultIDs(t *testing.T, out map[string]interface{}, key string) []string {
	t.Helper()
	items, ok := out[key].([]interface{})
	require.True(t, ok, "missing %s", key)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.(map[string]interface{})["note_id"].(string))
	}
	return ids
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code, "message: %s, data: %v", mcpErr.Message, mcpErr.Data)
	return mcpErr
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := NewServer(Config{})
	assert.Error(t, err)

	_, err = NewServer(Config{Storage: env.store})
	assert.Error(t, err)

	s := env.server(t, nil)
	assert.NotNil(t, s.indexer)
	assert.Equal(t, searcher.DefaultLimit, s.defaultLimit)
}

func TestToolsList(t *testing.T) {
	s := newTestEnv(t, false).server(t, nil)

	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	for _, name := range []string{"search_notes", "list_notes", "get_status", "ingest_notes"} {
		assert.Contains(t, string(data), name)
	}
}

func TestSearchNotes_Modes(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	for _, mode := range []string{"hybrid", "fts_only", "semantic_only"} {
		t.Run(mode, func(t *testing.T) {
			result, err := s.handleSearchNotes(context.Background(), callRequest("search_notes", map[string]interface{}{
				"query": "planning",
				"mode":  mode,
			}))
			require.NoError(t, err)

			out := decodeResult(t, result)
			assert.Equal(t, mode, out["mode"])
			assert.ElementsMatch(t, []string{"sprint", "veg", "loose"}, resultIDs(t, out, "results"))

			for _, item := range out["results"].([]interface{}) {
				score := item.(map[string]interface{})["score"].(float64)
				assert.GreaterOrEqual(t, score, 0.0)
				assert.LessOrEqual(t, score, 1.0)
			}
		})
	}
}

func TestSearchNotes_StrictFilter(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mode   string
		filter map[string]interface{}
		want   []string
	}{
		{
			name:   "required concept matches descendants",
			mode:   "hybrid",
			filter: map[string]interface{}{"required_tags": []interface{}{"project"}},
			want:   []string{"sprint"},
		},
		{
			name:   "plain tag",
			mode:   "fts_only",
			filter: map[string]interface{}{"required_tags": []interface{}{"meeting"}},
			want:   []string{"sprint"},
		},
		{
			name: "excluded scheme without untagged",
			mode: "semantic_only",
			filter: map[string]interface{}{
				"excluded_schemes": []interface{}{"home"},
				"include_untagged": false,
			},
			want: []string{"sprint"},
		},
		{
			name:   "scheme isolation",
			mode:   "hybrid",
			filter: map[string]interface{}{"required_schemes": []interface{}{"home"}},
			want:   []string{"veg"},
		},
		{
			name:   "empty filter",
			mode:   "hybrid",
			filter: map[string]interface{}{},
			want:   []string{"sprint", "veg", "loose"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleSearchNotes(ctx, callRequest("search_notes", map[string]interface{}{
				"query":  "planning",
				"mode":   tt.mode,
				"filter": tt.filter,
			}))
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, resultIDs(t, decodeResult(t, result), "results"))
		})
	}
}

func TestSearchNotes_DroppedNotation(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	result, err := s.handleSearchNotes(context.Background(), callRequest("search_notes", map[string]interface{}{
		"query":  "planning",
		"filter": map[string]interface{}{"any_tags": []interface{}{"garden", "ghost"}},
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, []string{"veg"}, resultIDs(t, out, "results"))

	dropped, ok := out["dropped"].([]interface{})
	require.True(t, ok)
	require.Len(t, dropped, 1)
	assert.Equal(t, "ghost", dropped[0].(map[string]interface{})["notation"])
}

func TestSearchNotes_Errors(t *testing.T) {
	env := newTestEnv(t, true)
	s := env.server(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeInvalidParams},
		{"blank query", map[string]interface{}{"query": "  "}, ErrorCodeInvalidQuery},
		{"bad mode", map[string]interface{}{"query": "x", "mode": "fuzzy"}, ErrorCodeInvalidParams},
		{"limit too large", map[string]interface{}{"query": "x", "limit": float64(101)}, ErrorCodeInvalidParams},
		{"negative limit", map[string]interface{}{"query": "x", "limit": float64(-1)}, ErrorCodeInvalidParams},
		{"min score out of range", map[string]interface{}{"query": "x", "min_score": 1.5}, ErrorCodeInvalidParams},
		{"unknown filter field", map[string]interface{}{"query": "x", "filter": map[string]interface{}{"tags": []interface{}{"a"}}}, ErrorCodeInvalidParams},
		{"unresolved required tag", map[string]interface{}{"query": "x", "filter": map[string]interface{}{"required_tags": []interface{}{"ghost"}}}, ErrorCodeFilterResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSearchNotes(ctx, callRequest("search_notes", tt.args))
			requireMCPError(t, err, tt.code)
		})
	}

	_, err := s.handleSearchNotes(ctx, mcp.CallToolRequest{})
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestSearchNotes_ResolutionErrorData(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	_, err := s.handleSearchNotes(context.Background(), callRequest("search_notes", map[string]interface{}{
		"query":  "planning",
		"filter": map[string]interface{}{"required_tags": []interface{}{"ghost"}},
	}))
	mcpErr := requireMCPError(t, err, ErrorCodeFilterResolution)

	data, ok := mcpErr.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "filter_resolution", data["code"])
	assert.Equal(t, "filter_resolved", data["stage"])
	assert.Equal(t, "ghost", data["notation"])
}

func TestSearchNotes_LimitZero(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	result, err := s.handleSearchNotes(context.Background(), callRequest("search_notes", map[string]interface{}{
		"query": "planning",
		"limit": float64(0),
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Empty(t, resultIDs(t, out, "results"))
	assert.Equal(t, float64(0), out["total"])
}

func TestSearchNotes_WithoutEmbedder(t *testing.T) {
	env := newTestEnv(t, true)
	s := env.server(t, func(c *Config) { c.Embedder = nil })
	ctx := context.Background()

	_, err := s.handleSearchNotes(ctx, callRequest("search_notes", map[string]interface{}{
		"query": "planning",
		"mode":  "semantic_only",
	}))
	requireMCPError(t, err, ErrorCodeInvalidQuery)

	result, err := s.handleSearchNotes(ctx, callRequest("search_notes", map[string]interface{}{
		"query": "planning",
		"mode":  "fts_only",
	}))
	require.NoError(t, err)
	assert.Len(t, resultIDs(t, decodeResult(t, result), "results"), 3)
}

func TestSearchNotes_EmbedderFailure(t *testing.T) {
	env := newTestEnv(t, true)
	s := env.server(t, func(c *Config) { c.Embedder = failingEmbedder{Embedder: env.embedder} })

	_, err := s.handleSearchNotes(context.Background(), callRequest("search_notes", map[string]interface{}{
		"query": "planning",
	}))
	requireMCPError(t, err, ErrorCodeBackendUnavailable)
}

func TestSearchNotes_Canceled(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.handleSearchNotes(ctx, callRequest("search_notes", map[string]interface{}{
		"query": "planning",
		"mode":  "fts_only",
	}))
	requireMCPError(t, err, ErrorCodeCanceled)
}

func TestListNotes(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)
	ctx := context.Background()

	result, err := s.handleListNotes(ctx, callRequest("list_notes", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"sprint", "veg", "loose"}, resultIDs(t, decodeResult(t, result), "notes"))

	result, err = s.handleListNotes(ctx, callRequest("list_notes", map[string]interface{}{
		"limit":  float64(5),
		"filter": map[string]interface{}{"any_tags": []interface{}{"Alpha"}},
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, []string{"sprint"}, resultIDs(t, out, "notes"))

	note := out["notes"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"project/alpha"}, note["concepts"])
	assert.Equal(t, []interface{}{"meeting"}, note["tags"])

	_, err = s.handleListNotes(ctx, callRequest("list_notes", map[string]interface{}{"limit": float64(0)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleListNotes(ctx, callRequest("list_notes", map[string]interface{}{
		"filter": map[string]interface{}{"required_schemes": []interface{}{"nowhere"}},
	}))
	requireMCPError(t, err, ErrorCodeFilterResolution)
}

func TestGetStatus(t *testing.T) {
	s := newTestEnv(t, true).server(t, nil)

	result, err := s.handleGetStatus(context.Background(), callRequest("get_status", nil))
	require.NoError(t, err)

	out := decodeResult(t, result)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["notes_count"])
	assert.Equal(t, float64(2), stats["tagged_notes_count"])
	assert.Equal(t, float64(2), stats["schemes_count"])
	assert.Equal(t, float64(3), stats["concepts_count"])
	assert.Equal(t, float64(3), stats["embeddings_count"])

	health := out["health"].(map[string]interface{})
	assert.Equal(t, true, health["database_accessible"])
	assert.Equal(t, true, health["fts_index_built"])

	emb := out["embedder"].(map[string]interface{})
	assert.Equal(t, embedder.ProviderLocal, emb["provider"])
	assert.Contains(t, emb, "cache")
}

func TestIngestNotes(t *testing.T) {
	env := newTestEnv(t, false)
	s := env.server(t, nil)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte(testNotes), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o600))

	result, err := s.handleIngestNotes(ctx, callRequest("ingest_notes", map[string]interface{}{"path": dir}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, float64(1), out["files_read"])
	assert.Equal(t, float64(3), out["notes_indexed"])
	assert.Equal(t, float64(3), out["embeddings_created"])

	result, err = s.handleIngestNotes(ctx, callRequest("ingest_notes", map[string]interface{}{"path": dir}))
	require.NoError(t, err)
	assert.Equal(t, float64(3), decodeResult(t, result)["notes_skipped"])

	result, err = s.handleIngestNotes(ctx, callRequest("ingest_notes", map[string]interface{}{
		"path":  filepath.Join(dir, "notes.yaml"),
		"force": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(3), decodeResult(t, result)["notes_indexed"])

	// Ingested notes are searchable straight away
	result, err = s.handleSearchNotes(ctx, callRequest("search_notes", map[string]interface{}{
		"query": "vegetable",
		"mode":  "fts_only",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"veg"}, resultIDs(t, decodeResult(t, result), "results"))
}

func TestIngestNotes_InvalidPaths(t *testing.T) {
	s := newTestEnv(t, false).server(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing", map[string]interface{}{}, ErrorCodeInvalidParams},
		{"relative", map[string]interface{}{"path": "notes"}, ErrorCodeInvalidParams},
		{"not found", map[string]interface{}{"path": filepath.Join(dir, "nope")}, ErrorCodePathNotFound},
		{"not a note file", map[string]interface{}{"path": txt}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleIngestNotes(ctx, callRequest("ingest_notes", tt.args))
			requireMCPError(t, err, tt.code)
		})
	}
}

func TestIngestNotes_InProgress(t *testing.T) {
	env := newTestEnv(t, false)
	blocking := &blockingEmbedder{Embedder: env.embedder, release: make(chan struct{})}
	idx := indexer.New(env.store, indexer.WithEmbedder(blocking))
	s := env.server(t, func(c *Config) { c.Indexer = idx })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte(testNotes), 0o600))

	done := make(chan error, 1)
	go func() {
		_, err := idx.IngestPath(context.Background(), dir, nil)
		done <- err
	}()
	require.Eventually(t, blocking.started.Load, time.Second, time.Millisecond)

	_, err := s.handleIngestNotes(context.Background(), callRequest("ingest_notes", map[string]interface{}{"path": dir}))
	requireMCPError(t, err, ErrorCodeIngestInProgress)

	close(blocking.release)
	require.NoError(t, <-done)
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeFilterResolution, "filter resolution failed", nil)
	assert.Equal(t, "MCP error -32010: filter resolution failed", err.Error())
}

func TestParseFilter(t *testing.T) {
	in, err := parseFilter(map[string]interface{}{})
	require.NoError(t, err)
	assert.Nil(t, in)

	in, err = parseFilter(map[string]interface{}{"filter": map[string]interface{}{
		"required_tags":    []interface{}{"a"},
		"min_tag_count":    float64(2),
		"include_untagged": false,
	}})
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, []string{"a"}, in.RequiredTags)
	require.NotNil(t, in.MinTagCount)
	assert.Equal(t, 2, *in.MinTagCount)
	require.NotNil(t, in.IncludeUntagged)
	assert.False(t, *in.IncludeUntagged)

	_, err = parseFilter(map[string]interface{}{"filter": "required_tags=a"})
	assert.Error(t, err)
}
