package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/notesearch-mcp/internal/embedder"
	"github.com/dshills/notesearch-mcp/internal/indexer"
	"github.com/dshills/notesearch-mcp/internal/logging"
	"github.com/dshills/notesearch-mcp/internal/searcher"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodePathNotFound       = -32001 // Ingest path does not exist or is unreadable
	ErrorCodeIngestInProgress   = -32002 // Another ingestion is already running
	ErrorCodeFilterResolution   = -32010 // A required filter notation did not resolve
	ErrorCodeBackendUnavailable = -32011 // A retrieval or embedding backend failed
	ErrorCodeInvalidQuery       = -32012 // Query is empty or inconsistent with the mode
	ErrorCodeCanceled           = -32013 // Request was canceled or timed out
)

// handleSearchNotes handles the search_notes tool invocation
func (s *Server) handleSearchNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, "search_notes")

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or not a string",
		})
	}
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeInvalidQuery, "query cannot be empty", map[string]interface{}{
			"param": "query",
			"code":  types.CodeInvalidQuery,
		})
	}

	limit := getIntDefault(args, "limit", s.defaultLimit)
	if limit < 0 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 0 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", string(searcher.ModeHybrid)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{string(searcher.ModeHybrid), string(searcher.ModeFTSOnly), string(searcher.ModeSemanticOnly)},
		})
	}

	minScore := getFloatDefault(args, "min_score", 0)
	if minScore < 0 || minScore > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]interface{}{
			"param": "min_score",
			"value": minScore,
		})
	}

	filterInput, err := parseFilter(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filter", map[string]interface{}{
			"param":  "filter",
			"reason": err.Error(),
		})
	}

	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}

	req := searcher.Request{
		Query:    query,
		Mode:     mode,
		Limit:    limit,
		Filter:   filterInput,
		MinScore: float32(minScore),
	}
	if mode.NeedsVector() {
		vector, err := s.embedQuery(ctx, query)
		if err != nil {
			return nil, s.searchError(ctx, err)
		}
		req.QueryVector = vector
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, s.searchError(ctx, err)
	}

	hits := make([]map[string]interface{}, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		h := map[string]interface{}{
			"note_id": hit.NoteID,
			"score":   hit.Score,
		}
		if hit.Title != "" {
			h["title"] = hit.Title
		}
		if hit.Snippet != "" {
			h["snippet"] = hit.Snippet
		}
		if len(hit.Tags) > 0 {
			h["tags"] = hit.Tags
		}
		hits = append(hits, h)
	}

	response := map[string]interface{}{
		"query":          query,
		"mode":           string(resp.Mode),
		"results":        hits,
		"total":          len(hits),
		"lexical_count":  resp.LexicalCount,
		"semantic_count": resp.SemanticCount,
		"duration_ms":    resp.Duration.Milliseconds(),
	}
	if len(resp.Dropped) > 0 {
		response["dropped"] = resp.Dropped
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// embedQuery turns the query into a vector for semantic retrieval
func (s *Server) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: semantic search needs an embedding provider", types.ErrInvalidQuery)
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.BackendError{Provider: "embedder", Err: err}
	}
	return vec, nil
}

// handleListNotes handles the list_notes tool invocation
func (s *Server) handleListNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, "list_notes")

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	limit := getIntDefault(args, "limit", s.defaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	filterInput, err := parseFilter(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filter", map[string]interface{}{
			"param":  "filter",
			"reason": err.Error(),
		})
	}

	compiled, err := s.filter.Compile(ctx, filterInput)
	if err != nil {
		return nil, s.searchError(ctx, err)
	}

	notes, err := s.storage.ListNotes(ctx, compiled.Predicate, limit)
	if err != nil {
		return nil, s.searchError(ctx, &types.BackendError{Provider: "storage", Err: err})
	}

	items := make([]map[string]interface{}, 0, len(notes))
	for _, note := range notes {
		item := map[string]interface{}{
			"note_id":    note.ID,
			"updated_at": note.UpdatedAt.Format(time.RFC3339),
		}
		if note.Title != "" {
			item["title"] = note.Title
		}
		if note.SourcePath != "" {
			item["source_path"] = note.SourcePath
		}

		assoc, err := s.storage.NoteAssociations(ctx, note.ID)
		if err != nil {
			return nil, s.searchError(ctx, &types.BackendError{Provider: "storage", Err: err})
		}
		if len(assoc.Concepts) > 0 {
			concepts := make([]string, len(assoc.Concepts))
			for i, c := range assoc.Concepts {
				concepts[i] = c.Notation
			}
			item["concepts"] = concepts
		}
		if len(assoc.Tags) > 0 {
			item["tags"] = assoc.Tags
		}
		items = append(items, item)
	}

	response := map[string]interface{}{
		"notes": items,
		"total": len(items),
	}
	if len(compiled.Dropped) > 0 {
		response["dropped"] = compiled.Dropped
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, "get_status")

	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"notes_count":        status.NotesCount,
			"tagged_notes_count": status.TaggedNotesCount,
			"schemes_count":      status.SchemesCount,
			"concepts_count":     status.ConceptsCount,
			"embeddings_count":   status.EmbeddingsCount,
			"index_size_mb":      fmt.Sprintf("%.2f", status.IndexSizeMB),
			"schema_version":     status.SchemaVersion,
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_index_built":      status.Health.FTSIndexBuilt,
			"vector_extension":     status.Health.VectorExtension,
		},
	}

	if s.embedder != nil {
		emb := map[string]interface{}{
			"provider":  s.embedder.Provider(),
			"model":     s.embedder.Model(),
			"dimension": s.embedder.Dimension(),
		}
		if cache := embedder.CacheOf(s.embedder); cache != nil {
			hits, misses := cache.Stats()
			emb["cache"] = map[string]interface{}{
				"size":   cache.Size(),
				"hits":   hits,
				"misses": misses,
			}
		}
		response["embedder"] = emb
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestNotes handles the ingest_notes tool invocation
func (s *Server) handleIngestNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.requestContext(ctx, "ingest_notes")

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrPathNotReadable) {
			code = ErrorCodePathNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	config := s.indexerConfig
	config.Force = getBoolDefault(args, "force", false)

	stats, err := s.indexer.IngestPath(ctx, path, &config)
	if errors.Is(err, indexer.ErrIngestInProgress) {
		return nil, newMCPError(ErrorCodeIngestInProgress, "ingestion already in progress", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, newMCPError(ErrorCodeCanceled, "ingestion canceled", map[string]interface{}{
				"error": err.Error(),
			})
		}
		logging.FromContext(ctx).Error("ingestion failed", zap.String("path", path), zap.Error(err))
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"ingested":           true,
		"files_read":         stats.FilesRead,
		"files_failed":       stats.FilesFailed,
		"schemes_upserted":   stats.SchemesUpserted,
		"concepts_upserted":  stats.ConceptsUpserted,
		"notes_indexed":      stats.NotesIndexed,
		"notes_skipped":      stats.NotesSkipped,
		"notes_failed":       stats.NotesFailed,
		"embeddings_created": stats.EmbeddingsCreated,
		"duration_ms":        stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// requestContext attaches a request-scoped logger
func (s *Server) requestContext(ctx context.Context, tool string) context.Context {
	logger := s.logger.With(
		zap.String("tool", tool),
		zap.String("request_id", uuid.NewString()),
	)
	logger.Debug("tool called")
	return logging.ContextWithLogger(ctx, logger)
}

// searchError maps a search pipeline error to an MCP error with a stable code
func (s *Server) searchError(ctx context.Context, err error) error {
	code := types.ErrorCode(err)
	data := map[string]interface{}{
		"code":  code,
		"error": err.Error(),
	}

	var stageErr *searcher.StageError
	if errors.As(err, &stageErr) {
		data["stage"] = stageErr.Stage.String()
	}
	var resolution *types.FilterResolutionError
	if errors.As(err, &resolution) {
		data["field"] = resolution.Field
		if resolution.Notation != "" {
			data["notation"] = resolution.Notation
		}
	}

	switch code {
	case types.CodeFilterResolution:
		return newMCPError(ErrorCodeFilterResolution, "filter resolution failed", data)
	case types.CodeInvalidQuery:
		return newMCPError(ErrorCodeInvalidQuery, "invalid query", data)
	case types.CodeCanceled:
		return newMCPError(ErrorCodeCanceled, "request canceled", data)
	case types.CodeBackendUnavailable:
		logging.FromContext(ctx).Error("backend unavailable", zap.Error(err))
		return newMCPError(ErrorCodeBackendUnavailable, "backend unavailable", data)
	default:
		logging.FromContext(ctx).Error("request failed", zap.Error(err))
		return newMCPError(ErrorCodeInternalError, "internal error", data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// parseFilter decodes the optional filter argument
func parseFilter(args map[string]interface{}) (*types.StrictTagFilterInput, error) {
	raw, ok := args["filter"]
	if !ok || raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var in types.StrictTagFilterInput
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

// validatePath checks that an ingest path is absolute and readable
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	// Check if path exists
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return ErrNotNoteFile
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotNoteFile     = errors.New("file is not a .yaml or .yml note file")
)
