package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/notesearch-mcp/internal/embedder"
	"github.com/dshills/notesearch-mcp/internal/indexer"
	"github.com/dshills/notesearch-mcp/internal/metrics"
	"github.com/dshills/notesearch-mcp/internal/searcher"
	"github.com/dshills/notesearch-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "notesearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Config holds the server's dependencies. Storage, Searcher and Filter are
// required; without an Embedder only fts_only searches succeed.
type Config struct {
	Storage  storage.Storage
	Searcher *searcher.Searcher
	Filter   searcher.FilterCompiler
	Indexer  *indexer.Indexer
	Embedder embedder.Embedder
	Logger   *zap.Logger
	Metrics  *metrics.Collectors

	DefaultLimit  int           // search_notes limit when none is given
	SearchTimeout time.Duration // 0 means no deadline
	IndexerConfig indexer.Config
	Version       string
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	filter   searcher.FilterCompiler
	embedder embedder.Embedder
	logger   *zap.Logger
	metrics  *metrics.Collectors

	defaultLimit  int
	searchTimeout time.Duration
	indexerConfig indexer.Config
}

// NewServer creates a new MCP server instance
func NewServer(cfg Config) (*Server, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Searcher == nil || cfg.Filter == nil {
		return nil, errors.New("searcher and filter are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := cfg.Indexer
	if idx == nil {
		idx = indexer.New(cfg.Storage,
			indexer.WithEmbedder(cfg.Embedder),
			indexer.WithLogger(logger),
			indexer.WithRecorder(cfg.Metrics))
	}
	version := cfg.Version
	if version == "" {
		version = ServerVersion
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = searcher.DefaultLimit
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:           mcpServer,
		storage:       cfg.Storage,
		indexer:       idx,
		searcher:      cfg.Searcher,
		filter:        cfg.Filter,
		embedder:      cfg.Embedder,
		logger:        logger.Named("mcp"),
		metrics:       cfg.Metrics,
		defaultLimit:  limit,
		searchTimeout: cfg.SearchTimeout,
		indexerConfig: cfg.IndexerConfig,
	}

	s.registerTools()
	return s, nil
}

// MCPServer exposes the underlying protocol server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve runs the MCP protocol on stdin/stdout until ctx is canceled or
// stdin closes. Diagnostics go to the logger, never to stdout.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("serving MCP on stdio", zap.String("server", ServerName))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchNotesTool(), s.handleSearchNotes)
	s.mcp.AddTool(listNotesTool(), s.handleListNotes)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(ingestNotesTool(), s.handleIngestNotes)
}
