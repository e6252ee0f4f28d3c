package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dshills/notesearch-mcp/internal/config"
	"github.com/dshills/notesearch-mcp/internal/embedder"
	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/internal/fusion"
	"github.com/dshills/notesearch-mcp/internal/indexer"
	"github.com/dshills/notesearch-mcp/internal/logging"
	"github.com/dshills/notesearch-mcp/internal/metrics"
	"github.com/dshills/notesearch-mcp/internal/retrieval"
	"github.com/dshills/notesearch-mcp/internal/searcher"
	"github.com/dshills/notesearch-mcp/internal/storage"
)

// components are the wired services shared by every command
type components struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.SQLiteStorage
	embedder  embedder.Embedder
	notations *filter.NotationCache
	evaluator *filter.Evaluator
	searcher  *searcher.Searcher
	indexer   *indexer.Indexer
	metrics   *metrics.Collectors
}

// loadConfig reads the config file and applies global flag overrides
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if db := c.String("db"); db != "" {
		cfg.Database.Path = db
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, cfg.Validate()
}

func setup(c *cli.Context) (*components, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(dbPath, storage.WithMaxOpenConns(cfg.Database.MaxOpenConns))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	collectors := metrics.New()
	notations := filter.NewNotationCache(cfg.Filter.CacheSize, cfg.Filter.CacheTTL())
	collectors.RegisterCache("notation", notations)
	if cache := embedder.CacheOf(emb); cache != nil {
		collectors.RegisterCache("embedding", cache)
	}

	evaluator := filter.NewEvaluator(store,
		filter.WithCache(notations),
		filter.WithLogger(logger))

	srch := searcher.New(evaluator,
		retrieval.NewLexicalProvider(store),
		retrieval.NewSemanticProvider(store),
		searcher.WithLogger(logger),
		searcher.WithFusion(fusion.New(cfg.Search.RRFK)),
		searcher.WithRecorder(collectors),
		searcher.WithCandidateMultiplier(cfg.Search.CandidateMultiplier),
		searcher.WithWeights(cfg.Search.LexicalWeight, cfg.Search.SemanticWeight))

	idx := indexer.New(store,
		indexer.WithEmbedder(emb),
		indexer.WithLogger(logger),
		indexer.WithRecorder(collectors))

	logger.Debug("components ready",
		zap.String("db", dbPath),
		zap.String("driver", storage.DriverName),
		zap.String("embedder", emb.Provider()),
		zap.String("model", emb.Model()))

	return &components{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		embedder:  emb,
		notations: notations,
		evaluator: evaluator,
		searcher:  srch,
		indexer:   idx,
		metrics:   collectors,
	}, nil
}

func (a *components) indexerConfig() indexer.Config {
	return indexer.Config{
		Workers:   a.cfg.Indexer.Workers,
		BatchSize: a.cfg.Indexer.BatchSize,
	}
}

func (a *components) Close() {
	_ = a.embedder.Close()
	_ = a.store.Close()
	_ = a.logger.Sync()
}
