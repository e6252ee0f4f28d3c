package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDBPath is used when no database path is configured
const DefaultDBPath = "~/.notesearch/notesearch.db"

// Environment overrides, applied after the file
const (
	EnvDBPath            = "NOTESEARCH_DB_PATH"
	EnvLogLevel          = "NOTESEARCH_LOG_LEVEL"
	EnvLogEnv            = "NOTESEARCH_ENV"
	EnvMetricsAddr       = "NOTESEARCH_METRICS_ADDR"
	EnvEmbeddingProvider = "NOTESEARCH_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "NOTESEARCH_EMBEDDING_MODEL"
	EnvRRFK              = "NOTESEARCH_RRF_K"
)

// Config holds the notesearch configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Filter    FilterConfig    `yaml:"filter"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path         string `yaml:"path"` // ":memory:" for an ephemeral store
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // jina, openai, local; empty detects from env
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds retrieval and fusion settings.
type SearchConfig struct {
	RRFK                float64 `yaml:"rrf_k"`
	DefaultLimit        int     `yaml:"default_limit"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	LexicalWeight       float64 `yaml:"lexical_weight"`
	SemanticWeight      float64 `yaml:"semantic_weight"`
	TimeoutSec          int     `yaml:"timeout_sec"` // 0 means no deadline
}

// Timeout returns the per-request deadline, zero when disabled.
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// FilterConfig holds notation cache settings.
type FilterConfig struct {
	CacheSize   int `yaml:"cache_size"`
	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

// CacheTTL returns the notation cache TTL.
func (f FilterConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSec) * time.Second
}

// IndexerConfig holds ingestion settings.
type IndexerConfig struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, dev, local
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from NOTESEARCH_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogEnv); v != "" {
		c.Logging.Env = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvRRFK); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRRFK, err)
		}
		c.Search.RRFK = k
	}
	return nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 10000
	}
	if c.Search.RRFK <= 0 {
		c.Search.RRFK = 20
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.CandidateMultiplier <= 0 {
		c.Search.CandidateMultiplier = 3
	}
	if c.Search.LexicalWeight <= 0 {
		c.Search.LexicalWeight = 1
	}
	if c.Search.SemanticWeight <= 0 {
		c.Search.SemanticWeight = 1
	}
	if c.Filter.CacheSize <= 0 {
		c.Filter.CacheSize = 1000
	}
	if c.Filter.CacheTTLSec <= 0 {
		c.Filter.CacheTTLSec = 300
	}
	if c.Indexer.Workers <= 0 {
		c.Indexer.Workers = 4
	}
	if c.Indexer.BatchSize <= 0 {
		c.Indexer.BatchSize = 20
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "prod"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Embedding.Provider) {
	case "", "jina", "openai", "local":
	default:
		return fmt.Errorf("embedding.provider must be jina, openai or local, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	if c.Search.DefaultLimit > 100 {
		return fmt.Errorf("search.default_limit must be at most 100, got %d", c.Search.DefaultLimit)
	}
	if c.Search.TimeoutSec < 0 {
		return fmt.Errorf("search.timeout_sec must not be negative, got %d", c.Search.TimeoutSec)
	}
	if c.Indexer.BatchSize > 100 {
		return fmt.Errorf("indexer.batch_size must be at most 100, got %d", c.Indexer.BatchSize)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// ResolveDBPath expands a leading "~" and creates the parent directory.
// ":memory:" is returned unchanged.
func (c *Config) ResolveDBPath() (string, error) {
	path := c.Database.Path
	if path == ":memory:" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return path, nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
