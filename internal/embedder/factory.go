package embedder

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// EnvProvider overrides provider detection
const EnvProvider = "NOTESEARCH_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheSize  int // 0 disables the cache
	Logger     *zap.Logger
}

// New creates an embedder with explicit configuration. An empty provider is
// detected from the environment.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	api := APIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Cache:      cache,
		Logger:     cfg.Logger,
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(api)
	case ProviderOpenAI:
		return NewOpenAIProvider(api)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}

// CacheOf returns the embedder's cache when it has one, for metrics
func CacheOf(e Embedder) *Cache {
	switch p := e.(type) {
	case *APIProvider:
		return p.cache
	case *LocalProvider:
		return p.cache
	default:
		return nil
	}
}
