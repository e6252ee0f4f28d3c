package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
)

// Embedder turns note text and search queries into vectors. The indexer
// embeds notes in batches; the MCP server and the CLI embed one query at a
// time. Vectors carry no provenance: Provider and Model describe every vector
// an Embedder returns.
type Embedder interface {
	// Embed returns the vector for one text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order. An empty batch
	// returns no vectors and no error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// DefaultCacheSize is used when NewCache gets a non-positive size
const DefaultCacheSize = 10000

// Cache keeps recently produced vectors keyed by model and text. Lookups are
// counted for get_status.
type Cache struct {
	lru    *lru.Cache[string, []float32]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	l, err := lru.New[string, []float32](maxLen)
	if err != nil {
		l, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{lru: l}
}

// Get returns a copy so callers may modify the vector
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]float32(nil), v...), true
}

func (c *Cache) Set(key string, v []float32) {
	c.lru.Add(key, v)
}

func (c *Cache) Size() int {
	return c.lru.Len()
}

// Stats returns lookup counters since creation
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// cacheKey separates model and text so models never share entries
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

func checkBatch(texts []string) error {
	if len(texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if err := checkText(text); err != nil {
			return fmt.Errorf("text %d: %w", i, err)
		}
	}
	return nil
}
