package filter

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/notesearch-mcp/pkg/types"
)

const (
	// DefaultCacheSize bounds the number of cached notations
	DefaultCacheSize = 1000
	// DefaultCacheTTL bounds how long a resolution is trusted
	DefaultCacheTTL = 5 * time.Minute
)

type cacheEntry struct {
	concept types.ConceptRef
	scheme  types.SchemeID
}

// NotationCache memoizes notation resolutions. Only successful resolutions
// are stored. Concurrent fills of the same key are last-writer-wins.
type NotationCache struct {
	lru    *expirable.LRU[string, cacheEntry]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewNotationCache creates a bounded cache whose entries expire after ttl
func NewNotationCache(size int, ttl time.Duration) *NotationCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &NotationCache{
		lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// Concept returns a cached concept resolution
func (c *NotationCache) Concept(notation string) (types.ConceptRef, bool) {
	entry, ok := c.get(conceptKey(notation))
	return entry.concept, ok
}

// PutConcept caches a concept resolution
func (c *NotationCache) PutConcept(notation string, ref types.ConceptRef) {
	c.lru.Add(conceptKey(notation), cacheEntry{concept: ref})
}

// Scheme returns a cached scheme resolution
func (c *NotationCache) Scheme(notation string) (types.SchemeID, bool) {
	entry, ok := c.get(schemeKey(notation))
	return entry.scheme, ok
}

// PutScheme caches a scheme resolution
func (c *NotationCache) PutScheme(notation string, id types.SchemeID) {
	c.lru.Add(schemeKey(notation), cacheEntry{scheme: id})
}

// Len returns the number of live entries
func (c *NotationCache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry
func (c *NotationCache) Purge() {
	c.lru.Purge()
}

// Stats returns cumulative hit and miss counts
func (c *NotationCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *NotationCache) get(key string) (cacheEntry, bool) {
	entry, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

func conceptKey(notation string) string {
	return "concept:" + strings.ToLower(notation)
}

func schemeKey(notation string) string {
	return "scheme:" + strings.ToLower(notation)
}
