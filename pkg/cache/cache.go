// Package cache is the exact and similarity lookup layer in front of the model.
// The in-memory mirror is authoritative for reads; the Store makes it durable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// Config wires a Cache to its collaborators. Store and Index default to in-memory
// implementations; Taxonomy is required.
type Config struct {
	Store    Store
	Index    VectorIndex
	Taxonomy *taxonomy.Taxonomy
	Logger   *logger.Logger

	// Dimension is the expected embedding length. 0 adopts the length of the first
	// valid entry.
	Dimension int
}

// Hit is a cache lookup result
type Hit struct {
	Key       string
	Result    types.CategorizationResult
	Embedding []float32
}

// Stats is a snapshot of cache activity since startup
type Stats struct {
	Entries     int   `json:"entries"`
	Skipped     int   `json:"skipped_on_load"`
	ExactHits   int64 `json:"exact_hits"`
	SimilarHits int64 `json:"similar_hits"`
	Misses      int64 `json:"misses"`
	Inserts     int64 `json:"inserts"`
	StoreErrors int64 `json:"store_errors"`
}

// Cache maps normalized titles to validated categorizations
type Cache struct {
	store Store
	index VectorIndex
	tax   *taxonomy.Taxonomy
	log   *logger.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	pending map[string]struct{}
	dim     int
	nextSeq int64
	stats   Stats
}

// New loads persisted entries into memory and rebuilds the similarity index.
// An unavailable store is logged and the cache starts empty.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Taxonomy == nil {
		return nil, fmt.Errorf("cache requires a taxonomy")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Index == nil {
		cfg.Index = NewMemoryIndex()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	c := &Cache{
		store:   cfg.Store,
		index:   cfg.Index,
		tax:     cfg.Taxonomy,
		log:     cfg.Logger.With("component", "cache"),
		entries: make(map[string]*Entry),
		pending: make(map[string]struct{}),
		dim:     cfg.Dimension,
	}

	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn("cache store unavailable, starting empty", "error", err)
		c.stats.StoreErrors++
		return c, nil
	}

	for i := range loaded {
		e := loaded[i]
		if reason := c.check(e.Key, e.Embedding, e.Category, e.Subcategory, e.Method); reason != "" {
			c.log.Warn("skipping corrupt cache entry", "key", e.Key, "reason", reason)
			c.stats.Skipped++
			continue
		}
		if _, dup := c.entries[e.Key]; dup {
			continue
		}
		if c.dim == 0 {
			c.dim = len(e.Embedding)
		}
		c.entries[e.Key] = &e
		if e.Seq >= c.nextSeq {
			c.nextSeq = e.Seq + 1
		}
		if !c.index.Persistent() {
			if err := c.index.Add(ctx, e.Key, e.Seq, e.Embedding); err != nil {
				return nil, fmt.Errorf("failed to index cache entry %q: %w", e.Key, err)
			}
		}
	}

	c.log.Info("cache loaded", "entries", len(c.entries), "skipped", c.stats.Skipped)
	return c, nil
}

// check returns why an entry cannot be cached, or "" if it can
func (c *Cache) check(key string, emb []float32, category, subcategory string, method types.Method) string {
	switch {
	case key == "":
		return "empty key"
	case !c.tax.Contains(category, subcategory):
		return "pair not in taxonomy"
	case !method.Valid() || method == types.MethodFallback:
		return fmt.Sprintf("method %q is not cacheable", method)
	case len(emb) == 0:
		return "missing embedding"
	case c.dim != 0 && len(emb) != c.dim:
		return fmt.Sprintf("embedding dimension %d, want %d", len(emb), c.dim)
	}
	return ""
}

// LookupExact returns the cached result for a normalized key and records a hit
func (c *Cache) LookupExact(ctx context.Context, key string) (Hit, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return Hit{}, false
	}
	e.HitCount++
	c.stats.ExactHits++
	hit := Hit{
		Key: key,
		Result: types.CategorizationResult{
			Category:    e.Category,
			Subcategory: e.Subcategory,
			Method:      types.MethodCacheExact,
		},
		Embedding: e.Embedding,
	}
	c.mu.Unlock()

	c.recordHit(ctx, key)
	return hit, true
}

// LookupSimilar returns the cached result whose embedding is most similar to emb,
// if that similarity is at least threshold
func (c *Cache) LookupSimilar(ctx context.Context, emb []float32, threshold float32) (Hit, bool) {
	n, ok, err := c.index.Nearest(ctx, emb)
	if err != nil {
		c.log.Warn("similarity lookup failed", "error", err)
		c.countStoreError()
		return Hit{}, false
	}

	c.mu.Lock()
	var e *Entry
	if ok && n.Score >= threshold {
		e = c.entries[n.Key]
	}
	if e == nil {
		c.stats.Misses++
		c.mu.Unlock()
		return Hit{}, false
	}
	e.HitCount++
	c.stats.SimilarHits++
	hit := Hit{
		Key: n.Key,
		Result: types.CategorizationResult{
			Category:    e.Category,
			Subcategory: e.Subcategory,
			Method:      types.MethodCacheSimilar,
			Similarity:  n.Score,
		},
		Embedding: e.Embedding,
	}
	c.mu.Unlock()

	c.recordHit(ctx, n.Key)
	return hit, true
}

func (c *Cache) recordHit(ctx context.Context, key string) {
	if err := c.store.IncrementHits(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("failed to persist cache hit", "key", key, "error", err)
		c.countStoreError()
	}
}

func (c *Cache) countStoreError() {
	c.mu.Lock()
	c.stats.StoreErrors++
	c.mu.Unlock()
}

// Insert stores a validated result for key. The first insert for a key wins; later or
// concurrent inserts report false. Fallback results and pairs outside the taxonomy are rejected.
func (c *Cache) Insert(ctx context.Context, key string, emb []float32, result types.CategorizationResult) (bool, error) {
	c.mu.Lock()
	if reason := c.check(key, emb, result.Category, result.Subcategory, result.Method); reason != "" {
		c.mu.Unlock()
		return false, fmt.Errorf("cannot cache %q: %s", key, reason)
	}
	if _, exists := c.entries[key]; exists {
		c.mu.Unlock()
		return false, nil
	}
	if _, claimed := c.pending[key]; claimed {
		c.mu.Unlock()
		return false, nil
	}
	c.pending[key] = struct{}{}
	if c.dim == 0 {
		c.dim = len(emb)
	}
	e := &Entry{
		Key:         key,
		Embedding:   append([]float32(nil), emb...),
		Category:    result.Category,
		Subcategory: result.Subcategory,
		Method:      result.Method,
		Seq:         c.nextSeq,
		CreatedAt:   time.Now().UTC(),
	}
	c.nextSeq++
	c.mu.Unlock()

	stored, err := c.store.PutIfAbsent(ctx, *e)
	if err != nil {
		c.log.Warn("failed to persist cache entry, keeping it in memory", "key", key, "error", err)
		c.countStoreError()
	} else if !stored {
		// another process persisted this key first; its result wins
		if existing, getErr := c.store.Get(ctx, key); getErr == nil && c.check(existing.Key, existing.Embedding, existing.Category, existing.Subcategory, existing.Method) == "" {
			e = &existing
		}
	}

	c.mu.Lock()
	delete(c.pending, key)
	c.entries[key] = e
	c.stats.Inserts++
	c.mu.Unlock()

	if err := c.index.Add(ctx, e.Key, e.Seq, e.Embedding); err != nil {
		c.log.Warn("failed to index cache entry", "key", key, "error", err)
		c.countStoreError()
	}
	return true, nil
}

// Get returns a copy of the entry for key without recording a hit
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Dimension returns the embedding length enforced by the cache, 0 if not yet known
func (c *Cache) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dim
}

// Stats returns a snapshot of cache counters
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Close closes the underlying store
func (c *Cache) Close() error {
	return c.store.Close()
}
