package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// ErrNotFound is returned by a Store when no entry exists for a key
var ErrNotFound = errors.New("cache entry not found")

// Entry is one persisted categorization keyed by normalized title
type Entry struct {
	Key         string       `json:"key"`
	Embedding   []float32    `json:"embedding"`
	Category    string       `json:"category"`
	Subcategory string       `json:"subcategory"`
	Method      types.Method `json:"method"`
	HitCount    int64        `json:"hit_count"`
	Seq         int64        `json:"seq"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Store persists cache entries. Implementations must make PutIfAbsent atomic per key.
type Store interface {
	// Load returns every stored entry
	Load(ctx context.Context) ([]Entry, error)

	// Get returns the entry for key or ErrNotFound
	Get(ctx context.Context, key string) (Entry, error)

	// PutIfAbsent stores e unless an entry for e.Key exists. It reports whether e was stored.
	PutIfAbsent(ctx context.Context, e Entry) (bool, error)

	// IncrementHits bumps the hit counter of key by one
	IncrementHits(ctx context.Context, key string) error

	Close() error
}

// MemoryStore is a process-local Store, used in tests and when no persistence is configured
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Load(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.Key]; ok {
		return false, nil
	}
	e.Embedding = append([]float32(nil), e.Embedding...)
	s.entries[e.Key] = e
	return true, nil
}

func (s *MemoryStore) IncrementHits(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.HitCount++
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Close() error { return nil }
