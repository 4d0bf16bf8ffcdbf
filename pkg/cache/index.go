package cache

import (
	"context"
	"math"
	"sync"
)

// Neighbor is the closest indexed entry to a query vector
type Neighbor struct {
	Key   string
	Score float32
	Seq   int64
}

// VectorIndex finds the most similar cached embedding
type VectorIndex interface {
	// Add indexes vec under key; seq orders entries for tie breaking
	Add(ctx context.Context, key string, seq int64, vec []float32) error

	// Nearest returns the entry with the highest cosine similarity to vec. Equal scores
	// resolve to the lowest seq. ok is false when the index is empty.
	Nearest(ctx context.Context, vec []float32) (n Neighbor, ok bool, err error)

	// Persistent reports whether the index survives restarts and needs no rebuild
	Persistent() bool
}

type indexedVector struct {
	key  string
	seq  int64
	unit []float32
}

// MemoryIndex is a brute-force cosine index over unit vectors
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors []indexedVector
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

var _ VectorIndex = (*MemoryIndex)(nil)

func (m *MemoryIndex) Add(ctx context.Context, key string, seq int64, vec []float32) error {
	unit := Normalize(vec)
	m.mu.Lock()
	m.vectors = append(m.vectors, indexedVector{key: key, seq: seq, unit: unit})
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Nearest(ctx context.Context, vec []float32) (Neighbor, bool, error) {
	q := Normalize(vec)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best Neighbor
	found := false
	for _, v := range m.vectors {
		if len(v.unit) != len(q) {
			continue
		}
		score := dot(q, v.unit)
		if !found || score > best.Score || (score == best.Score && v.seq < best.Seq) {
			best = Neighbor{Key: v.key, Score: score, Seq: v.seq}
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryIndex) Persistent() bool { return false }

// Len returns the number of indexed vectors
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Normalize returns v scaled to unit length, or a copy of v if its norm is zero
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, 0 for mismatched or zero vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
