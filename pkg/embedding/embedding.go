// Package embedding turns normalized titles into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"
	"sync"
)

// Embedder produces one vector per input text, in order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DimensionError reports a vector whose length differs from the service dimension
type DimensionError struct {
	Index int
	Got   int
	Want  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding %d has dimension %d, want %d", e.Index, e.Got, e.Want)
}

// Service batches requests to an Embedder and enforces a single output dimension
type Service struct {
	embedder  Embedder
	batchSize int

	mu  sync.Mutex
	dim int
}

// NewService wraps embedder. batchSize <= 0 sends everything in one request.
// dimension 0 adopts the length of the first vector returned.
func NewService(embedder Embedder, batchSize, dimension int) *Service {
	return &Service{embedder: embedder, batchSize: batchSize, dim: dimension}
}

// Dimension returns the enforced dimension, 0 until known
func (s *Service) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// Embed returns one vector per text. Any failed batch fails the whole call.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	size := s.batchSize
	if size <= 0 {
		size = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(texts))

		vectors, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), end-start)
		}
		for i, v := range vectors {
			if err := s.checkDimension(start+i, v); err != nil {
				return nil, err
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedOne embeds a single text
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) checkDimension(index int, v []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(v) == 0 {
		return &DimensionError{Index: index, Got: 0, Want: s.dim}
	}
	if s.dim == 0 {
		s.dim = len(v)
		return nil
	}
	if len(v) != s.dim {
		return &DimensionError{Index: index, Got: len(v), Want: s.dim}
	}
	return nil
}
