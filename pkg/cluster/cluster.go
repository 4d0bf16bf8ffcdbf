// Package cluster groups title embeddings into dense regions. Clustering is a whole-corpus
// batch computation: labels are only meaningful within the batch that produced them.
package cluster

import (
	"context"
	"fmt"

	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// Clusterer assigns one label per vector, types.NoiseLabel for points outside any cluster
type Clusterer interface {
	Cluster(ctx context.Context, vectors [][]float32) ([]int, error)
}

// Func adapts a plain function to Clusterer
type Func func(ctx context.Context, vectors [][]float32) ([]int, error)

func (f Func) Cluster(ctx context.Context, vectors [][]float32) ([]int, error) {
	return f(ctx, vectors)
}

// AllNoise labels n points as noise
func AllNoise(n int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = types.NoiseLabel
	}
	return labels
}

// Fixed returns a Clusterer that always answers with a copy of labels. Useful as a
// deterministic stand-in.
func Fixed(labels []int) Clusterer {
	return Func(func(ctx context.Context, vectors [][]float32) ([]int, error) {
		if len(vectors) != len(labels) {
			return nil, fmt.Errorf("fixed clusterer has %d labels for %d vectors", len(labels), len(vectors))
		}
		return append([]int(nil), labels...), nil
	})
}

// Sizes counts members per label, noise excluded
func Sizes(labels []int) map[int]int {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l != types.NoiseLabel {
			sizes[l]++
		}
	}
	return sizes
}
