package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashingDimension is the vector length of HashingEmbedder when unset
const DefaultHashingDimension = 256

// HashingEmbedder is an offline, deterministic embedder using signed feature hashing of
// word tokens and character trigrams. Titles sharing words land close together.
type HashingEmbedder struct {
	Dimension int
}

var _ Embedder = HashingEmbedder{}

func (h HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	dim := h.Dimension
	if dim <= 0 {
		dim = DefaultHashingDimension
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashVector(text, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, word := range strings.Fields(text) {
		addFeature(v, "w:"+word, 1.0)

		padded := []rune("^" + word + "$")
		for i := 0; i+3 <= len(padded); i++ {
			addFeature(v, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// empty text still needs a valid, non-zero vector
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func addFeature(v []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(len(v)))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
