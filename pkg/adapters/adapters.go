package adapters

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/openai"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/pinecone"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/voyage"
	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/embedding"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// VoyageEmbeddingAdapter adapts the Voyage client to embedding.Embedder
type VoyageEmbeddingAdapter struct {
	client interface {
		Embed(ctx context.Context, texts []string, inputType voyage.InputType) ([][]float32, error)
	}
}

var _ embedding.Embedder = (*VoyageEmbeddingAdapter)(nil)

// NewVoyageEmbeddingAdapter creates a new adapter for Voyage AI. dimensions 0 keeps the model default.
func NewVoyageEmbeddingAdapter(apiKey *string, model string, dimensions int) (*VoyageEmbeddingAdapter, error) {
	key, err := loadEnvVar(apiKey, "VOYAGEAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return &VoyageEmbeddingAdapter{client: voyage.New(*key, model, dimensions)}, nil
}

// Embed implements embedding.Embedder
func (a *VoyageEmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.Embed(ctx, texts, voyage.InputDocument)
}

// OpenAIEmbeddingAdapter adapts the OpenAI embeddings endpoint to embedding.Embedder
type OpenAIEmbeddingAdapter struct {
	client     openai.EmbeddingModelClient
	model      string
	dimensions int
}

var _ embedding.Embedder = (*OpenAIEmbeddingAdapter)(nil)

const defaultEmbeddingModel = "text-embedding-3-small"

// NewOpenAIEmbeddingAdapter creates an embedder using OPENAI_API_KEY when apiKey is nil
func NewOpenAIEmbeddingAdapter(apiKey *string, model string, dimensions int, log *logger.Logger) (*OpenAIEmbeddingAdapter, error) {
	key, err := loadEnvVar(apiKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(*key)
	client.Logger = log
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIEmbeddingAdapter{client: client, model: model, dimensions: dimensions}, nil
}

// Embed implements embedding.Embedder
func (a *OpenAIEmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.Embeddings(ctx, openai.EmbeddingRequest{
		Model:      a.model,
		Input:      texts,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// PineconeVectorAdapter stores cache embeddings in a Pinecone index and serves
// similarity lookups for the cache
type PineconeVectorAdapter struct {
	index interface {
		Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]pinecone.QueryMatch, error)
		Upsert(ctx context.Context, vectors []pinecone.Vector) error
	}
	topK int
}

var _ cache.VectorIndex = (*PineconeVectorAdapter)(nil)

// namespace for deterministic vector IDs derived from normalized keys
var vectorIDSpace = uuid.MustParse("6f1c1b6e-3c55-4f0e-9a43-5a3f0b7c2d11")

// NewPineconeVectorAdapter creates a new adapter for Pinecone
func NewPineconeVectorAdapter(apiKey *string, host *string, namespace string) (*PineconeVectorAdapter, error) {
	key, err := loadEnvVar(apiKey, "PINECONE_API_KEY")
	if err != nil {
		return nil, err
	}

	h, err := loadEnvVar(host, "PINECONE_HOST")
	if err != nil {
		return nil, err
	}

	client, err := pinecone.NewPineconeService(*key)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone service: %w", err)
	}

	index, err := client.ForBaseIndex(*h, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &PineconeVectorAdapter{index: index, topK: 5}, nil
}

// Add implements cache.VectorIndex
func (a *PineconeVectorAdapter) Add(ctx context.Context, key string, seq int64, vec []float32) error {
	metadataStruct, err := structpb.NewStruct(map[string]any{
		"key": key,
		"seq": float64(seq),
	})
	if err != nil {
		return err
	}

	return a.index.Upsert(ctx, []pinecone.Vector{{
		Id:     VectorID(key),
		Values: vec,
		Metadata: &pinecone.Metadata{
			Fields: metadataStruct.Fields,
		},
	}})
}

// Nearest implements cache.VectorIndex
func (a *PineconeVectorAdapter) Nearest(ctx context.Context, vec []float32) (cache.Neighbor, bool, error) {
	matches, err := a.index.Search(ctx, vec, a.topK, nil, true)
	if err != nil {
		return cache.Neighbor{}, false, err
	}

	results := make([]types.VectorMatch, 0, len(matches))
	for _, match := range matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		results = append(results, types.VectorMatch{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: metadata,
		})
	}

	n, ok := pickNearest(results)
	return n, ok, nil
}

// Persistent implements cache.VectorIndex; the remote index outlives the process
func (a *PineconeVectorAdapter) Persistent() bool { return true }

// VectorID derives a stable Pinecone ID from a normalized key
func VectorID(key string) string {
	return uuid.NewSHA1(vectorIDSpace, []byte(key)).String()
}

// pickNearest selects the best scoring match, breaking ties by the lowest seq
func pickNearest(matches []types.VectorMatch) (cache.Neighbor, bool) {
	var best cache.Neighbor
	found := false
	for _, m := range matches {
		key, _ := m.Metadata["key"].(string)
		if key == "" {
			continue
		}
		seq := int64(0)
		if f, ok := m.Metadata["seq"].(float64); ok {
			seq = int64(f)
		}
		if !found || m.Score > best.Score || (m.Score == best.Score && seq < best.Seq) {
			best = cache.Neighbor{Key: key, Score: m.Score, Seq: seq}
			found = true
		}
	}
	return best, found
}

// loadEnvVar loads an environment variable into a pointer if no value is provided
func loadEnvVar(target *string, envKey string) (*string, error) {
	if target == nil || *target == "" {
		envVar := os.Getenv(envKey)
		if envVar == "" {
			return nil, fmt.Errorf("%s environment variable not set and no value provided", envKey)
		}
		return &envVar, nil
	}
	return target, nil
}
