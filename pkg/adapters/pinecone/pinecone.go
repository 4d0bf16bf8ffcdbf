package pinecone

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// Vector represents a vector with metadata (re-exported from SDK for convenience)
type Vector = pinecone.Vector

// QueryMatch represents a match from query results (re-exported from SDK for convenience)
type QueryMatch = pinecone.ScoredVector

// Metadata represents the metadata for a vector (re-exported from SDK for convenience)
type Metadata = pinecone.Metadata

// pineconeService provides access to Pinecone indexes
type pineconeService struct {
	client *pinecone.Client
}

// indexOperations provides operations for a specific Pinecone index
type indexOperations struct {
	index *pinecone.IndexConnection
}

// NewPineconeService creates a new Pinecone service instance using the official SDK
func NewPineconeService(apiKey string) (*pineconeService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone API key is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pinecone client: %w", err)
	}

	return &pineconeService{client: client}, nil
}

// ForBaseIndex returns an index gateway for the index at host
func (ps *pineconeService) ForBaseIndex(host string, namespace string) (*indexOperations, error) {
	if host == "" {
		return nil, fmt.Errorf("pinecone index host is required")
	}

	conn, err := ps.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &indexOperations{index: conn}, nil
}

// Search performs a vector similarity search in the index
func (idx *indexOperations) Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]QueryMatch, error) {
	queryRequest := &pinecone.QueryByVectorValuesRequest{
		Vector:          queryVector,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: includeMetadata,
	}

	if len(filter) > 0 {
		metadataFilter, err := structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to create metadata filter: %w", err)
		}
		queryRequest.MetadataFilter = metadataFilter
	}

	queryResponse, err := idx.index.QueryByVectorValues(ctx, queryRequest)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryMatch, 0, len(queryResponse.Matches))
	for _, match := range queryResponse.Matches {
		if match != nil {
			matches = append(matches, *match)
		}
	}
	return matches, nil
}

// Upsert stores vectors in the index
func (idx *indexOperations) Upsert(ctx context.Context, vectors []Vector) error {
	pineconeVectors := make([]*pinecone.Vector, len(vectors))
	for i := range vectors {
		pineconeVectors[i] = &vectors[i]
	}

	_, err := idx.index.UpsertVectors(ctx, pineconeVectors)
	return err
}

// Close releases the index connection
func (idx *indexOperations) Close() error {
	return idx.index.Close()
}
