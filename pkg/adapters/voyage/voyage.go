// Package voyage embeds product titles with the Voyage AI API.
package voyage

import (
	"context"
	"fmt"

	"github.com/austinfhunter/voyageai"
)

const (
	DefaultModel      = "voyage-3.5-lite"
	DefaultDimensions = 1024
)

// InputType tells Voyage how the text will be used
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
	InputNone     InputType = ""
)

// Client generates title embeddings
type Client struct {
	client     *voyageai.VoyageClient
	model      string
	dimensions int
}

// New creates a client. An empty model or zero dimensions selects the defaults.
func New(apiKey, model string, dimensions int) *Client {
	if model == "" {
		model = DefaultModel
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Client{
		client:     voyageai.NewClient(&voyageai.VoyageClientOpts{Key: apiKey}),
		model:      model,
		dimensions: dimensions,
	}
}

func (c *Client) Model() string   { return c.model }
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns one vector per text, in input order
func (c *Client) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dimensions := c.dimensions
	opts := &voyageai.EmbeddingRequestOpts{OutputDimension: &dimensions}
	if inputType != InputNone {
		kind := string(inputType)
		opts.InputType = &kind
	}

	resp, err := c.client.Embed(texts, c.model, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d titles with %s: %w", len(texts), c.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("voyage returned %d embeddings for %d titles", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, obj := range resp.Data {
		if len(obj.Embedding) != dimensions {
			return nil, fmt.Errorf("voyage returned a %d-dimensional embedding, want %d", len(obj.Embedding), dimensions)
		}
		out[i] = obj.Embedding
	}
	return out, nil
}
