package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/ryanburden/mercari-buddy/internal/retry"
)

const openaiBaseURL = "https://api.openai.com/v1"

// Creates a new OpenAIClient
func NewClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		APIKey:      apiKey,
		HTTPClient:  http.DefaultClient,
		RetryConfig: retry.DefaultConfig(),
		BaseURL:     openaiBaseURL,
	}
}

var (
	_ LanguageModelClient  = (*OpenAIClient)(nil)
	_ EmbeddingModelClient = (*OpenAIClient)(nil)
)

// Sends a chat completion request to OpenAI with retry logic
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	bodyBytes, err := c.createAndRunRetryableRequest(ctx, c.BaseURL+"/chat/completions", req, "chat")
	if err != nil {
		return nil, err
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return nil, &ChatCompletionError{
			Message:   fmt.Sprintf("failed to parse chat completion response: %v", err),
			RawBody:   json.RawMessage(bodyBytes),
			Retryable: true,
		}
	}
	return &chatResp, nil
}

// Embeddings requests vectors for req.Input. The returned data is ordered like the input.
func (c *OpenAIClient) Embeddings(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	bodyBytes, err := c.createAndRunRetryableRequest(ctx, c.BaseURL+"/embeddings", req, "embeddings")
	if err != nil {
		return nil, err
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, &ChatCompletionError{
			Message:   fmt.Sprintf("failed to parse embeddings response: %v", err),
			RawBody:   json.RawMessage(bodyBytes),
			Retryable: true,
		}
	}
	if len(embResp.Data) != len(req.Input) {
		return nil, fmt.Errorf("embeddings response has %d items for %d inputs", len(embResp.Data), len(req.Input))
	}
	sort.Slice(embResp.Data, func(i, j int) bool { return embResp.Data[i].Index < embResp.Data[j].Index })
	return &embResp, nil
}

// Sets the base URL for the OpenAI client
func (c *OpenAIClient) SetBaseURL(baseUrl string) {
	c.BaseURL = baseUrl
}
