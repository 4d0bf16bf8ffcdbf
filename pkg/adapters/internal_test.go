package adapters

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ryanburden/mercari-buddy/internal/retry"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/openai"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/pinecone"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/voyage"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// Tests for unexported fields and helpers; these live in the package to inject fakes

type mockLLMOpenAIClient struct {
	chatCompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
	lastRequest        openai.ChatCompletionRequest
}

func (m *mockLLMOpenAIClient) ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	m.lastRequest = req
	return m.chatCompletionFunc(ctx, req)
}

func (m *mockLLMOpenAIClient) SetBaseURL(baseUrl string) {}

func replyWith(content *string) func(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	return func(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
		return &openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: content}}},
		}, nil
	}
}

func TestDefaultLLMClient_Complete_Internal(t *testing.T) {
	responseContent := "  Electronics|Mobile Phones\n"
	mockClient := &mockLLMOpenAIClient{chatCompletionFunc: replyWith(&responseContent)}
	temp := float32(0.1)
	client := &DefaultLLMClient{client: mockClient, model: defaultModel, maxTokens: defaultMaxTokens, temperature: &temp}

	text, err := client.Complete(context.Background(), "system prompt", "Product: iphone 13")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if text != "Electronics|Mobile Phones" {
		t.Errorf("Expected trimmed response, got %q", text)
	}

	req := mockClient.lastRequest
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.MessageRoleSystem || *req.Messages[1].Content != "Product: iphone 13" {
		t.Errorf("Unexpected messages: %+v", req.Messages)
	}
	if req.Model != defaultModel || req.MaxCompletionTokens != defaultMaxTokens {
		t.Errorf("Unexpected model settings: %s / %d", req.Model, req.MaxCompletionTokens)
	}
}

func TestDefaultLLMClient_Complete_Error_Internal(t *testing.T) {
	mockClient := &mockLLMOpenAIClient{
		chatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
			return nil, &openai.ChatCompletionError{Message: "openai chat API error 401", StatusCode: 401}
		},
	}
	client := &DefaultLLMClient{client: mockClient}

	_, err := client.Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "failed to get LLM response") {
		t.Fatalf("Expected wrapped error, got: %v", err)
	}
	if retry.ClassifyError(context.Background(), err) != retry.Permanent {
		t.Error("Expected wrapped 401 to stay permanent")
	}
}

func TestDefaultLLMClient_Complete_EmptyChoices_Internal(t *testing.T) {
	mockClient := &mockLLMOpenAIClient{
		chatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
			return &openai.ChatCompletionResponse{}, nil
		},
	}
	client := &DefaultLLMClient{client: mockClient}

	_, err := client.Complete(context.Background(), "s", "u")
	var chatErr *openai.ChatCompletionError
	if !errors.As(err, &chatErr) {
		t.Fatalf("Expected ChatCompletionError, got %v", err)
	}
	if retry.ClassifyError(context.Background(), err) != retry.Transient {
		t.Error("Expected empty response to be retryable")
	}
}

type fakeVoyage struct {
	texts []string
	kind  voyage.InputType
}

func (f *fakeVoyage) Embed(ctx context.Context, texts []string, kind voyage.InputType) ([][]float32, error) {
	f.texts, f.kind = texts, kind
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func TestVoyageEmbeddingAdapter_Internal(t *testing.T) {
	fake := &fakeVoyage{}
	adapter := &VoyageEmbeddingAdapter{client: fake}

	vectors, err := adapter.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 1 {
		t.Errorf("Unexpected vectors %v", vectors)
	}
	if fake.kind != voyage.InputDocument {
		t.Errorf("Expected document input type, got %q", fake.kind)
	}
}

type fakeIndex struct {
	upserted []pinecone.Vector
	matches  []pinecone.QueryMatch
}

func (f *fakeIndex) Search(ctx context.Context, queryVector []float32, topK int, filter map[string]any, includeMetadata bool) ([]pinecone.QueryMatch, error) {
	return f.matches, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, vectors []pinecone.Vector) error {
	f.upserted = append(f.upserted, vectors...)
	return nil
}

func TestPineconeVectorAdapter_Add_Internal(t *testing.T) {
	idx := &fakeIndex{}
	adapter := &PineconeVectorAdapter{index: idx, topK: 5}

	if err := adapter.Add(context.Background(), "nike air max", 7, []float32{1, 0}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(idx.upserted) != 1 {
		t.Fatalf("Expected 1 upsert, got %d", len(idx.upserted))
	}
	v := idx.upserted[0]
	if v.Id != VectorID("nike air max") {
		t.Errorf("Unexpected vector id %q", v.Id)
	}
	meta := v.Metadata.AsMap()
	if meta["key"] != "nike air max" || meta["seq"] != float64(7) {
		t.Errorf("Unexpected metadata %v", meta)
	}
	if !adapter.Persistent() {
		t.Error("Expected pinecone index to be persistent")
	}
}

func TestPickNearest(t *testing.T) {
	matches := []types.VectorMatch{
		{ID: "a", Score: 0.91, Metadata: map[string]any{"key": "later", "seq": float64(9)}},
		{ID: "b", Score: 0.91, Metadata: map[string]any{"key": "earlier", "seq": float64(2)}},
		{ID: "c", Score: 0.80, Metadata: map[string]any{"key": "worse", "seq": float64(0)}},
		{ID: "d", Score: 0.99, Metadata: map[string]any{}},
	}

	n, ok := pickNearest(matches)
	if !ok {
		t.Fatal("Expected a match")
	}
	if n.Key != "earlier" || n.Seq != 2 {
		t.Errorf("Expected tie to resolve to lowest seq, got %+v", n)
	}

	if _, ok := pickNearest(nil); ok {
		t.Error("Expected no match for empty input")
	}
}

func TestVectorID_Stable(t *testing.T) {
	if VectorID("x") != VectorID("x") {
		t.Error("Expected deterministic IDs")
	}
	if VectorID("x") == VectorID("y") {
		t.Error("Expected distinct IDs for distinct keys")
	}
}
