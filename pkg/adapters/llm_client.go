package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/pkg/adapters/openai"
)

// DefaultLLMClient sends categorization prompts to an OpenAI-compatible chat endpoint
type DefaultLLMClient struct {
	client      openai.LanguageModelClient
	model       string
	maxTokens   int
	temperature *float32 // Optional temperature. If nil, omit from request.
}

const (
	defaultModel       = "gpt-4.1-mini"
	defaultMaxTokens   = 30
	defaultTemperature = float32(0.1)
)

// LLMOptions configures DefaultLLMClient. Zero values select defaults.
type LLMOptions struct {
	APIKey       *string
	Model        string
	BaseURL      string
	MaxTokens    int
	Temperature  *float32
	DumpRequests bool
	Logger       *logger.Logger
}

// NewDefaultLLMClient creates a chat client with the API key from opts or OPENAI_API_KEY.
// The HTTP client makes a single attempt per call; the categorizer owns retries.
func NewDefaultLLMClient(opts LLMOptions) (*DefaultLLMClient, error) {
	key, err := loadEnvVar(opts.APIKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(*key)
	client.RetryConfig.MaxAttempts = 1
	client.DumpRequests = opts.DumpRequests
	client.Logger = opts.Logger
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}

	instance := DefaultLLMClient{
		client:      client,
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		temperature: opts.Temperature,
	}
	if opts.Model != "" {
		instance.model = opts.Model
	}
	if opts.MaxTokens > 0 {
		instance.maxTokens = opts.MaxTokens
	}
	if instance.temperature == nil {
		t := defaultTemperature
		instance.temperature = &t
	}

	return &instance, nil
}

// Model returns the configured model name
func (c *DefaultLLMClient) Model() string {
	return c.model
}

// Complete sends one system+user exchange and returns the raw assistant text
func (c *DefaultLLMClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatMessage{
			{Role: openai.MessageRoleSystem, Content: &system},
			{Role: openai.MessageRoleUser, Content: &user},
		},
		MaxCompletionTokens: c.maxTokens,
		Temperature:         c.temperature,
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to get LLM response: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", &openai.ChatCompletionError{Message: "no response from LLM", Retryable: true}
	}

	return strings.TrimSpace(*resp.Choices[0].Message.Content), nil
}
