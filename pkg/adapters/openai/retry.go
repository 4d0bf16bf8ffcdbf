package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryanburden/mercari-buddy/internal/logger"
	"github.com/ryanburden/mercari-buddy/internal/retry"
)

const dumpDir = "debug_llm_requests"

func (c *OpenAIClient) log() *logger.Logger {
	if c.Logger == nil {
		return logger.Nop()
	}
	return c.Logger
}

// classifyResponse decides whether a completed HTTP exchange should be retried
func classifyResponse(statusCode int, responseBody []byte) retry.Outcome {
	// failed_generation can arrive with 200 OK
	if statusCode == http.StatusOK && responseBody != nil {
		var errorResp ErrorResponse
		if json.Unmarshal(responseBody, &errorResp) == nil && errorResp.Error.FailedGeneration != "" {
			return retry.Transient
		}
		if strings.Contains(string(responseBody), "failed_generation") {
			return retry.Transient
		}
	}
	return retry.ClassifyStatus(statusCode)
}

// createAndRunRetryableRequest executes an HTTP request with retry logic
func (c *OpenAIClient) createAndRunRetryableRequest(ctx context.Context, url string, requestBody any, apiName string) ([]byte, error) {
	opts := retry.Options{
		Config:  c.RetryConfig,
		Logger:  c.log().Warn,
		APIName: "OpenAI " + apiName,
	}

	var body []byte
	attemptFn := c.buildAttemptFn(url, requestBody, apiName, &body)

	res := retry.Execute(ctx, opts, attemptFn)
	if res.Outcome != retry.Success {
		return nil, res.Err
	}
	return body, nil
}

// buildAttemptFn builds a single HTTP attempt that stores a successful body in out
func (c *OpenAIClient) buildAttemptFn(url string, requestBody any, apiName string, out *[]byte) retry.AttemptFunc {
	return func(ctx context.Context, attempt int) (retry.Outcome, error) {
		body, err := json.Marshal(requestBody)
		if err != nil {
			return retry.Permanent, fmt.Errorf("failed to marshal %s request: %w", apiName, err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
		if err != nil {
			return retry.Permanent, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			return retry.ClassifyError(ctx, err), err
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Transient, fmt.Errorf("failed to read %s response body: %w", apiName, err)
		}

		if chatReq, ok := requestBody.(ChatCompletionRequest); c.DumpRequests && ok {
			c.saveResponseToFile(chatReq.Model, chatReq, bodyBytes, resp.StatusCode)
		}

		outcome := classifyResponse(resp.StatusCode, bodyBytes)
		if outcome != retry.Success {
			return outcome, &ChatCompletionError{
				Message:    fmt.Sprintf("openai %s API error %d", apiName, resp.StatusCode),
				StatusCode: resp.StatusCode,
				RawBody:    json.RawMessage(bodyBytes),
				Retryable:  outcome == retry.Transient,
			}
		}

		*out = bodyBytes
		return retry.Success, nil
	}
}

// saveResponseToFile saves the request/response to a file for debugging purposes
func (c *OpenAIClient) saveResponseToFile(model string, req ChatCompletionRequest, bodyBytes []byte, statusCode int) {
	timestamp := time.Now().Format("20060102_150405")
	random := uuid.New().String()[:8]
	filename := fmt.Sprintf("openai_req_%s_%s.json", timestamp, random)

	modelDir := filepath.Join(dumpDir, model)
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		c.log().Warn("failed to create dump directory", "dir", modelDir, "error", err)
		return
	}

	var responseBody any
	if err := json.Unmarshal(bodyBytes, &responseBody); err != nil {
		responseBody = string(bodyBytes)
	}

	jsonData, err := json.MarshalIndent(map[string]any{
		"request":  req,
		"response": responseBody,
		"status":   statusCode,
	}, "", "  ")
	if err != nil {
		c.log().Warn("failed to marshal dump", "error", err)
		return
	}

	path := filepath.Join(modelDir, filename)
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		c.log().Warn("failed to write dump", "path", path, "error", err)
	}
}
