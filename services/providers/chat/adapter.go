// Package chat implements a Provider adapter for OpenAI-compatible
// chat completion APIs. Most self-hosted inference servers (vLLM,
// llama.cpp, Ollama) speak this wire format, so one adapter covers the
// text-shaped model types.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/services/providers"
)

const defaultBaseURL = "http://localhost:8000/v1"

// Config holds the adapter configuration
type Config struct {
	// Name is the provider name registered with the router
	Name string

	// BaseURL of the chat completion API (up to and including /v1)
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout for requests
	Timeout time.Duration

	// MaxRetries for transient upstream failures
	MaxRetries int

	// RetryDelay between retries
	RetryDelay time.Duration
}

// Adapter implements the Provider interface over the OpenAI-compatible
// chat completions endpoint.
type Adapter struct {
	name       string
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new chat completion adapter
func NewAdapter(config Config) *Adapter {
	if config.Name == "" {
		config.Name = "chat"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		name:   config.Name,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke runs one chat completion for the request's prompt.
func (a *Adapter) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	startTime := time.Now()

	if req.ModelType == models.ModelTypeEmbedding {
		return nil, providers.NewError(a.name, "INVALID_MODEL_TYPE",
			fmt.Sprintf("model type %q not supported by chat provider", req.ModelType), 400, false, nil)
	}
	if req.Prompt == "" {
		return nil, providers.NewError(a.name, "EMPTY_PROMPT", "no prompt provided", 400, false, nil)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:     req.ModelID,
		Messages:  []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, providers.NewError(a.name, "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	// Retry transient failures; the body must be rebuilt per attempt.
	var httpResp *http.Response
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, providers.NewError(a.name, "CANCELLED", "request cancelled", 0, false, ctx.Err())
			case <-time.After(a.config.RetryDelay * time.Duration(attempt)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return nil, providers.NewError(a.name, "REQUEST_ERROR", "failed to create request", 0, false, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if a.config.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
		}

		httpResp, lastErr = a.httpClient.Do(httpReq)
		if lastErr == nil && httpResp.StatusCode < 500 {
			break
		}
		if httpResp != nil {
			httpResp.Body.Close()
			httpResp = nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		return nil, providers.NewError(a.name, "HTTP_ERROR", "HTTP request failed", 0, true, lastErr)
	}
	if httpResp == nil {
		return nil, providers.NewError(a.name, "UPSTREAM_ERROR", "chat service unavailable", http.StatusServiceUnavailable, true, nil)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewError(a.name, "READ_ERROR", "failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewError(a.name, "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, false, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, providers.NewError(a.name, "EMPTY_RESPONSE", "no choices returned", httpResp.StatusCode, false, nil)
	}

	tokens := chatResp.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(req.Prompt, chatResp.Choices[0].Message.Content)
	}

	return &providers.Response{
		ID:         uuid.NewString(),
		ModelID:    req.ModelID,
		Provider:   a.name,
		Content:    chatResp.Choices[0].Message.Content,
		TokensUsed: tokens,
		Latency:    time.Since(startTime),
		Created:    time.Now().UTC(),
	}, nil
}

// Healthy checks the models listing endpoint.
func (a *Adapter) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	message := "chat request failed"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return providers.NewError(a.name, "RATE_LIMITED", message, statusCode, true, nil)
	case statusCode >= 500:
		return providers.NewError(a.name, "UPSTREAM_ERROR", message, statusCode, true, nil)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return providers.NewError(a.name, "AUTH_ERROR", message, statusCode, false, nil)
	case statusCode == http.StatusBadRequest:
		return providers.NewError(a.name, "INVALID_REQUEST", message, statusCode, false, nil)
	default:
		return providers.NewError(a.name, "UNEXPECTED_STATUS", message, statusCode, false, nil)
	}
}

// estimateTokens approximates usage when the upstream omits it,
// 4 chars per token over prompt plus completion.
func estimateTokens(prompt, completion string) int {
	n := (len(prompt) + len(completion)) / 4
	if n < 1 {
		n = 1
	}
	return n
}
