package embedding

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

const (
	defaultBaseURL = "http://localhost:8001"

	// maxBatchTexts mirrors the upstream per-request cap.
	maxBatchTexts = 100
)

// Config holds the adapter configuration
type Config struct {
	// Name overrides the provider name (default "projecthub")
	Name string

	// BaseURL of the embedding service
	BaseURL string

	// Timeout for requests
	Timeout time.Duration

	// MaxRetries for transient upstream failures
	MaxRetries int

	// RetryDelay between retries
	RetryDelay time.Duration
}

// Adapter implements the Provider interface against the ProjectHub
// embedding service (sentence-transformers behind a small HTTP API).
type Adapter struct {
	name       string
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new embedding service adapter
func NewAdapter(config Config) *Adapter {
	if config.Name == "" {
		config.Name = "projecthub"
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

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Invoke generates embeddings for the request's input batch.
func (a *Adapter) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	startTime := time.Now()

	if req.ModelType != models.ModelTypeEmbedding {
		return nil, providers.NewError(a.name, "INVALID_MODEL_TYPE",
			fmt.Sprintf("model type %q not supported by embedding provider", req.ModelType), 400, false, nil)
	}
	if len(req.Inputs) == 0 {
		return nil, providers.NewError(a.name, "EMPTY_INPUT", "no texts provided", 400, false, nil)
	}
	if len(req.Inputs) > maxBatchTexts {
		return nil, providers.NewError(a.name, "BATCH_TOO_LARGE",
			fmt.Sprintf("maximum %d texts per request", maxBatchTexts), 400, false, nil)
	}

	reqBody, err := json.Marshal(embedRequest{Texts: req.Inputs, Normalize: req.Normalize})
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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/embed", bytes.NewReader(reqBody))
		if err != nil {
			return nil, providers.NewError(a.name, "REQUEST_ERROR", "failed to create request", 0, false, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, providers.NewError(a.name, "UPSTREAM_ERROR", "embedding service unavailable", http.StatusServiceUnavailable, true, nil)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewError(a.name, "READ_ERROR", "failed to read response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var embedResp embedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, providers.NewError(a.name, "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return &providers.Response{
		ID:         uuid.NewString(),
		ModelID:    req.ModelID,
		Provider:   a.name,
		Embeddings: embedResp.Embeddings,
		Dimensions: embedResp.Dimensions,
		TokensUsed: estimateTokens(req.Inputs),
		Latency:    time.Since(startTime),
		Created:    time.Now().UTC(),
	}, nil
}

// Healthy checks the embedding service health endpoint.
func (a *Adapter) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/health", nil)
	if err != nil {
		return false
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
	message := "embedding request failed"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
		message = errResp.Detail
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return providers.NewError(a.name, "RATE_LIMITED", message, statusCode, true, nil)
	case statusCode == http.StatusServiceUnavailable:
		return providers.NewError(a.name, "MODEL_NOT_LOADED", message, statusCode, true, nil)
	case statusCode >= 500:
		return providers.NewError(a.name, "UPSTREAM_ERROR", message, statusCode, true, nil)
	case statusCode == http.StatusBadRequest:
		return providers.NewError(a.name, "INVALID_REQUEST", message, statusCode, false, nil)
	default:
		return providers.NewError(a.name, "UNEXPECTED_STATUS", message, statusCode, false, nil)
	}
}

// estimateTokens approximates the billable token count for a batch.
// The upstream service does not report usage, so a 4-chars-per-token
// heuristic is applied, one token minimum per text.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		n := len(t) / 4
		if n < 1 {
			n = 1
		}
		total += n
	}
	return total
}
