package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/services/providers"
)

func embedServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Adapter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := NewAdapter(Config{
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})
	return server, adapter
}

func TestAdapter_Invoke_Success(t *testing.T) {
	_, adapter := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello world", "second text"}, req.Texts)
		assert.True(t, req.Normalize)

		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.1, 0.2}, {0.3, 0.4}},
			Model:      "all-MiniLM-L6-v2",
			Dimensions: 2,
		})
	})

	resp, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "all-minilm-l6-v2",
		ModelType: models.ModelTypeEmbedding,
		Inputs:    []string{"hello world", "second text"},
		Normalize: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "projecthub", resp.Provider)
	assert.Equal(t, "all-minilm-l6-v2", resp.ModelID)
	assert.Len(t, resp.Embeddings, 2)
	assert.Equal(t, 2, resp.Dimensions)
	assert.Positive(t, resp.TokensUsed)
	assert.NotEmpty(t, resp.ID)
}

func TestAdapter_Invoke_RejectsWrongModelType(t *testing.T) {
	adapter := NewAdapter(Config{BaseURL: "http://unused"})

	_, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "gpt-4o-mini",
		ModelType: models.ModelTypeQA,
		Prompt:    "what is this",
	})

	var provErr *providers.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "INVALID_MODEL_TYPE", provErr.Code)
	assert.False(t, provErr.Retryable)
}

func TestAdapter_Invoke_RejectsEmptyBatch(t *testing.T) {
	adapter := NewAdapter(Config{BaseURL: "http://unused"})

	_, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "m",
		ModelType: models.ModelTypeEmbedding,
	})

	var provErr *providers.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "EMPTY_INPUT", provErr.Code)
}

func TestAdapter_Invoke_RejectsOversizedBatch(t *testing.T) {
	adapter := NewAdapter(Config{BaseURL: "http://unused"})

	texts := make([]string, maxBatchTexts+1)
	for i := range texts {
		texts[i] = "t"
	}

	_, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "m",
		ModelType: models.ModelTypeEmbedding,
		Inputs:    texts,
	})

	var provErr *providers.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "BATCH_TOO_LARGE", provErr.Code)
	assert.False(t, provErr.Retryable)
}

func TestAdapter_Invoke_UpstreamErrorIsRetryable(t *testing.T) {
	_, adapter := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(errorResponse{Detail: "Model not loaded"})
	})

	_, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "m",
		ModelType: models.ModelTypeEmbedding,
		Inputs:    []string{"x"},
	})

	var provErr *providers.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "MODEL_NOT_LOADED", provErr.Code)
	assert.True(t, provErr.Retryable)
	assert.Contains(t, provErr.Message, "Model not loaded")
	assert.True(t, providers.IsRetryable(err))
}

func TestAdapter_Invoke_BadRequestNotRetryable(t *testing.T) {
	_, adapter := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{Detail: "No texts provided"})
	})

	_, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "m",
		ModelType: models.ModelTypeEmbedding,
		Inputs:    []string{"x"},
	})

	var provErr *providers.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "INVALID_REQUEST", provErr.Code)
	assert.False(t, provErr.Retryable)
}

func TestAdapter_Invoke_RetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.1}},
			Dimensions: 1,
		})
	}))
	defer server.Close()

	adapter := NewAdapter(Config{
		BaseURL:    server.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	resp, err := adapter.Invoke(context.Background(), &providers.Request{
		ModelID:   "m",
		ModelType: models.ModelTypeEmbedding,
		Inputs:    []string{"x"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, resp.Embeddings, 1)
}

func TestAdapter_Healthy(t *testing.T) {
	_, adapter := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "model_loaded": true})
	})

	assert.True(t, adapter.Healthy(context.Background()))
}

func TestAdapter_HealthyFalseWhenDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	server.Close()

	adapter := NewAdapter(Config{BaseURL: server.URL, Timeout: 500 * time.Millisecond})
	assert.False(t, adapter.Healthy(context.Background()))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, estimateTokens([]string{"ab"}))
	assert.Equal(t, 3, estimateTokens([]string{strings.Repeat("a", 12)}))
	assert.Equal(t, 4, estimateTokens([]string{strings.Repeat("a", 12), "hi"}))
}
