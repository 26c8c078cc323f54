package providers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/ai-orchestrator/models"
)

// Provider represents a unified AI provider interface
type Provider interface {
	// Name returns the provider name (e.g., "projecthub", "openai")
	Name() string

	// Invoke performs a single model call
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// Healthy checks if the provider is currently reachable
	Healthy(ctx context.Context) bool
}

// Request represents a unified model invocation request
type Request struct {
	// ModelID identifies the catalog model to invoke
	ModelID string `json:"model_id"`

	// ModelType selects the invocation shape (embedding, qa, ...)
	ModelType models.ModelType `json:"model_type"`

	// Prompt is the input for text-shaped model types
	Prompt string `json:"prompt,omitempty"`

	// Inputs is the input batch for embedding-shaped model types
	Inputs []string `json:"inputs,omitempty"`

	// Normalize requests unit-length embedding vectors
	Normalize bool `json:"normalize,omitempty"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// UserID identifies the requesting user for accounting
	UserID *uuid.UUID `json:"user_id,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response represents a unified model invocation response
type Response struct {
	// ID is the unique identifier for this invocation
	ID string `json:"id"`

	// ModelID that produced the response
	ModelID string `json:"model_id"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Content holds the text output for text-shaped model types
	Content string `json:"content,omitempty"`

	// Embeddings holds the vector output for embedding requests
	Embeddings [][]float64 `json:"embeddings,omitempty"`

	// Dimensions is the embedding vector width
	Dimensions int `json:"dimensions,omitempty"`

	// TokensUsed is the billable token count for this call
	TokensUsed int `json:"tokens_used"`

	// Latency of the upstream request
	Latency time.Duration `json:"latency"`

	// Created timestamp
	Created time.Time `json:"created"`
}

// Error represents an error from a provider
type Error struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if a fallback candidate may still succeed
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new provider error
func NewError(provider, code, message string, statusCode int, retryable bool, cause error) *Error {
	return &Error{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if provErr, ok := err.(*Error); ok {
		return provErr.Retryable
	}
	return false
}
