package router

import (
	"fmt"
	"strings"

	"github.com/projecthub/ai-orchestrator/models"
)

// NoEligibleModelError is returned when the catalog has no active,
// available model matching the request.
type NoEligibleModelError struct {
	ModelType            models.ModelType
	RequiredCapabilities []string
}

func (e *NoEligibleModelError) Error() string {
	if len(e.RequiredCapabilities) == 0 {
		return fmt.Sprintf("no eligible model for type %q", e.ModelType)
	}
	return fmt.Sprintf("no eligible model for type %q with capabilities [%s]",
		e.ModelType, strings.Join(e.RequiredCapabilities, ", "))
}

// BudgetExceededError is returned when every candidate was blocked by
// the user's budget before any provider call was made.
type BudgetExceededError struct {
	Spent  float64
	Limit  float64
	Reason string
}

func (e *BudgetExceededError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("budget exceeded: spent %.4f of %.4f", e.Spent, e.Limit)
}

// AttemptError records why one fallback candidate did not serve the
// request.
type AttemptError struct {
	ModelID  string
	Provider string
	Cause    error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.ModelID, e.Provider, e.Cause)
}

func (e *AttemptError) Unwrap() error {
	return e.Cause
}

// FallbackExhaustedError is returned when the full candidate chain was
// tried and nothing served the request. Causes holds one entry per
// candidate, in attempt order.
type FallbackExhaustedError struct {
	ServiceKey string
	Causes     []*AttemptError
}

func (e *FallbackExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("all candidates exhausted for service %q: [%s]",
		e.ServiceKey, strings.Join(parts, "; "))
}
