package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/services/circuitbreaker"
	"github.com/projecthub/ai-orchestrator/services/providers"
	"github.com/projecthub/ai-orchestrator/services/ratelimit"
	"github.com/projecthub/ai-orchestrator/services/router"
	"github.com/projecthub/ai-orchestrator/utils"
)

// Dispatcher routes one request through the fallback chain
type Dispatcher interface {
	Dispatch(ctx context.Context, req *router.Request) (*router.Result, error)
}

// DispatchRequest is the request body for POST /api/v1/dispatch
type DispatchRequest struct {
	ServiceKey           string   `json:"service_key" validate:"required"`
	ModelType            string   `json:"model_type" validate:"required,oneof=embedding qa classification generation"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	Prompt    string   `json:"prompt,omitempty"`
	Inputs    []string `json:"inputs,omitempty"`
	Normalize bool     `json:"normalize,omitempty"`

	UserID          *uuid.UUID `json:"user_id,omitempty"`
	EstimatedTokens int        `json:"estimated_tokens,omitempty" validate:"gte=0"`
}

// DispatchHandler handles model dispatch HTTP requests
type DispatchHandler struct {
	router Dispatcher
	logger *zap.Logger
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(router Dispatcher, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		router: router,
		logger: logger,
	}
}

// HandleDispatch handles POST /api/v1/dispatch
func (h *DispatchHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var body DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", toDetails(utils.GetValidationFields(err)))
		return
	}

	result, err := h.router.Dispatch(r.Context(), &router.Request{
		ServiceKey:           body.ServiceKey,
		ModelType:            models.ModelType(body.ModelType),
		RequiredCapabilities: body.RequiredCapabilities,
		Prompt:               body.Prompt,
		Inputs:               body.Inputs,
		Normalize:            body.Normalize,
		UserID:               body.UserID,
		EstimatedTokens:      body.EstimatedTokens,
	})
	if err != nil {
		h.writeDispatchError(w, body.ServiceKey, err)
		return
	}

	_ = utils.WriteOK(w, result)
}

// writeDispatchError maps routing errors onto HTTP statuses
func (h *DispatchHandler) writeDispatchError(w http.ResponseWriter, serviceKey string, err error) {
	var (
		noModel   *router.NoEligibleModelError
		budgetErr *router.BudgetExceededError
		exceeded  *ratelimit.ExceededError
		openErr   *circuitbreaker.OpenError
		exhausted *router.FallbackExhaustedError
		provErr   *providers.Error
	)

	switch {
	case errors.As(err, &noModel):
		_ = utils.WriteNotFound(w, noModel.Error())

	case errors.As(err, &budgetErr):
		_ = utils.WritePaymentRequired(w, budgetErr.Error(), map[string]interface{}{
			"spent": budgetErr.Spent,
			"limit": budgetErr.Limit,
		})

	case errors.As(err, &exceeded):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(exceeded)))
		_ = utils.WriteTooManyRequests(w, exceeded.Error(), nil)

	case errors.As(err, &exhausted):
		// A walk cut short by a malformed request is the caller's
		// fault, not an availability problem.
		if provErr, ok := rejectedAsMalformed(exhausted); ok {
			_ = utils.WriteBadRequest(w, provErr.Error(), nil)
			return
		}
		attempts := make([]map[string]interface{}, 0, len(exhausted.Causes))
		for _, c := range exhausted.Causes {
			attempts = append(attempts, map[string]interface{}{
				"model_id": c.ModelID,
				"provider": c.Provider,
				"cause":    c.Cause.Error(),
			})
		}
		_ = utils.WriteServiceUnavailable(w, "All candidate models failed", map[string]interface{}{
			"attempts": attempts,
		})

	case errors.As(err, &openErr):
		_ = utils.WriteServiceUnavailable(w, openErr.Error(), map[string]interface{}{
			"retry_at": openErr.RetryAt,
		})

	case errors.As(err, &provErr) && !provErr.Retryable && provErr.StatusCode == http.StatusBadRequest:
		_ = utils.WriteBadRequest(w, provErr.Error(), nil)

	case errors.As(err, &provErr):
		_ = utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse{
			Error:   "provider_error",
			Message: provErr.Error(),
		})

	default:
		h.logger.Error("dispatch failed",
			zap.String("service_key", serviceKey),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
	}
}

// rejectedAsMalformed reports whether the chain ended because a
// provider rejected the request itself. That cause is always last: the
// router stops walking when it sees one.
func rejectedAsMalformed(exhausted *router.FallbackExhaustedError) (*providers.Error, bool) {
	if len(exhausted.Causes) == 0 {
		return nil, false
	}
	var provErr *providers.Error
	last := exhausted.Causes[len(exhausted.Causes)-1]
	if errors.As(last, &provErr) && !provErr.Retryable && provErr.StatusCode == http.StatusBadRequest {
		return provErr, true
	}
	return nil, false
}

func retryAfterSeconds(e *ratelimit.ExceededError) int {
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func toDetails(fields map[string]string) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return details
}
