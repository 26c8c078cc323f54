package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/services/budget"
	"github.com/projecthub/ai-orchestrator/services/circuitbreaker"
	"github.com/projecthub/ai-orchestrator/services/ledger"
	"github.com/projecthub/ai-orchestrator/services/providers"
	"github.com/projecthub/ai-orchestrator/services/ratelimit"
	"github.com/projecthub/ai-orchestrator/services/registry"
	"github.com/projecthub/ai-orchestrator/services/router"
)

// adminFixture wires real services over in-memory stores behind a chi
// router, mirroring the production route layout.
type adminFixture struct {
	handler *AdminHandler
	mux     *chi.Mux
	breaker *circuitbreaker.Engine
	catalog *registry.Registry
	ledger  *ledger.Service
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	logger := zap.NewNop()

	breaker := circuitbreaker.NewEngine(models.DefaultCircuitBreakerConfig(), logger)
	catalog := registry.NewRegistry(nil, logger)
	usageLedger := ledger.NewService(ledger.NewMemoryStore(), logger)
	limiter := ratelimit.NewService(logger)
	t.Cleanup(limiter.Stop)
	routerService := router.NewService(catalog, breaker, limiter, nopBudget{}, usageLedger, providers.NewSet(), logger)

	handler := NewAdminHandler(breaker, catalog, usageLedger, routerService, nil, logger)

	mux := chi.NewRouter()
	mux.Route("/admin", func(r chi.Router) {
		r.Get("/circuits", handler.HandleListCircuits)
		r.Get("/circuits/{serviceKey}", handler.HandleGetCircuit)
		r.Post("/circuits/{serviceKey}/reset", handler.HandleResetCircuit)
		r.Get("/models", handler.HandleListModels)
		r.Put("/models", handler.HandleUpsertModel)
		r.Patch("/models/{modelID}/availability", handler.HandleSetAvailability)
		r.Get("/performance", handler.HandleListPerformance)
		r.Get("/performance/{modelID}", handler.HandleGetPerformance)
		r.Get("/usage", handler.HandleListUsage)
		r.Get("/services/{serviceKey}/config", handler.HandleGetServiceConfig)
		r.Put("/services/{serviceKey}/config", handler.HandleConfigureService)
	})

	return &adminFixture{
		handler: handler,
		mux:     mux,
		breaker: breaker,
		catalog: catalog,
		ledger:  usageLedger,
	}
}

type nopBudget struct{}

func (nopBudget) Check(context.Context, budget.CheckRequest) (*budget.CheckResult, error) {
	return &budget.CheckResult{Allowed: true}, nil
}

func (f *adminFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestAdmin_CircuitStatusAndReset(t *testing.T) {
	f := newAdminFixture(t)

	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure("projecthub")
	}
	require.Equal(t, circuitbreaker.StateOpen, f.breaker.Status("projecthub").State)

	w := f.do(t, http.MethodGet, "/admin/circuits/projecthub", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "open", data["state"])

	w = f.do(t, http.MethodPost, "/admin/circuits/projecthub/reset", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, circuitbreaker.StateClosed, f.breaker.Status("projecthub").State)
}

func TestAdmin_ListCircuits(t *testing.T) {
	f := newAdminFixture(t)
	f.breaker.RecordFailure("p1")
	f.breaker.RecordFailure("p2")

	w := f.do(t, http.MethodGet, "/admin/circuits", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response["data"], 2)
}

func TestAdmin_UpsertAndListModels(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodPut, "/admin/models", `{
		"model_id": "all-minilm-l6-v2",
		"provider": "projecthub",
		"model_type": "embedding",
		"cost_per_token": 0.0001,
		"max_tokens": 512,
		"quality_score": 0.8,
		"is_available": true,
		"is_active": true
	}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/admin/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response["data"], 1)
}

func TestAdmin_UpsertModelValidationFailure(t *testing.T) {
	f := newAdminFixture(t)

	// quality_score out of range
	w := f.do(t, http.MethodPut, "/admin/models", `{
		"model_id": "m",
		"provider": "p",
		"model_type": "embedding",
		"max_tokens": 512,
		"quality_score": 2.0
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_SetAvailability(t *testing.T) {
	f := newAdminFixture(t)
	require.NoError(t, f.catalog.Upsert(context.Background(), &models.ModelDescriptor{
		ModelID:      "model-a",
		Provider:     "p1",
		ModelType:    models.ModelTypeQA,
		MaxTokens:    512,
		QualityScore: 0.5,
		IsAvailable:  true,
		IsActive:     true,
	}))

	w := f.do(t, http.MethodPatch, "/admin/models/model-a/availability", `{"available": false}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	got, err := f.catalog.Get("model-a")
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)

	w = f.do(t, http.MethodPatch, "/admin/models/missing/availability", `{"available": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Performance(t *testing.T) {
	f := newAdminFixture(t)
	f.ledger.Update(context.Background(), "model-a", ledger.Outcome{Success: true, LatencyMs: 100, Cost: 0.01, Tokens: 50})

	w := f.do(t, http.MethodGet, "/admin/performance/model-a", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total_requests"])

	w = f.do(t, http.MethodGet, "/admin/performance/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/admin/performance", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_UsageUnavailableWithoutStore(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodGet, "/admin/usage", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin_ServiceConfigRoundTrip(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(t, http.MethodPut, "/admin/services/qa-service/config", `{
		"fallback": {"ordered_model_ids": ["model-b", "model-a"], "max_retries": 2},
		"budget": {"max_cost_per_window": 10, "window": "daily", "currency": "USD"}
	}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/admin/services/qa-service/config", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	fallback := data["fallback"].(map[string]interface{})
	assert.Equal(t, float64(2), fallback["max_retries"])
	assert.Equal(t, []interface{}{"model-b", "model-a"}, fallback["ordered_model_ids"])
}
