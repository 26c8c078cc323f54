package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
	"github.com/projecthub/ai-orchestrator/services/circuitbreaker"
	"github.com/projecthub/ai-orchestrator/services/ledger"
	"github.com/projecthub/ai-orchestrator/services/registry"
	"github.com/projecthub/ai-orchestrator/services/router"
	"github.com/projecthub/ai-orchestrator/utils"
)

// AdminHandler exposes the operational surface: circuits, the model
// catalog, performance rollups and recent usage.
type AdminHandler struct {
	breaker *circuitbreaker.Engine
	catalog *registry.Registry
	ledger  *ledger.Service
	router  *router.Service
	usage   repositories.UsageRepository
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. usage may be nil when no
// durable store is configured; the usage listing then reports 503.
func NewAdminHandler(
	breaker *circuitbreaker.Engine,
	catalog *registry.Registry,
	usageLedger *ledger.Service,
	routerService *router.Service,
	usage repositories.UsageRepository,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		breaker: breaker,
		catalog: catalog,
		ledger:  usageLedger,
		router:  routerService,
		usage:   usage,
		logger:  logger,
	}
}

// HandleListCircuits handles GET /admin/circuits
func (h *AdminHandler) HandleListCircuits(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.breaker.AllStatuses())
}

// HandleGetCircuit handles GET /admin/circuits/{serviceKey}
func (h *AdminHandler) HandleGetCircuit(w http.ResponseWriter, r *http.Request) {
	serviceKey := chi.URLParam(r, "serviceKey")
	_ = utils.WriteOK(w, h.breaker.Status(serviceKey))
}

// HandleResetCircuit handles POST /admin/circuits/{serviceKey}/reset
func (h *AdminHandler) HandleResetCircuit(w http.ResponseWriter, r *http.Request) {
	serviceKey := chi.URLParam(r, "serviceKey")
	h.breaker.Reset(serviceKey)

	h.logger.Info("circuit manually reset", zap.String("service_key", serviceKey))
	_ = utils.WriteOK(w, h.breaker.Status(serviceKey))
}

// HandleListModels handles GET /admin/models
func (h *AdminHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.catalog.List())
}

// HandleUpsertModel handles PUT /admin/models
func (h *AdminHandler) HandleUpsertModel(w http.ResponseWriter, r *http.Request) {
	var d models.ModelDescriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}

	if err := h.catalog.Upsert(r.Context(), &d); err != nil {
		if utils.IsValidationError(err) {
			_ = utils.WriteBadRequest(w, "Validation failed", toDetails(utils.GetValidationFields(err)))
			return
		}
		h.logger.Error("failed to upsert model", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, d)
}

// availabilityRequest is the body for PATCH /admin/models/{modelID}/availability
type availabilityRequest struct {
	Available bool `json:"available"`
}

// HandleSetAvailability handles PATCH /admin/models/{modelID}/availability
func (h *AdminHandler) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")

	var body availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}

	if err := h.catalog.SetAvailability(r.Context(), modelID, body.Available); err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			_ = utils.WriteNotFound(w, "Model not found: "+modelID)
			return
		}
		h.logger.Error("failed to set model availability", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleListPerformance handles GET /admin/performance
func (h *AdminHandler) HandleListPerformance(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.ledger.AllPerformance())
}

// HandleGetPerformance handles GET /admin/performance/{modelID}
func (h *AdminHandler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")

	perf, ok := h.ledger.Performance(modelID)
	if !ok {
		_ = utils.WriteNotFound(w, "No performance data for model: "+modelID)
		return
	}
	_ = utils.WriteOK(w, perf)
}

// HandleListUsage handles GET /admin/usage
func (h *AdminHandler) HandleListUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		_ = utils.WriteServiceUnavailable(w, "No durable usage store configured", nil)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	var (
		records []*models.UsageRecord
		err     error
	)
	if modelID := r.URL.Query().Get("model_id"); modelID != "" {
		records, err = h.usage.ListByModel(r.Context(), modelID, limit)
	} else {
		records, err = h.usage.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to list usage records", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, records)
}

// HandleConfigureService handles PUT /admin/services/{serviceKey}/config
func (h *AdminHandler) HandleConfigureService(w http.ResponseWriter, r *http.Request) {
	serviceKey := chi.URLParam(r, "serviceKey")

	cfg := models.DefaultServiceConfig(serviceKey)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	cfg.ServiceKey = serviceKey

	if err := utils.ValidateStruct(&cfg); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", toDetails(utils.GetValidationFields(err)))
		return
	}

	h.router.Configure(cfg)
	h.logger.Info("service configuration updated",
		zap.String("service_key", serviceKey),
		zap.Duration("request_timeout", cfg.RequestTimeout))

	_ = utils.WriteOK(w, cfg)
}

// HandleGetServiceConfig handles GET /admin/services/{serviceKey}/config
func (h *AdminHandler) HandleGetServiceConfig(w http.ResponseWriter, r *http.Request) {
	serviceKey := chi.URLParam(r, "serviceKey")
	_ = utils.WriteOK(w, h.router.Config(serviceKey))
}

// HandleCleanupUsage handles POST /admin/usage/cleanup
func (h *AdminHandler) HandleCleanupUsage(w http.ResponseWriter, r *http.Request) {
	retention := 90 * 24 * time.Hour
	if v := r.URL.Query().Get("retention"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "retention must be a positive duration", nil)
			return
		}
		retention = parsed
	}

	deleted, err := h.ledger.CleanupOldRecords(r.Context(), retention)
	if err != nil {
		h.logger.Error("failed to cleanup usage records", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{"deleted": deleted})
}
