package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/utils"
)

// readinessTimeout bounds the whole readiness pass, not each check.
const readinessTimeout = 5 * time.Second

// ReadinessCheck verifies one dependency the orchestrator cannot serve
// without. A nil error means ready.
type ReadinessCheck func(ctx context.Context) error

// HealthStatus is the body of both health endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler answers liveness and readiness endpoints. Liveness is
// unconditional; readiness runs the named dependency checks.
type HealthHandler struct {
	checks map[string]ReadinessCheck
	logger *zap.Logger
}

// NewHealthHandler creates a handler over the given readiness checks.
func NewHealthHandler(logger *zap.Logger, checks map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

// DatabaseCheck verifies the usage store: a ping plus a trivial query,
// since a pool can ping while the server rejects statements.
func DatabaseCheck(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}
}

// HandleHealth handles GET /health. The process answering is the whole
// check.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /health/ready. Every configured check
// must pass before the orchestrator accepts traffic.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, name := range h.checkNames() {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("check", name),
				zap.Error(err))
			results[name] = "unhealthy"
			ready = false
			continue
		}
		results[name] = "healthy"
	}

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}
	httpStatus := http.StatusOK
	if !ready {
		status.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: status}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkNames returns the check names in a stable order so log lines and
// response bodies do not shuffle between calls.
func (h *HealthHandler) checkNames() []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
