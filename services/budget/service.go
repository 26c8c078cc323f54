package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
	"go.uber.org/zap"
)

// SpendReader reads accumulated user spend from the usage ledger.
type SpendReader interface {
	BudgetSpent(ctx context.Context, userID uuid.UUID, windowStart time.Time) (float64, error)
}

// CheckRequest asks whether an estimated cost fits the user's budget.
type CheckRequest struct {
	UserID        *uuid.UUID
	Config        models.BudgetConfig
	EstimatedCost float64
}

// CheckResult reports a budget decision.
type CheckResult struct {
	Allowed         bool
	Spent           float64
	Limit           float64
	Remaining       float64
	WindowStart     time.Time
	ViolationReason string
}

// Service enforces per-user spend caps over a rolling window. It never
// records anything itself: the ledger is the source of truth and this
// service only reads it.
type Service struct {
	spend  SpendReader
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a budget enforcer reading from the given ledger.
func NewService(spend SpendReader, logger *zap.Logger) *Service {
	return &Service{
		spend:  spend,
		logger: logger,
		now:    time.Now,
	}
}

// Check decides whether the estimated cost fits the remaining budget.
// Anonymous requests and zero limits are always allowed.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if req.Config.MaxCostPerWindow <= 0 || req.UserID == nil {
		return &CheckResult{Allowed: true}, nil
	}

	windowStart := req.Config.Window.Start(s.now())
	spent, err := s.spend.BudgetSpent(ctx, *req.UserID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to get window spend: %w", err)
	}

	result := &CheckResult{
		Spent:       spent,
		Limit:       req.Config.MaxCostPerWindow,
		Remaining:   req.Config.MaxCostPerWindow - spent,
		WindowStart: windowStart,
	}

	if spent+req.EstimatedCost > req.Config.MaxCostPerWindow {
		result.Allowed = false
		result.ViolationReason = fmt.Sprintf("would exceed %s budget of %.4f %s (current: %.4f, request: %.4f)",
			req.Config.Window, req.Config.MaxCostPerWindow, req.Config.Currency, spent, req.EstimatedCost)

		s.logger.Debug("budget check denied",
			zap.String("user_id", req.UserID.String()),
			zap.Float64("spent", spent),
			zap.Float64("estimated_cost", req.EstimatedCost),
			zap.Float64("limit", req.Config.MaxCostPerWindow))
		return result, nil
	}

	result.Allowed = true
	return result, nil
}

// Remaining returns the unspent budget for the user's current window.
// Unlimited budgets report a negative remaining value.
func (s *Service) Remaining(ctx context.Context, userID uuid.UUID, cfg models.BudgetConfig) (float64, error) {
	if cfg.MaxCostPerWindow <= 0 {
		return -1, nil
	}

	spent, err := s.spend.BudgetSpent(ctx, userID, cfg.Window.Start(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to get window spend: %w", err)
	}
	return cfg.MaxCostPerWindow - spent, nil
}
