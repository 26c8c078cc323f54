package budget

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSpendReader returns canned spend per user.
type fakeSpendReader struct {
	spend       map[uuid.UUID]float64
	windowStart time.Time
}

func (f *fakeSpendReader) BudgetSpent(_ context.Context, userID uuid.UUID, windowStart time.Time) (float64, error) {
	f.windowStart = windowStart
	return f.spend[userID], nil
}

func TestService_Check_NoLimitAlwaysAllowed(t *testing.T) {
	svc := NewService(&fakeSpendReader{}, zap.NewNop())
	userID := uuid.New()

	result, err := svc.Check(context.Background(), CheckRequest{
		UserID:        &userID,
		Config:        models.BudgetConfig{Window: models.WindowDaily},
		EstimatedCost: 100,
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestService_Check_AnonymousAllowed(t *testing.T) {
	svc := NewService(&fakeSpendReader{}, zap.NewNop())

	result, err := svc.Check(context.Background(), CheckRequest{
		Config:        models.BudgetConfig{MaxCostPerWindow: 1, Window: models.WindowDaily},
		EstimatedCost: 100,
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestService_Check_WithinBudget(t *testing.T) {
	userID := uuid.New()
	reader := &fakeSpendReader{spend: map[uuid.UUID]float64{userID: 0.4}}
	svc := NewService(reader, zap.NewNop())

	result, err := svc.Check(context.Background(), CheckRequest{
		UserID:        &userID,
		Config:        models.BudgetConfig{MaxCostPerWindow: 1, Window: models.WindowDaily, Currency: "USD"},
		EstimatedCost: 0.5,
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.InDelta(t, 0.4, result.Spent, 1e-9)
	assert.InDelta(t, 0.6, result.Remaining, 1e-9)
}

func TestService_Check_DeniesWhenEstimateExceedsRemaining(t *testing.T) {
	userID := uuid.New()
	reader := &fakeSpendReader{spend: map[uuid.UUID]float64{userID: 0.9}}
	svc := NewService(reader, zap.NewNop())

	result, err := svc.Check(context.Background(), CheckRequest{
		UserID:        &userID,
		Config:        models.BudgetConfig{MaxCostPerWindow: 1, Window: models.WindowDaily, Currency: "USD"},
		EstimatedCost: 0.2,
	})

	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.ViolationReason, "would exceed daily budget")
}

func TestService_Check_UsesUTCDayWindow(t *testing.T) {
	userID := uuid.New()
	reader := &fakeSpendReader{spend: map[uuid.UUID]float64{}}
	svc := NewService(reader, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2024, 3, 10, 23, 45, 0, 0, time.UTC)
	}

	_, err := svc.Check(context.Background(), CheckRequest{
		UserID:        &userID,
		Config:        models.BudgetConfig{MaxCostPerWindow: 1, Window: models.WindowDaily},
		EstimatedCost: 0.1,
	})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), reader.windowStart)
}

func TestService_Check_MonthlyWindow(t *testing.T) {
	userID := uuid.New()
	reader := &fakeSpendReader{spend: map[uuid.UUID]float64{}}
	svc := NewService(reader, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	}

	_, err := svc.Check(context.Background(), CheckRequest{
		UserID:        &userID,
		Config:        models.BudgetConfig{MaxCostPerWindow: 1, Window: models.WindowMonthly},
		EstimatedCost: 0.1,
	})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), reader.windowStart)
}

func TestService_Remaining(t *testing.T) {
	userID := uuid.New()
	reader := &fakeSpendReader{spend: map[uuid.UUID]float64{userID: 0.3}}
	svc := NewService(reader, zap.NewNop())

	remaining, err := svc.Remaining(context.Background(), userID, models.BudgetConfig{
		MaxCostPerWindow: 1,
		Window:           models.WindowDaily,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, remaining, 1e-9)

	// Unlimited budgets report -1.
	remaining, err = svc.Remaining(context.Background(), userID, models.BudgetConfig{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, remaining)
}
