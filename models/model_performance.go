package models

import "time"

// ModelPerformance is the incrementally maintained rollup for one model.
// Averages are kept with an online update so applying N outcomes is O(N)
// total, never a replay of the ledger.
type ModelPerformance struct {
	ModelID            string     `json:"model_id" db:"model_id"`
	TotalRequests      int64      `json:"total_requests" db:"total_requests"`
	SuccessfulRequests int64      `json:"successful_requests" db:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests" db:"failed_requests"`
	AverageLatencyMs   float64    `json:"average_latency_ms" db:"average_latency_ms"`
	AverageCost        float64    `json:"average_cost" db:"average_cost"`
	TotalCost          float64    `json:"total_cost" db:"total_cost"`
	TotalTokens        int64      `json:"total_tokens" db:"total_tokens"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	LastFailureAt      *time.Time `json:"last_failure_at,omitempty" db:"last_failure_at"`
}

// TableName returns the table name for the ModelPerformance model
func (ModelPerformance) TableName() string {
	return "model_performance"
}

// Apply folds one attempt outcome into the rollup.
// Invariant: SuccessfulRequests + FailedRequests == TotalRequests.
func (p *ModelPerformance) Apply(success bool, latencyMs, cost float64, tokens int, at time.Time) {
	p.TotalRequests++
	if success {
		p.SuccessfulRequests++
		p.LastSuccessAt = &at
	} else {
		p.FailedRequests++
		p.LastFailureAt = &at
	}
	n := float64(p.TotalRequests)
	p.AverageLatencyMs += (latencyMs - p.AverageLatencyMs) / n
	p.AverageCost += (cost - p.AverageCost) / n
	p.TotalCost += cost
	p.TotalTokens += int64(tokens)
	p.LastUsedAt = &at
}

// SuccessRate returns the fraction of attempts that succeeded, or 0 when
// nothing has been recorded yet.
func (p *ModelPerformance) SuccessRate() float64 {
	if p.TotalRequests == 0 {
		return 0
	}
	return float64(p.SuccessfulRequests) / float64(p.TotalRequests)
}
