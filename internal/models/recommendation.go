package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetRecommendation is a proposed daily-budget change for a single ad set.
type BudgetRecommendation struct {
	AdSetID           string          `json:"ad_set_id"`
	CampaignID        string          `json:"campaign_id"`
	CurrentBudget     decimal.Decimal `json:"current_budget"`
	RecommendedBudget decimal.Decimal `json:"recommended_budget"`
	ChangeAmount      decimal.Decimal `json:"change_amount"`
	ChangePct         float64         `json:"change_pct"`
	Rationale         string          `json:"rationale"`
	Confidence        float64         `json:"confidence"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// AllocationStrategy labels the shape of a cross-platform budget split.
type AllocationStrategy string

const (
	StrategySinglePlatform   AllocationStrategy = "single-platform"
	StrategyConcentrated     AllocationStrategy = "concentrated"
	StrategyBalanced         AllocationStrategy = "balanced"
	StrategyExploration      AllocationStrategy = "exploration"
	StrategyPerformanceBased AllocationStrategy = "performance-based"
)

// PlatformAllocation is the per-platform slice of a cross-platform
// recommendation. It is never persisted; each optimization run produces a
// fresh set.
type PlatformAllocation struct {
	Platform          Platform        `json:"platform"`
	CurrentBudget     decimal.Decimal `json:"current_budget"`
	RecommendedBudget decimal.Decimal `json:"recommended_budget"`
	ChangeAmount      decimal.Decimal `json:"change_amount"`
	Score             float64         `json:"score"`
	Confidence        float64         `json:"confidence"`
	HasHistory        bool            `json:"has_history"`
	Rationale         string          `json:"rationale"`
}

// CrossPlatformRecommendation is the result of a persona-level optimization
// pass across ad platforms.
type CrossPlatformRecommendation struct {
	PersonaID           string               `json:"persona_id"`
	TotalBudget         decimal.Decimal      `json:"total_budget"`
	Allocations         []PlatformAllocation `json:"allocations"`
	Strategy            AllocationStrategy   `json:"strategy"`
	Confidence          float64              `json:"confidence"`
	ExpectedImprovement float64              `json:"expected_improvement_pct"`
	GeneratedAt         time.Time            `json:"generated_at"`
}

// ApplyFailure records a single entity that could not be updated during an
// apply batch. Failures are first-class results, not logs alone.
type ApplyFailure struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// BudgetApplyReport summarizes an ad-set budget apply batch.
type BudgetApplyReport struct {
	AppliedCount int            `json:"applied_count"`
	Applied      []string       `json:"applied"`
	Skipped      []string       `json:"skipped"`
	Failed       []ApplyFailure `json:"failed"`
}

// CrossPlatformApplyReport summarizes a cross-platform apply batch. Each
// platform lands in exactly one of the three sets.
type CrossPlatformApplyReport struct {
	Applied []Platform     `json:"applied"`
	Skipped []Platform     `json:"skipped"`
	Failed  []ApplyFailure `json:"failed"`
}
