package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Persona captures the behavioral profile the cross-platform optimizer uses
// as a fallback prior when a platform has no performance history. Only the
// fields consumed by the prior are modeled here; persona generation lives in
// a separate service.
type Persona struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	BudgetMin     decimal.Decimal `json:"budget_min" db:"budget_min"`
	BudgetMax     decimal.Decimal `json:"budget_max" db:"budget_max"`
	Urgency       string          `json:"urgency" db:"urgency"`               // low, medium, high
	DecisionSpeed string          `json:"decision_speed" db:"decision_speed"` // slow, moderate, fast
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
