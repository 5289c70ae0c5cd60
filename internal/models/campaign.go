package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies the advertising platform a campaign runs on.
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
	PlatformTikTok Platform = "tiktok"
	PlatformMulti  Platform = "multi"
)

// AllPlatforms lists the platforms the cross-platform optimizer can allocate to.
func AllPlatforms() []Platform {
	return []Platform{PlatformMeta, PlatformGoogle, PlatformTikTok}
}

// EntityStatus is the shared lifecycle for campaigns and ad sets.
type EntityStatus string

const (
	StatusDraft     EntityStatus = "draft"
	StatusScheduled EntityStatus = "scheduled"
	StatusActive    EntityStatus = "active"
	StatusPaused    EntityStatus = "paused"
	StatusCompleted EntityStatus = "completed"
	StatusArchived  EntityStatus = "archived"
)

// IsTerminal reports whether the status excludes the entity from optimization.
func (s EntityStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// Campaign groups ad sets under a single platform and daily budget.
// The optimization engine treats campaigns as read-only apart from
// status checks; budget writes happen at the ad-set level.
type Campaign struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	PersonaID   *string         `json:"persona_id,omitempty" db:"persona_id"`
	Platform    Platform        `json:"platform" db:"platform"`
	DailyBudget decimal.Decimal `json:"daily_budget" db:"daily_budget"`
	Status      EntityStatus    `json:"status" db:"status"`
	ExternalID  string          `json:"external_id" db:"external_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// AdSet is the unit of budget allocation within a campaign.
type AdSet struct {
	ID          string          `json:"id" db:"id"`
	CampaignID  string          `json:"campaign_id" db:"campaign_id"`
	Name        string          `json:"name" db:"name"`
	DailyBudget decimal.Decimal `json:"daily_budget" db:"daily_budget"`
	BidStrategy string          `json:"bid_strategy" db:"bid_strategy"`
	BidAmount   decimal.Decimal `json:"bid_amount" db:"bid_amount"`
	Status      EntityStatus    `json:"status" db:"status"`
	// LastBudgetChange drives the optimizer cooldown. Nil means the ad set
	// has never been touched by the allocator.
	LastBudgetChange *time.Time             `json:"last_budget_change,omitempty" db:"last_budget_change"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
}

// InCooldown reports whether the ad set's budget was changed more recently
// than the given window.
func (a *AdSet) InCooldown(window time.Duration, now time.Time) bool {
	if a.LastBudgetChange == nil {
		return false
	}
	return now.Sub(*a.LastBudgetChange) < window
}

// Ad links a creative to an ad set. The experiment engine resolves metric
// rows through this chain (creative -> ads -> metrics).
type Ad struct {
	ID         string       `json:"id" db:"id"`
	AdSetID    string       `json:"ad_set_id" db:"ad_set_id"`
	CreativeID string       `json:"creative_id" db:"creative_id"`
	Status     EntityStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
