package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricRecord is an immutable daily performance snapshot produced by the
// ingestion pipeline. The optimization engine only ever reads these rows.
type MetricRecord struct {
	ID          string          `json:"id" db:"id"`
	MetricDate  time.Time       `json:"metric_date" db:"metric_date"`
	CampaignID  string          `json:"campaign_id" db:"campaign_id"`
	AdSetID     *string         `json:"ad_set_id,omitempty" db:"ad_set_id"`
	AdID        *string         `json:"ad_id,omitempty" db:"ad_id"`
	Platform    Platform        `json:"platform" db:"platform"`
	Impressions int64           `json:"impressions" db:"impressions"`
	Clicks      int64           `json:"clicks" db:"clicks"`
	Leads       int64           `json:"leads" db:"leads"`
	Qualified   int64           `json:"qualified_leads" db:"qualified_leads"`
	Conversions int64           `json:"conversions" db:"conversions"`
	Spend       decimal.Decimal `json:"spend" db:"spend"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// MetricSummary is an aggregate over a date range.
type MetricSummary struct {
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Leads       int64           `json:"leads"`
	Qualified   int64           `json:"qualified_leads"`
	Conversions int64           `json:"conversions"`
	Spend       decimal.Decimal `json:"spend"`
}

// CTR returns clicks/impressions, zero when there were no impressions.
func (m *MetricSummary) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}

// CVR returns conversions/leads, zero when there were no leads.
func (m *MetricSummary) CVR() float64 {
	if m.Leads == 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Leads)
}

// CPL returns spend/leads, zero when there were no leads.
func (m *MetricSummary) CPL() float64 {
	if m.Leads == 0 {
		return 0
	}
	cpl, _ := m.Spend.Div(decimal.NewFromInt(m.Leads)).Float64()
	return cpl
}

// DailyMetric is a per-day aggregate used for recency weighting.
type DailyMetric struct {
	Date    time.Time     `json:"date"`
	Summary MetricSummary `json:"summary"`
}
