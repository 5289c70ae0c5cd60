package database

import (
	"context"
	"fmt"
	"time"

	"github.com/leadpilot/adops-go/internal/models"
)

// MetricsRepository reads aggregates from the daily metric rows produced by
// the ingestion pipeline. The optimization engine never writes metrics.
type MetricsRepository struct {
	pool DatabasePool
}

// NewMetricsRepository creates a new metrics repository.
func NewMetricsRepository(pool DatabasePool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

// AggregateAdSet sums an ad set's metrics over [from, to].
func (r *MetricsRepository) AggregateAdSet(ctx context.Context, adSetID string, from, to time.Time) (*models.MetricSummary, error) {
	query := `
		SELECT COALESCE(SUM(impressions), 0),
		       COALESCE(SUM(clicks), 0),
		       COALESCE(SUM(leads), 0),
		       COALESCE(SUM(qualified_leads), 0),
		       COALESCE(SUM(conversions), 0),
		       COALESCE(SUM(spend), 0)
		FROM campaign_metrics
		WHERE ad_set_id = $1 AND metric_date >= $2 AND metric_date <= $3
	`

	var s models.MetricSummary
	err := r.pool.QueryRow(ctx, query, adSetID, from, to).Scan(
		&s.Impressions,
		&s.Clicks,
		&s.Leads,
		&s.Qualified,
		&s.Conversions,
		&s.Spend,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics for ad set %s: %w", adSetID, err)
	}

	return &s, nil
}

// DailyByPersonaPlatform returns per-day aggregates for all of a persona's
// campaigns on one platform, newest day last. Days without rows are simply
// absent.
func (r *MetricsRepository) DailyByPersonaPlatform(ctx context.Context, personaID string, platform models.Platform, from, to time.Time) ([]models.DailyMetric, error) {
	query := `
		SELECT m.metric_date,
		       COALESCE(SUM(m.impressions), 0),
		       COALESCE(SUM(m.clicks), 0),
		       COALESCE(SUM(m.leads), 0),
		       COALESCE(SUM(m.qualified_leads), 0),
		       COALESCE(SUM(m.conversions), 0),
		       COALESCE(SUM(m.spend), 0)
		FROM campaign_metrics m
		JOIN campaigns c ON c.id = m.campaign_id
		WHERE c.persona_id = $1 AND m.platform = $2
		  AND m.metric_date >= $3 AND m.metric_date <= $4
		GROUP BY m.metric_date
		ORDER BY m.metric_date
	`

	rows, err := r.pool.Query(ctx, query, personaID, string(platform), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily metrics for persona %s on %s: %w", personaID, platform, err)
	}
	defer rows.Close()

	var daily []models.DailyMetric
	for rows.Next() {
		var d models.DailyMetric
		if err := rows.Scan(
			&d.Date,
			&d.Summary.Impressions,
			&d.Summary.Clicks,
			&d.Summary.Leads,
			&d.Summary.Qualified,
			&d.Summary.Conversions,
			&d.Summary.Spend,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		daily = append(daily, d)
	}

	return daily, rows.Err()
}

// AggregateByCreative sums the metrics of every ad running a creative since
// the given date. This is the creative -> ads -> metrics chain the
// experiment engine analyzes.
func (r *MetricsRepository) AggregateByCreative(ctx context.Context, creativeID string, since time.Time) (*models.MetricSummary, error) {
	query := `
		SELECT COALESCE(SUM(m.impressions), 0),
		       COALESCE(SUM(m.clicks), 0),
		       COALESCE(SUM(m.leads), 0),
		       COALESCE(SUM(m.qualified_leads), 0),
		       COALESCE(SUM(m.conversions), 0),
		       COALESCE(SUM(m.spend), 0)
		FROM campaign_metrics m
		JOIN ads a ON a.id = m.ad_id
		WHERE a.creative_id = $1 AND m.metric_date >= $2
	`

	var s models.MetricSummary
	err := r.pool.QueryRow(ctx, query, creativeID, since).Scan(
		&s.Impressions,
		&s.Clicks,
		&s.Leads,
		&s.Qualified,
		&s.Conversions,
		&s.Spend,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics for creative %s: %w", creativeID, err)
	}

	return &s, nil
}
