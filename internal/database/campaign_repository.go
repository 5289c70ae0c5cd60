package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

// CampaignRepository handles database operations for campaigns and ad sets.
type CampaignRepository struct {
	pool DatabasePool
}

// NewCampaignRepository creates a new campaign repository.
func NewCampaignRepository(pool DatabasePool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

// GetCampaign returns a campaign by id.
func (r *CampaignRepository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	query := `
		SELECT id, name, persona_id, platform, daily_budget, status, external_id, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	var c models.Campaign
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.PersonaID,
		&c.Platform,
		&c.DailyBudget,
		&c.Status,
		&c.ExternalID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.NewNotFoundError("campaign", id)
		}
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}

	return &c, nil
}

// ListAdSets returns the campaign's ad sets that are not in a terminal
// state, i.e. the ones eligible for budget allocation.
func (r *CampaignRepository) ListAdSets(ctx context.Context, campaignID string) ([]models.AdSet, error) {
	query := `
		SELECT id, campaign_id, name, daily_budget, bid_strategy, bid_amount,
		       status, last_budget_change, metadata, created_at, updated_at
		FROM ad_sets
		WHERE campaign_id = $1 AND status NOT IN ('completed', 'archived')
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad sets for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var adSets []models.AdSet
	for rows.Next() {
		var a models.AdSet
		var metadata []byte
		if err := rows.Scan(
			&a.ID,
			&a.CampaignID,
			&a.Name,
			&a.DailyBudget,
			&a.BidStrategy,
			&a.BidAmount,
			&a.Status,
			&a.LastBudgetChange,
			&metadata,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ad set: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode ad set %s metadata: %w", a.ID, err)
			}
		}
		adSets = append(adSets, a)
	}

	return adSets, rows.Err()
}

// UpdateAdSetBudget writes the new daily budget, stamps last_budget_change
// and merges the rationale into the metadata map. Each call is a single
// statement so one failed ad set never rolls back its batch siblings.
func (r *CampaignRepository) UpdateAdSetBudget(ctx context.Context, adSetID string, budget decimal.Decimal, rationale string, changedAt time.Time) error {
	meta, err := json.Marshal(map[string]interface{}{
		"last_budget_rationale": rationale,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rationale metadata: %w", err)
	}

	query := `
		UPDATE ad_sets
		SET daily_budget = $2,
		    last_budget_change = $3,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, adSetID, budget, changedAt, meta)
	if err != nil {
		return fmt.Errorf("failed to update budget for ad set %s: %w", adSetID, err)
	}
	if tag.RowsAffected() == 0 {
		return utils.NewNotFoundError("ad set", adSetID)
	}

	return nil
}

// ListCampaignsByPersona returns the persona's campaigns in the given
// states, optionally filtered by platform.
func (r *CampaignRepository) ListCampaignsByPersona(ctx context.Context, personaID string, statuses []models.EntityStatus, platform *models.Platform) ([]models.Campaign, error) {
	query := `
		SELECT id, name, persona_id, platform, daily_budget, status, external_id, created_at, updated_at
		FROM campaigns
		WHERE persona_id = $1 AND status = ANY($2)
	`
	args := []interface{}{personaID, statusStrings(statuses)}
	if platform != nil {
		query += ` AND platform = $3`
		args = append(args, string(*platform))
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns for persona %s: %w", personaID, err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.PersonaID,
			&c.Platform,
			&c.DailyBudget,
			&c.Status,
			&c.ExternalID,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// UpdateCampaignBudget writes a campaign's daily budget. Used by the
// cross-platform apply step when distributing a platform allocation.
func (r *CampaignRepository) UpdateCampaignBudget(ctx context.Context, campaignID string, budget decimal.Decimal) error {
	query := `
		UPDATE campaigns
		SET daily_budget = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, campaignID, budget)
	if err != nil {
		return fmt.Errorf("failed to update budget for campaign %s: %w", campaignID, err)
	}
	if tag.RowsAffected() == 0 {
		return utils.NewNotFoundError("campaign", campaignID)
	}

	return nil
}

func statusStrings(statuses []models.EntityStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
