package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/telemetry"
	"github.com/leadpilot/adops-go/internal/utils"
)

// campaignStore is the slice of the entity registry the budget optimizer
// reads and writes.
type campaignStore interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListAdSets(ctx context.Context, campaignID string) ([]models.AdSet, error)
	UpdateAdSetBudget(ctx context.Context, adSetID string, budget decimal.Decimal, rationale string, changedAt time.Time) error
}

// adSetMetricsStore is the read-only metrics aggregate the optimizer needs.
type adSetMetricsStore interface {
	AggregateAdSet(ctx context.Context, adSetID string, from, to time.Time) (*models.MetricSummary, error)
}

// BudgetOptimizer reallocates a campaign's daily budget across its ad sets
// with Thompson Sampling over conversion-rate posteriors, bounded by a
// volatility cap, floor/ceiling limits and a per-unit cooldown.
type BudgetOptimizer struct {
	cfg        config.OptimizerConfig
	campaigns  campaignStore
	metrics    adSetMetricsStore
	scorer     *Scorer
	logger     *logrus.Logger
	tracer     trace.Tracer
	newSampler func() *Sampler
	now        func() time.Time
}

// NewBudgetOptimizer creates a new campaign budget optimizer.
func NewBudgetOptimizer(cfg config.OptimizerConfig, campaigns campaignStore, metrics adSetMetricsStore, logger *logrus.Logger) *BudgetOptimizer {
	return &BudgetOptimizer{
		cfg:        cfg,
		campaigns:  campaigns,
		metrics:    metrics,
		scorer:     NewScorer(cfg.TargetCTR, cfg.TargetCVR, cfg.TargetCPL),
		logger:     logger,
		tracer:     telemetry.Tracer(),
		newSampler: NewRandomSampler,
		now:        time.Now,
	}
}

// SetSamplerFactory overrides the random source, used by tests to get
// deterministic allocations.
func (o *BudgetOptimizer) SetSamplerFactory(f func() *Sampler) {
	o.newSampler = f
}

// SetClock overrides the time source for tests.
func (o *BudgetOptimizer) SetClock(now func() time.Time) {
	o.now = now
}

// adSetSignal pairs an eligible ad set with its aggregated metrics.
type adSetSignal struct {
	adSet   models.AdSet
	summary models.MetricSummary
	sample  float64
}

// OptimizeCampaignBudget produces budget recommendations for a campaign's
// ad sets. Zero values for lookbackDays, volatilityCap and cooldownHours
// fall back to the configured defaults. Units with no impressions in the
// window are skipped (no signal is not an error), and units still inside
// their cooldown window are dropped from the result.
func (o *BudgetOptimizer) OptimizeCampaignBudget(ctx context.Context, campaignID string, lookbackDays int, volatilityCap float64, cooldownHours int) ([]models.BudgetRecommendation, error) {
	ctx, span := o.tracer.Start(ctx, "budget_optimizer.optimize")
	defer span.End()

	if lookbackDays <= 0 {
		lookbackDays = o.cfg.LookbackDays
	}
	if volatilityCap <= 0 {
		volatilityCap = o.cfg.VolatilityCap
	}
	if cooldownHours <= 0 {
		cooldownHours = o.cfg.CooldownHours
	}

	campaign, err := o.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, utils.NewValidationErrorf("campaign %s is %s and cannot be optimized", campaignID, campaign.Status)
	}

	adSets, err := o.campaigns.ListAdSets(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(adSets) == 0 {
		return nil, nil
	}

	now := o.now()
	from := now.AddDate(0, 0, -lookbackDays)

	signals := make([]adSetSignal, 0, len(adSets))
	totalLeads := int64(0)
	for _, a := range adSets {
		summary, err := o.metrics.AggregateAdSet(ctx, a.ID, from, now)
		if err != nil {
			return nil, err
		}
		if summary.Impressions == 0 {
			o.logger.WithFields(logrus.Fields{
				"ad_set_id":   a.ID,
				"campaign_id": campaignID,
			}).Debug("Skipping ad set with no impressions in lookback window")
			continue
		}
		signals = append(signals, adSetSignal{adSet: a, summary: *summary})
		totalLeads += summary.Leads
	}
	if len(signals) == 0 {
		return nil, nil
	}

	// Thompson Sampling over conversion-rate posteriors. When no unit has
	// any leads there is nothing to sample from, so fall back to equal
	// shares; repeated cycles then converge cold campaigns toward an even
	// split within the volatility cap.
	sampler := o.newSampler()
	sampleSum := 0.0
	for i := range signals {
		if totalLeads == 0 {
			signals[i].sample = 1
		} else {
			signals[i].sample = sampler.PosteriorSample(signals[i].summary.Conversions, signals[i].summary.Leads)
		}
		sampleSum += signals[i].sample
	}

	cooldown := time.Duration(cooldownHours) * time.Hour
	minChange := decimal.NewFromFloat(o.cfg.MinChangeAmount)

	var recommendations []models.BudgetRecommendation
	for _, sig := range signals {
		share := sig.sample / sampleSum
		target := campaign.DailyBudget.Mul(decimal.NewFromFloat(share))
		current := sig.adSet.DailyBudget

		proposed := o.applyConstraints(current, target, volatilityCap)

		if sig.adSet.InCooldown(cooldown, now) {
			o.logger.WithFields(logrus.Fields{
				"ad_set_id":      sig.adSet.ID,
				"cooldown_hours": cooldownHours,
			}).Info("Dropping recommendation: ad set budget changed within cooldown window")
			continue
		}

		change := proposed.Sub(current)
		if change.Abs().LessThan(minChange) {
			continue
		}

		changePct := 0.0
		if !current.IsZero() {
			changePct, _ = change.Div(current).Mul(decimal.NewFromInt(100)).Float64()
		}

		recommendations = append(recommendations, models.BudgetRecommendation{
			AdSetID:           sig.adSet.ID,
			CampaignID:        campaignID,
			CurrentBudget:     current,
			RecommendedBudget: proposed,
			ChangeAmount:      change,
			ChangePct:         changePct,
			Rationale:         o.rationale(change, sig.summary, lookbackDays),
			Confidence:        ConfidenceFromLeads(sig.summary.Leads),
			GeneratedAt:       now,
		})
	}

	o.logger.WithFields(logrus.Fields{
		"campaign_id":     campaignID,
		"ad_sets":         len(adSets),
		"eligible":        len(signals),
		"recommendations": len(recommendations),
	}).Info("Campaign budget optimization complete")

	return recommendations, nil
}

// applyConstraints bounds the proposed budget, in order: volatility cap,
// then the floor/ceiling band around the current budget. Rounded to cents.
func (o *BudgetOptimizer) applyConstraints(current, target decimal.Decimal, volatilityCap float64) decimal.Decimal {
	maxDelta := current.Mul(decimal.NewFromFloat(volatilityCap))
	proposed := target
	if proposed.GreaterThan(current.Add(maxDelta)) {
		proposed = current.Add(maxDelta)
	}
	if proposed.LessThan(current.Sub(maxDelta)) {
		proposed = current.Sub(maxDelta)
	}

	floor := current.Mul(decimal.NewFromFloat(o.cfg.BudgetFloorFraction))
	ceiling := current.Mul(decimal.NewFromFloat(o.cfg.BudgetCeilingFactor))
	if proposed.LessThan(floor) {
		proposed = floor
	}
	if proposed.GreaterThan(ceiling) {
		proposed = ceiling
	}

	return proposed.Round(2)
}

func (o *BudgetOptimizer) rationale(change decimal.Decimal, summary models.MetricSummary, lookbackDays int) string {
	direction := "Increasing"
	if change.IsNegative() {
		direction = "Decreasing"
	}
	return fmt.Sprintf("%s daily budget: CVR %.1f%% and CPL $%.2f over the last %d days",
		direction, summary.CVR()*100, summary.CPL(), lookbackDays)
}

// ApplyBudgetRecommendations writes the recommended budgets. Each ad set is
// updated independently; a failed write is recorded in the report and the
// batch continues. Without autoApprove only recommendations at or above
// medium confidence (0.6) are written, the rest are reported as skipped.
func (o *BudgetOptimizer) ApplyBudgetRecommendations(ctx context.Context, recommendations []models.BudgetRecommendation, autoApprove bool) *models.BudgetApplyReport {
	ctx, span := o.tracer.Start(ctx, "budget_optimizer.apply")
	defer span.End()

	report := &models.BudgetApplyReport{}
	now := o.now()

	for _, rec := range recommendations {
		if !autoApprove && rec.Confidence < 0.6 {
			report.Skipped = append(report.Skipped, rec.AdSetID)
			continue
		}

		if err := o.campaigns.UpdateAdSetBudget(ctx, rec.AdSetID, rec.RecommendedBudget, rec.Rationale, now); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"ad_set_id":   rec.AdSetID,
				"campaign_id": rec.CampaignID,
			}).Error("Failed to apply budget recommendation")
			report.Failed = append(report.Failed, models.ApplyFailure{EntityID: rec.AdSetID, Error: err.Error()})
			continue
		}

		report.Applied = append(report.Applied, rec.AdSetID)
		report.AppliedCount++
	}

	o.logger.WithFields(logrus.Fields{
		"applied": report.AppliedCount,
		"skipped": len(report.Skipped),
		"failed":  len(report.Failed),
	}).Info("Budget recommendations applied")

	return report
}
