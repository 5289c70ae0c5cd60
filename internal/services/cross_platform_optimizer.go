package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/telemetry"
	"github.com/leadpilot/adops-go/internal/utils"
)

// personaStore reads the persona characteristics used for fallback priors.
type personaStore interface {
	GetPersona(ctx context.Context, id string) (*models.Persona, error)
}

// personaCampaignStore is the campaign surface the cross-platform optimizer
// touches.
type personaCampaignStore interface {
	ListCampaignsByPersona(ctx context.Context, personaID string, statuses []models.EntityStatus, platform *models.Platform) ([]models.Campaign, error)
	UpdateCampaignBudget(ctx context.Context, campaignID string, budget decimal.Decimal) error
}

// platformMetricsStore provides per-day aggregates for recency weighting.
type platformMetricsStore interface {
	DailyByPersonaPlatform(ctx context.Context, personaID string, platform models.Platform, from, to time.Time) ([]models.DailyMetric, error)
}

// recommendationCache stores the latest recommendation per persona for the
// dashboard read path. The redis client satisfies it.
type recommendationCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// platformSyncClient pushes budget changes to the external ad-platform sync
// sidecar. Only invoked under autoApprove.
type platformSyncClient interface {
	UpdateBudget(ctx context.Context, platform models.Platform, platformCampaignID string, newDailyBudget decimal.Decimal) error
}

// platformProfile is the static persona-fit prior used when a platform has
// no performance history for the persona.
type platformProfile struct {
	// budgetTier is the midpoint of the client budget band the platform
	// historically converts best for.
	budgetTier float64
	// intentStrength is how much high-urgency, high-intent traffic the
	// platform carries (0..1).
	intentStrength float64
}

// Profiles reflect observed lead quality per platform for real-estate
// campaigns: Google captures active searchers, Meta covers the broad middle,
// TikTok skews younger and earlier in the funnel.
var platformProfiles = map[models.Platform]platformProfile{
	models.PlatformMeta:   {budgetTier: 450_000, intentStrength: 0.5},
	models.PlatformGoogle: {budgetTier: 650_000, intentStrength: 0.8},
	models.PlatformTikTok: {budgetTier: 300_000, intentStrength: 0.3},
}

// CrossPlatformOptimizer reallocates a persona's total daily budget across
// advertising platforms, one tier above the campaign budget optimizer. The
// two are never called from one another: an external scheduler runs the
// cross-platform pass first, then the per-campaign pass within each
// resulting platform budget.
type CrossPlatformOptimizer struct {
	cfg        config.CrossPlatformConfig
	personas   personaStore
	campaigns  personaCampaignStore
	metrics    platformMetricsStore
	cache      recommendationCache
	sync       platformSyncClient
	breakers   *BreakerSet
	scorer     *Scorer
	logger     *logrus.Logger
	tracer     trace.Tracer
	newSampler func() *Sampler
	now        func() time.Time
}

// NewCrossPlatformOptimizer creates a new cross-platform optimizer. cache
// and sync may be nil; caching and remote sync are then disabled.
func NewCrossPlatformOptimizer(
	cfg config.CrossPlatformConfig,
	optimizerCfg config.OptimizerConfig,
	personas personaStore,
	campaigns personaCampaignStore,
	metrics platformMetricsStore,
	cache recommendationCache,
	sync platformSyncClient,
	logger *logrus.Logger,
) *CrossPlatformOptimizer {
	return &CrossPlatformOptimizer{
		cfg:        cfg,
		personas:   personas,
		campaigns:  campaigns,
		metrics:    metrics,
		cache:      cache,
		sync:       sync,
		breakers:   NewBreakerSet(DefaultBreakerConfig(), logger),
		scorer:     NewScorer(optimizerCfg.TargetCTR, optimizerCfg.TargetCVR, optimizerCfg.TargetCPL),
		logger:     logger,
		tracer:     telemetry.Tracer(),
		newSampler: NewRandomSampler,
		now:        time.Now,
	}
}

// SetSamplerFactory overrides the random source for deterministic tests.
func (o *CrossPlatformOptimizer) SetSamplerFactory(f func() *Sampler) {
	o.newSampler = f
}

// SetClock overrides the time source for tests.
func (o *CrossPlatformOptimizer) SetClock(now func() time.Time) {
	o.now = now
}

// platformSignal is the per-platform working state of one optimization run.
type platformSignal struct {
	platform   models.Platform
	current    decimal.Decimal
	score      float64
	confidence float64
	hasHistory bool
	rationale  string
	sample     float64
	allocated  decimal.Decimal
}

// OptimizeCrossPlatform computes the recommended split of totalBudget across
// platforms for a persona. includePlatforms narrows the candidate set; nil
// means all known platforms.
func (o *CrossPlatformOptimizer) OptimizeCrossPlatform(ctx context.Context, personaID string, totalBudget decimal.Decimal, lookbackDays int, includePlatforms []models.Platform) (*models.CrossPlatformRecommendation, error) {
	ctx, span := o.tracer.Start(ctx, "cross_platform_optimizer.optimize")
	defer span.End()

	if totalBudget.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewValidationError("total budget must be positive")
	}
	if lookbackDays <= 0 {
		lookbackDays = o.cfg.LookbackDays
	}
	platforms := includePlatforms
	if len(platforms) == 0 {
		platforms = models.AllPlatforms()
	}

	persona, err := o.personas.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	from := now.AddDate(0, 0, -lookbackDays)

	currentSpend, err := o.currentPlatformSpend(ctx, personaID)
	if err != nil {
		return nil, err
	}

	signals := make([]platformSignal, 0, len(platforms))
	for _, platform := range platforms {
		sig := platformSignal{platform: platform, current: currentSpend[platform]}

		daily, err := o.metrics.DailyByPersonaPlatform(ctx, personaID, platform, from, now)
		if err != nil {
			return nil, err
		}

		if len(daily) == 0 {
			sig.score, sig.confidence = o.personaFitPrior(persona, platform)
			sig.rationale = fmt.Sprintf("No %s history for this persona; using persona-fit prior", platform)
		} else {
			sig.hasHistory = true
			sig.score, sig.confidence = o.recencyWeightedScore(daily, now)
			sig.rationale = fmt.Sprintf("Recency-weighted score %.2f from %d days of %s history", sig.score, len(daily), platform)
		}

		signals = append(signals, sig)
	}

	// Thompson-sample a budget share per platform. Confidence scales the
	// pseudo-count, so well-observed platforms get tight distributions and
	// cold platforms stay exploratory.
	sampler := o.newSampler()
	sampleSum := 0.0
	for i := range signals {
		alpha := signals[i].score*signals[i].confidence*20 + 1
		beta := (1-signals[i].score)*signals[i].confidence*20 + 1
		signals[i].sample = sampler.Beta(alpha, beta)
		sampleSum += signals[i].sample
	}
	for i := range signals {
		share := signals[i].sample / sampleSum
		signals[i].allocated = totalBudget.Mul(decimal.NewFromFloat(share))
	}

	o.applyCrossPlatformConstraints(signals, totalBudget)

	allocations := make([]models.PlatformAllocation, len(signals))
	for i, sig := range signals {
		allocations[i] = models.PlatformAllocation{
			Platform:          sig.platform,
			CurrentBudget:     sig.current,
			RecommendedBudget: sig.allocated,
			ChangeAmount:      sig.allocated.Sub(sig.current),
			Score:             sig.score,
			Confidence:        sig.confidence,
			HasHistory:        sig.hasHistory,
			Rationale:         sig.rationale,
		}
	}

	rec := &models.CrossPlatformRecommendation{
		PersonaID:           personaID,
		TotalBudget:         totalBudget,
		Allocations:         allocations,
		Strategy:            o.strategy(signals, totalBudget),
		Confidence:          meanConfidence(signals),
		ExpectedImprovement: o.expectedImprovement(signals, totalBudget),
		GeneratedAt:         now,
	}

	o.cacheRecommendation(ctx, rec)

	o.logger.WithFields(logrus.Fields{
		"persona_id": personaID,
		"platforms":  len(signals),
		"strategy":   rec.Strategy,
		"confidence": rec.Confidence,
	}).Info("Cross-platform optimization complete")

	return rec, nil
}

// currentPlatformSpend sums daily budgets of the persona's active and
// paused campaigns, grouped by platform.
func (o *CrossPlatformOptimizer) currentPlatformSpend(ctx context.Context, personaID string) (map[models.Platform]decimal.Decimal, error) {
	campaigns, err := o.campaigns.ListCampaignsByPersona(ctx, personaID, []models.EntityStatus{models.StatusActive, models.StatusPaused}, nil)
	if err != nil {
		return nil, err
	}

	spend := make(map[models.Platform]decimal.Decimal)
	for _, c := range campaigns {
		spend[c.Platform] = spend[c.Platform].Add(c.DailyBudget)
	}
	return spend, nil
}

// recencyWeightedScore weights each day's CTR/CVR/CPL by decay^daysAgo and
// derives the composite performance score from the weighted ratios.
// Confidence is the continuous min(1, weightedLeads/divisor) form.
func (o *CrossPlatformOptimizer) recencyWeightedScore(daily []models.DailyMetric, now time.Time) (float64, float64) {
	var weightSum, ctrSum, cvrSum, cplSum, weightedLeads float64
	var impressions int64

	for _, d := range daily {
		daysAgo := now.Sub(d.Date).Hours() / 24
		if daysAgo < 0 {
			daysAgo = 0
		}
		w := math.Pow(o.cfg.RecencyDecay, daysAgo)

		ctrSum += w * d.Summary.CTR()
		cvrSum += w * d.Summary.CVR()
		cplSum += w * d.Summary.CPL()
		weightedLeads += w * float64(d.Summary.Leads)
		weightSum += w
		impressions += d.Summary.Impressions
	}
	if weightSum == 0 {
		return 0, 0
	}

	score := o.scorer.PerformanceScore(ctrSum/weightSum, cvrSum/weightSum, cplSum/weightSum, impressions)
	confidence := ContinuousConfidence(int64(weightedLeads), o.cfg.ConfidenceDivisor)
	return score, confidence
}

// personaFitPrior scores a platform with no history by matching the
// persona's budget band and urgency against the platform's static profile.
// Confidence stays low (0.1-0.2) so the Thompson sampler keeps these
// exploratory.
func (o *CrossPlatformOptimizer) personaFitPrior(persona *models.Persona, platform models.Platform) (float64, float64) {
	profile, ok := platformProfiles[platform]
	if !ok {
		return 0.5, 0.1
	}

	mid, _ := persona.BudgetMin.Add(persona.BudgetMax).Div(decimal.NewFromInt(2)).Float64()
	budgetFit := 1.0
	if profile.budgetTier > 0 && mid > 0 {
		budgetFit = 1 - math.Min(1, math.Abs(mid-profile.budgetTier)/profile.budgetTier)
	}

	intent := 0.5
	switch persona.Urgency {
	case "high":
		intent = 1.0
	case "medium":
		intent = 0.6
	case "low":
		intent = 0.3
	}
	// High-urgency personas fit high-intent platforms and vice versa.
	intentFit := 1 - math.Abs(intent-profile.intentStrength)

	score := clamp01(0.5*budgetFit + 0.5*intentFit)

	confidence := 0.1
	if persona.Urgency != "" && !persona.BudgetMax.IsZero() {
		confidence = 0.2
	}
	return score, confidence
}

// applyCrossPlatformConstraints enforces the minimum per-platform share and
// the per-cycle shift cap, then renormalizes so the allocations sum exactly
// to totalBudget. Rescaling and clamping alternate for a few rounds because
// each disturbs the other; the remaining residue lands on a platform with
// headroom under its shift cap.
func (o *CrossPlatformOptimizer) applyCrossPlatformConstraints(signals []platformSignal, totalBudget decimal.Decimal) {
	minShare := totalBudget.Mul(decimal.NewFromFloat(o.cfg.MinPlatformShare))
	maxShift := decimal.NewFromFloat(o.cfg.MaxShiftFraction)

	// The shift cap applies to the platform's current allocation, not the
	// total budget, and only when the platform is already funded.
	clamp := func(i int, alloc decimal.Decimal) decimal.Decimal {
		if signals[i].current.IsPositive() {
			maxDelta := signals[i].current.Mul(maxShift)
			if upper := signals[i].current.Add(maxDelta); alloc.GreaterThan(upper) {
				alloc = upper
			}
			if lower := signals[i].current.Sub(maxDelta); alloc.LessThan(lower) {
				alloc = lower
			}
		}
		if alloc.LessThan(minShare) {
			alloc = minShare
		}
		return alloc
	}

	for round := 0; round < 8; round++ {
		sum := decimal.Zero
		for i := range signals {
			sum = sum.Add(signals[i].allocated)
		}
		if sum.IsZero() {
			return
		}
		scale := totalBudget.Div(sum)
		for i := range signals {
			signals[i].allocated = clamp(i, signals[i].allocated.Mul(scale)).Round(2)
		}
	}

	sum := decimal.Zero
	largest := 0
	for i := range signals {
		sum = sum.Add(signals[i].allocated)
		if signals[i].allocated.GreaterThan(signals[largest].allocated) {
			largest = i
		}
	}
	residue := totalBudget.Sub(sum)
	if residue.IsZero() {
		return
	}

	target := largest
	if residue.IsPositive() {
		for i := range signals {
			if !signals[i].current.IsPositive() {
				target = i
				break
			}
			upper := signals[i].current.Mul(decimal.NewFromInt(1).Add(maxShift))
			if signals[i].allocated.Add(residue).LessThanOrEqual(upper) {
				target = i
				break
			}
		}
	}
	signals[target].allocated = signals[target].allocated.Add(residue)
}

// strategy labels the distribution shape for the recommendation rationale.
func (o *CrossPlatformOptimizer) strategy(signals []platformSignal, totalBudget decimal.Decimal) models.AllocationStrategy {
	if len(signals) == 1 {
		return models.StrategySinglePlatform
	}

	top := signals[0].allocated
	maxShare, minShare := 0.0, 1.0
	anyCold := false
	for _, sig := range signals {
		if sig.allocated.GreaterThan(top) {
			top = sig.allocated
		}
		share, _ := sig.allocated.Div(totalBudget).Float64()
		maxShare = math.Max(maxShare, share)
		minShare = math.Min(minShare, share)
		if !sig.hasHistory {
			anyCold = true
		}
	}
	rest := totalBudget.Sub(top)

	switch {
	case top.GreaterThan(rest):
		return models.StrategyConcentrated
	case maxShare-minShare < 0.20:
		return models.StrategyBalanced
	case anyCold:
		return models.StrategyExploration
	default:
		return models.StrategyPerformanceBased
	}
}

// expectedImprovement is the percentage change of the budget-weighted
// average score between the current and recommended allocations.
func (o *CrossPlatformOptimizer) expectedImprovement(signals []platformSignal, totalBudget decimal.Decimal) float64 {
	currentTotal := decimal.Zero
	for _, sig := range signals {
		currentTotal = currentTotal.Add(sig.current)
	}
	if currentTotal.IsZero() || totalBudget.IsZero() {
		return 0
	}

	var currentAvg, recommendedAvg float64
	for _, sig := range signals {
		curWeight, _ := sig.current.Div(currentTotal).Float64()
		recWeight, _ := sig.allocated.Div(totalBudget).Float64()
		currentAvg += curWeight * sig.score
		recommendedAvg += recWeight * sig.score
	}
	if currentAvg == 0 {
		return 0
	}
	return (recommendedAvg - currentAvg) / currentAvg * 100
}

func meanConfidence(signals []platformSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, sig := range signals {
		sum += sig.confidence
	}
	return sum / float64(len(signals))
}

const crossPlatformCacheKeyPrefix = "crossplatform:latest:"

func (o *CrossPlatformOptimizer) cacheRecommendation(ctx context.Context, rec *models.CrossPlatformRecommendation) {
	if o.cache == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to encode recommendation for cache")
		return
	}
	ttl := time.Duration(o.cfg.CacheTTLMinutes) * time.Minute
	if err := o.cache.Set(ctx, crossPlatformCacheKeyPrefix+rec.PersonaID, payload, ttl); err != nil {
		o.logger.WithError(err).Warn("Failed to cache cross-platform recommendation")
	}
}

// LatestRecommendation returns the cached recommendation for a persona, or
// a not-found error when none has been computed within the cache TTL.
func (o *CrossPlatformOptimizer) LatestRecommendation(ctx context.Context, personaID string) (*models.CrossPlatformRecommendation, error) {
	if o.cache == nil {
		return nil, utils.NewNotFoundError("cached recommendation for persona", personaID)
	}
	raw, err := o.cache.Get(ctx, crossPlatformCacheKeyPrefix+personaID)
	if err != nil {
		return nil, utils.NewNotFoundError("cached recommendation for persona", personaID)
	}
	var rec models.CrossPlatformRecommendation
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached recommendation: %w", err)
	}
	return &rec, nil
}

// ApplyCrossPlatformRecommendations distributes each platform's recommended
// budget evenly across that platform's active campaigns for the persona.
// Platforms whose absolute change is under the materiality threshold are
// skipped. Under autoApprove the new budgets are also pushed to the remote
// sync sidecar; a failure on one platform never aborts the others.
func (o *CrossPlatformOptimizer) ApplyCrossPlatformRecommendations(ctx context.Context, rec *models.CrossPlatformRecommendation, autoApprove bool) *models.CrossPlatformApplyReport {
	ctx, span := o.tracer.Start(ctx, "cross_platform_optimizer.apply")
	defer span.End()

	report := &models.CrossPlatformApplyReport{}
	minChange := decimal.NewFromFloat(o.cfg.MinChangeAmount)

	for _, alloc := range rec.Allocations {
		if alloc.ChangeAmount.Abs().LessThan(minChange) {
			report.Skipped = append(report.Skipped, alloc.Platform)
			continue
		}

		if err := o.applyPlatformAllocation(ctx, rec.PersonaID, alloc, autoApprove); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"persona_id": rec.PersonaID,
				"platform":   alloc.Platform,
			}).Error("Failed to apply platform allocation")
			report.Failed = append(report.Failed, models.ApplyFailure{EntityID: string(alloc.Platform), Error: err.Error()})
			continue
		}

		report.Applied = append(report.Applied, alloc.Platform)
	}

	o.logger.WithFields(logrus.Fields{
		"persona_id": rec.PersonaID,
		"applied":    len(report.Applied),
		"skipped":    len(report.Skipped),
		"failed":     len(report.Failed),
	}).Info("Cross-platform recommendations applied")

	return report
}

func (o *CrossPlatformOptimizer) applyPlatformAllocation(ctx context.Context, personaID string, alloc models.PlatformAllocation, autoApprove bool) error {
	platform := alloc.Platform
	campaigns, err := o.campaigns.ListCampaignsByPersona(ctx, personaID, []models.EntityStatus{models.StatusActive}, &platform)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		return fmt.Errorf("no active %s campaigns for persona %s", platform, personaID)
	}

	perCampaign := alloc.RecommendedBudget.Div(decimal.NewFromInt(int64(len(campaigns)))).Round(2)

	for _, c := range campaigns {
		if err := o.campaigns.UpdateCampaignBudget(ctx, c.ID, perCampaign); err != nil {
			return err
		}

		if autoApprove && o.sync != nil {
			campaign := c
			syncErr := o.breakers.For(platform).Execute(ctx, func(ctx context.Context) error {
				return o.sync.UpdateBudget(ctx, platform, campaign.ExternalID, perCampaign)
			})
			if syncErr != nil {
				// The local write already happened; remote sync failures are
				// surfaced per platform without undoing the DB state.
				return fmt.Errorf("remote budget sync for campaign %s: %w", c.ID, syncErr)
			}
		}
	}

	return nil
}
