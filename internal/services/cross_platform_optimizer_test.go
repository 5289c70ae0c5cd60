package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

type fakePersonaStore struct {
	persona *models.Persona
}

func (f *fakePersonaStore) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	if f.persona == nil {
		return nil, utils.NewNotFoundError("persona", id)
	}
	return f.persona, nil
}

type fakePersonaCampaigns struct {
	campaigns  []models.Campaign
	updates    map[string]decimal.Decimal
	updateErrs map[string]error
}

func (f *fakePersonaCampaigns) ListCampaignsByPersona(ctx context.Context, personaID string, statuses []models.EntityStatus, platform *models.Platform) ([]models.Campaign, error) {
	wanted := make(map[models.EntityStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []models.Campaign
	for _, c := range f.campaigns {
		if !wanted[c.Status] {
			continue
		}
		if platform != nil && c.Platform != *platform {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakePersonaCampaigns) UpdateCampaignBudget(ctx context.Context, campaignID string, budget decimal.Decimal) error {
	if err := f.updateErrs[campaignID]; err != nil {
		return err
	}
	if f.updates == nil {
		f.updates = make(map[string]decimal.Decimal)
	}
	f.updates[campaignID] = budget
	return nil
}

type fakePlatformMetrics struct {
	daily map[models.Platform][]models.DailyMetric
}

func (f *fakePlatformMetrics) DailyByPersonaPlatform(ctx context.Context, personaID string, platform models.Platform, from, to time.Time) ([]models.DailyMetric, error) {
	return f.daily[platform], nil
}

type fakeCache struct {
	values map[string]string
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

type fakeSyncClient struct {
	calls map[models.Platform]int
	errs  map[models.Platform]error
}

func (f *fakeSyncClient) UpdateBudget(ctx context.Context, platform models.Platform, platformCampaignID string, newDailyBudget decimal.Decimal) error {
	if f.calls == nil {
		f.calls = make(map[models.Platform]int)
	}
	f.calls[platform]++
	return f.errs[platform]
}

func testCrossPlatformConfig() config.CrossPlatformConfig {
	return config.CrossPlatformConfig{
		LookbackDays:      14,
		MinPlatformShare:  0.15,
		MaxShiftFraction:  0.25,
		RecencyDecay:      0.9,
		MinChangeAmount:   5.0,
		ConfidenceDivisor: 100,
		CacheTTLMinutes:   60,
	}
}

func dailyHistory(days int, impressions, clicks, leads, conversions int64, spend float64, now time.Time) []models.DailyMetric {
	out := make([]models.DailyMetric, days)
	for i := 0; i < days; i++ {
		out[i] = models.DailyMetric{
			Date: now.AddDate(0, 0, -i),
			Summary: models.MetricSummary{
				Impressions: impressions,
				Clicks:      clicks,
				Leads:       leads,
				Conversions: conversions,
				Spend:       decimal.NewFromFloat(spend),
			},
		}
	}
	return out
}

func testPersona() *models.Persona {
	return &models.Persona{
		ID:        "persona-1",
		Name:      "First-time buyer",
		BudgetMin: decimal.NewFromInt(400_000),
		BudgetMax: decimal.NewFromInt(600_000),
		Urgency:   "high",
	}
}

func newTestCrossPlatform(personas *fakePersonaStore, campaigns *fakePersonaCampaigns, metrics *fakePlatformMetrics, cache *fakeCache, sync *fakeSyncClient) *CrossPlatformOptimizer {
	var c recommendationCache
	if cache != nil {
		c = cache
	}
	var s platformSyncClient
	if sync != nil {
		s = sync
	}
	o := NewCrossPlatformOptimizer(testCrossPlatformConfig(), testOptimizerConfig(), personas, campaigns, metrics, c, s, testLogger())
	o.SetSamplerFactory(func() *Sampler { return NewSampler(3) })
	return o
}

func TestOptimizeCrossPlatformSumsToTotal(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta:   dailyHistory(14, 10_000, 300, 80, 20, 400, now),
		models.PlatformGoogle: dailyHistory(14, 8_000, 320, 90, 30, 450, now),
		models.PlatformTikTok: dailyHistory(14, 12_000, 200, 30, 2, 300, now),
	}}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, &fakePersonaCampaigns{}, metrics, nil, nil)
	o.SetClock(func() time.Time { return now })

	total := decimal.NewFromInt(900)
	rec, err := o.OptimizeCrossPlatform(context.Background(), "persona-1", total, 0, nil)
	require.NoError(t, err)
	require.Len(t, rec.Allocations, 3)

	sum := decimal.Zero
	minShare := total.Mul(decimal.NewFromFloat(0.15))
	for _, alloc := range rec.Allocations {
		sum = sum.Add(alloc.RecommendedBudget)
		assert.True(t, alloc.RecommendedBudget.GreaterThanOrEqual(minShare),
			"%s below minimum share: %s", alloc.Platform, alloc.RecommendedBudget)
		assert.True(t, alloc.HasHistory)
	}
	assert.True(t, sum.Equal(total), "allocations must sum exactly to the total, got %s", sum)
}

func TestOptimizeCrossPlatformSumInvariantAcrossSeeds(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	personaID := "persona-1"

	// Funded meta/google plus a cold tiktok, so the min-share floor, the
	// shift cap and the residue assignment all interact with the samples.
	campaigns := &fakePersonaCampaigns{campaigns: []models.Campaign{
		{ID: "c-meta", PersonaID: &personaID, Platform: models.PlatformMeta, DailyBudget: decimal.NewFromInt(500), Status: models.StatusActive},
		{ID: "c-google", PersonaID: &personaID, Platform: models.PlatformGoogle, DailyBudget: decimal.NewFromInt(400), Status: models.StatusActive},
	}}
	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta:   dailyHistory(14, 10_000, 300, 80, 20, 400, now),
		models.PlatformGoogle: dailyHistory(14, 8_000, 320, 90, 30, 450, now),
	}}

	total := decimal.NewFromInt(900)
	minShare := total.Mul(decimal.NewFromFloat(0.15))
	for seed := int64(0); seed < 200; seed++ {
		o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, campaigns, metrics, nil, nil)
		o.SetSamplerFactory(func() *Sampler { return NewSampler(seed) })
		o.SetClock(func() time.Time { return now })

		rec, err := o.OptimizeCrossPlatform(context.Background(), personaID, total, 0, nil)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, alloc := range rec.Allocations {
			sum = sum.Add(alloc.RecommendedBudget)
			assert.True(t, alloc.RecommendedBudget.GreaterThanOrEqual(minShare),
				"seed %d: %s below minimum share: %s", seed, alloc.Platform, alloc.RecommendedBudget)
		}
		require.True(t, sum.Equal(total), "seed %d: allocations sum to %s, want %s", seed, sum, total)
	}
}

func TestOptimizeCrossPlatformShiftCap(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	personaID := "persona-1"

	// Current spend: meta 300, google 300, tiktok 300. Google massively
	// outperforms, but each funded platform can only move 25% per cycle.
	campaigns := &fakePersonaCampaigns{campaigns: []models.Campaign{
		{ID: "c-meta", PersonaID: &personaID, Platform: models.PlatformMeta, DailyBudget: decimal.NewFromInt(300), Status: models.StatusActive},
		{ID: "c-google", PersonaID: &personaID, Platform: models.PlatformGoogle, DailyBudget: decimal.NewFromInt(300), Status: models.StatusActive},
		{ID: "c-tiktok", PersonaID: &personaID, Platform: models.PlatformTikTok, DailyBudget: decimal.NewFromInt(300), Status: models.StatusActive},
	}}
	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta:   dailyHistory(14, 10_000, 100, 40, 1, 600, now),
		models.PlatformGoogle: dailyHistory(14, 10_000, 400, 150, 60, 500, now),
		models.PlatformTikTok: dailyHistory(14, 10_000, 100, 40, 1, 600, now),
	}}

	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, campaigns, metrics, nil, nil)
	o.SetClock(func() time.Time { return now })

	rec, err := o.OptimizeCrossPlatform(context.Background(), personaID, decimal.NewFromInt(900), 0, nil)
	require.NoError(t, err)

	for _, alloc := range rec.Allocations {
		if alloc.Platform == models.PlatformGoogle {
			// 300 * 1.25 = 375 before renormalization.
			assert.True(t, alloc.RecommendedBudget.LessThanOrEqual(decimal.NewFromInt(376)),
				"google exceeded the shift cap: %s", alloc.RecommendedBudget)
		}
	}
}

func TestOptimizeCrossPlatformColdPlatformPrior(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta:   dailyHistory(14, 10_000, 300, 80, 20, 400, now),
		models.PlatformGoogle: dailyHistory(14, 8_000, 320, 90, 30, 450, now),
		// tiktok has no history at all
	}}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, &fakePersonaCampaigns{}, metrics, nil, nil)
	o.SetClock(func() time.Time { return now })

	rec, err := o.OptimizeCrossPlatform(context.Background(), "persona-1", decimal.NewFromInt(900), 0, nil)
	require.NoError(t, err)

	var tiktok *models.PlatformAllocation
	for i := range rec.Allocations {
		if rec.Allocations[i].Platform == models.PlatformTikTok {
			tiktok = &rec.Allocations[i]
		}
	}
	require.NotNil(t, tiktok)
	assert.False(t, tiktok.HasHistory)
	assert.LessOrEqual(t, tiktok.Confidence, 0.2)
	assert.Contains(t, tiktok.Rationale, "persona-fit prior")
}

func TestOptimizeCrossPlatformSinglePlatform(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta: dailyHistory(7, 10_000, 300, 80, 20, 400, now),
	}}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, &fakePersonaCampaigns{}, metrics, nil, nil)
	o.SetClock(func() time.Time { return now })

	rec, err := o.OptimizeCrossPlatform(context.Background(), "persona-1", decimal.NewFromInt(500), 0, []models.Platform{models.PlatformMeta})
	require.NoError(t, err)
	require.Len(t, rec.Allocations, 1)
	assert.Equal(t, models.StrategySinglePlatform, rec.Strategy)
	assert.True(t, rec.Allocations[0].RecommendedBudget.Equal(decimal.NewFromInt(500)))
}

func TestOptimizeCrossPlatformInvalidBudget(t *testing.T) {
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, &fakePersonaCampaigns{}, &fakePlatformMetrics{}, nil, nil)
	_, err := o.OptimizeCrossPlatform(context.Background(), "persona-1", decimal.Zero, 0, nil)
	assert.True(t, utils.IsValidation(err))
}

func TestLatestRecommendationRoundTrip(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cache := &fakeCache{}
	metrics := &fakePlatformMetrics{daily: map[models.Platform][]models.DailyMetric{
		models.PlatformMeta:   dailyHistory(14, 10_000, 300, 80, 20, 400, now),
		models.PlatformGoogle: dailyHistory(14, 8_000, 320, 90, 30, 450, now),
		models.PlatformTikTok: dailyHistory(14, 12_000, 200, 30, 2, 300, now),
	}}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, &fakePersonaCampaigns{}, metrics, cache, nil)
	o.SetClock(func() time.Time { return now })

	rec, err := o.OptimizeCrossPlatform(context.Background(), "persona-1", decimal.NewFromInt(900), 0, nil)
	require.NoError(t, err)

	cached, err := o.LatestRecommendation(context.Background(), "persona-1")
	require.NoError(t, err)
	assert.Equal(t, rec.PersonaID, cached.PersonaID)
	assert.Equal(t, rec.Strategy, cached.Strategy)
	assert.True(t, rec.TotalBudget.Equal(cached.TotalBudget))

	_, err = o.LatestRecommendation(context.Background(), "unknown-persona")
	assert.True(t, utils.IsNotFound(err))
}

func TestApplyCrossPlatformRecommendations(t *testing.T) {
	personaID := "persona-1"
	campaigns := &fakePersonaCampaigns{campaigns: []models.Campaign{
		{ID: "c1", PersonaID: &personaID, Platform: models.PlatformMeta, ExternalID: "ext-1", DailyBudget: decimal.NewFromInt(200), Status: models.StatusActive},
		{ID: "c2", PersonaID: &personaID, Platform: models.PlatformMeta, ExternalID: "ext-2", DailyBudget: decimal.NewFromInt(200), Status: models.StatusActive},
		{ID: "c3", PersonaID: &personaID, Platform: models.PlatformGoogle, ExternalID: "ext-3", DailyBudget: decimal.NewFromInt(300), Status: models.StatusActive},
	}}
	sync := &fakeSyncClient{}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, campaigns, &fakePlatformMetrics{}, nil, sync)

	rec := &models.CrossPlatformRecommendation{
		PersonaID:   personaID,
		TotalBudget: decimal.NewFromInt(1000),
		Allocations: []models.PlatformAllocation{
			{Platform: models.PlatformMeta, CurrentBudget: decimal.NewFromInt(400), RecommendedBudget: decimal.NewFromInt(600), ChangeAmount: decimal.NewFromInt(200)},
			{Platform: models.PlatformGoogle, CurrentBudget: decimal.NewFromInt(300), RecommendedBudget: decimal.NewFromInt(302), ChangeAmount: decimal.NewFromInt(2)},
		},
	}

	report := o.ApplyCrossPlatformRecommendations(context.Background(), rec, true)

	// Meta's $200 change applies, split evenly across its two campaigns.
	// Google's $2 change is under the materiality threshold.
	assert.Equal(t, []models.Platform{models.PlatformMeta}, report.Applied)
	assert.Equal(t, []models.Platform{models.PlatformGoogle}, report.Skipped)
	assert.Empty(t, report.Failed)
	assert.True(t, campaigns.updates["c1"].Equal(decimal.NewFromInt(300)))
	assert.True(t, campaigns.updates["c2"].Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 2, sync.calls[models.PlatformMeta])
}

func TestApplyCrossPlatformRecommendationsFailureIsolated(t *testing.T) {
	personaID := "persona-1"
	campaigns := &fakePersonaCampaigns{
		campaigns: []models.Campaign{
			{ID: "c1", PersonaID: &personaID, Platform: models.PlatformMeta, DailyBudget: decimal.NewFromInt(200), Status: models.StatusActive},
			{ID: "c2", PersonaID: &personaID, Platform: models.PlatformGoogle, DailyBudget: decimal.NewFromInt(300), Status: models.StatusActive},
		},
		updateErrs: map[string]error{"c1": errors.New("deadlock detected")},
	}
	o := newTestCrossPlatform(&fakePersonaStore{persona: testPersona()}, campaigns, &fakePlatformMetrics{}, nil, nil)

	rec := &models.CrossPlatformRecommendation{
		PersonaID: personaID,
		Allocations: []models.PlatformAllocation{
			{Platform: models.PlatformMeta, RecommendedBudget: decimal.NewFromInt(500), ChangeAmount: decimal.NewFromInt(300)},
			{Platform: models.PlatformGoogle, RecommendedBudget: decimal.NewFromInt(400), ChangeAmount: decimal.NewFromInt(100)},
		},
	}

	report := o.ApplyCrossPlatformRecommendations(context.Background(), rec, false)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, string(models.PlatformMeta), report.Failed[0].EntityID)
	assert.Equal(t, []models.Platform{models.PlatformGoogle}, report.Applied)
}
