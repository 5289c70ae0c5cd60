package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceScore(t *testing.T) {
	scorer := NewScorer(0.03, 0.08, 500)

	tests := []struct {
		name        string
		ctr         float64
		cvr         float64
		cpl         float64
		impressions int64
		expected    float64
	}{
		{
			name:        "all metrics at target",
			ctr:         0.03,
			cvr:         0.08,
			cpl:         0, // zero cost is a perfect CPL score
			impressions: 0,
			expected:    1.0,
		},
		{
			name:        "everything zero except CPL penalty",
			ctr:         0,
			cvr:         0,
			cpl:         500,
			impressions: 0,
			expected:    0,
		},
		{
			name:        "half targets",
			ctr:         0.015,
			cvr:         0.04,
			cpl:         250,
			impressions: 0,
			expected:    0.25*0.5 + 0.45*0.5 + 0.30*0.5,
		},
		{
			name:        "over-target ratios are capped",
			ctr:         0.30,
			cvr:         0.80,
			cpl:         0,
			impressions: 0,
			expected:    1.0,
		},
		{
			name:        "volume bonus caps at 0.10",
			ctr:         0,
			cvr:         0,
			cpl:         500,
			impressions: 50_000_000,
			expected:    0.10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.PerformanceScore(tt.ctr, tt.cvr, tt.cpl, tt.impressions)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestPerformanceScoreClamped(t *testing.T) {
	scorer := NewScorer(0.03, 0.08, 500)

	// Perfect ratios plus the volume bonus would exceed 1 without clamping.
	score := scorer.PerformanceScore(0.05, 0.10, 0, 10_000_000)
	assert.Equal(t, 1.0, score)

	// CPL far above target drives its component negative but never the
	// composite below zero.
	score = scorer.PerformanceScore(0, 0, 5000, 0)
	assert.Equal(t, 0.0, score)
}

func TestNewScorerDefaults(t *testing.T) {
	scorer := NewScorer(0, -1, 0)
	assert.Equal(t, 0.03, scorer.TargetCTR)
	assert.Equal(t, 0.08, scorer.TargetCVR)
	assert.Equal(t, 500.0, scorer.TargetCPL)
}

func TestPosteriorSampleDeterministic(t *testing.T) {
	a := NewSampler(42)
	b := NewSampler(42)

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.PosteriorSample(30, 100), b.PosteriorSample(30, 100))
	}
}

func TestPosteriorSampleRange(t *testing.T) {
	s := NewSampler(7)

	for i := 0; i < 1000; i++ {
		v := s.PosteriorSample(5, 20)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	// Zero trials draws from the uniform prior and must still be valid.
	v := s.PosteriorSample(0, 0)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestPosteriorSampleConcentratesWithEvidence(t *testing.T) {
	s := NewSampler(99)

	// With heavy evidence the posterior mean approaches the observed rate.
	sum := 0.0
	n := 2000
	for i := 0; i < n; i++ {
		sum += s.PosteriorSample(250, 1000)
	}
	assert.InDelta(t, 0.25, sum/float64(n), 0.01)
}

func TestTwoProportionTestSignificant(t *testing.T) {
	// 25% vs 2% conversion on 1000 trials each is overwhelmingly significant.
	result := TwoProportionTest(20, 1000, 250, 1000)

	assert.Less(t, result.PValue, 0.001)
	assert.InDelta(t, (0.25-0.02)/0.02, result.Lift, 1e-9)
	assert.Greater(t, result.CILow, 0.0)
	assert.Greater(t, result.CIHigh, result.CILow)
}

func TestTwoProportionTestSymmetry(t *testing.T) {
	ab := TwoProportionTest(30, 500, 50, 500)
	ba := TwoProportionTest(50, 500, 30, 500)

	assert.InDelta(t, ab.PValue, ba.PValue, 1e-12)
	assert.Greater(t, ab.Lift, 0.0)
	assert.Less(t, ba.Lift, 0.0)
}

func TestTwoProportionTestDegenerate(t *testing.T) {
	tests := []struct {
		name                           string
		cSucc, cTrials, vSucc, vTrials int64
	}{
		{"zero control trials", 0, 0, 10, 100},
		{"zero variant trials", 10, 100, 0, 0},
		{"zero control rate", 0, 100, 10, 100},
		{"identical full rates give zero SE", 100, 100, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TwoProportionTest(tt.cSucc, tt.cTrials, tt.vSucc, tt.vTrials)
			assert.Equal(t, 1.0, result.PValue)
			assert.Equal(t, 0.0, result.Lift)
		})
	}
}

func TestTwoProportionTestNoDifference(t *testing.T) {
	result := TwoProportionTest(50, 1000, 50, 1000)
	assert.InDelta(t, 1.0, result.PValue, 1e-9)
	assert.Equal(t, 0.0, result.Lift)
}

func TestConfidenceFromLeads(t *testing.T) {
	tests := []struct {
		leads    int64
		expected float64
	}{
		{0, 0.3},
		{9, 0.3},
		{10, 0.6},
		{49, 0.6},
		{50, 0.8},
		{99, 0.8},
		{100, 0.95},
		{10000, 0.95},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ConfidenceFromLeads(tt.leads))
	}
}

func TestContinuousConfidence(t *testing.T) {
	assert.Equal(t, 0.5, ContinuousConfidence(50, 100))
	assert.Equal(t, 1.0, ContinuousConfidence(250, 100))
	assert.Equal(t, 0.25, ContinuousConfidence(50, 200))
	// Non-positive divisor falls back to 100.
	assert.Equal(t, 0.5, ContinuousConfidence(50, 0))
}
