package services

import (
	"math"
	"math/rand"
	"time"
)

// Scorer computes composite performance scores from CTR/CVR/CPL ratios.
// The target values are reference benchmarks for normalization and are
// tunable through config, not domain constants.
type Scorer struct {
	TargetCTR float64
	TargetCVR float64
	TargetCPL float64
}

// NewScorer creates a scorer with the given reference benchmarks. Zero or
// negative targets fall back to the standard defaults (3% CTR, 8% CVR,
// $500 CPL).
func NewScorer(targetCTR, targetCVR, targetCPL float64) *Scorer {
	if targetCTR <= 0 {
		targetCTR = 0.03
	}
	if targetCVR <= 0 {
		targetCVR = 0.08
	}
	if targetCPL <= 0 {
		targetCPL = 500
	}
	return &Scorer{TargetCTR: targetCTR, TargetCVR: targetCVR, TargetCPL: targetCPL}
}

// PerformanceScore maps CTR, CVR, CPL and impression volume to [0,1].
// CVR dominates the composite (45%) because conversions are what the CRM
// ultimately sells; a volume bonus capped at 0.10 rewards statistical mass.
func (s *Scorer) PerformanceScore(ctr, cvr, cpl float64, impressions int64) float64 {
	ctrScore := math.Min(1, ctr/s.TargetCTR)
	cvrScore := math.Min(1, cvr/s.TargetCVR)
	cplScore := math.Max(0, 1-cpl/s.TargetCPL)

	score := 0.25*ctrScore + 0.45*cvrScore + 0.30*cplScore

	volumeBonus := math.Min(0.10, float64(impressions)/1_000_000)
	score += volumeBonus

	return clamp01(score)
}

// Sampler draws from probability distributions with an injectable random
// source. Tests seed it for deterministic allocations; production creates a
// fresh time-seeded sampler per optimization pass.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler with a fixed seed.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// NewRandomSampler creates a sampler seeded from the clock. One sampler per
// invocation keeps passes independent without sharing rng state across
// goroutines.
func NewRandomSampler() *Sampler {
	return NewSampler(time.Now().UnixNano())
}

// PosteriorSample draws one sample from the Beta posterior of a
// success/trial proportion under a uniform prior:
// Beta(successes+1, trials-successes+1). Zero trials yields a draw from the
// uninformative prior, which is valid and deliberately wide.
func (s *Sampler) PosteriorSample(successes, trials int64) float64 {
	if successes < 0 {
		successes = 0
	}
	if trials < successes {
		trials = successes
	}
	return s.Beta(float64(successes)+1, float64(trials-successes)+1)
}

// Beta draws from Beta(alpha, beta) as the ratio of two Gamma draws.
func (s *Sampler) Beta(alpha, beta float64) float64 {
	x := s.gamma(alpha)
	y := s.gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gamma draws from Gamma(shape, 1) using the Marsaglia-Tsang squeeze method.
func (s *Sampler) gamma(shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		// Boost to shape+1 and scale back down.
		u := s.rng.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := s.rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

// ProportionTestResult is the outcome of a two-proportion z-test.
type ProportionTestResult struct {
	PValue float64 `json:"p_value"`
	Lift   float64 `json:"lift"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
}

// NoEvidence is the neutral test result returned for degenerate inputs:
// p-value 1.0 and zero lift, so downstream logic treats sparse data as
// "no signal" instead of crashing.
func NoEvidence() ProportionTestResult {
	return ProportionTestResult{PValue: 1.0}
}

// TwoProportionTest runs a pooled two-proportion z-test of the variant
// against the control. Lift is relative ((p2-p1)/p1); the confidence
// interval is the 95% interval for the raw difference p2-p1.
func TwoProportionTest(controlSuccesses, controlTrials, variantSuccesses, variantTrials int64) ProportionTestResult {
	if controlTrials == 0 || variantTrials == 0 {
		return NoEvidence()
	}

	p1 := float64(controlSuccesses) / float64(controlTrials)
	p2 := float64(variantSuccesses) / float64(variantTrials)

	if p1 == 0 {
		return NoEvidence()
	}

	n1 := float64(controlTrials)
	n2 := float64(variantTrials)
	pooled := (float64(controlSuccesses) + float64(variantSuccesses)) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return NoEvidence()
	}

	z := (p2 - p1) / se
	pValue := 2 * (1 - normalCDF(math.Abs(z)))

	lift := (p2 - p1) / p1

	// 95% CI for the raw difference uses the unpooled standard error.
	seDiff := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	diff := p2 - p1

	return ProportionTestResult{
		PValue: pValue,
		Lift:   lift,
		CILow:  diff - 1.96*seDiff,
		CIHigh: diff + 1.96*seDiff,
	}
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// ConfidenceFromLeads buckets lead volume into a confidence level. Used by
// the campaign budget allocator's recommendations.
func ConfidenceFromLeads(leads int64) float64 {
	switch {
	case leads < 10:
		return 0.3
	case leads < 50:
		return 0.6
	case leads < 100:
		return 0.8
	default:
		return 0.95
	}
}

// ContinuousConfidence is the smooth min(1, leads/divisor) form used by the
// cross-platform allocator and experiment engine, each with its own divisor.
func ContinuousConfidence(leads, divisor int64) float64 {
	if divisor <= 0 {
		divisor = 100
	}
	return math.Min(1, float64(leads)/float64(divisor))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
