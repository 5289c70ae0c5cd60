package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExperimentType distinguishes the supported experiment designs.
type ExperimentType string

const (
	ExperimentAB           ExperimentType = "ab"
	ExperimentMultivariate ExperimentType = "multivariate"
	ExperimentSequential   ExperimentType = "sequential"
)

// ExperimentStatus is the experiment lifecycle. Transitions are
// draft -> running -> (stopped | completed); both end states are terminal
// and experiments are never deleted.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentStopped   ExperimentStatus = "stopped"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Variant references a creative under test. Exactly one variant in a design
// is the control.
type Variant struct {
	Name         string  `json:"name"`
	CreativeID   string  `json:"creative_id"`
	IsControl    bool    `json:"is_control"`
	TrafficSplit float64 `json:"traffic_split"`
}

// ExperimentDesign is the control plus ordered treatments. Traffic splits
// must sum to 1.0.
type ExperimentDesign struct {
	Variants []Variant `json:"variants"`
}

// Control returns the control variant, nil when the design has none.
func (d *ExperimentDesign) Control() *Variant {
	for i := range d.Variants {
		if d.Variants[i].IsControl {
			return &d.Variants[i]
		}
	}
	return nil
}

// Treatments returns the non-control variants in design order.
func (d *ExperimentDesign) Treatments() []Variant {
	out := make([]Variant, 0, len(d.Variants))
	for _, v := range d.Variants {
		if !v.IsControl {
			out = append(out, v)
		}
	}
	return out
}

// StatisticalParams configure the analysis step.
type StatisticalParams struct {
	ConfidenceLevel float64 `json:"confidence_level"` // e.g. 0.95
	MinDetectableFx float64 `json:"min_detectable_effect"`
	MinSampleSize   int64   `json:"min_sample_size"` // impressions per variant
}

// StopRules configure the stopping-rule evaluation.
type StopRules struct {
	MaxDurationDays         int     `json:"max_duration_days"`
	EarlyStopOnSignificance bool    `json:"early_stop_on_significance"`
	FutilityThreshold       float64 `json:"futility_threshold"`
}

// Experiment is an A/B or multivariate test over creative variants. Rows are
// append-only for audit purposes; only explicit state transitions and the
// analysis snapshot mutate them.
type Experiment struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	PersonaID   *string           `json:"persona_id,omitempty" db:"persona_id"`
	Type        ExperimentType    `json:"type" db:"type"`
	Status      ExperimentStatus  `json:"status" db:"status"`
	Hypothesis  string            `json:"hypothesis" db:"hypothesis"`
	Design      ExperimentDesign  `json:"design" db:"design"`
	Stats       StatisticalParams `json:"statistical_params" db:"statistical_params"`
	StopRules   StopRules         `json:"stop_rules" db:"stop_rules"`
	Results     *ExperimentResult `json:"results,omitempty" db:"results"`
	StartedAt   *time.Time        `json:"started_at,omitempty" db:"started_at"`
	StoppedAt   *time.Time        `json:"stopped_at,omitempty" db:"stopped_at"`
	StopReason  string            `json:"stop_reason,omitempty" db:"stop_reason"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// DaysRunning returns whole days since the experiment started, zero for
// experiments that never ran.
func (e *Experiment) DaysRunning(now time.Time) int {
	if e.StartedAt == nil {
		return 0
	}
	return int(now.Sub(*e.StartedAt).Hours() / 24)
}

// VariantResult is the on-demand per-variant metric rollup.
type VariantResult struct {
	Name        string          `json:"name"`
	CreativeID  string          `json:"creative_id"`
	IsControl   bool            `json:"is_control"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Leads       int64           `json:"leads"`
	Conversions int64           `json:"conversions"`
	Spend       decimal.Decimal `json:"spend"`
	CTR         float64         `json:"ctr"`
	CVR         float64         `json:"cvr"`
	CPL         float64         `json:"cpl"`
}

// ExperimentResult is the analysis snapshot persisted onto the experiment.
// Re-running the analysis overwrites it.
type ExperimentResult struct {
	AnalyzedAt           time.Time       `json:"analyzed_at"`
	Variants             []VariantResult `json:"variants"`
	ComparedVariant      string          `json:"compared_variant"` // treatment with the lowest p-value
	PValue               float64         `json:"p_value"`
	Lift                 float64         `json:"lift"`
	ConfidenceIntervalLo float64         `json:"confidence_interval_lo"`
	ConfidenceIntervalHi float64         `json:"confidence_interval_hi"`
	IsSignificant        bool            `json:"is_significant"`
	Winner               string          `json:"winner,omitempty"`
	SampleSizeSufficient bool            `json:"sample_size_sufficient"`
	DataConfidence       float64         `json:"data_confidence"`
}

// StoppingDecision is the result of evaluating an experiment's stop rules.
// Reasons accumulate; when several rules fire at once the significance
// reason is listed first and is the one recorded as the stop reason.
type StoppingDecision struct {
	ExperimentID string   `json:"experiment_id"`
	ShouldStop   bool     `json:"should_stop"`
	Reasons      []string `json:"reasons"`
}
