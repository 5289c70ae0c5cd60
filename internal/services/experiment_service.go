package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/telemetry"
	"github.com/leadpilot/adops-go/internal/utils"
)

// experimentStore is the experiment persistence surface.
type experimentStore interface {
	Create(ctx context.Context, exp *models.Experiment) error
	GetByID(ctx context.Context, id string) (*models.Experiment, error)
	ListByStatus(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkStopped(ctx context.Context, id, reason string, stoppedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error
	SaveResults(ctx context.Context, id string, results *models.ExperimentResult) error
}

// creativeStore promotes winning creatives.
type creativeStore interface {
	PromoteWinner(ctx context.Context, winnerID string, loserIDs []string) error
}

// creativeMetricsStore aggregates metric rows through the creative -> ads
// chain.
type creativeMetricsStore interface {
	AggregateByCreative(ctx context.Context, creativeID string, since time.Time) (*models.MetricSummary, error)
}

// ExperimentNotifier is the optional alerting hook for stoppable
// experiments.
type ExperimentNotifier interface {
	NotifyStoppableExperiment(ctx context.Context, exp *models.Experiment, decision *models.StoppingDecision)
}

// Stop reasons reported by the stopping-rule evaluation. Significance ranks
// first when several rules fire in the same check.
const (
	StopReasonSignificance = "statistical significance reached with early stopping enabled"
	StopReasonMaxDuration  = "maximum experiment duration reached"
	StopReasonFutility     = "futility: observed lift too small to reach the target effect"
)

// ExperimentSpec is the creation request for a new experiment. Zero-valued
// statistical and stop-rule parameters fall back to configured defaults.
type ExperimentSpec struct {
	Name       string                   `json:"name"`
	PersonaID  *string                  `json:"persona_id,omitempty"`
	Type       models.ExperimentType    `json:"type"`
	Hypothesis string                   `json:"hypothesis"`
	Variants   []models.Variant         `json:"variants"`
	Stats      models.StatisticalParams `json:"statistical_params"`
	StopRules  models.StopRules         `json:"stop_rules"`
}

// ExperimentCheckReport is the outcome of a batch stopping-rule pass.
type ExperimentCheckReport struct {
	Checked   int                       `json:"checked"`
	Stoppable []models.StoppingDecision `json:"stoppable"`
	Failed    []models.ApplyFailure     `json:"failed"`
}

// ExperimentService designs, analyzes and auto-stops A/B and multivariate
// experiments over creative variants.
type ExperimentService struct {
	cfg         config.ExperimentsConfig
	experiments experimentStore
	creatives   creativeStore
	metrics     creativeMetricsStore
	notifier    ExperimentNotifier
	logger      *logrus.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewExperimentService creates a new experiment service.
func NewExperimentService(cfg config.ExperimentsConfig, experiments experimentStore, creatives creativeStore, metrics creativeMetricsStore, logger *logrus.Logger) *ExperimentService {
	return &ExperimentService{
		cfg:         cfg,
		experiments: experiments,
		creatives:   creatives,
		metrics:     metrics,
		logger:      logger,
		tracer:      telemetry.Tracer(),
		now:         time.Now,
	}
}

// SetNotifier attaches the optional alerting hook.
func (s *ExperimentService) SetNotifier(n ExperimentNotifier) {
	s.notifier = n
}

// SetClock overrides the time source for tests.
func (s *ExperimentService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateExperiment validates the design and persists a draft experiment.
// A valid design has exactly one control, at least one treatment, and a
// traffic split summing to 1.0; an all-zero split defaults to equal shares.
func (s *ExperimentService) CreateExperiment(ctx context.Context, spec ExperimentSpec) (*models.Experiment, error) {
	if spec.Name == "" {
		return nil, utils.NewValidationError("experiment name is required")
	}
	if spec.Type == "" {
		spec.Type = models.ExperimentAB
	}

	variants := make([]models.Variant, len(spec.Variants))
	copy(variants, spec.Variants)

	controls := 0
	splitSum := 0.0
	for _, v := range variants {
		if v.CreativeID == "" {
			return nil, utils.NewValidationErrorf("variant %q has no creative", v.Name)
		}
		if v.IsControl {
			controls++
		}
		splitSum += v.TrafficSplit
	}
	if controls != 1 {
		return nil, utils.NewValidationErrorf("experiment requires exactly one control variant, got %d", controls)
	}
	if len(variants) < 2 {
		return nil, utils.NewValidationError("experiment requires at least one treatment variant")
	}

	if splitSum == 0 {
		equal := 1.0 / float64(len(variants))
		for i := range variants {
			variants[i].TrafficSplit = equal
		}
	} else if math.Abs(splitSum-1.0) > 1e-6 {
		return nil, utils.NewValidationErrorf("traffic split must sum to 1.0, got %.4f", splitSum)
	}

	stats := spec.Stats
	if stats.ConfidenceLevel <= 0 || stats.ConfidenceLevel >= 1 {
		stats.ConfidenceLevel = s.cfg.DefaultConfidenceLevel
	}
	if stats.MinDetectableFx <= 0 {
		stats.MinDetectableFx = s.cfg.DefaultMinDetectable
	}
	if stats.MinSampleSize <= 0 {
		stats.MinSampleSize = s.cfg.DefaultMinSampleSize
	}
	stopRules := spec.StopRules
	if stopRules.MaxDurationDays <= 0 {
		stopRules.MaxDurationDays = s.cfg.DefaultMaxDurationDays
	}

	exp := &models.Experiment{
		ID:         uuid.NewString(),
		Name:       spec.Name,
		PersonaID:  spec.PersonaID,
		Type:       spec.Type,
		Status:     models.ExperimentDraft,
		Hypothesis: spec.Hypothesis,
		Design:     models.ExperimentDesign{Variants: variants},
		Stats:      stats,
		StopRules:  stopRules,
	}

	if err := s.experiments.Create(ctx, exp); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"experiment_id": exp.ID,
		"type":          exp.Type,
		"variants":      len(variants),
	}).Info("Experiment created")

	return exp, nil
}

// GetExperiment fetches one experiment with its latest analysis snapshot.
func (s *ExperimentService) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return s.experiments.GetByID(ctx, id)
}

// StartExperiment transitions a draft experiment to running.
func (s *ExperimentService) StartExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != models.ExperimentDraft {
		return nil, utils.NewValidationErrorf("experiment %s is %s, only draft experiments can be started", id, exp.Status)
	}

	startedAt := s.now()
	if err := s.experiments.MarkRunning(ctx, id, startedAt); err != nil {
		return nil, err
	}
	exp.Status = models.ExperimentRunning
	exp.StartedAt = &startedAt

	s.logger.WithField("experiment_id", id).Info("Experiment started")
	return exp, nil
}

// AnalyzeExperiment recomputes variant rollups and the significance test,
// then persists the snapshot onto the experiment. Analysis is idempotent:
// reruns overwrite the previous snapshot.
func (s *ExperimentService) AnalyzeExperiment(ctx context.Context, id string) (*models.ExperimentResult, error) {
	ctx, span := s.tracer.Start(ctx, "experiment_service.analyze")
	defer span.End()

	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.analyze(ctx, exp)
	if err != nil {
		return nil, err
	}
	if err := s.experiments.SaveResults(ctx, id, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ExperimentService) analyze(ctx context.Context, exp *models.Experiment) (*models.ExperimentResult, error) {
	if exp.StartedAt == nil {
		return nil, utils.NewValidationErrorf("experiment %s has not started, nothing to analyze", exp.ID)
	}

	control := exp.Design.Control()
	if control == nil {
		return nil, utils.NewValidationErrorf("experiment %s has no control variant", exp.ID)
	}

	variantResults := make([]models.VariantResult, 0, len(exp.Design.Variants))
	byName := make(map[string]models.VariantResult, len(exp.Design.Variants))
	totalLeads := int64(0)
	sampleSufficient := true

	for _, v := range exp.Design.Variants {
		summary, err := s.metrics.AggregateByCreative(ctx, v.CreativeID, *exp.StartedAt)
		if err != nil {
			return nil, err
		}
		vr := models.VariantResult{
			Name:        v.Name,
			CreativeID:  v.CreativeID,
			IsControl:   v.IsControl,
			Impressions: summary.Impressions,
			Clicks:      summary.Clicks,
			Leads:       summary.Leads,
			Conversions: summary.Conversions,
			Spend:       summary.Spend,
			CTR:         summary.CTR(),
			CVR:         summary.CVR(),
			CPL:         summary.CPL(),
		}
		variantResults = append(variantResults, vr)
		byName[v.Name] = vr
		totalLeads += summary.Leads
		if summary.Impressions < exp.Stats.MinSampleSize {
			sampleSufficient = false
		}
	}

	controlResult := byName[control.Name]

	// Test every treatment against control on conversions/leads and report
	// the pairing with the strongest evidence.
	best := NoEvidence()
	bestVariant := ""
	for _, t := range exp.Design.Treatments() {
		tr := byName[t.Name]
		test := TwoProportionTest(controlResult.Conversions, controlResult.Leads, tr.Conversions, tr.Leads)
		if bestVariant == "" || test.PValue < best.PValue {
			best = test
			bestVariant = t.Name
		}
	}

	isSignificant := best.PValue < 1-exp.Stats.ConfidenceLevel
	winner := ""
	if isSignificant {
		if best.Lift > 0 {
			winner = bestVariant
		} else {
			winner = control.Name
		}
	}

	result := &models.ExperimentResult{
		AnalyzedAt:           s.now(),
		Variants:             variantResults,
		ComparedVariant:      bestVariant,
		PValue:               best.PValue,
		Lift:                 best.Lift,
		ConfidenceIntervalLo: best.CILow,
		ConfidenceIntervalHi: best.CIHigh,
		IsSignificant:        isSignificant,
		Winner:               winner,
		SampleSizeSufficient: sampleSufficient,
		DataConfidence:       ContinuousConfidence(totalLeads, s.cfg.ConfidenceDivisor),
	}

	s.logger.WithFields(logrus.Fields{
		"experiment_id":  exp.ID,
		"p_value":        result.PValue,
		"lift":           result.Lift,
		"is_significant": result.IsSignificant,
		"winner":         result.Winner,
	}).Info("Experiment analyzed")

	return result, nil
}

// CheckStoppingRules evaluates the three stop conditions independently and
// accumulates every satisfied reason. Significance is listed first so it
// takes precedence as the recorded stop reason when rules disagree.
func (s *ExperimentService) CheckStoppingRules(ctx context.Context, id string) (*models.StoppingDecision, error) {
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != models.ExperimentRunning {
		return nil, utils.NewValidationErrorf("experiment %s is %s, stopping rules apply to running experiments", id, exp.Status)
	}

	result, err := s.analyze(ctx, exp)
	if err != nil {
		return nil, err
	}
	if err := s.experiments.SaveResults(ctx, id, result); err != nil {
		return nil, err
	}

	decision := &models.StoppingDecision{ExperimentID: id}
	daysRunning := exp.DaysRunning(s.now())

	if result.IsSignificant && exp.StopRules.EarlyStopOnSignificance {
		decision.Reasons = append(decision.Reasons, StopReasonSignificance)
	}
	if exp.StopRules.MaxDurationDays > 0 && daysRunning >= exp.StopRules.MaxDurationDays {
		decision.Reasons = append(decision.Reasons, StopReasonMaxDuration)
	}
	futility := exp.StopRules.FutilityThreshold
	if futility <= 0 {
		futility = exp.Stats.MinDetectableFx / 3
	}
	if result.SampleSizeSufficient &&
		math.Abs(result.Lift) < futility &&
		daysRunning > exp.StopRules.MaxDurationDays/2 {
		decision.Reasons = append(decision.Reasons, StopReasonFutility)
	}

	decision.ShouldStop = len(decision.Reasons) > 0
	return decision, nil
}

// StopExperiment transitions a running experiment to stopped, recording the
// reason and timestamp. No statistical side effects.
func (s *ExperimentService) StopExperiment(ctx context.Context, id, reason string) error {
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status != models.ExperimentRunning {
		return utils.NewValidationErrorf("experiment %s is %s, only running experiments can be stopped", id, exp.Status)
	}

	if err := s.experiments.MarkStopped(ctx, id, reason, s.now()); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"experiment_id": id,
		"reason":        reason,
	}).Info("Experiment stopped")
	return nil
}

// CompleteExperiment re-analyzes, transitions to completed and, when
// applyWinner is set and a statistically significant winner exists,
// promotes the winning creative: the winner is activated and every losing
// creative archived in one transaction. Campaigns and ad sets are not
// touched.
func (s *ExperimentService) CompleteExperiment(ctx context.Context, id string, applyWinner bool) (*models.ExperimentResult, error) {
	ctx, span := s.tracer.Start(ctx, "experiment_service.complete")
	defer span.End()

	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != models.ExperimentRunning {
		return nil, utils.NewValidationErrorf("experiment %s is %s, only running experiments can be completed", id, exp.Status)
	}

	result, err := s.analyze(ctx, exp)
	if err != nil {
		return nil, err
	}
	if err := s.experiments.SaveResults(ctx, id, result); err != nil {
		return nil, err
	}
	if err := s.experiments.MarkCompleted(ctx, id, s.now()); err != nil {
		return nil, err
	}

	if applyWinner && result.IsSignificant && result.Winner != "" {
		if err := s.promoteWinner(ctx, exp, result.Winner); err != nil {
			// Completion already happened; promotion failure is surfaced to
			// the caller but does not unwind the state transition.
			return result, fmt.Errorf("experiment %s completed but winner promotion failed: %w", id, err)
		}
	}

	return result, nil
}

func (s *ExperimentService) promoteWinner(ctx context.Context, exp *models.Experiment, winnerName string) error {
	var winnerID string
	var loserIDs []string
	for _, v := range exp.Design.Variants {
		if v.Name == winnerName {
			winnerID = v.CreativeID
		} else {
			loserIDs = append(loserIDs, v.CreativeID)
		}
	}
	if winnerID == "" {
		return utils.NewValidationErrorf("winner %q is not a variant of experiment %s", winnerName, exp.ID)
	}

	if err := s.creatives.PromoteWinner(ctx, winnerID, loserIDs); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"experiment_id": exp.ID,
		"winner":        winnerName,
		"archived":      len(loserIDs),
	}).Info("Winning creative promoted")
	return nil
}

// RunExperimentChecks evaluates stopping rules for every running experiment.
// Each experiment's check is isolated: a failure lands in the report and
// the batch continues.
func (s *ExperimentService) RunExperimentChecks(ctx context.Context) (*ExperimentCheckReport, error) {
	ctx, span := s.tracer.Start(ctx, "experiment_service.run_checks")
	defer span.End()

	running, err := s.experiments.ListByStatus(ctx, models.ExperimentRunning)
	if err != nil {
		return nil, err
	}

	report := &ExperimentCheckReport{Checked: len(running)}
	for i := range running {
		exp := running[i]
		decision, err := s.CheckStoppingRules(ctx, exp.ID)
		if err != nil {
			s.logger.WithError(err).WithField("experiment_id", exp.ID).Error("Stopping-rule check failed")
			report.Failed = append(report.Failed, models.ApplyFailure{EntityID: exp.ID, Error: err.Error()})
			continue
		}
		if decision.ShouldStop {
			report.Stoppable = append(report.Stoppable, *decision)
			if s.notifier != nil {
				s.notifier.NotifyStoppableExperiment(ctx, &exp, decision)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"stoppable": len(report.Stoppable),
		"failed":    len(report.Failed),
	}).Info("Experiment checks complete")

	return report, nil
}
