package database

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

func draftExperiment() *models.Experiment {
	return &models.Experiment{
		ID:         "exp-1",
		Name:       "Hero image vs lifestyle shot",
		Type:       models.ExperimentAB,
		Status:     models.ExperimentDraft,
		Hypothesis: "Lifestyle imagery converts better",
		Design: models.ExperimentDesign{Variants: []models.Variant{
			{Name: "control", CreativeID: "cr-1", IsControl: true, TrafficSplit: 0.5},
			{Name: "lifestyle", CreativeID: "cr-2", TrafficSplit: 0.5},
		}},
		Stats:     models.StatisticalParams{ConfidenceLevel: 0.95, MinDetectableFx: 0.10, MinSampleSize: 1000},
		StopRules: models.StopRules{MaxDurationDays: 14, EarlyStopOnSignificance: true},
	}
}

func TestExperimentCreate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewExperimentRepository(NewMockPoolAdapter(mock))

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO experiments")).
		WithArgs("exp-1", "Hero image vs lifestyle shot", pgxmock.AnyArg(), "ab", "draft",
			"Lifestyle imagery converts better", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	exp := draftExperiment()
	require.NoError(t, repo.Create(context.Background(), exp))
	assert.Equal(t, now, exp.CreatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExperimentGetByIDDecodesJSON(t *testing.T) {
	mock := newMockPool(t)
	repo := NewExperimentRepository(NewMockPoolAdapter(mock))

	src := draftExperiment()
	design, _ := json.Marshal(src.Design)
	stats, _ := json.Marshal(src.Stats)
	stopRules, _ := json.Marshal(src.StopRules)
	results, _ := json.Marshal(&models.ExperimentResult{PValue: 0.03, Lift: 0.4, IsSignificant: true, Winner: "lifestyle"})

	now := time.Now()
	started := now.Add(-72 * time.Hour)
	reason := ""
	mock.ExpectQuery(regexp.QuoteMeta("FROM experiments")).
		WithArgs("exp-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "persona_id", "type", "status", "hypothesis", "design",
			"statistical_params", "stop_rules", "results",
			"started_at", "stopped_at", "stop_reason", "completed_at", "created_at", "updated_at",
		}).AddRow(
			"exp-1", src.Name, nil, models.ExperimentAB, models.ExperimentRunning, src.Hypothesis, design,
			stats, stopRules, results,
			&started, nil, &reason, nil, now, now,
		))

	exp, err := repo.GetByID(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, models.ExperimentRunning, exp.Status)
	require.Len(t, exp.Design.Variants, 2)
	assert.True(t, exp.Design.Variants[0].IsControl)
	assert.Equal(t, 0.95, exp.Stats.ConfidenceLevel)
	assert.True(t, exp.StopRules.EarlyStopOnSignificance)
	require.NotNil(t, exp.Results)
	assert.Equal(t, "lifestyle", exp.Results.Winner)
	require.NotNil(t, exp.StartedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExperimentMarkRunningWrongState(t *testing.T) {
	mock := newMockPool(t)
	repo := NewExperimentRepository(NewMockPoolAdapter(mock))

	// Zero rows affected means the experiment is missing or not draft.
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'running'")).
		WithArgs("exp-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkRunning(context.Background(), "exp-1", time.Now())
	assert.True(t, utils.IsNotFound(err))
}

func TestExperimentMarkStopped(t *testing.T) {
	mock := newMockPool(t)
	repo := NewExperimentRepository(NewMockPoolAdapter(mock))

	stoppedAt := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'stopped'")).
		WithArgs("exp-1", stoppedAt, "futility").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.MarkStopped(context.Background(), "exp-1", "futility", stoppedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExperimentSaveResults(t *testing.T) {
	mock := newMockPool(t)
	repo := NewExperimentRepository(NewMockPoolAdapter(mock))

	mock.ExpectExec(regexp.QuoteMeta("SET results = $2")).
		WithArgs("exp-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.SaveResults(context.Background(), "exp-1", &models.ExperimentResult{PValue: 0.2})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteWinnerTransaction(t *testing.T) {
	mock := newMockPool(t)
	repo := NewCreativeRepository(NewMockPoolAdapter(mock))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE creatives")).
		WithArgs("cr-winner", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE creatives")).
		WithArgs("cr-loser-1", "archived").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE creatives")).
		WithArgs("cr-loser-2", "archived").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := repo.PromoteWinner(context.Background(), "cr-winner", []string{"cr-loser-1", "cr-loser-2"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteWinnerRollsBackOnMissingCreative(t *testing.T) {
	mock := newMockPool(t)
	repo := NewCreativeRepository(NewMockPoolAdapter(mock))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE creatives")).
		WithArgs("cr-winner", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE creatives")).
		WithArgs("cr-ghost", "archived").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.PromoteWinner(context.Background(), "cr-winner", []string{"cr-ghost"})
	assert.True(t, utils.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
