package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

// ExperimentRepository handles database operations for experiments.
// Experiments are never deleted; only state transitions and the analysis
// snapshot mutate a row.
type ExperimentRepository struct {
	pool DatabasePool
}

// NewExperimentRepository creates a new experiment repository.
func NewExperimentRepository(pool DatabasePool) *ExperimentRepository {
	return &ExperimentRepository{pool: pool}
}

// Create inserts a draft experiment.
func (r *ExperimentRepository) Create(ctx context.Context, exp *models.Experiment) error {
	design, err := json.Marshal(exp.Design)
	if err != nil {
		return fmt.Errorf("failed to encode design: %w", err)
	}
	stats, err := json.Marshal(exp.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode statistical params: %w", err)
	}
	stopRules, err := json.Marshal(exp.StopRules)
	if err != nil {
		return fmt.Errorf("failed to encode stop rules: %w", err)
	}

	query := `
		INSERT INTO experiments
			(id, name, persona_id, type, status, hypothesis, design, statistical_params, stop_rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err = r.pool.QueryRow(ctx, query,
		exp.ID, exp.Name, exp.PersonaID, string(exp.Type), string(exp.Status),
		exp.Hypothesis, design, stats, stopRules,
	).Scan(&exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	return nil
}

// GetByID returns an experiment by id.
func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*models.Experiment, error) {
	query := `
		SELECT id, name, persona_id, type, status, hypothesis, design,
		       statistical_params, stop_rules, results,
		       started_at, stopped_at, stop_reason, completed_at, created_at, updated_at
		FROM experiments
		WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.NewNotFoundError("experiment", id)
		}
		return nil, fmt.Errorf("failed to get experiment %s: %w", id, err)
	}

	return exp, nil
}

// ListByStatus returns every experiment in the given state, oldest first.
func (r *ExperimentRepository) ListByStatus(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	query := `
		SELECT id, name, persona_id, type, status, hypothesis, design,
		       statistical_params, stop_rules, results,
		       started_at, stopped_at, stop_reason, completed_at, created_at, updated_at
		FROM experiments
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s experiments: %w", status, err)
	}
	defer rows.Close()

	var experiments []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, *exp)
	}

	return experiments, rows.Err()
}

// MarkRunning transitions a draft experiment to running.
func (r *ExperimentRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE experiments
		SET status = 'running', started_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'draft'
	`
	return r.transition(ctx, id, query, startedAt)
}

// MarkStopped transitions a running experiment to stopped with a reason.
func (r *ExperimentRepository) MarkStopped(ctx context.Context, id, reason string, stoppedAt time.Time) error {
	query := `
		UPDATE experiments
		SET status = 'stopped', stop_reason = $3, stopped_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'running'
	`
	return r.transition(ctx, id, query, stoppedAt, reason)
}

// MarkCompleted transitions a running experiment to completed.
func (r *ExperimentRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	query := `
		UPDATE experiments
		SET status = 'completed', completed_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'running'
	`
	return r.transition(ctx, id, query, completedAt)
}

func (r *ExperimentRepository) transition(ctx context.Context, id, query string, args ...interface{}) error {
	allArgs := append([]interface{}{id}, args...)
	tag, err := r.pool.Exec(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("failed to transition experiment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown id or an illegal state transition; the service
		// distinguishes the two by re-reading the row.
		return utils.NewNotFoundError("experiment (in expected state)", id)
	}
	return nil
}

// SaveResults overwrites the analysis snapshot. Analysis is idempotent, so
// reruns replace rather than append.
func (r *ExperimentRepository) SaveResults(ctx context.Context, id string, results *models.ExperimentResult) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	query := `
		UPDATE experiments
		SET results = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("failed to save results for experiment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return utils.NewNotFoundError("experiment", id)
	}

	return nil
}

func scanExperiment(row pgx.Row) (*models.Experiment, error) {
	var exp models.Experiment
	var design, stats, stopRules []byte
	var results []byte
	var stopReason *string

	err := row.Scan(
		&exp.ID,
		&exp.Name,
		&exp.PersonaID,
		&exp.Type,
		&exp.Status,
		&exp.Hypothesis,
		&design,
		&stats,
		&stopRules,
		&results,
		&exp.StartedAt,
		&exp.StoppedAt,
		&stopReason,
		&exp.CompletedAt,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(design, &exp.Design); err != nil {
		return nil, fmt.Errorf("failed to decode design: %w", err)
	}
	if err := json.Unmarshal(stats, &exp.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode statistical params: %w", err)
	}
	if err := json.Unmarshal(stopRules, &exp.StopRules); err != nil {
		return nil, fmt.Errorf("failed to decode stop rules: %w", err)
	}
	if len(results) > 0 {
		exp.Results = &models.ExperimentResult{}
		if err := json.Unmarshal(results, exp.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results: %w", err)
		}
	}
	if stopReason != nil {
		exp.StopReason = *stopReason
	}

	return &exp, nil
}
