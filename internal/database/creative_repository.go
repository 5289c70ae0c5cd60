package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

// CreativeRepository writes creative status transitions. Winner promotion is
// the only multi-row write in the engine, so it runs inside one transaction.
type CreativeRepository struct {
	pool DatabasePool
}

// NewCreativeRepository creates a new creative repository.
func NewCreativeRepository(pool DatabasePool) *CreativeRepository {
	return &CreativeRepository{pool: pool}
}

// PromoteWinner activates the winning creative and archives the losers in a
// single transaction. The creative set changes all-or-nothing.
func (r *CreativeRepository) PromoteWinner(ctx context.Context, winnerID string, loserIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin promotion transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.setStatusTx(ctx, tx, winnerID, models.CreativeActive); err != nil {
		return err
	}
	for _, id := range loserIDs {
		if err := r.setStatusTx(ctx, tx, id, models.CreativeArchived); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit promotion transaction: %w", err)
	}

	return nil
}

func (r *CreativeRepository) setStatusTx(ctx context.Context, tx pgx.Tx, id string, status models.CreativeStatus) error {
	query := `
		UPDATE creatives
		SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set creative %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return utils.NewNotFoundError("creative", id)
	}

	return nil
}
