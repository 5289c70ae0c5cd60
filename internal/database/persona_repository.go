package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/utils"
)

// PersonaRepository reads persona characteristics. The optimizer only needs
// them as a fallback prior when a platform has no performance history.
type PersonaRepository struct {
	pool DatabasePool
}

// NewPersonaRepository creates a new persona repository.
func NewPersonaRepository(pool DatabasePool) *PersonaRepository {
	return &PersonaRepository{pool: pool}
}

// GetPersona returns a persona by id.
func (r *PersonaRepository) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	query := `
		SELECT id, name, budget_min, budget_max, urgency, decision_speed, created_at
		FROM personas
		WHERE id = $1
	`

	var p models.Persona
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.BudgetMin,
		&p.BudgetMax,
		&p.Urgency,
		&p.DecisionSpeed,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.NewNotFoundError("persona", id)
		}
		return nil, fmt.Errorf("failed to get persona %s: %w", id, err)
	}

	return &p, nil
}
