package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/credit-ledger/internal/platform/persistence"
)

// ActionCostRepository reads the action_costs table that overrides catalog defaults
type ActionCostRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewActionCostRepository(logger *slog.Logger, db *persistence.PostgresDB) *ActionCostRepository {
	return &ActionCostRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// LoadCosts returns cost_credits keyed by action code
func (r *ActionCostRepository) LoadCosts(ctx context.Context) (map[string]int64, error) {
	query := `SELECT action_code, cost_credits FROM action_costs`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to load action costs", "error", err)
		return nil, fmt.Errorf("failed to load action costs: %w", err)
	}
	defer rows.Close()

	costs := make(map[string]int64)
	for rows.Next() {
		var (
			code string
			cost int64
		)
		if err := rows.Scan(&code, &cost); err != nil {
			r.logger.Error("Failed to scan action cost", "error", err)
			return nil, fmt.Errorf("failed to scan action cost: %w", err)
		}
		costs[code] = cost
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over action costs", "error", err)
		return nil, fmt.Errorf("error iterating over action costs: %w", err)
	}
	return costs, nil
}

// UpsertCost sets the cost of one action code
func (r *ActionCostRepository) UpsertCost(ctx context.Context, actionCode string, cost int64, provider string) error {
	query := `
		INSERT INTO action_costs (action_code, cost_credits, provider, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (action_code) DO UPDATE
		SET cost_credits = EXCLUDED.cost_credits, provider = EXCLUDED.provider, updated_at = NOW()
	`

	if _, err := r.querier.Exec(ctx, query, actionCode, cost, provider); err != nil {
		r.logger.Error("Failed to upsert action cost", "action_code", actionCode, "error", err)
		return fmt.Errorf("failed to upsert action cost: %w", err)
	}
	return nil
}
