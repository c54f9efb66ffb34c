package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Bidon15/indexer-agent/internal/models"
)

// GlobalCostModel is the sentinel deployment supplying fallback models.
const GlobalCostModel = "global"

const costModelColumns = `id, deployment, model, variables, created_at, updated_at`

// CostModelRepository stores the append-only cost model history. The
// active model for a deployment is the row with the highest id.
type CostModelRepository interface {
	// Set appends a new version for the deployment.
	Set(ctx context.Context, model *models.CostModel) (*models.CostModel, error)
	// Latest returns the active version, or nil when the deployment has
	// no history.
	Latest(ctx context.Context, deployment string) (*models.CostModel, error)
	// LatestAll returns the active version of every deployment,
	// optionally restricted to the given deployments.
	LatestAll(ctx context.Context, deployments []string) ([]*models.CostModel, error)
	// Delete removes the full history of the given deployments.
	Delete(ctx context.Context, deployments []string) (int, error)
}

type costModelRepo struct {
	pool DB
}

// NewCostModelRepository creates a new cost model repository.
func NewCostModelRepository(pool DB) CostModelRepository {
	return &costModelRepo{pool: pool}
}

func scanCostModel(row pgx.Row) (*models.CostModel, error) {
	var m models.CostModel
	err := row.Scan(&m.ID, &m.Deployment, &m.Model, &m.Variables, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Set appends a new cost model version.
func (r *costModelRepo) Set(ctx context.Context, model *models.CostModel) (*models.CostModel, error) {
	return scanCostModel(r.pool.QueryRow(ctx, `
		INSERT INTO cost_models_history (deployment, model, variables)
		VALUES ($1, $2, $3)
		RETURNING `+costModelColumns,
		model.Deployment, model.Model, model.Variables))
}

// Latest returns the highest-id version for the deployment.
func (r *costModelRepo) Latest(ctx context.Context, deployment string) (*models.CostModel, error) {
	m, err := scanCostModel(r.pool.QueryRow(ctx, `
		SELECT `+costModelColumns+`
		FROM cost_models_history
		WHERE deployment = $1
		ORDER BY id DESC LIMIT 1`,
		deployment))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LatestAll returns MAX(id) per deployment, insert order being the sole
// arbiter of recency.
func (r *costModelRepo) LatestAll(ctx context.Context, deployments []string) ([]*models.CostModel, error) {
	query := `
		SELECT ` + costModelColumns + `
		FROM cost_models_history
		WHERE id IN (
			SELECT MAX(id) FROM cost_models_history GROUP BY deployment
		)`
	args := []any{}
	if len(deployments) > 0 {
		query += ` AND deployment = ANY($1)`
		args = append(args, deployments)
	}
	query += ` ORDER BY deployment ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.CostModel
	for rows.Next() {
		m, err := scanCostModel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Delete removes all versions of the given deployments in one
// transaction.
func (r *costModelRepo) Delete(ctx context.Context, deployments []string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM cost_models_history WHERE deployment = ANY($1)`, deployments)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Compile-time check to ensure costModelRepo implements CostModelRepository.
var _ CostModelRepository = (*costModelRepo)(nil)
