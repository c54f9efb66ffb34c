package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

const actionColumns = `
	id, status, type, deployment_id, allocation_id, amount::text, poi,
	force, priority, source, reason, is_legacy, syncing_network,
	transaction, failure_reason, protocol_network, created_at, updated_at`

// ActionRepository defines the interface for action queue persistence.
type ActionRepository interface {
	// Upsert applies the queue's uniqueness invariant: at most one
	// non-terminal action per (deployment, network). An existing
	// non-terminal action is overwritten only when source and status
	// match the incoming action; otherwise the insert is refused.
	Upsert(ctx context.Context, action *models.Action) (*models.Action, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Action, error)
	Find(ctx context.Context, filter models.ActionFilter, orderBy *models.ActionOrderBy, direction *models.OrderDirection) ([]*models.Action, error)
	// UpdateStatus moves actions to a new status, optionally recording a
	// failure reason and transaction hash. All rows update in one
	// transaction.
	UpdateStatus(ctx context.Context, ids []int64, status models.ActionStatus, failureReason, transaction *string) ([]*models.Action, error)
	Delete(ctx context.Context, ids []int64) (int, error)
	// HasRecentTerminal reports whether a success/failed action of the
	// given type touched the deployment within the window.
	HasRecentTerminal(ctx context.Context, deploymentID, protocolNetwork string, actionType models.ActionType, window time.Duration) (bool, error)
	// MarkStaleFailed fails actions stuck in deploying/pending longer
	// than the timeout. Returns the number of actions failed.
	MarkStaleFailed(ctx context.Context, timeout time.Duration) (int, error)
}

type actionRepo struct {
	pool DB
}

// NewActionRepository creates a new action repository.
func NewActionRepository(pool DB) ActionRepository {
	return &actionRepo{pool: pool}
}

func scanAction(row pgx.Row) (*models.Action, error) {
	var a models.Action
	err := row.Scan(
		&a.ID,
		&a.Status,
		&a.Type,
		&a.DeploymentID,
		&a.AllocationID,
		&a.Amount,
		&a.POI,
		&a.Force,
		&a.Priority,
		&a.Source,
		&a.Reason,
		&a.IsLegacy,
		&a.SyncingNetwork,
		&a.Transaction,
		&a.FailureReason,
		&a.ProtocolNetwork,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert inserts an action, or overwrites the existing non-terminal
// action targeting the same deployment when source and status match.
func (r *actionRepo) Upsert(ctx context.Context, action *models.Action) (*models.Action, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existing, err := scanAction(tx.QueryRow(ctx, `
		SELECT`+actionColumns+`
		FROM actions
		WHERE deployment_id = $1 AND protocol_network = $2
		  AND status IN ('queued', 'approved', 'deploying', 'pending')
		FOR UPDATE`,
		action.DeploymentID, action.ProtocolNetwork))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var stored *models.Action
	if existing != nil {
		if existing.Source != action.Source || existing.Status != action.Status {
			return nil, ierrors.Newf(ierrors.CodeDuplicateAction,
				"Duplicate action found in queue that effects '%s' but NOT overwritten because it has a different source and/or status.",
				action.DeploymentID)
		}
		stored, err = scanAction(tx.QueryRow(ctx, `
			UPDATE actions SET
				type = $2, allocation_id = $3, amount = $4::numeric, poi = $5,
				force = $6, priority = $7, reason = $8
			WHERE id = $1
			RETURNING`+actionColumns,
			existing.ID, action.Type, action.AllocationID, action.Amount,
			action.POI, action.Force, action.Priority, action.Reason))
	} else {
		stored, err = scanAction(tx.QueryRow(ctx, `
			INSERT INTO actions (
				status, type, deployment_id, allocation_id, amount, poi,
				force, priority, source, reason, is_legacy, syncing_network,
				protocol_network
			)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING`+actionColumns,
			action.Status, action.Type, action.DeploymentID, action.AllocationID,
			action.Amount, action.POI, action.Force, action.Priority,
			action.Source, action.Reason, action.IsLegacy, action.SyncingNetwork,
			action.ProtocolNetwork))
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetByIDs retrieves actions by id, ordered by id ascending.
func (r *actionRepo) GetByIDs(ctx context.Context, ids []int64) ([]*models.Action, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+actionColumns+` FROM actions WHERE id = ANY($1) ORDER BY id ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

// Find retrieves actions matching the filter. The default order is id
// ascending; an explicit order still tie-breaks by id ascending.
func (r *actionRepo) Find(ctx context.Context, filter models.ActionFilter, orderBy *models.ActionOrderBy, direction *models.OrderDirection) ([]*models.Action, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.IDs) > 0 {
		where = append(where, "id = ANY("+arg(filter.IDs)+")")
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	if filter.Type != nil {
		where = append(where, "type = "+arg(*filter.Type))
	}
	if filter.DeploymentID != nil {
		where = append(where, "deployment_id = "+arg(*filter.DeploymentID))
	}
	if filter.AllocationID != nil {
		where = append(where, "allocation_id = "+arg(*filter.AllocationID))
	}
	if filter.Amount != nil {
		where = append(where, "amount = "+arg(*filter.Amount)+"::numeric")
	}
	if filter.POI != nil {
		where = append(where, "poi = "+arg(*filter.POI))
	}
	if filter.Force != nil {
		where = append(where, "force = "+arg(*filter.Force))
	}
	if filter.Priority != nil {
		where = append(where, "priority = "+arg(*filter.Priority))
	}
	if filter.Source != nil {
		where = append(where, "source = "+arg(*filter.Source))
	}
	if filter.Reason != nil {
		where = append(where, "reason = "+arg(*filter.Reason))
	}
	if filter.Transaction != nil {
		where = append(where, "transaction = "+arg(*filter.Transaction))
	}
	if filter.FailureReason != nil {
		where = append(where, "failure_reason = "+arg(*filter.FailureReason))
	}
	if filter.ProtocolNetwork != nil {
		where = append(where, "protocol_network = "+arg(*filter.ProtocolNetwork))
	}
	if filter.CreatedSince != nil {
		where = append(where, "created_at >= now() - make_interval(secs => "+arg(filter.CreatedSince.Seconds())+")")
	}
	if filter.UpdatedSince != nil {
		where = append(where, "updated_at >= now() - make_interval(secs => "+arg(filter.UpdatedSince.Seconds())+")")
	}

	query := `SELECT` + actionColumns + ` FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order := "id ASC"
	if orderBy != nil {
		column, ok := models.ActionColumns[*orderBy]
		if !ok {
			return nil, ierrors.Newf(ierrors.CodeInvalidOrderBy, "invalid orderBy parameter '%s'", *orderBy)
		}
		dir := "ASC"
		if direction != nil && *direction == models.OrderDesc {
			dir = "DESC"
		}
		order = fmt.Sprintf("%s %s, id ASC", column, dir)
	}
	query += " ORDER BY " + order

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

// UpdateStatus transitions actions and returns the updated rows.
func (r *actionRepo) UpdateStatus(ctx context.Context, ids []int64, status models.ActionStatus, failureReason, transaction *string) ([]*models.Action, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE actions SET
			status = $2,
			failure_reason = COALESCE($3, failure_reason),
			transaction = COALESCE($4, transaction)
		WHERE id = ANY($1)
		RETURNING`+actionColumns,
		ids, status, failureReason, transaction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

// Delete removes actions by id. Returns the number of rows deleted.
func (r *actionRepo) Delete(ctx context.Context, ids []int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM actions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// HasRecentTerminal reports whether a terminal action of the given type
// touched the deployment within the window.
func (r *actionRepo) HasRecentTerminal(ctx context.Context, deploymentID, protocolNetwork string, actionType models.ActionType, window time.Duration) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM actions
			WHERE deployment_id = $1 AND protocol_network = $2 AND type = $3
			  AND status IN ('success', 'failed')
			  AND updated_at >= now() - make_interval(secs => $4)
		)`,
		deploymentID, protocolNetwork, actionType, window.Seconds()).Scan(&exists)
	return exists, err
}

// MarkStaleFailed fails deploying/pending actions older than the timeout.
func (r *actionRepo) MarkStaleFailed(ctx context.Context, timeout time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE actions SET
			status = 'failed',
			failure_reason = 'stale: no progress before agent restart'
		WHERE status IN ('deploying', 'pending')
		  AND updated_at < now() - make_interval(secs => $1)`,
		timeout.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectActions(rows pgx.Rows) ([]*models.Action, error) {
	var actions []*models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Compile-time check to ensure actionRepo implements ActionRepository.
var _ ActionRepository = (*actionRepo)(nil)
