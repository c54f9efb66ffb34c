package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/Bidon15/indexer-agent/internal/models"
)

const disputeColumns = `
	allocation_id, subgraph_deployment_id, allocation_indexer,
	allocation_amount::text, allocation_proof, closed_epoch,
	closed_epoch_start_block_hash, closed_epoch_reference_proof,
	previous_epoch_start_block_hash, previous_epoch_reference_proof,
	status, protocol_network, created_at, updated_at`

// DisputeRepository stores observed POI disputes.
type DisputeRepository interface {
	// Upsert stores disputes keyed by (allocation_id, protocol_network),
	// merging proof fields on conflict. All rows go in one transaction.
	Upsert(ctx context.Context, disputes []*models.POIDispute) ([]*models.POIDispute, error)
	List(ctx context.Context, status, protocolNetwork *string) ([]*models.POIDispute, error)
	Delete(ctx context.Context, protocolNetwork string, allocationIDs []string) (int, error)
}

type disputeRepo struct {
	pool DB
}

// NewDisputeRepository creates a new dispute repository.
func NewDisputeRepository(pool DB) DisputeRepository {
	return &disputeRepo{pool: pool}
}

func scanDispute(row pgx.Row) (*models.POIDispute, error) {
	var d models.POIDispute
	err := row.Scan(
		&d.AllocationID,
		&d.SubgraphDeploymentID,
		&d.AllocationIndexer,
		&d.AllocationAmount,
		&d.AllocationProof,
		&d.ClosedEpoch,
		&d.ClosedEpochStartBlockHash,
		&d.ClosedEpochReferenceProof,
		&d.PreviousEpochStartBlockHash,
		&d.PreviousEpochReferenceProof,
		&d.Status,
		&d.ProtocolNetwork,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Upsert stores disputes, merging proof fields on conflict.
func (r *disputeRepo) Upsert(ctx context.Context, disputes []*models.POIDispute) ([]*models.POIDispute, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	stored := make([]*models.POIDispute, 0, len(disputes))
	for _, d := range disputes {
		row, err := scanDispute(tx.QueryRow(ctx, `
			INSERT INTO poi_disputes (
				allocation_id, subgraph_deployment_id, allocation_indexer,
				allocation_amount, allocation_proof, closed_epoch,
				closed_epoch_start_block_hash, closed_epoch_reference_proof,
				previous_epoch_start_block_hash, previous_epoch_reference_proof,
				status, protocol_network
			)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (allocation_id, protocol_network) DO UPDATE SET
				allocation_proof = EXCLUDED.allocation_proof,
				closed_epoch_reference_proof = COALESCE(EXCLUDED.closed_epoch_reference_proof, poi_disputes.closed_epoch_reference_proof),
				previous_epoch_reference_proof = COALESCE(EXCLUDED.previous_epoch_reference_proof, poi_disputes.previous_epoch_reference_proof),
				status = EXCLUDED.status
			RETURNING`+disputeColumns,
			d.AllocationID, d.SubgraphDeploymentID, d.AllocationIndexer,
			d.AllocationAmount, d.AllocationProof, d.ClosedEpoch,
			d.ClosedEpochStartBlockHash, d.ClosedEpochReferenceProof,
			d.PreviousEpochStartBlockHash, d.PreviousEpochReferenceProof,
			d.Status, d.ProtocolNetwork))
		if err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// List retrieves disputes, optionally filtered by status and network.
func (r *disputeRepo) List(ctx context.Context, status, protocolNetwork *string) ([]*models.POIDispute, error) {
	query := `SELECT` + disputeColumns + ` FROM poi_disputes WHERE TRUE`
	args := []any{}
	if status != nil {
		args = append(args, *status)
		query += ` AND status = $1`
	}
	if protocolNetwork != nil {
		args = append(args, *protocolNetwork)
		if len(args) == 1 {
			query += ` AND protocol_network = $1`
		} else {
			query += ` AND protocol_network = $2`
		}
	}
	query += ` ORDER BY allocation_id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []*models.POIDispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// Delete removes disputes for the given allocation ids.
func (r *disputeRepo) Delete(ctx context.Context, protocolNetwork string, allocationIDs []string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM poi_disputes
		WHERE protocol_network = $1 AND allocation_id = ANY($2)`,
		protocolNetwork, allocationIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Compile-time check to ensure disputeRepo implements DisputeRepository.
var _ DisputeRepository = (*disputeRepo)(nil)
