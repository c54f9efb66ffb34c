// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Bidon15/indexer-agent/internal/models"
)

const ruleColumns = `
	identifier, identifier_type, protocol_network,
	allocation_amount::text, allocation_lifetime, auto_renewal,
	parallel_allocations, max_allocation_percentage,
	min_signal::text, max_signal::text, min_stake::text, min_average_query_fees::text,
	custom, decision_basis, require_supported, safety, created_at, updated_at`

// RuleRepository defines the interface for indexing rule data operations.
type RuleRepository interface {
	Upsert(ctx context.Context, rule *models.IndexingRule) (*models.IndexingRule, error)
	Get(ctx context.Context, identifier, protocolNetwork string) (*models.IndexingRule, error)
	List(ctx context.Context, protocolNetwork *string) ([]*models.IndexingRule, error)
	// Delete removes rules by identifier within a network. Whenever the
	// "global" sentinel is among the identifiers, the network's global
	// rule is reinserted at defaults in the same transaction.
	Delete(ctx context.Context, protocolNetwork string, identifiers []string) (int, error)
	// EnsureGlobal installs the default global rule if none exists.
	EnsureGlobal(ctx context.Context, protocolNetwork string) error
}

type ruleRepo struct {
	pool DB
	// defaultGlobal builds the rule reinstalled when a global rule is
	// deleted or missing.
	defaultGlobal func(protocolNetwork string) *models.IndexingRule
}

// NewRuleRepository creates a new rule repository. defaultGlobal supplies
// the per-network default global rule.
func NewRuleRepository(pool DB, defaultGlobal func(protocolNetwork string) *models.IndexingRule) RuleRepository {
	return &ruleRepo{pool: pool, defaultGlobal: defaultGlobal}
}

func scanRule(row pgx.Row) (*models.IndexingRule, error) {
	var r models.IndexingRule
	err := row.Scan(
		&r.Identifier,
		&r.IdentifierType,
		&r.ProtocolNetwork,
		&r.AllocationAmount,
		&r.AllocationLifetime,
		&r.AutoRenewal,
		&r.ParallelAllocations,
		&r.MaxAllocationPercentage,
		&r.MinSignal,
		&r.MaxSignal,
		&r.MinStake,
		&r.MinAverageQueryFees,
		&r.Custom,
		&r.DecisionBasis,
		&r.RequireSupported,
		&r.Safety,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Upsert inserts or updates a rule on (identifier, protocol_network).
func (r *ruleRepo) Upsert(ctx context.Context, rule *models.IndexingRule) (*models.IndexingRule, error) {
	query := `
		INSERT INTO indexing_rules (
			identifier, identifier_type, protocol_network,
			allocation_amount, allocation_lifetime, auto_renewal,
			parallel_allocations, max_allocation_percentage,
			min_signal, max_signal, min_stake, min_average_query_fees,
			custom, decision_basis, require_supported, safety
		)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15, $16)
		ON CONFLICT (identifier, protocol_network) DO UPDATE SET
			identifier_type = EXCLUDED.identifier_type,
			allocation_amount = EXCLUDED.allocation_amount,
			allocation_lifetime = EXCLUDED.allocation_lifetime,
			auto_renewal = EXCLUDED.auto_renewal,
			parallel_allocations = EXCLUDED.parallel_allocations,
			max_allocation_percentage = EXCLUDED.max_allocation_percentage,
			min_signal = EXCLUDED.min_signal,
			max_signal = EXCLUDED.max_signal,
			min_stake = EXCLUDED.min_stake,
			min_average_query_fees = EXCLUDED.min_average_query_fees,
			custom = EXCLUDED.custom,
			decision_basis = EXCLUDED.decision_basis,
			require_supported = EXCLUDED.require_supported,
			safety = EXCLUDED.safety
		RETURNING` + ruleColumns

	return scanRule(r.pool.QueryRow(ctx, query,
		rule.Identifier,
		rule.IdentifierType,
		rule.ProtocolNetwork,
		rule.AllocationAmount,
		rule.AllocationLifetime,
		rule.AutoRenewal,
		rule.ParallelAllocations,
		rule.MaxAllocationPercentage,
		rule.MinSignal,
		rule.MaxSignal,
		rule.MinStake,
		rule.MinAverageQueryFees,
		rule.Custom,
		rule.DecisionBasis,
		rule.RequireSupported,
		rule.Safety,
	))
}

// Get retrieves one rule, or nil when absent.
func (r *ruleRepo) Get(ctx context.Context, identifier, protocolNetwork string) (*models.IndexingRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM indexing_rules WHERE identifier = $1 AND protocol_network = $2`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, identifier, protocolNetwork))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// List retrieves all rules, optionally restricted to one network.
func (r *ruleRepo) List(ctx context.Context, protocolNetwork *string) ([]*models.IndexingRule, error) {
	query := `SELECT` + ruleColumns + ` FROM indexing_rules`
	args := []any{}
	if protocolNetwork != nil {
		query += ` WHERE protocol_network = $1`
		args = append(args, *protocolNetwork)
	}
	query += ` ORDER BY identifier ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.IndexingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Delete removes rules and reinstalls the default global rule in the same
// transaction when the global sentinel was among the deleted identifiers.
func (r *ruleRepo) Delete(ctx context.Context, protocolNetwork string, identifiers []string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM indexing_rules WHERE protocol_network = $1 AND identifier = ANY($2)`,
		protocolNetwork, identifiers)
	if err != nil {
		return 0, err
	}

	for _, id := range identifiers {
		if id == models.GlobalIdentifier {
			if err := insertGlobal(ctx, tx, r.defaultGlobal(protocolNetwork)); err != nil {
				return 0, fmt.Errorf("failed to reinstall global rule: %w", err)
			}
			break
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// EnsureGlobal installs the default global rule if none exists.
func (r *ruleRepo) EnsureGlobal(ctx context.Context, protocolNetwork string) error {
	existing, err := r.Get(ctx, models.GlobalIdentifier, protocolNetwork)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := insertGlobal(ctx, tx, r.defaultGlobal(protocolNetwork)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertGlobal(ctx context.Context, tx pgx.Tx, rule *models.IndexingRule) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO indexing_rules (
			identifier, identifier_type, protocol_network,
			allocation_amount, parallel_allocations,
			decision_basis, auto_renewal, require_supported, safety
		)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
		ON CONFLICT (identifier, protocol_network) DO NOTHING`,
		rule.Identifier,
		rule.IdentifierType,
		rule.ProtocolNetwork,
		rule.AllocationAmount,
		rule.ParallelAllocations,
		rule.DecisionBasis,
		rule.AutoRenewal,
		rule.RequireSupported,
		rule.Safety,
	)
	return err
}

// Compile-time check to ensure ruleRepo implements RuleRepository.
var _ RuleRepository = (*ruleRepo)(nil)
