// Package rules implements indexing rule storage access, merge
// semantics and the worthiness predicate.
package rules

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	"github.com/Bidon15/indexer-agent/internal/repository"
)

// Engine evaluates indexing rules against live network data.
type Engine struct {
	repo   repository.RuleRepository
	logger *slog.Logger
}

// NewEngine creates a rule engine over the rule store.
func NewEngine(repo repository.RuleRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, logger: logger}
}

// Merge overlays a deployment rule onto the global rule: every nil
// field of the deployment rule takes the global value. The merged
// result is never stored. Merge is idempotent: merging a merged rule
// over the same global changes nothing.
func Merge(rule, global *models.IndexingRule) *models.IndexingRule {
	if rule == nil {
		if global == nil {
			return nil
		}
		merged := *global
		return &merged
	}
	merged := *rule
	if global == nil {
		return &merged
	}
	if merged.AllocationAmount == nil {
		merged.AllocationAmount = global.AllocationAmount
	}
	if merged.AllocationLifetime == nil {
		merged.AllocationLifetime = global.AllocationLifetime
	}
	if merged.ParallelAllocations == nil {
		merged.ParallelAllocations = global.ParallelAllocations
	}
	if merged.MaxAllocationPercentage == nil {
		merged.MaxAllocationPercentage = global.MaxAllocationPercentage
	}
	if merged.MinSignal == nil {
		merged.MinSignal = global.MinSignal
	}
	if merged.MaxSignal == nil {
		merged.MaxSignal = global.MaxSignal
	}
	if merged.MinStake == nil {
		merged.MinStake = global.MinStake
	}
	if merged.MinAverageQueryFees == nil {
		merged.MinAverageQueryFees = global.MinAverageQueryFees
	}
	if merged.Custom == nil {
		merged.Custom = global.Custom
	}
	return &merged
}

// MergedRules returns all rules of a network with the global rule's
// values substituted into unset fields. The global rule itself is
// returned unchanged.
func (e *Engine) MergedRules(ctx context.Context, protocolNetwork string) ([]*models.IndexingRule, error) {
	all, err := e.repo.List(ctx, &protocolNetwork)
	if err != nil {
		return nil, err
	}
	var global *models.IndexingRule
	for _, r := range all {
		if r.IsGlobal() {
			global = r
			break
		}
	}
	merged := make([]*models.IndexingRule, 0, len(all))
	for _, r := range all {
		if r.IsGlobal() {
			merged = append(merged, r)
			continue
		}
		merged = append(merged, Merge(r, global))
	}
	return merged, nil
}

// MergedRule returns one rule merged over the network's global rule, or
// nil when no rule matches the identifier.
func (e *Engine) MergedRule(ctx context.Context, protocolNetwork, identifier string) (*models.IndexingRule, error) {
	rule, err := e.repo.Get(ctx, identifier, protocolNetwork)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}
	if rule.IsGlobal() {
		return rule, nil
	}
	global, err := e.repo.Get(ctx, models.GlobalIdentifier, protocolNetwork)
	if err != nil {
		return nil, err
	}
	return Merge(rule, global), nil
}

// Selects reports whether a merged rule would pick the deployment for
// allocation against its current signal and stake.
func Selects(rule *models.IndexingRule, deployment *models.SubgraphDeployment) bool {
	if rule == nil || deployment == nil {
		return false
	}
	switch rule.DecisionBasis {
	case models.DecisionBasisNever, models.DecisionBasisOffchain:
		return false
	case models.DecisionBasisAlways:
		return true
	}

	if rule.RequireSupported && deployment.DeniedAt > 0 {
		return false
	}
	if !aboveThreshold(deployment.SignalledTokens, rule.MinSignal) {
		return false
	}
	if rule.MaxSignal != nil {
		if max, ok := new(big.Int).SetString(*rule.MaxSignal, 10); ok &&
			deployment.SignalledTokens != nil && deployment.SignalledTokens.Cmp(max) > 0 {
			return false
		}
	}
	if !aboveThreshold(deployment.StakedTokens, rule.MinStake) {
		return false
	}
	if !aboveThreshold(deployment.QueryFeesAmount, rule.MinAverageQueryFees) {
		return false
	}
	// With no thresholds configured at all, "rules" means do not
	// allocate; something must positively select the deployment.
	return rule.MinSignal != nil || rule.MinStake != nil || rule.MinAverageQueryFees != nil
}

func aboveThreshold(value *big.Int, threshold *string) bool {
	if threshold == nil {
		return true
	}
	min, ok := new(big.Int).SetString(*threshold, 10)
	if !ok {
		return false
	}
	if value == nil {
		return min.Sign() == 0
	}
	return value.Cmp(min) >= 0
}

// Worthy is the worthiness predicate: true iff a rule matching the
// deployment exists and would select it against current on-chain
// signal and stake. The allocation manager consults it before
// back-writing an "always" rule after a manual allocation.
func (e *Engine) Worthy(ctx context.Context, monitor network.Monitor, protocolNetwork string, deployment models.DeploymentID) (bool, error) {
	rule, err := e.MergedRule(ctx, protocolNetwork, deployment.Base58())
	if err != nil {
		return false, err
	}
	if rule == nil {
		return false, nil
	}
	info, err := monitor.Deployment(ctx, deployment)
	if err != nil {
		return false, err
	}
	return Selects(rule, info), nil
}
