// Package reconciler drives the continuous control loop: observe the
// network, diff against the rules' desired state, and queue the
// actions that close the gap.
package reconciler

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/Bidon15/indexer-agent/internal/actions"
	"github.com/Bidon15/indexer-agent/internal/executor"
	"github.com/Bidon15/indexer-agent/internal/metrics"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

// agentSource marks actions queued by the reconciler itself.
const agentSource = "indexerAgent"

// Reconciler runs the per-network control loop. Passes are strictly
// sequential: a tick that arrives while a pass is in flight is skipped.
type Reconciler struct {
	monitor    network.Monitor
	engine     *rules.Engine
	queue      *actions.Queue
	exec       *executor.Executor
	costModels repository.CostModelRepository
	network    string
	interval   time.Duration
	logger     *slog.Logger

	mu sync.Mutex
}

// Config wires a reconciler for one network.
type Config struct {
	Monitor         network.Monitor
	Engine          *rules.Engine
	Queue           *actions.Queue
	Executor        *executor.Executor
	CostModels      repository.CostModelRepository
	ProtocolNetwork string
	Interval        time.Duration
	Logger          *slog.Logger
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Reconciler{
		monitor:    cfg.Monitor,
		engine:     cfg.Engine,
		queue:      cfg.Queue,
		exec:       cfg.Executor,
		costModels: cfg.CostModels,
		network:    cfg.ProtocolNetwork,
		interval:   interval,
		logger:     logger.With(slog.String("network", cfg.ProtocolNetwork)),
	}
}

// Run loops until the context is canceled. One pass runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if !r.mu.TryLock() {
		r.logger.Warn("previous reconciler pass still in flight, skipping tick")
		metrics.ReconcilerPasses.WithLabelValues(r.network, "skipped").Inc()
		return
	}
	defer r.mu.Unlock()

	start := time.Now()
	if err := r.Pass(ctx); err != nil {
		// External reads fail transiently; the next pass retries.
		r.logger.Error("reconciler pass failed", slog.String("err", err.Error()))
		metrics.ReconcilerPasses.WithLabelValues(r.network, "failed").Inc()
	} else {
		metrics.ReconcilerPasses.WithLabelValues(r.network, "ok").Inc()
	}
	metrics.ReconcilerDuration.WithLabelValues(r.network).Observe(time.Since(start).Seconds())
}

// Pass runs a single reconciliation: partition the deployment universe,
// diff the target allocation set against actuals, queue the difference,
// and execute whatever is approved.
func (r *Reconciler) Pass(ctx context.Context) error {
	if err := r.monitor.InvalidateCache(ctx); err != nil {
		return err
	}

	merged, err := r.engine.MergedRules(ctx, r.network)
	if err != nil {
		return err
	}
	active, err := r.monitor.Allocations(ctx, models.AllocationStatusActive)
	if err != nil {
		return err
	}
	epoch, err := r.monitor.CurrentEpoch(ctx)
	if err != nil {
		return err
	}
	maxEpochs, err := r.monitor.MaxAllocationEpochs(ctx)
	if err != nil {
		return err
	}

	manage, offchain := r.partition(ctx, merged)

	if err := r.reconcileDeployments(ctx, manage, offchain); err != nil {
		r.logger.Warn("deployment reconciliation incomplete", slog.String("err", err.Error()))
	}

	queued := r.reconcileAllocations(ctx, manage, active, epoch, maxEpochs)
	r.logger.Info("reconciler pass complete",
		slog.Int("managed", len(manage)),
		slog.Int("offchain", len(offchain)),
		slog.Int("active_allocations", len(active)),
		slog.Int("actions_queued", queued),
	)

	approved, err := r.queue.Approved(ctx, r.network)
	if err != nil {
		return err
	}
	if len(approved) == 0 {
		return nil
	}
	_, err = r.exec.Execute(ctx, approved)
	return err
}

// partition splits the ruled deployments into the set to manage
// on-chain and the set to keep syncing offchain. Rules that fail their
// thresholds or opt out entirely fall through to neither.
func (r *Reconciler) partition(ctx context.Context, merged []*models.IndexingRule) (manage map[models.DeploymentID]*models.IndexingRule, offchain map[models.DeploymentID]*models.IndexingRule) {
	manage = make(map[models.DeploymentID]*models.IndexingRule)
	offchain = make(map[models.DeploymentID]*models.IndexingRule)

	for _, rule := range merged {
		if rule.IsGlobal() || rule.IdentifierType != models.IdentifierTypeDeployment {
			continue
		}
		deployment, err := models.ParseDeploymentID(rule.Identifier)
		if err != nil {
			r.logger.Warn("skipping rule with malformed deployment identifier",
				slog.String("identifier", rule.Identifier))
			continue
		}

		switch rule.DecisionBasis {
		case models.DecisionBasisOffchain:
			offchain[deployment] = rule
		case models.DecisionBasisNever:
			continue
		case models.DecisionBasisDips:
			// Indexing agreements only manage deployments with a cost
			// model on record.
			model, err := r.costModels.Latest(ctx, deployment.Base58())
			if err != nil || model == nil {
				continue
			}
			manage[deployment] = rule
		case models.DecisionBasisAlways:
			manage[deployment] = rule
		default:
			info, err := r.monitor.Deployment(ctx, deployment)
			if err != nil {
				r.logger.Warn("deployment read failed during partition",
					slog.String("deployment", deployment.Base58()), slog.String("err", err.Error()))
				continue
			}
			if rules.Selects(rule, info) {
				manage[deployment] = rule
			}
		}
	}
	return manage, offchain
}

// reconcileDeployments keeps the local graph node's assignments in step
// with the partition: managed and offchain deployments sync, everything
// else is removed.
func (r *Reconciler) reconcileDeployments(ctx context.Context, manage, offchain map[models.DeploymentID]*models.IndexingRule) error {
	local, err := r.monitor.LocalDeployments(ctx)
	if err != nil {
		return err
	}
	present := make(map[models.DeploymentID]network.LocalDeployment, len(local))
	for _, d := range local {
		present[d.ID] = d
	}

	for deployment := range manage {
		if d, ok := present[deployment]; ok && d.NodeID != network.RemovedNodeID {
			continue
		}
		if err := r.monitor.EnsureDeployed(ctx, deployment); err != nil {
			r.logger.Warn("failed to deploy subgraph",
				slog.String("deployment", deployment.Base58()), slog.String("err", err.Error()))
		}
	}
	for deployment := range offchain {
		if d, ok := present[deployment]; ok && d.NodeID != network.RemovedNodeID {
			continue
		}
		if err := r.monitor.EnsureDeployed(ctx, deployment); err != nil {
			r.logger.Warn("failed to deploy offchain subgraph",
				slog.String("deployment", deployment.Base58()), slog.String("err", err.Error()))
		}
	}
	for deployment, d := range present {
		if _, keep := manage[deployment]; keep {
			continue
		}
		if _, keep := offchain[deployment]; keep {
			continue
		}
		if d.NodeID == network.RemovedNodeID {
			continue
		}
		if err := r.monitor.RemoveDeployment(ctx, deployment); err != nil {
			r.logger.Warn("failed to remove subgraph",
				slog.String("deployment", deployment.Base58()), slog.String("err", err.Error()))
		}
	}
	return nil
}

// reconcileAllocations diffs the target allocation set against the
// active set and queues the closing actions. Returns the number of
// actions accepted by the queue.
func (r *Reconciler) reconcileAllocations(ctx context.Context, manage map[models.DeploymentID]*models.IndexingRule, active []*models.Allocation, epoch *network.Epoch, maxEpochs int) int {
	byDeployment := make(map[models.DeploymentID][]*models.Allocation)
	for _, a := range active {
		byDeployment[a.SubgraphDeployment] = append(byDeployment[a.SubgraphDeployment], a)
	}

	var pending []*models.Action
	for deployment, rule := range manage {
		pending = append(pending, r.diffDeployment(deployment, rule, byDeployment[deployment], epoch, maxEpochs)...)
	}

	// Allocations whose deployment left the managed set close out.
	for deployment, allocs := range byDeployment {
		if _, managed := manage[deployment]; managed {
			continue
		}
		for _, a := range allocs {
			pending = append(pending, r.closeAction(deployment, a, "deployment no longer selected by indexing rules"))
		}
	}

	queued := 0
	for _, action := range pending {
		if _, err := r.queue.Queue(ctx, []*models.Action{action}); err != nil {
			// Duplicates and throttled repeats are expected between
			// passes; anything else is worth surfacing.
			if ierrors.Is(err, ierrors.CodeDuplicateAction) || ierrors.Is(err, ierrors.CodeRecentlyExecuted) {
				continue
			}
			r.logger.Warn("failed to queue reconciler action",
				slog.String("type", string(action.Type)),
				slog.String("deployment", action.DeploymentID),
				slog.String("err", err.Error()),
			)
			continue
		}
		metrics.ActionsQueued.WithLabelValues(r.network, string(action.Type), agentSource).Inc()
		queued++
	}
	return queued
}

// diffDeployment produces the actions bringing one deployment to its
// target: parallelAllocations slots totalling allocationAmount, expired
// slots renewed or closed per autoRenewal.
func (r *Reconciler) diffDeployment(deployment models.DeploymentID, rule *models.IndexingRule, allocs []*models.Allocation, epoch *network.Epoch, maxEpochs int) []*models.Action {
	parallel := 1
	if rule.ParallelAllocations != nil && *rule.ParallelAllocations > 0 {
		parallel = *rule.ParallelAllocations
	}
	total := big.NewInt(0)
	if rule.AllocationAmount != nil {
		if v, ok := new(big.Int).SetString(*rule.AllocationAmount, 10); ok {
			total = v
		}
	}
	if total.Sign() <= 0 {
		return nil
	}
	perSlot := new(big.Int).Div(total, big.NewInt(int64(parallel)))
	if perSlot.Sign() <= 0 {
		return nil
	}

	lifetime := maxEpochs
	if rule.AllocationLifetime != nil && *rule.AllocationLifetime > 0 {
		lifetime = *rule.AllocationLifetime
	}

	var out []*models.Action
	healthy := 0
	for _, a := range allocs {
		if epoch.Number-a.CreatedAtEpoch < lifetime {
			healthy++
			continue
		}
		if rule.AutoRenewal {
			// Renewal keeps the allocation's own amount. The per-slot
			// figure only sizes new slots.
			amount := perSlot
			if a.AllocatedTokens != nil && a.AllocatedTokens.Sign() > 0 {
				amount = a.AllocatedTokens
			}
			out = append(out, r.renewAction(deployment, a, amount))
			healthy++
			continue
		}
		out = append(out, r.closeAction(deployment, a, "allocation exceeded its configured lifetime"))
	}

	for i := healthy; i < parallel; i++ {
		amount := perSlot.String()
		out = append(out, &models.Action{
			Type:            models.ActionTypeAllocate,
			DeploymentID:    deployment.Base58(),
			Amount:          &amount,
			Source:          agentSource,
			Reason:          "indexingRule",
			Status:          models.ActionStatusApproved,
			ProtocolNetwork: r.network,
		})
	}
	return out
}

func (r *Reconciler) renewAction(deployment models.DeploymentID, a *models.Allocation, amount *big.Int) *models.Action {
	id := a.ID.Hex()
	amt := amount.String()
	return &models.Action{
		Type:            models.ActionTypeReallocate,
		DeploymentID:    deployment.Base58(),
		AllocationID:    &id,
		Amount:          &amt,
		Source:          agentSource,
		Reason:          "indexingRule:renew:epoch=" + strconv.Itoa(a.CreatedAtEpoch),
		Status:          models.ActionStatusApproved,
		ProtocolNetwork: r.network,
	}
}

func (r *Reconciler) closeAction(deployment models.DeploymentID, a *models.Allocation, reason string) *models.Action {
	id := a.ID.Hex()
	return &models.Action{
		Type:            models.ActionTypeUnallocate,
		DeploymentID:    deployment.Base58(),
		AllocationID:    &id,
		Source:          agentSource,
		Reason:          reason,
		Status:          models.ActionStatusApproved,
		ProtocolNetwork: r.network,
	}
}

// MigrateVirtuallyPaused runs once at startup: deployments still parked
// on the removed node from older agent versions become properly paused.
func (r *Reconciler) MigrateVirtuallyPaused(ctx context.Context) error {
	local, err := r.monitor.LocalDeployments(ctx)
	if err != nil {
		return err
	}
	for _, d := range local {
		if d.NodeID != network.RemovedNodeID || d.Paused {
			continue
		}
		if err := r.monitor.PauseDeployment(ctx, d.ID); err != nil {
			r.logger.Warn("failed to pause virtually paused deployment",
				slog.String("deployment", d.ID.Base58()), slog.String("err", err.Error()))
			continue
		}
		r.logger.Info("migrated virtually paused deployment",
			slog.String("deployment", d.ID.Base58()))
	}
	return nil
}
