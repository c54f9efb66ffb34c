// Package executor drives approved actions through preparation, a
// single atomic multicall, and receipt interpretation.
package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Bidon15/indexer-agent/internal/allocations"
	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/metrics"
	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
)

// Sentinel outcomes of the transaction primitive. Either one fails the
// whole batch without parsing events.
var (
	ErrPaused       = errors.New("protocol is paused")
	ErrUnauthorized = errors.New("operator not authorized")
)

// TransactionManager is the external transaction primitive: it signs,
// submits and waits for one transaction, returning its receipt.
type TransactionManager interface {
	Execute(ctx context.Context, to common.Address, calldata []byte) (*types.Receipt, error)
}

// Result is the terminal outcome of one action after a batch.
type Result struct {
	Action        *models.Action
	Status        models.ActionStatus
	AllocationID  *common.Address
	FailureReason string
	Transaction   *string
}

// Executor submits approved actions as one multicall per batch.
type Executor struct {
	manager   *allocations.Manager
	contracts *contracts.Bundle
	txManager TransactionManager
	actions   repository.ActionRepository
	network   string
	logger    *slog.Logger
}

// Config wires a batch executor for one network.
type Config struct {
	Manager         *allocations.Manager
	Contracts       *contracts.Bundle
	TxManager       TransactionManager
	Actions         repository.ActionRepository
	ProtocolNetwork string
	Logger          *slog.Logger
}

// New creates a batch executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		manager:   cfg.Manager,
		contracts: cfg.Contracts,
		txManager: cfg.TxManager,
		actions:   cfg.Actions,
		network:   cfg.ProtocolNetwork,
		logger:    logger,
	}
}

// Execute runs one batch: every input action ends in success or failed.
// Input must already be ordered by priority descending, id ascending.
func (e *Executor) Execute(ctx context.Context, approved []*models.Action) ([]Result, error) {
	if len(approved) == 0 {
		return nil, nil
	}

	// Batch id correlates the log lines of one multicall.
	logger := e.logger.With(slog.String("batch", uuid.New().String()))

	results := make([]Result, 0, len(approved))
	var prepared []*allocations.Prepared
	for _, action := range approved {
		p, err := e.manager.Prepare(ctx, action)
		if err != nil {
			logger.Warn("action failed to prepare",
				slog.Int64("id", action.ID),
				slog.String("type", string(action.Type)),
				slog.String("err", err.Error()),
			)
			results = append(results, Result{
				Action:        action,
				Status:        models.ActionStatusFailed,
				FailureReason: err.Error(),
			})
			continue
		}
		prepared = append(prepared, p)
	}

	if len(prepared) == 0 {
		return results, e.persist(ctx, results)
	}

	calls := make([][]byte, len(prepared))
	for i, p := range prepared {
		calls[i] = p.Calldata
	}
	calldata, err := e.contracts.PackMulticall(calls)
	if err != nil {
		return nil, err
	}

	receipt, err := e.txManager.Execute(ctx, e.contracts.StakingAddress, calldata)
	if err != nil {
		logger.Warn("batch transaction failed",
			slog.Int("actions", len(prepared)), slog.String("err", err.Error()))
		reason := e.batchFailureReason(err)
		for _, p := range prepared {
			results = append(results, Result{
				Action:        p.Action,
				Status:        models.ActionStatusFailed,
				FailureReason: reason,
			})
		}
		metrics.BatchesFailed.WithLabelValues(e.network).Inc()
		return results, e.persist(ctx, results)
	}

	events, err := e.contracts.ParseReceipt(receipt)
	if err != nil {
		return nil, err
	}
	txHash := receipt.TxHash.Hex()
	logger.Info("batch mined", slog.Int("actions", len(prepared)), slog.String("tx", txHash))
	for _, p := range prepared {
		r := e.interpret(ctx, p, events)
		r.Transaction = &txHash
		results = append(results, r)
	}
	metrics.BatchesExecuted.WithLabelValues(e.network).Inc()
	return results, e.persist(ctx, results)
}

// batchFailureReason maps transaction-level outcomes onto per-action
// failure reasons.
func (e *Executor) batchFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ierrors.New(ierrors.CodeOperatorUnauthorized, "Operator not authorized").Error()
	case errors.Is(err, ErrPaused):
		return ierrors.New(ierrors.CodeProtocolPaused, "the protocol is paused").Error()
	default:
		return err.Error()
	}
}

// interpret matches receipt events back to one prepared action and
// fires the post-success hooks.
func (e *Executor) interpret(ctx context.Context, p *allocations.Prepared, events *contracts.ReceiptEvents) Result {
	switch p.Action.Type {
	case models.ActionTypeAllocate:
		for _, ev := range events.Created {
			if ev.SubgraphDeploymentID == p.Deployment.Bytes32() {
				id := ev.AllocationID
				e.confirmAllocate(ctx, p.Deployment, id)
				return Result{Action: p.Action, Status: models.ActionStatusSuccess, AllocationID: &id}
			}
		}
	case models.ActionTypeUnallocate:
		for _, ev := range events.Closed {
			if ev.AllocationID == p.ClosingAllocationID {
				e.confirmUnallocate(ctx, p)
				id := ev.AllocationID
				return Result{Action: p.Action, Status: models.ActionStatusSuccess, AllocationID: &id}
			}
		}
	case models.ActionTypeReallocate:
		closed := false
		for _, ev := range events.Closed {
			if ev.AllocationID == p.ClosingAllocationID {
				closed = true
				break
			}
		}
		if closed {
			for _, ev := range events.Created {
				if ev.SubgraphDeploymentID == p.Deployment.Bytes32() {
					id := ev.AllocationID
					// The deployment stays allocated: collect receipts for
					// the closed id but leave the rule to the allocate path.
					e.collectClosed(ctx, p)
					e.confirmAllocate(ctx, p.Deployment, id)
					return Result{Action: p.Action, Status: models.ActionStatusSuccess, AllocationID: &id}
				}
			}
		}
	}
	return Result{
		Action:        p.Action,
		Status:        models.ActionStatusFailed,
		FailureReason: ierrors.Newf(ierrors.CodeNeverMined, "transaction was never mined: no matching event for action %d", p.Action.ID).Error(),
	}
}

func (e *Executor) confirmAllocate(ctx context.Context, deployment models.DeploymentID, id common.Address) {
	if err := e.manager.ConfirmAllocate(ctx, deployment, id); err != nil {
		e.logger.Warn("post-allocate rule update failed",
			slog.String("deployment", deployment.Base58()), slog.String("err", err.Error()))
	}
}

func closedAllocation(p *allocations.Prepared) *models.Allocation {
	return &models.Allocation{
		ID:                 p.ClosingAllocationID,
		Status:             models.AllocationStatusClosed,
		SubgraphDeployment: p.Deployment,
	}
}

func (e *Executor) collectClosed(ctx context.Context, p *allocations.Prepared) {
	e.manager.CollectClosed(ctx, closedAllocation(p))
}

func (e *Executor) confirmUnallocate(ctx context.Context, p *allocations.Prepared) {
	if err := e.manager.ConfirmUnallocate(ctx, closedAllocation(p)); err != nil {
		e.logger.Warn("post-unallocate rule update failed",
			slog.String("allocation", p.ClosingAllocationID.Hex()), slog.String("err", err.Error()))
	}
}

// persist writes the batch outcome back to the action store. Every
// action ends terminal; none stays approved.
func (e *Executor) persist(ctx context.Context, results []Result) error {
	for _, r := range results {
		var reason *string
		if r.FailureReason != "" {
			reason = &r.FailureReason
		}
		if _, err := e.actions.UpdateStatus(ctx, []int64{r.Action.ID}, r.Status, reason, r.Transaction); err != nil {
			return err
		}
		metrics.ActionsExecuted.WithLabelValues(e.network, string(r.Action.Type), string(r.Status)).Inc()
	}
	return nil
}
