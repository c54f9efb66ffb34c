package allocations

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
	"github.com/Bidon15/indexer-agent/internal/rules"
)

// ReceiptCollector receives allocation lifecycle notifications after a
// batch confirms. New allocation ids must be remembered before query
// fees arrive for them; closed allocations have their pending receipts
// collected for the rebate window.
type ReceiptCollector interface {
	RememberAllocations(ctx context.Context, ids []common.Address) error
	CollectReceipts(ctx context.Context, allocation *models.Allocation) error
}

// Prepared is the pure value object the batch executor turns into a
// multicall entry. Calldata is a single staking contract call.
type Prepared struct {
	Action              *models.Action
	Calldata            []byte
	Deployment          models.DeploymentID
	NewAllocationID     common.Address
	ClosingAllocationID common.Address
	Amount              *big.Int
	POI                 [32]byte
}

// Manager prepares allocation mutations and applies their results to
// the rule store and the receipt collector.
type Manager struct {
	monitor   network.Monitor
	contracts *contracts.Bundle
	engine    *rules.Engine
	ruleRepo  repository.RuleRepository
	collector ReceiptCollector
	wallet    *Wallet
	indexer   common.Address
	network   string
	logger    *slog.Logger
}

// ManagerConfig wires an allocation manager for one network.
type ManagerConfig struct {
	Monitor         network.Monitor
	Contracts       *contracts.Bundle
	Engine          *rules.Engine
	RuleRepo        repository.RuleRepository
	Collector       ReceiptCollector
	Wallet          *Wallet
	Indexer         common.Address
	ProtocolNetwork string
	Logger          *slog.Logger
}

// NewManager creates an allocation manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		monitor:   cfg.Monitor,
		contracts: cfg.Contracts,
		engine:    cfg.Engine,
		ruleRepo:  cfg.RuleRepo,
		collector: cfg.Collector,
		wallet:    cfg.Wallet,
		indexer:   cfg.Indexer,
		network:   cfg.ProtocolNetwork,
		logger:    logger,
	}
}

// Prepare turns an approved action into a prepared transaction value.
// It performs reads only; nothing is mutated until the batch confirms.
func (m *Manager) Prepare(ctx context.Context, action *models.Action) (*Prepared, error) {
	switch action.Type {
	case models.ActionTypeAllocate:
		return m.prepareAllocate(ctx, action)
	case models.ActionTypeUnallocate:
		return m.prepareUnallocate(ctx, action)
	case models.ActionTypeReallocate:
		return m.prepareReallocate(ctx, action)
	default:
		return nil, ierrors.Newf(ierrors.CodeMissingActionField, "unknown action type '%s'", action.Type)
	}
}

func (m *Manager) prepareAllocate(ctx context.Context, action *models.Action) (*Prepared, error) {
	deployment, err := models.ParseDeploymentID(action.DeploymentID)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.CodeInvalidIdentifier, err, "invalid deploymentID '%s'", action.DeploymentID)
	}
	amount, err := parseAmount(action.Amount)
	if err != nil {
		return nil, err
	}

	active, err := m.monitor.Allocations(ctx, models.AllocationStatusActive)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.SubgraphDeployment == deployment {
			return nil, ierrors.Newf(ierrors.CodeAllocationExists,
				"An active allocation already exists for deployment '%s' with id '%s'",
				deployment.Base58(), a.ID.Hex())
		}
	}

	if err := m.checkCapacity(ctx, amount, nil); err != nil {
		return nil, err
	}

	if err := m.monitor.EnsureDeployed(ctx, deployment); err != nil {
		return nil, err
	}

	epoch, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	key, id, err := m.deriveFreeID(ctx, epoch.Number, deployment, active)
	if err != nil {
		return nil, err
	}

	proof, err := Proof(key, m.indexer, id)
	if err != nil {
		return nil, err
	}
	calldata, err := m.contracts.PackAllocateFrom(m.indexer, deployment.Bytes32(), amount, id, [32]byte{}, proof)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Action:          action,
		Calldata:        calldata,
		Deployment:      deployment,
		NewAllocationID: id,
		Amount:          amount,
	}, nil
}

func (m *Manager) prepareUnallocate(ctx context.Context, action *models.Action) (*Prepared, error) {
	allocation, poi, err := m.resolveClose(ctx, action)
	if err != nil {
		return nil, err
	}
	calldata, err := m.contracts.PackCloseAllocation(allocation.ID, poi)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Action:              action,
		Calldata:            calldata,
		Deployment:          allocation.SubgraphDeployment,
		ClosingAllocationID: allocation.ID,
		POI:                 poi,
	}, nil
}

func (m *Manager) prepareReallocate(ctx context.Context, action *models.Action) (*Prepared, error) {
	allocation, poi, err := m.resolveClose(ctx, action)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(action.Amount)
	if err != nil {
		return nil, err
	}

	// Capacity is judged after the close frees the old stake.
	if err := m.checkCapacity(ctx, amount, allocation.AllocatedTokens); err != nil {
		return nil, err
	}

	active, err := m.monitor.Allocations(ctx, models.AllocationStatusActive)
	if err != nil {
		return nil, err
	}
	epoch, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	key, id, err := m.deriveFreeID(ctx, epoch.Number, allocation.SubgraphDeployment, active)
	if err != nil {
		return nil, err
	}
	proof, err := Proof(key, m.indexer, id)
	if err != nil {
		return nil, err
	}

	calldata, err := m.contracts.PackCloseAndAllocate(
		allocation.ID, poi,
		m.indexer, allocation.SubgraphDeployment.Bytes32(), amount, id, [32]byte{}, proof)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Action:              action,
		Calldata:            calldata,
		Deployment:          allocation.SubgraphDeployment,
		NewAllocationID:     id,
		ClosingAllocationID: allocation.ID,
		Amount:              amount,
		POI:                 poi,
	}, nil
}

// resolveClose performs the checks shared by unallocate and reallocate:
// the allocation is active, it was not opened in the current epoch, and
// a POI can be resolved for it.
func (m *Manager) resolveClose(ctx context.Context, action *models.Action) (*models.Allocation, [32]byte, error) {
	if action.AllocationID == nil {
		return nil, [32]byte{}, ierrors.Newf(ierrors.CodeMissingActionField,
			"%s action for '%s' requires an allocationID", action.Type, action.DeploymentID)
	}
	allocation, err := m.monitor.Allocation(ctx, common.HexToAddress(*action.AllocationID))
	if err != nil {
		return nil, [32]byte{}, err
	}
	if allocation == nil || allocation.Status != models.AllocationStatusActive {
		return nil, [32]byte{}, ierrors.Newf(ierrors.CodeAllocationNotActive,
			"An active allocation does not exist with id = '%s'", *action.AllocationID)
	}

	epoch, err := m.monitor.CurrentEpoch(ctx)
	if err != nil {
		return nil, [32]byte{}, err
	}
	if allocation.CreatedAtEpoch == epoch.Number {
		return nil, [32]byte{}, ierrors.Newf(ierrors.CodeSameEpochClose,
			"allocation '%s' was opened in the current epoch and cannot be closed before epoch %d",
			allocation.ID.Hex(), epoch.Number+1)
	}

	poi, err := m.monitor.ResolvePOI(ctx, allocation, action.POI, action.Force)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return allocation, poi, nil
}

// checkCapacity verifies the indexer's free stake covers the amount.
// freed, when non-nil, is stake returned by a close in the same
// multicall and counts toward capacity.
func (m *Manager) checkCapacity(ctx context.Context, amount, freed *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ierrors.Newf(ierrors.CodeZeroAmount,
			"invalid allocation amount '%s': amount must be positive", amountString(amount))
	}
	freeStake, err := m.monitor.FreeStake(ctx)
	if err != nil {
		return err
	}
	capacity := new(big.Int).Set(freeStake)
	if freed != nil {
		capacity.Add(capacity, freed)
	}
	if capacity.Cmp(amount) < 0 {
		return ierrors.Newf(ierrors.CodeInsufficientStake,
			"allocation amount '%s' exceeds the indexer's free stake of '%s'",
			amount.String(), capacity.String())
	}
	return nil
}

// deriveFreeID derives a deterministic allocation id excluded from the
// active set, then confirms the staking contract has never seen it.
func (m *Manager) deriveFreeID(ctx context.Context, epoch int, deployment models.DeploymentID, active []*models.Allocation) (*ecdsa.PrivateKey, common.Address, error) {
	taken := make(map[common.Address]bool, len(active))
	for _, a := range active {
		taken[a.ID] = true
	}
	derived, id, err := m.wallet.DeriveAllocationID(epoch, deployment.Bytes32(), taken)
	if err != nil {
		return nil, common.Address{}, err
	}
	state, err := m.monitor.AllocationState(ctx, id)
	if err != nil {
		return nil, common.Address{}, err
	}
	if state != models.AllocationStatusNull {
		return nil, common.Address{}, ierrors.Newf(ierrors.CodeAllocationOnchain,
			"allocation id '%s' already exists onchain in state '%s'", id.Hex(), state)
	}
	return derived, id, nil
}

// ConfirmAllocate records a confirmed allocate or reallocate: the new
// allocation id is handed to the receipt collector and, when no rule
// currently selects the deployment, an always rule is installed so the
// reconciler keeps the allocation alive.
func (m *Manager) ConfirmAllocate(ctx context.Context, deployment models.DeploymentID, id common.Address) error {
	if m.collector != nil {
		if err := m.collector.RememberAllocations(ctx, []common.Address{id}); err != nil {
			m.logger.Warn("failed to remember allocation for receipt collection",
				slog.String("allocation", id.Hex()), slog.String("err", err.Error()))
		}
	}
	worthy, err := m.engine.Worthy(ctx, m.monitor, m.network, deployment)
	if err != nil {
		return err
	}
	if worthy {
		return nil
	}
	_, err = m.ruleRepo.Upsert(ctx, &models.IndexingRule{
		Identifier:      deployment.Base58(),
		IdentifierType:  models.IdentifierTypeDeployment,
		ProtocolNetwork: m.network,
		DecisionBasis:   models.DecisionBasisAlways,
		AutoRenewal:     true,
		Safety:          true,
	})
	return err
}

// CollectClosed hands a closed allocation to the receipt collector
// without touching the deployment's rule. Reallocate uses it directly:
// the deployment stays allocated, so no offchain back-write may run.
func (m *Manager) CollectClosed(ctx context.Context, allocation *models.Allocation) {
	if m.collector == nil {
		return
	}
	if err := m.collector.CollectReceipts(ctx, allocation); err != nil {
		m.logger.Warn("failed to collect receipts for closed allocation",
			slog.String("allocation", allocation.ID.Hex()), slog.String("err", err.Error()))
	}
}

// ConfirmUnallocate records a confirmed close: receipts are collected
// for the rebate window and the deployment's rule drops to offchain so
// it keeps syncing without reallocating.
func (m *Manager) ConfirmUnallocate(ctx context.Context, allocation *models.Allocation) error {
	m.CollectClosed(ctx, allocation)
	_, err := m.ruleRepo.Upsert(ctx, &models.IndexingRule{
		Identifier:      allocation.SubgraphDeployment.Base58(),
		IdentifierType:  models.IdentifierTypeDeployment,
		ProtocolNetwork: m.network,
		DecisionBasis:   models.DecisionBasisOffchain,
		AutoRenewal:     true,
		Safety:          true,
	})
	return err
}

func parseAmount(s *string) (*big.Int, error) {
	if s == nil {
		return nil, ierrors.New(ierrors.CodeZeroAmount, "missing allocation amount")
	}
	amount, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, ierrors.Newf(ierrors.CodeZeroAmount, "invalid allocation amount '%s'", *s)
	}
	return amount, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
