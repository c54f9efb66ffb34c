package network

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/contracts"
	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// monitor is the production Monitor backed by the chain contracts, the
// protocol subgraph and the local graph node. Reads are cached until
// InvalidateCache; the cache is per network by construction.
type monitor struct {
	chain     ChainReader
	contracts *contracts.Bundle
	subgraph  *SubgraphClient
	graphNode *GraphNode
	indexer   common.Address
	logger    *slog.Logger

	mu    sync.Mutex
	cache monitorCache
}

type monitorCache struct {
	epoch               *Epoch
	maxAllocationEpochs *int
	freeStake           *big.Int
	activeAllocations   []*models.Allocation
}

// MonitorConfig wires a production monitor.
type MonitorConfig struct {
	Chain     ChainReader
	Contracts *contracts.Bundle
	Subgraph  *SubgraphClient
	GraphNode *GraphNode
	Indexer   common.Address
	Logger    *slog.Logger
}

// NewMonitor creates the production network monitor.
func NewMonitor(cfg MonitorConfig) Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &monitor{
		chain:     cfg.Chain,
		contracts: cfg.Contracts,
		subgraph:  cfg.Subgraph,
		graphNode: cfg.GraphNode,
		indexer:   cfg.Indexer,
		logger:    logger,
	}
}

// CurrentEpoch reads the epoch manager's current epoch and geometry.
func (m *monitor) CurrentEpoch(ctx context.Context) (*Epoch, error) {
	m.mu.Lock()
	if m.cache.epoch != nil {
		epoch := *m.cache.epoch
		m.mu.Unlock()
		return &epoch, nil
	}
	m.mu.Unlock()

	number, err := m.epochRead(ctx, "currentEpoch")
	if err != nil {
		return nil, err
	}
	startBlock, err := m.epochRead(ctx, "currentEpochBlock")
	if err != nil {
		return nil, err
	}
	elapsed, err := m.epochRead(ctx, "currentEpochBlockSinceStart")
	if err != nil {
		return nil, err
	}
	length, err := m.epochRead(ctx, "epochLength")
	if err != nil {
		return nil, err
	}

	epoch := &Epoch{
		Number:        int(number.Int64()),
		StartBlock:    startBlock.Int64(),
		ElapsedBlocks: elapsed.Int64(),
		Length:        length.Int64(),
	}
	m.mu.Lock()
	m.cache.epoch = epoch
	m.mu.Unlock()
	return epoch, nil
}

func (m *monitor) epochRead(ctx context.Context, method string) (*big.Int, error) {
	data, err := m.contracts.EpochManager.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := m.chain.CallContract(ctx, ethereum.CallMsg{
		To:   &m.contracts.EpochManagerAddress,
		Data: data,
	}, nil)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.CodeChainRead, err, "epoch manager %s failed", method)
	}
	out, err := m.contracts.EpochManager.Unpack(method, raw)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// MaxAllocationEpochs reads the staking contract's allocation lifetime
// ceiling.
func (m *monitor) MaxAllocationEpochs(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.cache.maxAllocationEpochs != nil {
		v := *m.cache.maxAllocationEpochs
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	data, err := m.contracts.Staking.Pack("maxAllocationEpochs")
	if err != nil {
		return 0, err
	}
	raw, err := m.chain.CallContract(ctx, ethereum.CallMsg{
		To:   &m.contracts.StakingAddress,
		Data: data,
	}, nil)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.CodeChainRead, err, "maxAllocationEpochs read failed")
	}
	out, err := m.contracts.Staking.Unpack("maxAllocationEpochs", raw)
	if err != nil {
		return 0, err
	}
	v := int(out[0].(uint32))
	m.mu.Lock()
	m.cache.maxAllocationEpochs = &v
	m.mu.Unlock()
	return v, nil
}

// FreeStake reads the indexer's remaining capacity from the staking
// contract.
func (m *monitor) FreeStake(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	if m.cache.freeStake != nil {
		v := new(big.Int).Set(m.cache.freeStake)
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	data, err := m.contracts.PackGetIndexerCapacity(m.indexer)
	if err != nil {
		return nil, err
	}
	raw, err := m.chain.CallContract(ctx, ethereum.CallMsg{
		To:   &m.contracts.StakingAddress,
		Data: data,
	}, nil)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.CodeChainRead, err, "getIndexerCapacity read failed")
	}
	v, err := m.contracts.UnpackIndexerCapacity(raw)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache.freeStake = new(big.Int).Set(v)
	m.mu.Unlock()
	return v, nil
}

// Allocations lists the indexer's allocations with the given status.
// Active allocations are cached per pass.
func (m *monitor) Allocations(ctx context.Context, status models.AllocationStatus) ([]*models.Allocation, error) {
	if status == models.AllocationStatusActive {
		m.mu.Lock()
		if m.cache.activeAllocations != nil {
			cached := m.cache.activeAllocations
			m.mu.Unlock()
			return cached, nil
		}
		m.mu.Unlock()
	}

	allocations, err := m.subgraph.Allocations(ctx, m.indexer, status)
	if err != nil {
		return nil, err
	}
	if status == models.AllocationStatusActive {
		m.mu.Lock()
		m.cache.activeAllocations = allocations
		m.mu.Unlock()
	}
	return allocations, nil
}

// Allocation returns a single allocation by id, or nil when unknown.
func (m *monitor) Allocation(ctx context.Context, id common.Address) (*models.Allocation, error) {
	return m.subgraph.Allocation(ctx, id)
}

// AllocationState reads the staking contract's state for an id.
func (m *monitor) AllocationState(ctx context.Context, id common.Address) (models.AllocationStatus, error) {
	data, err := m.contracts.PackGetAllocationState(id)
	if err != nil {
		return models.AllocationStatusNull, err
	}
	raw, err := m.chain.CallContract(ctx, ethereum.CallMsg{
		To:   &m.contracts.StakingAddress,
		Data: data,
	}, nil)
	if err != nil {
		return models.AllocationStatusNull, ierrors.Wrap(ierrors.CodeChainRead, err, "getAllocationState read failed")
	}
	state, err := m.contracts.UnpackAllocationState(raw)
	if err != nil {
		return models.AllocationStatusNull, err
	}
	return models.AllocationStatus(state), nil
}

// Deployment returns the protocol subgraph's view of a deployment.
func (m *monitor) Deployment(ctx context.Context, id models.DeploymentID) (*models.SubgraphDeployment, error) {
	return m.subgraph.Deployment(ctx, id)
}

// EnsureDeployed idempotently creates, deploys and assigns the
// deployment on the local graph node.
func (m *monitor) EnsureDeployed(ctx context.Context, id models.DeploymentID) error {
	if err := m.graphNode.Create(ctx, id); err != nil {
		return err
	}
	return m.graphNode.Deploy(ctx, id)
}

// RemoveDeployment unassigns the deployment from indexing.
func (m *monitor) RemoveDeployment(ctx context.Context, id models.DeploymentID) error {
	return m.graphNode.Reassign(ctx, id, RemovedNodeID)
}

// PauseDeployment pauses indexing without unassigning.
func (m *monitor) PauseDeployment(ctx context.Context, id models.DeploymentID) error {
	return m.graphNode.Pause(ctx, id)
}

// LocalDeployments lists deployments on the local graph node.
func (m *monitor) LocalDeployments(ctx context.Context) ([]LocalDeployment, error) {
	return m.graphNode.LocalDeployments(ctx)
}

// InvalidateCache drops all cached reads. Called at the start of every
// reconciler pass.
func (m *monitor) InvalidateCache(ctx context.Context) error {
	m.mu.Lock()
	m.cache = monitorCache{}
	m.mu.Unlock()
	return nil
}

// Compile-time check to ensure monitor implements Monitor.
var _ Monitor = (*monitor)(nil)
