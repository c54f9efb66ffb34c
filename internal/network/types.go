// Package network provides the read-only view of a protocol network:
// epochs and capacity from the chain contracts, allocations and
// deployments from the protocol subgraph, and proofs of indexing from
// the local graph node.
package network

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/indexer-agent/internal/models"
)

// Epoch describes the protocol's current epoch.
type Epoch struct {
	Number        int
	StartBlock    int64
	ElapsedBlocks int64
	Length        int64
}

// StartBlockOf computes the start block of an earlier epoch from the
// current epoch and the epoch length.
func (e *Epoch) StartBlockOf(epoch int) int64 {
	return e.StartBlock - int64(e.Number-epoch)*e.Length
}

// Monitor is the read-only network view consumed by the action queue,
// the allocation manager and the reconciler. Implementations cache per
// pass; InvalidateCache drops cached reads at pass start.
type Monitor interface {
	CurrentEpoch(ctx context.Context) (*Epoch, error)
	MaxAllocationEpochs(ctx context.Context) (int, error)
	// FreeStake is the indexer's remaining allocation capacity.
	FreeStake(ctx context.Context) (*big.Int, error)
	Allocations(ctx context.Context, status models.AllocationStatus) ([]*models.Allocation, error)
	Allocation(ctx context.Context, id common.Address) (*models.Allocation, error)
	// AllocationState reads the staking contract's state enum for an
	// allocation id, including ids never seen by the subgraph.
	AllocationState(ctx context.Context, id common.Address) (models.AllocationStatus, error)
	// Deployment returns the protocol subgraph's view of a deployment,
	// or nil when it has not been published.
	Deployment(ctx context.Context, id models.DeploymentID) (*models.SubgraphDeployment, error)
	// EnsureDeployed idempotently deploys the subgraph on the local
	// graph node and assigns it to the configured index node.
	EnsureDeployed(ctx context.Context, id models.DeploymentID) error
	RemoveDeployment(ctx context.Context, id models.DeploymentID) error
	PauseDeployment(ctx context.Context, id models.DeploymentID) error
	// LocalDeployments lists the deployments present on the graph node
	// together with the index node each is assigned to.
	LocalDeployments(ctx context.Context) ([]LocalDeployment, error)
	// ResolvePOI resolves the proof of indexing to close an allocation
	// with, honoring a user-supplied POI and the force flag.
	ResolvePOI(ctx context.Context, allocation *models.Allocation, userPOI *string, force bool) ([32]byte, error)
	InvalidateCache(ctx context.Context) error
}

// LocalDeployment is a deployment known to the local graph node.
type LocalDeployment struct {
	ID     models.DeploymentID
	NodeID string
	Paused bool
	Synced bool
	Health string
}

// ChainReader is the subset of ethclient.Client the monitor needs.
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}
