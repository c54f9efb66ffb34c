package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllocationStatus mirrors the staking contract's allocation state enum.
type AllocationStatus int

const (
	AllocationStatusNull AllocationStatus = iota
	AllocationStatusActive
	AllocationStatusClosed
	AllocationStatusFinalized
	AllocationStatusClaimed
)

// String returns the lowercase name used by the subgraph.
func (s AllocationStatus) String() string {
	switch s {
	case AllocationStatusNull:
		return "null"
	case AllocationStatusActive:
		return "active"
	case AllocationStatusClosed:
		return "closed"
	case AllocationStatusFinalized:
		return "finalized"
	case AllocationStatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Allocation is a read-only projection of an on-chain allocation. The
// chain is authoritative; these values are only cached per pass.
type Allocation struct {
	ID                 common.Address
	Status             AllocationStatus
	SubgraphDeployment DeploymentID
	Indexer            common.Address
	AllocatedTokens    *big.Int
	CreatedAtEpoch     int
	ClosedAtEpoch      int
	POI                *common.Hash
}

// SubgraphDeployment is the protocol subgraph's view of a deployment.
type SubgraphDeployment struct {
	ID              DeploymentID
	DeniedAt        int
	StakedTokens    *big.Int
	SignalledTokens *big.Int
	QueryFeesAmount *big.Int
}
