// Package contracts bundles the read-only chain contract capabilities
// the agent depends on: ABI encoding for the staking contract's
// allocation mutations and decoding of the events their receipts emit.
//
// The bundle is passed into components as a dependency; it holds no
// connection state and is safe for concurrent use.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// stakingABI is the subset of the staking contract the agent calls and
// observes.
const stakingABI = `[
	{"type":"function","name":"allocateFrom","stateMutability":"nonpayable","inputs":[
		{"name":"indexer","type":"address"},
		{"name":"subgraphDeploymentID","type":"bytes32"},
		{"name":"tokens","type":"uint256"},
		{"name":"allocationID","type":"address"},
		{"name":"metadata","type":"bytes32"},
		{"name":"proof","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"closeAllocation","stateMutability":"nonpayable","inputs":[
		{"name":"allocationID","type":"address"},
		{"name":"poi","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"closeAndAllocate","stateMutability":"nonpayable","inputs":[
		{"name":"closingAllocationID","type":"address"},
		{"name":"poi","type":"bytes32"},
		{"name":"indexer","type":"address"},
		{"name":"subgraphDeploymentID","type":"bytes32"},
		{"name":"tokens","type":"uint256"},
		{"name":"allocationID","type":"address"},
		{"name":"metadata","type":"bytes32"},
		{"name":"proof","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"multicall","stateMutability":"nonpayable","inputs":[
		{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]},
	{"type":"function","name":"getAllocationState","stateMutability":"view","inputs":[
		{"name":"allocationID","type":"address"}],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"getIndexerCapacity","stateMutability":"view","inputs":[
		{"name":"indexer","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxAllocationEpochs","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint32"}]},
	{"type":"event","name":"AllocationCreated","inputs":[
		{"name":"indexer","type":"address","indexed":true},
		{"name":"subgraphDeploymentID","type":"bytes32","indexed":true},
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"tokens","type":"uint256","indexed":false},
		{"name":"allocationID","type":"address","indexed":true},
		{"name":"metadata","type":"bytes32","indexed":false}],"anonymous":false},
	{"type":"event","name":"AllocationClosed","inputs":[
		{"name":"indexer","type":"address","indexed":true},
		{"name":"subgraphDeploymentID","type":"bytes32","indexed":true},
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"tokens","type":"uint256","indexed":false},
		{"name":"allocationID","type":"address","indexed":true},
		{"name":"sender","type":"address","indexed":false},
		{"name":"poi","type":"bytes32","indexed":false},
		{"name":"isPublic","type":"bool","indexed":false}],"anonymous":false},
	{"type":"event","name":"RewardsAssigned","inputs":[
		{"name":"indexer","type":"address","indexed":true},
		{"name":"allocationID","type":"address","indexed":true},
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ProvisionIncreased","inputs":[
		{"name":"serviceProvider","type":"address","indexed":true},
		{"name":"verifier","type":"address","indexed":true},
		{"name":"tokens","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ProvisionThawed","inputs":[
		{"name":"serviceProvider","type":"address","indexed":true},
		{"name":"verifier","type":"address","indexed":true},
		{"name":"tokens","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ThawRequestCreated","inputs":[
		{"name":"serviceProvider","type":"address","indexed":true},
		{"name":"verifier","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"thawingUntil","type":"uint64","indexed":false},
		{"name":"thawRequestId","type":"bytes32","indexed":false}],"anonymous":false},
	{"type":"event","name":"TokensDeprovisioned","inputs":[
		{"name":"serviceProvider","type":"address","indexed":true},
		{"name":"verifier","type":"address","indexed":true},
		{"name":"tokens","type":"uint256","indexed":false}],"anonymous":false}
]`

// epochManagerABI is the epoch manager's read surface.
const epochManagerABI = `[
	{"type":"function","name":"currentEpoch","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"currentEpochBlock","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"currentEpochBlockSinceStart","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"epochLength","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]}
]`

// Bundle holds the parsed ABIs and contract addresses for one network.
type Bundle struct {
	Staking             abi.ABI
	EpochManager        abi.ABI
	StakingAddress      common.Address
	EpochManagerAddress common.Address
}

// NewBundle parses the contract ABIs for a network.
func NewBundle(stakingAddress, epochManagerAddress common.Address) (*Bundle, error) {
	staking, err := abi.JSON(strings.NewReader(stakingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking ABI: %w", err)
	}
	epochs, err := abi.JSON(strings.NewReader(epochManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse epoch manager ABI: %w", err)
	}
	return &Bundle{
		Staking:             staking,
		EpochManager:        epochs,
		StakingAddress:      stakingAddress,
		EpochManagerAddress: epochManagerAddress,
	}, nil
}

// PackAllocateFrom encodes an allocateFrom call.
func (b *Bundle) PackAllocateFrom(indexer common.Address, deployment [32]byte, tokens *big.Int, allocationID common.Address, metadata [32]byte, proof []byte) ([]byte, error) {
	return b.Staking.Pack("allocateFrom", indexer, deployment, tokens, allocationID, metadata, proof)
}

// PackCloseAllocation encodes a closeAllocation call.
func (b *Bundle) PackCloseAllocation(allocationID common.Address, poi [32]byte) ([]byte, error) {
	return b.Staking.Pack("closeAllocation", allocationID, poi)
}

// PackCloseAndAllocate encodes a closeAndAllocate call.
func (b *Bundle) PackCloseAndAllocate(closing common.Address, poi [32]byte, indexer common.Address, deployment [32]byte, tokens *big.Int, allocationID common.Address, metadata [32]byte, proof []byte) ([]byte, error) {
	return b.Staking.Pack("closeAndAllocate", closing, poi, indexer, deployment, tokens, allocationID, metadata, proof)
}

// PackMulticall encodes the atomic multi-call wrapping the given calls.
// The contract executes them in order; all succeed or all revert.
func (b *Bundle) PackMulticall(calls [][]byte) ([]byte, error) {
	return b.Staking.Pack("multicall", calls)
}

// PackGetAllocationState encodes a getAllocationState read.
func (b *Bundle) PackGetAllocationState(allocationID common.Address) ([]byte, error) {
	return b.Staking.Pack("getAllocationState", allocationID)
}

// UnpackAllocationState decodes a getAllocationState result.
func (b *Bundle) UnpackAllocationState(data []byte) (uint8, error) {
	out, err := b.Staking.Unpack("getAllocationState", data)
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// PackGetIndexerCapacity encodes a getIndexerCapacity read.
func (b *Bundle) PackGetIndexerCapacity(indexer common.Address) ([]byte, error) {
	return b.Staking.Pack("getIndexerCapacity", indexer)
}

// UnpackIndexerCapacity decodes a getIndexerCapacity result.
func (b *Bundle) UnpackIndexerCapacity(data []byte) (*big.Int, error) {
	out, err := b.Staking.Unpack("getIndexerCapacity", data)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}
