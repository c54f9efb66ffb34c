package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AllocationCreatedEvent is a decoded AllocationCreated log.
type AllocationCreatedEvent struct {
	Indexer              common.Address
	SubgraphDeploymentID [32]byte
	Epoch                *big.Int
	Tokens               *big.Int
	AllocationID         common.Address
	Metadata             [32]byte
}

// AllocationClosedEvent is a decoded AllocationClosed log.
type AllocationClosedEvent struct {
	Indexer              common.Address
	SubgraphDeploymentID [32]byte
	Epoch                *big.Int
	Tokens               *big.Int
	AllocationID         common.Address
	Sender               common.Address
	POI                  [32]byte
	IsPublic             bool
}

// RewardsAssignedEvent is a decoded RewardsAssigned log.
type RewardsAssignedEvent struct {
	Indexer      common.Address
	AllocationID common.Address
	Epoch        *big.Int
	Amount       *big.Int
}

// ReceiptEvents groups the allocation lifecycle events found in one
// transaction receipt, in log order.
type ReceiptEvents struct {
	Created []AllocationCreatedEvent
	Closed  []AllocationClosedEvent
	Rewards []RewardsAssignedEvent
}

// ParseReceipt decodes the allocation lifecycle events from a receipt.
// Logs from unrelated contracts or with unknown topics are skipped.
func (b *Bundle) ParseReceipt(receipt *types.Receipt) (*ReceiptEvents, error) {
	events := &ReceiptEvents{}
	createdID := b.Staking.Events["AllocationCreated"].ID
	closedID := b.Staking.Events["AllocationClosed"].ID
	rewardsID := b.Staking.Events["RewardsAssigned"].ID

	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 {
			continue
		}
		switch log.Topics[0] {
		case createdID:
			ev, err := b.parseAllocationCreated(log)
			if err != nil {
				return nil, err
			}
			events.Created = append(events.Created, *ev)
		case closedID:
			ev, err := b.parseAllocationClosed(log)
			if err != nil {
				return nil, err
			}
			events.Closed = append(events.Closed, *ev)
		case rewardsID:
			ev, err := b.parseRewardsAssigned(log)
			if err != nil {
				return nil, err
			}
			events.Rewards = append(events.Rewards, *ev)
		}
	}
	return events, nil
}

func (b *Bundle) parseAllocationCreated(log *types.Log) (*AllocationCreatedEvent, error) {
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("malformed AllocationCreated log: %d topics", len(log.Topics))
	}
	var ev AllocationCreatedEvent
	ev.Indexer = common.BytesToAddress(log.Topics[1].Bytes())
	ev.SubgraphDeploymentID = [32]byte(log.Topics[2])
	ev.AllocationID = common.BytesToAddress(log.Topics[3].Bytes())

	unpacked, err := b.Staking.Events["AllocationCreated"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack AllocationCreated: %w", err)
	}
	ev.Epoch = unpacked[0].(*big.Int)
	ev.Tokens = unpacked[1].(*big.Int)
	ev.Metadata = unpacked[2].([32]byte)
	return &ev, nil
}

func (b *Bundle) parseAllocationClosed(log *types.Log) (*AllocationClosedEvent, error) {
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("malformed AllocationClosed log: %d topics", len(log.Topics))
	}
	var ev AllocationClosedEvent
	ev.Indexer = common.BytesToAddress(log.Topics[1].Bytes())
	ev.SubgraphDeploymentID = [32]byte(log.Topics[2])
	ev.AllocationID = common.BytesToAddress(log.Topics[3].Bytes())

	unpacked, err := b.Staking.Events["AllocationClosed"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack AllocationClosed: %w", err)
	}
	ev.Epoch = unpacked[0].(*big.Int)
	ev.Tokens = unpacked[1].(*big.Int)
	ev.Sender = unpacked[2].(common.Address)
	ev.POI = unpacked[3].([32]byte)
	ev.IsPublic = unpacked[4].(bool)
	return &ev, nil
}

func (b *Bundle) parseRewardsAssigned(log *types.Log) (*RewardsAssignedEvent, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("malformed RewardsAssigned log: %d topics", len(log.Topics))
	}
	var ev RewardsAssignedEvent
	ev.Indexer = common.BytesToAddress(log.Topics[1].Bytes())
	ev.AllocationID = common.BytesToAddress(log.Topics[2].Bytes())

	unpacked, err := b.Staking.Events["RewardsAssigned"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack RewardsAssigned: %w", err)
	}
	ev.Epoch = unpacked[0].(*big.Int)
	ev.Amount = unpacked[1].(*big.Int)
	return &ev, nil
}
