package network

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/models"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// ResolvePOI determines the proof of indexing to close an allocation
// with.
//
// A user-supplied POI combined with force wins unconditionally. In
// every other case the canonical POI is computed from the local graph
// node at the allocation's closing epoch start block; a user-supplied
// POI must then agree with it, and the absence of both is a fatal
// per-action error.
func (m *monitor) ResolvePOI(ctx context.Context, allocation *models.Allocation, userPOI *string, force bool) ([32]byte, error) {
	if force && userPOI != nil {
		return parsePOI(*userPOI)
	}

	canonical, err := m.canonicalPOI(ctx, allocation)
	if err != nil {
		return [32]byte{}, err
	}

	if userPOI != nil {
		supplied, err := parsePOI(*userPOI)
		if err != nil {
			return [32]byte{}, err
		}
		if canonical == nil {
			// No canonical reference to check against; require force.
			return [32]byte{}, ierrors.Newf(ierrors.CodePOIDisagreement,
				"supplied POI for allocation '%s' cannot be verified against the local graph node", allocation.ID.Hex())
		}
		if supplied != *canonical {
			return [32]byte{}, ierrors.Newf(ierrors.CodePOIDisagreement,
				"supplied POI '%s' disagrees with the locally computed POI '%s' for allocation '%s'",
				*userPOI, common.Hash(*canonical).Hex(), allocation.ID.Hex())
		}
		return supplied, nil
	}

	if canonical == nil {
		return [32]byte{}, ierrors.Newf(ierrors.CodeNoPOI,
			"no POI available for allocation '%s' on deployment '%s'",
			allocation.ID.Hex(), allocation.SubgraphDeployment.Base58())
	}
	return *canonical, nil
}

// canonicalPOI queries the local graph node at the closing epoch's start
// block.
func (m *monitor) canonicalPOI(ctx context.Context, allocation *models.Allocation) (*[32]byte, error) {
	epoch, err := m.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}

	closingEpoch := allocation.ClosedAtEpoch
	if closingEpoch == 0 {
		closingEpoch = epoch.Number
	}
	blockNumber := epoch.StartBlockOf(closingEpoch)
	if blockNumber < 0 {
		return nil, nil
	}

	header, err := m.chain.HeaderByNumber(ctx, big.NewInt(blockNumber))
	if err != nil {
		return nil, ierrors.Wrap(ierrors.CodeChainRead, err, "failed to read epoch start block %d", blockNumber)
	}

	poi, err := m.graphNode.ProofOfIndexing(ctx,
		allocation.SubgraphDeployment, blockNumber, header.Hash().Hex(), strings.ToLower(m.indexer.Hex()))
	if err != nil {
		return nil, err
	}
	if poi == nil {
		return nil, nil
	}
	parsed, err := parsePOI(*poi)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parsePOI(s string) ([32]byte, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return [32]byte{}, ierrors.Newf(ierrors.CodeNoPOI, "malformed POI '%s': expected 32-byte hex", s)
	}
	return [32]byte(common.HexToHash(s)), nil
}
