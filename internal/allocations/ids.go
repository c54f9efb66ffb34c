// Package allocations prepares allocation mutations for the batch
// executor and interprets their receipts.
package allocations

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
)

// maxDerivationAttempts bounds the collision-avoidance loop. Hitting it
// would require this many keccak preimages to collide with live
// allocation ids.
const maxDerivationAttempts = 100

// Wallet derives per-allocation signing keys from the operator
// mnemonic. The derivation is deterministic: the same mnemonic, epoch
// and deployment always yield the same id sequence.
type Wallet struct {
	seed []byte
}

// NewWallet validates the mnemonic and derives the wallet seed.
func NewWallet(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ierrors.New(ierrors.CodeMisconfiguration, "invalid operator mnemonic")
	}
	return &Wallet{seed: bip39.NewSeed(mnemonic, "")}, nil
}

// DeriveAllocationID returns the first derived (key, id) pair whose id
// is not in the exclusion set. The child index is incremented until the
// id is free.
func (w *Wallet) DeriveAllocationID(epoch int, deployment [32]byte, taken map[common.Address]bool) (*ecdsa.PrivateKey, common.Address, error) {
	for index := 0; index < maxDerivationAttempts; index++ {
		key, err := w.childKey(epoch, deployment, index)
		if err != nil {
			return nil, common.Address{}, err
		}
		id := crypto.PubkeyToAddress(key.PublicKey)
		if !taken[id] {
			return key, id, nil
		}
	}
	return nil, common.Address{}, ierrors.Newf(ierrors.CodeAllocationExists,
		"failed to derive a free allocation id after %d attempts", maxDerivationAttempts)
}

// OperatorKey derives the key the agent submits transactions with.
func (w *Wallet) OperatorKey() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(crypto.Keccak256(w.seed, []byte("operator")))
}

func (w *Wallet) childKey(epoch int, deployment [32]byte, index int) (*ecdsa.PrivateKey, error) {
	var epochBytes, indexBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], uint64(epoch))
	binary.BigEndian.PutUint64(indexBytes[:], uint64(index))
	material := crypto.Keccak256(w.seed, epochBytes[:], deployment[:], indexBytes[:])
	return crypto.ToECDSA(material)
}

// Proof signs keccak256(indexer ‖ allocationID) with the allocation
// key, prefixed as an Ethereum signed message so the staking contract
// can recover the allocation id from it.
func Proof(key *ecdsa.PrivateKey, indexer, allocationID common.Address) ([]byte, error) {
	message := crypto.Keccak256(indexer.Bytes(), allocationID.Bytes())
	digest := crypto.Keccak256(
		[]byte("\x19Ethereum Signed Message:\n32"),
		message,
	)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	// Contract-side ecrecover expects v in {27, 28}.
	sig[64] += 27
	return sig, nil
}
