package executor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// receiptPollInterval is how often the tx manager checks for a mined
// receipt.
const receiptPollInterval = 3 * time.Second

// ChainTxManager signs and submits transactions through an RPC
// endpoint and waits for the receipt.
type ChainTxManager struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewChainTxManager creates a tx manager signing with the operator key.
func NewChainTxManager(client *ethclient.Client, key *ecdsa.PrivateKey, chainID *big.Int) *ChainTxManager {
	return &ChainTxManager{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

// From is the operator address transactions are sent from.
func (m *ChainTxManager) From() common.Address {
	return m.from
}

// Execute estimates, signs, submits and waits for one transaction.
// Paused and unauthorized reverts surface as their sentinel errors so
// the executor can fail the whole batch.
func (m *ChainTxManager) Execute(ctx context.Context, to common.Address, calldata []byte) (*types.Receipt, error) {
	nonce, err := m.client.PendingNonceAt(ctx, m.from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{From: m.from, To: &to, Data: calldata}
	gas, err := m.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, m.classifyRevert(err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.chainID), m.key)
	if err != nil {
		return nil, err
	}
	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return nil, m.classifyRevert(err)
	}
	return m.waitMined(ctx, signed.Hash())
}

func (m *ChainTxManager) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := m.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classifyRevert maps the staking contract's revert strings onto the
// batch-level sentinel errors.
func (m *ChainTxManager) classifyRevert(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "paused"):
		return ErrPaused
	case strings.Contains(msg, "!auth") || strings.Contains(msg, "caller must be the authorized"):
		return ErrUnauthorized
	default:
		return err
	}
}
