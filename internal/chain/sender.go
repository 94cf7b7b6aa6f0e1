// internal/chain/sender.go
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"member-portal/internal/common/config"
)

// TxBackend is the transaction-submission surface. Separated from Reader so
// the sponsor engine and allowance evaluator can be tested against fakes.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account string) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, txHash string) (bool, error)
}

type ethTxBackend struct {
	client  *ethclient.Client
	timeout time.Duration
}

// NewTxBackend dials the configured RPC endpoint for writes.
func NewTxBackend(cfg config.ChainConfig) (TxBackend, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return &ethTxBackend{client: client, timeout: config.GetDuration(cfg.RequestTimeout)}, nil
}

func (b *ethTxBackend) PendingNonceAt(ctx context.Context, account string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	n, err := b.client.PendingNonceAt(ctx, common.HexToAddress(account))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return n, nil
}

func (b *ethTxBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.client.SuggestGasPrice(ctx)
}

func (b *ethTxBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.client.SendTransaction(ctx, tx)
}

// WaitMined polls for a receipt until the context expires. True means the
// transaction was included and succeeded.
func (b *ethTxBackend) WaitMined(ctx context.Context, txHash string) (bool, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wallet holds a signing key for a server-controlled account (the sponsor).
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewWallet parses a hex private key (0x prefix optional).
func NewWallet(hexKey string, chainID int64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the checksum address of the wallet.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// SignContractCall builds and signs a legacy transaction invoking calldata
// against a contract.
func (w *Wallet) SignContractCall(nonce uint64, contract string, gasLimit uint64, gasPrice *big.Int, calldata []byte) (*types.Transaction, error) {
	to := common.HexToAddress(contract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
}
