// internal/chain/reader.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"member-portal/internal/common/config"
)

// ErrChainUnavailable signals total provider failure, as opposed to a
// single failed contract call.
var ErrChainUnavailable = errors.New("chain provider unavailable")

// ErrNoKey is returned by TokenOfOwner when the owner holds no key.
var ErrNoKey = errors.New("no key for owner")

// Reader is the read-only query surface over membership and event locks.
// Pure query layer; holds no state beyond the RPC connection.
type Reader interface {
	HasValidKey(ctx context.Context, lock, owner string) (bool, error)
	KeyExpirationFor(ctx context.Context, lock, owner string) (int64, error)
	TokenOfOwner(ctx context.Context, lock, owner string) (string, error)
	IsValidKeyToken(ctx context.Context, lock, tokenID string) (bool, error)
	OwnerOfToken(ctx context.Context, lock, tokenID string) (string, error)
	KeyPrice(ctx context.Context, lock string) (*big.Int, error)
	TokenAddress(ctx context.Context, lock string) (string, error)
	LockName(ctx context.Context, lock string) (string, error)
	Erc20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	IsLockManager(ctx context.Context, lock, account string) (bool, error)
	BalanceAt(ctx context.Context, account string) (*big.Int, error)
}

type ethReader struct {
	client  *ethclient.Client
	timeout time.Duration
}

// NewReader dials the configured RPC endpoint.
func NewReader(cfg config.ChainConfig) (Reader, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return &ethReader{
		client:  client,
		timeout: config.GetDuration(cfg.RequestTimeout),
	}, nil
}

// NewReaderWithClient wraps an existing client (tests, shared dials).
func NewReaderWithClient(client *ethclient.Client, timeout time.Duration) Reader {
	return &ethReader{client: client, timeout: timeout}
}

func (r *ethReader) call(ctx context.Context, contract string, parsed callTarget, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := parsed.abi().Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := common.HexToAddress(contract)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, contract, err)
	}
	res, err := parsed.abi().Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

type callTarget int

const (
	targetLock callTarget = iota
	targetToken
)

func (t callTarget) abi() interface {
	Pack(name string, args ...interface{}) ([]byte, error)
	Unpack(name string, data []byte) ([]interface{}, error)
} {
	if t == targetToken {
		return tokenABI
	}
	return lockABI
}

func (r *ethReader) HasValidKey(ctx context.Context, lock, owner string) (bool, error) {
	res, err := r.call(ctx, lock, targetLock, "getHasValidKey", common.HexToAddress(owner))
	if err != nil {
		return false, err
	}
	return res[0].(bool), nil
}

func (r *ethReader) KeyExpirationFor(ctx context.Context, lock, owner string) (int64, error) {
	res, err := r.call(ctx, lock, targetLock, "keyExpirationTimestampFor", common.HexToAddress(owner))
	if err != nil {
		return 0, err
	}
	exp := res[0].(*big.Int)
	if !exp.IsInt64() {
		// Non-expiring locks report max uint256; clamp to a sentinel the
		// rest of the system treats as "never expires".
		return NeverExpires, nil
	}
	return exp.Int64(), nil
}

// NeverExpires is the clamped expiry for keys that do not expire.
const NeverExpires int64 = 1<<62 - 1

func (r *ethReader) TokenOfOwner(ctx context.Context, lock, owner string) (string, error) {
	bal, err := r.call(ctx, lock, targetLock, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return "", err
	}
	if bal[0].(*big.Int).Sign() == 0 {
		return "", ErrNoKey
	}
	res, err := r.call(ctx, lock, targetLock, "tokenOfOwnerByIndex", common.HexToAddress(owner), big.NewInt(0))
	if err != nil {
		return "", err
	}
	return res[0].(*big.Int).String(), nil
}

func (r *ethReader) IsValidKeyToken(ctx context.Context, lock, tokenID string) (bool, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return false, fmt.Errorf("invalid token id %q", tokenID)
	}
	res, err := r.call(ctx, lock, targetLock, "isValidKey", id)
	if err != nil {
		return false, err
	}
	return res[0].(bool), nil
}

func (r *ethReader) OwnerOfToken(ctx context.Context, lock, tokenID string) (string, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return "", fmt.Errorf("invalid token id %q", tokenID)
	}
	res, err := r.call(ctx, lock, targetLock, "ownerOf", id)
	if err != nil {
		return "", err
	}
	return res[0].(common.Address).Hex(), nil
}

func (r *ethReader) KeyPrice(ctx context.Context, lock string) (*big.Int, error) {
	res, err := r.call(ctx, lock, targetLock, "keyPrice")
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

func (r *ethReader) TokenAddress(ctx context.Context, lock string) (string, error) {
	res, err := r.call(ctx, lock, targetLock, "tokenAddress")
	if err != nil {
		return "", err
	}
	return res[0].(common.Address).Hex(), nil
}

func (r *ethReader) LockName(ctx context.Context, lock string) (string, error) {
	res, err := r.call(ctx, lock, targetLock, "name")
	if err != nil {
		return "", err
	}
	return res[0].(string), nil
}

func (r *ethReader) Erc20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	res, err := r.call(ctx, token, targetToken, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

func (r *ethReader) IsLockManager(ctx context.Context, lock, account string) (bool, error) {
	res, err := r.call(ctx, lock, targetLock, "isLockManager", common.HexToAddress(account))
	if err != nil {
		return false, err
	}
	return res[0].(bool), nil
}

func (r *ethReader) BalanceAt(ctx context.Context, account string) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	bal, err := r.client.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return bal, nil
}
