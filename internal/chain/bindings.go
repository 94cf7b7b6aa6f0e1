// internal/chain/bindings.go
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the PublicLock membership contract and the
// ERC-20 renewal token. Only the functions the portal calls are declared.
const publicLockABI = `[
  {"name":"getHasValidKey","type":"function","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"keyExpirationTimestampFor","type":"function","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"tokenOfOwnerByIndex","type":"function","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"},{"name":"_index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"keyPrice","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"tokenAddress","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"isLockManager","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"isValidKey","type":"function","stateMutability":"view","inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"name":"expireAndRefundFor","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_tokenId","type":"uint256"},{"name":"_refund","type":"uint256"}],"outputs":[]},
  {"name":"grantKeys","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_recipients","type":"address[]"},{"name":"_expirationTimestamps","type":"uint256[]"},{"name":"_keyManagers","type":"address[]"}],"outputs":[{"name":"","type":"uint256[]"}]}
]`

const erc20ABI = `[
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	lockABI  abi.ABI
	tokenABI abi.ABI
)

func init() {
	var err error
	lockABI, err = abi.JSON(strings.NewReader(publicLockABI))
	if err != nil {
		panic("chain: bad lock ABI: " + err.Error())
	}
	tokenABI, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic("chain: bad erc20 ABI: " + err.Error())
	}
}

// LockABI exposes the parsed lock ABI for call-data packing elsewhere
// (sponsor engine, allowance evaluator).
func LockABI() abi.ABI { return lockABI }

// TokenABI exposes the parsed ERC-20 ABI.
func TokenABI() abi.ABI { return tokenABI }
