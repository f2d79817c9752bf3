package v2

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

// DefaultDeadline is how far ahead swap deadlines are set.
const DefaultDeadline = 10 * time.Minute

// ABI is the parsed PancakeSwap v2 router surface used here.
var ABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("bad router abi: %v", err))
	}
	return a
}()

// Router builds calldata for the v2 router. It never signs or sends.
type Router struct {
	addr     common.Address
	deadline time.Duration
	now      func() time.Time
}

func New(addr common.Address, deadline time.Duration) *Router {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Router{addr: addr, deadline: deadline, now: time.Now}
}

func (r *Router) Address() common.Address { return r.addr }

// Deadline is now + the configured window, in unix seconds.
func (r *Router) Deadline() *big.Int {
	return big.NewInt(r.now().Add(r.deadline).Unix())
}

func checkPath(path []common.Address) error {
	if len(path) < 2 {
		return fmt.Errorf("v2 router: path needs at least 2 hops, got %d", len(path))
	}
	return nil
}

// SwapExactETHForTokens is the payable buy; the caller sets value to the BNB in.
func (r *Router) SwapExactETHForTokens(minOut *big.Int, path []common.Address, to common.Address) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	data, err := ABI.Pack("swapExactETHForTokens", minOut, path, to, r.Deadline())
	if err != nil {
		return nil, fmt.Errorf("pack swapExactETHForTokens: %w", err)
	}
	return data, nil
}

func (r *Router) SwapExactTokensForETH(amountIn, minOut *big.Int, path []common.Address, to common.Address) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	data, err := ABI.Pack("swapExactTokensForETH", amountIn, minOut, path, to, r.Deadline())
	if err != nil {
		return nil, fmt.Errorf("pack swapExactTokensForETH: %w", err)
	}
	return data, nil
}
