package v2

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	router = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	wbnb   = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token  = common.HexToAddress("0x1111111111111111111111111111111111114444")
	to     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func fixedRouter() *Router {
	r := New(router, 0)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return r
}

func TestDeadline(t *testing.T) {
	r := fixedRouter()
	assert.Equal(t, int64(1_700_000_600), r.Deadline().Int64())
}

func TestSwapExactETHForTokens(t *testing.T) {
	data, err := fixedRouter().SwapExactETHForTokens(big.NewInt(99), []common.Address{wbnb, token}, to)
	require.NoError(t, err)

	m := ABI.Methods["swapExactETHForTokens"]
	assert.Equal(t, m.ID, data[:4])
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(99), args[0].(*big.Int).Int64())
	assert.Equal(t, []common.Address{wbnb, token}, args[1])
	assert.Equal(t, to, args[2])
	assert.Equal(t, int64(1_700_000_600), args[3].(*big.Int).Int64())
}

func TestSwapExactTokensForETH(t *testing.T) {
	usdt := common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	path := []common.Address{token, usdt, wbnb}
	data, err := fixedRouter().SwapExactTokensForETH(big.NewInt(5), big.NewInt(4), path, to)
	require.NoError(t, err)

	args, err := ABI.Methods["swapExactTokensForETH"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(5), args[0].(*big.Int).Int64())
	assert.Equal(t, int64(4), args[1].(*big.Int).Int64())
	assert.Equal(t, path, args[2])
}

func TestShortPath(t *testing.T) {
	_, err := fixedRouter().SwapExactETHForTokens(big.NewInt(1), []common.Address{token}, to)
	assert.Error(t, err)
}
