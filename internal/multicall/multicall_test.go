package multicall

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
)

// fakeCaller answers aggregate3 with a canned result per call.
type fakeCaller struct {
	results []Result
	err     error
	seen    []Call
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := contracts.Multicall3.Methods["aggregate3"]
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.seen = *abi.ConvertType(args[0], new([]Call)).(*[]Call)
	return m.Outputs.Pack(f.results)
}

// MockMulticallClient skips ABI encoding entirely.
type MockMulticallClient struct {
	results []Result
	err     error
	calls   int
}

func (m *MockMulticallClient) Aggregate3(_ context.Context, calls []Call) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func uint256(t *testing.T, v int64) []byte {
	b, err := contracts.ERC20.Methods["balanceOf"].Outputs.Pack(big.NewInt(v))
	require.NoError(t, err)
	return b
}

func TestClient_Aggregate3(t *testing.T) {
	fc := &fakeCaller{results: []Result{
		{Success: true, ReturnData: uint256(t, 42)},
		{Success: false, ReturnData: []byte{}},
	}}
	mc, err := New(fc, contracts.Defaults().Multicall3)
	require.NoError(t, err)

	token := common.HexToAddress("0x01")
	data, err := contracts.ERC20.Pack("balanceOf", common.HexToAddress("0x02"))
	require.NoError(t, err)

	res, err := mc.Aggregate3(context.Background(), []Call{
		{Target: token, AllowFailure: true, CallData: data},
		{Target: token, AllowFailure: true, CallData: data},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].Success)
	assert.False(t, res[1].Success)

	require.Len(t, fc.seen, 2)
	assert.Equal(t, token, fc.seen[0].Target)
	assert.True(t, fc.seen[0].AllowFailure)
	assert.Equal(t, data, fc.seen[0].CallData)
}

func TestClient_Aggregate3_Errors(t *testing.T) {
	mc, err := New(&fakeCaller{err: errors.New("boom")}, common.Address{})
	require.NoError(t, err)

	_, err = mc.Aggregate3(context.Background(), nil)
	assert.ErrorContains(t, err, "empty batch")

	_, err = mc.Aggregate3(context.Background(), []Call{{}})
	assert.ErrorContains(t, err, "call aggregate3")

	// one result for two calls
	mc, _ = New(&fakeCaller{results: []Result{{Success: true}}}, common.Address{})
	_, err = mc.Aggregate3(context.Background(), []Call{{}, {}})
	assert.ErrorContains(t, err, "got 1 results for 2 calls")
}

func TestBatch_RequiredAndOptional(t *testing.T) {
	b := NewBatch()
	owner := common.HexToAddress("0x02")
	info := b.Pack("info", common.HexToAddress("0x01"), contracts.ERC20, "balanceOf", owner)
	price := b.Pack("bnbUsd", common.HexToAddress("0x03"), contracts.Oracle, "getBNBUsdPrice")
	require.Equal(t, 2, b.Len())

	mock := &MockMulticallClient{results: []Result{
		{Success: false},
		{Success: true, ReturnData: uint256(t, 600)},
	}}
	slots, err := b.Run(context.Background(), mock)
	require.NoError(t, err)

	// required slot failing names the call even though the optional one succeeded
	err = slots.At(info).Require()
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "info", ce.Call)
	assert.Equal(t, 0, ce.Index)

	_, err = slots.At(info).Decode(contracts.ERC20, "balanceOf")
	assert.ErrorAs(t, err, &ce)

	assert.Equal(t, int64(600), slots.At(price).BigOr(contracts.Oracle, "getBNBUsdPrice", big.NewInt(0)).Int64())
	assert.Equal(t, int64(0), slots.At(info).BigOr(contracts.ERC20, "balanceOf", big.NewInt(0)).Int64())

	assert.True(t, slots.At(price).Ok())
	assert.False(t, slots.At(7).Ok())
}

func TestBatch_UndecodableSlotIsCallError(t *testing.T) {
	b := NewBatch()
	i := b.Pack("sim", common.Address{}, contracts.Aggregator, "trySellToBNB", common.Address{}, big.NewInt(1))
	slots, err := b.Run(context.Background(), &MockMulticallClient{results: []Result{{Success: true, ReturnData: []byte{1, 2}}}})
	require.NoError(t, err)

	_, err = slots.At(i).Big(contracts.Aggregator, "trySellToBNB", 0)
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sim", ce.Call)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestBatch_EmptyAndPackErrors(t *testing.T) {
	mock := &MockMulticallClient{}
	_, err := NewBatch().Run(context.Background(), mock)
	assert.Error(t, err)
	assert.Equal(t, 0, mock.calls, "empty batch must not hit the network")

	b := NewBatch()
	b.Pack("bad", common.Address{}, contracts.ERC20, "balanceOf", "not-an-address")
	_, err = b.Run(context.Background(), mock)
	assert.ErrorContains(t, err, "pack bad")
	assert.Equal(t, 0, mock.calls)
}

func TestBatch_ResultCountMismatch(t *testing.T) {
	b := NewBatch()
	b.Add("a", common.Address{}, nil)
	b.Add("b", common.Address{}, nil)
	_, err := b.Run(context.Background(), &MockMulticallClient{results: []Result{{Success: true}}})
	assert.Error(t, err)
}
