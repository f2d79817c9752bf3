package txstatus

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu       sync.Mutex
	receipt  *gethtypes.Receipt
	rcErr    error
	tx       *gethtypes.Transaction
	pending  bool
	txErr    error
	head     uint64
	headErr  error
	rcCalls  int
	afterN   int
	minedRcp *gethtypes.Receipt
}

func (f *fakeReader) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rcCalls++
	if f.minedRcp != nil && f.rcCalls > f.afterN {
		return f.minedRcp, nil
	}
	if f.receipt == nil && f.rcErr == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, f.rcErr
}

func (f *fakeReader) TransactionByHash(context.Context, common.Hash) (*gethtypes.Transaction, bool, error) {
	if f.tx == nil && f.txErr == nil {
		return nil, false, ethereum.NotFound
	}
	return f.tx, f.pending, f.txErr
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) { return f.head, f.headErr }

var hash = common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060")

func mined(status uint64, block int64) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status:            status,
		BlockNumber:       big.NewInt(block),
		GasUsed:           21000,
		CumulativeGasUsed: 90000,
		EffectiveGasPrice: big.NewInt(80_000_000),
	}
}

func TestStatusMined(t *testing.T) {
	r := &fakeReader{receipt: mined(1, 100), head: 104}
	st, err := New(r, 0, 0).Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Success, st.State)
	require.NotNil(t, st.BlockNumber)
	assert.Equal(t, uint64(100), *st.BlockNumber)
	assert.Equal(t, uint64(21000), *st.GasUsed)
	assert.Equal(t, uint64(90000), *st.CumulativeGasUsed)
	assert.Equal(t, int64(80_000_000), st.GasPrice.Int64())
	assert.Equal(t, uint64(5), st.Confirmations)
	assert.True(t, st.Final())
}

func TestStatusReverted(t *testing.T) {
	r := &fakeReader{receipt: mined(0, 100), head: 100}
	st, err := New(r, 0, 0).Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Failed, st.State)
	assert.Equal(t, uint64(1), st.Confirmations)
}

func TestStatusHeadUnavailable(t *testing.T) {
	r := &fakeReader{receipt: mined(1, 100), headErr: errors.New("down")}
	st, err := New(r, 0, 0).Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Success, st.State)
	assert.Zero(t, st.Confirmations)
}

func TestStatusPendingAndUnknown(t *testing.T) {
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 1, GasPrice: big.NewInt(50_000_000), Gas: 21000})
	r := &fakeReader{tx: tx, pending: true}
	st, err := New(r, 0, 0).Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.State)
	assert.Equal(t, int64(50_000_000), st.GasPrice.Int64())
	assert.Nil(t, st.BlockNumber)
	assert.False(t, st.Final())

	st, err = New(&fakeReader{}, 0, 0).Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Unknown, st.State)
}

func TestStatusRPCError(t *testing.T) {
	r := &fakeReader{rcErr: errors.New("boom")}
	_, err := New(r, 0, 0).Status(context.Background(), hash)
	assert.ErrorContains(t, err, "boom")
}

func TestReceiptCached(t *testing.T) {
	r := &fakeReader{receipt: mined(1, 10), head: 10}
	c := New(r, 8, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := c.Status(context.Background(), hash)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.rcCalls)
}

func TestWaitUntilMined(t *testing.T) {
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{GasPrice: big.NewInt(1)})
	r := &fakeReader{tx: tx, pending: true, minedRcp: mined(1, 7), afterN: 2, head: 9}
	st, err := New(r, 0, 0).Wait(context.Background(), hash, 200*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Success, st.State)
	assert.Equal(t, uint64(3), st.Confirmations)
}

func TestWaitTimeout(t *testing.T) {
	r := &fakeReader{}
	st, err := New(r, 0, 0).Wait(context.Background(), hash, 200*time.Millisecond, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Unknown, st.State)
}

func TestValidHash(t *testing.T) {
	assert.True(t, ValidHash(hash.Hex()))
	assert.False(t, ValidHash("5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"))
	assert.False(t, ValidHash("0x1234"))
	assert.False(t, ValidHash("0xzz504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"))
}
