package conn

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
)

var ErrNotConnected = errors.New("rpc: not connected")

// Backend is the fixed set of chain calls the relay makes.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error)
}

// Transport is one physical connection.
type Transport interface {
	Backend
	Streaming() bool
	// Terminate drops the socket without a graceful close.
	Terminate()
	Close()
}

// Handle resolves the supervisor's current transport on every call, so it
// stays valid across reconnects.
type Handle struct {
	s *Supervisor
}

func (h Handle) cur() (Transport, error) {
	if t := h.s.current(); t != nil {
		return t, nil
	}
	return nil, ErrNotConnected
}

func (h Handle) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	t, err := h.cur()
	if err != nil {
		return nil, err
	}
	return t.CallContract(ctx, msg, block)
}

func (h Handle) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	t, err := h.cur()
	if err != nil {
		return 0, err
	}
	return t.PendingNonceAt(ctx, account)
}

func (h Handle) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	t, err := h.cur()
	if err != nil {
		return err
	}
	return t.SendTransaction(ctx, tx)
}

func (h Handle) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	t, err := h.cur()
	if err != nil {
		return nil, err
	}
	return t.TransactionReceipt(ctx, hash)
}

func (h Handle) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	t, err := h.cur()
	if err != nil {
		return nil, false, err
	}
	return t.TransactionByHash(ctx, hash)
}

func (h Handle) BlockNumber(ctx context.Context) (uint64, error) {
	t, err := h.cur()
	if err != nil {
		return 0, err
	}
	return t.BlockNumber(ctx)
}

func (h Handle) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	t, err := h.cur()
	if err != nil {
		return nil, err
	}
	return t.BalanceAt(ctx, account, block)
}

func (h Handle) SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error) {
	t, err := h.cur()
	if err != nil {
		return nil, err
	}
	return t.SubscribeNewHead(ctx, ch)
}

type instrumented struct {
	Transport
	log *zap.Logger
}

// Instrument wraps t with per-method latency and error accounting.
func Instrument(t Transport, log *zap.Logger) Transport {
	return &instrumented{Transport: t, log: log}
}

func (i *instrumented) observe(method string, start time.Time, err error) {
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		i.log.Debug("rpc call failed", zap.String("method", method), zap.Error(err))
	}
}

func (i *instrumented) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := i.Transport.CallContract(ctx, msg, block)
	i.observe("eth_call", start, err)
	return out, err
}

func (i *instrumented) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	start := time.Now()
	n, err := i.Transport.PendingNonceAt(ctx, account)
	i.observe("eth_getTransactionCount", start, err)
	return n, err
}

func (i *instrumented) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	start := time.Now()
	err := i.Transport.SendTransaction(ctx, tx)
	i.observe("eth_sendRawTransaction", start, err)
	if err != nil {
		i.log.Warn("send transaction failed", zap.Stringer("tx", tx.Hash()), zap.Uint64("nonce", tx.Nonce()), zap.Error(err))
	}
	return err
}

func (i *instrumented) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	start := time.Now()
	r, err := i.Transport.TransactionReceipt(ctx, hash)
	i.observe("eth_getTransactionReceipt", start, err)
	return r, err
}

func (i *instrumented) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	start := time.Now()
	tx, pending, err := i.Transport.TransactionByHash(ctx, hash)
	i.observe("eth_getTransactionByHash", start, err)
	return tx, pending, err
}

func (i *instrumented) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := i.Transport.BlockNumber(ctx)
	i.observe("eth_blockNumber", start, err)
	return n, err
}

func (i *instrumented) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	start := time.Now()
	b, err := i.Transport.BalanceAt(ctx, account, block)
	i.observe("eth_getBalance", start, err)
	return b, err
}

func (i *instrumented) SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error) {
	start := time.Now()
	sub, err := i.Transport.SubscribeNewHead(ctx, ch)
	i.observe("eth_subscribe", start, err)
	return sub, err
}
