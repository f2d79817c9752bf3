package txstatus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type State string

const (
	Success State = "success"
	Failed  State = "failed"
	Pending State = "pending"
	Unknown State = "unknown"
)

type Reader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Status mirrors what a client needs to decide whether a trade landed.
// Pointer fields are nil when the chain has no value yet.
type Status struct {
	Hash              common.Hash `json:"hash"`
	State             State       `json:"status"`
	BlockNumber       *uint64     `json:"block_number"`
	GasUsed           *uint64     `json:"gas_used"`
	CumulativeGasUsed *uint64     `json:"cumulative_gas_used"`
	GasPrice          *big.Int    `json:"effective_gas_price_wei"`
	Confirmations     uint64      `json:"confirmations"`
}

func (s Status) Final() bool { return s.State == Success || s.State == Failed }

type Checker struct {
	r        Reader
	receipts *expirable.LRU[common.Hash, *gethtypes.Receipt]
}

// New caches mined receipts for ttl; they never change short of a reorg.
func New(r Reader, size int, ttl time.Duration) *Checker {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Checker{r: r, receipts: expirable.NewLRU[common.Hash, *gethtypes.Receipt](size, nil, ttl)}
}

func (c *Checker) receipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	if rc, ok := c.receipts.Get(hash); ok {
		return rc, nil
	}
	rc, err := c.r.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.receipts.Add(hash, rc)
	return rc, nil
}

func (c *Checker) Status(ctx context.Context, hash common.Hash) (Status, error) {
	st := Status{Hash: hash, State: Unknown}

	rc, err := c.receipt(ctx, hash)
	switch {
	case err == nil && rc != nil:
		return c.fromReceipt(ctx, hash, rc), nil
	case err != nil && !errors.Is(err, ethereum.NotFound):
		return st, fmt.Errorf("receipt %s: %w", hash, err)
	}

	tx, pending, err := c.r.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return st, nil
		}
		return st, fmt.Errorf("transaction %s: %w", hash, err)
	}
	if tx != nil && pending {
		st.State = Pending
		st.GasPrice = tx.GasPrice()
	}
	return st, nil
}

func (c *Checker) fromReceipt(ctx context.Context, hash common.Hash, rc *gethtypes.Receipt) Status {
	st := Status{Hash: hash, State: Failed}
	if rc.Status == gethtypes.ReceiptStatusSuccessful {
		st.State = Success
	}
	gasUsed, cum := rc.GasUsed, rc.CumulativeGasUsed
	st.GasUsed, st.CumulativeGasUsed = &gasUsed, &cum
	st.GasPrice = rc.EffectiveGasPrice
	if rc.BlockNumber != nil {
		bn := rc.BlockNumber.Uint64()
		st.BlockNumber = &bn
		// confirmations degrade to zero when the head cannot be read
		if head, err := c.r.BlockNumber(ctx); err == nil && head >= bn {
			st.Confirmations = head - bn + 1
		}
	}
	return st
}

// Wait polls Status every interval until the tx is final or timeout passes.
// On timeout the last observed status is returned without error.
func (c *Checker) Wait(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (Status, error) {
	if interval < 200*time.Millisecond {
		interval = 200 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		st, err := c.Status(ctx, hash)
		if err != nil {
			return st, err
		}
		if st.Final() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return st, nil
		case <-tick.C:
		}
	}
}

// ValidHash reports whether s is a 0x-prefixed 32-byte hex hash.
func ValidHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
