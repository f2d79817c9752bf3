package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
)

// CallError names a required sub-call that failed or could not be decoded.
type CallError struct {
	Call  string
	Index int
	Err   error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call %s (#%d) failed: %v", e.Call, e.Index, e.Err)
	}
	return fmt.Sprintf("call %s (#%d) failed", e.Call, e.Index)
}

func (e *CallError) Unwrap() error { return e.Err }

// Batch collects named read calls for one aggregate3 round trip.
// Every call is sent with allowFailure=true; callers decide per slot what is required.
type Batch struct {
	calls []Call
	names []string
	err   error
}

func NewBatch() *Batch { return &Batch{} }

// Add appends raw calldata and returns the slot index.
func (b *Batch) Add(name string, target common.Address, data []byte) int {
	b.calls = append(b.calls, Call{Target: target, AllowFailure: true, CallData: data})
	b.names = append(b.names, name)
	return len(b.calls) - 1
}

// Pack encodes method(args...) and appends it. A pack error surfaces from Run.
func (b *Batch) Pack(name string, target common.Address, a abi.ABI, method string, args ...interface{}) int {
	data, err := a.Pack(method, args...)
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("pack %s: %w", name, err)
	}
	return b.Add(name, target, data)
}

func (b *Batch) Len() int { return len(b.calls) }

func (b *Batch) Run(ctx context.Context, mc IClient) (Slots, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.calls) == 0 {
		return nil, errors.New("multicall: empty batch")
	}
	res, err := mc.Aggregate3(ctx, b.calls)
	if err != nil {
		return nil, err
	}
	if len(res) != len(b.calls) {
		return nil, fmt.Errorf("multicall: got %d results for %d calls", len(res), len(b.calls))
	}
	slots := make(Slots, len(res))
	for i, r := range res {
		slots[i] = Slot{Name: b.names[i], Index: i, ok: r.Success, data: r.ReturnData}
		if !r.Success {
			metrics.MulticallSlotFailures.WithLabelValues(b.names[i]).Inc()
		}
	}
	return slots, nil
}

type Slots []Slot

// At returns a failed slot for out-of-range indexes.
func (s Slots) At(i int) Slot {
	if i < 0 || i >= len(s) {
		return Slot{Name: "missing", Index: i}
	}
	return s[i]
}

// Slot is one positional result: Ok with return data, or failed.
type Slot struct {
	Name  string
	Index int
	ok    bool
	data  []byte
}

func (s Slot) Ok() bool     { return s.ok }
func (s Slot) Data() []byte { return s.data }

// Require returns a *CallError when the slot failed.
func (s Slot) Require() error {
	if !s.ok {
		return &CallError{Call: s.Name, Index: s.Index}
	}
	return nil
}

// Decode unpacks the slot as method's outputs. Failure is a *CallError.
func (s Slot) Decode(a abi.ABI, method string) ([]interface{}, error) {
	if err := s.Require(); err != nil {
		return nil, err
	}
	m, ok := a.Methods[method]
	if !ok {
		return nil, &CallError{Call: s.Name, Index: s.Index, Err: fmt.Errorf("unknown method %s", method)}
	}
	out, err := m.Outputs.Unpack(s.data)
	if err != nil {
		return nil, &CallError{Call: s.Name, Index: s.Index, Err: err}
	}
	if len(out) == 0 {
		return nil, &CallError{Call: s.Name, Index: s.Index, Err: errors.New("empty output")}
	}
	return out, nil
}

// Big decodes output #i as uint256.
func (s Slot) Big(a abi.ABI, method string, i int) (*big.Int, error) {
	out, err := s.Decode(a, method)
	if err != nil {
		return nil, err
	}
	if i >= len(out) {
		return nil, &CallError{Call: s.Name, Index: s.Index, Err: fmt.Errorf("output %d out of range", i)}
	}
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, &CallError{Call: s.Name, Index: s.Index, Err: fmt.Errorf("output %d is %T", i, out[i])}
	}
	return v, nil
}

// BigOr is the optional-slot variant: any failure degrades to fallback.
func (s Slot) BigOr(a abi.ABI, method string, fallback *big.Int) *big.Int {
	v, err := s.Big(a, method, 0)
	if err != nil {
		return fallback
	}
	return v
}
