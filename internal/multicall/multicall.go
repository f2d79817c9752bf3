package multicall

import (
	"context"
	"errors"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
)

type IClient interface {
	Aggregate3(ctx context.Context, calls []Call) ([]Result, error)
}

type Client struct {
	c    ethereum.ContractCaller
	addr common.Address
	abi  abi.ABI
}

// New takes any ContractCaller; pass a conn handle so calls follow reconnects.
func New(c ethereum.ContractCaller, multicallAddr common.Address) (IClient, error) {
	if _, ok := contracts.Multicall3.Methods["aggregate3"]; !ok {
		return nil, errors.New("bad abi: aggregate3 missing")
	}
	return &Client{c: c, addr: multicallAddr, abi: contracts.Multicall3}, nil
}

type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

func (c *Client) Aggregate3(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, errors.New("aggregate3: empty batch")
	}
	payload, err := c.abi.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	res, err := c.c.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call aggregate3: %w", err)
	}

	out, err := c.abi.Methods["aggregate3"].Outputs.Unpack(res)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("unpack aggregate3: no outputs")
	}
	results := *abi.ConvertType(out[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3: got %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
