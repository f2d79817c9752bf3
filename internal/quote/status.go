package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/multicall"
)

// Info reads the aggregator snapshot for one token.
func (e *Engine) Info(ctx context.Context, token common.Address) (*market.Info, error) {
	b := multicall.NewBatch()
	i := b.Pack("getFourmemeTokenInfo", e.addrs.Aggregator, contracts.Aggregator, "getFourmemeTokenInfo", token)
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("token info: %w", err)
	}
	return market.FromSlot(slots.At(i))
}

func (e *Engine) TradingStatus(ctx context.Context, token common.Address) (market.TradingStatus, error) {
	info, err := e.Info(ctx, token)
	if err != nil {
		return market.TradingStatus{}, err
	}
	return info.TradingStatus(), nil
}

type TokenBalance struct {
	Token    common.Address
	Symbol   string
	Decimals int32
	Balance  *big.Int
	USDPrice *big.Int
	USDValue decimal.Decimal
}

type Balances struct {
	Owner    common.Address
	Native   *big.Int
	BNBUSD   *big.Int
	USDValue decimal.Decimal
	Token    *TokenBalance
}

// Balances reads the owner's BNB balance and, when token is set, its token balance.
// Only the native balance is required; metadata and prices degrade to defaults.
func (e *Engine) Balances(ctx context.Context, owner common.Address, token *common.Address) (*Balances, error) {
	b := multicall.NewBatch()
	native := b.Pack("getEthBalance", e.addrs.Multicall3, contracts.Multicall3, "getEthBalance", owner)
	bnbUsd := b.Pack("getBNBUsdPrice", e.addrs.PriceOracle, contracts.Oracle, "getBNBUsdPrice")
	bal, dec, sym, tokUsd := -1, -1, -1, -1
	if token != nil {
		bal = b.Pack("balanceOf", *token, contracts.ERC20, "balanceOf", owner)
		dec = b.Pack("decimals", *token, contracts.ERC20, "decimals")
		sym = b.Pack("symbol", *token, contracts.ERC20, "symbol")
		tokUsd = b.Pack("getTokenUsdPrice", e.addrs.PriceOracle, contracts.Oracle, "getTokenUsdPrice", *token)
	}
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}

	out := &Balances{Owner: owner}
	if out.Native, err = slots.At(native).Big(contracts.Multicall3, "getEthBalance", 0); err != nil {
		return nil, err
	}
	out.BNBUSD = slots.At(bnbUsd).BigOr(contracts.Oracle, "getBNBUsdPrice", new(big.Int))
	out.USDValue = USDValue(out.Native, 18, out.BNBUSD)
	if token == nil {
		return out, nil
	}

	tb := &TokenBalance{Token: *token, Decimals: 18}
	tb.Balance = slots.At(bal).BigOr(contracts.ERC20, "balanceOf", new(big.Int))
	if vals, err := slots.At(dec).Decode(contracts.ERC20, "decimals"); err == nil {
		if d, ok := vals[0].(uint8); ok {
			tb.Decimals = int32(d)
		}
	}
	if vals, err := slots.At(sym).Decode(contracts.ERC20, "symbol"); err == nil {
		if s, ok := vals[0].(string); ok {
			tb.Symbol = s
		}
	}
	tb.USDPrice = slots.At(tokUsd).BigOr(contracts.Oracle, "getTokenUsdPrice", new(big.Int))
	tb.USDValue = USDValue(tb.Balance, tb.Decimals, tb.USDPrice)
	out.Token = tb
	return out, nil
}
