package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type ReserveSource string

const (
	SourceTokenQuotePair   ReserveSource = "v2_token_quote"
	SourceWbnbQuotePair    ReserveSource = "v2_wbnb_quote"
	SourceInternalFallback ReserveSource = "internal_pool"
)

// Reserves are base (traded token) and quote balances of the pool backing a token.
// SourceInternalFallback values are display-only and must not size trades.
type Reserves struct {
	Base   *big.Int
	Quote  *big.Int
	Source ReserveSource
}

func (r Reserves) DisplayOnly() bool { return r.Source == SourceInternalFallback }

// ResolveReserves picks the first candidate pair (token/quote, then wbnb/quote) that
// exists and holds token on either side. Internal markets always report pool balances.
func (i *Info) ResolveReserves(token common.Address) Reserves {
	fallback := Reserves{
		Base:   orZero(i.Pool.PoolTokenBalance),
		Quote:  orZero(i.Pool.PoolQuoteBalance),
		Source: SourceInternalFallback,
	}
	if !i.IsExternal() {
		return fallback
	}
	candidates := []struct {
		pair V2Pair
		src  ReserveSource
	}{
		{i.Pool.V2TokenQuotePair, SourceTokenQuotePair},
		{i.Pool.V2WbnbQuotePair, SourceWbnbQuotePair},
	}
	for _, c := range candidates {
		if c.pair.Pair == (common.Address{}) {
			continue
		}
		switch token {
		case c.pair.Reserve0.Token:
			return Reserves{Base: orZero(c.pair.Reserve0.Reserve), Quote: orZero(c.pair.Reserve1.Reserve), Source: c.src}
		case c.pair.Reserve1.Token:
			return Reserves{Base: orZero(c.pair.Reserve1.Reserve), Quote: orZero(c.pair.Reserve0.Reserve), Source: c.src}
		}
	}
	return fallback
}

// MarketCapUSD = tokenUsd × totalSupply / 10^decimals, tokenUsd being an 18-decimal USD price.
func (i *Info) MarketCapUSD(tokenUsd *big.Int) decimal.Decimal {
	if tokenUsd == nil || i.Basic.TotalSupply == nil {
		return decimal.Zero
	}
	raw := new(big.Int).Mul(tokenUsd, i.Basic.TotalSupply)
	return decimal.NewFromBigInt(raw, -18-i.Decimals())
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
