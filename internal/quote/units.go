package quote

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
)

const bpsDenom = 10_000

var maxBps = big.NewInt(bpsDenom)

// SlippageBps = round(percent*100) clamped to [0, 10000].
func SlippageBps(percent float64) int64 { return percentToBps(percent) }

func percentToBps(percent float64) int64 {
	if math.IsNaN(percent) {
		return 0
	}
	bps := math.Round(percent * 100)
	switch {
	case bps < 0:
		return 0
	case bps > bpsDenom:
		return bpsDenom
	}
	return int64(bps)
}

// MinOut = floor(amount * (10000 - bps) / 10000).
func MinOut(amount *big.Int, slippagePercent float64) *big.Int {
	if amount == nil {
		return nil
	}
	keep := big.NewInt(bpsDenom - SlippageBps(slippagePercent))
	out := new(big.Int).Mul(amount, keep)
	return out.Quo(out, maxBps)
}

// SellAmountFromPercent = floor(balance * round(percent*100) / 10000).
func SellAmountFromPercent(balance *big.Int, percent float64) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(balance, big.NewInt(percentToBps(percent)))
	return out.Quo(out, maxBps)
}

// ValidPercent reports whether p is within (0, 100].
func ValidPercent(p float64) bool {
	return !math.IsNaN(p) && p > 0 && p <= 100
}

// ParseUnits converts a decimal string to base units. Excess precision is an error.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a decimal string.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// PricePerUnit is BNB paid (or received) per whole token; zero when no tokens move.
func PricePerUnit(bnb, tokens *big.Int, tokenDecimals int32) decimal.Decimal {
	if bnb == nil || tokens == nil || tokens.Sign() == 0 {
		return decimal.Zero
	}
	b := decimal.NewFromBigInt(bnb, -18)
	t := decimal.NewFromBigInt(tokens, -tokenDecimals)
	return b.DivRound(t, 18)
}

// USDValue multiplies an amount by an 18-decimal USD price.
func USDValue(amount *big.Int, decimals int32, usdPrice *big.Int) decimal.Decimal {
	if amount == nil || usdPrice == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals).Mul(decimal.NewFromBigInt(usdPrice, -18))
}

// NeedsIntermediateHop: quote is a real token (not native, not WBNB) on the allow-list.
func NeedsIntermediateHop(quote, wbnb common.Address) bool {
	if quote == (common.Address{}) || quote == wbnb {
		return false
	}
	return contracts.ThreeHopQuote(quote)
}

func BuyPath(token, quote, wbnb common.Address) []common.Address {
	if NeedsIntermediateHop(quote, wbnb) {
		return []common.Address{wbnb, quote, token}
	}
	return []common.Address{wbnb, token}
}

func SellPath(token, quote, wbnb common.Address) []common.Address {
	if NeedsIntermediateHop(quote, wbnb) {
		return []common.Address{token, quote, wbnb}
	}
	return []common.Address{token, wbnb}
}
