package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/multicall"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

// Field order mirrors the getFourmemeTokenInfo tuple; abi.ConvertType copies positionally.

type Basic struct {
	Name            string
	Symbol          string
	Decimals        uint8
	TotalSupply     *big.Int
	IsFourMemeToken bool
}

type Platform struct {
	Version        *big.Int
	TokenManager   common.Address
	Quote          common.Address
	LastPrice      *big.Int
	UsdPrice       *big.Int
	TradingFeeRate *big.Int
	MinTradingFee  *big.Int
	LaunchTime     *big.Int
	TradingStatus  uint8
}

type Trading struct {
	Offers          *big.Int
	MaxOffers       *big.Int
	Funds           *big.Int
	MaxFunds        *big.Int
	LiquidityAdded  bool
	OfferPercentage *big.Int
	FundsPercentage *big.Int
}

type PairReserve struct {
	Token   common.Address
	Reserve *big.Int
}

type V2Pair struct {
	Pair     common.Address
	Reserve0 PairReserve
	Reserve1 PairReserve
}

type Pool struct {
	QuoteName        string
	QuoteSymbol      string
	QuoteDecimals    uint8
	PoolTokenBalance *big.Int
	PoolQuoteBalance *big.Int
	IsXMode          bool
	Template         *big.Int
	V2TokenQuotePair V2Pair
	V2WbnbQuotePair  V2Pair
}

// Info is an immutable snapshot of one token's trading state.
type Info struct {
	Basic    Basic
	Platform Platform
	Trading  Trading
	Pool     Pool
}

// Decode maps raw getFourmemeTokenInfo return data into Info.
func Decode(data []byte) (info *Info, err error) {
	out, err := contracts.Aggregator.Methods["getFourmemeTokenInfo"].Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack token info: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("unpack token info: no outputs")
	}
	// ConvertType panics on shape mismatch
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("convert token info: %v", r)
		}
	}()
	info = abi.ConvertType(out[0], new(Info)).(*Info)
	return info, nil
}

// FromSlot decodes a required info slot; failures come back as *multicall.CallError.
func FromSlot(s multicall.Slot) (*Info, error) {
	if err := s.Require(); err != nil {
		return nil, err
	}
	info, err := Decode(s.Data())
	if err != nil {
		return nil, &multicall.CallError{Call: s.Name, Index: s.Index, Err: err}
	}
	return info, nil
}

type Status uint8

const (
	StatusUnsupported Status = 0
	StatusInternal    Status = 1
	StatusExternal    Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusInternal:
		return "internal"
	case StatusExternal:
		return "external"
	default:
		return "unsupported"
	}
}

func (i *Info) Status() Status      { return Status(i.Platform.TradingStatus) }
func (i *Info) IsInternal() bool    { return i.Status() == StatusInternal }
func (i *Info) IsExternal() bool    { return i.Status() == StatusExternal }
func (i *Info) IsUnsupported() bool { return !i.IsInternal() && !i.IsExternal() }

func (i *Info) QuoteIsNative() bool { return i.Platform.Quote == (common.Address{}) }

// QuoteToken normalizes the native (zero) quote to WBNB.
func (i *Info) QuoteToken(wbnb common.Address) common.Address {
	if i.QuoteIsNative() {
		return wbnb
	}
	return i.Platform.Quote
}

func (i *Info) Market() types.Market {
	switch i.Status() {
	case StatusInternal:
		return types.MarketInternal
	case StatusExternal:
		return types.MarketExternal
	default:
		return types.MarketNone
	}
}

// Tradable follows the trading status alone; the platform flag is informational.
func (i *Info) Tradable() bool { return !i.IsUnsupported() }

const xModeTemplateBit = 0x10000

func (i *Info) XMode() bool {
	if i.Pool.IsXMode {
		return true
	}
	t := i.Pool.Template
	return t != nil && new(big.Int).And(t, big.NewInt(xModeTemplateBit)).Sign() != 0
}

// Decimals defaults to 18 when the token reports none.
func (i *Info) Decimals() int32 {
	if i.Basic.Decimals == 0 {
		return 18
	}
	return int32(i.Basic.Decimals)
}

func (i *Info) QuoteDecimals() int32 {
	if i.Pool.QuoteDecimals == 0 {
		return 18
	}
	return int32(i.Pool.QuoteDecimals)
}

type TradingStatus struct {
	IsFourMeme  bool `json:"is_fourmeme"`
	IsInternal  bool `json:"is_internal"`
	IsGraduated bool `json:"is_graduated"`
}

func (i *Info) TradingStatus() TradingStatus {
	return TradingStatus{
		IsFourMeme:  i.Basic.IsFourMemeToken,
		IsInternal:  i.IsInternal(),
		IsGraduated: i.IsExternal(),
	}
}
