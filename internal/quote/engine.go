package quote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/multicall"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

var (
	ErrUnsupported   = errors.New("unsupported trading status")
	ErrOwnerRequired = errors.New("owner wallet required")
	ErrBadPercent    = errors.New("percent must be within (0, 100]")
)

// probeAmount sizes dry quotes: 1 BNB for buys, one whole 18-decimal token for sells.
var probeAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Engine struct {
	mc    multicall.IClient
	nonce NonceSource
	addrs contracts.Addresses
	log   *zap.Logger
}

func New(mc multicall.IClient, nonce NonceSource, addrs contracts.Addresses, log *zap.Logger) *Engine {
	return &Engine{mc: mc, nonce: nonce, addrs: addrs, log: log.Named("quote")}
}

type BuyRequest struct {
	Token    common.Address
	Funds    *big.Int // wei; zero or nil asks for a dry quote
	Slippage float64  // percent
	Owner    *common.Address
}

// SellRequest takes either Amount (base units) or Percent of the owner's balance.
type SellRequest struct {
	Token    common.Address
	Amount   *big.Int
	Percent  float64
	Slippage float64
	Owner    *common.Address
}

type Route struct {
	QuoteToken common.Address
	ThreeHop   bool
	Path       []common.Address // external market only
}

type Allowances struct {
	TokenManager *big.Int
	Router       *big.Int
}

// For returns the allowance that gates spending on market m.
func (a *Allowances) For(m types.Market) *big.Int {
	if a == nil {
		return nil
	}
	if m == types.MarketExternal {
		return a.Router
	}
	return a.TokenManager
}

type Holdings struct {
	Native *big.Int
	Token  *big.Int
}

// USDPrices are 18-decimal oracle prices; zero when the oracle call failed.
type USDPrices struct {
	BNB   *big.Int
	Token *big.Int
}

// Quote prices one side of a trade. Input/Output/MinOutput are nil when Market is none.
type Quote struct {
	Side         types.Side
	Market       types.Market
	Token        common.Address
	Info         *market.Info
	Input        *big.Int
	Output       *big.Int
	MinOutput    *big.Int
	SlippageBps  int64
	PricePerUnit decimal.Decimal
	Route        Route
	Reserves     market.Reserves
	Allowances   *Allowances
	Holdings     *Holdings
	USD          USDPrices
	MarketCapUSD decimal.Decimal
	DryRun       bool
}

// Prepared is a quote joined with the owner's pending nonce.
type Prepared struct {
	*Quote
	Nonce uint64
}

type layout struct {
	info, sim            int
	allowTM, allowRouter int
	bnbUsd, tokenUsd     int
	nativeBal, tokenBal  int
}

// batch lays out info, simulation, [allowances], prices, [balances] for one round trip.
func (e *Engine) batch(token common.Address, owner *common.Address, sim func(b *multicall.Batch) int) (*multicall.Batch, layout) {
	b := multicall.NewBatch()
	l := layout{allowTM: -1, allowRouter: -1, nativeBal: -1, tokenBal: -1}
	l.info = b.Pack("getFourmemeTokenInfo", e.addrs.Aggregator, contracts.Aggregator, "getFourmemeTokenInfo", token)
	l.sim = sim(b)
	if owner != nil {
		l.allowTM = b.Pack("allowance.tokenManager", token, contracts.ERC20, "allowance", *owner, e.addrs.TokenManager)
		l.allowRouter = b.Pack("allowance.router", token, contracts.ERC20, "allowance", *owner, e.addrs.Router)
	}
	l.bnbUsd = b.Pack("getBNBUsdPrice", e.addrs.PriceOracle, contracts.Oracle, "getBNBUsdPrice")
	l.tokenUsd = b.Pack("getTokenUsdPrice", e.addrs.PriceOracle, contracts.Oracle, "getTokenUsdPrice", token)
	if owner != nil {
		l.nativeBal = b.Pack("getEthBalance", e.addrs.Multicall3, contracts.Multicall3, "getEthBalance", *owner)
		l.tokenBal = b.Pack("balanceOf", token, contracts.ERC20, "balanceOf", *owner)
	}
	return b, l
}

func (e *Engine) assemble(side types.Side, token common.Address, owner *common.Address, info *market.Info, slots multicall.Slots, l layout) *Quote {
	q := &Quote{Side: side, Market: info.Market(), Token: token, Info: info}
	q.USD = USDPrices{
		BNB:   slots.At(l.bnbUsd).BigOr(contracts.Oracle, "getBNBUsdPrice", new(big.Int)),
		Token: slots.At(l.tokenUsd).BigOr(contracts.Oracle, "getTokenUsdPrice", new(big.Int)),
	}
	q.MarketCapUSD = info.MarketCapUSD(q.USD.Token)
	q.Reserves = info.ResolveReserves(token)
	if owner != nil {
		q.Allowances = &Allowances{
			TokenManager: slots.At(l.allowTM).BigOr(contracts.ERC20, "allowance", new(big.Int)),
			Router:       slots.At(l.allowRouter).BigOr(contracts.ERC20, "allowance", new(big.Int)),
		}
		q.Holdings = &Holdings{
			Native: slots.At(l.nativeBal).BigOr(contracts.Multicall3, "getEthBalance", new(big.Int)),
			Token:  slots.At(l.tokenBal).BigOr(contracts.ERC20, "balanceOf", new(big.Int)),
		}
	}

	quoteTok := info.QuoteToken(e.addrs.WBNB)
	q.Route = Route{QuoteToken: quoteTok}
	if q.Market == types.MarketExternal {
		q.Route.ThreeHop = NeedsIntermediateHop(quoteTok, e.addrs.WBNB)
		if side == types.Buy {
			q.Route.Path = BuyPath(token, quoteTok, e.addrs.WBNB)
		} else {
			q.Route.Path = SellPath(token, quoteTok, e.addrs.WBNB)
		}
	}
	return q
}

func unsupported(q *Quote) (*Quote, error) {
	q.Market = types.MarketNone
	q.Input, q.Output, q.MinOutput = nil, nil, nil
	q.Route.Path = nil
	return q, fmt.Errorf("%w: %s (status %d)", ErrUnsupported, q.Info.Status(), q.Info.Platform.TradingStatus)
}

func observe(side types.Side, start time.Time, err *error) {
	metrics.QuoteLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	if *err != nil {
		metrics.QuoteErrors.WithLabelValues(string(side)).Inc()
	}
}

// QuoteBuy prices spending Funds wei on Token. A failed simulation yields a zero output.
func (e *Engine) QuoteBuy(ctx context.Context, req BuyRequest) (q *Quote, err error) {
	defer observe(types.Buy, time.Now(), &err)

	dry := req.Funds == nil || req.Funds.Sign() == 0
	funds := req.Funds
	if dry {
		funds = probeAmount
	}
	b, l := e.batch(req.Token, req.Owner, func(b *multicall.Batch) int {
		return b.Pack("tryBuyWithBNB", e.addrs.Aggregator, contracts.Aggregator, "tryBuyWithBNB", req.Token, funds)
	})
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("quote buy: %w", err)
	}
	info, err := market.FromSlot(slots.At(l.info))
	if err != nil {
		return nil, err
	}
	q = e.assemble(types.Buy, req.Token, req.Owner, info, slots, l)
	if !info.Tradable() {
		return unsupported(q)
	}

	out := slots.At(l.sim).BigOr(contracts.Aggregator, "tryBuyWithBNB", new(big.Int))
	if out.Sign() == 0 {
		e.log.Debug("buy simulation returned nothing", zap.Stringer("token", req.Token))
	}
	q.SlippageBps = SlippageBps(req.Slippage)
	q.PricePerUnit = PricePerUnit(funds, out, info.Decimals())
	if dry {
		zeroAmounts(q)
		return q, nil
	}
	q.Input = new(big.Int).Set(funds)
	q.Output = out
	q.MinOutput = MinOut(out, req.Slippage)
	return q, nil
}

// QuoteSell prices selling Amount, or Percent of the owner's balance.
// Whole percents resolve on-chain in the same batch; fractional ones read the balance first.
func (e *Engine) QuoteSell(ctx context.Context, req SellRequest) (q *Quote, err error) {
	defer observe(types.Sell, time.Now(), &err)

	if req.Percent == 0 {
		return e.sellAmount(ctx, req)
	}
	if !ValidPercent(req.Percent) {
		return nil, ErrBadPercent
	}
	if req.Owner == nil {
		return nil, ErrOwnerRequired
	}
	if req.Percent == math.Trunc(req.Percent) {
		return e.sellPercent(ctx, req)
	}
	amount, err := e.percentOfBalance(ctx, req.Token, *req.Owner, req.Percent)
	if err != nil {
		return nil, err
	}
	req.Amount, req.Percent = amount, 0
	return e.sellAmount(ctx, req)
}

func (e *Engine) sellAmount(ctx context.Context, req SellRequest) (*Quote, error) {
	dry := req.Amount == nil || req.Amount.Sign() == 0
	amount := req.Amount
	if dry {
		amount = probeAmount
	}
	b, l := e.batch(req.Token, req.Owner, func(b *multicall.Batch) int {
		return b.Pack("trySellToBNB", e.addrs.Aggregator, contracts.Aggregator, "trySellToBNB", req.Token, amount)
	})
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("quote sell: %w", err)
	}
	info, err := market.FromSlot(slots.At(l.info))
	if err != nil {
		return nil, err
	}
	q := e.assemble(types.Sell, req.Token, req.Owner, info, slots, l)
	if !info.Tradable() {
		return unsupported(q)
	}
	out, err := slots.At(l.sim).Big(contracts.Aggregator, "trySellToBNB", 0)
	if err != nil {
		return nil, err
	}
	q.SlippageBps = SlippageBps(req.Slippage)
	q.PricePerUnit = PricePerUnit(out, amount, info.Decimals())
	if dry {
		zeroAmounts(q)
		return q, nil
	}
	q.Input = new(big.Int).Set(amount)
	q.Output = out
	q.MinOutput = MinOut(out, req.Slippage)
	return q, nil
}

func (e *Engine) sellPercent(ctx context.Context, req SellRequest) (*Quote, error) {
	pct := big.NewInt(int64(req.Percent))
	b, l := e.batch(req.Token, req.Owner, func(b *multicall.Batch) int {
		return b.Pack("trySellPercentageToBNB", e.addrs.Aggregator, contracts.Aggregator, "trySellPercentageToBNB",
			req.Token, *req.Owner, pct)
	})
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("quote sell: %w", err)
	}
	info, err := market.FromSlot(slots.At(l.info))
	if err != nil {
		return nil, err
	}
	q := e.assemble(types.Sell, req.Token, req.Owner, info, slots, l)
	if !info.Tradable() {
		return unsupported(q)
	}
	sim := slots.At(l.sim)
	out, err := sim.Big(contracts.Aggregator, "trySellPercentageToBNB", 0)
	if err != nil {
		return nil, err
	}
	amount, err := sim.Big(contracts.Aggregator, "trySellPercentageToBNB", 1)
	if err != nil {
		return nil, err
	}
	q.SlippageBps = SlippageBps(req.Slippage)
	q.PricePerUnit = PricePerUnit(out, amount, info.Decimals())
	q.Input = amount
	q.Output = out
	q.MinOutput = MinOut(out, req.Slippage)
	return q, nil
}

func (e *Engine) percentOfBalance(ctx context.Context, token, owner common.Address, pct float64) (*big.Int, error) {
	b := multicall.NewBatch()
	i := b.Pack("balanceOf", token, contracts.ERC20, "balanceOf", owner)
	slots, err := b.Run(ctx, e.mc)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	bal, err := slots.At(i).Big(contracts.ERC20, "balanceOf", 0)
	if err != nil {
		return nil, err
	}
	return SellAmountFromPercent(bal, pct), nil
}

func zeroAmounts(q *Quote) {
	q.DryRun = true
	q.Input, q.Output, q.MinOutput = new(big.Int), new(big.Int), new(big.Int)
}

// PrepareBuy quotes and fetches the owner's pending nonce concurrently.
func (e *Engine) PrepareBuy(ctx context.Context, req BuyRequest) (*Prepared, error) {
	if req.Owner == nil {
		return nil, ErrOwnerRequired
	}
	return e.prepare(ctx, *req.Owner, func(ctx context.Context) (*Quote, error) { return e.QuoteBuy(ctx, req) })
}

func (e *Engine) PrepareSell(ctx context.Context, req SellRequest) (*Prepared, error) {
	if req.Owner == nil {
		return nil, ErrOwnerRequired
	}
	return e.prepare(ctx, *req.Owner, func(ctx context.Context) (*Quote, error) { return e.QuoteSell(ctx, req) })
}

func (e *Engine) prepare(ctx context.Context, owner common.Address, quote func(context.Context) (*Quote, error)) (*Prepared, error) {
	var (
		q     *Quote
		qErr  error
		nonce uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, qErr = quote(gctx)
		if errors.Is(qErr, ErrUnsupported) {
			return nil
		}
		return qErr
	})
	g.Go(func() error {
		var err error
		nonce, err = e.nonce.PendingNonceAt(gctx, owner)
		if err != nil {
			return fmt.Errorf("pending nonce: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Prepared{Quote: q, Nonce: nonce}, qErr
}
