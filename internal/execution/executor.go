package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

var (
	ErrZeroAmount = errors.New("trade amount must be positive")
	// ErrNoQuote rejects a trade whose simulation priced nothing.
	ErrNoQuote = errors.New("buy simulation returned no output")
)

type Chain interface {
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

type Quoter interface {
	PrepareBuy(ctx context.Context, req quote.BuyRequest) (*quote.Prepared, error)
	PrepareSell(ctx context.Context, req quote.SellRequest) (*quote.Prepared, error)
	Info(ctx context.Context, token common.Address) (*market.Info, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev types.TradeEvent) error
}

type Options struct {
	GasPrice        *big.Int
	GasLimit        uint64
	ApproveGasLimit uint64
}

type Executor struct {
	b       *Builder
	chain   Chain
	quotes  Quoter
	wallets *wallet.Store
	pub     Publisher
	opts    Options
	log     *zap.Logger
}

// NewExecutor wires the builder to a chain. pub may be nil.
func NewExecutor(b *Builder, chain Chain, quotes Quoter, wallets *wallet.Store, pub Publisher, opts Options, log *zap.Logger) *Executor {
	if opts.GasPrice == nil {
		opts.GasPrice = big.NewInt(80_000_000) // 0.08 gwei
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 500_000
	}
	if opts.ApproveGasLimit == 0 {
		opts.ApproveGasLimit = 120_000
	}
	return &Executor{b: b, chain: chain, quotes: quotes, wallets: wallets, pub: pub, opts: opts, log: log.Named("exec")}
}

// Gas overrides; zero values fall back to Options.
type Gas struct {
	Price *big.Int
	Limit uint64
}

func (e *Executor) params(nonce uint64, g Gas) TxParams {
	p := TxParams{Nonce: nonce, GasPrice: g.Price, GasLimit: g.Limit}
	if p.GasPrice == nil {
		p.GasPrice = e.opts.GasPrice
	}
	if p.GasLimit == 0 {
		p.GasLimit = e.opts.GasLimit
	}
	return p
}

func (e *Executor) approveParams(nonce uint64, g Gas) TxParams {
	p := e.params(nonce, Gas{Price: g.Price})
	p.GasLimit = e.opts.ApproveGasLimit
	return p
}

// Route pins how a token trades so a build needs no chain read.
type Route struct {
	Market     types.Market
	QuoteToken common.Address // platform quote as reported; only zero means BNB-quoted
	XMode      bool
}

func (e *Executor) wbnb() common.Address { return e.b.addrs.WBNB }

func (e *Executor) routeFor(ctx context.Context, token common.Address, r *Route) (Route, error) {
	if r != nil {
		return *r, nil
	}
	info, err := e.quotes.Info(ctx, token)
	if err != nil {
		return Route{}, err
	}
	if !info.Tradable() {
		return Route{}, fmt.Errorf("%w: %s", quote.ErrUnsupported, info.Status())
	}
	return Route{Market: info.Market(), QuoteToken: info.Platform.Quote, XMode: info.XMode()}, nil
}

func (r Route) nativeQuote() bool { return r.QuoteToken == (common.Address{}) }

func (e *Executor) spender(m types.Market) common.Address {
	if m == types.MarketExternal {
		return e.b.router.Address()
	}
	return e.b.addrs.TokenManager
}

// BuildRequest signs one transaction at a caller-chosen nonce.
type BuildRequest struct {
	WalletID  int64
	Token     common.Address
	Amount    *big.Int // funds for buys, tokens for sells
	MinOut    *big.Int
	Nonce     uint64
	Gas       Gas
	Route     *Route
	Allowance *big.Int // sells only; checked when set
}

func (e *Executor) BuildSignedBuy(ctx context.Context, req BuildRequest) (*SignedTx, error) {
	acct, err := e.wallets.Get(req.WalletID)
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	r, err := e.routeFor(ctx, req.Token, req.Route)
	if err != nil {
		return nil, err
	}
	return e.buyTx(acct, req.Token, r, req.Amount, nz(req.MinOut), e.params(req.Nonce, req.Gas))
}

func (e *Executor) buyTx(acct *wallet.Account, token common.Address, r Route, funds, minOut *big.Int, p TxParams) (*SignedTx, error) {
	switch r.Market {
	case types.MarketInternal:
		if r.XMode {
			return e.b.XModeBuy(acct, XModeBuy{Token: token, Funds: funds, MinAmount: minOut}, p)
		}
		return e.b.InternalBuy(acct, token, r.nativeQuote(), funds, minOut, p)
	case types.MarketExternal:
		path := quote.BuyPath(token, r.QuoteToken, e.wbnb())
		return e.b.SwapExactETHForTokens(acct, path, funds, minOut, p)
	default:
		return nil, fmt.Errorf("%w: market %q", quote.ErrUnsupported, r.Market)
	}
}

func (e *Executor) BuildSignedSell(ctx context.Context, req BuildRequest) (*SignedTx, error) {
	acct, err := e.wallets.Get(req.WalletID)
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if req.Allowance != nil && req.Allowance.Cmp(req.Amount) < 0 {
		return nil, fmt.Errorf("%w: have %s need %s", ErrAllowanceInsufficient, req.Allowance, req.Amount)
	}
	r, err := e.routeFor(ctx, req.Token, req.Route)
	if err != nil {
		return nil, err
	}
	return e.sellTx(acct, req.Token, r, req.Amount, nz(req.MinOut), e.params(req.Nonce, req.Gas))
}

func (e *Executor) sellTx(acct *wallet.Account, token common.Address, r Route, amount, minOut *big.Int, p TxParams) (*SignedTx, error) {
	switch r.Market {
	case types.MarketInternal:
		return e.b.InternalSell(acct, token, amount, minOut, p)
	case types.MarketExternal:
		path := quote.SellPath(token, r.QuoteToken, e.wbnb())
		return e.b.SwapExactTokensForETH(acct, path, amount, minOut, p)
	default:
		return nil, fmt.Errorf("%w: market %q", quote.ErrUnsupported, r.Market)
	}
}

// Plan is an ordered set of signed transactions. Txs must land; FollowUps are best effort.
type Plan struct {
	Side      types.Side
	Market    types.Market
	Token     common.Address
	Wallet    *wallet.Account
	Quote     *quote.Quote
	Amount    *big.Int
	MinOut    *big.Int
	Nonce     uint64
	Txs       []*SignedTx
	FollowUps []*SignedTx
}

type TradeOrder struct {
	RequestID string
	WalletID  int64
	Token     common.Address
	Funds     *big.Int // buys
	Amount    *big.Int // sells, or
	Percent   float64  // sells, percent of balance
	Slippage  float64
	Gas       Gas
	// ApproveAfterBuy queues an approval at nonce+1 when the market's allowance is zero.
	ApproveAfterBuy bool
	// NoApprove makes a sell fail with ErrAllowanceInsufficient instead of approving first.
	NoApprove bool
}

// PlanBuy quotes with the wallet as owner and signs the trade at the pending nonce.
func (e *Executor) PlanBuy(ctx context.Context, o TradeOrder) (*Plan, error) {
	acct, err := e.wallets.Get(o.WalletID)
	if err != nil {
		return nil, err
	}
	return e.planBuy(ctx, acct, o)
}

func (e *Executor) planBuy(ctx context.Context, acct *wallet.Account, o TradeOrder) (*Plan, error) {
	if o.Funds == nil || o.Funds.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	owner := acct.Address
	prep, err := e.quotes.PrepareBuy(ctx, quote.BuyRequest{Token: o.Token, Funds: o.Funds, Slippage: o.Slippage, Owner: &owner})
	if err != nil {
		return nil, err
	}
	q := prep.Quote
	if q.Output == nil || q.Output.Sign() == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoQuote, o.Token)
	}
	r := Route{Market: q.Market, QuoteToken: q.Info.Platform.Quote, XMode: q.Info.XMode()}
	tx, err := e.buyTx(acct, o.Token, r, q.Input, q.MinOutput, e.params(prep.Nonce, o.Gas))
	if err != nil {
		return nil, err
	}
	plan := &Plan{Side: types.Buy, Market: q.Market, Token: o.Token, Wallet: acct, Quote: q,
		Amount: q.Input, MinOut: q.MinOutput, Nonce: prep.Nonce, Txs: []*SignedTx{tx}}

	if o.ApproveAfterBuy {
		if a := q.Allowances.For(q.Market); a == nil || a.Sign() == 0 {
			ap, err := e.b.Approve(acct, o.Token, e.spender(q.Market), e.approveParams(prep.Nonce+1, o.Gas))
			if err != nil {
				return nil, err
			}
			plan.FollowUps = append(plan.FollowUps, ap)
		}
	}
	return plan, nil
}

// PlanSell approves at N and sells at N+1 when the allowance is below the amount.
func (e *Executor) PlanSell(ctx context.Context, o TradeOrder) (*Plan, error) {
	acct, err := e.wallets.Get(o.WalletID)
	if err != nil {
		return nil, err
	}
	return e.planSell(ctx, acct, o)
}

func (e *Executor) planSell(ctx context.Context, acct *wallet.Account, o TradeOrder) (*Plan, error) {
	if o.Percent == 0 && (o.Amount == nil || o.Amount.Sign() <= 0) {
		return nil, ErrZeroAmount
	}
	owner := acct.Address
	prep, err := e.quotes.PrepareSell(ctx, quote.SellRequest{Token: o.Token, Amount: o.Amount, Percent: o.Percent, Slippage: o.Slippage, Owner: &owner})
	if err != nil {
		return nil, err
	}
	q := prep.Quote
	if q.Input == nil || q.Input.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	plan := &Plan{Side: types.Sell, Market: q.Market, Token: o.Token, Wallet: acct, Quote: q,
		Amount: q.Input, MinOut: q.MinOutput, Nonce: prep.Nonce}

	nonce := prep.Nonce
	if a := q.Allowances.For(q.Market); a == nil || a.Cmp(q.Input) < 0 {
		if o.NoApprove {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrAllowanceInsufficient, nz(a), q.Input)
		}
		ap, err := e.b.Approve(acct, o.Token, e.spender(q.Market), e.approveParams(nonce, o.Gas))
		if err != nil {
			return nil, err
		}
		plan.Txs = append(plan.Txs, ap)
		nonce++
	}
	r := Route{Market: q.Market, QuoteToken: q.Route.QuoteToken}
	tx, err := e.sellTx(acct, o.Token, r, q.Input, q.MinOutput, e.params(nonce, o.Gas))
	if err != nil {
		return nil, err
	}
	plan.Txs = append(plan.Txs, tx)
	return plan, nil
}

// Result is what a broadcast trade reports back.
type Result struct {
	*Plan
	Hashes []common.Hash
}

// Buy holds the wallet lock from nonce fetch through broadcast.
func (e *Executor) Buy(ctx context.Context, o TradeOrder) (*Result, error) {
	return e.locked(ctx, o.WalletID, o.RequestID, func(acct *wallet.Account) (*Plan, error) {
		return e.planBuy(ctx, acct, o)
	})
}

func (e *Executor) Sell(ctx context.Context, o TradeOrder) (*Result, error) {
	return e.locked(ctx, o.WalletID, o.RequestID, func(acct *wallet.Account) (*Plan, error) {
		return e.planSell(ctx, acct, o)
	})
}

// SwapOrder carries precomputed amounts; nothing is quoted.
type SwapOrder struct {
	RequestID string
	WalletID  int64
	Token     common.Address
	Market    types.Market
	AmountIn  *big.Int
	MinOut    *big.Int
	Nonce     uint64
	// Allowance is the caller's view of the market spender's allowance; nil or zero means none.
	Allowance *big.Int
	// QuoteToken selects the helper route on internal buys and the middle hop when ThreeHop.
	QuoteToken common.Address
	ThreeHop   bool
	Gas        Gas
}

func (o SwapOrder) validate(wbnb common.Address) error {
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return ErrZeroAmount
	}
	if o.MinOut != nil && o.MinOut.Sign() < 0 {
		return errors.New("min out must not be negative")
	}
	if o.Market != types.MarketInternal && o.Market != types.MarketExternal {
		return fmt.Errorf("%w: market %q", quote.ErrUnsupported, o.Market)
	}
	if o.Market == types.MarketExternal && o.ThreeHop &&
		(o.QuoteToken == (common.Address{}) || o.QuoteToken == wbnb) {
		return errors.New("three-hop swap needs a non-WBNB quote token")
	}
	return nil
}

func (e *Executor) swapPath(o SwapOrder, buy bool) []common.Address {
	wbnb := e.wbnb()
	switch {
	case o.ThreeHop && buy:
		return []common.Address{wbnb, o.QuoteToken, o.Token}
	case o.ThreeHop:
		return []common.Address{o.Token, o.QuoteToken, wbnb}
	case buy:
		return []common.Address{wbnb, o.Token}
	default:
		return []common.Address{o.Token, wbnb}
	}
}

func noAllowance(a *big.Int) bool { return a == nil || a.Sign() == 0 }

// SwapBuy sends the buy at the given nonce and, with no allowance, a best-effort approval at nonce+1.
func (e *Executor) SwapBuy(ctx context.Context, o SwapOrder) (*Result, error) {
	if err := o.validate(e.wbnb()); err != nil {
		return nil, err
	}
	return e.locked(ctx, o.WalletID, o.RequestID, func(acct *wallet.Account) (*Plan, error) {
		p := e.params(o.Nonce, o.Gas)
		var (
			tx  *SignedTx
			err error
		)
		if o.Market == types.MarketExternal {
			tx, err = e.b.SwapExactETHForTokens(acct, e.swapPath(o, true), o.AmountIn, nz(o.MinOut), p)
		} else {
			r := Route{Market: types.MarketInternal, QuoteToken: o.QuoteToken}
			tx, err = e.buyTx(acct, o.Token, r, o.AmountIn, nz(o.MinOut), p)
		}
		if err != nil {
			return nil, err
		}
		plan := &Plan{Side: types.Buy, Market: o.Market, Token: o.Token, Wallet: acct,
			Amount: o.AmountIn, MinOut: nz(o.MinOut), Nonce: o.Nonce, Txs: []*SignedTx{tx}}
		if noAllowance(o.Allowance) {
			ap, err := e.b.Approve(acct, o.Token, e.spender(o.Market), e.approveParams(o.Nonce+1, o.Gas))
			if err != nil {
				return nil, err
			}
			plan.FollowUps = []*SignedTx{ap}
		}
		return plan, nil
	})
}

// SwapSell approves at nonce first when the caller reports no allowance.
func (e *Executor) SwapSell(ctx context.Context, o SwapOrder) (*Result, error) {
	if err := o.validate(e.wbnb()); err != nil {
		return nil, err
	}
	return e.locked(ctx, o.WalletID, o.RequestID, func(acct *wallet.Account) (*Plan, error) {
		plan := &Plan{Side: types.Sell, Market: o.Market, Token: o.Token, Wallet: acct,
			Amount: o.AmountIn, MinOut: nz(o.MinOut), Nonce: o.Nonce}
		nonce := o.Nonce
		if noAllowance(o.Allowance) {
			ap, err := e.b.Approve(acct, o.Token, e.spender(o.Market), e.approveParams(nonce, o.Gas))
			if err != nil {
				return nil, err
			}
			plan.Txs = append(plan.Txs, ap)
			nonce++
		}
		p := e.params(nonce, o.Gas)
		var (
			tx  *SignedTx
			err error
		)
		if o.Market == types.MarketExternal {
			tx, err = e.b.SwapExactTokensForETH(acct, e.swapPath(o, false), o.AmountIn, nz(o.MinOut), p)
		} else {
			tx, err = e.b.InternalSell(acct, o.Token, o.AmountIn, nz(o.MinOut), p)
		}
		if err != nil {
			return nil, err
		}
		plan.Txs = append(plan.Txs, tx)
		return plan, nil
	})
}

func (e *Executor) locked(ctx context.Context, walletID int64, requestID string, plan func(*wallet.Account) (*Plan, error)) (*Result, error) {
	acct, err := e.wallets.Get(walletID)
	if err != nil {
		return nil, err
	}
	unlock, err := e.wallets.Lock(walletID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := plan(acct)
	if err != nil {
		return nil, err
	}
	hashes, err := e.Broadcast(ctx, p.Txs...)
	if err != nil {
		return nil, err
	}
	for _, f := range p.FollowUps {
		if err := e.chain.SendTransaction(ctx, f.Tx); err != nil {
			metrics.TxBroadcast.WithLabelValues("error").Inc()
			e.log.Warn("follow-up tx failed", zap.String("kind", string(f.Kind)),
				zap.Uint64("nonce", f.Nonce), zap.Error(err))
			continue
		}
		metrics.TxBroadcast.WithLabelValues("ok").Inc()
	}

	res := &Result{Plan: p, Hashes: hashes}
	e.publish(ctx, requestID, res)
	return res, nil
}

// Broadcast sends all txs concurrently and returns their hashes in input order.
func (e *Executor) Broadcast(ctx context.Context, txs ...*SignedTx) ([]common.Hash, error) {
	hashes := make([]common.Hash, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	for i, tx := range txs {
		hashes[i] = tx.Hash
		g.Go(func() error {
			if err := e.chain.SendTransaction(gctx, tx.Tx); err != nil {
				metrics.TxBroadcast.WithLabelValues("error").Inc()
				return fmt.Errorf("send %s nonce %d: %w", tx.Kind, tx.Nonce, err)
			}
			metrics.TxBroadcast.WithLabelValues("ok").Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

func (e *Executor) publish(ctx context.Context, requestID string, r *Result) {
	if e.pub == nil {
		return
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	hashes := make([]string, len(r.Hashes))
	for i, h := range r.Hashes {
		hashes[i] = h.Hex()
	}
	ev := types.TradeEvent{
		ID:       requestID,
		WalletID: r.Wallet.ID,
		Wallet:   r.Wallet.Address.Hex(),
		Side:     r.Side,
		Market:   r.Market,
		Token:    r.Token.Hex(),
		Amount:   r.Amount.String(),
		MinOut:   r.MinOut.String(),
		TxHashes: hashes,
		Nonce:    r.Nonce,
		Ts:       time.Now().UTC(),
	}
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.log.Warn("publish trade event", zap.String("id", requestID), zap.Error(err))
	}
}

