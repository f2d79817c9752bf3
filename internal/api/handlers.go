package api

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/txstatus"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

const defaultSlippage = 2.0

func (s *Server) account(p params) (*wallet.Account, error) {
	if !p.has("walletId") {
		return nil, badRequest("MISSING_WALLET_ID", "walletId is required")
	}
	id, err := p.integer("walletId")
	if err != nil {
		return nil, badRequest("INVALID_WALLET_ID", "walletId must be a number").with("walletId", p.str("walletId"))
	}
	acct, err := s.d.Wallets.Get(id)
	if err != nil {
		return nil, badRequest("WALLET_NOT_FOUND", "wallet does not exist").with("walletId", id)
	}
	return acct, nil
}

func token(p params) (common.Address, error) {
	t, ok := p.address("token")
	if !ok {
		return t, badRequest("INVALID_TOKEN_ADDRESS", "invalid token address").with("token", p.str("token"))
	}
	return t, nil
}

// slippage reads the percent; required controls whether absence is an error.
func slippage(p params, required bool) (float64, error) {
	if !p.has("slippage") {
		if required {
			return 0, badRequest("MISSING_SLIPPAGE", "slippage is required")
		}
		return defaultSlippage, nil
	}
	v, err := p.float("slippage")
	if err != nil || v < 0 || v > 100 {
		return 0, badRequest("INVALID_SLIPPAGE", "slippage must be within 0-100").with("slippage", p.str("slippage"))
	}
	return v, nil
}

// tradeGas reads the mandatory gasprice (gwei) and gaslimit of buy/sell.
func tradeGas(p params) (execution.Gas, error) {
	if !p.has("gasprice") || !p.has("gaslimit") {
		return execution.Gas{}, badRequest("MISSING_GAS_PARAMS", "gasprice and gaslimit are required")
	}
	price, err := p.units("gasprice", 9)
	limit, lerr := p.integer("gaslimit")
	if err != nil || lerr != nil || limit <= 0 {
		return execution.Gas{}, badRequest("INVALID_GAS_PARAMS", "invalid gasprice/gaslimit").
			with("gasprice", p.str("gasprice")).with("gaslimit", p.str("gaslimit"))
	}
	return execution.Gas{Price: price, Limit: uint64(limit)}, nil
}

// swapGas falls back to the configured defaults.
func (s *Server) swapGas(p params) (execution.Gas, error) {
	g := s.opts.DefaultGas
	if p.has("gasprice") {
		price, err := p.units("gasprice", 9)
		if err != nil {
			return g, badRequest("INVALID_GAS_PRICE", "gasprice must be a gwei amount").with("gasprice", p.str("gasprice"))
		}
		g.Price = price
	}
	if p.has("gaslimit") {
		limit, err := p.integer("gaslimit")
		if err != nil || limit <= 0 {
			return g, badRequest("INVALID_GAS_LIMIT", "gaslimit must be a positive integer").with("gaslimit", p.str("gaslimit"))
		}
		g.Limit = uint64(limit)
	}
	return g, nil
}

func optionalNonce(p params) (*uint64, error) {
	if !p.has("nonce") {
		return nil, nil
	}
	n, err := p.integer("nonce")
	if err != nil || n < 0 {
		return nil, badRequest("INVALID_NONCE", "nonce must be a non-negative integer").with("nonce", p.str("nonce"))
	}
	u := uint64(n)
	return &u, nil
}

// quoted turns an engine result into a response; unsupported tokens are a 200 with tradable=false.
func quoted(q *quote.Quote, nonce *uint64, acct *wallet.Account, err error) (any, error) {
	if err != nil && !(errors.Is(err, quote.ErrUnsupported) && q != nil) {
		return nil, err
	}
	v := newQuoteView(q)
	v.Nonce = nonce
	if acct != nil {
		id, a := acct.ID, addr(acct.Address)
		v.WalletID, v.WalletAddress = &id, &a
	}
	return v, nil
}

func (s *Server) quoteBuy(r *http.Request, p params) (any, error) {
	tok, err := token(p)
	if err != nil {
		return nil, err
	}
	if !p.has("bnb_cost") {
		return nil, badRequest("INVALID_BNB_COST", "bnb_cost is required")
	}
	funds, err := p.units("bnb_cost", 18)
	if err != nil {
		return nil, badRequest("INVALID_BNB_COST", err.Error()).with("bnb_cost", p.str("bnb_cost"))
	}
	slip, err := slippage(p, false)
	if err != nil {
		return nil, err
	}
	nonce, err := optionalNonce(p)
	if err != nil {
		return nil, err
	}
	req := quote.BuyRequest{Token: tok, Funds: funds, Slippage: slip}

	var acct *wallet.Account
	if p.has("walletId") {
		if acct, err = s.account(p); err != nil {
			return nil, err
		}
		req.Owner = &acct.Address
	}
	if acct == nil || nonce != nil {
		q, err := s.d.Quotes.QuoteBuy(r.Context(), req)
		return quoted(q, nonce, acct, err)
	}
	prep, err := s.d.Quotes.PrepareBuy(r.Context(), req)
	if prep == nil {
		return nil, err
	}
	return quoted(prep.Quote, &prep.Nonce, acct, err)
}

// sellSize reads percent, amount_wei, or amount with basetoken_decimals.
func sellSize(p params) (*big.Int, float64, error) {
	switch {
	case p.has("percent"):
		pct, err := p.float("percent")
		if err != nil || !quote.ValidPercent(pct) {
			return nil, 0, badRequest("INVALID_PERCENT", "percent must be within (0, 100]").with("percent", p.str("percent"))
		}
		return nil, pct, nil
	case p.has("amount_wei"):
		v, err := p.wei("amount_wei")
		if err != nil {
			return nil, 0, badRequest("INVALID_TOKEN_AMOUNT_WEI", err.Error()).with("amount_wei", p.str("amount_wei"))
		}
		return v, 0, nil
	case p.has("amount"):
		if !p.has("basetoken_decimals") {
			return nil, 0, badRequest("MISSING_DECIMALS", "amount needs basetoken_decimals")
		}
		dec, err := p.integer("basetoken_decimals")
		if err != nil || dec < 0 || dec > 36 {
			return nil, 0, badRequest("INVALID_DECIMALS", "basetoken_decimals must be within 0-36")
		}
		v, err := p.units("amount", int32(dec))
		if err != nil {
			return nil, 0, badRequest("INVALID_AMOUNT", err.Error()).with("amount", p.str("amount"))
		}
		return v, 0, nil
	}
	return nil, 0, badRequest("MISSING_AMOUNT", "one of percent, amount_wei or amount is required")
}

func (s *Server) quoteSell(r *http.Request, p params) (any, error) {
	acct, err := s.account(p)
	if err != nil {
		return nil, err
	}
	tok, err := token(p)
	if err != nil {
		return nil, err
	}
	amt, pct, err := sellSize(p)
	if err != nil {
		return nil, err
	}
	slip, err := slippage(p, false)
	if err != nil {
		return nil, err
	}
	nonce, err := optionalNonce(p)
	if err != nil {
		return nil, err
	}
	req := quote.SellRequest{Token: tok, Amount: amt, Percent: pct, Slippage: slip, Owner: &acct.Address}
	if nonce != nil {
		q, err := s.d.Quotes.QuoteSell(r.Context(), req)
		return quoted(q, nonce, acct, err)
	}
	prep, err := s.d.Quotes.PrepareSell(r.Context(), req)
	if prep == nil {
		return nil, err
	}
	return quoted(prep.Quote, &prep.Nonce, acct, err)
}

// unsupportedTrade decorates trade rejections for tokens that cannot trade.
func unsupportedTrade(err error, side types.Side, tok common.Address, acct *wallet.Account) error {
	if !errors.Is(err, quote.ErrUnsupported) {
		return err
	}
	return badRequest("UNSUPPORTED_TRADING_STATUS", "token is not tradable").
		with("side", side).with("chain", chainName).with("token", addr(tok)).
		with("market", types.MarketNone).with("tx_hash", nil).
		with("walletId", acct.ID).with("wallet_address", addr(acct.Address))
}

func autoApprove(p params) (bool, error) {
	if !p.has("autoApprove") {
		return false, badRequest("MISSING_AUTO_APPROVE", "autoApprove is required")
	}
	return p.bool("autoApprove"), nil
}

func (s *Server) buy(r *http.Request, p params) (any, error) {
	acct, err := s.account(p)
	if err != nil {
		return nil, err
	}
	tok, err := token(p)
	if err != nil {
		return nil, err
	}
	slip, err := slippage(p, true)
	if err != nil {
		return nil, err
	}
	approve, err := autoApprove(p)
	if err != nil {
		return nil, err
	}
	funds, err := p.units("bnb_cost", 18)
	if err != nil || funds.Sign() <= 0 {
		return nil, badRequest("INVALID_BNB_COST", "bnb_cost must be a positive BNB amount").with("bnb_cost", p.str("bnb_cost"))
	}
	gas, err := tradeGas(p)
	if err != nil {
		return nil, err
	}

	id := requestID(r.Context())
	res, err := s.d.Trades.Buy(r.Context(), execution.TradeOrder{
		RequestID: id, WalletID: acct.ID, Token: tok, Funds: funds, Slippage: slip, Gas: gas,
		ApproveAfterBuy: approve,
	})
	if err != nil {
		return nil, unsupportedTrade(err, types.Buy, tok, acct)
	}
	return newTradeView(res, id), nil
}

func (s *Server) sell(r *http.Request, p params) (any, error) {
	acct, err := s.account(p)
	if err != nil {
		return nil, err
	}
	tok, err := token(p)
	if err != nil {
		return nil, err
	}
	slip, err := slippage(p, true)
	if err != nil {
		return nil, err
	}
	gas, err := tradeGas(p)
	if err != nil {
		return nil, err
	}
	approve, err := autoApprove(p)
	if err != nil {
		return nil, err
	}
	amt, pct, err := sellSize(p)
	if err != nil {
		return nil, err
	}

	id := requestID(r.Context())
	res, err := s.d.Trades.Sell(r.Context(), execution.TradeOrder{
		RequestID: id, WalletID: acct.ID, Token: tok, Amount: amt, Percent: pct, Slippage: slip, Gas: gas,
		NoApprove: !approve,
	})
	if err != nil {
		return nil, unsupportedTrade(err, types.Sell, tok, acct)
	}
	return newTradeView(res, id), nil
}

// swapOrder parses the fields shared by both swap directions.
func (s *Server) swapOrder(r *http.Request, p params, amountKey, minKey, amountCode, minCode string) (execution.SwapOrder, error) {
	var o execution.SwapOrder
	acct, err := s.account(p)
	if err != nil {
		return o, err
	}
	tok, err := token(p)
	if err != nil {
		return o, err
	}
	mkt := types.Market(strings.ToLower(p.str("market")))
	if mkt == "" {
		mkt = types.MarketInternal
	}
	if mkt != types.MarketInternal && mkt != types.MarketExternal {
		return o, badRequest("INVALID_MARKET", "market must be internal or external").with("market", p.str("market"))
	}
	amt, err := p.wei(amountKey)
	if err != nil || amt.Sign() <= 0 {
		return o, badRequest(amountCode, amountKey+" must be a positive integer").with(amountKey, p.str(amountKey))
	}
	minOut := new(big.Int)
	if p.has(minKey) {
		if minOut, err = p.wei(minKey); err != nil {
			return o, badRequest(minCode, minKey+" must be a non-negative integer").with(minKey, p.str(minKey))
		}
	}
	gas, err := s.swapGas(p)
	if err != nil {
		return o, err
	}
	if !p.has("nonce") {
		return o, badRequest("MISSING_NONCE", "nonce is required")
	}
	nonce, err := optionalNonce(p)
	if err != nil {
		return o, err
	}

	// allowance hints: missing or "0" means approve
	allowKey := "allowance_fourmeme"
	if mkt == types.MarketExternal {
		allowKey = "allowance_router"
	}
	var allowance *big.Int
	if v, ok := new(big.Int).SetString(p.str(allowKey), 10); ok {
		allowance = v
	}

	o = execution.SwapOrder{
		RequestID: requestID(r.Context()),
		WalletID:  acct.ID,
		Token:     tok,
		Market:    mkt,
		AmountIn:  amt,
		MinOut:    minOut,
		Nonce:     *nonce,
		Allowance: allowance,
		Gas:       gas,
	}
	if mkt == types.MarketExternal {
		three := p.str("use_three_path")
		if three != "1" && three != "0" {
			return o, badRequest("MISSING_USE_THREE_PATH", "use_three_path must be 1 or 0")
		}
		if three == "1" {
			q, ok := p.address("quotetoken_address")
			if !ok || q == (common.Address{}) || q == s.d.Addrs.WBNB {
				return o, badRequest("INVALID_QUOTE_ADDRESS", "use_three_path=1 needs a quotetoken_address other than zero or WBNB").
					with("quotetoken_address", p.str("quotetoken_address"))
			}
			o.ThreeHop, o.QuoteToken = true, q
		}
	}
	return o, nil
}

type swapView struct {
	tradeView
	Endpoint string `json:"endpoint"`
}

func (s *Server) swapBuy(r *http.Request, p params) (any, error) {
	o, err := s.swapOrder(r, p, "bnb_cost_wei", "min_token_amount_wei", "INVALID_BNB_COST_WEI", "INVALID_MIN_TOKEN_WEI")
	if err != nil {
		return nil, err
	}
	if o.Market == types.MarketInternal {
		q, err := s.internalQuoteToken(r, p, o.Token)
		if err != nil {
			return nil, err
		}
		o.QuoteToken = q
	}
	res, err := s.d.Trades.SwapBuy(r.Context(), o)
	if err != nil {
		return nil, err
	}
	return swapView{tradeView: *newTradeView(res, o.RequestID), Endpoint: "swap/buy"}, nil
}

// internalQuoteToken resolves the helper route: is_bnb_quote, then quotetoken_address, then a chain read.
func (s *Server) internalQuoteToken(r *http.Request, p params, tok common.Address) (common.Address, error) {
	if p.has("is_bnb_quote") {
		if p.bool("is_bnb_quote") {
			return common.Address{}, nil
		}
		if q, ok := p.address("quotetoken_address"); ok {
			return q, nil
		}
	}
	if q, ok := p.address("quotetoken_address"); ok {
		return q, nil
	}
	info, err := s.d.Quotes.Info(r.Context(), tok)
	if err != nil {
		return common.Address{}, err
	}
	return info.Platform.Quote, nil
}

func (s *Server) swapSell(r *http.Request, p params) (any, error) {
	o, err := s.swapOrder(r, p, "token_amount_wei", "min_bnb_amount_wei", "INVALID_TOKEN_AMOUNT_WEI", "INVALID_MIN_BNB_AMOUNT_WEI")
	if err != nil {
		return nil, err
	}
	res, err := s.d.Trades.SwapSell(r.Context(), o)
	if err != nil {
		return nil, err
	}
	return swapView{tradeView: *newTradeView(res, o.RequestID), Endpoint: "swap/sell"}, nil
}

func (s *Server) txStatus(r *http.Request, p params) (any, error) {
	h := p.str("hash")
	if !txstatus.ValidHash(h) {
		return nil, badRequest("INVALID_HASH", "hash must be 0x followed by 64 hex chars").with("hash", h)
	}
	st, err := s.d.Txs.Status(r.Context(), common.HexToHash(h))
	if err != nil {
		return nil, err
	}
	return struct {
		Chain string `json:"chain"`
		txstatus.Status
	}{chainName, st}, nil
}

func (s *Server) tradingStatus(r *http.Request, p params) (any, error) {
	tok, err := token(p)
	if err != nil {
		return nil, err
	}
	ts, err := s.d.Quotes.TradingStatus(r.Context(), tok)
	if err != nil {
		return nil, err
	}
	return newStatusView(tok, ts), nil
}

func (s *Server) balances(r *http.Request, p params) (any, error) {
	acct, err := s.account(p)
	if err != nil {
		return nil, err
	}
	var tok *common.Address
	if p.str("token") != "" {
		t, err := token(p)
		if err != nil {
			return nil, err
		}
		tok = &t
	}
	b, err := s.d.Quotes.Balances(r.Context(), acct.Address, tok)
	if err != nil {
		return nil, err
	}
	return newBalancesView(acct.ID, b), nil
}

type walletView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Address addr   `json:"address"`
}

func (s *Server) wallets(*http.Request, params) (any, error) {
	accts := s.d.Wallets.List()
	out := make([]walletView, len(accts))
	for i, a := range accts {
		out[i] = walletView{ID: a.ID, Name: a.Name, Address: addr(a.Address)}
	}
	return map[string]any{"wallets": out}, nil
}

func (s *Server) healthz(*http.Request, params) (any, error) {
	if s.d.Health != nil {
		if err := s.d.Health(); err != nil {
			return nil, err
		}
	}
	return map[string]string{"status": "ok"}, nil
}
