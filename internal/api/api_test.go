package api

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/txstatus"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

const (
	pk1     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	addr1   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	tokenHx = "0x1111111111111111111111111111111111114444"
	usdtHx  = "0x55d398326f99059fF775485246999027B3197955"
)

var tok = common.HexToAddress(tokenHx)

type fakeQuoter struct {
	mu          sync.Mutex
	status      uint8
	buys        []quote.BuyRequest
	sells       []quote.SellRequest
	prepared    int
	nonce       uint64
	infoQuote   common.Address
	balancesTok *common.Address
}

func (f *fakeQuoter) info() *market.Info {
	return &market.Info{
		Basic:    market.Basic{Symbol: "DOG", Decimals: 18, IsFourMemeToken: f.status != 0},
		Platform: market.Platform{TradingStatus: f.status, Quote: f.infoQuote},
		Pool:     market.Pool{QuoteSymbol: "BNB"},
	}
}

func (f *fakeQuoter) quote(side types.Side, in *big.Int) (*quote.Quote, error) {
	info := f.info()
	q := &quote.Quote{Side: side, Market: info.Market(), Token: tok, Info: info, SlippageBps: 200,
		Reserves: market.Reserves{Source: market.SourceInternalFallback}}
	if info.Market() == types.MarketNone {
		return q, fmt.Errorf("%w: unsupported", quote.ErrUnsupported)
	}
	q.Input = in
	q.Output = new(big.Int).Mul(in, big.NewInt(1000))
	q.MinOutput = quote.MinOut(q.Output, 2)
	return q, nil
}

func (f *fakeQuoter) QuoteBuy(_ context.Context, req quote.BuyRequest) (*quote.Quote, error) {
	f.mu.Lock()
	f.buys = append(f.buys, req)
	f.mu.Unlock()
	return f.quote(types.Buy, req.Funds)
}

func (f *fakeQuoter) QuoteSell(_ context.Context, req quote.SellRequest) (*quote.Quote, error) {
	f.mu.Lock()
	f.sells = append(f.sells, req)
	f.mu.Unlock()
	in := req.Amount
	if in == nil {
		in = big.NewInt(1000)
	}
	return f.quote(types.Sell, in)
}

func (f *fakeQuoter) PrepareBuy(ctx context.Context, req quote.BuyRequest) (*quote.Prepared, error) {
	f.prepared++
	q, err := f.QuoteBuy(ctx, req)
	return &quote.Prepared{Quote: q, Nonce: f.nonce}, err
}

func (f *fakeQuoter) PrepareSell(ctx context.Context, req quote.SellRequest) (*quote.Prepared, error) {
	f.prepared++
	q, err := f.QuoteSell(ctx, req)
	return &quote.Prepared{Quote: q, Nonce: f.nonce}, err
}

func (f *fakeQuoter) Info(context.Context, common.Address) (*market.Info, error) {
	return f.info(), nil
}

func (f *fakeQuoter) TradingStatus(context.Context, common.Address) (market.TradingStatus, error) {
	return f.info().TradingStatus(), nil
}

func (f *fakeQuoter) Balances(_ context.Context, owner common.Address, token *common.Address) (*quote.Balances, error) {
	f.balancesTok = token
	b := &quote.Balances{Owner: owner, Native: big.NewInt(2e18), BNBUSD: new(big.Int).Mul(big.NewInt(600), big.NewInt(1e18))}
	if token != nil {
		b.Token = &quote.TokenBalance{Token: *token, Symbol: "DOG", Decimals: 18, Balance: big.NewInt(5e18)}
	}
	return b, nil
}

type fakeTrader struct {
	orders []execution.TradeOrder
	swaps  []execution.SwapOrder
	err    error
	acct   *wallet.Account
}

func (f *fakeTrader) result(side types.Side, amount, minOut *big.Int, nonce uint64) *execution.Result {
	h := common.HexToHash("0xaa")
	return &execution.Result{
		Plan: &execution.Plan{
			Side: side, Market: types.MarketInternal, Token: tok, Wallet: f.acct,
			Amount: amount, MinOut: minOut, Nonce: nonce,
			Txs: []*execution.SignedTx{{Kind: execution.Kind(side), Hash: h, GasPrice: big.NewInt(80_000_000), GasLimit: 500_000}},
		},
		Hashes: []common.Hash{h},
	}
}

func (f *fakeTrader) Buy(_ context.Context, o execution.TradeOrder) (*execution.Result, error) {
	f.orders = append(f.orders, o)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(types.Buy, o.Funds, big.NewInt(1), 4), nil
}

func (f *fakeTrader) Sell(_ context.Context, o execution.TradeOrder) (*execution.Result, error) {
	f.orders = append(f.orders, o)
	if f.err != nil {
		return nil, f.err
	}
	return f.result(types.Sell, o.Amount, big.NewInt(1), 4), nil
}

func (f *fakeTrader) SwapBuy(_ context.Context, o execution.SwapOrder) (*execution.Result, error) {
	f.swaps = append(f.swaps, o)
	return f.result(types.Buy, o.AmountIn, o.MinOut, o.Nonce), f.err
}

func (f *fakeTrader) SwapSell(_ context.Context, o execution.SwapOrder) (*execution.Result, error) {
	f.swaps = append(f.swaps, o)
	return f.result(types.Sell, o.AmountIn, o.MinOut, o.Nonce), f.err
}

type fakeTxs struct{ st txstatus.Status }

func (f fakeTxs) Status(_ context.Context, h common.Hash) (txstatus.Status, error) {
	st := f.st
	st.Hash = h
	return st, nil
}

type fixture struct {
	h  http.Handler
	q  *fakeQuoter
	tr *fakeTrader
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ws, err := wallet.NewStore([]config.WalletRecord{{ID: 1, Name: "main", PrivateKey: pk1}})
	require.NoError(t, err)
	acct, err := ws.Get(1)
	require.NoError(t, err)

	q := &fakeQuoter{status: 1, nonce: 9}
	tr := &fakeTrader{acct: acct}
	bn := uint64(100)
	srv, err := New(Deps{
		Quotes:  q,
		Trades:  tr,
		Txs:     fakeTxs{st: txstatus.Status{State: txstatus.Success, BlockNumber: &bn, Confirmations: 3}},
		Wallets: ws,
		Addrs:   contracts.Defaults(),
	}, opts, zap.NewNop())
	require.NoError(t, err)
	return &fixture{h: srv.Handler(), q: q, tr: tr}
}

type response struct {
	code int
	hdr  http.Header
	body map[string]any
}

func (f *fixture) do(t *testing.T, method, target string, body any, hdr ...string) response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.RemoteAddr = "127.0.0.1:40000"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	out := response{code: rec.Code, hdr: rec.Header()}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	return out
}

func (f *fixture) get(t *testing.T, target string, hdr ...string) response {
	return f.do(t, http.MethodGet, target, nil, hdr...)
}

func assertWei(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, big.NewInt(want).String(), got.String())
}

func TestAllowList(t *testing.T) {
	f := newFixture(t, Options{AllowIPs: []string{"10.0.0.0/8", "192.168.1.7"}, TrustedProxies: []string{"127.0.0.1"}})

	r := f.get(t, "/api/wallets")
	assert.Equal(t, http.StatusForbidden, r.code)
	assert.Equal(t, "FORBIDDEN", r.body["error"])
	assert.Equal(t, "127.0.0.1", r.body["ip"])

	r = f.get(t, "/api/wallets", "X-Forwarded-For", "10.2.3.4, 8.8.8.8")
	assert.Equal(t, http.StatusOK, r.code)

	r = f.get(t, "/api/wallets", "X-Forwarded-For", "::ffff:192.168.1.7")
	assert.Equal(t, http.StatusOK, r.code)

	r = f.get(t, "/api/wallets", "X-Forwarded-For", "192.168.1.8")
	assert.Equal(t, http.StatusForbidden, r.code)
}

func TestClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	proxies, err := parsePrefixes("trusted proxies", []string{"10.0.0.0/8"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/wallets", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req, proxies).String())
	assert.Equal(t, "203.0.113.9", clientIP(req, nil).String())

	req.RemoteAddr = "10.1.1.1:5000"
	assert.Equal(t, "127.0.0.1", clientIP(req, proxies).String())
	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.1.1.1", clientIP(req, proxies).String())

	// localhost-only API: a forged header from a remote peer is ignored
	f := newFixture(t, Options{})
	spoof := httptest.NewRequest(http.MethodGet, "/api/wallets", nil)
	spoof.RemoteAddr = "198.51.100.4:1234"
	spoof.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, spoof)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseAllowList(t *testing.T) {
	l, err := parseAllowList(nil)
	require.NoError(t, err)
	assert.Len(t, l, 1)

	for _, bad := range []string{"::1", "10.0.0.0/99", "nope", " "} {
		_, err := parseAllowList([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RatePerSec: 0.001, Burst: 2})
	assert.Equal(t, http.StatusOK, f.get(t, "/api/wallets").code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/wallets").code)
	r := f.get(t, "/api/wallets")
	assert.Equal(t, http.StatusTooManyRequests, r.code)
	assert.Equal(t, "RATE_LIMITED", r.body["error"])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.get(t, "/healthz", "X-Request-Id", "req-42")
	assert.Equal(t, "req-42", r.hdr.Get("X-Request-Id"))

	r = f.get(t, "/healthz")
	assert.Len(t, r.hdr.Get("X-Request-Id"), 36)
	assert.Equal(t, "ok", r.body["status"])
}

func TestNotFoundAndMethod(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.get(t, "/api/bsc/nope")
	assert.Equal(t, http.StatusNotFound, r.code)
	assert.Equal(t, "NOT_FOUND", r.body["error"])

	r = f.do(t, http.MethodDelete, "/api/wallets", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, r.code)
}

func TestQuoteBuy(t *testing.T) {
	f := newFixture(t, Options{})

	r := f.get(t, "/api/bsc/quote/buy?token="+tokenHx+"&bnb_cost=0.1")
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, true, r.body["tradable"])
	assert.Equal(t, "internal", r.body["market"])
	assert.Nil(t, r.body["walletId"])
	assert.Equal(t, "internal_pool", r.body["reserves_source"])
	assert.Equal(t, true, r.body["reserves_display_only"])
	require.Len(t, f.q.buys, 1)
	assertWei(t, 1e17, f.q.buys[0].Funds)
	assert.Equal(t, 2.0, f.q.buys[0].Slippage)
	assert.Nil(t, f.q.buys[0].Owner)

	// wallet without nonce: quote and nonce are fetched together
	r = f.get(t, "/api/bsc/quote/buy?token="+tokenHx+"&bnb_cost=0.1&walletId=1&slippage=5")
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, 1, f.q.prepared)
	assert.Equal(t, float64(9), r.body["nonce"])
	assert.Equal(t, addr1, r.body["wallet_address"])
	assert.Equal(t, 5.0, f.q.buys[1].Slippage)

	// caller-supplied nonce is echoed
	r = f.get(t, "/api/bsc/quote/buy?token="+tokenHx+"&bnb_cost=0&walletId=1&nonce=77")
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, 1, f.q.prepared)
	assert.Equal(t, float64(77), r.body["nonce"])
}

func TestQuoteBuyValidation(t *testing.T) {
	f := newFixture(t, Options{})
	cases := map[string]string{
		"?token=0x12&bnb_cost=1":                         "INVALID_TOKEN_ADDRESS",
		"?token=" + tokenHx + "&bnb_cost=1&slippage=101": "INVALID_SLIPPAGE",
		"?token=" + tokenHx + "&bnb_cost=-1":             "INVALID_BNB_COST",
		"?token=" + tokenHx + "&bnb_cost=1&walletId=abc": "INVALID_WALLET_ID",
		"?token=" + tokenHx + "&bnb_cost=1&walletId=99":  "WALLET_NOT_FOUND",
		"?token=" + tokenHx + "&bnb_cost=1&nonce=-3":     "INVALID_NONCE",
	}
	for q, code := range cases {
		r := f.get(t, "/api/bsc/quote/buy"+q)
		assert.Equal(t, http.StatusBadRequest, r.code, q)
		assert.Equal(t, code, r.body["error"], q)
		assert.Equal(t, "quote/buy", r.body["endpoint"], q)
	}
	assert.Empty(t, f.q.buys)
}

func TestUnsupportedQuoteIsOKButTradeIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.q.status = 0

	r := f.get(t, "/api/bsc/quote/buy?token="+tokenHx+"&bnb_cost=0.1")
	require.Equal(t, http.StatusOK, r.code)
	assert.Equal(t, false, r.body["tradable"])
	assert.Equal(t, "none", r.body["market"])
	assert.Equal(t, "UNSUPPORTED_TRADING_STATUS", r.body["error_code"])
	assert.Nil(t, r.body["price_per_token"])
	assert.Nil(t, r.body["output"])

	f.tr.err = fmt.Errorf("quote: %w", quote.ErrUnsupported)
	r = f.do(t, http.MethodPost, "/api/bsc/buy", map[string]any{
		"walletId": 1, "token": tokenHx, "bnb_cost": "0.1", "slippage": 2,
		"gasprice": "0.1", "gaslimit": 300000, "autoApprove": true,
	})
	assert.Equal(t, http.StatusBadRequest, r.code)
	assert.Equal(t, "UNSUPPORTED_TRADING_STATUS", r.body["error"])
	assert.Equal(t, "none", r.body["market"])
	assert.Equal(t, float64(1), r.body["walletId"])
	assert.Equal(t, addr1, r.body["wallet_address"])
}

func TestQuoteSell(t *testing.T) {
	f := newFixture(t, Options{})

	r := f.get(t, "/api/bsc/quote/sell?token="+tokenHx)
	assert.Equal(t, "MISSING_WALLET_ID", r.body["error"])

	r = f.get(t, "/api/bsc/quote/sell?walletId=1&token="+tokenHx+"&percent=0")
	assert.Equal(t, "INVALID_PERCENT", r.body["error"])

	r = f.get(t, "/api/bsc/quote/sell?walletId=1&token="+tokenHx+"&amount=1.5")
	assert.Equal(t, "MISSING_DECIMALS", r.body["error"])

	r = f.get(t, "/api/bsc/quote/sell?walletId=1&token="+tokenHx+"&amount=1.5&basetoken_decimals=6")
	require.Equal(t, http.StatusOK, r.code, r.body)
	require.Len(t, f.q.sells, 1)
	assertWei(t, 1_500_000, f.q.sells[0].Amount)
	assert.Equal(t, common.HexToAddress(addr1), *f.q.sells[0].Owner)

	r = f.get(t, "/api/bsc/quote/sell?walletId=1&token="+tokenHx+"&percent=50&nonce=3")
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, 50.0, f.q.sells[1].Percent)
	assert.Equal(t, float64(3), r.body["nonce"])
}

func TestTradeValidation(t *testing.T) {
	f := newFixture(t, Options{})
	base := func() map[string]any {
		return map[string]any{
			"walletId": 1, "token": tokenHx, "percent": 100, "slippage": 1,
			"gasprice": "0.1", "gaslimit": 300000, "autoApprove": true,
		}
	}
	cases := []struct {
		mutate func(m map[string]any)
		code   string
	}{
		{func(m map[string]any) { delete(m, "walletId") }, "MISSING_WALLET_ID"},
		{func(m map[string]any) { delete(m, "slippage") }, "MISSING_SLIPPAGE"},
		{func(m map[string]any) { delete(m, "gasprice") }, "MISSING_GAS_PARAMS"},
		{func(m map[string]any) { m["gaslimit"] = 0 }, "INVALID_GAS_PARAMS"},
		{func(m map[string]any) { m["gasprice"] = "x" }, "INVALID_GAS_PARAMS"},
		{func(m map[string]any) { delete(m, "autoApprove") }, "MISSING_AUTO_APPROVE"},
		{func(m map[string]any) { m["percent"] = 120 }, "INVALID_PERCENT"},
	}
	for _, c := range cases {
		m := base()
		c.mutate(m)
		r := f.do(t, http.MethodPost, "/api/bsc/sell", m)
		assert.Equal(t, http.StatusBadRequest, r.code, c.code)
		assert.Equal(t, c.code, r.body["error"])
	}
	assert.Empty(t, f.tr.orders)
}

func TestSell(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.do(t, http.MethodPost, "/api/bsc/sell", map[string]any{
		"walletId": 1, "token": tokenHx, "amount_wei": "1000", "slippage": 1,
		"gasprice": "0.1", "gaslimit": 300000, "autoApprove": false,
	}, "X-Request-Id", "r-1")
	require.Equal(t, http.StatusOK, r.code, r.body)
	require.Len(t, f.tr.orders, 1)
	o := f.tr.orders[0]
	assert.True(t, o.NoApprove)
	assert.Equal(t, "r-1", o.RequestID)
	assertWei(t, 100_000_000, o.Gas.Price)
	assert.Equal(t, uint64(300000), o.Gas.Limit)
	assert.Equal(t, "r-1", r.body["request_id"])
	assert.Equal(t, "0.08", r.body["gas_price_gwei"])
	assert.NotNil(t, r.body["tx_hash"])

	f.tr.err = fmt.Errorf("plan: %w", execution.ErrAllowanceInsufficient)
	r = f.do(t, http.MethodPost, "/api/bsc/sell", map[string]any{
		"walletId": 1, "token": tokenHx, "amount_wei": "1000", "slippage": 1,
		"gasprice": "0.1", "gaslimit": 300000, "autoApprove": "false",
	})
	assert.Equal(t, http.StatusBadRequest, r.code)
	assert.Equal(t, "ALLOWANCE_INSUFFICIENT", r.body["error"])
}

func TestBuyPassesApproveFlag(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.get(t, "/api/bsc/buy?walletId=1&token="+tokenHx+"&bnb_cost=0.5&slippage=3&gasprice=1&gaslimit=400000&autoApprove=1")
	require.Equal(t, http.StatusOK, r.code, r.body)
	o := f.tr.orders[0]
	assert.True(t, o.ApproveAfterBuy)
	assertWei(t, 5e17, o.Funds)
	assert.Equal(t, 3.0, o.Slippage)

	f.tr.err = fmt.Errorf("plan: %w", execution.ErrNoQuote)
	r = f.get(t, "/api/bsc/buy?walletId=1&token="+tokenHx+"&bnb_cost=0.5&slippage=3&gasprice=1&gaslimit=400000&autoApprove=0")
	assert.Equal(t, http.StatusUnprocessableEntity, r.code)
	assert.Equal(t, "SIMULATION_FAILED", r.body["error"])
}

func TestSwapBuy(t *testing.T) {
	f := newFixture(t, Options{})
	body := func() map[string]any {
		return map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "1000000", "nonce": 12}
	}

	r := f.do(t, http.MethodPost, "/api/bsc/swap/buy", body())
	require.Equal(t, http.StatusOK, r.code, r.body)
	require.Len(t, f.tr.swaps, 1)
	o := f.tr.swaps[0]
	assert.Equal(t, types.MarketInternal, o.Market)
	assert.Equal(t, uint64(12), o.Nonce)
	assertWei(t, 80_000_000, o.Gas.Price)
	assert.Equal(t, uint64(500_000), o.Gas.Limit)
	assert.Nil(t, o.Allowance)
	assert.Equal(t, 0, o.MinOut.Sign())
	// quote token falls back to the chain read
	assert.Equal(t, common.Address{}, o.QuoteToken)
	assert.Equal(t, "swap/buy", r.body["endpoint"])
	assert.Equal(t, false, r.body["receipt_waited"])

	m := body()
	m["is_bnb_quote"] = false
	m["quotetoken_address"] = usdtHx
	m["allowance_fourmeme"] = "5"
	m["gaslimit"] = 250000
	r = f.do(t, http.MethodPost, "/api/bsc/swap/buy", m)
	require.Equal(t, http.StatusOK, r.code, r.body)
	o = f.tr.swaps[1]
	assert.Equal(t, common.HexToAddress(usdtHx), o.QuoteToken)
	assertWei(t, 5, o.Allowance)
	assert.Equal(t, uint64(250000), o.Gas.Limit)

	f.q.infoQuote = common.HexToAddress(usdtHx)
	r = f.do(t, http.MethodPost, "/api/bsc/swap/buy", body())
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, common.HexToAddress(usdtHx), f.tr.swaps[2].QuoteToken)
}

func TestSwapValidation(t *testing.T) {
	f := newFixture(t, Options{})
	wbnb := contracts.Defaults().WBNB.Hex()
	cases := []struct {
		path string
		body map[string]any
		code string
	}{
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "0", "nonce": 1}, "INVALID_BNB_COST_WEI"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "1.5", "nonce": 1}, "INVALID_BNB_COST_WEI"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10", "min_token_amount_wei": "-1", "nonce": 1}, "INVALID_MIN_TOKEN_WEI"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10"}, "MISSING_NONCE"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10", "nonce": 1, "gaslimit": 0}, "INVALID_GAS_LIMIT"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10", "nonce": 1, "market": "dex"}, "INVALID_MARKET"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10", "nonce": 1, "market": "external"}, "MISSING_USE_THREE_PATH"},
		{"/api/bsc/swap/buy", map[string]any{"walletId": 1, "token": tokenHx, "bnb_cost_wei": "10", "nonce": 1, "market": "external", "use_three_path": 1, "quotetoken_address": wbnb}, "INVALID_QUOTE_ADDRESS"},
		{"/api/bsc/swap/sell", map[string]any{"walletId": 1, "token": tokenHx, "token_amount_wei": "x", "nonce": 1}, "INVALID_TOKEN_AMOUNT_WEI"},
		{"/api/bsc/swap/sell", map[string]any{"walletId": 1, "token": tokenHx, "token_amount_wei": "10", "min_bnb_amount_wei": "y", "nonce": 1}, "INVALID_MIN_BNB_AMOUNT_WEI"},
	}
	for _, c := range cases {
		r := f.do(t, http.MethodPost, c.path, c.body)
		assert.Equal(t, http.StatusBadRequest, r.code, c.code)
		assert.Equal(t, c.code, r.body["error"])
	}
	assert.Empty(t, f.tr.swaps)
}

func TestSwapSellExternalThreeHop(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.do(t, http.MethodPost, "/api/bsc/swap/sell", map[string]any{
		"walletId": 1, "token": tokenHx, "market": "EXTERNAL", "token_amount_wei": "500",
		"min_bnb_amount_wei": "7", "nonce": 2, "use_three_path": "1", "quotetoken_address": usdtHx,
		"allowance_router": "0", "gasprice": "1",
	})
	require.Equal(t, http.StatusOK, r.code, r.body)
	o := f.tr.swaps[0]
	assert.Equal(t, types.MarketExternal, o.Market)
	assert.True(t, o.ThreeHop)
	assert.Equal(t, common.HexToAddress(usdtHx), o.QuoteToken)
	assert.Equal(t, 0, o.Allowance.Sign())
	assertWei(t, 1_000_000_000, o.Gas.Price)
	assertWei(t, 7, o.MinOut)
}

func TestTxStatus(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.get(t, "/api/bsc/tx/status?hash=0x1234")
	assert.Equal(t, "INVALID_HASH", r.body["error"])

	h := "0x" + "ab" + fmt.Sprintf("%062x", 1)
	r = f.get(t, "/api/bsc/tx/status?hash="+h)
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, "success", r.body["status"])
	assert.Equal(t, float64(3), r.body["confirmations"])
	assert.Equal(t, "bsc", r.body["chain"])
}

func TestTradingStatusAndBalances(t *testing.T) {
	f := newFixture(t, Options{})
	f.q.status = 2
	r := f.get(t, "/api/bsc/trading-status?token="+tokenHx)
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Equal(t, "external", r.body["market"])
	assert.Equal(t, true, r.body["is_graduated"])
	assert.Equal(t, float64(2), r.body["market_code"])

	r = f.get(t, "/api/bsc/balances?walletId=1")
	require.Equal(t, http.StatusOK, r.code, r.body)
	assert.Nil(t, f.q.balancesTok)
	assert.Nil(t, r.body["token"])
	bnb := r.body["bnb"].(map[string]any)
	assert.Equal(t, "2", bnb["value"])
	assert.Equal(t, "600", r.body["bnb_usd_price"])

	r = f.get(t, "/api/bsc/balances?walletId=1&token="+tokenHx)
	require.Equal(t, http.StatusOK, r.code, r.body)
	require.NotNil(t, f.q.balancesTok)
	assert.Equal(t, "DOG", r.body["token"].(map[string]any)["symbol"])
}

func TestWallets(t *testing.T) {
	f := newFixture(t, Options{})
	r := f.get(t, "/api/wallets")
	require.Equal(t, http.StatusOK, r.code)
	ws := r.body["wallets"].([]any)
	require.Len(t, ws, 1)
	w := ws[0].(map[string]any)
	assert.Equal(t, float64(1), w["id"])
	assert.Equal(t, "main", w["name"])
	assert.Equal(t, addr1, w["address"])
}

func TestAddressesRenderChecksummed(t *testing.T) {
	usdt := common.HexToAddress(usdtHx)
	out, err := json.Marshal(struct {
		One  addr   `json:"one"`
		Many []addr `json:"many"`
		Opt  *addr  `json:"opt"`
	}{addr(usdt), addrList([]common.Address{tok, usdt}), nil})
	require.NoError(t, err)
	assert.JSONEq(t, `{"one":"`+usdtHx+`","many":["`+tokenHx+`","`+usdtHx+`"],"opt":null}`, string(out))

	v := newTradeView(&execution.Result{Plan: &execution.Plan{
		Side: types.Sell, Token: tok, Market: types.MarketExternal,
		Amount: big.NewInt(1), MinOut: big.NewInt(0),
		Wallet: &wallet.Account{ID: 1, Address: common.HexToAddress(addr1)},
	}}, "req")
	out, err = json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"wallet_address":"`+addr1+`"`)
}
