package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

const chainName = "bsc"

// amount renders a base-unit value both human-readable and raw.
type amount struct {
	Value string `json:"value"`
	Wei   string `json:"wei"`
}

// addr renders an address in its checksummed form.
type addr common.Address

func (a addr) MarshalText() ([]byte, error) { return []byte(common.Address(a).Hex()), nil }

func addrList(in []common.Address) []addr {
	if in == nil {
		return nil
	}
	out := make([]addr, len(in))
	for i, a := range in {
		out[i] = addr(a)
	}
	return out
}

func amountOf(v *big.Int, decimals int32) *amount {
	if v == nil {
		return nil
	}
	return &amount{Value: quote.FormatUnits(v, decimals), Wei: v.String()}
}

type quoteView struct {
	Side          types.Side   `json:"side"`
	Chain         string       `json:"chain"`
	Token         addr         `json:"token"`
	Tradable      bool         `json:"tradable"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Mode          string       `json:"mode"`
	Market        types.Market `json:"market"`
	MarketCode    uint8        `json:"market_code"`
	PlatformCode  int          `json:"platform_code"`
	StatusName    string       `json:"status_name"`
	IsBNBQuote    bool         `json:"is_bnb_quote"`
	QuoteToken    addr         `json:"quotetoken_address"`
	UseThreePath  int          `json:"use_three_path"`
	Path          []addr       `json:"path,omitempty"`
	BaseSymbol    string       `json:"basetoken_symbol"`
	QuoteSymbol   string       `json:"quotetoken_symbol"`
	BaseDecimals  int32        `json:"basetoken_decimals"`
	QuoteDecimals int32        `json:"quotetoken_decimals"`
	Input         *amount      `json:"input"`
	Output        *amount      `json:"output"`
	MinOutput     *amount      `json:"min_output"`
	SlippageBps   int64        `json:"slippage_bps"`
	PricePerToken *string      `json:"price_per_token"`
	DryRun        bool         `json:"dry_run"`
	BNBUSD        string       `json:"bnb_usd_price"`
	TokenUSD      string       `json:"token_usd_price"`
	MarketCapUSD  string       `json:"market_cap_usd"`
	PoolBase      string       `json:"basetoken_balance"`
	PoolQuote     string       `json:"quotetoken_balance"`
	ReserveSource string       `json:"reserves_source"`
	DisplayOnly   bool         `json:"reserves_display_only"`
	WalletID      *int64       `json:"walletId"`
	WalletAddress *addr        `json:"wallet_address"`
	Nonce         *uint64      `json:"nonce,omitempty"`
	WalletBNB     *string      `json:"wallet_bnb_balance"`
	WalletToken   *string      `json:"wallet_token_balance"`
	AllowanceTM   *string      `json:"allowance_fourmeme"`
	AllowanceRtr  *string      `json:"allowance_router"`
}

func newQuoteView(q *quote.Quote) *quoteView {
	info := q.Info
	dec, qdec := info.Decimals(), info.QuoteDecimals()
	inDec, outDec := int32(18), dec
	if q.Side == types.Sell {
		inDec, outDec = dec, 18
	}

	v := &quoteView{
		Side:          q.Side,
		Chain:         chainName,
		Token:         addr(q.Token),
		Tradable:      q.Market != types.MarketNone,
		Mode:          "normal",
		Market:        q.Market,
		MarketCode:    info.Platform.TradingStatus,
		StatusName:    info.Status().String(),
		IsBNBQuote:    info.QuoteIsNative(),
		QuoteToken:    addr(q.Route.QuoteToken),
		Path:          addrList(q.Route.Path),
		BaseSymbol:    info.Basic.Symbol,
		QuoteSymbol:   info.Pool.QuoteSymbol,
		BaseDecimals:  dec,
		QuoteDecimals: qdec,
		Input:         amountOf(q.Input, inDec),
		Output:        amountOf(q.Output, outDec),
		MinOutput:     amountOf(q.MinOutput, outDec),
		SlippageBps:   q.SlippageBps,
		DryRun:        q.DryRun,
		BNBUSD:        quote.FormatUnits(q.USD.BNB, 18),
		TokenUSD:      quote.FormatUnits(q.USD.Token, 18),
		MarketCapUSD:  q.MarketCapUSD.StringFixed(2),
		PoolBase:      quote.FormatUnits(q.Reserves.Base, dec),
		PoolQuote:     quote.FormatUnits(q.Reserves.Quote, qdec),
		ReserveSource: string(q.Reserves.Source),
		DisplayOnly:   q.Reserves.DisplayOnly(),
	}
	if info.XMode() {
		v.Mode = "xmode"
	}
	if info.Basic.IsFourMemeToken {
		v.PlatformCode = 1
	}
	if q.Route.ThreeHop {
		v.UseThreePath = 1
	}
	if !v.Tradable {
		v.ErrorCode = "UNSUPPORTED_TRADING_STATUS"
	} else {
		p := q.PricePerUnit.String()
		v.PricePerToken = &p
	}
	if h := q.Holdings; h != nil {
		v.WalletBNB = strPtr(quote.FormatUnits(h.Native, 18))
		v.WalletToken = strPtr(quote.FormatUnits(h.Token, dec))
	}
	if a := q.Allowances; a != nil {
		v.AllowanceTM = strPtr(quote.FormatUnits(a.TokenManager, dec))
		v.AllowanceRtr = strPtr(quote.FormatUnits(a.Router, dec))
	}
	return v
}

func strPtr(s string) *string { return &s }

type tradeView struct {
	Side          types.Side    `json:"side"`
	Chain         string        `json:"chain"`
	Token         addr          `json:"token"`
	Market        types.Market  `json:"market"`
	TxHash        *common.Hash  `json:"tx_hash"`
	ApproveTxHash *common.Hash  `json:"approve_tx_hash"`
	TxHashes      []common.Hash `json:"tx_hashes"`
	Nonce         uint64        `json:"nonce"`
	AmountIn      string        `json:"amount_in_wei"`
	MinOut        string        `json:"min_out_wei"`
	Path          []addr        `json:"path,omitempty"`
	GasPriceGwei  string        `json:"gas_price_gwei"`
	GasLimit      uint64        `json:"gas_limit"`
	WalletID      int64         `json:"walletId"`
	WalletAddress addr          `json:"wallet_address"`
	RequestID     string        `json:"request_id"`
	ReceiptWaited bool          `json:"receipt_waited"`
}

func newTradeView(r *execution.Result, requestID string) *tradeView {
	v := &tradeView{
		Side:          r.Side,
		Chain:         chainName,
		Token:         addr(r.Token),
		Market:        r.Market,
		TxHashes:      r.Hashes,
		Nonce:         r.Nonce,
		AmountIn:      r.Amount.String(),
		MinOut:        r.MinOut.String(),
		WalletID:      r.Wallet.ID,
		WalletAddress: addr(r.Wallet.Address),
		RequestID:     requestID,
	}
	all := append(append([]*execution.SignedTx{}, r.Txs...), r.FollowUps...)
	for _, tx := range all {
		h := tx.Hash
		if tx.Kind == execution.KindApprove {
			v.ApproveTxHash = &h
			continue
		}
		v.TxHash = &h
		v.GasPriceGwei = quote.FormatUnits(tx.GasPrice, 9)
		v.GasLimit = tx.GasLimit
	}
	if r.Quote != nil {
		v.Path = addrList(r.Quote.Route.Path)
	}
	return v
}

type statusView struct {
	Chain        string       `json:"chain"`
	Token        addr         `json:"token"`
	PlatformCode int          `json:"platform_code"`
	MarketCode   int          `json:"market_code"`
	Market       types.Market `json:"market"`
	StatusName   string       `json:"status_name"`
	market.TradingStatus
}

func newStatusView(token common.Address, ts market.TradingStatus) *statusView {
	v := &statusView{Chain: chainName, Token: addr(token), Market: types.MarketNone, TradingStatus: ts}
	if ts.IsFourMeme {
		v.PlatformCode = 1
	}
	switch {
	case ts.IsInternal:
		v.MarketCode, v.Market = 1, types.MarketInternal
	case ts.IsGraduated:
		v.MarketCode, v.Market = 2, types.MarketExternal
	}
	v.StatusName = market.Status(v.MarketCode).String()
	return v
}

type tokenBalanceView struct {
	Token    addr    `json:"token"`
	Symbol   string  `json:"symbol"`
	Decimals int32   `json:"decimals"`
	Balance  *amount `json:"balance"`
	USDPrice string  `json:"usd_price"`
	USDValue string  `json:"usd_value"`
}

type balancesView struct {
	Chain    string            `json:"chain"`
	WalletID int64             `json:"walletId"`
	Address  addr              `json:"address"`
	BNB      *amount           `json:"bnb"`
	BNBUSD   string            `json:"bnb_usd_price"`
	USDValue string            `json:"bnb_usd_value"`
	Token    *tokenBalanceView `json:"token,omitempty"`
}

func newBalancesView(id int64, b *quote.Balances) *balancesView {
	v := &balancesView{
		Chain:    chainName,
		WalletID: id,
		Address:  addr(b.Owner),
		BNB:      amountOf(b.Native, 18),
		BNBUSD:   quote.FormatUnits(b.BNBUSD, 18),
		USDValue: b.USDValue.StringFixed(2),
	}
	if t := b.Token; t != nil {
		v.Token = &tokenBalanceView{
			Token:    addr(t.Token),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Balance:  amountOf(t.Balance, t.Decimals),
			USDPrice: quote.FormatUnits(t.USDPrice, 18),
			USDValue: t.USDValue.StringFixed(2),
		}
	}
	return v
}
