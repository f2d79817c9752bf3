package types

import "time"

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Market string

const (
	MarketInternal Market = "internal"
	MarketExternal Market = "external"
	MarketNone     Market = "none"
)

// TradeEvent is published to the trade stream after a broadcast.
type TradeEvent struct {
	ID       string    `json:"id"` // request id
	WalletID int64     `json:"wallet_id"`
	Wallet   string    `json:"wallet"`
	Side     Side      `json:"side"`
	Market   Market    `json:"market"`
	Token    string    `json:"token"`
	Amount   string    `json:"amount_wei"`
	MinOut   string    `json:"min_out_wei"`
	TxHashes []string  `json:"tx_hashes"`
	Nonce    uint64    `json:"nonce"`
	Ts       time.Time `json:"ts"`
}
