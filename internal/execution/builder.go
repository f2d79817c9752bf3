package execution

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	v2 "github.com/0x941689/showdog-fourmeme-local-api/internal/dex/v2"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

var (
	ErrNoFunds               = errors.New("x-mode buy needs funds or maxFunds")
	ErrAllowanceInsufficient = errors.New("allowance below sell amount")
)

// MaxUint256 is the approval amount for every spender.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type Kind string

const (
	KindBuy     Kind = "buy"
	KindSell    Kind = "sell"
	KindXBuy    Kind = "xmode_buy"
	KindApprove Kind = "approve"
	KindSwapBuy Kind = "swap_buy"
	KindSwapSel Kind = "swap_sell"
)

// TxParams are supplied by the caller; the builder never estimates gas.
type TxParams struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
}

// SignedTx is a signed legacy transaction plus the fields that went into it.
type SignedTx struct {
	Kind     Kind
	Tx       *gethtypes.Transaction
	Raw      []byte
	Hash     common.Hash
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	ChainID  *big.Int
}

// Builder encodes and signs trade transactions offline.
type Builder struct {
	chainID *big.Int
	signer  gethtypes.Signer
	addrs   contracts.Addresses
	router  *v2.Router
}

func NewBuilder(chainID int64, addrs contracts.Addresses, router *v2.Router) *Builder {
	id := big.NewInt(chainID)
	return &Builder{chainID: id, signer: gethtypes.NewEIP155Signer(id), addrs: addrs, router: router}
}

func (b *Builder) Router() *v2.Router { return b.router }

func (b *Builder) sign(acct *wallet.Account, kind Kind, to common.Address, data []byte, value *big.Int, p TxParams) (*SignedTx, error) {
	if value == nil {
		value = new(big.Int)
	}
	gasPrice := p.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: gasPrice,
		Gas:      p.GasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, b.signer, acct.Key())
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", kind, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	metrics.TxBuilt.WithLabelValues(string(kind)).Inc()
	return &SignedTx{
		Kind:     kind,
		Tx:       signed,
		Raw:      raw,
		Hash:     signed.Hash(),
		From:     acct.Address,
		To:       to,
		Data:     data,
		Value:    value,
		Nonce:    p.Nonce,
		GasPrice: gasPrice,
		GasLimit: p.GasLimit,
		ChainID:  b.chainID,
	}, nil
}

// InternalBuy spends funds on the bonding curve. Native-quoted tokens go straight to
// the token manager; the rest route through the helper, which swaps BNB to the quote.
func (b *Builder) InternalBuy(acct *wallet.Account, token common.Address, quoteNative bool, funds, minAmount *big.Int, p TxParams) (*SignedTx, error) {
	if quoteNative {
		data, err := contracts.TokenManager.Pack("buyTokenAMAP", token, acct.Address, funds, minAmount)
		if err != nil {
			return nil, fmt.Errorf("pack buyTokenAMAP: %w", err)
		}
		return b.sign(acct, KindBuy, b.addrs.TokenManager, data, funds, p)
	}
	data, err := contracts.BuyHelper.Pack("buyWithEth", new(big.Int), token, acct.Address, funds, minAmount)
	if err != nil {
		return nil, fmt.Errorf("pack buyWithEth: %w", err)
	}
	return b.sign(acct, KindBuy, b.addrs.BuyHelper, data, funds, p)
}

func (b *Builder) InternalSell(acct *wallet.Account, token common.Address, amount, minFunds *big.Int, p TxParams) (*SignedTx, error) {
	data, err := contracts.TokenManager.Pack("sellToken", token, amount, minFunds)
	if err != nil {
		return nil, fmt.Errorf("pack sellToken: %w", err)
	}
	return b.sign(acct, KindSell, b.addrs.TokenManager, data, nil, p)
}

// XModeBuy describes a buyToken(bytes,uint256,bytes) purchase. Nil amounts are zero
// and a zero To means the signing wallet.
type XModeBuy struct {
	Token     common.Address
	To        common.Address
	Amount    *big.Int
	Funds     *big.Int
	MaxFunds  *big.Int
	MinAmount *big.Int
}

type xModeArgs struct {
	Origin    *big.Int
	Token     common.Address
	To        common.Address
	Amount    *big.Int
	MaxFunds  *big.Int
	Funds     *big.Int
	MinAmount *big.Int
}

func nz(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// XModeBuy sends funds when set, else maxFunds, as value.
func (b *Builder) XModeBuy(acct *wallet.Account, x XModeBuy, p TxParams) (*SignedTx, error) {
	funds, maxFunds := nz(x.Funds), nz(x.MaxFunds)
	value := funds
	if value.Sign() == 0 {
		value = maxFunds
	}
	if value.Sign() == 0 {
		return nil, ErrNoFunds
	}
	to := x.To
	if to == (common.Address{}) {
		to = acct.Address
	}
	args, err := contracts.XModeBuyArgs.Pack(xModeArgs{
		Origin:    new(big.Int),
		Token:     x.Token,
		To:        to,
		Amount:    nz(x.Amount),
		MaxFunds:  maxFunds,
		Funds:     funds,
		MinAmount: nz(x.MinAmount),
	})
	if err != nil {
		return nil, fmt.Errorf("pack x-mode args: %w", err)
	}
	data, err := contracts.TokenManager.Pack("buyToken", args, new(big.Int), []byte{})
	if err != nil {
		return nil, fmt.Errorf("pack buyToken: %w", err)
	}
	return b.sign(acct, KindXBuy, b.addrs.TokenManager, data, value, p)
}

// Approve grants spender an unlimited allowance on token.
func (b *Builder) Approve(acct *wallet.Account, token, spender common.Address, p TxParams) (*SignedTx, error) {
	data, err := contracts.ERC20.Pack("approve", spender, MaxUint256)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return b.sign(acct, KindApprove, token, data, nil, p)
}

func (b *Builder) SwapExactETHForTokens(acct *wallet.Account, path []common.Address, amountIn, minOut *big.Int, p TxParams) (*SignedTx, error) {
	data, err := b.router.SwapExactETHForTokens(minOut, path, acct.Address)
	if err != nil {
		return nil, err
	}
	return b.sign(acct, KindSwapBuy, b.router.Address(), data, amountIn, p)
}

func (b *Builder) SwapExactTokensForETH(acct *wallet.Account, path []common.Address, amountIn, minOut *big.Int, p TxParams) (*SignedTx, error) {
	data, err := b.router.SwapExactTokensForETH(amountIn, minOut, path, acct.Address)
	if err != nil {
		return nil, err
	}
	return b.sign(acct, KindSwapSel, b.router.Address(), data, nil, p)
}
