package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID is BSC mainnet. Signers always embed it explicitly.
const ChainID int64 = 56

// Addresses is the fixed contract set the relay trades against.
type Addresses struct {
	TokenManager common.Address // bonding curve
	WBNB         common.Address
	Multicall3   common.Address
	Aggregator   common.Address
	Router       common.Address // PancakeSwap v2
	PriceOracle  common.Address
	BuyHelper    common.Address
}

func Defaults() Addresses {
	return Addresses{
		TokenManager: common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b"),
		WBNB:         common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
		Multicall3:   common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"),
		Aggregator:   common.HexToAddress("0x874d199077eEb08AF9B22c2fD5d9e6f041216877"),
		Router:       common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
		PriceOracle:  common.HexToAddress("0x66163B19Dfe075D7B90601B9bA1d86183C7fAe82"),
		BuyHelper:    common.HexToAddress("0xF251F83e40a78868FcfA3FA4599Dad6494E46034"),
	}
}

// Quote tokens whose pancake liquidity sits against WBNB, so swaps go through them.
var threeHopQuotes = map[string]struct{}{
	"0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82": {}, // CAKE
	"0x55d398326f99059ff775485246999027b3197955": {}, // USDT
	"0x8d0d000ee44948fc98c9b98a4fa4921476f08b0d": {}, // USD1
	"0x000ae314e2a2172a039b26378814c252734f556a": {}, // ASTER
}

// ThreeHopQuote reports whether quote is on the intermediate-hop allow-list.
func ThreeHopQuote(quote common.Address) bool {
	_, ok := threeHopQuotes[strings.ToLower(quote.Hex())]
	return ok
}
