package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const multicall3ABI = `[
 {"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"},
 {"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"getEthBalance","outputs":[{"internalType":"uint256","name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// shared by both candidate pair records
const v2PairComponents = `[
 {"internalType":"address","name":"pair","type":"address"},
 {"components":[{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"reserve","type":"uint256"}],"internalType":"struct PairReserve","name":"reserve0","type":"tuple"},
 {"components":[{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"reserve","type":"uint256"}],"internalType":"struct PairReserve","name":"reserve1","type":"tuple"}
]`

const aggregatorABI = `[
 {"inputs":[{"internalType":"address","name":"token","type":"address"}],"name":"getFourmemeTokenInfo","outputs":[{"components":[
   {"components":[
     {"internalType":"string","name":"name","type":"string"},
     {"internalType":"string","name":"symbol","type":"string"},
     {"internalType":"uint8","name":"decimals","type":"uint8"},
     {"internalType":"uint256","name":"totalSupply","type":"uint256"},
     {"internalType":"bool","name":"isFourMemeToken","type":"bool"}
   ],"internalType":"struct BasicInfo","name":"basic","type":"tuple"},
   {"components":[
     {"internalType":"uint256","name":"version","type":"uint256"},
     {"internalType":"address","name":"tokenManager","type":"address"},
     {"internalType":"address","name":"quote","type":"address"},
     {"internalType":"uint256","name":"lastPrice","type":"uint256"},
     {"internalType":"uint256","name":"usdPrice","type":"uint256"},
     {"internalType":"uint256","name":"tradingFeeRate","type":"uint256"},
     {"internalType":"uint256","name":"minTradingFee","type":"uint256"},
     {"internalType":"uint256","name":"launchTime","type":"uint256"},
     {"internalType":"uint8","name":"tradingStatus","type":"uint8"}
   ],"internalType":"struct PlatformInfo","name":"platform","type":"tuple"},
   {"components":[
     {"internalType":"uint256","name":"offers","type":"uint256"},
     {"internalType":"uint256","name":"maxOffers","type":"uint256"},
     {"internalType":"uint256","name":"funds","type":"uint256"},
     {"internalType":"uint256","name":"maxFunds","type":"uint256"},
     {"internalType":"bool","name":"liquidityAdded","type":"bool"},
     {"internalType":"uint256","name":"offerPercentage","type":"uint256"},
     {"internalType":"uint256","name":"fundsPercentage","type":"uint256"}
   ],"internalType":"struct TradingInfo","name":"trading","type":"tuple"},
   {"components":[
     {"internalType":"string","name":"quoteName","type":"string"},
     {"internalType":"string","name":"quoteSymbol","type":"string"},
     {"internalType":"uint8","name":"quoteDecimals","type":"uint8"},
     {"internalType":"uint256","name":"poolTokenBalance","type":"uint256"},
     {"internalType":"uint256","name":"poolQuoteBalance","type":"uint256"},
     {"internalType":"bool","name":"isXMode","type":"bool"},
     {"internalType":"uint256","name":"template","type":"uint256"},
     {"components":` + v2PairComponents + `,"internalType":"struct V2Pair","name":"v2TokenQuotePair","type":"tuple"},
     {"components":` + v2PairComponents + `,"internalType":"struct V2Pair","name":"v2WbnbQuotePair","type":"tuple"}
   ],"internalType":"struct PoolInfo","name":"pool","type":"tuple"}
 ],"internalType":"struct FourmemeTokenInfo","name":"info","type":"tuple"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"bnbAmount","type":"uint256"}],"name":"tryBuyWithBNB","outputs":[{"internalType":"uint256","name":"tokenAmount","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"tokenAmount","type":"uint256"}],"name":"trySellToBNB","outputs":[{"internalType":"uint256","name":"bnbAmount","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"percent","type":"uint256"}],"name":"trySellPercentageToBNB","outputs":[{"internalType":"uint256","name":"bnbAmount","type":"uint256"},{"internalType":"uint256","name":"sellAmount","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const oracleABI = `[
 {"inputs":[],"name":"getBNBUsdPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"token","type":"address"}],"name":"getTokenUsdPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const erc20ABI = `[
 {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

// bonding-curve contract (four.meme TokenManager)
const tokenManagerABI = `[
 {"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"funds","type":"uint256"},{"internalType":"uint256","name":"minAmount","type":"uint256"}],"name":"buyTokenAMAP","outputs":[],"stateMutability":"payable","type":"function"},
 {"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint256","name":"minFunds","type":"uint256"}],"name":"sellToken","outputs":[],"stateMutability":"nonpayable","type":"function"},
 {"inputs":[{"internalType":"bytes","name":"args","type":"bytes"},{"internalType":"uint256","name":"time","type":"uint256"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"buyToken","outputs":[],"stateMutability":"payable","type":"function"}
]`

const buyHelperABI = `[
 {"inputs":[{"internalType":"uint256","name":"origin","type":"uint256"},{"internalType":"address","name":"token","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"funds","type":"uint256"},{"internalType":"uint256","name":"minAmount","type":"uint256"}],"name":"buyWithEth","outputs":[],"stateMutability":"payable","type":"function"}
]`

var (
	Multicall3   = mustParse("multicall3", multicall3ABI)
	Aggregator   = mustParse("aggregator", aggregatorABI)
	Oracle       = mustParse("oracle", oracleABI)
	ERC20        = mustParse("erc20", erc20ABI)
	TokenManager = mustParse("token manager", tokenManagerABI)
	BuyHelper    = mustParse("buy helper", buyHelperABI)
)

// XModeBuyArgs is the tuple abi-encoded into buyToken's first argument.
var XModeBuyArgs = abi.Arguments{{Type: mustType("tuple", []abi.ArgumentMarshaling{
	{Name: "origin", Type: "uint256"},
	{Name: "token", Type: "address"},
	{Name: "to", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "maxFunds", Type: "uint256"},
	{Name: "funds", Type: "uint256"},
	{Name: "minAmount", Type: "uint256"},
})}}

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("bad %s abi: %v", name, err))
	}
	return parsed
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("bad abi type %s: %v", t, err))
	}
	return typ
}
