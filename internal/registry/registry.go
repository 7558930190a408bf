package registry

import (
	"fmt"
	"strings"
)

// Flare mainnet chain parameters.
const (
	FlareChainID    int64  = 14
	DefaultRPCURL   string = "https://flare-api.flare.network/ext/C/rpc"
	NativeSymbol    string = "FLR"
	NativeDecimals  int    = 18
	NativeFeed      string = "FLR/USD"
	WalletProtocol  string = "flare-wallet"
	StakingProtocol string = "sceptre"
)

// Core contract addresses on Flare mainnet.
const (
	// FtsoV2 block-latency feed reader.
	FtsoV2Address = "0x7BDe3Df0624114eDB3A67dFE6753e62f4e7C1d20"
	// Sceptre liquid-staked FLR token.
	SFLRAddress = "0x12e605bc104e93B45e1aD99F9e555f659051c2BB"
)

// Token is one tracked ERC-20 asset. Feed is the FTSO feed name used to
// price it; an empty Feed marks the asset as unpriceable on-chain.
type Token struct {
	Symbol   string
	Address  string
	Decimals int
	Feed     string
}

// TrackedTokens is the wallet scan list. sFLR is deliberately absent here:
// the staking adapter reports it (as its FLR redemption value) and listing it
// twice would double-count the holding.
var TrackedTokens = []Token{
	{Symbol: "WFLR", Address: "0x1D80c49BbBCd1C0911346656B529DF9E5c2F783d", Decimals: 18, Feed: "FLR/USD"},
	{Symbol: "USDC.e", Address: "0xFbDa5F676cB37624f28265A144A48B0d6e87d3b6", Decimals: 6, Feed: "USDC/USD"},
	{Symbol: "USDT", Address: "0x0B38e83B86d491735fEaa0a791F65c2B99535396", Decimals: 6, Feed: "USDT/USD"},
	{Symbol: "FXRP", Address: "0x97E1E9d0747f07bBcE42ba0951a1AAbd4bD537b6", Decimals: 6, Feed: "XRP/USD"},
	{Symbol: "JOULE", Address: "0xE6505f92583103AF7ed9974DEC451A7Af4e3A3bE", Decimals: 18, Feed: ""},
}

// lpTokens extends the wallet scan list with tokens that only appear inside
// LP pairs. sFLR trades close enough to FLR for display-grade LP valuation.
var lpTokens = []Token{
	{Symbol: "sFLR", Address: SFLRAddress, Decimals: 18, Feed: "FLR/USD"},
}

// TokenByAddress resolves a token contract to its tracked metadata.
func TokenByAddress(address string) (Token, bool) {
	needle := strings.ToLower(address)
	for _, t := range TrackedTokens {
		if strings.ToLower(t.Address) == needle {
			return t, true
		}
	}
	for _, t := range lpTokens {
		if strings.ToLower(t.Address) == needle {
			return t, true
		}
	}
	return Token{}, false
}

// V3Dex describes one Uniswap-V3-style DEX deployment.
type V3Dex struct {
	Protocol        string
	PositionManager string
	Factory         string
}

// V3Dexes lists the concentrated-liquidity DEXes scanned for LP positions.
var V3Dexes = []V3Dex{
	{
		Protocol:        "enosys-v3",
		PositionManager: "0x9a8D7a9f8196671C4B4a1513c6b1C8Fd6a1b9A0e",
		Factory:         "0x17AA157AC8C54034381b840Cb8bFFa8f341eA1C9",
	},
	{
		Protocol:        "sparkdex-v3",
		PositionManager: "0xEE5FF5Bc5F852764b5584d92A4d592A53DC527da",
		Factory:         "0x16b619B04c961E8f4F06C10B42FDAbb328980A89",
	},
}

// StabilityPool describes a Liquity-style stability pool deployment.
type StabilityPool struct {
	Protocol      string
	Address       string
	DepositSymbol string
	DepositFeed   string
	GainSymbol    string
	GainFeed      string
	TokenDecimals int
}

// StabilityPools lists the tracked stability pools.
var StabilityPools = []StabilityPool{
	{
		Protocol:      "flarebank",
		Address:       "0xCdE4bB91C5405Ec29D6Cf7C2b3aF9a4E8b1d2F60",
		DepositSymbol: "fUSD",
		DepositFeed:   "USDC/USD",
		GainSymbol:    "FLR",
		GainFeed:      "FLR/USD",
		TokenDecimals: 18,
	},
}

// Vault describes an ERC-4626 yield vault and its underlying asset.
type Vault struct {
	Protocol          string
	Address           string
	ShareSymbol       string
	UnderlyingSymbol  string
	UnderlyingFeed    string
	UnderlyingDecimal int
}

// Vaults lists the tracked yield vaults.
var Vaults = []Vault{
	{
		Protocol:          "kinetic",
		Address:           "0x291Fa8eE1cf8bEa8f1C8bD9d6a281fA255f3B9C1",
		ShareSymbol:       "kUSDC",
		UnderlyingSymbol:  "USDC.e",
		UnderlyingFeed:    "USDC/USD",
		UnderlyingDecimal: 6,
	},
}

// FeedID encodes an FTSO v2 feed name ("FLR/USD") as the bytes21 feed id:
// a 0x01 category byte followed by the ASCII name, zero padded.
func FeedID(name string) ([21]byte, error) {
	var id [21]byte
	if name == "" || len(name) > 20 {
		return id, fmt.Errorf("invalid feed name %q", name)
	}
	id[0] = 0x01
	copy(id[1:], []byte(name))
	return id, nil
}

// FeedIDHex renders the feed id as a 0x-prefixed hex string, the form the
// FTSO documentation uses.
func FeedIDHex(name string) (string, error) {
	id, err := FeedID(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range id {
		sb.WriteString(fmt.Sprintf("%02x", b))
	}
	return sb.String(), nil
}
