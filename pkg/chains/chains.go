package chains

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainList contains the list of supported chain IDs
var ChainList = []int{
	1,     // Ethereum
	137,   // Polygon
	42161, // Arbitrum
	56,    // Binance Smart Chain
	8453,  // Base
	31337, // Local devnode
}

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	1:     "ETHEREUM",
	137:   "POLYGON",
	42161: "ARBITRUM",
	56:    "BSC",
	8453:  "BASE",
	31337: "LOCAL",
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return ""
	}
	return name
}

// IsSupported reports whether chainID is in ChainList
func IsSupported(chainID int) bool {
	_, ok := chainNames[chainID]
	return ok
}

// Token describes an ERC20 token the keeper can trade
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	// PriceID is the identifier used by the price API
	PriceID string
}

// ToBaseUnits converts a human amount to the token's smallest unit, truncating extra precision
func (t Token) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts a base unit amount to a human amount
func (t Token) FromBaseUnits(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -t.Decimals)
}

// usdcAddresses maps chain IDs to USDC contract addresses
var usdcAddresses = map[int]string{
	1:     "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	137:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	42161: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	56:    "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	8453:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
}

// usdtAddresses maps chain IDs to USDT contract addresses
var usdtAddresses = map[int]string{
	1:     "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	137:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	42161: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	56:    "0x55d398326f99059fF775485246999027B3197955",
	8453:  "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
}

// wethAddresses maps chain IDs to wrapped ether contract addresses
var wethAddresses = map[int]string{
	1:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	137:   "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
	42161: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
	56:    "0x2170Ed0880ac9A755fd29B2688956BD959F933F8",
	8453:  "0x4200000000000000000000000000000000000006",
}

// stablecoinDecimals returns the decimals of USDC and USDT, which are 18 on BSC and 6 elsewhere
func stablecoinDecimals(chainID int) int32 {
	if chainID == 56 {
		return 18
	}
	return 6
}

// DefaultTokens returns the built-in tokens for chainID
func DefaultTokens(chainID int) []Token {
	var tokens []Token
	if addr, ok := usdcAddresses[chainID]; ok {
		tokens = append(tokens, Token{Symbol: "USDC", Address: common.HexToAddress(addr), Decimals: stablecoinDecimals(chainID), PriceID: "usd-coin"})
	}
	if addr, ok := usdtAddresses[chainID]; ok {
		tokens = append(tokens, Token{Symbol: "USDT", Address: common.HexToAddress(addr), Decimals: stablecoinDecimals(chainID), PriceID: "tether"})
	}
	if addr, ok := wethAddresses[chainID]; ok {
		tokens = append(tokens, Token{Symbol: "WETH", Address: common.HexToAddress(addr), Decimals: 18, PriceID: "weth"})
	}
	return tokens
}

// Registry resolves tokens by symbol or address
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[common.Address]Token
}

// NewRegistry creates a registry holding tokens. Later tokens override earlier ones.
func NewRegistry(tokens ...Token) *Registry {
	r := &Registry{
		bySymbol:  make(map[string]Token),
		byAddress: make(map[common.Address]Token),
	}
	for _, t := range tokens {
		r.Add(t)
	}
	return r
}

// Add registers or replaces a token
func (r *Registry) Add(t Token) {
	t.Symbol = strings.ToUpper(t.Symbol)
	if old, ok := r.bySymbol[t.Symbol]; ok {
		delete(r.byAddress, old.Address)
	}
	r.bySymbol[t.Symbol] = t
	r.byAddress[t.Address] = t
}

// Lookup resolves a symbol (case-insensitive) or a hex address
func (r *Registry) Lookup(symbolOrAddress string) (Token, bool) {
	if common.IsHexAddress(symbolOrAddress) {
		t, ok := r.byAddress[common.HexToAddress(symbolOrAddress)]
		return t, ok
	}
	t, ok := r.bySymbol[strings.ToUpper(symbolOrAddress)]
	return t, ok
}

// PriceIDs returns the symbol to price id mapping of tokens that have one
func (r *Registry) PriceIDs() map[string]string {
	ids := make(map[string]string, len(r.bySymbol))
	for symbol, t := range r.bySymbol {
		if t.PriceID != "" {
			ids[symbol] = t.PriceID
		}
	}
	return ids
}

// Symbols returns the registered symbols
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	return out
}
