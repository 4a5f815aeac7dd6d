package chains

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUnitConversion(t *testing.T) {
	// Helper function for creating big.Int from string
	setString := func(s string) *big.Int {
		bigInt, ok := new(big.Int).SetString(s, 10)
		if !ok {
			t.Fatalf("Failed to set string %s to big.Int", s)
		}
		return bigInt
	}

	tests := []struct {
		name     string
		decimals int32
		human    string
		base     *big.Int
	}{
		{"USDC 1 token", 6, "1", big.NewInt(1000000)},
		{"USDC half token", 6, "0.5", big.NewInt(500000)},
		{"USDC 100 tokens", 6, "100", big.NewInt(100000000)},
		{"BSC USDC 1 token", 18, "1", setString("1000000000000000000")},
		{"WETH fraction", 18, "0.000000000000000001", big.NewInt(1)},
		{"zero", 6, "0", big.NewInt(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := Token{Symbol: "T", Decimals: tt.decimals}
			human := decimal.RequireFromString(tt.human)

			assert.Equal(t, 0, tt.base.Cmp(token.ToBaseUnits(human)))
			assert.True(t, human.Equal(token.FromBaseUnits(tt.base)))
		})
	}

	t.Run("truncates sub-unit precision", func(t *testing.T) {
		token := Token{Decimals: 6}
		assert.Equal(t, int64(1), token.ToBaseUnits(decimal.RequireFromString("0.0000019")).Int64())
	})

	t.Run("nil base amount", func(t *testing.T) {
		assert.True(t, Token{Decimals: 6}.FromBaseUnits(nil).IsZero())
	})
}

func TestDefaultTokens(t *testing.T) {
	eth := DefaultTokens(1)
	require.Len(t, eth, 3)
	for _, tok := range eth {
		if tok.Symbol == "USDC" {
			assert.Equal(t, int32(6), tok.Decimals)
		}
	}

	for _, tok := range DefaultTokens(56) {
		if tok.Symbol != "WETH" {
			assert.Equal(t, int32(18), tok.Decimals, tok.Symbol)
		}
	}

	assert.Empty(t, DefaultTokens(31337))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultTokens(1)...)

	usdc, ok := r.Lookup("usdc")
	require.True(t, ok)
	assert.Equal(t, "USDC", usdc.Symbol)

	byAddr, ok := r.Lookup("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.True(t, ok)
	assert.Equal(t, "USDC", byAddr.Symbol)

	_, ok = r.Lookup("DOGE")
	assert.False(t, ok)

	// overriding a symbol drops the old address
	custom := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	r.Add(Token{Symbol: "usdc", Address: custom, Decimals: 6})
	_, ok = r.Lookup(usdc.Address.Hex())
	assert.False(t, ok)
	got, ok := r.Lookup(custom.Hex())
	require.True(t, ok)
	assert.Equal(t, "USDC", got.Symbol)

	ids := r.PriceIDs()
	assert.Equal(t, "weth", ids["WETH"])
	_, hasUSDC := ids["USDC"]
	assert.False(t, hasUSDC)
	assert.Len(t, r.Symbols(), 3)
}

func TestGetChainName(t *testing.T) {
	assert.Equal(t, "ETHEREUM", GetChainName(1))
	assert.Equal(t, "", GetChainName(999))
	assert.True(t, IsSupported(31337))
}
