package keeper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

func TestRequestFor(t *testing.T) {
	job := &models.Job{
		ID:    "0xabc",
		Type:  models.JobTypeTWAP,
		Owner: "0x00000000000000000000000000000000000000aa",
		Params: models.Params{
			TokenIn:     "USDC",
			TokenOut:    "WETH",
			AmountIn:    decimal.NewFromInt(300),
			SlippageBps: 50,
			TWAP:        &models.IntervalParams{Interval: time.Minute, Total: 3, Remaining: 3},
		},
	}

	req := RequestFor(job, nil)
	assert.Equal(t, "0xabc", req.JobID)
	assert.Equal(t, "USDC", req.TokenIn)
	assert.True(t, req.AmountIn.Equal(decimal.NewFromInt(100)), "one tranche")
	assert.Equal(t, 50, req.SlippageBps)
	assert.Nil(t, req.ExpectedPrice)
}

func TestMinAmountOut(t *testing.T) {
	price := decimal.NewFromInt(2)
	zero := decimal.Zero

	tests := []struct {
		name     string
		price    *decimal.Decimal
		slippage int
		expected string
	}{
		{"no price", nil, 100, "0"},
		{"zero price", &zero, 100, "0"},
		{"one percent", &price, 100, "198"},
		{"no slippage", &price, 0, "200"},
		{"half", &price, 5000, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ExecutionRequest{AmountIn: decimal.NewFromInt(100), SlippageBps: tt.slippage, ExpectedPrice: tt.price}
			assert.True(t, req.MinAmountOut().Equal(decimal.RequireFromString(tt.expected)), req.MinAmountOut().String())
		})
	}
}
