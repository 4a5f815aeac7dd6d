package keeper

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

// ExecutionRequest is one on-chain execution of a job
type ExecutionRequest struct {
	JobID       string
	Owner       string
	TokenIn     string
	TokenOut    string
	AmountIn    decimal.Decimal
	SlippageBps int
	// ExpectedPrice is the tokenOut per tokenIn rate observed when the
	// execution was triggered, if one was observed
	ExpectedPrice *decimal.Decimal
}

// RequestFor builds the request for the next execution of job
func RequestFor(job *models.Job, expectedPrice *decimal.Decimal) ExecutionRequest {
	return ExecutionRequest{
		JobID:         job.ID,
		Owner:         job.Owner,
		TokenIn:       job.Params.TokenIn,
		TokenOut:      job.Params.TokenOut,
		AmountIn:      job.TickAmount(),
		SlippageBps:   job.Params.SlippageBps,
		ExpectedPrice: expectedPrice,
	}
}

// MinAmountOut is the smallest acceptable output for the request, or zero
// when no expected price is known
func (r ExecutionRequest) MinAmountOut() decimal.Decimal {
	if r.ExpectedPrice == nil || !r.ExpectedPrice.IsPositive() {
		return decimal.Zero
	}
	keep := decimal.NewFromInt(int64(10000 - r.SlippageBps)).Div(decimal.NewFromInt(10000))
	return r.AmountIn.Mul(*r.ExpectedPrice).Mul(keep)
}

// Receipt is the result of a successful execution
type Receipt struct {
	TxHash    string
	AmountOut *decimal.Decimal
}

// Client submits job executions on chain
type Client interface {
	ExecuteLimitOrder(ctx context.Context, req ExecutionRequest) (Receipt, error)
	ExecuteDCATick(ctx context.Context, req ExecutionRequest) (Receipt, error)
	// GetOnChainStatus returns active, executed, cancelled or expired
	GetOnChainStatus(ctx context.Context, jobID string) (models.JobStatus, error)
}
