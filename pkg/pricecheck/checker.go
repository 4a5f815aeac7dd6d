package pricecheck

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

// DefaultTimeout bounds a single price lookup
const DefaultTimeout = 5 * time.Second

// ErrUnavailable marks a price lookup that could not be answered
var ErrUnavailable = errors.New("price unavailable")

// Source returns the current exchange rate of tokenIn expressed in tokenOut
type Source interface {
	GetPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error)

// GetPrice calls f
func (f SourceFunc) GetPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	return f(ctx, tokenIn, tokenOut)
}

// Condition is a price trigger for a token pair. SlippageBps is carried for
// the executor and is not applied by the evaluation.
type Condition struct {
	TokenIn     string
	TokenOut    string
	Direction   models.Direction
	TargetPrice decimal.Decimal
	SlippageBps int
}

// ConditionFor returns the price condition gating job, if it has one
func ConditionFor(job *models.Job) (Condition, bool) {
	guard := job.PriceGuard()
	if guard == nil {
		return Condition{}, false
	}
	return Condition{
		TokenIn:     job.Params.TokenIn,
		TokenOut:    job.Params.TokenOut,
		Direction:   guard.Direction,
		TargetPrice: guard.TargetPrice,
		SlippageBps: job.Params.SlippageBps,
	}, true
}

// Result is the outcome of a price check. When Unavailable is set, Met is
// false and Err holds the source failure.
type Result struct {
	Met          bool
	Unavailable  bool
	CurrentPrice decimal.Decimal
	ReachedAt    *time.Time
	Err          error
}

// Evaluate reports whether current satisfies target in direction
func Evaluate(direction models.Direction, current, target decimal.Decimal) bool {
	switch direction {
	case models.DirectionGTE:
		return current.GreaterThanOrEqual(target)
	case models.DirectionLTE:
		return current.LessThanOrEqual(target)
	}
	return false
}

// Checker evaluates price conditions against a Source
type Checker struct {
	source  Source
	timeout time.Duration
	logger  logger.Logger
	timeNow func() time.Time
}

// NewChecker creates a checker that bounds every lookup by timeout
func NewChecker(source Source, timeout time.Duration, log logger.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		source:  source,
		timeout: timeout,
		logger:  logger.Safe(log),
		timeNow: time.Now,
	}
}

// WithClock overrides the clock used for ReachedAt
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.timeNow = now
	return c
}

// Check fetches the current price and evaluates cond against it
func (c *Checker) Check(ctx context.Context, cond Condition) Result {
	if !cond.Direction.Valid() {
		return Result{Unavailable: true, Err: errors.Newf("invalid direction %q", cond.Direction)}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	price, err := c.source.GetPrice(lookupCtx, cond.TokenIn, cond.TokenOut)
	if err == nil && !price.IsPositive() {
		err = errors.Newf("non-positive price %s", price)
	}
	if err != nil {
		err = errors.Mark(errors.Wrapf(err, "price lookup %s/%s", cond.TokenIn, cond.TokenOut), ErrUnavailable)
		c.logger.Warn("Price unavailable for %s/%s: %v", cond.TokenIn, cond.TokenOut, err)
		return Result{Unavailable: true, Err: err}
	}

	res := Result{CurrentPrice: price}
	if Evaluate(cond.Direction, price, cond.TargetPrice) {
		now := c.timeNow()
		res.Met = true
		res.ReachedAt = &now
	}
	c.logger.Debug("Price %s/%s = %s, target %s %s, met=%v",
		cond.TokenIn, cond.TokenOut, price, cond.Direction, cond.TargetPrice, res.Met)
	return res
}
