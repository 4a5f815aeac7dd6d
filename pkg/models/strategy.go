package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// MaxSlippageBps caps the slippage tolerance a strategy may request
const MaxSlippageBps = 5000

// ErrInvalidStrategy marks strategy validation failures
var ErrInvalidStrategy = errors.New("invalid strategy")

// Strategy is a user's declarative trading intent. The set of
// implementations is closed: LimitOrderStrategy, DCAStrategy,
// TWAPStrategy and SwapStrategy.
type Strategy interface {
	Type() JobType
	Validate() error
	params() Params
}

// LimitOrderStrategy swaps once when the price crosses a target
type LimitOrderStrategy struct {
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   Direction       `json:"direction"`
	SlippageBps int             `json:"slippage_bps"`
}

// DCAStrategy swaps a fixed amount every interval for a number of ticks
type DCAStrategy struct {
	TokenIn       string          `json:"token_in"`
	TokenOut      string          `json:"token_out"`
	AmountPerTick decimal.Decimal `json:"amount_per_tick"`
	IntervalHours float64         `json:"interval_hours"`
	TotalSwaps    int             `json:"total_swaps"`
	SlippageBps   int             `json:"slippage_bps"`
}

// TWAPStrategy splits a total amount into evenly spaced tranches
type TWAPStrategy struct {
	TokenIn         string          `json:"token_in"`
	TokenOut        string          `json:"token_out"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Tranches        int             `json:"tranches"`
	IntervalMinutes float64         `json:"interval_minutes"`
	SlippageBps     int             `json:"slippage_bps"`
}

// SwapStrategy swaps immediately, optionally behind a price guard
type SwapStrategy struct {
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	SlippageBps int             `json:"slippage_bps"`
	Guard       *PriceCondition `json:"guard,omitempty"`
}

func (s LimitOrderStrategy) Type() JobType { return JobTypeLimitOrder }
func (s DCAStrategy) Type() JobType        { return JobTypeDCA }
func (s TWAPStrategy) Type() JobType       { return JobTypeTWAP }
func (s SwapStrategy) Type() JobType       { return JobTypeSwap }

func validatePair(tokenIn, tokenOut string, amount decimal.Decimal, slippageBps int) error {
	if tokenIn == "" || tokenOut == "" {
		return errors.Wrap(ErrInvalidStrategy, "token_in and token_out are required")
	}
	if strings.EqualFold(tokenIn, tokenOut) {
		return errors.Wrapf(ErrInvalidStrategy, "token_in and token_out must differ (%s)", tokenIn)
	}
	if !amount.IsPositive() {
		return errors.Wrapf(ErrInvalidStrategy, "amount must be positive, got %s", amount)
	}
	if slippageBps < 0 || slippageBps > MaxSlippageBps {
		return errors.Wrapf(ErrInvalidStrategy, "slippage_bps must be within [0, %d], got %d", MaxSlippageBps, slippageBps)
	}
	return nil
}

func validateCondition(c *PriceCondition) error {
	if !c.Direction.Valid() {
		return errors.Wrapf(ErrInvalidStrategy, "direction must be gte or lte, got %q", c.Direction)
	}
	if !c.TargetPrice.IsPositive() {
		return errors.Wrapf(ErrInvalidStrategy, "target_price must be positive, got %s", c.TargetPrice)
	}
	return nil
}

// Validate checks the limit order parameters
func (s LimitOrderStrategy) Validate() error {
	if err := validatePair(s.TokenIn, s.TokenOut, s.AmountIn, s.SlippageBps); err != nil {
		return err
	}
	return validateCondition(&PriceCondition{TargetPrice: s.TargetPrice, Direction: s.Direction})
}

// Validate checks the DCA parameters
func (s DCAStrategy) Validate() error {
	if err := validatePair(s.TokenIn, s.TokenOut, s.AmountPerTick, s.SlippageBps); err != nil {
		return err
	}
	if s.IntervalHours <= 0 {
		return errors.Wrapf(ErrInvalidStrategy, "interval_hours must be positive, got %v", s.IntervalHours)
	}
	if s.TotalSwaps <= 0 {
		return errors.Wrapf(ErrInvalidStrategy, "total_swaps must be positive, got %d", s.TotalSwaps)
	}
	return nil
}

// Validate checks the TWAP parameters
func (s TWAPStrategy) Validate() error {
	if err := validatePair(s.TokenIn, s.TokenOut, s.TotalAmount, s.SlippageBps); err != nil {
		return err
	}
	if s.IntervalMinutes <= 0 {
		return errors.Wrapf(ErrInvalidStrategy, "interval_minutes must be positive, got %v", s.IntervalMinutes)
	}
	if s.Tranches <= 0 {
		return errors.Wrapf(ErrInvalidStrategy, "tranches must be positive, got %d", s.Tranches)
	}
	return nil
}

// Validate checks the swap parameters and its guard, if present
func (s SwapStrategy) Validate() error {
	if err := validatePair(s.TokenIn, s.TokenOut, s.AmountIn, s.SlippageBps); err != nil {
		return err
	}
	if s.Guard != nil {
		return validateCondition(s.Guard)
	}
	return nil
}

func (s LimitOrderStrategy) params() Params {
	return Params{
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		AmountIn:    s.AmountIn,
		SlippageBps: s.SlippageBps,
		Limit:       &PriceCondition{TargetPrice: s.TargetPrice, Direction: s.Direction},
	}
}

func (s DCAStrategy) params() Params {
	return Params{
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		AmountIn:    s.AmountPerTick,
		SlippageBps: s.SlippageBps,
		DCA: &IntervalParams{
			Interval:  time.Duration(s.IntervalHours * float64(time.Hour)),
			Total:     s.TotalSwaps,
			Remaining: s.TotalSwaps,
		},
	}
}

func (s TWAPStrategy) params() Params {
	return Params{
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		AmountIn:    s.TotalAmount,
		SlippageBps: s.SlippageBps,
		TWAP: &IntervalParams{
			Interval:  time.Duration(s.IntervalMinutes * float64(time.Minute)),
			Total:     s.Tranches,
			Remaining: s.Tranches,
		},
	}
}

func (s SwapStrategy) params() Params {
	p := Params{
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		AmountIn:    s.AmountIn,
		SlippageBps: s.SlippageBps,
		Swap:        &SwapParams{},
	}
	if s.Guard != nil {
		g := *s.Guard
		p.Swap.Guard = &g
	}
	return p
}

// NewJob derives an active job from a validated strategy. The id is the
// keccak256 hash of the canonical job content, so identical submissions at
// the same instant collide instead of duplicating.
func NewJob(s Strategy, owner string, now time.Time, expiresAt *time.Time) (*Job, error) {
	if s == nil {
		return nil, errors.Wrap(ErrInvalidStrategy, "strategy is nil")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(owner) {
		return nil, errors.Wrapf(ErrInvalidStrategy, "owner %q is not a valid address", owner)
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, errors.Wrap(ErrInvalidStrategy, "expires_at must be in the future")
	}

	job := &Job{
		Type:      s.Type(),
		Owner:     common.HexToAddress(owner).Hex(),
		Status:    StatusActive,
		Params:    s.params(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		job.ExpiresAt = &t
	}

	id, err := contentID(job)
	if err != nil {
		return nil, err
	}
	job.ID = id
	return job, nil
}

func contentID(j *Job) (string, error) {
	payload, err := json.Marshal(struct {
		Type      JobType `json:"type"`
		Owner     string  `json:"owner"`
		Params    Params  `json:"params"`
		CreatedAt int64   `json:"created_at"`
	}{j.Type, j.Owner, j.Params, j.CreatedAt.UnixNano()})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode job content")
	}
	return crypto.Keccak256Hash(payload).Hex(), nil
}

// ParseStrategy decodes a strategy document of the form
// {"type": "<job type>", ...strategy fields}.
func ParseStrategy(data []byte) (Strategy, error) {
	var envelope struct {
		Type JobType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode strategy")
	}

	var s Strategy
	switch envelope.Type {
	case JobTypeLimitOrder:
		var v LimitOrderStrategy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode limit order")
		}
		s = v
	case JobTypeDCA:
		var v DCAStrategy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode dca")
		}
		s = v
	case JobTypeTWAP:
		var v TWAPStrategy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode twap")
		}
		s = v
	case JobTypeSwap:
		var v SwapStrategy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode swap")
		}
		s = v
	default:
		return nil, errors.Wrapf(ErrInvalidStrategy, "unknown strategy type %q", envelope.Type)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
