package models

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// JobType identifies the strategy a job was derived from
type JobType string

const (
	JobTypeLimitOrder JobType = "limit_order"
	JobTypeDCA        JobType = "dca"
	JobTypeTWAP       JobType = "twap"
	JobTypeSwap       JobType = "swap"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeLimitOrder, JobTypeDCA, JobTypeTWAP, JobTypeSwap:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	StatusActive    JobStatus = "active"
	StatusExecuted  JobStatus = "executed"
	StatusCancelled JobStatus = "cancelled"
	StatusExpired   JobStatus = "expired"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal returns true for every status except active
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	return s == StatusActive || s.IsTerminal()
}

// CanTransition reports whether a job may move from s to next.
// Only active jobs move, and only into a terminal state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	return s == StatusActive && next.IsTerminal()
}

// Direction is the comparison used by a price condition
type Direction string

const (
	// DirectionGTE holds when the current price is at or above the target
	DirectionGTE Direction = "gte"
	// DirectionLTE holds when the current price is at or below the target
	DirectionLTE Direction = "lte"
)

// Valid reports whether d is gte or lte
func (d Direction) Valid() bool {
	return d == DirectionGTE || d == DirectionLTE
}

// ErrInvalidTransition is returned when a status change would leave a terminal state
var ErrInvalidTransition = errors.New("invalid job status transition")

// PriceCondition is a target price and the direction it must be crossed in
type PriceCondition struct {
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   Direction       `json:"direction"`
}

// IntervalParams drives the interval-triggered strategies (DCA and TWAP)
type IntervalParams struct {
	Interval  time.Duration `json:"interval"`
	Total     int           `json:"total"`
	Remaining int           `json:"remaining"`
}

// SwapParams holds the optional price guard for an instant swap
type SwapParams struct {
	Guard *PriceCondition `json:"guard,omitempty"`
}

// Params are the execution parameters of a job.
// Exactly one of the variant pointers is set, matching the job type.
type Params struct {
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	SlippageBps int             `json:"slippage_bps"`

	Limit *PriceCondition `json:"limit,omitempty"`
	DCA   *IntervalParams `json:"dca,omitempty"`
	TWAP  *IntervalParams `json:"twap,omitempty"`
	Swap  *SwapParams     `json:"swap,omitempty"`
}

// Job is the tracked unit of work derived from a strategy
type Job struct {
	ID            string     `json:"id"`
	Type          JobType    `json:"type"`
	Owner         string     `json:"owner"`
	Status        JobStatus  `json:"status"`
	Params        Params     `json:"params"`
	RetryCount    int        `json:"retry_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Interval returns the interval parameters of a DCA or TWAP job, nil otherwise
func (j *Job) Interval() *IntervalParams {
	switch j.Type {
	case JobTypeDCA:
		return j.Params.DCA
	case JobTypeTWAP:
		return j.Params.TWAP
	}
	return nil
}

// PriceGuard returns the price condition gating execution, if any
func (j *Job) PriceGuard() *PriceCondition {
	switch j.Type {
	case JobTypeLimitOrder:
		return j.Params.Limit
	case JobTypeSwap:
		if j.Params.Swap != nil {
			return j.Params.Swap.Guard
		}
	}
	return nil
}

// TickAmount is the amount spent by one execution of the job.
// TWAP jobs split their total evenly across tranches.
func (j *Job) TickAmount() decimal.Decimal {
	if j.Type == JobTypeTWAP && j.Params.TWAP != nil && j.Params.TWAP.Total > 0 {
		return j.Params.AmountIn.Div(decimal.NewFromInt(int64(j.Params.TWAP.Total)))
	}
	return j.Params.AmountIn
}

// IsExpired reports whether the job is past its expiry at now
func (j *Job) IsExpired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

// IntervalElapsed reports whether an interval-triggered job is due at now.
// A job that was never attempted is due immediately.
func (j *Job) IntervalElapsed(now time.Time) bool {
	p := j.Interval()
	if p == nil {
		return false
	}
	if j.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*j.LastAttemptAt) >= p.Interval
}

// Transition moves the job to next, rejecting any move out of a terminal state
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return errors.Wrapf(ErrInvalidTransition, "job %s: %s -> %s", j.ID, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// RecordAttempt stamps the attempt time used by the interval trigger
func (j *Job) RecordAttempt(now time.Time) {
	t := now
	j.LastAttemptAt = &t
	j.UpdatedAt = now
}

// CompleteTick accounts one successful execution. Single-shot jobs become
// executed; interval jobs decrement their remaining count and become
// executed when it reaches zero. It returns true when the job is finished.
func (j *Job) CompleteTick(now time.Time) (bool, error) {
	j.RecordAttempt(now)
	j.LastError = ""
	if p := j.Interval(); p != nil {
		if p.Remaining > 0 {
			p.Remaining--
		}
		if p.Remaining > 0 {
			return false, nil
		}
	}
	if err := j.Transition(StatusExecuted, now); err != nil {
		return false, err
	}
	return true, nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.LastAttemptAt != nil {
		t := *j.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if j.ExpiresAt != nil {
		t := *j.ExpiresAt
		c.ExpiresAt = &t
	}
	if j.Params.Limit != nil {
		l := *j.Params.Limit
		c.Params.Limit = &l
	}
	if j.Params.DCA != nil {
		d := *j.Params.DCA
		c.Params.DCA = &d
	}
	if j.Params.TWAP != nil {
		t := *j.Params.TWAP
		c.Params.TWAP = &t
	}
	if j.Params.Swap != nil {
		s := *j.Params.Swap
		if s.Guard != nil {
			g := *s.Guard
			s.Guard = &g
		}
		c.Params.Swap = &s
	}
	return &c
}
