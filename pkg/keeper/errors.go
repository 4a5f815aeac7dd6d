package keeper

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorClass is how the executor treats a failed execution
type ErrorClass int

const (
	// ClassTransient failures are retried with backoff
	ClassTransient ErrorClass = iota
	// ClassConditionNotMet failures are ignored for this tick
	ClassConditionNotMet
	// ClassFatal failures end the job
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassConditionNotMet:
		return "condition_not_met"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ReasonAlreadyTerminal is the Classify reason for jobs that are no longer active on chain
const ReasonAlreadyTerminal = "already_terminal"

var (
	// ErrTransient marks failures worth retrying
	ErrTransient = errors.New("transient execution failure")
	// ErrConditionNotMet marks on-chain precondition failures
	ErrConditionNotMet = errors.New("execution condition not met")
	// ErrFatal marks failures that can never succeed
	ErrFatal = errors.New("fatal execution failure")
	// ErrAlreadyTerminal marks a job that is no longer active on chain.
	// It is also fatal.
	ErrAlreadyTerminal = errors.Mark(errors.New("job already terminal on chain"), ErrFatal)
)

// Transient wraps err as a transient failure
func Transient(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrTransient)
}

// Fatalf creates a fatal failure
func Fatalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrFatal)
}

// ConditionNotMetf creates a condition-not-met failure
func ConditionNotMetf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConditionNotMet)
}

// Classify returns the class of err and a short reason for metrics.
// Marked errors are trusted; anything else is classified from the RPC message.
func Classify(err error) (ErrorClass, string) {
	if err == nil {
		return ClassTransient, ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient, "timeout"
	}
	switch {
	case errors.Is(err, ErrAlreadyTerminal):
		return ClassFatal, ReasonAlreadyTerminal
	case errors.Is(err, ErrFatal):
		return ClassFatal, "fatal"
	case errors.Is(err, ErrConditionNotMet):
		return ClassConditionNotMet, "condition_not_met"
	case errors.Is(err, ErrTransient):
		return ClassTransient, "transient"
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	// Already executed on chain - nothing left to do
	if containsAny(lower, "already executed", "job not active", "job cancelled", "job expired") {
		return ClassFatal, ReasonAlreadyTerminal
	}

	// Network/RPC errors - retry is appropriate
	if containsAny(lower, "connection refused", "timeout", "context deadline exceeded", "timed out", "no response") ||
		strings.Contains(errStr, "EOF") {
		return ClassTransient, "network_error"
	}

	// RPC node state errors
	if containsAny(lower, "missing trie node", "layer stale", "getdeletestateobject", "state inconsistency", "receipt not found", "block not found") {
		return ClassTransient, "node_state_error"
	}

	// Gas-related errors - retry may help if gas prices change
	if containsAny(lower, "gas required exceeds allowance", "insufficient funds for gas", "gas price too low", "max fee per gas less than block base fee") {
		return ClassTransient, "gas_error"
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if containsAny(lower, "nonce too low", "nonce too high", "replacement transaction underpriced", "already known") {
		return ClassTransient, "nonce_error"
	}

	// Balance and allowance errors - permanent failures
	if containsAny(lower, "insufficient balance", "insufficient funds", "insufficient allowance", "exceeds allowance") {
		return ClassFatal, "insufficient_balance"
	}

	// Reverts caused by the market moving before inclusion
	if strings.Contains(lower, "execution reverted") &&
		containsAny(lower, "price", "slippage", "condition", "insufficient_output_amount") {
		return ClassConditionNotMet, "price_moved"
	}

	// Contract-related errors - permanent failures
	if containsAny(lower, "execution reverted", "invalid opcode", "out of gas", "invalid job") {
		return ClassFatal, "contract_error"
	}

	// Unknown errors - retry with caution
	return ClassTransient, "unknown_error"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
