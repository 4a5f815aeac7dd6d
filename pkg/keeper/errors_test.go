package keeper

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		class  ErrorClass
		reason string
	}{
		{"deadline", errors.Wrap(context.DeadlineExceeded, "waiting"), ClassTransient, "timeout"},
		{"cancelled", context.Canceled, ClassTransient, "timeout"},
		{"marked transient", Transient(errors.New("boom"), "rpc"), ClassTransient, "transient"},
		{"marked fatal", Fatalf("insufficient allowance"), ClassFatal, "fatal"},
		{"marked condition", ConditionNotMetf("reverted"), ClassConditionNotMet, "condition_not_met"},
		{"already terminal", errors.Wrap(ErrAlreadyTerminal, "submit"), ClassFatal, ReasonAlreadyTerminal},
		{"already executed revert", errors.New("execution reverted: Job already executed"), ClassFatal, ReasonAlreadyTerminal},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassTransient, "network_error"},
		{"eof", errors.New("unexpected EOF"), ClassTransient, "network_error"},
		{"node state", errors.New("missing trie node abc"), ClassTransient, "node_state_error"},
		{"gas for funds", errors.New("insufficient funds for gas * price + value"), ClassTransient, "gas_error"},
		{"gas allowance", errors.New("gas required exceeds allowance (30000000)"), ClassTransient, "gas_error"},
		{"nonce", errors.New("nonce too low"), ClassTransient, "nonce_error"},
		{"underpriced", errors.New("replacement transaction underpriced"), ClassTransient, "nonce_error"},
		{"balance", errors.New("insufficient balance for transfer"), ClassFatal, "insufficient_balance"},
		{"slippage revert", errors.New("execution reverted: UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT"), ClassConditionNotMet, "price_moved"},
		{"price revert", errors.New("execution reverted: price condition not met"), ClassConditionNotMet, "price_moved"},
		{"plain revert", errors.New("execution reverted"), ClassFatal, "contract_error"},
		{"invalid opcode", errors.New("invalid opcode: INVALID"), ClassFatal, "contract_error"},
		{"unknown", errors.New("something odd"), ClassTransient, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, reason := Classify(tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "condition_not_met", ClassConditionNotMet.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestAlreadyTerminalIsFatal(t *testing.T) {
	assert.True(t, errors.Is(ErrAlreadyTerminal, ErrFatal))
}
