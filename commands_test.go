package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const limitOrderDoc = `{
	"type": "limit_order",
	"token_in": "WETH",
	"token_out": "USDC",
	"amount_in": "1.5",
	"target_price": "3000",
	"direction": "gte",
	"slippage_bps": 50
}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitListCancel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_DSN", filepath.Join(dir, "keeper.db"))

	doc := filepath.Join(dir, "order.json")
	require.NoError(t, os.WriteFile(doc, []byte(limitOrderDoc), 0o600))

	out, err := execute(t, "", "submit", doc, "--owner", "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(id, "0x"))
	assert.Len(t, id, 66)

	out, err = execute(t, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "limit_order")
	assert.Contains(t, out, "WETH/USDC")

	out, err = execute(t, "", "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled "+id)

	out, err = execute(t, "", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, id)

	_, err = execute(t, "", "cancel", id)
	assert.ErrorContains(t, err, "already cancelled")
}

func TestSubmitFromStdin(t *testing.T) {
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "keeper.db"))

	doc := `{"type": "dca", "token_in": "USDC", "token_out": "WETH", "amount_per_tick": "100",
		"interval_hours": 24, "total_swaps": 3}`
	out, err := execute(t, doc, "submit", "-", "--owner", "0x00000000000000000000000000000000000000aa", "--expires-in", "72h")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "keeper.db"))

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"missing owner", limitOrderDoc, []string{"submit", "-"}},
		{"bad owner", limitOrderDoc, []string{"submit", "-", "--owner", "bob"}},
		{"unknown type", `{"type": "stop_loss"}`, []string{"submit", "-", "--owner", "0x00000000000000000000000000000000000000aa"}},
		{"not json", "limit order please", []string{"submit", "-", "--owner", "0x00000000000000000000000000000000000000aa"}},
		{"missing file", "", []string{"submit", "/nonexistent/order.json", "--owner", "0x00000000000000000000000000000000000000aa"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.stdin, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "keeper.db"))

	_, err := execute(t, "", "cancel", "0x"+strings.Repeat("0", 64))
	assert.ErrorContains(t, err, "not found")
}
