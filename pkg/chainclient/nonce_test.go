package chainclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-keeper/pkg/testutil"
)

type fakeNonceReader struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonceReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func newTestNonceManager(now *time.Time) *NonceManager {
	nm := NewNonceManager(nil)
	nm.timeNow = func() time.Time { return *now }
	return nm
}

func TestNonceAllocation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nm := newTestNonceManager(&now)
	reader := &fakeNonceReader{nonce: 7}
	addr := testutil.GenerateAddress()
	ctx := context.Background()

	n, err := nm.Allocate(ctx, reader, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	n, err = nm.Allocate(ctx, reader, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n)
	assert.Equal(t, 1, reader.calls, "chain is only queried on first use")

	// a stale sync triggers another lookup, which never moves the counter back
	now = now.Add(resyncInterval + time.Second)
	n, err = nm.Allocate(ctx, reader, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
	assert.Equal(t, 2, reader.calls)

	// signers are independent
	other, err := nm.Allocate(ctx, &fakeNonceReader{nonce: 0}, testutil.GenerateAddress())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), other)
}

func TestNonceAllocationError(t *testing.T) {
	now := time.Now()
	nm := newTestNonceManager(&now)
	_, err := nm.Allocate(context.Background(), &fakeNonceReader{err: errors.New("rpc down")}, testutil.GenerateAddress())
	assert.ErrorContains(t, err, "rpc down")
}

func TestNonceRelease(t *testing.T) {
	now := time.Now()
	nm := newTestNonceManager(&now)
	reader := &fakeNonceReader{nonce: 3}
	addr := testutil.GenerateAddress()
	ctx := context.Background()

	n, _ := nm.Allocate(ctx, reader, addr)
	assert.True(t, nm.Release(addr, n))
	again, _ := nm.Allocate(ctx, reader, addr)
	assert.Equal(t, n, again)

	// a lower nonce cannot be reused once a higher one is out
	next, _ := nm.Allocate(ctx, reader, addr)
	assert.False(t, nm.Release(addr, again))
	last, _ := nm.Allocate(ctx, reader, addr)
	assert.Equal(t, next+1, last)
}

func TestNonceTracking(t *testing.T) {
	now := time.Now()
	nm := newTestNonceManager(&now)
	nm.SetTransactionTimeout(time.Minute)
	addr := testutil.GenerateAddress()

	nm.Track(addr, 1, common.HexToHash("0x01"), "job-1")
	nm.Track(addr, 2, common.HexToHash("0x02"), "job-2")
	assert.Equal(t, 2, nm.PendingCount(addr))

	assert.True(t, nm.Confirm(addr, 1))
	assert.False(t, nm.Confirm(addr, 1))
	assert.Equal(t, 1, nm.PendingCount(addr))

	assert.Empty(t, nm.FindTimedOut(addr))
	now = now.Add(2 * time.Minute)
	timedOut := nm.FindTimedOut(addr)
	require.Len(t, timedOut, 1)
	assert.Equal(t, "job-2", timedOut[0].JobID)
	assert.Equal(t, TxTimedOut, timedOut[0].Status)
	// already marked
	assert.Empty(t, nm.FindTimedOut(addr))

	tx, ok := nm.PendingForJob(addr, "job-2")
	require.True(t, ok)
	assert.Equal(t, uint64(2), tx.Nonce)
	assert.Equal(t, TxTimedOut, tx.Status)
	_, ok = nm.PendingForJob(addr, "job-1")
	assert.False(t, ok, "confirmed transactions are no longer pending")
}

func TestNonceSync(t *testing.T) {
	now := time.Now()
	nm := newTestNonceManager(&now)
	addr := testutil.GenerateAddress()
	ctx := context.Background()

	nm.Track(addr, 0, common.HexToHash("0x01"), "job-1")
	nm.Track(addr, 5, common.HexToHash("0x05"), "job-5")

	require.NoError(t, nm.SyncWithBlockchain(ctx, &fakeNonceReader{nonce: 4}, addr))
	assert.Equal(t, 1, nm.PendingCount(addr))

	n, err := nm.Allocate(ctx, &fakeNonceReader{nonce: 0}, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestNonceSyncSimulated(t *testing.T) {
	sim := testutil.SetupSimulation(t)
	ctx := testutil.Context(t)

	c, err := New(ctx, sim.Backend.Client(), Options{
		KeeperAddress: testutil.GenerateAddress().Hex(),
		PrivateKey:    sim.PrivateKey,
	})
	require.NoError(t, err)
	require.NoError(t, c.SyncNonce(ctx))

	n, err := c.Nonces.Allocate(ctx, c.Backend, c.Sender())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}
