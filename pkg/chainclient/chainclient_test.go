package chainclient

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-keeper/pkg/testutil"
)

func TestNewClient(t *testing.T) {
	sim := testutil.SetupSimulation(t)
	ctx := testutil.Context(t)
	keeperAddr := testutil.GenerateAddress().Hex()

	t.Run("read only", func(t *testing.T) {
		c, err := New(ctx, sim.Backend.Client(), Options{ChainID: 1337, KeeperAddress: keeperAddr})
		require.NoError(t, err)
		assert.False(t, c.CanSign())
		assert.Equal(t, DefaultGasMultiplier, c.GasMultiplier)
		assert.NotNil(t, c.Keeper)
	})

	t.Run("with signer", func(t *testing.T) {
		c, err := New(ctx, sim.Backend.Client(), Options{
			ChainID:       1337,
			KeeperAddress: keeperAddr,
			PrivateKey:    sim.PrivateKey,
		})
		require.NoError(t, err)
		assert.True(t, c.CanSign())
		assert.Equal(t, sim.Address, c.Sender())
	})

	t.Run("invalid keeper address", func(t *testing.T) {
		_, err := New(ctx, sim.Backend.Client(), Options{KeeperAddress: "0x123"})
		assert.Error(t, err)
	})

	t.Run("invalid private key", func(t *testing.T) {
		_, err := New(ctx, sim.Backend.Client(), Options{KeeperAddress: keeperAddr, PrivateKey: "not-a-key"})
		assert.ErrorContains(t, err, "private key")
	})

	t.Run("nil backend", func(t *testing.T) {
		_, err := New(ctx, nil, Options{KeeperAddress: keeperAddr})
		assert.ErrorIs(t, err, ErrNotConnected)
	})
}

func TestGasPrice(t *testing.T) {
	sim := testutil.SetupSimulation(t)
	ctx := testutil.Context(t)

	c, err := New(ctx, sim.Backend.Client(), Options{
		KeeperAddress: testutil.GenerateAddress().Hex(),
		GasMultiplier: 2,
	})
	require.NoError(t, err)
	assert.Nil(t, c.CurrentGasPrice())

	price, err := c.UpdateGasPrice(ctx)
	require.NoError(t, err)
	require.NotNil(t, price)

	suggested, err := sim.Backend.Client().SuggestGasPrice(ctx)
	require.NoError(t, err)
	testutil.AssertBigIntEqual(t, new(big.Int).Mul(suggested, big.NewInt(2)), price)
	testutil.AssertBigIntEqual(t, price, c.CurrentGasPrice())
}

func TestApplyMultiplier(t *testing.T) {
	testutil.AssertBigIntEqual(t, big.NewInt(110), applyMultiplier(big.NewInt(100), 1.1))
	testutil.AssertBigIntEqual(t, big.NewInt(100), applyMultiplier(big.NewInt(100), 1))
}

func TestIsGasPriceAcceptable(t *testing.T) {
	tests := []struct {
		name     string
		max      *big.Int
		price    *big.Int
		expected bool
	}{
		{"no cap", nil, big.NewInt(1000), true},
		{"zero cap", big.NewInt(0), big.NewInt(1000), true},
		{"below cap", big.NewInt(100), big.NewInt(99), true},
		{"at cap", big.NewInt(100), big.NewInt(100), true},
		{"above cap", big.NewInt(100), big.NewInt(101), false},
		{"unknown price", big.NewInt(100), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{MaxGasPrice: tt.max}
			assert.Equal(t, tt.expected, c.IsGasPriceAcceptable(tt.price))
		})
	}
}

func TestGetLatestBlockNumber(t *testing.T) {
	sim := testutil.SetupSimulation(t)
	ctx := testutil.Context(t)

	c, err := New(ctx, sim.Backend.Client(), Options{KeeperAddress: testutil.GenerateAddress().Hex()})
	require.NoError(t, err)

	before, err := c.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	sim.Backend.Commit()
	after, err := c.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	empty := &Client{}
	_, err = empty.GetLatestBlockNumber(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGasPriceRoutine(t *testing.T) {
	sim := testutil.SetupSimulation(t)
	ctx := testutil.Context(t)

	c, err := New(ctx, sim.Backend.Client(), Options{KeeperAddress: testutil.GenerateAddress().Hex()})
	require.NoError(t, err)

	updates := make(chan *big.Int, 1)
	r := NewGasPriceRoutine(c, 50*time.Millisecond, func(p *big.Int) {
		select {
		case updates <- p:
		default:
		}
	})
	r.Start(ctx)
	assert.True(t, r.IsRunning())

	select {
	case p := <-updates:
		assert.NotNil(t, p)
	case <-ctx.Done():
		t.Fatal("no gas price update")
	}

	r.Stop()
	assert.False(t, r.IsRunning())
	assert.NotNil(t, c.CurrentGasPrice())
	// stopping twice is a no-op
	r.Stop()
}
