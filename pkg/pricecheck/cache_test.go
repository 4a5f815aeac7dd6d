package pricecheck

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedSource(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(context.Context, string, string) (decimal.Decimal, error) {
		calls.Add(1)
		return decimal.NewFromInt(3000), nil
	})

	now := t0
	cache := NewCachedSource(src, time.Minute)
	cache.timeNow = func() time.Time { return now }

	t.Run("hit within ttl", func(t *testing.T) {
		p, err := cache.GetPrice(context.Background(), "weth", "usdc")
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(3000)))

		_, err = cache.GetPrice(context.Background(), "WETH", "USDC")
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("miss after ttl", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := cache.GetPrice(context.Background(), "WETH", "USDC")
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("purge and clear", func(t *testing.T) {
		cache.Set("A/B", decimal.NewFromInt(1))
		now = now.Add(2 * time.Minute)
		assert.Equal(t, 2, cache.Purge())

		cache.Set("A/B", decimal.NewFromInt(1))
		n, ttl := cache.Stats()
		assert.Equal(t, 1, n)
		assert.Equal(t, time.Minute, ttl)

		cache.Clear()
		_, found := cache.Get("A/B")
		assert.False(t, found)
	})
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	fail := true
	src := SourceFunc(func(context.Context, string, string) (decimal.Decimal, error) {
		if fail {
			return decimal.Zero, errors.New("boom")
		}
		return decimal.NewFromInt(1), nil
	})
	cache := NewCachedSource(src, time.Minute)

	_, err := cache.GetPrice(context.Background(), "A", "B")
	assert.Error(t, err)

	fail = false
	p, err := cache.GetPrice(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)))
}
