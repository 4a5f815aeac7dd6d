package pricecheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3000},"usd-coin":{"usd":1.0}}`))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, map[string]string{"weth": "ethereum", "USDC": "usd-coin"}, 0)

	price, err := src.GetPrice(context.Background(), "WETH", "USDC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(3000)))

	inverse, err := src.GetPrice(context.Background(), "USDC", "WETH")
	require.NoError(t, err)
	assert.True(t, inverse.Mul(decimal.NewFromInt(3000)).Round(8).Equal(decimal.NewFromInt(1)))
}

func TestHTTPSourceErrors(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		src := NewHTTPSource("http://127.0.0.1:0", map[string]string{"WETH": "ethereum"}, 0)
		_, err := src.GetPrice(context.Background(), "WETH", "DOGE")
		assert.Error(t, err)
	})

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, map[string]string{"WETH": "ethereum", "USDC": "usd-coin"}, 0)
		_, err := src.GetPrice(context.Background(), "WETH", "USDC")
		assert.ErrorContains(t, err, "429")
	})

	t.Run("missing quote", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ethereum":{"usd":3000}}`))
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, map[string]string{"WETH": "ethereum", "USDC": "usd-coin"}, 0)
		_, err := src.GetPrice(context.Background(), "WETH", "USDC")
		assert.ErrorContains(t, err, "usd-coin")
	})

	t.Run("cancelled context", func(t *testing.T) {
		src := NewHTTPSource("http://127.0.0.1:0", map[string]string{"WETH": "ethereum", "USDC": "usd-coin"}, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.GetPrice(ctx, "WETH", "USDC")
		assert.Error(t, err)
	})
}
