package pricecheck

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CachedSource wraps a Source and remembers prices for a TTL to avoid
// duplicate API calls within a tick
type CachedSource struct {
	source   Source
	mu       sync.RWMutex
	cache    map[string]*cachedPrice
	cacheTTL time.Duration
	timeNow  func() time.Time
}

// cachedPrice represents a cached pair price with timestamp
type cachedPrice struct {
	price     decimal.Decimal
	timestamp time.Time
}

// NewCachedSource creates a cache in front of source
func NewCachedSource(source Source, cacheTTL time.Duration) *CachedSource {
	return &CachedSource{
		source:   source,
		cache:    make(map[string]*cachedPrice),
		cacheTTL: cacheTTL,
		timeNow:  time.Now,
	}
}

func pairKey(tokenIn, tokenOut string) string {
	return strings.ToUpper(tokenIn) + "/" + strings.ToUpper(tokenOut)
}

// GetPrice returns the cached price if still valid, otherwise asks the wrapped source
func (c *CachedSource) GetPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	key := pairKey(tokenIn, tokenOut)
	if price, ok := c.Get(key); ok {
		return price, nil
	}

	price, err := c.source.GetPrice(ctx, tokenIn, tokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	c.Set(key, price)
	return price, nil
}

// Get retrieves a cached price if it's still valid
func (c *CachedSource) Get(key string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[key]
	if !exists {
		return decimal.Zero, false
	}

	// Check if cache is still valid
	if c.timeNow().Sub(cached.timestamp) > c.cacheTTL {
		return decimal.Zero, false
	}

	return cached.price, true
}

// Set stores a price in the cache with current timestamp
func (c *CachedSource) Set(key string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cachedPrice{
		price:     price,
		timestamp: c.timeNow(),
	}
}

// Purge drops expired entries and returns how many were removed
func (c *CachedSource) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.timeNow()
	removed := 0
	for key, cached := range c.cache {
		if now.Sub(cached.timestamp) > c.cacheTTL {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

// Clear removes all cached entries
func (c *CachedSource) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cachedPrice)
}

// Stats returns the number of entries and the TTL
func (c *CachedSource) Stats() (int, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache), c.cacheTTL
}
