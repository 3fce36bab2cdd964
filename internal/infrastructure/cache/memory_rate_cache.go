package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/feedbridge/backend/internal/infrastructure/rates"
)

// MemoryRateCache keeps the last-good rate in process memory. It survives
// runs but not restarts, which is acceptable for single-binary setups.
type MemoryRateCache struct {
	mu       sync.Mutex
	rate     decimal.Decimal
	storedAt time.Time
	ttl      time.Duration
}

// NewMemoryRateCache builds a memory cache; a non-positive ttl means
// entries never expire.
func NewMemoryRateCache(ttl time.Duration) *MemoryRateCache {
	return &MemoryRateCache{ttl: ttl}
}

func (c *MemoryRateCache) LastGood(context.Context) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storedAt.IsZero() {
		return decimal.Zero, false
	}
	if c.ttl > 0 && time.Since(c.storedAt) > c.ttl {
		return decimal.Zero, false
	}
	return c.rate, true
}

func (c *MemoryRateCache) StoreLastGood(_ context.Context, rate decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.storedAt = time.Now()
	return nil
}

var _ rates.Cache = (*MemoryRateCache)(nil)
