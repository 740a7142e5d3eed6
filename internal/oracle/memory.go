package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryCache keeps the latest price per market in process memory.
// Older readings never overwrite newer ones.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[common.Hash]Price
	now    func() time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		prices: make(map[common.Hash]Price),
		now:    now,
	}
}

func (c *MemoryCache) Update(_ context.Context, market common.Hash, p Price) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.prices[market]; ok && !p.ObservedAt.After(cur.ObservedAt) {
		return nil
	}
	c.prices[market] = p
	return nil
}

func (c *MemoryCache) GetPriceWithFreshness(ctx context.Context, market common.Hash, maxAge time.Duration) (Price, error) {
	if err := ctx.Err(); err != nil {
		return Price{}, err
	}

	c.mu.RLock()
	p, ok := c.prices[market]
	c.mu.RUnlock()

	if !ok {
		return Price{}, ErrPriceUnavailable
	}
	if err := checkFresh(p, c.now(), maxAge); err != nil {
		return Price{}, err
	}
	return p, nil
}

var _ PriceCache = (*MemoryCache)(nil)
