package pipeline

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/estensen/wallet-valuation/internal/price"
)

const cachedPricesKey = "prices"

type cachedPrices struct {
	table    *price.Table
	warnings []string
}

// CachedPrices keeps the table of a source that does not depend on the
// requested denominations, such as a ClickHouse price table, for ttl.
type CachedPrices struct {
	source PriceSource
	cache  *cache.Cache
}

func NewCachedPrices(source PriceSource, ttl time.Duration) *CachedPrices {
	return &CachedPrices{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (c *CachedPrices) Prices(ctx context.Context, denominations []string) (*price.Table, []string, error) {
	if cached, found := c.cache.Get(cachedPricesKey); found {
		entry := cached.(cachedPrices)
		return entry.table, entry.warnings, nil
	}

	table, warnings, err := c.source.Prices(ctx, denominations)
	if err != nil {
		return nil, nil, err
	}
	c.cache.SetDefault(cachedPricesKey, cachedPrices{table: table, warnings: warnings})
	return table, warnings, nil
}

// Invalidate drops the cached table.
func (c *CachedPrices) Invalidate() {
	c.cache.Delete(cachedPricesKey)
}
