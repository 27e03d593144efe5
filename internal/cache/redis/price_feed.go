package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// PriceFeed adapts a domain.PriceCache entry into the market's oracle.
type PriceFeed struct {
	cache   domain.PriceCache
	assetID string
	maxAge  time.Duration
	now     func() time.Time
}

// NewPriceFeed reads assetID from cache. A positive maxAge rejects readings
// older than that with domain.ErrStalePrice.
func NewPriceFeed(cache domain.PriceCache, assetID string, maxAge time.Duration) *PriceFeed {
	return &PriceFeed{cache: cache, assetID: assetID, maxAge: maxAge, now: time.Now}
}

// CurrentPrice implements domain.PriceFeed.
func (f *PriceFeed) CurrentPrice(ctx context.Context) (int64, error) {
	price, ts, err := f.cache.GetPrice(ctx, f.assetID)
	if err != nil {
		return 0, err
	}
	if f.maxAge > 0 {
		if age := f.now().Sub(ts); age > f.maxAge {
			return 0, fmt.Errorf("redis: price %s is %s old: %w", f.assetID, age.Truncate(time.Second), domain.ErrStalePrice)
		}
	}
	return price, nil
}

var _ domain.PriceFeed = (*PriceFeed)(nil)
