package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// PriceCache stores the latest integer price of an asset as a hash at
// "price:{assetID}" with fields "price" and "ts" (Unix nanoseconds). Any
// producer that writes this hash can drive the market's oracle.
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetPrice stores the latest price and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price int64, ts time.Time) error {
	err := pc.c.rdb.HSet(ctx, pc.c.Key("price", assetID),
		"price", strconv.FormatInt(price, 10),
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns the latest price and its timestamp, or domain.ErrNotFound
// if no producer has written one.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (int64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.Key("price", assetID)).Result()
	if err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	return parsePriceHash(assetID, vals)
}

func parsePriceHash(assetID string, vals map[string]string) (int64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", assetID, domain.ErrNotFound)
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", assetID, err)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: price %s has no timestamp: %w", assetID, domain.ErrNotFound)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
