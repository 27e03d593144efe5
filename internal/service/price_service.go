package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// PricesChannel carries every mirrored price update.
const PricesChannel = "prices"

// PriceService mirrors an upstream price feed into the price cache so that
// API nodes and keepers can resolve against a shared, timestamped reading.
type PriceService struct {
	source   domain.PriceFeed
	cache    domain.PriceCache
	bus      domain.SignalBus
	assetID  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPriceService creates a PriceService. bus may be nil.
func NewPriceService(
	source domain.PriceFeed,
	cache domain.PriceCache,
	bus domain.SignalBus,
	assetID string,
	interval time.Duration,
	logger *slog.Logger,
) *PriceService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PriceService{
		source:   source,
		cache:    cache,
		bus:      bus,
		assetID:  assetID,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// Run refreshes the cached price every interval until ctx is cancelled.
func (s *PriceService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(ctx); err != nil {
			s.logger.WarnContext(ctx, "price refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh reads the source once, stores the price and publishes it.
func (s *PriceService) Refresh(ctx context.Context) error {
	price, err := s.source.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("price_service: read source for %q: %w", s.assetID, err)
	}
	ts := s.now().UTC()
	if err := s.cache.SetPrice(ctx, s.assetID, price, ts); err != nil {
		return fmt.Errorf("price_service: set price for %q: %w", s.assetID, err)
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "price_update",
			"asset_id":  s.assetID,
			"price":     price,
			"timestamp": ts.Format(time.RFC3339Nano),
		})
		if pubErr := s.bus.Publish(ctx, PricesChannel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish price update failed",
				slog.String("asset_id", s.assetID),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	return nil
}
