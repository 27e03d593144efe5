// Package oracle provides price feeds the market consults once at
// resolution time.
package oracle

import (
	"context"
	"sync"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

var _ domain.PriceFeed = (*Static)(nil)

// Static returns a settable fixed price. It backs local runs and tests.
type Static struct {
	mu    sync.RWMutex
	price int64
}

// NewStatic returns a feed reporting price.
func NewStatic(price int64) *Static {
	return &Static{price: price}
}

// SetPrice changes the reported price.
func (s *Static) SetPrice(price int64) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

// CurrentPrice implements domain.PriceFeed.
func (s *Static) CurrentPrice(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, nil
}
