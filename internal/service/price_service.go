package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// ChannelPrices carries price_update events.
const ChannelPrices = "prices"

// PriceService implements domain.PriceFeed. Cached prices younger than
// maxAge win; otherwise the configured static price is used.
type PriceService struct {
	cache  domain.PriceCache
	bus    domain.SignalBus
	clock  clockwork.Clock
	maxAge time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	static map[string]decimal.Decimal
}

// NewPriceService creates a PriceService. cache and bus may be nil; a zero
// maxAge accepts cached prices of any age.
func NewPriceService(
	cache domain.PriceCache,
	bus domain.SignalBus,
	static map[string]decimal.Decimal,
	maxAge time.Duration,
	clock clockwork.Clock,
	logger *slog.Logger,
) *PriceService {
	s := &PriceService{
		cache:  cache,
		bus:    bus,
		clock:  clock,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "price_service")),
		static: make(map[string]decimal.Decimal, len(static)),
	}
	for asset, p := range static {
		s.static[strings.ToUpper(asset)] = p
	}
	return s
}

// SpotPrice returns the latest usable price of asset.
func (s *PriceService) SpotPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)

	if s.cache != nil {
		p, ts, err := s.cache.GetPrice(ctx, asset)
		switch {
		case err == nil && (s.maxAge <= 0 || s.clock.Since(ts) <= s.maxAge):
			return p, nil
		case err == nil:
			s.logger.DebugContext(ctx, "cached price stale",
				slog.String("asset", asset),
				slog.Time("ts", ts),
			)
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "price cache read failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}

	s.mu.RLock()
	p, ok := s.static[asset]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("price_service: no price for %q: %w", asset, domain.ErrNotFound)
	}
	return p, nil
}

// SetPrice records an operator-supplied price and announces it on the bus.
func (s *PriceService) SetPrice(ctx context.Context, asset string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price_service: set price %q: %w", asset, domain.ErrInvalidAmount)
	}
	asset = strings.ToUpper(asset)
	now := s.clock.Now().UTC()

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, asset, price, now); err != nil {
			return fmt.Errorf("price_service: set price %q: %w", asset, err)
		}
	} else {
		s.mu.Lock()
		s.static[asset] = price
		s.mu.Unlock()
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "price_update",
			"asset":     asset,
			"price":     price.String(),
			"timestamp": now.Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, ChannelPrices, evt); err != nil {
			s.logger.WarnContext(ctx, "publish price update failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

var _ domain.PriceFeed = (*PriceService)(nil)
