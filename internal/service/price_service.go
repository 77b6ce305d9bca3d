package service

import (
	"context"
	"fmt"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/indicators"
	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	dailyChartDays  = 30
	hourlyChartDays = 7
)

type PriceProvider interface {
	FetchPrices(ctx context.Context, ids map[string]string) (map[string]*domain.PriceSnapshot, error)
	FetchMarketChart(ctx context.Context, id, symbol string, days int, intervals []string) ([]*domain.Candle, error)
}

// CollectorStore writes the price-derived source tables.
type CollectorStore interface {
	InsertPriceTicks(ctx context.Context, ticks []domain.PriceTick) error
	UpsertOHLC(ctx context.Context, bars []domain.OHLCBar) error
	InsertTechnical(ctx context.Context, snapshots []domain.TechnicalSnapshot) error
}

type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (domain.SymbolCatalog, error)
}

// PriceService feeds price_data, ohlc_data and technical_indicators from CoinGecko.
type PriceService struct {
	tracer   trace.Tracer
	provider PriceProvider
	store    CollectorStore
	catalog  CatalogLoader
	now      func() time.Time
}

func NewPriceService(
	tracer trace.Tracer,
	provider PriceProvider,
	store CollectorStore,
	catalog CatalogLoader,
) *PriceService {
	return &PriceService{
		tracer:   tracer,
		provider: provider,
		store:    store,
		catalog:  catalog,
		now:      time.Now,
	}
}

// Symbols returns the active symbols that have a CoinGecko id.
func (s *PriceService) Symbols(ctx context.Context) ([]string, error) {
	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range catalog.Assets() {
		if a.CoinGeckoID != "" {
			out = append(out, a.Symbol)
		}
	}
	return out, nil
}

// RefreshPrices stores one price tick per tracked asset.
func (s *PriceService) RefreshPrices(ctx context.Context) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-prices")
	defer span.End()
	defer func() { metrics.RecordCollectorCall("prices", err) }()

	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return 0, fmt.Errorf("load symbol catalog: %w", err)
	}
	ids := make(map[string]string, catalog.Len())
	for _, a := range catalog.Assets() {
		if a.CoinGeckoID != "" {
			ids[a.CoinGeckoID] = a.Symbol
		}
	}

	prices, err := s.provider.FetchPrices(ctx, ids)
	if err != nil {
		return 0, err
	}

	at := s.now().UTC()
	ticks := make([]domain.PriceTick, 0, len(prices))
	for _, snap := range prices {
		tick := snap.Tick(at)
		if tick.Price == nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	if err := s.store.InsertPriceTicks(ctx, ticks); err != nil {
		return 0, fmt.Errorf("insert price ticks: %w", err)
	}

	span.SetAttributes(attribute.Int("ticks", len(ticks)))
	logger.Get().Infof("Refreshed prices for %d assets", len(ticks))
	return len(ticks), nil
}

// RefreshDailyOHLC stores daily bars for the last 30 days.
func (s *PriceService) RefreshDailyOHLC(ctx context.Context, symbol string) (err error) {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-daily-ohlc")
	defer span.End()
	defer func() { metrics.RecordCollectorCall("ohlc", err) }()

	id, err := s.coinGeckoID(ctx, symbol)
	if err != nil {
		return err
	}
	candles, err := s.provider.FetchMarketChart(ctx, id, symbol, dailyChartDays, []string{"1d"})
	if err != nil {
		return err
	}

	bars := make([]domain.OHLCBar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, candleToBar(c))
	}
	if err := s.store.UpsertOHLC(ctx, bars); err != nil {
		return fmt.Errorf("upsert ohlc for %s: %w", symbol, err)
	}

	logger.Get().Infof("Refreshed daily OHLC for %s (%d bars)", symbol, len(bars))
	return nil
}

// RefreshIndicators recomputes technical indicators from a week of hourly candles.
func (s *PriceService) RefreshIndicators(ctx context.Context, symbol string) (err error) {
	ctx, span := s.tracer.Start(ctx, "price-service.refresh-indicators")
	defer span.End()
	defer func() { metrics.RecordCollectorCall("indicators", err) }()

	id, err := s.coinGeckoID(ctx, symbol)
	if err != nil {
		return err
	}
	candles, err := s.provider.FetchMarketChart(ctx, id, symbol, hourlyChartDays, []string{"1h"})
	if err != nil {
		return err
	}

	snapshots := indicators.Compute(candles)
	if err := s.store.InsertTechnical(ctx, snapshots); err != nil {
		return fmt.Errorf("insert indicators for %s: %w", symbol, err)
	}

	logger.Get().Infof("Refreshed indicators for %s (%d snapshots)", symbol, len(snapshots))
	return nil
}

func (s *PriceService) coinGeckoID(ctx context.Context, symbol string) (string, error) {
	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return "", fmt.Errorf("load symbol catalog: %w", err)
	}
	asset, ok := catalog.Asset(symbol)
	if !ok {
		return "", fmt.Errorf("unsupported symbol: %s", symbol)
	}
	if asset.CoinGeckoID == "" {
		return "", fmt.Errorf("no coingecko id for %s", symbol)
	}
	return asset.CoinGeckoID, nil
}

func candleToBar(c *domain.Candle) domain.OHLCBar {
	open, high, low, closePrice, volume := c.Open, c.High, c.Low, c.Close, c.Volume
	bar := domain.OHLCBar{
		Symbol:    c.Symbol,
		Timestamp: c.OpenTime.UTC(),
		Open:      &open,
		High:      &high,
		Low:       &low,
		Close:     &closePrice,
	}
	if volume > 0 {
		bar.Volume = &volume
	}
	return bar
}
