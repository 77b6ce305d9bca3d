package job

import (
	"context"
	"time"

	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/trace"
)

// PricePoller runs background goroutines that periodically fetch and store price data.
type PricePoller struct {
	tracer       trace.Tracer
	priceService PriceDataRefresher
	pollInterval time.Duration

	indicatorInterval time.Duration
	ohlcInterval      time.Duration
	staggerDelay      time.Duration
}

type PriceDataRefresher interface {
	Symbols(ctx context.Context) ([]string, error)
	RefreshPrices(ctx context.Context) (int, error)
	RefreshIndicators(ctx context.Context, symbol string) error
	RefreshDailyOHLC(ctx context.Context, symbol string) error
}

func NewPricePoller(tracer trace.Tracer, priceService PriceDataRefresher, pollInterval time.Duration) *PricePoller {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &PricePoller{
		tracer:            tracer,
		priceService:      priceService,
		pollInterval:      pollInterval,
		indicatorInterval: 5 * time.Minute,
		ohlcInterval:      30 * time.Minute,
		staggerDelay:      10 * time.Second,
	}
}

// Start launches background polling goroutines. Blocks until ctx is cancelled.
func (p *PricePoller) Start(ctx context.Context) {
	log := logger.Get()
	log.Info("Price poller starting...")

	// Tier 1: current prices every pollInterval
	go p.pollLoop(ctx, "current-prices", 0, p.pollInterval, func(ctx context.Context) error {
		_, err := p.priceService.RefreshPrices(ctx)
		return err
	})

	// Tier 2: hourly indicators, 2 coins per tick, round-robin
	indicatorIdx := 0
	go p.pollLoop(ctx, "indicators", p.staggerDelay, p.indicatorInterval, func(ctx context.Context) error {
		return p.fetchIndicatorBatch(ctx, &indicatorIdx, 2)
	})

	// Tier 3: daily OHLC, 1 coin per tick, round-robin
	ohlcIdx := 0
	go p.pollLoop(ctx, "daily-ohlc", 3*p.staggerDelay, p.ohlcInterval, func(ctx context.Context) error {
		return p.fetchOHLCBatch(ctx, &ohlcIdx)
	})

	<-ctx.Done()
	log.Info("Price poller stopped")
}

func (p *PricePoller) pollLoop(ctx context.Context, name string, delay, interval time.Duration, fn func(context.Context) error) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// Run immediately on start
	if err := fn(ctx); err != nil {
		logger.Get().Warnf("poller %s initial run error: %v", name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Get().Warnf("poller %s error: %v", name, err)
			}
		}
	}
}

func (p *PricePoller) fetchIndicatorBatch(ctx context.Context, coinIndex *int, count int) error {
	symbols, err := p.priceService.Symbols(ctx)
	if err != nil || len(symbols) == 0 {
		return err
	}
	for i := 0; i < count && i < len(symbols); i++ {
		symbol := symbols[*coinIndex%len(symbols)]
		*coinIndex++

		if err := p.priceService.RefreshIndicators(ctx, symbol); err != nil {
			logger.Get().Warnf("indicator refresh error for %s: %v", symbol, err)
		}
	}
	return nil
}

func (p *PricePoller) fetchOHLCBatch(ctx context.Context, coinIndex *int) error {
	symbols, err := p.priceService.Symbols(ctx)
	if err != nil || len(symbols) == 0 {
		return err
	}
	symbol := symbols[*coinIndex%len(symbols)]
	*coinIndex++

	if err := p.priceService.RefreshDailyOHLC(ctx, symbol); err != nil {
		logger.Get().Warnf("daily OHLC refresh error for %s: %v", symbol, err)
	}
	return nil
}
