package repository

import (
	"context"

	"ml-feature-reconciler/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

// CollectorRepository writes the source tables fed by the price collector.
type CollectorRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCollectorRepository(pool PgxPool, tracer trace.Tracer) *CollectorRepository {
	return &CollectorRepository{pool: pool, tracer: tracer}
}

// InsertPriceTicks stores ticks, ignoring duplicates of (symbol, timestamp).
func (r *CollectorRepository) InsertPriceTicks(ctx context.Context, ticks []domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "collector-repo.insert-price-ticks")
	defer span.End()

	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(`
INSERT INTO price_data (symbol, timestamp, current_price, volume, market_cap, price_change_24h)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (symbol, timestamp) DO NOTHING`,
			t.Symbol, t.Timestamp.UTC(), nullFloat(t.Price), nullFloat(t.Volume), nullFloat(t.MarketCap), nullFloat(t.Change24hPct))
	}
	return execBatch(r.pool.SendBatch(ctx, batch), len(ticks))
}

// UpsertOHLC stores daily bars; a later bar for the same day replaces the earlier one.
func (r *CollectorRepository) UpsertOHLC(ctx context.Context, bars []domain.OHLCBar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "collector-repo.upsert-ohlc")
	defer span.End()

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
INSERT INTO ohlc_data (symbol, timestamp_iso, open_price, high_price, low_price, close_price, volume, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (symbol, timestamp_iso) DO UPDATE SET
    open_price = EXCLUDED.open_price,
    high_price = EXCLUDED.high_price,
    low_price = EXCLUDED.low_price,
    close_price = EXCLUDED.close_price,
    volume = EXCLUDED.volume,
    updated_at = NOW()`,
			b.Symbol, b.Timestamp.UTC(), nullFloat(b.Open), nullFloat(b.High), nullFloat(b.Low), nullFloat(b.Close), nullFloat(b.Volume))
	}
	return execBatch(r.pool.SendBatch(ctx, batch), len(bars))
}

// InsertTechnical stores indicator snapshots, keeping the first value per timestamp.
func (r *CollectorRepository) InsertTechnical(ctx context.Context, snapshots []domain.TechnicalSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "collector-repo.insert-technical")
	defer span.End()

	batch := &pgx.Batch{}
	for _, s := range snapshots {
		batch.Queue(`
INSERT INTO technical_indicators (
    symbol, timestamp_iso,
    rsi_14, sma_20, sma_50, ema_12, ema_26,
    macd, macd_signal, macd_histogram,
    bb_upper, bb_middle, bb_lower,
    stoch_k, stoch_d, atr_14, vwap
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (symbol, timestamp_iso) DO NOTHING`,
			s.Symbol, s.Timestamp.UTC(),
			nullFloat(s.RSI14), nullFloat(s.SMA20), nullFloat(s.SMA50), nullFloat(s.EMA12), nullFloat(s.EMA26),
			nullFloat(s.MACD), nullFloat(s.MACDSignal), nullFloat(s.MACDHistogram),
			nullFloat(s.BBUpper), nullFloat(s.BBMiddle), nullFloat(s.BBLower),
			nullFloat(s.StochK), nullFloat(s.StochD), nullFloat(s.ATR14), nullFloat(s.VWAP))
	}
	return execBatch(r.pool.SendBatch(ctx, batch), len(snapshots))
}

func execBatch(br pgx.BatchResults, n int) error {
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
