package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ml-feature-reconciler/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SourceRepository reads the collector tables consumed by the reconciler.
type SourceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSourceRepository(pool PgxPool, tracer trace.Tracer) *SourceRepository {
	return &SourceRepository{pool: pool, tracer: tracer}
}

// PriceTicks returns price_data rows for symbol in [from, to) ordered by time.
func (r *SourceRepository) PriceTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error) {
	ctx, span := r.tracer.Start(ctx, "source-repo.price-ticks")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	rows, err := r.pool.Query(ctx, `
SELECT symbol, timestamp, current_price, volume, market_cap, price_change_24h
FROM price_data
WHERE symbol = $1
  AND timestamp >= $2
  AND timestamp < $3
ORDER BY timestamp ASC`, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ticks := make([]domain.PriceTick, 0)
	for rows.Next() {
		var t domain.PriceTick
		if err := rows.Scan(&t.Symbol, &t.Timestamp, &t.Price, &t.Volume, &t.MarketCap, &t.Change24hPct); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

const (
	technicalByDaySQL = `
SELECT DISTINCT ON ((timestamp_iso AT TIME ZONE 'UTC')::date)
       symbol, timestamp_iso,
       rsi_14, sma_20, sma_50, ema_12, ema_26,
       macd, macd_signal, macd_histogram,
       bb_upper, bb_middle, bb_lower,
       stoch_k, stoch_d, atr_14, vwap
FROM technical_indicators
WHERE symbol = $1
  AND timestamp_iso >= $2
  AND timestamp_iso < $3
ORDER BY (timestamp_iso AT TIME ZONE 'UTC')::date, timestamp_iso DESC`

	macroByDaySQL = `
SELECT UPPER(indicator_name), indicator_date, value
FROM macro_indicators
WHERE indicator_date >= $1::date
  AND indicator_date < $2::date
  AND UPPER(indicator_name) = ANY($3::text[])
  AND value IS NOT NULL`

	onChainByDaySQL = `
SELECT DISTINCT ON ((timestamp AT TIME ZONE 'UTC')::date)
       coin_symbol, timestamp,
       active_addresses_24h, transaction_count_24h, exchange_net_flow_24h, price_volatility_7d
FROM crypto_onchain_data
WHERE coin_symbol = $1
  AND timestamp >= $2
  AND timestamp < $3
ORDER BY (timestamp AT TIME ZONE 'UTC')::date, timestamp DESC`

	ohlcByDaySQL = `
SELECT DISTINCT ON ((timestamp_iso AT TIME ZONE 'UTC')::date)
       symbol, timestamp_iso, open_price, high_price, low_price, close_price, volume
FROM ohlc_data
WHERE symbol = $1
  AND timestamp_iso >= $2
  AND timestamp_iso < $3
ORDER BY (timestamp_iso AT TIME ZONE 'UTC')::date, timestamp_iso DESC`

	coinSentimentByHourSQL = `
SELECT date_trunc('hour', published_at AT TIME ZONE 'UTC') AS bucket,
       COUNT(*), AVG(cryptobert_score), AVG(vader_score), AVG(textblob_score), AVG(keyword_score)
FROM crypto_sentiment_data
WHERE UPPER(asset) = $1
  AND published_at >= $2
  AND published_at < $3
GROUP BY bucket`

	generalSentimentByHourSQL = `
SELECT date_trunc('hour', published_at AT TIME ZONE 'UTC') AS bucket,
       COUNT(*), AVG(cryptobert_score), AVG(vader_score), AVG(textblob_score), AVG(keyword_score)
FROM crypto_sentiment_data
WHERE published_at >= $1
  AND published_at < $2
GROUP BY bucket`

	stockSentimentByHourSQL = `
SELECT date_trunc('hour', published_at AT TIME ZONE 'UTC') AS bucket,
       COUNT(*), AVG(finbert_score), AVG(fear_greed_score), AVG(volatility_score),
       AVG(risk_appetite_score), AVG(crypto_correlation_score)
FROM stock_sentiment_data
WHERE published_at >= $1
  AND published_at < $2
GROUP BY bucket`

	socialByHourSQL = `
SELECT date_trunc('hour', timestamp AT TIME ZONE 'UTC') AS bucket,
       COUNT(*), AVG(sentiment_score), AVG(confidence), COUNT(DISTINCT author)
FROM social_sentiment_data
WHERE LOWER(asset) LIKE ANY($1::text[])
  AND timestamp >= $2
  AND timestamp < $3
GROUP BY bucket`
)

// LoadBatch fetches every per-day and per-hour lookup for one symbol window
// in a single round trip.
func (r *SourceRepository) LoadBatch(ctx context.Context, req domain.BatchRequest) (domain.SourceBatch, error) {
	ctx, span := r.tracer.Start(ctx, "source-repo.load-batch")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", req.Symbol))

	from, to := req.From.UTC(), req.To.UTC()
	macroColumns := make(map[string]string, len(req.MacroColumns))
	macroNames := make([]string, 0, len(req.MacroColumns))
	for name, column := range req.MacroColumns {
		name = strings.ToUpper(strings.TrimSpace(name))
		macroColumns[name] = column
		macroNames = append(macroNames, name)
	}

	batch := &pgx.Batch{}
	batch.Queue(technicalByDaySQL, req.Symbol, from, to)
	batch.Queue(macroByDaySQL, from, to, macroNames)
	batch.Queue(onChainByDaySQL, req.Symbol, from, to)
	batch.Queue(ohlcByDaySQL, req.Symbol, from, to)
	batch.Queue(coinSentimentByHourSQL, req.Symbol, from, to)
	batch.Queue(generalSentimentByHourSQL, from, to)
	batch.Queue(stockSentimentByHourSQL, from, to)
	batch.Queue(socialByHourSQL, containsPatterns(req.MatchTerms), from, to)

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	out := domain.SourceBatch{
		Technical:        make(map[string]domain.TechnicalSnapshot),
		Macro:            make(map[string]domain.MacroSnapshot),
		OnChain:          make(map[string]domain.OnChainSnapshot),
		OHLC:             make(map[string]domain.OHLCBar),
		CoinSentiment:    make(map[domain.HourKey]domain.SentimentAggregate),
		GeneralSentiment: make(map[domain.HourKey]domain.SentimentAggregate),
		StockSentiment:   make(map[domain.HourKey]domain.StockSentimentAggregate),
		Social:           make(map[domain.HourKey]domain.SocialAggregate),
	}

	steps := []struct {
		name string
		scan func(pgx.Rows) error
	}{
		{"technical", func(rows pgx.Rows) error {
			var s domain.TechnicalSnapshot
			if err := rows.Scan(&s.Symbol, &s.Timestamp,
				&s.RSI14, &s.SMA20, &s.SMA50, &s.EMA12, &s.EMA26,
				&s.MACD, &s.MACDSignal, &s.MACDHistogram,
				&s.BBUpper, &s.BBMiddle, &s.BBLower,
				&s.StochK, &s.StochD, &s.ATR14, &s.VWAP); err != nil {
				return err
			}
			out.Technical[domain.DayKey(s.Timestamp)] = s
			return nil
		}},
		{"macro", func(rows pgx.Rows) error {
			var name string
			var day time.Time
			var value float64
			if err := rows.Scan(&name, &day, &value); err != nil {
				return err
			}
			pivotMacro(out.Macro, macroColumns, name, day, value)
			return nil
		}},
		{"onchain", func(rows pgx.Rows) error {
			var s domain.OnChainSnapshot
			if err := rows.Scan(&s.Symbol, &s.Timestamp,
				&s.ActiveAddresses24h, &s.TransactionCount24h, &s.ExchangeNetFlow24h, &s.PriceVolatility7d); err != nil {
				return err
			}
			out.OnChain[domain.DayKey(s.Timestamp)] = s
			return nil
		}},
		{"ohlc", func(rows pgx.Rows) error {
			var b domain.OHLCBar
			if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
				return err
			}
			out.OHLC[domain.DayKey(b.Timestamp)] = b
			return nil
		}},
		{"coin-sentiment", scanSentiment(out.CoinSentiment)},
		{"general-sentiment", scanSentiment(out.GeneralSentiment)},
		{"stock-sentiment", func(rows pgx.Rows) error {
			var bucket time.Time
			var a domain.StockSentimentAggregate
			if err := rows.Scan(&bucket, &a.Count, &a.FinBERT, &a.FearGreed, &a.Volatility, &a.RiskAppetite, &a.CryptoCorrelation); err != nil {
				return err
			}
			out.StockSentiment[domain.NewHourKey(bucket)] = a
			return nil
		}},
		{"social", func(rows pgx.Rows) error {
			var bucket time.Time
			var a domain.SocialAggregate
			if err := rows.Scan(&bucket, &a.PostCount, &a.AvgSentiment, &a.AvgConfidence, &a.UniqueAuthors); err != nil {
				return err
			}
			out.Social[domain.NewHourKey(bucket)] = a
			return nil
		}},
	}

	for _, step := range steps {
		if err := readBatchRows(br, step.scan); err != nil {
			return domain.SourceBatch{}, fmt.Errorf("load %s for %s: %w", step.name, req.Symbol, err)
		}
	}
	return out, nil
}

func readBatchRows(br pgx.BatchResults, scan func(pgx.Rows) error) error {
	rows, err := br.Query()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanSentiment(dst map[domain.HourKey]domain.SentimentAggregate) func(pgx.Rows) error {
	return func(rows pgx.Rows) error {
		var bucket time.Time
		var a domain.SentimentAggregate
		if err := rows.Scan(&bucket, &a.Count, &a.CryptoBERT, &a.Vader, &a.TextBlob, &a.Keyword); err != nil {
			return err
		}
		dst[domain.NewHourKey(bucket)] = a
		return nil
	}
}

// pivotMacro folds one indicator row into the per-day snapshot under its mapped column.
func pivotMacro(dst map[string]domain.MacroSnapshot, columns map[string]string, name string, day time.Time, value float64) {
	column, ok := columns[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return
	}
	key := domain.DayKey(day)
	snap, ok := dst[key]
	if !ok {
		snap = domain.MacroSnapshot{Date: domain.StartOfDay(day), Values: make(map[string]float64, len(columns))}
	}
	snap.Values[column] = value
	dst[key] = snap
}
