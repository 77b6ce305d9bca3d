package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/reconciler"
	"ml-feature-reconciler/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/trace"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run against a postgres container")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("features"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applyMigrations(t, ctx, pool)
	return pool
}

func applyMigrations(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "cmd", "migrate", "migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, f := range files {
		sql, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", filepath.Base(f))
	}
}

func seedSources(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	stmts := []string{
		`INSERT INTO price_data (symbol, timestamp, current_price, volume, market_cap) VALUES
  ('BTC', '2024-02-29T10:40:00Z', 100, 1000, 5000),
  ('BTC', '2024-03-01T10:15:00Z', 105, 1100, 5100),
  ('BTC', '2024-03-01T10:45:00Z', 110, 1200, 5200)`,
		`INSERT INTO technical_indicators (symbol, timestamp_iso, rsi_14) VALUES ('BTC', '2024-03-01T00:00:00Z', 55)`,
		`INSERT INTO ohlc_data (symbol, timestamp_iso, open_price, high_price, low_price, close_price, volume) VALUES
  ('BTC', '2024-03-01T00:00:00Z', 90, 95, 85, 92, 300),
  ('BTC', '2024-03-01T12:00:00Z', 101, 112, 99, 108, 400)`,
		`INSERT INTO crypto_onchain_data (coin_symbol, timestamp, active_addresses_24h, transaction_count_24h, exchange_net_flow_24h) VALUES
  ('BTC', '2024-03-01T01:00:00Z', 700000, 250000, -10.5),
  ('BTC', '2024-03-01T20:00:00Z', 900000, 300000, -12.5)`,
		`INSERT INTO macro_indicators (indicator_name, indicator_date, value) VALUES
  ('VIX', '2024-03-01', 14.5),
  ('dgs10', '2024-03-01', 4.25),
  ('UNRATE', '2024-03-01', 3.9)`,
		`INSERT INTO crypto_sentiment_data (asset, published_at, cryptobert_score, vader_score) VALUES
  ('btc', '2024-03-01T10:05:00Z', 0.5, 0.2),
  ('BTC', '2024-03-01T10:35:00Z', 0.7, 0.4),
  ('ETH', '2024-03-01T10:20:00Z', 0.3, 0.9)`,
		`INSERT INTO stock_sentiment_data (published_at, finbert_score, fear_greed_score) VALUES
  ('2024-03-01T10:20:00Z', 0.7, 55)`,
		`INSERT INTO social_sentiment_data (asset, timestamp, sentiment_score, confidence, author) VALUES
  ('Bitcoin ETF news', '2024-03-01T10:05:00Z', 0.6, 0.8, 'alice'),
  ('XBT', '2024-03-01T10:30:00Z', 0.2, 0.6, 'bob'),
  ('XBT', '2024-03-01T10:50:00Z', 0.4, 0.7, 'alice'),
  ('dogecoin', '2024-03-01T10:10:00Z', -0.9, 0.9, 'carol')`,
	}
	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func TestReconcileAgainstPostgres(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	seedSources(t, ctx, pool)

	featureRepo := repository.NewFeatureRepository(pool, tracer)
	svc := reconciler.NewService(tracer,
		repository.NewSourceRepository(pool, tracer),
		featureRepo,
		repository.NewAssetRepository(pool, tracer),
		nil,
		reconciler.Options{
			LookbackDays: 1,
			MacroColumns: map[string]string{"VIX": "vix", "DGS10": "treasury_10y"},
		},
	)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	opts := reconciler.RunOptions{Symbols: []string{"BTC"}, StartDate: day, EndDate: day}

	loadRow := func() domain.FeatureRow {
		t.Helper()
		rows, err := featureRepo.ListRows(ctx, "BTC", day, day, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		return rows[0]
	}

	first, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	row := loadRow()
	assert.Equal(t, 10, row.PriceHour)
	require.NotNil(t, row.CurrentPrice)
	assert.InDelta(t, 110, *row.CurrentPrice, 1e-9)
	require.NotNil(t, row.PriceChange24hPct)
	assert.InDelta(t, 10, *row.PriceChange24hPct, 1e-6)
	require.NotNil(t, row.RSI14)
	assert.InDelta(t, 55, *row.RSI14, 1e-9)

	// latest OHLC and on-chain row of the day wins
	require.NotNil(t, row.OpenPrice)
	assert.InDelta(t, 101, *row.OpenPrice, 1e-9)
	require.NotNil(t, row.ClosePrice)
	assert.InDelta(t, 108, *row.ClosePrice, 1e-9)
	require.NotNil(t, row.OHLCVolume)
	assert.InDelta(t, 400, *row.OHLCVolume, 1e-9)
	require.NotNil(t, row.ActiveAddresses24h)
	assert.EqualValues(t, 900000, *row.ActiveAddresses24h)
	require.NotNil(t, row.ExchangeNetFlow24h)
	assert.InDelta(t, -12.5, *row.ExchangeNetFlow24h, 1e-9)

	require.NotNil(t, row.VIX)
	assert.InDelta(t, 14.5, *row.VIX, 1e-9)
	require.NotNil(t, row.Treasury10Y)
	assert.InDelta(t, 4.25, *row.Treasury10Y, 1e-9)
	assert.Nil(t, row.SPX)

	require.NotNil(t, row.CryptoSentimentCount)
	assert.EqualValues(t, 2, *row.CryptoSentimentCount)
	require.NotNil(t, row.AvgVaderScore)
	assert.InDelta(t, 0.3, *row.AvgVaderScore, 1e-9)
	require.NotNil(t, row.GeneralSentimentCount)
	assert.EqualValues(t, 3, *row.GeneralSentimentCount)
	require.NotNil(t, row.GeneralVaderScore)
	assert.InDelta(t, 0.5, *row.GeneralVaderScore, 1e-9)
	require.NotNil(t, row.StockSentimentCount)
	assert.EqualValues(t, 1, *row.StockSentimentCount)
	require.NotNil(t, row.AvgFinBERTScore)
	assert.InDelta(t, 0.7, *row.AvgFinBERTScore, 1e-9)

	// name and alias substrings match, dogecoin does not
	require.NotNil(t, row.SocialPostCount)
	assert.EqualValues(t, 3, *row.SocialPostCount)
	require.NotNil(t, row.SocialAvgSentiment)
	assert.InDelta(t, 0.4, *row.SocialAvgSentiment, 1e-9)
	require.NotNil(t, row.SocialAvgConfidence)
	assert.InDelta(t, 0.7, *row.SocialAvgConfidence, 1e-9)
	require.NotNil(t, row.SocialUniqueAuthors)
	assert.EqualValues(t, 2, *row.SocialUniqueAuthors)
	assert.Greater(t, row.DataQualityScore, 0.0)

	second, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)

	_, err = pool.Exec(ctx, `UPDATE technical_indicators SET sma_20 = 99 WHERE symbol = 'BTC'`)
	require.NoError(t, err)
	third, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Updated)

	// mutable columns follow the source, fill-only columns keep their first value
	stmts := []string{
		`UPDATE ohlc_data SET close_price = 111 WHERE symbol = 'BTC' AND timestamp_iso = '2024-03-01T12:00:00Z'`,
		`UPDATE social_sentiment_data SET sentiment_score = 0.5 WHERE asset = 'XBT' AND timestamp = '2024-03-01T10:30:00Z'`,
		`UPDATE technical_indicators SET rsi_14 = 70 WHERE symbol = 'BTC'`,
		`UPDATE macro_indicators SET value = 30 WHERE indicator_name = 'VIX'`,
		`UPDATE crypto_sentiment_data SET vader_score = -0.8 WHERE asset = 'ETH'`,
		`UPDATE price_data SET current_price = 120 WHERE symbol = 'BTC' AND timestamp = '2024-03-01T10:45:00Z'`,
	}
	for _, stmt := range stmts {
		_, err = pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	fourth, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, fourth.Inserted)
	assert.Equal(t, 1, fourth.Updated)

	updated := loadRow()
	require.NotNil(t, updated.ClosePrice)
	assert.InDelta(t, 111, *updated.ClosePrice, 1e-9)
	require.NotNil(t, updated.OpenPrice)
	assert.InDelta(t, 101, *updated.OpenPrice, 1e-9)
	require.NotNil(t, updated.SocialAvgSentiment)
	assert.InDelta(t, 0.5, *updated.SocialAvgSentiment, 1e-9)
	require.NotNil(t, updated.SocialPostCount)
	assert.EqualValues(t, 3, *updated.SocialPostCount)

	require.NotNil(t, updated.RSI14)
	assert.InDelta(t, 55, *updated.RSI14, 1e-9)
	require.NotNil(t, updated.SMA20)
	assert.InDelta(t, 99, *updated.SMA20, 1e-9)
	require.NotNil(t, updated.VIX)
	assert.InDelta(t, 14.5, *updated.VIX, 1e-9)
	require.NotNil(t, updated.GeneralVaderScore)
	assert.InDelta(t, 0.5, *updated.GeneralVaderScore, 1e-9)
	require.NotNil(t, updated.CurrentPrice)
	assert.InDelta(t, 110, *updated.CurrentPrice, 1e-9)

	placeholders, err := featureRepo.InsertPlaceholders(ctx, []string{"BTC"}, day, day)
	require.NoError(t, err)
	assert.EqualValues(t, 23, placeholders)

	reports, err := featureRepo.Completeness(ctx, []string{"BTC"}, day, day)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 24, reports[0].ExpectedHours)
	assert.Equal(t, 24, reports[0].RowsPresent)
	assert.Equal(t, 1, reports[0].RowsWithData)
}
