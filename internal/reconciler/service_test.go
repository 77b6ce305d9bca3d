package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/features"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

type fakeSources struct {
	ticks   map[string][]domain.PriceTick
	batch   domain.SourceBatch
	tickErr error
	lastReq domain.BatchRequest
}

func (f *fakeSources) PriceTicks(_ context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error) {
	if f.tickErr != nil {
		return nil, f.tickErr
	}
	var out []domain.PriceTick
	for _, t := range f.ticks[symbol] {
		if !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSources) LoadBatch(_ context.Context, req domain.BatchRequest) (domain.SourceBatch, error) {
	f.lastReq = req
	return f.batch, nil
}

type fakeStore struct {
	rows        map[string]map[domain.HourKey]domain.FeatureRow
	existingErr map[string]error
	insertErr   map[domain.HourKey]error
	inserts     int
	updates     [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:        make(map[string]map[domain.HourKey]domain.FeatureRow),
		existingErr: make(map[string]error),
		insertErr:   make(map[domain.HourKey]error),
	}
}

func (s *fakeStore) put(row domain.FeatureRow) {
	if s.rows[row.Symbol] == nil {
		s.rows[row.Symbol] = make(map[domain.HourKey]domain.FeatureRow)
	}
	s.rows[row.Symbol][row.Key()] = row
}

func (s *fakeStore) get(symbol string, hour int) (domain.FeatureRow, bool) {
	row, ok := s.rows[symbol][domain.HourKey{Day: domain.DayKey(day), Hour: hour}]
	return row, ok
}

func (s *fakeStore) ExistingRows(_ context.Context, symbol string, _, _ time.Time) (map[domain.HourKey]*domain.FeatureRow, error) {
	if err := s.existingErr[symbol]; err != nil {
		return nil, err
	}
	out := make(map[domain.HourKey]*domain.FeatureRow)
	for k, row := range s.rows[symbol] {
		r := row
		out[k] = &r
	}
	return out, nil
}

func (s *fakeStore) InsertRow(_ context.Context, row *domain.FeatureRow) (bool, error) {
	if err := s.insertErr[row.Key()]; err != nil {
		return false, err
	}
	if _, ok := s.rows[row.Symbol][row.Key()]; ok {
		return false, nil
	}
	s.inserts++
	s.put(*row)
	return true, nil
}

func (s *fakeStore) UpdateFields(_ context.Context, row *domain.FeatureRow, staged []features.Field) error {
	s.updates = append(s.updates, features.Columns(staged))
	s.put(*row)
	return nil
}

type fakeCatalog struct {
	catalog domain.SymbolCatalog
	err     error
}

func (c fakeCatalog) LoadCatalog(context.Context) (domain.SymbolCatalog, error) {
	return c.catalog, c.err
}

type recordingPublisher struct {
	results []SymbolResult
}

func (p *recordingPublisher) PublishSymbolResult(_ context.Context, _ string, r SymbolResult) error {
	p.results = append(p.results, r)
	return nil
}

func testCatalog(symbols ...string) domain.SymbolCatalog {
	assets := make([]domain.Asset, 0, len(symbols))
	for _, s := range symbols {
		assets = append(assets, domain.Asset{Symbol: s, Name: s + "coin", IsActive: true})
	}
	return domain.NewSymbolCatalog(assets)
}

func tick(symbol string, at time.Time, price float64) domain.PriceTick {
	return domain.PriceTick{Symbol: symbol, Timestamp: at, Price: f64(price)}
}

func newTestService(src *fakeSources, store *fakeStore, symbols ...string) *Service {
	svc := NewService(testTracer, src, store, fakeCatalog{catalog: testCatalog(symbols...)}, nil, Options{
		Change:       features.DefaultChangeOptions,
		MacroColumns: map[string]string{"VIX": "vix"},
	})
	svc.now = func() time.Time { return day.Add(12 * time.Hour) }
	return svc
}

func TestReconcileInsertsNewHoursWithPriceOnlyScore(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{
		"BTC": {tick("BTC", day.Add(time.Hour), 100), tick("BTC", day.Add(2*time.Hour), 101)},
	}}
	store := newFakeStore()
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Hours)
	assert.Equal(t, 2, res.Inserted)

	row, ok := store.get("BTC", 1)
	require.True(t, ok)
	assert.Equal(t, 100.0, *row.CurrentPrice)
	assert.Equal(t, 15.0, row.DataQualityScore)
	assert.Nil(t, row.PriceChange24hPct)
	assert.Equal(t, []string{"btccoin"}, src.lastReq.MatchTerms)
}

func TestReconcileIsIdempotent(t *testing.T) {
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 100)}},
		batch: domain.SourceBatch{
			OHLC: map[string]domain.OHLCBar{domain.DayKey(day): {Open: f64(1), High: f64(2), Low: f64(0.5), Close: f64(1.5)}},
		},
	}
	store := newFakeStore()
	svc := newTestService(src, store, "BTC")

	first, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	assert.Empty(t, store.updates)
}

func TestReconcileFillOnlyKeepsStoredValue(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 200)}}}
	store := newFakeStore()
	store.put(domain.FeatureRow{Symbol: "BTC", PriceDate: day, PriceHour: 1, CurrentPrice: f64(100), DataQualityScore: 15})
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	row, _ := store.get("BTC", 1)
	assert.Equal(t, 100.0, *row.CurrentPrice)
}

func TestReconcileMutableOverride(t *testing.T) {
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 100)}},
		batch: domain.SourceBatch{
			OHLC: map[string]domain.OHLCBar{domain.DayKey(day): {Open: f64(2)}},
		},
	}
	store := newFakeStore()
	store.put(domain.FeatureRow{Symbol: "BTC", PriceDate: day, PriceHour: 1, CurrentPrice: f64(100), OpenPrice: f64(1)})
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, store.updates, 1)
	assert.Equal(t, []string{"open_price"}, store.updates[0])

	row, _ := store.get("BTC", 1)
	assert.Equal(t, 2.0, *row.OpenPrice)
}

func TestReconcileInsertOnlySkipsUpdates(t *testing.T) {
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 100), tick("BTC", day.Add(3*time.Hour), 100)}},
		batch: domain.SourceBatch{
			OHLC: map[string]domain.OHLCBar{domain.DayKey(day): {Open: f64(2)}},
		},
	}
	store := newFakeStore()
	store.put(domain.FeatureRow{Symbol: "BTC", PriceDate: day, PriceHour: 1, OpenPrice: f64(1)})
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Unchanged)
	assert.Empty(t, store.updates)
}

func TestReconcilePartialPatchAddsIndicator(t *testing.T) {
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 100)}},
		batch: domain.SourceBatch{
			Technical: map[string]domain.TechnicalSnapshot{domain.DayKey(day): {RSI14: f64(55)}},
		},
	}
	store := newFakeStore()
	store.put(domain.FeatureRow{Symbol: "BTC", PriceDate: day, PriceHour: 1, CurrentPrice: f64(100), DataQualityScore: 15})
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"rsi_14"}, store.updates[0])

	row, _ := store.get("BTC", 1)
	assert.Equal(t, 55.0, *row.RSI14)
	assert.Equal(t, 25.0, row.DataQualityScore)
}

func TestReconcileDerivesChange24h(t *testing.T) {
	at := day.Add(5 * time.Hour)
	src := &fakeSources{ticks: map[string][]domain.PriceTick{
		"BTC": {tick("BTC", at.Add(-24*time.Hour), 100), tick("BTC", at, 110)},
	}}
	store := newFakeStore()
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted, "prior-day tick only feeds the change lookup")

	row, _ := store.get("BTC", 5)
	require.NotNil(t, row.PriceChange24hPct)
	assert.InDelta(t, 10.0, *row.PriceChange24hPct, 1e-9)
}

func TestReconcileLatestTickPerHourWins(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{
		"BTC": {tick("BTC", day.Add(time.Hour+50*time.Minute), 102), tick("BTC", day.Add(time.Hour+5*time.Minute), 101)},
	}}
	store := newFakeStore()
	svc := newTestService(src, store, "BTC")

	_, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	row, _ := store.get("BTC", 1)
	assert.Equal(t, 102.0, *row.CurrentPrice)
}

func TestReconcileMapsSourcesIntoCandidate(t *testing.T) {
	key := domain.HourKey{Day: domain.DayKey(day), Hour: 1}
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {{Symbol: "BTC", Timestamp: day.Add(time.Hour), Price: f64(100), Volume: f64(5)}}},
		batch: domain.SourceBatch{
			Macro:         map[string]domain.MacroSnapshot{key.Day: {Date: day, Values: map[string]float64{"vix": 18}}},
			CoinSentiment: map[domain.HourKey]domain.SentimentAggregate{key: {Count: 3, Vader: f64(0.2)}},
			Social:        map[domain.HourKey]domain.SocialAggregate{key: {PostCount: 4, UniqueAuthors: 2}},
			StockSentiment: map[domain.HourKey]domain.StockSentimentAggregate{
				{Day: key.Day, Hour: 2}: {Count: 1},
			},
		},
	}
	store := newFakeStore()
	svc := newTestService(src, store, "BTC")

	_, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)

	row, _ := store.get("BTC", 1)
	require.NotNil(t, row.VIX)
	assert.Equal(t, 18.0, *row.VIX)
	assert.Equal(t, int64(3), *row.CryptoSentimentCount)
	assert.Equal(t, int64(4), *row.SocialPostCount)
	assert.Nil(t, row.StockSentimentCount)
	// price 15 + volume 15 + coin sentiment 10 + social 10
	assert.Equal(t, 50.0, row.DataQualityScore)
}

func TestReconcileMacroNeverWritesNonMacroColumns(t *testing.T) {
	key := domain.HourKey{Day: domain.DayKey(day), Hour: 1}
	src := &fakeSources{
		ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 42000)}},
		batch: domain.SourceBatch{
			Macro: map[string]domain.MacroSnapshot{key.Day: {Date: day, Values: map[string]float64{"current_price": 17.5, "vix": 18}}},
		},
	}
	store := newFakeStore()
	svc := NewService(testTracer, src, store, fakeCatalog{catalog: testCatalog("BTC")}, nil, Options{
		Change:       features.DefaultChangeOptions,
		MacroColumns: map[string]string{"VIX": "current_price", "SPX": "spx"},
	})
	assert.Equal(t, map[string]string{"SPX": "spx"}, svc.opts.MacroColumns)

	_, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)

	row, ok := store.get("BTC", 1)
	require.True(t, ok)
	assert.Equal(t, 42000.0, *row.CurrentPrice)
	require.NotNil(t, row.VIX)
	assert.Equal(t, 18.0, *row.VIX)
}

func TestReconcileLockTimeoutSkipsSymbol(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{"BTC": {tick("BTC", day.Add(time.Hour), 100)}}}
	store := newFakeStore()
	store.existingErr["BTC"] = &pgconn.PgError{Code: "55P03"}
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, store.inserts)
}

func TestReconcileHourErrorContinues(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{
		"BTC": {tick("BTC", day.Add(time.Hour), 100), tick("BTC", day.Add(2*time.Hour), 101)},
	}}
	store := newFakeStore()
	store.insertErr[domain.HourKey{Day: domain.DayKey(day), Hour: 1}] = errors.New("constraint violation")
	svc := newTestService(src, store, "BTC")

	res, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Inserted)
}

func TestReconcileRejectsInvertedWindow(t *testing.T) {
	svc := newTestService(&fakeSources{}, newFakeStore(), "BTC")
	_, err := svc.Reconcile(context.Background(), testCatalog("BTC"), "BTC", day, day.AddDate(0, 0, -1), false)
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestRunSkipsLockedSymbolAndContinues(t *testing.T) {
	src := &fakeSources{ticks: map[string][]domain.PriceTick{
		"BTC": {tick("BTC", day.Add(time.Hour), 100)},
		"ETH": {tick("ETH", day.Add(time.Hour), 10)},
	}}
	store := newFakeStore()
	store.existingErr["BTC"] = &pgconn.PgError{Code: "40P01"}
	pub := &recordingPublisher{}
	svc := newTestService(src, store, "BTC", "ETH")
	svc.publisher = pub

	res, err := svc.Run(context.Background(), RunOptions{RunID: "r1", Symbols: []string{"btc", "eth", "doge"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"DOGE"}, res.UnknownSymbols)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Symbols, 2)
	assert.Equal(t, SkipLockTimeout, res.Symbols[0].SkipReason)
	assert.Len(t, pub.results, 2)
}

func TestRunDefaultsToLookbackWindow(t *testing.T) {
	svc := newTestService(&fakeSources{}, newFakeStore(), "BTC")
	svc.opts.LookbackDays = 1

	res, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", res.StartDate)
	assert.Equal(t, "2024-03-01", res.EndDate)
}

func TestRunCatalogFailureIsFatal(t *testing.T) {
	svc := NewService(testTracer, &fakeSources{}, newFakeStore(), fakeCatalog{err: errors.New("db down")}, nil, Options{})
	_, err := svc.Run(context.Background(), RunOptions{StartDate: day, EndDate: day})
	require.Error(t, err)
}
