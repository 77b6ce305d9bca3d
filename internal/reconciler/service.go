// Package reconciler merges the collector tables into ml_features_materialized.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ml-feature-reconciler/internal/db"
	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/features"
	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRunInProgress = errors.New("reconcile run already in progress")
	ErrLockTimeout   = errors.New("lock wait timeout")
	ErrInvalidWindow = errors.New("start date is after end date")
)

// Skip reasons reported in SymbolResult and the skipped-symbols metric.
const (
	SkipLockTimeout = "lock_timeout"
	SkipError       = "error"
)

// SourceReader loads the collector tables for one symbol window.
type SourceReader interface {
	PriceTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error)
	LoadBatch(ctx context.Context, req domain.BatchRequest) (domain.SourceBatch, error)
}

// FeatureStore reads and writes materialized rows.
type FeatureStore interface {
	ExistingRows(ctx context.Context, symbol string, startDate, endDate time.Time) (map[domain.HourKey]*domain.FeatureRow, error)
	InsertRow(ctx context.Context, row *domain.FeatureRow) (bool, error)
	UpdateFields(ctx context.Context, row *domain.FeatureRow, staged []features.Field) error
}

// CatalogLoader provides the active asset catalog for a run.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (domain.SymbolCatalog, error)
}

// Publisher receives one summary per reconciled symbol.
type Publisher interface {
	PublishSymbolResult(ctx context.Context, runID string, result SymbolResult) error
}

type Options struct {
	Change features.ChangeOptions
	// MacroColumns maps macro indicator names to feature columns.
	MacroColumns map[string]string
	LookbackDays int
}

// SymbolResult counts what happened to one symbol's window.
type SymbolResult struct {
	Symbol     string    `json:"symbol"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Hours      int       `json:"hours"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skip_reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type RunOptions struct {
	RunID      string
	Symbols    []string
	StartDate  time.Time
	EndDate    time.Time
	InsertOnly bool
}

type RunResult struct {
	RunID          string         `json:"run_id"`
	StartDate      string         `json:"start_date"`
	EndDate        string         `json:"end_date"`
	Symbols        []SymbolResult `json:"symbols"`
	UnknownSymbols []string       `json:"unknown_symbols,omitempty"`
	Inserted       int            `json:"inserted"`
	Updated        int            `json:"updated"`
	Unchanged      int            `json:"unchanged"`
	Failed         int            `json:"failed"`
	Skipped        int            `json:"skipped"`
}

type Service struct {
	tracer    trace.Tracer
	sources   SourceReader
	store     FeatureStore
	catalog   CatalogLoader
	publisher Publisher
	opts      Options
	now       func() time.Time
}

func NewService(
	tracer trace.Tracer,
	sources SourceReader,
	store FeatureStore,
	catalog CatalogLoader,
	publisher Publisher,
	opts Options,
) *Service {
	if opts.Change.Tolerance <= 0 {
		opts.Change = features.DefaultChangeOptions
	}
	if opts.LookbackDays < 0 {
		opts.LookbackDays = 0
	}
	macro := make(map[string]string, len(opts.MacroColumns))
	for name, column := range opts.MacroColumns {
		if !features.IsMacroColumn(column) {
			logger.Get().Warnw("ignoring macro indicator mapped to a non-macro column", "indicator", name, "column", column)
			continue
		}
		macro[name] = column
	}
	opts.MacroColumns = macro
	return &Service{
		tracer:    tracer,
		sources:   sources,
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Run reconciles every selected symbol sequentially. Only a failure to load
// the catalog aborts the run; symbol failures are logged and counted.
func (s *Service) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.run")
	defer span.End()

	result := RunResult{RunID: opts.RunID}

	start, end := s.window(opts.StartDate, opts.EndDate)
	if end.Before(start) {
		return result, ErrInvalidWindow
	}
	result.StartDate, result.EndDate = domain.DayKey(start), domain.DayKey(end)

	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return result, fmt.Errorf("load symbol catalog: %w", err)
	}

	symbols, unknown := catalog.Filter(opts.Symbols)
	if len(unknown) > 0 {
		logger.Get().Warnw("ignoring unknown symbols", "run_id", opts.RunID, "symbols", unknown)
		result.UnknownSymbols = unknown
	}
	span.SetAttributes(attribute.Int("symbols", len(symbols)))

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := s.Reconcile(ctx, catalog, symbol, start, end, opts.InsertOnly)
		res.FinishedAt = s.now().UTC()
		if err != nil {
			reason := SkipError
			if errors.Is(err, ErrLockTimeout) {
				reason = SkipLockTimeout
			}
			res.Skipped, res.SkipReason = true, reason
			metrics.SymbolsSkipped.WithLabelValues(reason).Inc()
			logger.Get().Warnw("symbol skipped",
				"run_id", opts.RunID, "symbol", symbol, "reason", reason, "error", err)
		}

		result.Symbols = append(result.Symbols, res)
		result.Inserted += res.Inserted
		result.Updated += res.Updated
		result.Unchanged += res.Unchanged
		result.Failed += res.Failed
		if res.Skipped {
			result.Skipped++
		}

		if s.publisher != nil {
			if err := s.publisher.PublishSymbolResult(ctx, opts.RunID, res); err != nil {
				logger.Get().Warnw("publish symbol result failed", "symbol", symbol, "error", err)
			}
		}
	}
	return result, nil
}

// window resolves the inclusive date range of a run.
func (s *Service) window(start, end time.Time) (time.Time, time.Time) {
	today := domain.StartOfDay(s.now())
	if end.IsZero() {
		end = today
	}
	if start.IsZero() {
		start = domain.StartOfDay(end).AddDate(0, 0, -s.opts.LookbackDays)
	}
	return domain.StartOfDay(start), domain.StartOfDay(end)
}

// Reconcile merges one symbol's window [start, end] (inclusive dates) into the
// materialized table. A lock wait on the existing rows returns ErrLockTimeout
// before anything is written. Errors on single hours are logged and counted.
func (s *Service) Reconcile(ctx context.Context, catalog domain.SymbolCatalog, symbol string, start, end time.Time, insertOnly bool) (SymbolResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	start, end = domain.StartOfDay(start), domain.StartOfDay(end)
	result := SymbolResult{Symbol: symbol, StartDate: domain.DayKey(start), EndDate: domain.DayKey(end)}

	if end.Before(start) {
		return result, ErrInvalidWindow
	}
	windowEnd := end.AddDate(0, 0, 1)
	log := logger.Get().With("symbol", symbol)

	history, err := s.sources.PriceTicks(ctx, symbol, start.Add(-(24*time.Hour + s.opts.Change.Tolerance)), windowEnd)
	if err != nil {
		return result, fmt.Errorf("load price ticks: %w", err)
	}
	hours := latestTickPerHour(history, start, windowEnd)
	result.Hours = len(hours)
	if len(hours) == 0 {
		log.Debugw("no price ticks in window", "start", result.StartDate, "end", result.EndDate)
		return result, nil
	}

	existing, err := s.store.ExistingRows(ctx, symbol, start, end)
	if err != nil {
		if db.IsLockTimeout(err) {
			return result, fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return result, fmt.Errorf("load existing rows: %w", err)
	}

	batch, err := s.sources.LoadBatch(ctx, domain.BatchRequest{
		Symbol:       symbol,
		MatchTerms:   catalog.MatchTerms(symbol),
		MacroColumns: s.opts.MacroColumns,
		From:         start,
		To:           windowEnd,
	})
	if err != nil {
		return result, fmt.Errorf("load source batch: %w", err)
	}

	keys := make([]domain.HourKey, 0, len(hours))
	for k := range hours {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return hours[keys[i]].Timestamp.Before(hours[keys[j]].Timestamp)
	})

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tick := hours[key]

		candidate := buildCandidate(symbol, tick, key, batch)
		if candidate.PriceChange24hPct == nil {
			candidate.PriceChange24hPct = features.Change24h(tick, history, s.opts.Change)
		}

		outcome, err := s.applyHour(ctx, existing[key], candidate, insertOnly)
		if err != nil {
			result.Failed++
			metrics.HourErrors.Inc()
			log.Errorw("reconcile hour failed", "timestamp", tick.Timestamp.Format(time.RFC3339), "error", err)
			continue
		}
		switch outcome {
		case outcomeInserted:
			result.Inserted++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	metrics.RowsInserted.Add(float64(result.Inserted))
	metrics.RowsUpdated.Add(float64(result.Updated))
	log.Infow("symbol reconciled",
		"hours", result.Hours, "inserted", result.Inserted, "updated", result.Updated,
		"unchanged", result.Unchanged, "failed", result.Failed)
	return result, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeInserted
	outcomeUpdated
)

func (s *Service) applyHour(ctx context.Context, existing, candidate *domain.FeatureRow, insertOnly bool) (outcome, error) {
	staged := features.Merge(existing, candidate)

	if existing == nil {
		candidate.DataQualityScore = features.QualityScore(candidate)
		inserted, err := s.store.InsertRow(ctx, candidate)
		if err != nil {
			return outcomeUnchanged, fmt.Errorf("insert row: %w", err)
		}
		if !inserted {
			logger.Get().Debugw("row created concurrently, leaving it for the next run",
				"symbol", candidate.Symbol, "timestamp", candidate.Timestamp().Format(time.RFC3339))
			return outcomeUnchanged, nil
		}
		return outcomeInserted, nil
	}

	if len(staged) == 0 || insertOnly {
		return outcomeUnchanged, nil
	}

	merged := *existing
	features.Apply(&merged, candidate, staged)
	merged.DataQualityScore = features.QualityScore(&merged)
	if err := s.store.UpdateFields(ctx, &merged, staged); err != nil {
		return outcomeUnchanged, fmt.Errorf("update %d fields: %w", len(staged), err)
	}
	return outcomeUpdated, nil
}

// latestTickPerHour buckets ticks in [from, to) by UTC hour, keeping the
// latest tick of each hour.
func latestTickPerHour(ticks []domain.PriceTick, from, to time.Time) map[domain.HourKey]domain.PriceTick {
	out := make(map[domain.HourKey]domain.PriceTick)
	for _, t := range ticks {
		if t.Timestamp.Before(from) || !t.Timestamp.Before(to) {
			continue
		}
		key := domain.NewHourKey(t.Timestamp)
		if prev, ok := out[key]; ok && prev.Timestamp.After(t.Timestamp) {
			continue
		}
		out[key] = t
	}
	return out
}
