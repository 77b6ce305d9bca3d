// Package placeholder pre-creates empty hourly rows so coverage gaps are
// visible before collectors deliver data.
package placeholder

import (
	"context"
	"fmt"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	InsertPlaceholders(ctx context.Context, symbols []string, startDate, endDate time.Time) (int64, error)
	Completeness(ctx context.Context, symbols []string, startDate, endDate time.Time) ([]domain.CompletenessReport, error)
}

type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (domain.SymbolCatalog, error)
}

type Manager struct {
	tracer  trace.Tracer
	store   Store
	catalog CatalogLoader
}

func NewManager(tracer trace.Tracer, store Store, catalog CatalogLoader) *Manager {
	return &Manager{tracer: tracer, store: store, catalog: catalog}
}

// EnsureRange inserts missing (symbol, date, hour) rows for the inclusive
// date range. An empty symbol list means every active symbol.
func (m *Manager) EnsureRange(ctx context.Context, symbols []string, start, end time.Time) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "placeholder.ensure-range")
	defer span.End()

	start, end = domain.StartOfDay(start), domain.StartOfDay(end)
	if end.Before(start) {
		return 0, fmt.Errorf("placeholder range %s..%s is inverted", domain.DayKey(start), domain.DayKey(end))
	}

	symbols, err := m.resolve(ctx, symbols)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("symbols", len(symbols)))

	inserted, err := m.store.InsertPlaceholders(ctx, symbols, start, end)
	if err != nil {
		return 0, fmt.Errorf("insert placeholders: %w", err)
	}
	metrics.PlaceholdersInserted.Add(float64(inserted))
	logger.Get().Infow("placeholders ensured",
		"symbols", len(symbols), "start", domain.DayKey(start), "end", domain.DayKey(end), "inserted", inserted)
	return inserted, nil
}

// Completeness reports coverage for every active symbol.
func (m *Manager) Completeness(ctx context.Context, start, end time.Time) ([]domain.CompletenessReport, error) {
	ctx, span := m.tracer.Start(ctx, "placeholder.completeness")
	defer span.End()

	start, end = domain.StartOfDay(start), domain.StartOfDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("completeness range %s..%s is inverted", domain.DayKey(start), domain.DayKey(end))
	}
	symbols, err := m.resolve(ctx, nil)
	if err != nil {
		return nil, err
	}
	return m.store.Completeness(ctx, symbols, start, end)
}

func (m *Manager) resolve(ctx context.Context, requested []string) ([]string, error) {
	catalog, err := m.catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load symbol catalog: %w", err)
	}
	symbols, unknown := catalog.Filter(requested)
	if len(unknown) > 0 {
		logger.Get().Warnw("ignoring unknown placeholder symbols", "symbols", unknown)
	}
	return symbols, nil
}
