package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/features"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const featureTable = "ml_features_materialized"

// selectColumns is the scan order used by scanFeatureRow.
var selectColumns = "symbol, price_date, price_hour, " +
	strings.Join(features.Columns(features.Fields), ", ") +
	", data_quality_score, updated_at"

// FeatureRepository reads and writes ml_features_materialized.
type FeatureRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewFeatureRepository(pool PgxPool, tracer trace.Tracer) *FeatureRepository {
	return &FeatureRepository{pool: pool, tracer: tracer}
}

// ExistingRows loads the stored rows for symbol between the two dates inclusive.
// Rows are read FOR SHARE so a concurrent writer holding the row surfaces as a
// lock_timeout error instead of a stale read.
func (r *FeatureRepository) ExistingRows(ctx context.Context, symbol string, startDate, endDate time.Time) (map[domain.HourKey]*domain.FeatureRow, error) {
	ctx, span := r.tracer.Start(ctx, "feature-repo.existing-rows")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	rows, err := r.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM `+featureTable+`
WHERE symbol = $1
  AND price_date >= $2::date
  AND price_date <= $3::date
FOR SHARE`, symbol, domain.StartOfDay(startDate), domain.StartOfDay(endDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.HourKey]*domain.FeatureRow)
	for rows.Next() {
		row, err := scanFeatureRow(rows)
		if err != nil {
			return nil, err
		}
		out[row.Key()] = row
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertRow writes a full row. It reports false when a concurrent writer
// created the same (symbol, date, hour) first.
func (r *FeatureRepository) InsertRow(ctx context.Context, row *domain.FeatureRow) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "feature-repo.insert-row")
	defer span.End()

	columns := append([]string{"symbol", "price_date", "price_hour"}, features.Columns(features.Fields)...)
	columns = append(columns, "data_quality_score")

	args := make([]any, 0, len(columns))
	args = append(args, row.Symbol, domain.StartOfDay(row.PriceDate), row.PriceHour)
	for _, f := range features.Fields {
		args = append(args, f.Value(row))
	}
	args = append(args, row.DataQualityScore)

	sql := fmt.Sprintf(`
INSERT INTO %s (%s, updated_at)
VALUES (%s, NOW())
ON CONFLICT (symbol, price_date, price_hour) DO NOTHING`,
		featureTable, strings.Join(columns, ", "), placeholders(1, len(columns)))

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateFields writes only the staged columns plus the recomputed score.
func (r *FeatureRepository) UpdateFields(ctx context.Context, row *domain.FeatureRow, staged []features.Field) error {
	if len(staged) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "feature-repo.update-fields")
	defer span.End()
	span.SetAttributes(attribute.Int("fields", len(staged)))

	sql, args := buildUpdate(row, staged)
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s hour %d: row not found", row.Symbol, domain.DayKey(row.PriceDate), row.PriceHour)
	}
	return nil
}

func buildUpdate(row *domain.FeatureRow, staged []features.Field) (string, []any) {
	sets := make([]string, 0, len(staged)+2)
	args := []any{row.Symbol, domain.StartOfDay(row.PriceDate), row.PriceHour}
	for _, f := range staged {
		args = append(args, f.Value(row))
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column, len(args)))
	}
	args = append(args, row.DataQualityScore)
	sets = append(sets, fmt.Sprintf("data_quality_score = $%d", len(args)), "updated_at = NOW()")

	sql := fmt.Sprintf(`
UPDATE %s SET %s
WHERE symbol = $1 AND price_date = $2::date AND price_hour = $3`,
		featureTable, strings.Join(sets, ", "))
	return sql, args
}

// ListRows returns stored rows for the API, newest first.
func (r *FeatureRepository) ListRows(ctx context.Context, symbol string, startDate, endDate time.Time, limit int) ([]domain.FeatureRow, error) {
	ctx, span := r.tracer.Start(ctx, "feature-repo.list-rows")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM `+featureTable+`
WHERE symbol = $1
  AND price_date >= $2::date
  AND price_date <= $3::date
ORDER BY price_date DESC, price_hour DESC
LIMIT $4`, symbol, domain.StartOfDay(startDate), domain.StartOfDay(endDate), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FeatureRow, 0)
	for rows.Next() {
		row, err := scanFeatureRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

// InsertPlaceholders creates empty rows for every symbol, day and hour in the
// inclusive date range. Existing rows are left untouched.
func (r *FeatureRepository) InsertPlaceholders(ctx context.Context, symbols []string, startDate, endDate time.Time) (int64, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	ctx, span := r.tracer.Start(ctx, "feature-repo.insert-placeholders")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
INSERT INTO `+featureTable+` (symbol, price_date, price_hour, data_quality_score, updated_at)
SELECT s.symbol, d::date, h, 0, NOW()
FROM unnest($1::text[]) AS s(symbol)
CROSS JOIN generate_series($2::date, $3::date, interval '1 day') AS d
CROSS JOIN generate_series(0, 23) AS h
ON CONFLICT (symbol, price_date, price_hour) DO NOTHING`,
		symbols, domain.StartOfDay(startDate), domain.StartOfDay(endDate))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Completeness aggregates stored rows per symbol over the inclusive date range.
func (r *FeatureRepository) Completeness(ctx context.Context, symbols []string, startDate, endDate time.Time) ([]domain.CompletenessReport, error) {
	ctx, span := r.tracer.Start(ctx, "feature-repo.completeness")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT symbol,
       COUNT(*),
       COUNT(*) FILTER (WHERE data_quality_score > 0),
       COALESCE(AVG(data_quality_score), 0)
FROM `+featureTable+`
WHERE symbol = ANY($1::text[])
  AND price_date >= $2::date
  AND price_date <= $3::date
GROUP BY symbol`, symbols, domain.StartOfDay(startDate), domain.StartOfDay(endDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]domain.CompletenessReport, len(symbols))
	for rows.Next() {
		var rep domain.CompletenessReport
		var present, withData int64
		if err := rows.Scan(&rep.Symbol, &present, &withData, &rep.AvgQualityScore); err != nil {
			return nil, err
		}
		rep.RowsPresent = int(present)
		rep.RowsWithData = int(withData)
		found[rep.Symbol] = rep
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expected := expectedHours(startDate, endDate)
	out := make([]domain.CompletenessReport, 0, len(symbols))
	for _, s := range symbols {
		rep, ok := found[s]
		if !ok {
			rep = domain.CompletenessReport{Symbol: s}
		}
		rep.ExpectedHours = expected
		if expected > 0 {
			rep.CompletenessPct = float64(rep.RowsWithData) / float64(expected) * 100
		}
		out = append(out, rep)
	}
	return out, nil
}

func expectedHours(startDate, endDate time.Time) int {
	start, end := domain.StartOfDay(startDate), domain.StartOfDay(endDate)
	if end.Before(start) {
		return 0
	}
	return (int(end.Sub(start).Hours())/24 + 1) * 24
}

func scanFeatureRow(rows pgx.Rows) (*domain.FeatureRow, error) {
	row := &domain.FeatureRow{}
	targets := make([]any, 0, len(features.Fields)+5)
	targets = append(targets, &row.Symbol, &row.PriceDate, &row.PriceHour)
	for _, f := range features.Fields {
		targets = append(targets, f.ScanTarget(row))
	}
	targets = append(targets, &row.DataQualityScore, &row.UpdatedAt)

	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}
	row.PriceDate = domain.StartOfDay(row.PriceDate)
	if row.UpdatedAt != nil {
		t := row.UpdatedAt.UTC()
		row.UpdatedAt = &t
	}
	return row, nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
