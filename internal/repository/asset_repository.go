package repository

import (
	"context"
	"encoding/json"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/pkg/logger"

	"go.opentelemetry.io/otel/trace"
)

// AssetRepository reads crypto_assets.
type AssetRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAssetRepository(pool PgxPool, tracer trace.Tracer) *AssetRepository {
	return &AssetRepository{pool: pool, tracer: tracer}
}

// ListAssets returns every asset. Malformed alias JSON is logged and treated as empty.
func (r *AssetRepository) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	ctx, span := r.tracer.Start(ctx, "asset-repo.list")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT symbol, name, aliases::text, COALESCE(coingecko_id, ''), is_active
FROM crypto_assets
ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]domain.Asset, 0)
	for rows.Next() {
		var a domain.Asset
		var aliases string
		if err := rows.Scan(&a.Symbol, &a.Name, &aliases, &a.CoinGeckoID, &a.IsActive); err != nil {
			return nil, err
		}
		a.Aliases = parseAliases(a.Symbol, aliases)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// LoadCatalog builds the active symbol catalog.
func (r *AssetRepository) LoadCatalog(ctx context.Context) (domain.SymbolCatalog, error) {
	assets, err := r.ListAssets(ctx)
	if err != nil {
		return domain.SymbolCatalog{}, err
	}
	return domain.NewSymbolCatalog(assets), nil
}

func parseAliases(symbol, raw string) []string {
	if raw == "" || raw == "null" {
		return nil
	}
	var aliases []string
	if err := json.Unmarshal([]byte(raw), &aliases); err != nil {
		logger.Get().Warnw("ignoring malformed aliases", "symbol", symbol, "error", err)
		return nil
	}
	return aliases
}
