package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const catalogKey = "ml-features:catalog"

type AssetLister interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

type catalogClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CatalogCache fronts the asset table with a short-lived Redis copy.
// Redis failures fall through to the database.
type CatalogCache struct {
	client catalogClient
	source AssetLister
	ttl    time.Duration
}

func NewCatalogCache(client catalogClient, source AssetLister, ttl time.Duration) *CatalogCache {
	return &CatalogCache{client: client, source: source, ttl: ttl}
}

func (c *CatalogCache) LoadCatalog(ctx context.Context) (domain.SymbolCatalog, error) {
	if assets, ok := c.cached(ctx); ok {
		return domain.NewSymbolCatalog(assets), nil
	}

	assets, err := c.source.ListAssets(ctx)
	if err != nil {
		return domain.SymbolCatalog{}, err
	}

	if data, err := json.Marshal(assets); err == nil {
		if err := c.client.Set(ctx, catalogKey, data, c.ttl).Err(); err != nil {
			logger.Get().Warnw("catalog cache write failed", "error", err)
		}
	}
	return domain.NewSymbolCatalog(assets), nil
}

func (c *CatalogCache) cached(ctx context.Context) ([]domain.Asset, bool) {
	data, err := c.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Get().Warnw("catalog cache read failed", "error", err)
		}
		return nil, false
	}
	var assets []domain.Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		logger.Get().Warnw("catalog cache entry is corrupt", "error", err)
		return nil, false
	}
	return assets, true
}
