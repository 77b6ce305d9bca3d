// Package app assembles the reconciler object graph shared by the server and
// the one-shot CLI.
package app

import (
	"context"

	"ml-feature-reconciler/internal/cache"
	"ml-feature-reconciler/internal/config"
	"ml-feature-reconciler/internal/events"
	"ml-feature-reconciler/internal/features"
	"ml-feature-reconciler/internal/placeholder"
	"ml-feature-reconciler/internal/provider"
	"ml-feature-reconciler/internal/reconciler"
	"ml-feature-reconciler/internal/repository"
	"ml-feature-reconciler/internal/service"
	"ml-feature-reconciler/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// App holds the wired components. Close releases what Build opened.
type App struct {
	Features     *repository.FeatureRepository
	Catalog      reconciler.CatalogLoader
	Service      *reconciler.Service
	Runner       *reconciler.Runner
	Placeholders *placeholder.Manager
	Prices       *service.PriceService

	publisher *events.Publisher
}

// Build wires repositories over pool. A nil redisClient disables the catalog
// cache and the cross-process run lock.
func Build(baseCtx context.Context, cfg *config.Config, tracer trace.Tracer, pool repository.PgxPool, redisClient *redis.Client) *App {
	assets := repository.NewAssetRepository(pool, tracer)
	sources := repository.NewSourceRepository(pool, tracer)
	featureRepo := repository.NewFeatureRepository(pool, tracer)
	collector := repository.NewCollectorRepository(pool, tracer)

	a := &App{Features: featureRepo, Catalog: assets}

	var locker reconciler.Locker
	if redisClient != nil {
		a.Catalog = cache.NewCatalogCache(redisClient, assets, cfg.Redis.CatalogCacheTTL)
		locker = cache.NewRunLock(redisClient, cfg.Redis.RunLockTTL)
	} else {
		logger.Get().Warn("redis unavailable, catalog cache and run lock disabled")
	}

	var pub reconciler.Publisher
	if p := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic); p != nil {
		a.publisher = p
		pub = p
	}

	a.Service = reconciler.NewService(tracer, sources, featureRepo, a.Catalog, pub, reconciler.Options{
		Change: features.ChangeOptions{
			Tolerance: cfg.Reconcile.Change24hTolerance,
			MaxAbsPct: cfg.Reconcile.Change24hMaxAbsPct,
		},
		MacroColumns: cfg.Reconcile.MacroIndicators,
		LookbackDays: cfg.Reconcile.LookbackDays,
	})
	a.Runner = reconciler.NewRunner(baseCtx, a.Service, locker)
	a.Placeholders = placeholder.NewManager(tracer, featureRepo, a.Catalog)

	cg := provider.NewCoinGeckoProvider(tracer, provider.CoinGeckoOptions{
		BaseURL:           cfg.CoinGecko.BaseURL,
		APIKey:            cfg.CoinGecko.APIKey,
		RequestsPerMinute: cfg.CoinGecko.RequestsPerMinute,
	})
	a.Prices = service.NewPriceService(tracer, cg, collector, a.Catalog)

	return a
}

// Close waits for background runs and flushes the event writer.
func (a *App) Close() {
	a.Runner.Wait()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Get().Warnw("close event publisher", "error", err)
		}
	}
}
