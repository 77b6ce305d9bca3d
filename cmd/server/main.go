package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ml-feature-reconciler/internal/app"
	"ml-feature-reconciler/internal/cache"
	"ml-feature-reconciler/internal/config"
	"ml-feature-reconciler/internal/db"
	"ml-feature-reconciler/internal/handler"
	"ml-feature-reconciler/internal/job"
	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/internal/repository"
	"ml-feature-reconciler/pkg/logger"
	"ml-feature-reconciler/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "ml-feature-reconciler/docs"
)

type backgroundJob interface {
	Start(ctx context.Context)
}

var (
	loadConfigFunc         = config.Load
	initLoggerFunc         = logger.Init
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	buildAppFunc           = app.Build
	startJobFunc           = func(j backgroundJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

var errNotConnected = errors.New("not connected")

// @title           ML Feature Reconciler API
// @version         1.0
// @description     Merges collector tables into ml_features_materialized and exposes run control.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	cfg, err := loadConfigFunc()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := initLoggerFunc(cfg.App.LogLevel, cfg.App.Env); err != nil {
		logger.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		ServiceName: cfg.App.Name,
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		logger.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warnw("error shutting down tracer provider", "error", err)
		}
	}()

	if err := initPostgresFunc(ctx, db.Options{
		URL:         cfg.Postgres.URL,
		MaxConns:    cfg.Postgres.MaxConns,
		LockTimeout: cfg.Postgres.LockTimeout,
	}); err != nil {
		logger.Fatalf("init postgres: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if err := initRedisFunc(ctx, cfg.Redis.URL); err != nil {
		log.Warnw("redis unavailable, continuing without it", "error", err)
	} else {
		redisClient = cache.Client
		defer cache.Close()
	}

	metrics.Init()

	var pool repository.PgxPool
	if db.Pool != nil {
		pool = db.Pool
	}
	a := buildAppFunc(ctx, cfg, tracer, pool, redisClient)

	if cfg.Reconcile.Enabled {
		startJobFunc(job.NewReconcileJob(tracer, a.Runner, cfg.Reconcile.Interval), ctx)
	}
	if cfg.Placeholder.Enabled {
		startJobFunc(job.NewPlaceholderJob(tracer, a.Placeholders, cfg.Placeholder.Interval, cfg.Placeholder.DaysAhead), ctx)
	}
	if cfg.CoinGecko.Enabled {
		startJobFunc(job.NewPricePoller(tracer, a.Prices, cfg.CoinGecko.PollInterval), ctx)
	}

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error {
			if db.Pool == nil {
				return errNotConnected
			}
			return db.Pool.Ping(ctx)
		},
		"redis": func(ctx context.Context) error {
			if redisClient == nil {
				return errNotConnected
			}
			return redisClient.Ping(ctx).Err()
		},
	}
	h := handler.New(tracer, a.Runner, a.Features, a.Placeholders, checks)

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.App.Name))

	h.RegisterRoutes(r, cfg.App.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %s", err)
		}
	}()
	log.Infow("server started", "addr", cfg.App.HTTPAddr)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	cancel()
	a.Close()

	log.Info("Server exiting")
}
