package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ml-feature-reconciler/internal/app"
	"ml-feature-reconciler/internal/cache"
	"ml-feature-reconciler/internal/config"
	"ml-feature-reconciler/internal/db"
	"ml-feature-reconciler/internal/reconciler"
	"ml-feature-reconciler/internal/repository"
	"ml-feature-reconciler/pkg/logger"
	"ml-feature-reconciler/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

type runFunc func(ctx context.Context, opts reconciler.RunOptions) (reconciler.RunResult, error)

var (
	loadConfigFunc = config.Load
	exitFunc       = os.Exit
	// setupRunFunc wires the runner against live Postgres/Redis and returns a cleanup.
	setupRunFunc = setupRun
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		logger.Get().Errorf("reconcile: %v", err)
		exitFunc(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		symbols    string
		startDate  string
		endDate    string
		insertOnly bool
	)

	cmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Merge collector tables into ml_features_materialized",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := buildOptions(symbols, startDate, endDate, insertOnly)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfigFunc()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
				return err
			}
			defer logger.Sync()

			run, cleanup, err := setupRunFunc(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			started := time.Now()
			result, err := run(ctx, opts)
			if err != nil {
				return fmt.Errorf("run reconcile: %w", err)
			}
			logger.Get().Infow("reconcile complete", "run_id", result.RunID, "elapsed", time.Since(started).String())

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&symbols, "symbols", "", "comma-separated symbols (default: all active assets)")
	flags.StringVar(&startDate, "start-date", "", "first day YYYY-MM-DD (default: yesterday)")
	flags.StringVar(&endDate, "end-date", "", "last day YYYY-MM-DD (default: today)")
	flags.BoolVar(&insertOnly, "insert-only", false, "only insert missing rows, never update existing ones")
	return cmd
}

func buildOptions(symbols, startDate, endDate string, insertOnly bool) (reconciler.RunOptions, error) {
	opts := reconciler.RunOptions{InsertOnly: insertOnly}
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			opts.Symbols = append(opts.Symbols, s)
		}
	}

	var err error
	if opts.StartDate, err = parseDate("--start-date", startDate); err != nil {
		return opts, err
	}
	if opts.EndDate, err = parseDate("--end-date", endDate); err != nil {
		return opts, err
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.StartDate) {
		return opts, reconciler.ErrInvalidWindow
	}
	return opts, nil
}

func parseDate(flag, value string) (time.Time, error) {
	if value = strings.TrimSpace(value); value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", flag, err)
	}
	return t.UTC(), nil
}

func setupRun(ctx context.Context, cfg *config.Config) (runFunc, func(), error) {
	tp, tracer, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName: cfg.App.Name + "-cli",
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init tracer: %w", err)
	}

	if err := db.InitPostgres(ctx, db.Options{
		URL:         cfg.Postgres.URL,
		MaxConns:    cfg.Postgres.MaxConns,
		LockTimeout: cfg.Postgres.LockTimeout,
	}); err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, nil, err
	}

	var redisClient *redis.Client
	if err := cache.InitRedis(ctx, cfg.Redis.URL); err != nil {
		logger.Get().Warnw("redis unavailable, running without run lock", "error", err)
	} else {
		redisClient = cache.Client
	}

	var pool repository.PgxPool = db.Pool
	a := app.Build(ctx, cfg, tracer, pool, redisClient)

	cleanup := func() {
		a.Close()
		cache.Close()
		db.Close()
		_ = tp.Shutdown(context.Background())
	}
	return a.Runner.RunNow, cleanup, nil
}
