package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ml-feature-reconciler/pkg/logger"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var Pool *pgxpool.Pool

var (
	newPool = func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, cfg)
	}
	pingPool = func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
	}
)

// Options configures the shared pool.
type Options struct {
	URL         string
	MaxConns    int32
	LockTimeout time.Duration
}

// InitPostgres opens the shared pool and verifies connectivity. Every session
// gets lock_timeout so blocked row reads fail fast instead of waiting.
func InitPostgres(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("database url is empty")
	}

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.LockTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%d", opts.LockTimeout.Milliseconds())
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pingPool(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	Pool = pool
	logger.Get().Info("Connected to Postgres")
	return nil
}

// Close releases the shared pool.
func Close() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}

const (
	codeLockNotAvailable = "55P03"
	codeDeadlockDetected = "40P01"
	codeQueryCanceled    = "57014"
)

// IsLockTimeout reports whether err is a lock wait failure: lock_timeout,
// deadlock detection, or a statement cancelled while waiting.
func IsLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeQueryCanceled:
		return true
	default:
		return false
	}
}
