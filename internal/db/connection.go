// Package db contains code for connecting to the database.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/hms-server/internal/config"
	"github.com/stacklok/hms-server/internal/retry"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingAttempts   = 5
	defaultPingDelay      = 500 * time.Millisecond
)

// Option configures NewPool
type Option func(*poolOptions)

type poolOptions struct {
	pingAttempts int
	pingDelay    time.Duration
	logger       *slog.Logger
}

// WithPingRetry sets how often the initial ping is attempted before giving up.
func WithPingRetry(attempts int, delay time.Duration) Option {
	return func(o *poolOptions) {
		o.pingAttempts = attempts
		o.pingDelay = delay
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *poolOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// PoolConfig translates the database configuration into a pgxpool configuration.
func PoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.GetMaxConns()
	poolCfg.MinConns = cfg.MinConns
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolCfg.MaxConnLifetime = lifetime
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	return poolCfg, nil
}

// NewPool opens a connection pool and waits until the server answers a ping.
// The pool must be closed by the caller.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (*pgxpool.Pool, error) {
	o := &poolOptions{
		pingAttempts: defaultPingAttempts,
		pingDelay:    defaultPingDelay,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	_, err = retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		retry.WithMaxAttempts(o.pingAttempts),
		retry.WithBaseDelay(o.pingDelay),
		retry.WithClassifier(func(error) bool { return true }),
		retry.WithNotify(func(err error, delay time.Duration) {
			o.logger.Warn("Database not reachable yet, retrying", "delay", delay, "error", err)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	o.logger.Info("Database connection established",
		"user", cfg.GetUser(), "host", cfg.GetHost(), "port", cfg.GetPort(), "database", cfg.GetDatabase())
	return pool, nil
}
