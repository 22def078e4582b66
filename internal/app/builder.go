package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/hms-server/internal/api"
	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/config"
	"github.com/stacklok/hms-server/internal/db"
	"github.com/stacklok/hms-server/internal/lock"
	"github.com/stacklok/hms-server/internal/models"
	"github.com/stacklok/hms-server/internal/retry"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
	"github.com/stacklok/hms-server/internal/telemetry"
)

const (
	defaultHTTPAddress     = ":8080"
	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// HMSAppOptions is a function that configures the app builder
type HMSAppOptions func(*hmsAppConfig) error

// hmsAppConfig collects the builder inputs. Injected components are used as
// given and are not closed by the app.
type hmsAppConfig struct {
	config *config.Config
	logger *slog.Logger

	// Optional component overrides (primarily for testing)
	pool      *pgxpool.Pool
	locker    lock.Locker
	sessions  boot.SessionSource
	catalog   schema.Catalog
	store     seed.Store
	telemetry *telemetry.Telemetry

	// HTTP server options
	address         string
	middlewares     []func(http.Handler) http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
}

func baseConfig(opts ...HMSAppOptions) (*hmsAppConfig, error) {
	cfg := &hmsAppConfig{
		logger:          slog.Default(),
		address:         defaultHTTPAddress,
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return cfg, nil
}

// NewHMSApp wires the pool, lock, boot sequence, telemetry and HTTP server
// described by the configuration.
func NewHMSApp(ctx context.Context, opts ...HMSAppOptions) (*HMSApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	var cleanups []func()
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	tel := cfg.telemetry
	if tel == nil {
		tel, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		cleanups = append(cleanups, func() { _ = tel.Shutdown(context.Background()) })
	}

	pool := cfg.pool
	if pool == nil && needsPool(cfg) {
		pool, err = db.NewPool(ctx, cfg.config.GetDatabase(), db.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
	}

	locker, err := buildLocker(cfg, pool)
	if err != nil {
		return nil, err
	}

	seq := buildSequence(cfg, pool, locker, tel)
	readiness := NewBootReadiness(seq.Signal())

	httpServer, err := buildHTTPServer(cfg, readiness, tel)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false
	return &HMSApp{
		config: cfg.config,
		logger: cfg.logger,
		components: &AppComponents{
			Pool:      pool,
			Locker:    locker,
			Sequence:  seq,
			Readiness: readiness,
			Telemetry: tel,
		},
		catalog:         catalogFor(cfg, pool),
		httpServer:      httpServer,
		shutdownTimeout: cfg.shutdownTimeout,
		cleanups:        cleanups,
	}, nil
}

// needsPool reports whether any database-backed component was left to defaults.
func needsPool(cfg *hmsAppConfig) bool {
	return cfg.sessions == nil || cfg.catalog == nil || cfg.store == nil ||
		(cfg.locker == nil && cfg.config.GetBoot().GetLockBackend() == config.LockBackendPostgres)
}

func catalogFor(cfg *hmsAppConfig, pool *pgxpool.Pool) schema.Catalog {
	if cfg.catalog != nil {
		return cfg.catalog
	}
	return schema.NewSession(pool)
}

// buildLocker selects the lock backend from the configuration.
func buildLocker(cfg *hmsAppConfig, pool *pgxpool.Pool) (lock.Locker, error) {
	if cfg.locker != nil {
		return cfg.locker, nil
	}

	bc := cfg.config.GetBoot()
	switch bc.GetLockBackend() {
	case config.LockBackendFile:
		return lock.NewFileLocker(bc.GetLockPath(),
			lock.WithPollInterval(bc.GetLockPollInterval()),
			lock.WithStaleRecovery(bc.StaleLockRecovery),
			lock.WithLogger(cfg.logger),
		), nil
	case config.LockBackendPostgres:
		return lock.NewAdvisoryLocker(pool, bc.GetAdvisoryLockID(), bc.GetLockPollInterval(), cfg.logger), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", bc.LockBackend)
	}
}

// buildSequence assembles the boot sequence from the configuration.
func buildSequence(cfg *hmsAppConfig, pool *pgxpool.Pool, locker lock.Locker, tel *telemetry.Telemetry) *boot.Sequence {
	c := cfg.config
	bc := c.GetBoot()

	sessions := cfg.sessions
	if sessions == nil {
		sessions = boot.NewPoolSessions(pool, cfg.logger)
	}
	store := cfg.store
	if store == nil {
		store = seed.NewPGStore(pool)
	}

	opts := []boot.Option{
		boot.WithLockTimeout(bc.GetLockTimeout()),
		boot.WithLockBackend(bc.GetLockBackend()),
		boot.WithProduction(c.IsProduction()),
		boot.WithTables(models.RequiredTables(), models.OptionalTables()),
		boot.WithRetryOptions(
			retry.WithMaxAttempts(bc.GetRetryMaxAttempts()),
			retry.WithBaseDelay(bc.GetRetryBaseDelay()),
		),
		boot.WithLogger(cfg.logger),
		boot.WithTracer(tel.Tracer()),
		boot.WithMetrics(tel.BootMetrics()),
	}

	if sc := c.GetSeed(); sc.IsEnabled() {
		if sc.AdminEmail != "" && sc.AdminPassword == "" {
			cfg.logger.Warn("Admin seed email set without HMS_SEED_ADMIN_PASSWORD, admin user will not be seeded")
		}
		opts = append(opts, boot.WithSeedPlan(seed.DefaultPlan(sc.AdminEmail, sc.AdminPassword, sc.SampleData)))
	}

	return boot.New(locker, sessions, catalogFor(cfg, pool), models.Registry(), store, opts...)
}

// buildHTTPServer builds the operational HTTP server with router and middleware
func buildHTTPServer(cfg *hmsAppConfig, ready api.ReadinessChecker, tel *telemetry.Telemetry) (*http.Server, error) {
	if cfg.middlewares == nil {
		cfg.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(cfg.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Telemetry goes first so that every request is measured.
	metricsMiddleware, err := telemetry.MetricsMiddleware(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	middlewares := append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(tel.TracerProvider()),
		metricsMiddleware,
	}, cfg.middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if h := tel.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	server := &http.Server{
		Addr:         cfg.address,
		Handler:      api.NewServer(ready, serverOpts...),
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
		IdleTimeout:  cfg.idleTimeout,
	}

	cfg.logger.Info("HTTP server configured", "address", cfg.address)
	return server, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithLogger sets the logger passed to every component
func WithLogger(logger *slog.Logger) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithShutdownTimeout bounds the graceful HTTP shutdown
func WithShutdownTimeout(d time.Duration) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = d
		return nil
	}
}

// WithPool injects a connection pool. The app does not close it.
func WithPool(pool *pgxpool.Pool) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.pool = pool
		return nil
	}
}

// WithLocker allows injecting a custom migration lock (for testing)
func WithLocker(l lock.Locker) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.locker = l
		return nil
	}
}

// WithDatabase injects the boot session source, catalog and seed store,
// replacing the pool-backed defaults (for testing).
func WithDatabase(sessions boot.SessionSource, catalog schema.Catalog, store seed.Store) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.sessions = sessions
		cfg.catalog = catalog
		cfg.store = store
		return nil
	}
}

// WithTelemetry injects telemetry providers. The app does not shut them down.
func WithTelemetry(t *telemetry.Telemetry) HMSAppOptions {
	return func(cfg *hmsAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}
