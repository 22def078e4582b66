// Package boot runs the start-up sequence that prepares the database before
// the service accepts traffic: take the migration lock, synchronize the schema
// on a single session with foreign-key enforcement relaxed, release the lock,
// verify the expected tables and seed baseline data.
package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/lock"
	"github.com/stacklok/hms-server/internal/otel"
	"github.com/stacklok/hms-server/internal/retry"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
	"github.com/stacklok/hms-server/internal/telemetry"
)

// Sequence is one configured boot sequence. Run may be called more than once;
// every run is independent.
type Sequence struct {
	locker   lock.Locker
	sessions SessionSource
	catalog  schema.Catalog
	registry *schema.Registry
	store    seed.Store

	lockTimeout time.Duration
	lockBackend string
	production  bool
	required    []string
	optional    []string
	retryOpts   []retry.Option
	plan        *seed.Plan
	seedOpts    []seed.Option

	signal  *Signal
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.BootMetrics
	now     func() time.Time
}

// Option configures a Sequence.
type Option func(*Sequence)

// WithLockTimeout bounds how long Run waits for the migration lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Sequence) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLockBackend labels lock metrics and spans.
func WithLockBackend(name string) Option {
	return func(s *Sequence) {
		s.lockBackend = name
	}
}

// WithProduction makes missing required tables fatal.
func WithProduction(production bool) Option {
	return func(s *Sequence) {
		s.production = production
	}
}

// WithTables sets the tables checked after synchronization.
func WithTables(required, optional []string) Option {
	return func(s *Sequence) {
		s.required = required
		s.optional = optional
	}
}

// WithRetryOptions sets the retry policy for automatic reconciliation.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Sequence) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// WithSeedPlan enables seeding. Without a plan the seeding step is skipped.
func WithSeedPlan(plan seed.Plan, opts ...seed.Option) Option {
	return func(s *Sequence) {
		s.plan = &plan
		s.seedOpts = opts
	}
}

// WithSignal sets the signal completed at the end of a successful run.
func WithSignal(sig *Signal) Option {
	return func(s *Sequence) {
		if sig != nil {
			s.signal = sig
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequence) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer used for phase spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequence) {
		s.tracer = tracer
	}
}

// WithMetrics sets the boot instruments.
func WithMetrics(m *telemetry.BootMetrics) Option {
	return func(s *Sequence) {
		s.metrics = m
	}
}

// New returns a Sequence. catalog is used for verification after the boot
// session has been released; store backs the seeder.
func New(
	locker lock.Locker,
	sessions SessionSource,
	catalog schema.Catalog,
	registry *schema.Registry,
	store seed.Store,
	opts ...Option,
) *Sequence {
	s := &Sequence{
		locker:      locker,
		sessions:    sessions,
		catalog:     catalog,
		registry:    registry,
		store:       store,
		lockTimeout: lock.DefaultTimeout,
		lockBackend: "file",
		signal:      NewSignal(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signal returns the signal completed by a successful run.
func (s *Sequence) Signal() *Signal {
	return s.signal
}

// Run executes the boot sequence. A non-nil error is always fatal; recoverable
// failures are collected in the report.
func (s *Sequence) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{StartedAt: s.now()}

	ctx, span := otel.StartSpan(ctx, s.tracer, "boot.Run")
	defer span.End()

	defer func() {
		report.Duration = s.now().Sub(report.StartedAt)
		s.metrics.RecordBootDuration(ctx, report.Duration, err == nil)
		for _, f := range report.Faults() {
			s.metrics.RecordFault(ctx, f.Class.String(), f.Severity.String())
		}
		if err != nil {
			otel.RecordError(span, err)
			s.metrics.RecordFault(ctx, fault.ClassOf(err).String(), fault.Fatal.String())
			s.logger.Error("Boot sequence failed", "error", err, "report", report)
			return
		}
		s.logger.Info("Boot sequence complete", "degraded", report.Degraded(), "report", report)
	}()

	if err := s.registry.Validate(); err != nil {
		return report, fault.NewFatal(fault.SchemaSyncFailure, "registry", err)
	}

	if err := s.migrate(ctx, report); err != nil {
		return report, err
	}

	if err := s.verify(ctx, report); err != nil {
		return report, err
	}

	s.seed(ctx, report)

	s.signal.Complete()
	return report, nil
}

// migrate holds the migration lock and the boot session for the duration of
// schema synchronization. Both are released before migrate returns.
func (s *Sequence) migrate(ctx context.Context, report *Report) error {
	h, err := s.acquireLock(ctx, report)
	if err != nil {
		return err
	}
	release := lock.ReleaseOnTermination(s.locker, h, s.logger)
	defer release()

	ctx, span := otel.StartSpan(ctx, s.tracer, "boot.SyncSchema")
	defer span.End()

	sess, err := s.sessions.Acquire(ctx)
	if err != nil {
		err = fault.NewFatal(fault.SchemaSyncFailure, "session", err)
		otel.RecordError(span, err)
		return err
	}
	defer sess.Release()

	common := []schema.Option{
		schema.WithLogger(s.logger),
		schema.WithRecorder(report),
	}
	manual := schema.NewManualDDL(sess, sess, common...)
	syncer := schema.NewSynchronizer(sess.Reconciler(), append(common,
		schema.WithRetryOptions(s.reconcileRetryOptions(ctx)...),
		schema.WithFallback(schema.ManualDDLFallback, manual.CreateTableManually),
		schema.WithObserver(func(res schema.Result) {
			s.metrics.RecordSyncOutcome(ctx, res.Model, res.Outcome.String())
		}),
	)...)
	toggle := schema.NewConstraintToggle(sess, common...)

	err = toggle.WithConstraintsDisabled(ctx, func(ctx context.Context) error {
		results, err := syncer.SyncAll(ctx, s.registry)
		report.Results = results
		return err
	})
	otel.RecordError(span, err)
	return err
}

func (s *Sequence) acquireLock(ctx context.Context, report *Report) (*lock.Handle, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "boot.AcquireLock",
		trace.WithAttributes(otel.AttrLockBackend.String(s.lockBackend)))
	defer span.End()

	start := s.now()
	h, err := s.locker.Acquire(ctx, s.lockTimeout)
	report.LockWait = s.now().Sub(start)
	s.metrics.RecordLockWait(ctx, s.lockBackend, report.LockWait, err == nil)

	if err != nil {
		if !errors.Is(err, lock.ErrLockTimeout) {
			err = fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		err = fault.NewFatal(fault.LockTimeout, s.lockBackend, err)
		otel.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Migration lock acquired", "backend", s.lockBackend, "wait", report.LockWait)
	return h, nil
}

func (s *Sequence) reconcileRetryOptions(ctx context.Context) []retry.Option {
	notify := retry.WithNotify(func(err error, delay time.Duration) {
		s.metrics.RecordRetry(ctx, "schema.reconcile")
		s.logger.Warn("Transient database conflict, retrying", "delay", delay, "error", err)
	})
	return append(append([]retry.Option{}, s.retryOpts...), notify)
}

func (s *Sequence) verify(ctx context.Context, report *Report) error {
	ctx, span := otel.StartSpan(ctx, s.tracer, "boot.VerifyTables")
	defer span.End()

	v := schema.NewVerifier(s.catalog, schema.WithLogger(s.logger), schema.WithRecorder(report))
	out, err := v.VerifyTables(ctx, s.required, s.optional, s.production)
	report.Verification = out
	otel.RecordError(span, err)
	return err
}

func (s *Sequence) seed(ctx context.Context, report *Report) {
	if s.plan == nil {
		s.logger.Debug("No seed plan configured, skipping seeding")
		return
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "boot.Seed")
	defer span.End()

	opts := append([]seed.Option{
		seed.WithLogger(s.logger),
		seed.WithRecorder(report),
		seed.WithObserver(func(table, outcome string) {
			s.metrics.RecordSeed(ctx, table, outcome)
		}),
	}, s.seedOpts...)
	report.Seed = seed.NewSeeder(s.store, opts...).Run(ctx, *s.plan)
}
