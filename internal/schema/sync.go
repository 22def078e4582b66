package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/retry"
)

// Outcome is the result of synchronizing one model.
type Outcome int

const (
	// Synchronized means automatic reconciliation succeeded.
	Synchronized Outcome = iota
	// FallbackApplied means automatic reconciliation failed and the model's
	// fallback ran in its place.
	FallbackApplied
	// Failed means automatic reconciliation failed and no fallback was available.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Synchronized:
		return "synchronized"
	case FallbackApplied:
		return "fallback_applied"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes the synchronization of one model. Err is a fatal
// SchemaSyncFailure when Outcome is Failed, and a recoverable
// FallbackDDLFailure when the fallback itself could not create the table.
type Result struct {
	Model   string
	Table   string
	Outcome Outcome
	Err     error
}

// Synchronizer reconciles registered models one at a time, in order.
type Synchronizer struct {
	reconciler Reconciler
	logger     *slog.Logger
	recorder   fault.Recorder
	retryOpts  []retry.Option
	fallbacks  map[FallbackKind]FallbackFunc
	observer   func(Result)
}

// NewSynchronizer returns a Synchronizer. Fallback procedures are bound with
// WithFallback.
func NewSynchronizer(r Reconciler, opts ...Option) *Synchronizer {
	s := newSettings(opts)
	return &Synchronizer{
		reconciler: r,
		logger:     s.logger,
		recorder:   s.recorder,
		retryOpts:  s.retryOpts,
		fallbacks:  s.fallbacks,
		observer:   s.observer,
	}
}

// SyncModel synchronizes a single entry. Automatic reconciliation is retried on
// transient lock conflicts.
func (s *Synchronizer) SyncModel(ctx context.Context, e Entry) Result {
	res := s.syncModel(ctx, e)
	if s.observer != nil {
		s.observer(res)
	}
	return res
}

func (s *Synchronizer) syncModel(ctx context.Context, e Entry) Result {
	d := e.Descriptor
	res := Result{Model: d.Name, Table: d.Table}

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.reconciler.Reconcile(ctx, d)
	}, s.retryOpts...)
	if err == nil {
		s.logger.Info("Model synchronized", "model", d.Name, "table", d.Table)
		res.Outcome = Synchronized
		return res
	}

	fallback, ok := s.fallbacks[e.Fallback]
	if e.Fallback == NoFallback || !ok {
		s.logger.Error("Model synchronization failed", "model", d.Name, "table", d.Table, "error", err)
		if retry.IsTransientDeadlock(err) {
			err = fault.NewFatal(fault.TransientDeadlock, d.Name, err)
		}
		res.Outcome = Failed
		res.Err = fault.NewFatal(fault.SchemaSyncFailure, d.Name, err)
		return res
	}

	s.logger.Warn("Automatic synchronization failed, applying fallback",
		"model", d.Name, "table", d.Table, "fallback", e.Fallback.String(), "error", err)
	res.Outcome = FallbackApplied
	if ferr := fallback(ctx, d); ferr != nil {
		fe := asRecoverable(fault.FallbackDDLFailure, d.Name, ferr)
		s.recorder.Record(fe)
		res.Err = fe
	}
	return res
}

// SyncAll synchronizes every registered entry, independent models first, and
// stops at the first Failed result. The results gathered so far are returned
// alongside the fatal error.
func (s *Synchronizer) SyncAll(ctx context.Context, reg *Registry) ([]Result, error) {
	entries := reg.Entries()
	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, fault.NewFatal(fault.SchemaSyncFailure, e.Descriptor.Name, err)
		}
		res := s.SyncModel(ctx, e)
		results = append(results, res)
		if res.Outcome == Failed {
			return results, res.Err
		}
	}
	return results, nil
}

func asRecoverable(class fault.Class, entity string, err error) *fault.Error {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Severity == fault.Recoverable {
		return fe
	}
	return fault.NewRecoverable(class, entity, err)
}
