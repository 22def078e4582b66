package schema

import (
	"context"
	"log/slog"

	"github.com/stacklok/hms-server/internal/fault"
)

const (
	disableConstraintsSQL = "SET session_replication_role = replica"
	enableConstraintsSQL  = "SET session_replication_role = DEFAULT"
)

// ConstraintToggle switches foreign-key enforcement off and on for the session
// behind its Executor. Failures are reported as recoverable and never stop the
// caller.
type ConstraintToggle struct {
	exec     Executor
	logger   *slog.Logger
	recorder fault.Recorder
}

// NewConstraintToggle returns a toggle that runs on exec.
func NewConstraintToggle(exec Executor, opts ...Option) *ConstraintToggle {
	s := newSettings(opts)
	return &ConstraintToggle{exec: exec, logger: s.logger, recorder: s.recorder}
}

// Disable turns foreign-key enforcement off for the session.
func (t *ConstraintToggle) Disable(ctx context.Context) error {
	return t.set(ctx, disableConstraintsSQL, "disable")
}

// Enable restores foreign-key enforcement for the session.
func (t *ConstraintToggle) Enable(ctx context.Context) error {
	return t.set(ctx, enableConstraintsSQL, "enable")
}

func (t *ConstraintToggle) set(ctx context.Context, stmt, action string) error {
	if err := t.exec.Exec(ctx, stmt); err != nil {
		fe := fault.NewRecoverable(fault.ConstraintToggleFailure, action, err)
		t.logger.Warn("Failed to toggle foreign key enforcement", "action", action, "error", err)
		t.recorder.Record(fe)
		return fe
	}
	t.logger.Debug("Foreign key enforcement toggled", "action", action)
	return nil
}

// WithConstraintsDisabled runs fn with enforcement disabled. Enforcement is
// re-enabled exactly once when fn returns or panics, whether or not disabling
// succeeded. The returned error is fn's.
func (t *ConstraintToggle) WithConstraintsDisabled(ctx context.Context, fn func(context.Context) error) error {
	_ = t.Disable(ctx)
	defer func() {
		// Restore on a context that outlives cancellation of ctx.
		_ = t.Enable(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
