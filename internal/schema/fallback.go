package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stacklok/hms-server/internal/fault"
)

// FallbackFunc creates a table by some path other than automatic reconciliation.
type FallbackFunc func(ctx context.Context, d ModelDescriptor) error

// ManualDDL creates tables with hand-written statements when automatic
// reconciliation cannot, typically because a referenced table or constraint is
// in an unexpected state.
type ManualDDL struct {
	exec     Executor
	catalog  Catalog
	logger   *slog.Logger
	recorder fault.Recorder
}

// NewManualDDL returns a ManualDDL that runs statements on exec and resolves
// referenced column types through catalog.
func NewManualDDL(exec Executor, catalog Catalog, opts ...Option) *ManualDDL {
	s := newSettings(opts)
	return &ManualDDL{exec: exec, catalog: catalog, logger: s.logger, recorder: s.recorder}
}

// CreateTableManually creates d.Table if it does not exist, then attaches each
// foreign key with its own statement. A failure to attach one foreign key is
// recorded and does not stop the others. If the table cannot be created, a
// stripped-down table with only column names, types and the primary key is
// created instead. The returned error is a recoverable FallbackDDLFailure and
// only occurs when neither form of the table could be created.
func (m *ManualDDL) CreateTableManually(ctx context.Context, d ModelDescriptor) error {
	overrides := make(map[string]string, len(d.ForeignKeys))
	for _, fk := range d.ForeignKeys {
		overrides[fk.Column] = m.referenceType(ctx, fk)
	}

	err := m.exec.Exec(ctx, createTableSQL(d, createTableOptions{typeOverrides: overrides}))
	if err != nil {
		m.logger.Warn("Manual table creation failed, creating table without constraints",
			"table", d.Table, "error", err)
		return m.createBare(ctx, d, err)
	}

	for _, fk := range d.ForeignKeys {
		m.addForeignKey(ctx, d.Table, fk)
	}
	m.logger.Info("Table created with manual DDL", "model", d.Name, "table", d.Table)
	return nil
}

// referenceType returns the type of the column fk points at, or
// DefaultReferenceType when it cannot be determined.
func (m *ManualDDL) referenceType(ctx context.Context, fk ForeignKey) string {
	typ, err := m.catalog.ColumnType(ctx, fk.RefTable, fk.ReferencedColumn())
	if err != nil || typ == "" {
		m.logger.Debug("Could not infer referenced column type",
			"table", fk.RefTable, "column", fk.ReferencedColumn(), "error", err)
		return DefaultReferenceType
	}
	return typ
}

func (m *ManualDDL) addForeignKey(ctx context.Context, table string, fk ForeignKey) {
	name := fk.ConstraintName(table)

	exists, err := m.catalog.ConstraintExists(ctx, table, name)
	if err == nil && exists {
		return
	}

	if err := m.exec.Exec(ctx, addForeignKeySQL(table, fk)); err != nil {
		m.logger.Warn("Failed to add foreign key", "table", table, "constraint", name, "error", err)
		m.recorder.Record(fault.NewRecoverable(fault.FallbackDDLFailure, table+"."+name, err))
	}
}

func (m *ManualDDL) createBare(ctx context.Context, d ModelDescriptor, cause error) error {
	overrides := make(map[string]string, len(d.ForeignKeys))
	for _, fk := range d.ForeignKeys {
		overrides[fk.Column] = DefaultReferenceType
	}

	if err := m.exec.Exec(ctx, createTableSQL(d, createTableOptions{bare: true, typeOverrides: overrides})); err != nil {
		m.logger.Error("Failed to create table", "table", d.Table, "error", err)
		return fault.NewRecoverable(fault.FallbackDDLFailure, d.Table,
			fmt.Errorf("manual table creation failed: %w", errors.Join(cause, err)))
	}

	m.logger.Warn("Table created without foreign keys", "model", d.Name, "table", d.Table)
	return nil
}
