package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// PGReconciler reconciles tables on a PostgreSQL connection, one transaction
// per model. A missing table is created with its foreign keys inline; an
// existing table gains any declared columns and foreign keys it lacks. Columns
// are never dropped or altered.
type PGReconciler struct {
	conn   Conn
	logger *slog.Logger
}

var _ Reconciler = (*PGReconciler)(nil)

// NewPGReconciler returns a reconciler that runs on conn.
func NewPGReconciler(conn Conn, opts ...Option) *PGReconciler {
	s := newSettings(opts)
	return &PGReconciler{conn: conn, logger: s.logger}
}

// Reconcile implements Reconciler.
func (r *PGReconciler) Reconcile(ctx context.Context, d ModelDescriptor) error {
	return pgx.BeginFunc(ctx, r.conn, func(tx pgx.Tx) error {
		sess := NewSession(tx)

		exists, err := sess.TableExists(ctx, d.Table)
		if err != nil {
			return err
		}
		if !exists {
			if err := sess.Exec(ctx, createTableSQL(d, createTableOptions{inlineForeignKeys: true})); err != nil {
				return fmt.Errorf("failed to create table %s: %w", d.Table, err)
			}
			r.logger.Debug("Created table", "model", d.Name, "table", d.Table)
			return nil
		}

		return r.alter(ctx, sess, d)
	})
}

func (r *PGReconciler) alter(ctx context.Context, sess *Session, d ModelDescriptor) error {
	existing, err := sess.Columns(ctx, d.Table)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		have[c] = struct{}{}
	}

	for _, c := range d.Columns {
		if _, ok := have[c.Name]; ok {
			continue
		}
		if err := sess.Exec(ctx, addColumnSQL(d.Table, c)); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", d.Table, c.Name, err)
		}
		r.logger.Info("Added column", "table", d.Table, "column", c.Name)
	}

	for _, fk := range d.ForeignKeys {
		name := fk.ConstraintName(d.Table)
		ok, err := sess.ConstraintExists(ctx, d.Table, name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := sess.Exec(ctx, addForeignKeySQL(d.Table, fk)); err != nil {
			return fmt.Errorf("failed to add constraint %s: %w", name, err)
		}
		r.logger.Info("Added foreign key", "table", d.Table, "constraint", name)
	}
	return nil
}
