package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks -source=session.go Executor,Catalog,Reconciler

// Executor runs one DDL or administrative statement.
type Executor interface {
	Exec(ctx context.Context, stmt string) error
}

// Catalog answers questions about the live schema.
type Catalog interface {
	// TableExists reports whether table exists in the current schema.
	TableExists(ctx context.Context, table string) (bool, error)
	// ColumnType returns the SQL type of table.column.
	ColumnType(ctx context.Context, table, column string) (string, error)
	// Columns returns the column names of table in ordinal order.
	Columns(ctx context.Context, table string) ([]string, error)
	// ConstraintExists reports whether a constraint named name exists on table.
	ConstraintExists(ctx context.Context, table, name string) (bool, error)
}

// Reconciler brings a single table in line with its descriptor.
type Reconciler interface {
	Reconcile(ctx context.Context, d ModelDescriptor) error
}

// ErrColumnNotFound is returned by ColumnType for an unknown column.
var ErrColumnNotFound = errors.New("column not found")

const (
	tableExistsQuery = `
SELECT count(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1`

	columnTypeQuery = `
SELECT CASE WHEN data_type = 'USER-DEFINED' THEN udt_name ELSE data_type END
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`

	columnsQuery = `
SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	constraintExistsQuery = `
SELECT count(*) FROM information_schema.table_constraints
WHERE table_schema = current_schema() AND table_name = $1 AND constraint_name = $2`
)

// Session runs statements and catalog queries on one PostgreSQL connection.
// Session-level settings such as session_replication_role only hold for
// statements that go through the same Session.
type Session struct {
	conn Conn
}

var (
	_ Executor = (*Session)(nil)
	_ Catalog  = (*Session)(nil)
)

// NewSession wraps conn.
func NewSession(conn Conn) *Session {
	return &Session{conn: conn}
}

// Exec implements Executor.
func (s *Session) Exec(ctx context.Context, stmt string) error {
	_, err := s.conn.Exec(ctx, stmt)
	return err
}

// TableExists implements Catalog.
func (s *Session) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := s.conn.QueryRow(ctx, tableExistsQuery, table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// ColumnType implements Catalog.
func (s *Session) ColumnType(ctx context.Context, table, column string) (string, error) {
	var typ string
	err := s.conn.QueryRow(ctx, columnTypeQuery, table, column).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up type of %s.%s: %w", table, column, err)
	}
	return typ, nil
}

// Columns implements Catalog.
func (s *Session) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.Query(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return cols, nil
}

// ConstraintExists implements Catalog.
func (s *Session) ConstraintExists(ctx context.Context, table, name string) (bool, error) {
	var n int
	if err := s.conn.QueryRow(ctx, constraintExistsQuery, table, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up constraint %s on %s: %w", name, table, err)
	}
	return n > 0, nil
}
