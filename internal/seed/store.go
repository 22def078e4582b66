package seed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TxStarter is satisfied by *pgxpool.Pool, *pgxpool.Conn and *pgx.Conn.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore implements Store on PostgreSQL. Each call runs in its own
// transaction holding a transaction-scoped advisory lock derived from the table
// and natural key, so concurrent callers seeding the same key are serialized
// even when the table has no unique index on it.
type PGStore struct {
	db TxStarter
}

var _ Store = (*PGStore)(nil)

// NewPGStore returns a PGStore.
func NewPGStore(db TxStarter) *PGStore {
	return &PGStore{db: db}
}

// FindOrCreate implements Store.
func (p *PGStore) FindOrCreate(ctx context.Context, table string, key, values map[string]any) (Record, bool, error) {
	var (
		rec     Record
		created bool
	)
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(table, key)); err != nil {
			return fmt.Errorf("failed to lock %s: %w", table, err)
		}

		found, err := find(ctx, tx, table, key)
		if err == nil {
			rec = found
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		rec, err = insert(ctx, tx, table, values)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

func find(ctx context.Context, tx pgx.Tx, table string, key map[string]any) (Record, error) {
	where, args := keyCondition(key)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY 1 LIMIT 1", pgx.Identifier{table}.Sanitize(), where)
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	return Record(m), nil
}

// keyCondition matches every natural key column. A nil key value matches NULL.
func keyCondition(key map[string]any) (string, []any) {
	cols := slices.Sorted(maps.Keys(key))
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM $%d", pgx.Identifier{col}.Sanitize(), i+1)
		args[i] = key[col]
	}
	return strings.Join(conds, " AND "), args
}

func insert(ctx context.Context, tx pgx.Tx, table string, values map[string]any) (Record, error) {
	cols := slices.Sorted(maps.Keys(values))
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		names[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(params, ", "))
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return Record(m), nil
}

// advisoryKey maps a table and natural key onto the int64 key space of
// pg_advisory_xact_lock.
func advisoryKey(table string, key map[string]any) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(table))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(describeKey(key)))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
