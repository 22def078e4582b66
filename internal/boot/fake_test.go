package boot_test

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"regexp"
	"sync"

	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
)

var createTableRe = regexp.MustCompile(`^CREATE TABLE IF NOT EXISTS "([^"]+)"`)

// errSkipCreate makes Reconcile report success without creating the table.
var errSkipCreate = errors.New("skip create")

// fakeDatabase is an in-memory stand-in for PostgreSQL that tracks tables,
// the session replication role and how sessions are used.
type fakeDatabase struct {
	mu          sync.Mutex
	tables      map[string]bool
	role        string
	enables     int
	disables    int
	acquired    int
	released    int
	toggleErr   error
	acquireErr  error
	reconcileFn func(d schema.ModelDescriptor) error
	rows        map[string][]seed.Record
	nextID      int64
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		tables: make(map[string]bool),
		role:   "origin",
		rows:   make(map[string][]seed.Record),
	}
}

func (db *fakeDatabase) Acquire(context.Context) (boot.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.acquireErr != nil {
		return nil, db.acquireErr
	}
	db.acquired++
	return &fakeSession{db: db}, nil
}

func (db *fakeDatabase) Exec(_ context.Context, stmt string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	switch stmt {
	case "SET session_replication_role = replica":
		db.disables++
		if db.toggleErr != nil {
			return db.toggleErr
		}
		db.role = "replica"
		return nil
	case "SET session_replication_role = DEFAULT":
		db.enables++
		if db.toggleErr != nil {
			return db.toggleErr
		}
		db.role = "origin"
		return nil
	}
	if m := createTableRe.FindStringSubmatch(stmt); m != nil {
		db.tables[m[1]] = true
	}
	return nil
}

func (db *fakeDatabase) TableExists(_ context.Context, table string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tables[table], nil
}

func (db *fakeDatabase) ColumnType(context.Context, string, string) (string, error) {
	return "", errors.New("not tracked")
}

func (db *fakeDatabase) Columns(context.Context, string) ([]string, error) {
	return nil, nil
}

func (db *fakeDatabase) ConstraintExists(context.Context, string, string) (bool, error) {
	return false, nil
}

func (db *fakeDatabase) Reconcile(_ context.Context, d schema.ModelDescriptor) error {
	if db.reconcileFn != nil {
		err := db.reconcileFn(d)
		if errors.Is(err, errSkipCreate) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[d.Table] = true
	return nil
}

func (db *fakeDatabase) FindOrCreate(_ context.Context, table string, key, values map[string]any) (seed.Record, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.tables[table] {
		return nil, false, errors.New(`relation "` + table + `" does not exist`)
	}
	for _, r := range db.rows[table] {
		match := true
		for k, v := range key {
			if !reflect.DeepEqual(r[k], v) {
				match = false
				break
			}
		}
		if match {
			return maps.Clone(r), false, nil
		}
	}
	db.nextID++
	r := maps.Clone(seed.Record(values))
	r["id"] = db.nextID
	db.rows[table] = append(db.rows[table], r)
	return maps.Clone(r), true, nil
}

func (db *fakeDatabase) rowCount(table string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.rows[table])
}

// fakeSession routes everything to its database and counts releases.
type fakeSession struct {
	db *fakeDatabase
}

func (s *fakeSession) Exec(ctx context.Context, stmt string) error { return s.db.Exec(ctx, stmt) }

func (s *fakeSession) TableExists(ctx context.Context, table string) (bool, error) {
	return s.db.TableExists(ctx, table)
}

func (s *fakeSession) ColumnType(ctx context.Context, table, column string) (string, error) {
	return s.db.ColumnType(ctx, table, column)
}

func (s *fakeSession) Columns(ctx context.Context, table string) ([]string, error) {
	return s.db.Columns(ctx, table)
}

func (s *fakeSession) ConstraintExists(ctx context.Context, table, name string) (bool, error) {
	return s.db.ConstraintExists(ctx, table, name)
}

func (s *fakeSession) Reconciler() schema.Reconciler { return s.db }

func (s *fakeSession) Release() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.released++
}
