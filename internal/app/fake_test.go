package app

import (
	"context"
	"sync"

	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
)

// stubDatabase accepts every statement and reports every table as present.
type stubDatabase struct {
	mu       sync.Mutex
	execs    []string
	inserted map[string]int
	failWith error
}

func newStubDatabase() *stubDatabase {
	return &stubDatabase{inserted: map[string]int{}}
}

func (s *stubDatabase) Acquire(context.Context) (boot.Session, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	return stubSession{s}, nil
}

func (s *stubDatabase) Exec(_ context.Context, stmt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, stmt)
	return nil
}

func (*stubDatabase) TableExists(context.Context, string) (bool, error) { return true, nil }

func (*stubDatabase) ColumnType(context.Context, string, string) (string, error) {
	return "bigint", nil
}

func (*stubDatabase) Columns(context.Context, string) ([]string, error) { return nil, nil }

func (*stubDatabase) ConstraintExists(context.Context, string, string) (bool, error) {
	return true, nil
}

func (*stubDatabase) Reconcile(context.Context, schema.ModelDescriptor) error { return nil }

func (s *stubDatabase) FindOrCreate(_ context.Context, table string, _, values map[string]any) (seed.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted[table]++
	rec := seed.Record{"id": int64(s.inserted[table])}
	for k, v := range values {
		rec[k] = v
	}
	return rec, true, nil
}

type stubSession struct {
	*stubDatabase
}

func (s stubSession) Reconciler() schema.Reconciler { return s.stubDatabase }

func (stubSession) Release() {}
