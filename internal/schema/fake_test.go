package schema_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/stacklok/hms-server/internal/fault"
)

var (
	createTableRe   = regexp.MustCompile(`^CREATE TABLE IF NOT EXISTS "([^"]+)"`)
	addConstraintRe = regexp.MustCompile(`^ALTER TABLE "([^"]+)" ADD CONSTRAINT "([^"]+)"`)
)

// fakeDB is an in-memory Executor and Catalog that understands the statements
// the schema package emits.
type fakeDB struct {
	mu          sync.Mutex
	tables      map[string]bool
	columnTypes map[string]string
	constraints map[string]bool
	stmts       []string
	// fail, when set, is consulted before each statement is applied.
	fail func(stmt string) error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tables:      make(map[string]bool),
		columnTypes: make(map[string]string),
		constraints: make(map[string]bool),
	}
}

func (f *fakeDB) Exec(_ context.Context, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stmts = append(f.stmts, stmt)
	if f.fail != nil {
		if err := f.fail(stmt); err != nil {
			return err
		}
	}

	if m := createTableRe.FindStringSubmatch(stmt); m != nil {
		f.tables[m[1]] = true
		return nil
	}
	if m := addConstraintRe.FindStringSubmatch(stmt); m != nil {
		key := m[1] + "." + m[2]
		if f.constraints[key] {
			return fmt.Errorf("constraint %q already exists", m[2])
		}
		f.constraints[key] = true
	}
	return nil
}

func (f *fakeDB) TableExists(_ context.Context, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table], nil
}

func (f *fakeDB) ColumnType(_ context.Context, table, column string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	typ, ok := f.columnTypes[table+"."+column]
	if !ok {
		return "", errors.New("column not found")
	}
	return typ, nil
}

func (f *fakeDB) Columns(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeDB) ConstraintExists(_ context.Context, table, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.constraints[table+"."+name], nil
}

func (f *fakeDB) statements(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.stmts {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

type collector struct {
	mu     sync.Mutex
	faults []*fault.Error
}

func (c *collector) Record(err *fault.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, err)
}

func (c *collector) classes() []fault.Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fault.Class, 0, len(c.faults))
	for _, f := range c.faults {
		out = append(out, f.Class)
	}
	return out
}
