// Package seed inserts baseline records without ever duplicating or
// overwriting them.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/stacklok/hms-server/internal/fault"
)

// ErrEmptyKey is returned when EnsureRecord is called without a natural key.
var ErrEmptyKey = errors.New("natural key must not be empty")

// Record is a row keyed by column name.
type Record map[string]any

// ID returns the record's id column as an int64.
func (r Record) ID() (int64, bool) {
	switch v := r["id"].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=seed.go Store

// Store looks up a record by natural key and creates it when absent, as one
// atomic step with respect to other callers using the same key.
type Store interface {
	FindOrCreate(ctx context.Context, table string, key, values map[string]any) (Record, bool, error)
}

// Outcome of a single EnsureRecord call, as reported to observers.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"
)

// Seeder ensures records exist.
type Seeder struct {
	store        Store
	logger       *slog.Logger
	recorder     fault.Recorder
	observer     func(table, outcome string)
	passwordCost int
}

// Option configures a Seeder.
type Option func(*Seeder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Seeder) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets where failed records are reported.
func WithRecorder(rec fault.Recorder) Option {
	return func(s *Seeder) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// WithObserver registers a callback invoked after every EnsureRecord call.
func WithObserver(fn func(table, outcome string)) Option {
	return func(s *Seeder) {
		s.observer = fn
	}
}

// WithPasswordCost sets the bcrypt cost used to hash seeded passwords.
func WithPasswordCost(cost int) Option {
	return func(s *Seeder) {
		s.passwordCost = cost
	}
}

// NewSeeder returns a Seeder backed by store.
func NewSeeder(store Store, opts ...Option) *Seeder {
	s := &Seeder{
		store:        store,
		logger:       slog.Default(),
		recorder:     fault.Discard,
		passwordCost: defaultPasswordCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureRecord returns the record in table matching key, creating it from key
// and defaults when none exists. Key columns take precedence over defaults.
// An existing record is returned unchanged. The bool reports whether the record
// was created.
func (s *Seeder) EnsureRecord(ctx context.Context, table string, key, defaults map[string]any) (Record, bool, error) {
	if len(key) == 0 {
		return nil, false, fmt.Errorf("%s: %w", table, ErrEmptyKey)
	}

	values := make(map[string]any, len(key)+len(defaults))
	maps.Copy(values, defaults)
	maps.Copy(values, key)

	rec, created, err := s.store.FindOrCreate(ctx, table, key, values)
	if err != nil {
		s.observe(table, OutcomeFailed)
		return nil, false, fmt.Errorf("failed to ensure %s record %s: %w", table, describeKey(key), err)
	}

	if created {
		s.observe(table, OutcomeCreated)
		s.logger.Info("Seeded record", "table", table, "key", describeKey(key))
	} else {
		s.observe(table, OutcomeExisting)
		s.logger.Debug("Record already present", "table", table, "key", describeKey(key))
	}
	return rec, created, nil
}

func (s *Seeder) observe(table, outcome string) {
	if s.observer != nil {
		s.observer(table, outcome)
	}
}

// describeKey renders key deterministically for logs and lock keys.
func describeKey(key map[string]any) string {
	parts := make([]string, 0, len(key))
	for _, col := range slices.Sorted(maps.Keys(key)) {
		parts = append(parts, fmt.Sprintf("%s=%v", col, key[col]))
	}
	return strings.Join(parts, ",")
}
