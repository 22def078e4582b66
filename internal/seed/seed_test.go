package seed_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/seed"
	"github.com/stacklok/hms-server/internal/seed/mocks"
)

// memoryStore is an in-memory Store with optional per-table failures.
type memoryStore struct {
	mu     sync.Mutex
	rows   map[string][]seed.Record
	nextID int64
	fail   map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string][]seed.Record), fail: make(map[string]error)}
}

func (m *memoryStore) FindOrCreate(_ context.Context, table string, key, values map[string]any) (seed.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[table]; err != nil {
		return nil, false, err
	}
	for _, r := range m.rows[table] {
		if matches(r, key) {
			return maps.Clone(r), false, nil
		}
	}
	m.nextID++
	r := maps.Clone(seed.Record(values))
	r["id"] = m.nextID
	m.rows[table] = append(m.rows[table], r)
	return maps.Clone(r), true, nil
}

func (m *memoryStore) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[table])
}

func matches(r seed.Record, key map[string]any) bool {
	for k, v := range key {
		if !reflect.DeepEqual(r[k], v) {
			return false
		}
	}
	return true
}

type collector struct {
	faults []*fault.Error
}

func (c *collector) Record(err *fault.Error) { c.faults = append(c.faults, err) }

func TestEnsureRecordDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	s := seed.NewSeeder(store)
	key := map[string]any{"name": "Urinalysis"}

	first, created, err := s.EnsureRecord(context.Background(), "lab_tests", key, map[string]any{"price": "8.00"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.EnsureRecord(context.Background(), "lab_tests", key, map[string]any{"price": "99.00"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, "8.00", second["price"])
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.count("lab_tests"))
}

func TestEnsureRecordKeyWinsOverDefaults(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	rec, _, err := seed.NewSeeder(store).EnsureRecord(context.Background(), "departments",
		map[string]any{"name": "Emergency"}, map[string]any{"name": "ER", "code": "ER"})
	require.NoError(t, err)
	assert.Equal(t, "Emergency", rec["name"])
	assert.Equal(t, "ER", rec["code"])
}

func TestEnsureRecordEmptyKey(t *testing.T) {
	t.Parallel()

	_, _, err := seed.NewSeeder(newMemoryStore()).EnsureRecord(context.Background(), "users", nil, nil)
	assert.ErrorIs(t, err, seed.ErrEmptyKey)
}

func TestEnsureRecordConcurrent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	s := seed.NewSeeder(store)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.EnsureRecord(context.Background(), "stock_items",
				map[string]any{"sku": "PARA-500"}, map[string]any{"name": fmt.Sprintf("attempt %d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.count("stock_items"))
}

func TestEnsureRecordStoreError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	storeErr := errors.New("connection refused")
	store.EXPECT().
		FindOrCreate(gomock.Any(), "users", map[string]any{"email": "a@example.com"}, gomock.Any()).
		Return(nil, false, storeErr)

	var outcomes []string
	s := seed.NewSeeder(store, seed.WithObserver(func(_, outcome string) { outcomes = append(outcomes, outcome) }))

	_, _, err := s.EnsureRecord(context.Background(), "users", map[string]any{"email": "a@example.com"}, nil)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, []string{seed.OutcomeFailed}, outcomes)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	s := seed.NewSeeder(store, seed.WithPasswordCost(bcrypt.MinCost))
	plan := seed.DefaultPlan("admin@example.com", "s3cret", true)

	first := s.Run(context.Background(), plan)
	assert.Zero(t, first.Failed)
	assert.Zero(t, first.Existing)
	total := first.Created

	second := s.Run(context.Background(), plan)
	assert.Zero(t, second.Created)
	assert.Equal(t, total, second.Existing)

	assert.Equal(t, 1, store.count("users"))
	assert.Equal(t, 1, store.count("patients"))
	assert.Equal(t, 1, store.count("encounters"))
	assert.Equal(t, 1, store.count("triages"))
	assert.Equal(t, len(plan.LabTests), store.count("lab_tests"))

	admin := store.rows["users"][0]
	assert.Equal(t, "admin", admin["role"])
	hash, ok := admin["password_hash"].(string)
	require.True(t, ok)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestRunContinuesAfterFailures(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.fail["lab_tests"] = errors.New("relation \"lab_tests\" does not exist")
	store.fail["patients"] = errors.New("relation \"patients\" does not exist")
	rec := &collector{}
	s := seed.NewSeeder(store, seed.WithRecorder(rec), seed.WithPasswordCost(bcrypt.MinCost))

	plan := seed.DefaultPlan("admin@example.com", "s3cret", true)
	sum := s.Run(context.Background(), plan)

	assert.Equal(t, len(plan.LabTests)+1, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1+len(plan.Departments)+len(plan.StockItems), sum.Created)
	require.Len(t, rec.faults, sum.Failed)
	for _, f := range rec.faults {
		assert.Equal(t, fault.SeedFailure, f.Class)
		assert.False(t, fault.IsFatal(f))
	}
}

func TestDefaultPlanWithoutAdmin(t *testing.T) {
	t.Parallel()

	assert.Empty(t, seed.DefaultPlan("", "secret", false).Admins)
	assert.Empty(t, seed.DefaultPlan("admin@example.com", "", false).Admins)
	assert.Len(t, seed.DefaultPlan("admin@example.com", "secret", false).Admins, 1)
}

func TestRecordID(t *testing.T) {
	t.Parallel()

	id, ok := seed.Record{"id": int64(7)}.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	id, ok = seed.Record{"id": int32(3)}.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok = seed.Record{"id": "x"}.ID()
	assert.False(t, ok)
	_, ok = seed.Record(nil).ID()
	assert.False(t, ok)
}
