package boot_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/lock"
	lockmocks "github.com/stacklok/hms-server/internal/lock/mocks"
	"github.com/stacklok/hms-server/internal/models"
	"github.com/stacklok/hms-server/internal/retry"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
)

func newSequence(t *testing.T, db *fakeDatabase, locker lock.Locker, opts ...boot.Option) *boot.Sequence {
	t.Helper()

	base := []boot.Option{
		boot.WithLockTimeout(time.Second),
		boot.WithTables(models.RequiredTables(), models.OptionalTables()),
		boot.WithRetryOptions(retry.WithBaseDelay(time.Millisecond)),
		boot.WithSeedPlan(seed.DefaultPlan("admin@example.com", "s3cret", true), seed.WithPasswordCost(bcrypt.MinCost)),
	}
	return boot.New(locker, db, db, models.Registry(), db, append(base, opts...)...)
}

func fileLocker(t *testing.T) *lock.FileLocker {
	t.Helper()
	return lock.NewFileLocker(filepath.Join(t.TempDir(), lock.DefaultFileName), lock.WithPollInterval(5*time.Millisecond))
}

// expectLock sets up a mock locker that grants the lock and expects exactly
// one release.
func expectLock(t *testing.T) *lockmocks.MockLocker {
	t.Helper()

	ctrl := gomock.NewController(t)
	locker := lockmocks.NewMockLocker(ctrl)
	h := &lock.Handle{Path: "mock", PID: os.Getpid(), AcquiredAt: time.Now()}
	locker.EXPECT().Acquire(gomock.Any(), time.Second).Return(h, nil)
	locker.EXPECT().Release(gomock.Any(), h).Times(1)
	return locker
}

func TestRunCompletesBoot(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	locker := fileLocker(t)
	seq := newSequence(t, db, locker)

	report, err := seq.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 11, report.Count(schema.Synchronized))
	assert.True(t, report.Verification.OK())
	assert.Empty(t, report.Verification.MissingOptional)
	assert.False(t, report.Degraded())
	assert.True(t, seq.Signal().IsComplete())

	assert.Equal(t, 1, db.disables)
	assert.Equal(t, 1, db.enables)
	assert.Equal(t, "origin", db.role)
	assert.Equal(t, 1, db.acquired)
	assert.Equal(t, 1, db.released)

	_, statErr := os.Stat(locker.Path())
	assert.True(t, os.IsNotExist(statErr), "lock marker should be removed")

	assert.Equal(t, 1, db.rowCount(models.TableUsers))
	assert.Equal(t, 1, db.rowCount(models.TableTriages))
	assert.Positive(t, report.Seed.Created)
}

func TestRunTwiceDoesNotDuplicateSeeds(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	locker := fileLocker(t)

	first, err := newSequence(t, db, locker).Run(context.Background())
	require.NoError(t, err)

	counts := map[string]int{}
	for _, table := range models.Registry().Tables() {
		counts[table] = db.rowCount(table)
	}

	second, err := newSequence(t, db, locker).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.Seed.Created)
	assert.Equal(t, first.Seed.Created, second.Seed.Existing)
	for table, n := range counts {
		assert.Equal(t, n, db.rowCount(table), table)
	}
}

func TestRunLockTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	locker := lockmocks.NewMockLocker(ctrl)
	locker.EXPECT().Acquire(gomock.Any(), time.Second).
		Return(nil, fmt.Errorf("%w after 1s", lock.ErrLockTimeout))

	db := newFakeDatabase()
	seq := newSequence(t, db, locker)

	_, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.Equal(t, fault.LockTimeout, fault.ClassOf(err))
	assert.ErrorIs(t, err, lock.ErrLockTimeout)

	assert.Zero(t, db.acquired)
	assert.False(t, seq.Signal().IsComplete())
}

func TestRunLockHeldByAnotherProcess(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	locker := fileLocker(t)
	require.NoError(t, os.WriteFile(locker.Path(), []byte("1"), 0o600))

	_, err := newSequence(t, db, locker, boot.WithLockTimeout(50*time.Millisecond)).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.LockTimeout, fault.ClassOf(err))
	assert.Zero(t, db.disables)
}

func TestRunMidSequenceFailureRestoresConstraints(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	db.reconcileFn = func(d schema.ModelDescriptor) error {
		if d.Table == models.TableStockItems {
			return errors.New("permission denied for schema public")
		}
		return nil
	}
	seq := newSequence(t, db, expectLock(t))

	report, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
	assert.Equal(t, fault.SchemaSyncFailure, fault.ClassOf(err))

	assert.Equal(t, 1, db.enables, "constraints must be re-enabled exactly once")
	assert.Equal(t, "origin", db.role)
	assert.Equal(t, 1, db.released)

	require.Len(t, report.Results, 5)
	assert.Equal(t, schema.Failed, report.Results[4].Outcome)
	assert.False(t, db.tables[models.TableEncounters])
	assert.False(t, seq.Signal().IsComplete())
	assert.Zero(t, db.rowCount(models.TableUsers))
}

func TestRunFallbackApplied(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	db.reconcileFn = func(d schema.ModelDescriptor) error {
		if d.Table == models.TableEncounters {
			return errors.New(`relation "patients" does not exist`)
		}
		return nil
	}
	seq := newSequence(t, db, expectLock(t))

	report, err := seq.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(schema.FallbackApplied))
	assert.Equal(t, 10, report.Count(schema.Synchronized))
	assert.True(t, db.tables[models.TableEncounters])
	assert.True(t, seq.Signal().IsComplete())
}

func TestRunRetriesTransientDeadlock(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	db := newFakeDatabase()
	db.reconcileFn = func(d schema.ModelDescriptor) error {
		if d.Table == models.TablePatients && attempts.Add(1) == 1 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	}

	report, err := newSequence(t, db, expectLock(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, 11, report.Count(schema.Synchronized))
}

func TestRunMissingRequiredTable(t *testing.T) {
	t.Parallel()

	skipUsers := func(d schema.ModelDescriptor) error {
		if d.Table == models.TableUsers {
			return errSkipCreate
		}
		return nil
	}

	t.Run("production", func(t *testing.T) {
		t.Parallel()

		db := newFakeDatabase()
		db.reconcileFn = skipUsers
		seq := newSequence(t, db, expectLock(t), boot.WithProduction(true))

		report, err := seq.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, fault.TableVerificationFailure, fault.ClassOf(err))
		assert.Equal(t, []string{models.TableUsers}, report.Verification.MissingRequired)
		assert.False(t, seq.Signal().IsComplete())
		assert.Zero(t, db.rowCount(models.TableLabTests), "seeding must not run")
	})

	t.Run("development", func(t *testing.T) {
		t.Parallel()

		db := newFakeDatabase()
		db.reconcileFn = skipUsers
		seq := newSequence(t, db, expectLock(t))

		report, err := seq.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.Degraded())
		assert.True(t, seq.Signal().IsComplete())
		assert.Equal(t, 1, report.Seed.Failed)

		var classes []fault.Class
		for _, f := range report.Faults() {
			classes = append(classes, f.Class)
		}
		assert.Contains(t, classes, fault.TableVerificationFailure)
		assert.Contains(t, classes, fault.SeedFailure)
	})
}

func TestRunToggleFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	db.toggleErr = errors.New("must be superuser to set session_replication_role")
	seq := newSequence(t, db, expectLock(t))

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, seq.Signal().IsComplete())

	faults := report.Faults()
	require.Len(t, faults, 2)
	for _, f := range faults {
		assert.Equal(t, fault.ConstraintToggleFailure, f.Class)
	}
	assert.Equal(t, 1, db.enables)
}

func TestRunSessionUnavailable(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	db.acquireErr = errors.New("too many connections")

	_, err := newSequence(t, db, expectLock(t)).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.SchemaSyncFailure, fault.ClassOf(err))
	assert.Zero(t, db.disables)
}

func TestRunInvalidRegistry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	locker := lockmocks.NewMockLocker(ctrl)

	db := newFakeDatabase()
	reg := schema.NewRegistry().Independent(schema.ModelDescriptor{Name: "Broken"})
	seq := boot.New(locker, db, db, reg, db)

	_, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrInvalidDescriptor)
	assert.Zero(t, db.acquired)
}

func TestRunWithoutSeedPlan(t *testing.T) {
	t.Parallel()

	db := newFakeDatabase()
	seq := boot.New(expectLock(t), db, db, models.Registry(), db, boot.WithLockTimeout(time.Second))

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Seed.Created)
	assert.Zero(t, db.rowCount(models.TableUsers))
}
