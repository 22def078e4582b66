package boot_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/hms-server/database"
	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/lock"
	"github.com/stacklok/hms-server/internal/models"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
)

func newPostgresSequence(pool *pgxpool.Pool, lockPath string) *boot.Sequence {
	return boot.New(
		lock.NewFileLocker(lockPath, lock.WithPollInterval(10*time.Millisecond)),
		boot.NewPoolSessions(pool, nil),
		schema.NewSession(pool),
		models.Registry(),
		seed.NewPGStore(pool),
		boot.WithLockTimeout(10*time.Second),
		boot.WithProduction(true),
		boot.WithTables(models.RequiredTables(), models.OptionalTables()),
		boot.WithSeedPlan(seed.DefaultPlan("admin@example.com", "s3cret", true), seed.WithPasswordCost(bcrypt.MinCost)),
	)
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		"SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestBootAgainstPostgres(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	lockPath := filepath.Join(t.TempDir(), lock.DefaultFileName)

	report, err := newPostgresSequence(pool, lockPath).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, report.Count(schema.Synchronized))
	assert.True(t, report.Verification.OK())
	assert.Empty(t, report.Faults())

	catalog := schema.NewSession(pool)
	for _, table := range models.Registry().Tables() {
		ok, err := catalog.TableExists(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}

	counts := map[string]int{}
	for _, table := range models.Registry().Tables() {
		counts[table] = countRows(t, pool, table)
	}
	assert.Equal(t, 1, counts[models.TableUsers])
	assert.Equal(t, 1, counts[models.TableTriages])

	// A second boot against the same database is a no-op for data.
	second, err := newPostgresSequence(pool, lockPath).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Seed.Created)
	for table, n := range counts {
		assert.Equal(t, n, countRows(t, pool, table), table)
	}

	// Every pooled connection must come back with FK enforcement on.
	for range int(pool.Stat().TotalConns()) + 1 {
		var role string
		require.NoError(t, pool.QueryRow(ctx, "SHOW session_replication_role").Scan(&role))
		assert.Equal(t, "origin", role)
	}

	_, err = pool.Exec(ctx, `INSERT INTO "encounters" ("patient_id", "reason") VALUES (999999, 'orphan')`)
	require.Error(t, err, "foreign keys must be enforced after boot")
}
