package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/lock"
	"github.com/stacklok/hms-server/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Pool is the shared PostgreSQL connection pool
	Pool *pgxpool.Pool

	// Locker serializes schema synchronization across processes
	Locker lock.Locker

	// Sequence runs the startup schema synchronization
	Sequence *boot.Sequence

	// Readiness backs the readiness probe
	Readiness *BootReadiness

	// Telemetry owns the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
