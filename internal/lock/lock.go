// Package lock provides the mutual exclusion that keeps two processes from
// changing the database schema at the same time.
//
// The default FileLocker is an advisory, single-host lock: a marker file created
// exclusively in the temporary directory. It offers no protection when several
// hosts share one database, and a process killed without running its exit
// handler leaves the marker behind until an operator removes it (or stale-lock
// recovery is enabled).
package lock

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultFileName is the marker file name inside the temporary directory.
	DefaultFileName = "hms-schema-sync.lock"

	// DefaultTimeout bounds how long Acquire waits for the lock.
	DefaultTimeout = 60 * time.Second

	// DefaultPollInterval is the fixed wait between acquisition attempts.
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrLockTimeout is returned when the lock could not be acquired before the timeout.
var ErrLockTimeout = errors.New("timed out waiting for migration lock")

// Handle represents ownership of the migration lock.
type Handle struct {
	// Path identifies the lock: the marker file path or the advisory lock key.
	Path string
	// PID is the identifier of the owning process.
	PID int
	// AcquiredAt is when the lock was obtained.
	AcquiredAt time.Time
}

//go:generate mockgen -destination=mocks/mock_locker.go -package=mocks -source=lock.go Locker

// Locker acquires and releases the migration lock.
type Locker interface {
	// Acquire blocks until the lock is held, the timeout elapses (ErrLockTimeout)
	// or ctx is done.
	Acquire(ctx context.Context, timeout time.Duration) (*Handle, error)

	// Release gives up the lock. It is idempotent and never fails; problems are logged.
	Release(ctx context.Context, h *Handle)
}
