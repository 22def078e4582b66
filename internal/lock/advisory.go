package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAdvisoryKey names the advisory lock used when none is configured.
const DefaultAdvisoryKey = "hms-schema-sync"

// AdvisoryLocker implements Locker with a PostgreSQL session-level advisory
// lock, which also excludes processes running on other hosts. The lock lives on
// a dedicated pooled connection held until Release.
type AdvisoryLocker struct {
	pool         *pgxpool.Pool
	key          string
	pollInterval time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	conns map[*Handle]*pgxpool.Conn
}

var _ Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker creates an AdvisoryLocker for key on pool.
func NewAdvisoryLocker(pool *pgxpool.Pool, key string, pollInterval time.Duration, logger *slog.Logger) *AdvisoryLocker {
	if key == "" {
		key = DefaultAdvisoryKey
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{
		pool:         pool,
		key:          key,
		pollInterval: pollInterval,
		logger:       logger,
		conns:        make(map[*Handle]*pgxpool.Conn),
	}
}

// Acquire implements Locker.
func (l *AdvisoryLocker) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	lockID := hashLockKey(l.key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	for {
		var acquired bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
			conn.Release()
			return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
		}
		if acquired {
			h := &Handle{Path: fmt.Sprintf("pg_advisory:%s", l.key), PID: os.Getpid(), AcquiredAt: time.Now()}
			l.mu.Lock()
			l.conns[h] = conn
			l.mu.Unlock()
			l.logger.Info("Acquired advisory migration lock", "key", l.key, "lock_id", lockID)
			return h, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			conn.Release()
			return nil, fmt.Errorf("%w after %s (advisory key %s)", ErrLockTimeout, timeout, l.key)
		}
		if err := sleep(ctx, min(l.pollInterval, remaining)); err != nil {
			conn.Release()
			return nil, fmt.Errorf("waiting for advisory migration lock: %w", err)
		}
	}
}

// Release implements Locker.
func (l *AdvisoryLocker) Release(ctx context.Context, h *Handle) {
	l.mu.Lock()
	conn, ok := l.conns[h]
	delete(l.conns, h)
	l.mu.Unlock()
	if !ok {
		return
	}
	defer conn.Release()

	lockID := hashLockKey(l.key)
	if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
		l.logger.Error("Failed to release advisory migration lock", "key", l.key, "error", err)
		return
	}
	l.logger.Info("Released advisory migration lock", "key", l.key)
}

// hashLockKey maps key to the non-negative int64 advisory lock space with FNV-1a.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
