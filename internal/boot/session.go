package boot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/hms-server/internal/schema"
)

const releaseTimeout = 5 * time.Second

// Session is the one database connection every boot-time DDL statement runs
// on. Session-level settings made through it apply to all of them.
type Session interface {
	schema.Executor
	schema.Catalog
	Reconciler() schema.Reconciler
	Release()
}

// SessionSource hands out boot sessions.
type SessionSource interface {
	Acquire(ctx context.Context) (Session, error)
}

// PoolSessions acquires sessions from a pgx pool.
type PoolSessions struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPoolSessions returns a SessionSource backed by pool.
func NewPoolSessions(pool *pgxpool.Pool, logger *slog.Logger) *PoolSessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolSessions{pool: pool, logger: logger}
}

// Acquire implements SessionSource.
func (p *PoolSessions) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database session: %w", err)
	}
	return &poolSession{
		Session: schema.NewSession(conn),
		conn:    conn,
		logger:  p.logger,
	}, nil
}

type poolSession struct {
	*schema.Session
	conn   *pgxpool.Conn
	logger *slog.Logger
}

func (s *poolSession) Reconciler() schema.Reconciler {
	return schema.NewPGReconciler(s.conn, schema.WithLogger(s.logger))
}

// Release returns the connection to the pool with session_replication_role
// reset. A connection that cannot be reset is closed instead, so no pooled
// connection ever runs with foreign-key enforcement off.
func (s *poolSession) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if _, err := s.conn.Exec(ctx, "RESET session_replication_role"); err != nil {
		s.logger.Warn("Closing boot session that could not be reset", "error", err)
		conn := s.conn.Hijack()
		_ = conn.Close(ctx)
		return
	}
	s.conn.Release()
}
