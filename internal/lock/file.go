package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileLocker implements Locker with an exclusively created marker file that
// holds the owner's process identifier.
type FileLocker struct {
	path         string
	pollInterval time.Duration
	staleRecover bool
	pid          int
	logger       *slog.Logger
	now          func() time.Time
}

var _ Locker = (*FileLocker)(nil)

// FileLockerOption configures a FileLocker.
type FileLockerOption func(*FileLocker)

// WithPollInterval sets the wait between acquisition attempts.
func WithPollInterval(d time.Duration) FileLockerOption {
	return func(l *FileLocker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithStaleRecovery lets a waiter remove a marker whose owning process is no
// longer alive on this host.
func WithStaleRecovery(enabled bool) FileLockerOption {
	return func(l *FileLocker) {
		l.staleRecover = enabled
	}
}

// WithLogger sets the logger used for release problems and stale recovery.
func WithLogger(logger *slog.Logger) FileLockerOption {
	return func(l *FileLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// withPID overrides the process identifier written to the marker (tests only).
func withPID(pid int) FileLockerOption {
	return func(l *FileLocker) {
		l.pid = pid
	}
}

// DefaultPath returns the well-known marker path in the OS temporary directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// NewFileLocker creates a FileLocker for the given marker path. An empty path
// selects DefaultPath.
func NewFileLocker(path string, opts ...FileLockerOption) *FileLocker {
	if path == "" {
		path = DefaultPath()
	}
	l := &FileLocker{
		path:         path,
		pollInterval: DefaultPollInterval,
		pid:          os.Getpid(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the marker file path.
func (l *FileLocker) Path() string {
	return l.path
}

// Acquire implements Locker.
func (l *FileLocker) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := l.now().Add(timeout)

	for attempt := 1; ; attempt++ {
		acquired, err := l.tryCreate()
		if err != nil {
			return nil, err
		}
		if acquired {
			h := &Handle{Path: l.path, PID: l.pid, AcquiredAt: l.now()}
			l.logger.Info("Acquired migration lock", "path", l.path, "pid", l.pid, "attempts", attempt)
			return h, nil
		}

		if attempt == 1 {
			l.logger.Info("Migration lock is held by another process, waiting",
				"path", l.path, "owner", l.readOwner(), "timeout", timeout)
		}

		if l.staleRecover {
			l.recoverStale()
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return nil, fmt.Errorf("%w after %s (%s)", ErrLockTimeout, timeout, l.path)
		}
		if err := sleep(ctx, min(l.pollInterval, remaining)); err != nil {
			return nil, fmt.Errorf("waiting for migration lock: %w", err)
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tryCreate attempts the exclusive create. It reports false when another
// process holds the marker.
func (l *FileLocker) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}

	_, writeErr := f.WriteString(strconv.Itoa(l.pid))
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		// The marker exists, so we own it; remove it rather than leave a half-written lock.
		_ = os.Remove(l.path)
		return false, fmt.Errorf("failed to write lock file %s: %w", l.path, err)
	}
	return true, nil
}

// readOwner returns the PID recorded in the marker, or 0 if it cannot be read.
func (l *FileLocker) readOwner() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Release implements Locker. The marker content is not re-validated.
func (l *FileLocker) Release(_ context.Context, h *Handle) {
	path := l.path
	if h != nil && h.Path != "" {
		path = h.Path
	}

	err := os.Remove(path)
	switch {
	case err == nil:
		l.logger.Info("Released migration lock", "path", path)
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("Migration lock already released", "path", path)
	default:
		l.logger.Error("Failed to release migration lock", "path", path, "error", err)
	}
}
