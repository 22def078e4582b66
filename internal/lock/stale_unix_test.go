//go:build unix

package lock

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker_RecoversStaleMarker(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	// A PID far above any kernel pid_max cannot be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	l := NewFileLocker(path, WithPollInterval(5*time.Millisecond), WithStaleRecovery(true))
	h, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer l.Release(context.Background(), h)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestFileLocker_LiveOwnerIsNotStale(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	l := NewFileLocker(path, WithPollInterval(5*time.Millisecond), WithStaleRecovery(true))
	_, err := l.Acquire(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestProcessAlive(t *testing.T) {
	t.Parallel()

	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(999999999))
	assert.False(t, processAlive(0), "pid 0 addresses the process group, not an owner")
}

// Not parallel: swaps the package exit hook and signals the test process.
func TestReleaseOnTermination_Signal(t *testing.T) {
	l := newTestLocker(t)
	h, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	exited := make(chan int, 1)
	exitFunc = func(code int) { exited <- code }
	t.Cleanup(func() { exitFunc = os.Exit })

	var logs bytes.Buffer
	release := ReleaseOnTermination(l, h, slog.New(slog.NewTextHandler(&logs, nil)))
	defer release()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case code := <-exited:
		assert.Equal(t, 128+int(syscall.SIGTERM), code)
	case <-time.After(5 * time.Second):
		t.Fatal("termination handler did not run")
	}
	assert.Contains(t, logs.String(), "Received termination signal while holding migration lock")

	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err), "lock file must be removed on termination")
}
