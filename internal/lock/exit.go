package lock

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// terminationSignals are the signals after which the lock is released before exiting.
var terminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// ReleaseOnTermination makes sure the lock held by h is released if the
// process is interrupted or terminated while holding it. On SIGINT or SIGTERM
// the lock is released and the process exits with 128+signal.
//
// The returned function stops the signal handling and releases the lock; it is
// safe to call more than once and is meant to be deferred right after Acquire so
// that normal returns release the lock too. A nil logger selects slog.Default.
func ReleaseOnTermination(locker Locker, h *Handle, logger *slog.Logger) (release func()) {
	if logger == nil {
		logger = slog.Default()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	done := make(chan struct{})
	var once sync.Once
	releaseOnce := func() {
		once.Do(func() {
			locker.Release(context.Background(), h)
		})
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("Received termination signal while holding migration lock", "signal", sig.String())
			releaseOnce()
			exitFunc(exitCode(sig))
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
		releaseOnce()
	}
}

func exitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
