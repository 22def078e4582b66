package lock

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// guardMu serializes stale checks between goroutines of one process; flock only
// coordinates separate processes reliably.
var guardMu sync.Map // map[string]*sync.Mutex

func guardMutex(path string) *sync.Mutex {
	mu, _ := guardMu.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// recoverStale removes the marker when its recorded owner is no longer running
// on this host. The read-check-remove sequence runs under a flock guard so two
// waiters cannot both decide the marker is stale and remove a fresh one.
func (l *FileLocker) recoverStale() {
	mu := guardMutex(l.path)
	mu.Lock()
	defer mu.Unlock()

	guard := flock.New(l.path + ".guard")
	locked, err := guard.TryLock()
	if err != nil {
		l.logger.Warn("Failed to take stale-lock guard", "path", guard.Path(), "error", err)
		return
	}
	if !locked {
		return
	}
	defer func() { _ = guard.Unlock() }()

	pid := l.readOwner()
	if pid <= 0 || processAlive(pid) {
		return
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Failed to remove stale migration lock", "path", l.path, "owner", pid, "error", err)
		return
	}
	l.logger.Warn("Removed stale migration lock left by a dead process", "path", l.path, "owner", pid)
}
