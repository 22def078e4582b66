package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stacklok/hms-server/internal/boot"
)

// ErrBootInProgress is reported by the readiness probe until the boot
// sequence completes.
var ErrBootInProgress = errors.New("boot sequence in progress")

// BootReadiness reports readiness from the boot signal.
type BootReadiness struct {
	signal *boot.Signal

	mu  sync.RWMutex
	err error
}

// NewBootReadiness returns a BootReadiness that becomes ready when sig completes.
func NewBootReadiness(sig *boot.Signal) *BootReadiness {
	return &BootReadiness{signal: sig}
}

// Fail records a fatal boot error. The probe stays unready afterwards.
func (r *BootReadiness) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// CheckReadiness implements api.ReadinessChecker.
func (r *BootReadiness) CheckReadiness(_ context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return fmt.Errorf("boot sequence failed: %w", r.err)
	}
	if !r.signal.IsComplete() {
		return ErrBootInProgress
	}
	return nil
}
