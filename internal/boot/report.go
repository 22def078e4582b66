package boot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/seed"
)

// Report summarizes one run of the boot sequence.
type Report struct {
	StartedAt    time.Time
	Duration     time.Duration
	LockWait     time.Duration
	Results      []schema.Result
	Verification schema.Verification
	Seed         seed.Summary

	mu     sync.Mutex
	faults []*fault.Error
}

var _ fault.Recorder = (*Report)(nil)

// Record implements fault.Recorder.
func (r *Report) Record(err *fault.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, err)
}

// Faults returns the recoverable failures recorded during the run.
func (r *Report) Faults() []*fault.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fault.Error, len(r.faults))
	copy(out, r.faults)
	return out
}

// Degraded reports whether the run finished with recoverable failures.
func (r *Report) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults) > 0
}

// Count returns how many models ended with outcome.
func (r *Report) Count(outcome schema.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// LogValue implements slog.LogValuer.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("duration", r.Duration),
		slog.Duration("lock_wait", r.LockWait),
		slog.Int("synchronized", r.Count(schema.Synchronized)),
		slog.Int("fallback_applied", r.Count(schema.FallbackApplied)),
		slog.Int("failed", r.Count(schema.Failed)),
		slog.Any("missing_required", r.Verification.MissingRequired),
		slog.Any("missing_optional", r.Verification.MissingOptional),
		slog.Int("seeded", r.Seed.Created),
		slog.Int("seed_failures", r.Seed.Failed),
		slog.Int("faults", len(r.Faults())),
	)
}
