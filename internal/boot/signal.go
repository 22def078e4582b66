package boot

import "sync"

// Signal reports that the boot sequence has completed. It is safe for
// concurrent use and can only move from incomplete to complete.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal returns an incomplete Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Complete marks the boot sequence as finished. Later calls are no-ops.
func (s *Signal) Complete() {
	s.once.Do(func() { close(s.done) })
}

// Done returns a channel that is closed once Complete has been called.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// IsComplete reports whether Complete has been called.
func (s *Signal) IsComplete() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
