package schema

import (
	"log/slog"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/retry"
)

// Option configures the components in this package.
type Option func(*settings)

type settings struct {
	logger    *slog.Logger
	recorder  fault.Recorder
	retryOpts []retry.Option
	fallbacks map[FallbackKind]FallbackFunc
	observer  func(Result)
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:    slog.Default(),
		recorder:  fault.Discard,
		fallbacks: make(map[FallbackKind]FallbackFunc),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets where recoverable failures are reported.
func WithRecorder(rec fault.Recorder) Option {
	return func(s *settings) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// WithRetryOptions sets the retry policy applied to automatic reconciliation.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *settings) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// WithFallback binds the procedure run for entries registered with kind.
func WithFallback(kind FallbackKind, fn FallbackFunc) Option {
	return func(s *settings) {
		s.fallbacks[kind] = fn
	}
}

// WithObserver registers a callback invoked with every synchronization result.
func WithObserver(fn func(Result)) Option {
	return func(s *settings) {
		s.observer = fn
	}
}
