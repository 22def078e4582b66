// Package retry runs database operations that may lose a lock conflict,
// retrying them with exponential backoff plus jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// DefaultMaxAttempts is the default number of times an operation is invoked.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default delay unit used to compute backoff.
	DefaultBaseDelay = time.Second
)

// PostgreSQL SQLSTATE codes treated as transient lock conflicts.
const (
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeLockNotAvailable     = "55P03"
)

var transientCodes = map[string]struct{}{
	codeDeadlockDetected:     {},
	codeSerializationFailure: {},
	codeLockNotAvailable:     {},
}

// IsTransientDeadlock reports whether err is a database lock conflict that is
// worth retrying.
func IsTransientDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientCodes[pgErr.Code]
		return ok
	}
	return false
}

// Option configures a call to Do.
type Option func(*options)

type options struct {
	maxAttempts uint
	baseDelay   time.Duration
	classifier  func(error) bool
	notify      func(err error, delay time.Duration)
}

// WithMaxAttempts sets how many times the operation may be invoked in total.
// Values below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.maxAttempts = uint(n)
	}
}

// WithBaseDelay sets the delay unit. The wait before retry n (starting at 0)
// is base*2^n plus a jitter in [0, base).
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		o.baseDelay = d
	}
}

// WithClassifier replaces the function deciding which errors are retryable.
func WithClassifier(fn func(error) bool) Option {
	return func(o *options) {
		o.classifier = fn
	}
}

// WithNotify registers a callback invoked before every backoff sleep.
func WithNotify(fn func(err error, delay time.Duration)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Do invokes op until it succeeds, fails with an error the classifier rejects,
// or the attempt budget is spent. The last error is returned unchanged. No sleep
// follows the final attempt.
func Do[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := &options{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		classifier:  IsTransientDeadlock,
	}
	for _, opt := range opts {
		opt(o)
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(newJitteredBackOff(o.baseDelay)),
		backoff.WithMaxTries(o.maxAttempts),
		// The attempt budget is the only bound.
		backoff.WithMaxElapsedTime(0),
	}
	if o.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(o.notify))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !o.classifier(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, retryOpts...)

	// backoff returns the wrapper untouched when the budget runs out on a permanent error.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// jitteredBackOff yields base*2^n + rand[0, base). Because the jitter is below
// base, each delay is at least as long as the previous one.
type jitteredBackOff struct {
	base    time.Duration
	attempt int
	jitter  func(time.Duration) time.Duration
}

func newJitteredBackOff(base time.Duration) *jitteredBackOff {
	return &jitteredBackOff{
		base: base,
		jitter: func(limit time.Duration) time.Duration {
			if limit <= 0 {
				return 0
			}
			return rand.N(limit) //nolint:gosec // jitter does not need a CSPRNG
		},
	}
}

// NextBackOff implements backoff.BackOff.
func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.base << b.attempt
	b.attempt++
	return d + b.jitter(b.base)
}

// Reset implements backoff.BackOff.
func (b *jitteredBackOff) Reset() {
	b.attempt = 0
}
