package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLocker wraps a Locker and counts releases.
type countingLocker struct {
	Locker
	releases int
}

func (c *countingLocker) Release(ctx context.Context, h *Handle) {
	c.releases++
	c.Locker.Release(ctx, h)
}

func TestReleaseOnTermination_NormalExit(t *testing.T) {
	t.Parallel()

	fl := newTestLocker(t)
	l := &countingLocker{Locker: fl}

	h, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	release := ReleaseOnTermination(l, h, nil)
	release()
	release()

	assert.Equal(t, 1, l.releases)
	_, err = os.Stat(fl.Path())
	assert.True(t, os.IsNotExist(err))
}
