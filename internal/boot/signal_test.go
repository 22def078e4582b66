package boot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignal(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	assert.False(t, sig.IsComplete())

	select {
	case <-sig.Done():
		t.Fatal("done channel closed before completion")
	default:
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Complete()
		}()
	}
	wg.Wait()

	assert.True(t, sig.IsComplete())
	<-sig.Done()
}
