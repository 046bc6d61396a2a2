// ABOUTME: Tests for the in-process keyed locker
// ABOUTME: Verifies exclusion per key, independence across keys, cancellation and cleanup

package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "conv-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size())
}

func TestLocalLocker_DifferentKeysDoNotContend(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "conv-a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "conv-b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocalLocker_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "conv-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "conv-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, l.size())

	// The key is usable again afterwards.
	unlock, err = l.Lock(context.Background(), "conv-1")
	require.NoError(t, err)
	unlock()
}

func TestLocalLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "conv-1")
	require.NoError(t, err)

	unlock()
	assert.NotPanics(t, unlock)
	assert.Equal(t, 0, l.size())
}
