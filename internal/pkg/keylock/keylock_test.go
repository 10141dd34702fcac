package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	locker := NewLocal(0)

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "incident-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, locker.Len())
}

func TestLocal_DistinctKeysDoNotBlock(t *testing.T) {
	locker := NewLocal(0)

	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_WaitTimeout(t *testing.T) {
	locker := NewLocal(20 * time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	assert.Equal(t, 0, locker.Len())
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	locker := NewLocal(0)

	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	assert.Equal(t, 0, locker.Len())
}
