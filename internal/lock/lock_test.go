package lock

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	l := New()
	id := uuid.New()

	require.True(t, l.Acquire(id))
	require.False(t, l.Acquire(id))
	require.True(t, l.Held(id))

	l.Release(id)
	require.False(t, l.Held(id))
	require.True(t, l.Acquire(id))
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	t.Parallel()

	l := New()
	l.Release(uuid.New())
}

func TestIndependentKeys(t *testing.T) {
	t.Parallel()

	l := New()
	a, b := uuid.New(), uuid.New()
	require.True(t, l.Acquire(a))
	require.True(t, l.Acquire(b))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	t.Parallel()

	l := New()
	id := uuid.New()

	const attempts = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire(id) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}
