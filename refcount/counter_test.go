package refcount

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterInit(t *testing.T) {
	var c Counter
	c.Init(0xBEEF)

	require.Equal(t, int64(1), c.Load())
	require.Equal(t, uint16(0xBEEF), c.AllocatorID())

	c.Increment()
	c.Increment()
	require.Equal(t, int64(3), c.Load())
	require.Equal(t, uint16(0xBEEF), c.AllocatorID())

	require.False(t, c.Decrement())
	require.False(t, c.Decrement())
	require.True(t, c.Decrement())
	require.Equal(t, int64(0), c.Load())
	require.Equal(t, uint16(0xBEEF), c.AllocatorID())
}

func TestCounterIncrementAfterZero(t *testing.T) {
	var c Counter
	c.Init(3)
	require.True(t, c.Decrement())

	require.Panics(t, func() { c.Increment() })
}

func TestCounterUnderflow(t *testing.T) {
	var c Counter
	c.Init(7)
	require.True(t, c.Decrement())

	require.Panics(t, func() { c.Decrement() })
}

func TestCounterOverflow(t *testing.T) {
	var c Counter
	c.n.Store(int64(12)<<countBits | MaxRefcount)

	require.Panics(t, func() { c.Increment() })
}

func TestCounterConcurrentLastRelease(t *testing.T) {
	for round := 0; round < 50; round++ {
		var c Counter
		c.Init(1)

		const owners = 16
		for i := 1; i < owners; i++ {
			c.Increment()
		}

		var zeroes atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < owners; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					c.Increment()
					if c.Decrement() {
						zeroes.Add(1)
					}
				}
				if c.Decrement() {
					zeroes.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), zeroes.Load())
		require.Equal(t, int64(0), c.Load())
	}
}
