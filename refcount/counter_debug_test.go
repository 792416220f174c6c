//go:build debug_arc

package refcount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterPoison(t *testing.T) {
	var c Counter
	c.Init(0)
	require.False(t, c.IsPoisoned())
	require.True(t, c.Decrement())

	c.Poison()
	require.True(t, c.IsPoisoned())
	require.Panics(t, func() { c.Increment() })

	c.Poison()
	require.Panics(t, func() { c.Decrement() })
}
