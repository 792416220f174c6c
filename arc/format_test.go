package arc_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/arc"
)

func TestFormat(t *testing.T) {
	a := arc.New(point{X: 1, Y: 2})
	require.Equal(t, "{1 2}", fmt.Sprintf("%v", a))
	require.Equal(t, "{X:1 Y:2}", fmt.Sprintf("%+v", a))

	n := arc.New(42)
	require.Equal(t, "0042", fmt.Sprintf("%04d", n))
	require.Equal(t, "2a", fmt.Sprintf("%x", n))

	clone := n.Clone()
	offset := clone.IntoOffset()
	require.Equal(t, "42", fmt.Sprint(offset))

	s := arc.FromSlice("hdr", []int{1, 2})
	require.Equal(t, "{hdr [1 2]}", fmt.Sprintf("%v", s))

	a.Release()
	n.Release()
	offset.Release()
	s.Release()
}
