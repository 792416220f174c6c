package arc_test

import (
	"slices"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/arc"
	"github.com/vkngwrapper/arc/memutils"
)

type meshHeader struct {
	Name string
}

func TestFromSlice(t *testing.T) {
	a := arc.FromSlice(meshHeader{Name: "quad"}, []uint16{0, 1, 2, 2, 3, 0})

	s := a.Get()
	require.Equal(t, "quad", s.Header().Name)
	require.Equal(t, 6, s.Len())
	require.Equal(t, []uint16{0, 1, 2, 2, 3, 0}, s.Slice())

	clone := a.Clone()
	require.Same(t, s, clone.Get())
	clone.Release()
	a.Release()
}

func TestNewSliceLengthMismatch(t *testing.T) {
	allocator := checked(t)

	_, err := arc.NewSliceIn(allocator, meshHeader{}, 4, slices.Values([]uint16{1, 2, 3}))
	require.True(t, cerrors.Is(err, memutils.ErrLengthMismatch))

	_, err = arc.NewSliceIn(allocator, meshHeader{}, 2, slices.Values([]uint16{1, 2, 3}))
	require.True(t, cerrors.Is(err, memutils.ErrLengthMismatch))

	allocator.AssertNoLeaks(t)
}

func TestSliceMakeMut(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewSliceIn(allocator, meshHeader{Name: "line"}, 2, slices.Values([]uint16{7, 8}))
	require.NoError(t, err)
	other := a.Clone()

	_, ok := a.TryUnwrap()
	require.False(t, ok)

	a.MakeMut().Slice()[0] = 9
	require.Equal(t, []uint16{9, 8}, a.Get().Slice())
	require.Equal(t, []uint16{7, 8}, other.Get().Slice())
	require.Equal(t, "line", a.Get().Header().Name)

	require.True(t, a.IsUnique())
	require.Panics(t, func() { a.TryUnwrap() })
	require.True(t, a.IsValid())

	a.Release()
	other.Release()
	allocator.AssertNoLeaks(t)
}

func TestSliceBox(t *testing.T) {
	allocator := checked(t)

	box, err := arc.NewSliceBox(allocator, 3, 3, slices.Values([]float64{0, 0, 0}))
	require.NoError(t, err)

	for i := range box.GetMut().Slice() {
		*box.GetMut().At(i) = float64(i) / 2
	}
	shared := box.IntoShared()
	require.Equal(t, []float64{0, 0.5, 1}, shared.Get().Slice())
	require.Equal(t, 3, *shared.Get().Header())

	shared.Release()
	allocator.AssertNoLeaks(t)
}
