package arc_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/arc"
	"github.com/vkngwrapper/arc/layout"
)

type vertex struct {
	X, Y, Z float32
	Color   uint32
}

func TestOffsetRoundTrip(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewIn(allocator, vertex{X: 1, Y: 2, Z: 3, Color: 0xFF00FF})
	require.NoError(t, err)
	block := a.HeapPtr()
	payload := a.AsPtr()
	before := *(*[unsafe.Sizeof(vertex{})]byte)(payload)

	offset := a.IntoOffset()
	require.False(t, a.IsValid())
	require.Equal(t, payload, offset.AsPtr())
	require.Equal(t, uintptr(block)+layout.PayloadOffset, uintptr(offset.AsPtr()))
	require.Equal(t, int64(1), offset.Count())

	back := offset.IntoArc()
	require.False(t, offset.IsValid())
	require.Equal(t, block, back.HeapPtr())
	require.Equal(t, before, *(*[unsafe.Sizeof(vertex{})]byte)(back.AsPtr()))

	back.Release()
	allocator.AssertNoLeaks(t)
}

func TestOffsetCloneRelease(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewIn(allocator, vertex{Color: 1})
	require.NoError(t, err)
	offset := a.IntoOffset()

	clone := offset.Clone()
	require.True(t, offset.PtrEq(clone))
	require.Equal(t, int64(2), offset.Count())

	shared := offset.CloneArc()
	require.Equal(t, int64(3), shared.Count())
	require.Equal(t, offset.AsPtr(), shared.AsPtr())

	shared.Release()
	offset.Release()
	require.Equal(t, 1, allocator.LiveBlocks())

	clone.Release()
	allocator.AssertNoLeaks(t)
}

func TestOffsetFromForeignPointer(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewIn(allocator, vertex{X: 4})
	require.NoError(t, err)

	raw := a.IntoRaw()
	offset := arc.FromRawOffset(raw)
	require.Equal(t, float32(4), offset.Get().X)

	borrow := arc.OffsetBorrowFromPtr(raw)
	require.Equal(t, float32(4), borrow.Get().X)

	offset.Release()
	allocator.AssertNoLeaks(t)
}

func TestOffsetWithArc(t *testing.T) {
	a := arc.New(vertex{Y: 9})
	offset := a.IntoOffset()

	var kept arc.Arc[vertex]
	offset.WithArc(func(view arc.Arc[vertex]) {
		require.Equal(t, float32(9), view.Get().Y)
		require.Equal(t, int64(1), view.Count())
		kept = view.Clone()
	})

	require.Equal(t, int64(2), offset.Count())
	kept.Release()
	offset.Release()
}

func TestOffsetMakeMut(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewIn(allocator, vertex{Z: 1})
	require.NoError(t, err)
	offset := a.IntoOffset()
	other := offset.Clone()

	offset.MakeMut().Z = 2
	require.False(t, offset.PtrEq(other))
	require.Equal(t, float32(2), offset.Get().Z)
	require.Equal(t, float32(1), other.Get().Z)

	offset.Release()
	other.Release()
	allocator.AssertNoLeaks(t)
}
