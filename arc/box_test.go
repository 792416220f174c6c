package arc_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/arc"
	"go.uber.org/mock/gomock"
)

func TestBoxRoundTrip(t *testing.T) {
	allocator := checked(t)

	box, err := arc.NewBoxIn(allocator, 5)
	require.NoError(t, err)
	block := box.HeapPtr()

	shared := box.IntoShared()
	require.False(t, box.IsValid())
	require.Equal(t, block, shared.HeapPtr())
	require.Equal(t, int64(1), shared.Count())

	clone := shared.Clone()
	require.Equal(t, block, clone.HeapPtr())
	clone.Release()

	require.Equal(t, 5, *shared.Get())
	require.Equal(t, block, shared.HeapPtr())

	shared.Release()
	allocator.AssertNoLeaks(t)
}

func TestBoxMutateThenShareScenario(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := expectOneBlock[counted](ctrl)

	var drops atomic.Int32
	box, err := arc.NewBoxIn(allocator, counted{Value: 7, Drops: &drops})
	require.NoError(t, err)

	box.GetMut().Value = 8

	original := box.IntoShared()
	clone := original.Clone()
	require.Equal(t, int64(2), clone.Count())

	original.Release()
	require.Equal(t, 8, clone.Get().Value)
	require.Equal(t, int32(0), drops.Load())

	clone.Release()
	require.Equal(t, int32(1), drops.Load())
}

func TestBoxIntoInner(t *testing.T) {
	allocator := checked(t)

	var drops atomic.Int32
	box, err := arc.NewBoxIn(allocator, counted{Value: 1, Drops: &drops})
	require.NoError(t, err)

	value := box.IntoInner()
	require.Equal(t, 1, value.Value)
	require.Equal(t, int32(0), drops.Load())
	require.Panics(t, func() { box.Get() })
	allocator.AssertNoLeaks(t)
}

func TestBoxClone(t *testing.T) {
	allocator := checked(t)

	box, err := arc.NewBoxIn(allocator, []int{1, 2})
	require.NoError(t, err)

	clone := box.Clone()
	require.NotEqual(t, box.HeapPtr(), clone.HeapPtr())
	require.Equal(t, []int{1, 2}, *clone.Get())
	require.Equal(t, 2, allocator.LiveBlocks())

	box.Release()
	clone.Release()
	allocator.AssertNoLeaks(t)
}

func TestBoxBorrowCannotShare(t *testing.T) {
	box := arc.NewBox(1)

	var view arc.Ref[int] = box.Borrow()
	require.Equal(t, 1, *view.Get())

	shared := box.IntoShared()
	require.Equal(t, int64(1), shared.Count())
	shared.Release()
}

func TestBoxBorrowSeesWrites(t *testing.T) {
	allocator := checked(t)

	box, err := arc.NewBoxIn(allocator, 1)
	require.NoError(t, err)

	view := box.Borrow()
	*box.GetMut() = 5
	require.Equal(t, 5, *view.Get())
	require.Same(t, box.Get(), view.Get())

	shared := box.IntoShared()
	require.True(t, shared.IsUnique())
	shared.Release()
	allocator.AssertNoLeaks(t)
}

func TestBoxShareableRef(t *testing.T) {
	box := arc.NewBox("text")

	borrowed := box.Borrow()
	require.Equal(t, "text", *borrowed.Get())

	shared := box.ShareableRef()
	require.True(t, shared.IsOwned())
	require.True(t, shared.IsUnique())
	require.Equal(t, "text", *shared.Get())

	shared.Release()
	require.False(t, shared.IsValid())
}
