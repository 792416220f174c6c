package layout_test

import (
	"reflect"
	"slices"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memory"
	"github.com/vkngwrapper/arc/memory/mocks"
	"github.com/vkngwrapper/arc/memutils"
	"go.uber.org/mock/gomock"
)

type tracked struct {
	Value int
	Drops *int
}

func (t *tracked) Drop() {
	*t.Drops++
}

type pod struct {
	A byte
	B uint16
}

func checked(t *testing.T) *memory.CheckedAllocator {
	allocator, err := memory.NewCheckedAllocator(memory.Default(), memory.CheckedAllocatorOptions{})
	require.NoError(t, err)
	return allocator
}

func TestPayloadOffset(t *testing.T) {
	require.Equal(t, uintptr(8), layout.PayloadOffset)

	ptr, err := layout.AllocateFixed(memory.Default(), pod{A: 1, B: 2})
	require.NoError(t, err)

	payload := layout.PayloadOf(ptr)
	require.Equal(t, uintptr(ptr)+layout.PayloadOffset, uintptr(payload))
	require.Equal(t, ptr, layout.BlockOf(payload))
	require.Equal(t, pod{A: 1, B: 2}, *(*pod)(payload))
	require.Equal(t, int64(1), layout.CounterOf(ptr).Load())
}

func TestFixedLayout(t *testing.T) {
	l := layout.FixedLayout[pod]()
	require.Equal(t, uintptr(16), l.Size)
	require.Equal(t, uintptr(8), l.Align)

	l = layout.FixedLayout[[3]int64]()
	require.Equal(t, uintptr(32), l.Size)
}

func TestAllocateFixedUsesAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)
	l := layout.FixedLayout[pod]()

	backing := reflect.New(l.Type).UnsafePointer()
	allocator.EXPECT().Allocate(l).Return(backing, nil).Times(1)
	allocator.EXPECT().Free(backing, l).Times(1)

	ptr, err := layout.AllocateFixed(allocator, pod{A: 3})
	require.NoError(t, err)
	require.Equal(t, backing, ptr)
	require.Equal(t, memory.Allocator(allocator), layout.AllocatorOf(ptr))

	require.True(t, layout.CounterOf(ptr).Decrement())
	layout.Deallocate[pod](ptr)
}

func TestAllocateFixedFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(gomock.Any()).Return(nil, memutils.ErrUnsupportedPayload)

	_, err := layout.AllocateFixed(allocator, pod{})
	require.True(t, cerrors.Is(err, memutils.ErrAllocationFailed))
	require.ErrorIs(t, err, memutils.ErrUnsupportedPayload)
}

func TestDeallocateDrops(t *testing.T) {
	allocator := checked(t)
	drops := 0

	ptr, err := layout.AllocateFixed(allocator, tracked{Value: 4, Drops: &drops})
	require.NoError(t, err)
	allocator.AssertSize(t, int(layout.FixedLayout[tracked]().Size))

	require.True(t, layout.CounterOf(ptr).Decrement())
	layout.Deallocate[tracked](ptr)

	require.Equal(t, 1, drops)
	allocator.AssertNoLeaks(t)
}

func TestReclaimSkipsDrop(t *testing.T) {
	allocator := checked(t)
	drops := 0

	ptr, err := layout.AllocateFixed(allocator, tracked{Value: 4, Drops: &drops})
	require.NoError(t, err)

	value := layout.Reclaim[tracked](ptr)
	require.Equal(t, 4, value.Value)
	require.Equal(t, 0, drops)
	allocator.AssertNoLeaks(t)
}

func TestDuplicate(t *testing.T) {
	allocator := checked(t)

	ptr, err := layout.AllocateFixed(allocator, pod{A: 9, B: 9})
	require.NoError(t, err)

	dup, err := layout.Duplicate[pod](memory.Default(), ptr)
	require.NoError(t, err)
	require.NotEqual(t, ptr, dup)
	require.Equal(t, pod{A: 9, B: 9}, *(*pod)(layout.PayloadOf(dup)))
	require.Equal(t, memory.Default(), layout.AllocatorOf(dup))

	require.True(t, layout.CounterOf(ptr).Decrement())
	layout.Deallocate[pod](ptr)
	allocator.AssertNoLeaks(t)
}

func TestFixedRejectsUnsized(t *testing.T) {
	require.True(t, layout.IsUnsized[layout.HeaderSlice[int, int]]())
	require.False(t, layout.IsUnsized[pod]())

	require.Panics(t, func() {
		_, _ = layout.AllocateFixed(memory.Default(), layout.HeaderSlice[int, int]{})
	})
}

func TestAssertLive(t *testing.T) {
	ptr, err := layout.AllocateFixed(memory.Default(), pod{})
	require.NoError(t, err)
	require.NotPanics(t, func() { layout.AssertLive(ptr) })
}

func TestHeaderSliceValues(t *testing.T) {
	ptr, err := layout.AllocateDynamic(memory.Default(), "header", 4, slices.Values([]int16{1, 2, 3, 4}))
	require.NoError(t, err)

	payload := (*layout.HeaderSlice[string, int16])(layout.PayloadOf(ptr))
	require.Equal(t, "header", *payload.Header())
	require.Equal(t, 4, payload.Len())
	require.Equal(t, []int16{1, 2, 3, 4}, payload.Slice())
	require.Equal(t, int16(3), *payload.At(2))
	require.Panics(t, func() { payload.At(4) })

	var seen []int16
	for i, e := range payload.All() {
		require.Equal(t, int16(i+1), e)
		seen = append(seen, e)
	}
	require.Len(t, seen, 4)
}
