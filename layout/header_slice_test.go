package layout_test

import (
	"iter"
	"math"
	"slices"
	"testing"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memory"
	"github.com/vkngwrapper/arc/memory/mocks"
	"github.com/vkngwrapper/arc/memutils"
	"go.uber.org/mock/gomock"
)

type droppingHeader struct {
	Name  string
	Drops *[]string
}

func (h *droppingHeader) Drop() {
	*h.Drops = append(*h.Drops, "header")
}

type droppingElem struct {
	ID    string
	Drops *[]string
}

func (e *droppingElem) Drop() {
	*e.Drops = append(*e.Drops, e.ID)
}

func elems(drops *[]string, ids ...string) iter.Seq[droppingElem] {
	return func(yield func(droppingElem) bool) {
		for _, id := range ids {
			if !yield(droppingElem{ID: id, Drops: drops}) {
				return
			}
		}
	}
}

func TestElemOffset(t *testing.T) {
	// header (1 byte) padded to the length field, then 8 bytes of length
	require.Equal(t, uintptr(16), layout.ElemOffset[byte, byte]())
	// header of 12 bytes is padded to 16, the int64 elements need no further padding
	require.Equal(t, uintptr(24), layout.ElemOffset[[3]uint32, int64]())
	require.Equal(t, uintptr(8), layout.ElemOffset[struct{}, int32]())
}

func TestDynamicLayout(t *testing.T) {
	l := layout.DynamicLayout[[3]uint32, int64](5)
	require.Equal(t, layout.PayloadOffset+layout.ElemOffset[[3]uint32, int64]()+5*8, l.Size)
	require.Equal(t, uintptr(8), l.Align)

	// The same shape maps to the same type, so frees match allocations
	require.Equal(t, l, layout.DynamicLayout[[3]uint32, int64](5))
}

func TestElementsReachableByArithmetic(t *testing.T) {
	ptr, err := layout.AllocateDynamic(memory.Default(), [3]uint32{7, 8, 9}, 3, slices.Values([]int64{10, 20, 30}))
	require.NoError(t, err)

	payload := layout.PayloadOf(ptr)
	first := unsafe.Add(payload, layout.ElemOffset[[3]uint32, int64]())
	require.Equal(t, int64(10), *(*int64)(first))
	require.Equal(t, int64(30), *(*int64)(unsafe.Add(first, 16)))
	require.Equal(t, int(3), *(*int)(unsafe.Add(payload, 16)))
}

func TestDynamicExactLength(t *testing.T) {
	allocator := checked(t)
	var drops []string

	ptr, err := layout.AllocateDynamic(allocator, droppingHeader{Name: "h", Drops: &drops}, 3, elems(&drops, "a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, int64(1), layout.CounterOf(ptr).Load())

	payload := (*layout.HeaderSlice[droppingHeader, droppingElem])(layout.PayloadOf(ptr))
	require.Equal(t, 3, payload.Len())
	require.Equal(t, "b", payload.At(1).ID)
	allocator.AssertSize(t, int(layout.DynamicLayout[droppingHeader, droppingElem](3).Size))

	require.True(t, layout.CounterOf(ptr).Decrement())
	layout.Deallocate[layout.HeaderSlice[droppingHeader, droppingElem]](ptr)

	require.Equal(t, []string{"header", "a", "b", "c"}, drops)
	allocator.AssertNoLeaks(t)
}

func TestDynamicTooFewElements(t *testing.T) {
	allocator := checked(t)
	var drops []string

	_, err := layout.AllocateDynamic(allocator, droppingHeader{Name: "h", Drops: &drops}, 3, elems(&drops, "a", "b"))
	require.ErrorIs(t, err, memutils.ErrLengthMismatch)
	require.ErrorContains(t, err, "declared 3 elements but the source yielded 2")

	require.Equal(t, []string{"header", "a", "b"}, drops)
	allocator.AssertNoLeaks(t)
}

func TestDynamicTooManyElements(t *testing.T) {
	allocator := checked(t)
	var drops []string
	pulled := 0

	source := func(yield func(droppingElem) bool) {
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			pulled++
			if !yield(droppingElem{ID: id, Drops: &drops}) {
				return
			}
		}
	}

	_, err := layout.AllocateDynamic(allocator, droppingHeader{Name: "h", Drops: &drops}, 2, source)
	require.ErrorIs(t, err, memutils.ErrLengthMismatch)

	// Only one element past the declared length is pulled
	require.Equal(t, 3, pulled)
	require.Equal(t, []string{"header", "a", "b"}, drops)
	allocator.AssertNoLeaks(t)
}

func TestDynamicEmpty(t *testing.T) {
	allocator := checked(t)

	ptr, err := layout.AllocateDynamic(allocator, 42, 0, slices.Values([]string(nil)))
	require.NoError(t, err)

	payload := (*layout.HeaderSlice[int, string])(layout.PayloadOf(ptr))
	require.Equal(t, 42, *payload.Header())
	require.Nil(t, payload.Slice())

	require.True(t, layout.CounterOf(ptr).Decrement())
	layout.Deallocate[layout.HeaderSlice[int, string]](ptr)
	allocator.AssertNoLeaks(t)
}

func TestDynamicNegativeLength(t *testing.T) {
	_, err := layout.AllocateDynamic(memory.Default(), 0, -1, slices.Values([]int{}))
	require.ErrorIs(t, err, memutils.ErrLengthMismatch)
}

func TestDynamicLengthOverflow(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(gomock.Any()).Times(0)

	pulled := 0
	var source iter.Seq[int64] = func(yield func(int64) bool) {
		pulled++
	}

	_, err := layout.AllocateDynamic(allocator, 1, 1<<61, source)
	require.Error(t, err)
	require.True(t, cerrors.Is(err, memutils.ErrAllocationFailed))
	require.Zero(t, pulled)

	limit := layout.MaxDynamicLength[int, int64]()
	require.Less(t, limit, 1<<61)
	_, err = layout.AllocateDynamic(allocator, 1, limit+1, source)
	require.True(t, cerrors.Is(err, memutils.ErrAllocationFailed))

	require.Equal(t, math.MaxInt, layout.MaxDynamicLength[int, struct{}]())
}

func TestDynamicDuplicate(t *testing.T) {
	ptr, err := layout.AllocateDynamic(memory.Default(), "h", 2, slices.Values([]int{5, 6}))
	require.NoError(t, err)

	dup, err := layout.Duplicate[layout.HeaderSlice[string, int]](memory.Default(), ptr)
	require.NoError(t, err)
	require.NotEqual(t, ptr, dup)

	payload := (*layout.HeaderSlice[string, int])(layout.PayloadOf(dup))
	require.Equal(t, "h", *payload.Header())
	require.Equal(t, []int{5, 6}, payload.Slice())
}

func TestReclaimRejectsUnsized(t *testing.T) {
	ptr, err := layout.AllocateDynamic(memory.Default(), "h", 1, slices.Values([]int{1}))
	require.NoError(t, err)

	require.Panics(t, func() { layout.Reclaim[layout.HeaderSlice[string, int]](ptr) })
}
