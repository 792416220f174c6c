package arc

import (
	"iter"
	"slices"

	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memory"
)

// HeaderSlice is a payload made of a header followed by a run of elements stored in the same block.
// Its length is fixed when the block is built. Build one with NewSlice or FromSlice.
type HeaderSlice[H any, E any] = layout.HeaderSlice[H, E]

// NewSlice builds a block on the Go heap holding header and the elements produced by elems. elems must
// produce exactly length elements; if it produces more or fewer, everything it produced is dropped and
// an error wrapping memutils.ErrLengthMismatch is returned.
func NewSlice[H any, E any](header H, length int, elems iter.Seq[E]) (Arc[HeaderSlice[H, E]], error) {
	return NewSliceIn(memory.Default(), header, length, elems)
}

// NewSliceIn is NewSlice with the block reserved through allocator
func NewSliceIn[H any, E any](allocator memory.Allocator, header H, length int, elems iter.Seq[E]) (Arc[HeaderSlice[H, E]], error) {
	p, err := layout.AllocateDynamic(allocator, header, length, elems)
	if err != nil {
		return Arc[HeaderSlice[H, E]]{}, err
	}
	return Arc[HeaderSlice[H, E]]{p: p}, nil
}

// FromSlice builds a block on the Go heap holding header and a copy of elems
func FromSlice[H any, E any](header H, elems []E) Arc[HeaderSlice[H, E]] {
	a, err := NewSlice(header, len(elems), slices.Values(elems))
	if err != nil {
		panic(err)
	}
	return a
}

// NewSliceBox is NewSliceIn returning an ArcBox, so that the elements can be filled in or edited
// before the block is shared
func NewSliceBox[H any, E any](allocator memory.Allocator, header H, length int, elems iter.Seq[E]) (ArcBox[HeaderSlice[H, E]], error) {
	p, err := layout.AllocateDynamic(allocator, header, length, elems)
	if err != nil {
		return ArcBox[HeaderSlice[H, E]]{}, err
	}
	return ArcBox[HeaderSlice[H, E]]{p: p}, nil
}
