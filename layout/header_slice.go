package layout

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"slices"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/vkngwrapper/arc/memory"
	"github.com/vkngwrapper/arc/memutils"
	"github.com/vkngwrapper/arc/refcount"
)

// HeaderSlice is a payload made of a header value, a length, and that many elements stored inline
// in the same block. Blocks holding one are built with AllocateDynamic; a HeaderSlice value on its
// own (outside a block) has no room for elements.
//
// Elements start ElemOffset bytes into the payload, so given a payload address any element can be
// found with arithmetic alone.
type HeaderSlice[H any, E any] struct {
	header H
	length int
	elems  [0]E
}

// ElemOffset returns the offset of the first element from the start of a HeaderSlice payload: the
// header and the length field, each padded to the alignment of what follows
func ElemOffset[H any, E any]() uintptr {
	var s HeaderSlice[H, E]
	return unsafe.Offsetof(s.elems)
}

// Header returns the header value
func (s *HeaderSlice[H, E]) Header() *H {
	return &s.header
}

// Len returns the number of elements
func (s *HeaderSlice[H, E]) Len() int {
	return s.length
}

// Slice returns the elements. The slice aliases the block and must not be used after the handle it
// was obtained through is released.
func (s *HeaderSlice[H, E]) Slice() []E {
	if s.length == 0 {
		return nil
	}
	return unsafe.Slice((*E)(unsafe.Pointer(&s.elems)), s.length)
}

// At returns a pointer to element i. It panics if i is out of range.
func (s *HeaderSlice[H, E]) At(i int) *E {
	if i < 0 || i >= s.length {
		panic(fmt.Sprintf("index %d out of range for %d elements", i, s.length))
	}
	var e E
	return (*E)(unsafe.Add(unsafe.Pointer(&s.elems), uintptr(i)*unsafe.Sizeof(e)))
}

// All iterates over the elements in order
func (s *HeaderSlice[H, E]) All() iter.Seq2[int, E] {
	return func(yield func(int, E) bool) {
		for i, e := range s.Slice() {
			if !yield(i, e) {
				return
			}
		}
	}
}

func (s *HeaderSlice[H, E]) blockLayout() memory.Layout {
	return DynamicLayout[H, E](s.length)
}

func (s *HeaderSlice[H, E]) destroy() {
	if dropper, ok := any(&s.header).(Dropper); ok {
		dropper.Drop()
	}

	elems := s.Slice()
	for i := range elems {
		if dropper, ok := any(&elems[i]).(Dropper); ok {
			dropper.Drop()
		}
	}

	clear(elems)
	var zero H
	s.header = zero
}

func (s *HeaderSlice[H, E]) clone(allocator memory.Allocator) (unsafe.Pointer, error) {
	return AllocateDynamic(allocator, s.header, s.length, slices.Values(s.Slice()))
}

var (
	counterType = reflect.TypeFor[refcount.Counter]()
	lengthType  = reflect.TypeFor[int]()
)

// MaxDynamicLength returns the largest element count whose block size can be represented
func MaxDynamicLength[H any, E any]() int {
	var e E
	size := unsafe.Sizeof(e)
	if size == 0 {
		return math.MaxInt
	}

	// Room for the counter, header and length, plus padding up to the block's alignment
	fixed := PayloadOffset + ElemOffset[H, E]() + unsafe.Alignof(refcount.Counter{})
	limit := (math.MaxUintptr - fixed) / size
	if limit > math.MaxInt {
		return math.MaxInt
	}
	return int(limit)
}

// DynamicLayout returns the layout of a block holding a HeaderSlice with length elements
func DynamicLayout[H any, E any](length int) memory.Layout {
	t := reflect.StructOf([]reflect.StructField{
		{Name: "Count", Type: counterType},
		{Name: "Header", Type: reflect.TypeFor[H]()},
		{Name: "Length", Type: lengthType},
		{Name: "Elems", Type: reflect.ArrayOf(length, reflect.TypeFor[E]())},
	})

	if memutils.Debug {
		memutils.DebugAssert(t.Field(1).Offset == PayloadOffset,
			fmt.Sprintf("header of %s is at offset %d instead of %d", t, t.Field(1).Offset, PayloadOffset))
		memutils.DebugAssert(t.Field(3).Offset-PayloadOffset == ElemOffset[H, E](),
			fmt.Sprintf("elements of %s are at payload offset %d instead of %d", t, t.Field(3).Offset-PayloadOffset, ElemOffset[H, E]()))
	}

	return memory.LayoutOf(t)
}

// AllocateDynamic reserves a block for a HeaderSlice of length elements and fills it from elems.
// elems must yield exactly length elements. It is consumed until it yields one more than length or
// runs out, and if the count differs from length the elements written so far and the header are
// dropped, the block is freed, and an error wrapping memutils.ErrLengthMismatch is returned.
func AllocateDynamic[H any, E any](allocator memory.Allocator, header H, length int, elems iter.Seq[E]) (unsafe.Pointer, error) {
	if length < 0 {
		return nil, cerrors.Wrapf(memutils.ErrLengthMismatch, "declared length %d is negative", length)
	}
	if limit := MaxDynamicLength[H, E](); length > limit {
		return nil, cerrors.Mark(
			cerrors.Newf("%d elements of %s do not fit in the address space (at most %d)", length, reflect.TypeFor[E](), limit),
			memutils.ErrAllocationFailed)
	}

	id, err := memory.IDOf(allocator)
	if err != nil {
		return nil, err
	}

	layout := DynamicLayout[H, E](length)
	ptr, err := allocator.Allocate(layout)
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "failed to allocate %s", layout), memutils.ErrAllocationFailed)
	}

	payload := (*HeaderSlice[H, E])(PayloadOf(ptr))
	payload.header = header

	dst := unsafe.Slice((*E)(unsafe.Pointer(&payload.elems)), length)
	written := 0
	overflow := false
	for e := range elems {
		if written == length {
			overflow = true
			break
		}
		dst[written] = e
		written++
	}

	if overflow || written != length {
		payload.length = written
		payload.destroy()
		payload.length = 0
		allocator.Free(ptr, layout)

		if overflow {
			return nil, cerrors.Wrapf(memutils.ErrLengthMismatch, "declared %d elements but the source yielded more", length)
		}
		return nil, cerrors.Wrapf(memutils.ErrLengthMismatch, "declared %d elements but the source yielded %d", length, written)
	}

	payload.length = length
	CounterOf(ptr).Init(id)

	return ptr, nil
}
