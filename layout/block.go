// Package layout owns the physical shape of a block: a refcount.Counter followed by the payload.
// Every address computation in the module happens here; other packages pass block and payload
// addresses to these helpers and never offset them on their own.
//
// The payload always starts PayloadOffset bytes after the block. Code outside Go that receives a
// payload pointer can find the counter by stepping back PayloadOffset bytes, and Go code that is
// handed such a pointer back can adopt it with BlockOf.
package layout

import (
	"fmt"
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/vkngwrapper/arc/memory"
	"github.com/vkngwrapper/arc/memutils"
	"github.com/vkngwrapper/arc/refcount"
)

// PayloadOffset is the distance in bytes from the start of a block to its payload. The counter is
// 8-byte aligned and no Go type requires more, so the payload follows it without padding.
const PayloadOffset = unsafe.Sizeof(refcount.Counter{})

type block[T any] struct {
	count refcount.Counter
	value T
}

// Dropper is implemented by payloads that need to release something when the last handle to their
// block goes away. Drop is called exactly once, by whichever goroutine releases the last handle.
type Dropper interface {
	Drop()
}

// unsized is implemented by payload types whose size is chosen when the block is built
type unsized interface {
	blockLayout() memory.Layout
	destroy()
	clone(allocator memory.Allocator) (unsafe.Pointer, error)
}

// CounterOf returns the counter at the head of a block
func CounterOf(block unsafe.Pointer) *refcount.Counter {
	return (*refcount.Counter)(block)
}

// PayloadOf returns the payload address of a block
func PayloadOf(block unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(block, PayloadOffset)
}

// BlockOf returns the block address for a payload address
func BlockOf(payload unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(payload, -int(PayloadOffset))
}

// IsUnsized reports whether T is a payload type whose size is only known per block, such as
// HeaderSlice. Such payloads cannot be copied out of their block by value.
func IsUnsized[T any]() bool {
	_, ok := any((*T)(nil)).(unsized)
	return ok
}

// FixedLayout returns the layout of a block holding a T
func FixedLayout[T any]() memory.Layout {
	t := reflect.TypeFor[block[T]]()
	if memutils.Debug {
		memutils.DebugAssert(t.Field(1).Offset == PayloadOffset,
			fmt.Sprintf("payload of %s is at offset %d instead of %d", t, t.Field(1).Offset, PayloadOffset))
	}
	return memory.LayoutOf(t)
}

// AllocateFixed reserves a block for a T through allocator and moves value into it. The block starts
// with a count of 1.
func AllocateFixed[T any](allocator memory.Allocator, value T) (unsafe.Pointer, error) {
	if IsUnsized[T]() {
		panic(fmt.Sprintf("%s must be built with AllocateDynamic", reflect.TypeFor[T]()))
	}

	id, err := memory.IDOf(allocator)
	if err != nil {
		return nil, err
	}

	layout := FixedLayout[T]()
	ptr, err := allocator.Allocate(layout)
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "failed to allocate %s", layout), memutils.ErrAllocationFailed)
	}

	b := (*block[T])(ptr)
	b.value = value
	b.count.Init(id)

	return ptr, nil
}

// Deallocate destroys the payload of a block whose count has reached zero and returns the memory to
// the allocator it came from, using the layout it was allocated with. A fixed payload has Drop called
// if it implements Dropper; a HeaderSlice drops its header and then its elements in order.
func Deallocate[T any](ptr unsafe.Pointer) {
	counter := CounterOf(ptr)
	allocator := memory.Lookup(counter.AllocatorID())
	payload := (*T)(PayloadOf(ptr))

	var layout memory.Layout
	if dynamic, ok := any(payload).(unsized); ok {
		layout = dynamic.blockLayout()
		dynamic.destroy()
	} else {
		layout = FixedLayout[T]()
		if dropper, ok := any(payload).(Dropper); ok {
			dropper.Drop()
		}
		var zero T
		*payload = zero
	}

	counter.Poison()
	allocator.Free(ptr, layout)
}

// Reclaim moves the payload out of a block whose only handle is being consumed and frees the block
// without running Drop. It panics for unsized payloads.
func Reclaim[T any](ptr unsafe.Pointer) T {
	if IsUnsized[T]() {
		panic(fmt.Sprintf("%s cannot be moved out of its block", reflect.TypeFor[T]()))
	}

	counter := CounterOf(ptr)
	allocator := memory.Lookup(counter.AllocatorID())
	payload := (*T)(PayloadOf(ptr))

	value := *payload
	var zero T
	*payload = zero

	counter.Poison()
	allocator.Free(ptr, FixedLayout[T]())
	return value
}

// Duplicate allocates a new block through allocator holding a copy of the payload of ptr. The copy is
// a plain assignment of the payload (and of every element, for a HeaderSlice).
func Duplicate[T any](allocator memory.Allocator, ptr unsafe.Pointer) (unsafe.Pointer, error) {
	payload := (*T)(PayloadOf(ptr))
	if dynamic, ok := any(payload).(unsized); ok {
		return dynamic.clone(allocator)
	}

	return AllocateFixed(allocator, *payload)
}

// AllocatorOf returns the allocator a block was allocated from
func AllocatorOf(ptr unsafe.Pointer) memory.Allocator {
	return memory.Lookup(CounterOf(ptr).AllocatorID())
}

// AssertLive panics if the block has been freed. It can only detect frees when built with the
// debug_arc tag and otherwise does nothing.
func AssertLive(ptr unsafe.Pointer) {
	if memutils.Debug {
		counter := CounterOf(ptr)
		memutils.DebugAssert(!counter.IsPoisoned() && counter.Load() > 0,
			fmt.Sprintf("block at %p was used after it was freed", ptr))
	}
}
