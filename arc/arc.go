// Package arc provides atomically reference-counted handles to values that live in a single block:
// a counter word followed by the payload.
//
//   - Arc is the shared owning handle. Cloning it increments the count and releasing it decrements
//     the count; the release that brings the count to zero destroys the payload and frees the block.
//   - ArcBox is the sole owner of a block that has not been shared yet. Its payload may be mutated
//     freely, and it converts into an Arc without any atomic operation.
//   - OffsetArc is an owning handle that holds the payload address instead of the block address, so
//     that it can be passed to code that expects a plain pointer to the payload.
//   - ArcBorrow and OffsetArcBorrow are non-owning views of a live handle, and Ref is either of them.
//   - MaybeOwned is either an Arc or an ArcBorrow.
//
// Handles are plain values holding an address. Methods that consume a handle take a pointer receiver
// and clear it; using a cleared handle panics. Copying a handle with assignment does not clone it:
// only Clone creates another owner, and each owner must be released exactly once.
//
// Borrows are not tracked. A borrow must not be used after the handle it came from is released.
// Building with the debug_arc tag poisons the counter of freed blocks and makes borrows panic when
// they observe one, which catches most such mistakes in tests.
package arc

import (
	"fmt"
	"unsafe"

	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memory"
)

// Arc is a shared owning handle to a T
type Arc[T any] struct {
	p unsafe.Pointer
}

// New moves value into a new block on the Go heap and returns the only handle to it
func New[T any](value T) Arc[T] {
	a, err := NewIn(memory.Default(), value)
	if err != nil {
		panic(err)
	}
	return a
}

// NewIn moves value into a new block reserved through allocator. The block is returned to the same
// allocator when the last handle is released.
func NewIn[T any](allocator memory.Allocator, value T) (Arc[T], error) {
	p, err := layout.AllocateFixed(allocator, value)
	if err != nil {
		return Arc[T]{}, err
	}
	return Arc[T]{p: p}, nil
}

// FromRaw adopts a payload pointer obtained from IntoRaw. The pointer must own one count of its block.
func FromRaw[T any](payload *T) Arc[T] {
	return Arc[T]{p: layout.BlockOf(unsafe.Pointer(payload))}
}

func (a Arc[T]) block() unsafe.Pointer {
	if a.p == nil {
		panic("use of a released or zero arc.Arc")
	}
	return a.p
}

func (a *Arc[T]) take() unsafe.Pointer {
	p := a.block()
	a.p = nil
	return p
}

// IsValid returns false for a zero Arc or one that has been released or consumed
func (a Arc[T]) IsValid() bool {
	return a.p != nil
}

// Get returns the payload. The pointer is valid until this handle is released. The payload is shared
// and must not be modified through it; use TryGetMut or MakeMut for that.
func (a Arc[T]) Get() *T {
	return (*T)(layout.PayloadOf(a.block()))
}

// Clone returns a new owning handle to the same block
func (a Arc[T]) Clone() Arc[T] {
	layout.CounterOf(a.block()).Increment()
	return Arc[T]{p: a.p}
}

// Release gives up this handle's ownership. If it was the last owner, the payload is destroyed and the
// block is freed before Release returns. The handle is cleared.
func (a *Arc[T]) Release() {
	release[T](a.take())
}

func release[T any](p unsafe.Pointer) {
	if layout.CounterOf(p).Decrement() {
		layout.Deallocate[T](p)
	}
}

// Count returns the number of owners of the block. The value may be out of date by the time it is
// returned if other goroutines hold handles to the same block.
func (a Arc[T]) Count() int64 {
	return layout.CounterOf(a.block()).Load()
}

// IsUnique returns true if this handle is the only owner of its block. The result can only be relied on
// if no other goroutine can clone this handle concurrently, for instance through a borrow of it.
func (a Arc[T]) IsUnique() bool {
	return a.Count() == 1
}

// TryUnwrap moves the payload out and frees the block if this handle is the only owner. Otherwise it
// returns false and the handle is left unchanged. It panics for unsized payloads such as HeaderSlice.
//
// As with IsUnique, success is only guaranteed when nothing else can clone the handle concurrently.
func (a *Arc[T]) TryUnwrap() (T, bool) {
	if !a.IsUnique() {
		var zero T
		return zero, false
	}
	value := layout.Reclaim[T](a.block())
	a.p = nil
	return value, true
}

// TryGetMut returns a mutable pointer to the payload if this handle is the only owner. The same caveat
// as IsUnique applies.
func (a Arc[T]) TryGetMut() (*T, bool) {
	if !a.IsUnique() {
		return nil, false
	}
	return a.Get(), true
}

// TryUnique converts this handle into an ArcBox if it is the only owner. Otherwise it returns false and
// the handle is left unchanged.
func (a *Arc[T]) TryUnique() (ArcBox[T], bool) {
	if !a.IsUnique() {
		return ArcBox[T]{}, false
	}
	return ArcBox[T]{p: a.take()}, true
}

// Unique converts this handle into an ArcBox. If the block is shared, the payload is copied into a new
// block from the same allocator and this handle's ownership of the old block is released. The handle is
// cleared. It panics if the copy cannot be allocated.
func (a *Arc[T]) Unique() ArcBox[T] {
	if box, ok := a.TryUnique(); ok {
		return box
	}

	p := duplicate[T](a.block())
	a.Release()
	return ArcBox[T]{p: p}
}

// MakeMut returns a mutable pointer to the payload, first copying the payload into a new block if the
// current one is shared. The handle is repointed at the copy. It panics if the copy cannot be allocated.
func (a *Arc[T]) MakeMut() *T {
	if !a.IsUnique() {
		p := duplicate[T](a.p)
		a.Release()
		a.p = p
	}
	return a.Get()
}

func duplicate[T any](p unsafe.Pointer) unsafe.Pointer {
	dup, err := layout.Duplicate[T](layout.AllocatorOf(p), p)
	if err != nil {
		panic(fmt.Sprintf("failed to copy a shared payload: %+v", err))
	}
	return dup
}

// PtrEq returns true if both handles refer to the same block
func (a Arc[T]) PtrEq(other Arc[T]) bool {
	return a.p == other.p
}

// AsPtr returns the payload address
func (a Arc[T]) AsPtr() unsafe.Pointer {
	return layout.PayloadOf(a.block())
}

// HeapPtr returns the block address
func (a Arc[T]) HeapPtr() unsafe.Pointer {
	return a.block()
}

// IntoRaw consumes the handle and returns the payload pointer without changing the count. Pass the
// pointer to FromRaw (or FromRawOffset) to take ownership back.
func (a *Arc[T]) IntoRaw() *T {
	return (*T)(layout.PayloadOf(a.take()))
}

// Leak consumes the handle without releasing it. The block will never be freed, so the returned borrow
// is valid for the rest of the process.
func (a *Arc[T]) Leak() ArcBorrow[T] {
	return ArcBorrow[T]{p: a.take()}
}

// Borrow returns a view of the block that performs no counting. It must not outlive this handle.
func (a Arc[T]) Borrow() ArcBorrow[T] {
	return ArcBorrow[T]{p: a.block()}
}

// IntoOffset converts this handle into an OffsetArc without changing the count. The handle is cleared.
func (a *Arc[T]) IntoOffset() OffsetArc[T] {
	return OffsetArc[T]{p: layout.PayloadOf(a.take())}
}
