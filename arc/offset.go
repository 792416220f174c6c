package arc

import (
	"unsafe"

	"github.com/vkngwrapper/arc/layout"
)

// OffsetArc is a shared owning handle that holds the address of the payload rather than the address
// of the block. It behaves like Arc in every other respect.
type OffsetArc[T any] struct {
	p unsafe.Pointer
}

// FromRawOffset adopts a payload pointer obtained from IntoRaw. The pointer must own one count of its
// block.
func FromRawOffset[T any](payload *T) OffsetArc[T] {
	return OffsetArc[T]{p: unsafe.Pointer(payload)}
}

func (o OffsetArc[T]) payload() unsafe.Pointer {
	if o.p == nil {
		panic("use of a released or zero arc.OffsetArc")
	}
	return o.p
}

func (o *OffsetArc[T]) take() unsafe.Pointer {
	p := o.payload()
	o.p = nil
	return p
}

// IsValid returns false for a zero OffsetArc or one that has been released or consumed
func (o OffsetArc[T]) IsValid() bool {
	return o.p != nil
}

// Get returns the payload
func (o OffsetArc[T]) Get() *T {
	return (*T)(o.payload())
}

// Clone returns a new owning handle to the same block
func (o OffsetArc[T]) Clone() OffsetArc[T] {
	layout.CounterOf(layout.BlockOf(o.payload())).Increment()
	return OffsetArc[T]{p: o.p}
}

// Release gives up this handle's ownership, freeing the block if it was the last owner
func (o *OffsetArc[T]) Release() {
	release[T](layout.BlockOf(o.take()))
}

// Count returns the number of owners of the block
func (o OffsetArc[T]) Count() int64 {
	return layout.CounterOf(layout.BlockOf(o.payload())).Load()
}

// IntoArc converts this handle into an Arc without changing the count. The handle is cleared.
func (o *OffsetArc[T]) IntoArc() Arc[T] {
	return Arc[T]{p: layout.BlockOf(o.take())}
}

// WithArc calls fn with an Arc view of this handle. The Arc shares this handle's ownership and is only
// valid during the call, so fn must neither release nor consume it. Clone it to keep a handle.
func (o OffsetArc[T]) WithArc(fn func(a Arc[T])) {
	fn(Arc[T]{p: layout.BlockOf(o.payload())})
}

// CloneArc returns a new Arc to the same block
func (o OffsetArc[T]) CloneArc() Arc[T] {
	a := Arc[T]{p: layout.BlockOf(o.payload())}
	return a.Clone()
}

// MakeMut behaves like Arc.MakeMut
func (o *OffsetArc[T]) MakeMut() *T {
	a := o.IntoArc()
	value := a.MakeMut()
	*o = a.IntoOffset()
	return value
}

// AsPtr returns the payload address
func (o OffsetArc[T]) AsPtr() unsafe.Pointer {
	return o.payload()
}

// PtrEq returns true if both handles refer to the same block
func (o OffsetArc[T]) PtrEq(other OffsetArc[T]) bool {
	return o.p == other.p
}

// IntoRaw consumes the handle and returns the payload pointer without changing the count
func (o *OffsetArc[T]) IntoRaw() *T {
	return (*T)(o.take())
}

// Borrow returns a view of the block that must not outlive this handle
func (o OffsetArc[T]) Borrow() OffsetArcBorrow[T] {
	return OffsetArcBorrow[T]{p: o.payload()}
}
