package arc

import (
	"unsafe"

	"github.com/vkngwrapper/arc/layout"
)

// ArcBorrow is a non-owning view of a block held by some Arc, ArcBox or MaybeOwned. Copying it costs
// nothing and it never touches the count unless CloneArc is called. It must not be used once the
// handle it was taken from has been released.
type ArcBorrow[T any] struct {
	p unsafe.Pointer
}

// BorrowFromRaw views a payload pointer obtained from Arc.IntoRaw or Arc.AsPtr without taking
// ownership of it
func BorrowFromRaw[T any](payload *T) ArcBorrow[T] {
	return ArcBorrow[T]{p: layout.BlockOf(unsafe.Pointer(payload))}
}

func (b ArcBorrow[T]) block() unsafe.Pointer {
	if b.p == nil {
		panic("use of a zero arc.ArcBorrow")
	}
	layout.AssertLive(b.p)
	return b.p
}

// Get returns the payload
func (b ArcBorrow[T]) Get() *T {
	return (*T)(layout.PayloadOf(b.block()))
}

// CloneArc returns a new owning handle to the borrowed block
func (b ArcBorrow[T]) CloneArc() Arc[T] {
	layout.CounterOf(b.block()).Increment()
	return Arc[T]{p: b.p}
}

// Count returns the number of owners of the borrowed block
func (b ArcBorrow[T]) Count() int64 {
	return layout.CounterOf(b.block()).Load()
}

// HeapPtr returns the block address
func (b ArcBorrow[T]) HeapPtr() unsafe.Pointer {
	return b.block()
}

// WithArc calls fn with an Arc view of the borrowed block. As with OffsetArc.WithArc, fn must neither
// release nor consume it.
func (b ArcBorrow[T]) WithArc(fn func(a Arc[T])) {
	fn(Arc[T]{p: b.block()})
}

// PtrEq returns true if both borrows view the same block
func (b ArcBorrow[T]) PtrEq(other ArcBorrow[T]) bool {
	return b.p == other.p
}

// IntoRaw returns the payload pointer. Ownership is unaffected.
func (b ArcBorrow[T]) IntoRaw() *T {
	return b.Get()
}

// Ref returns the borrow as a Ref
func (b ArcBorrow[T]) Ref() Ref[T] {
	return Ref[T]{p: b.block()}
}

// OffsetArcBorrow is the non-owning view of an OffsetArc
type OffsetArcBorrow[T any] struct {
	p unsafe.Pointer
}

// OffsetBorrowFromPtr views a payload pointer without taking ownership of it
func OffsetBorrowFromPtr[T any](payload *T) OffsetArcBorrow[T] {
	return OffsetArcBorrow[T]{p: unsafe.Pointer(payload)}
}

func (b OffsetArcBorrow[T]) payload() unsafe.Pointer {
	if b.p == nil {
		panic("use of a zero arc.OffsetArcBorrow")
	}
	layout.AssertLive(layout.BlockOf(b.p))
	return b.p
}

// Get returns the payload
func (b OffsetArcBorrow[T]) Get() *T {
	return (*T)(b.payload())
}

// CloneArc returns a new Arc to the borrowed block
func (b OffsetArcBorrow[T]) CloneArc() Arc[T] {
	block := layout.BlockOf(b.payload())
	layout.CounterOf(block).Increment()
	return Arc[T]{p: block}
}

// CloneOffset returns a new OffsetArc to the borrowed block
func (b OffsetArcBorrow[T]) CloneOffset() OffsetArc[T] {
	layout.CounterOf(layout.BlockOf(b.payload())).Increment()
	return OffsetArc[T]{p: b.p}
}

// Ref returns the borrow as a Ref
func (b OffsetArcBorrow[T]) Ref() Ref[T] {
	return Ref[T]{p: b.payload(), offset: true}
}

// Ref holds either an ArcBorrow or an OffsetArcBorrow. The only thing it can do is read the payload.
type Ref[T any] struct {
	p      unsafe.Pointer
	offset bool
}

// Get returns the payload
func (r Ref[T]) Get() *T {
	if r.p == nil {
		panic("use of a zero arc.Ref")
	}
	if r.offset {
		return OffsetArcBorrow[T]{p: r.p}.Get()
	}
	return ArcBorrow[T]{p: r.p}.Get()
}
