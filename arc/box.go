package arc

import (
	"unsafe"

	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memory"
)

// ArcBox is the only handle to its block. The payload can be read and written through it without
// synchronization, and IntoShared turns it into an Arc once it is ready to be shared.
type ArcBox[T any] struct {
	p unsafe.Pointer
}

// NewBox moves value into a new block on the Go heap
func NewBox[T any](value T) ArcBox[T] {
	b, err := NewBoxIn(memory.Default(), value)
	if err != nil {
		panic(err)
	}
	return b
}

// NewBoxIn moves value into a new block reserved through allocator
func NewBoxIn[T any](allocator memory.Allocator, value T) (ArcBox[T], error) {
	p, err := layout.AllocateFixed(allocator, value)
	if err != nil {
		return ArcBox[T]{}, err
	}
	return ArcBox[T]{p: p}, nil
}

func (b ArcBox[T]) block() unsafe.Pointer {
	if b.p == nil {
		panic("use of a released or zero arc.ArcBox")
	}
	return b.p
}

func (b *ArcBox[T]) take() unsafe.Pointer {
	p := b.block()
	b.p = nil
	return p
}

// IsValid returns false for a zero ArcBox or one that has been released or consumed
func (b ArcBox[T]) IsValid() bool {
	return b.p != nil
}

// Get returns the payload
func (b ArcBox[T]) Get() *T {
	return (*T)(layout.PayloadOf(b.block()))
}

// GetMut returns the payload for writing. An ArcBox is always the only owner, so this cannot fail.
func (b ArcBox[T]) GetMut() *T {
	return b.Get()
}

// IntoShared converts the box into an Arc. The count is already 1, so no atomic operation is needed.
func (b *ArcBox[T]) IntoShared() Arc[T] {
	return Arc[T]{p: b.take()}
}

// IntoInner moves the payload out and frees the block without calling Drop. It panics for unsized
// payloads.
func (b *ArcBox[T]) IntoInner() T {
	value := layout.Reclaim[T](b.block())
	b.p = nil
	return value
}

// ShareableRef converts the box into an owned MaybeOwned
func (b *ArcBox[T]) ShareableRef() MaybeOwned[T] {
	return MaybeOwned[T]{p: b.take(), owned: true}
}

// Clone copies the payload into a new block from the same allocator. It panics if the copy cannot be
// allocated.
func (b ArcBox[T]) Clone() ArcBox[T] {
	return ArcBox[T]{p: duplicate[T](b.block())}
}

// Release destroys the payload and frees the block
func (b *ArcBox[T]) Release() {
	release[T](b.take())
}

// Borrow returns a read-only view of the payload that must not outlive the box. It is a Ref rather
// than an ArcBorrow because a box must stay the only owner of its block, so its views cannot be
// cloned into new owners.
func (b ArcBox[T]) Borrow() Ref[T] {
	return Ref[T]{p: b.block()}
}

// AsPtr returns the payload address
func (b ArcBox[T]) AsPtr() unsafe.Pointer {
	return layout.PayloadOf(b.block())
}

// HeapPtr returns the block address
func (b ArcBox[T]) HeapPtr() unsafe.Pointer {
	return b.block()
}
