package arc

import (
	"unsafe"

	"github.com/vkngwrapper/arc/layout"
)

// MaybeOwned is either an owning handle, like Arc, or a borrow, like ArcBorrow. Code that sometimes
// has ownership to hand over and sometimes only a view can pass a MaybeOwned, and the receiver can
// upgrade it to an Arc with TryIntoArc or Clone when it needs to keep it.
type MaybeOwned[T any] struct {
	p     unsafe.Pointer
	owned bool
}

// FromArc moves an Arc into an owned MaybeOwned. The Arc is cleared.
func FromArc[T any](a *Arc[T]) MaybeOwned[T] {
	return MaybeOwned[T]{p: a.take(), owned: true}
}

// FromBorrow wraps a borrow. The result must not outlive the handle the borrow came from.
func FromBorrow[T any](b ArcBorrow[T]) MaybeOwned[T] {
	return MaybeOwned[T]{p: b.block()}
}

func (m MaybeOwned[T]) block() unsafe.Pointer {
	if m.p == nil {
		panic("use of a released or zero arc.MaybeOwned")
	}
	if !m.owned {
		layout.AssertLive(m.p)
	}
	return m.p
}

// IsOwned returns true if releasing this value gives up a count
func (m MaybeOwned[T]) IsOwned() bool {
	return m.owned
}

// IsValid returns false for a zero MaybeOwned or one that has been released or consumed
func (m MaybeOwned[T]) IsValid() bool {
	return m.p != nil
}

// Get returns the payload
func (m MaybeOwned[T]) Get() *T {
	return (*T)(layout.PayloadOf(m.block()))
}

// Count returns the number of owners of the block
func (m MaybeOwned[T]) Count() int64 {
	return layout.CounterOf(m.block()).Load()
}

// IsUnique returns true if this value owns the block and nothing else does. A borrow is never unique.
func (m MaybeOwned[T]) IsUnique() bool {
	return m.owned && m.Count() == 1
}

// Clone returns a copy with the same ownership: an owned value gains a count, a borrow stays a borrow
func (m MaybeOwned[T]) Clone() MaybeOwned[T] {
	if m.owned {
		layout.CounterOf(m.block()).Increment()
	}
	return MaybeOwned[T]{p: m.block(), owned: m.owned}
}

// Release gives up ownership if this value is owned. In either case the value is cleared.
func (m *MaybeOwned[T]) Release() {
	p := m.block()
	owned := m.owned
	*m = MaybeOwned[T]{}

	if owned {
		release[T](p)
	}
}

// TryIntoArc converts an owned value into an Arc and clears it. A borrow is left unchanged and false is
// returned.
func (m *MaybeOwned[T]) TryIntoArc() (Arc[T], bool) {
	if !m.owned {
		return Arc[T]{}, false
	}
	a := Arc[T]{p: m.block()}
	*m = MaybeOwned[T]{}
	return a, true
}

// Borrow returns a view of the block that must not outlive this value
func (m MaybeOwned[T]) Borrow() ArcBorrow[T] {
	return ArcBorrow[T]{p: m.block()}
}

// TryGetMut returns a mutable pointer to the payload if this value is the unique owner
func (m MaybeOwned[T]) TryGetMut() (*T, bool) {
	if !m.IsUnique() {
		return nil, false
	}
	return m.Get(), true
}

// MakeMut returns a mutable pointer to the payload. A borrow, or an owned value that is shared, is first
// replaced by an owned copy in a new block from the same allocator.
func (m *MaybeOwned[T]) MakeMut() *T {
	if !m.IsUnique() {
		p := duplicate[T](m.block())
		m.Release()
		*m = MaybeOwned[T]{p: p, owned: true}
	}
	return m.Get()
}

// TryUnwrap moves the payload out if this value is the unique owner, clearing it. It panics for unsized
// payloads.
func (m *MaybeOwned[T]) TryUnwrap() (T, bool) {
	if !m.IsUnique() {
		var zero T
		return zero, false
	}
	value := layout.Reclaim[T](m.block())
	*m = MaybeOwned[T]{}
	return value, true
}

// IntoBorrow returns a borrowed MaybeOwned of the same block. The receiver keeps its ownership and
// must outlive the result.
func (m MaybeOwned[T]) IntoBorrow() MaybeOwned[T] {
	return MaybeOwned[T]{p: m.block()}
}

// CloneIntoOwned returns an owned MaybeOwned of the same block, whether or not this one is owned
func (m MaybeOwned[T]) CloneIntoOwned() MaybeOwned[T] {
	layout.CounterOf(m.block()).Increment()
	return MaybeOwned[T]{p: m.p, owned: true}
}

// Leak clears the value without giving up its count, if it had one. An owned block is then never
// freed.
func (m *MaybeOwned[T]) Leak() ArcBorrow[T] {
	b := ArcBorrow[T]{p: m.block()}
	*m = MaybeOwned[T]{}
	return b
}

// PtrEq returns true if both values refer to the same block
func (m MaybeOwned[T]) PtrEq(other MaybeOwned[T]) bool {
	return m.p == other.p
}

// AsPtr returns the payload address
func (m MaybeOwned[T]) AsPtr() unsafe.Pointer {
	return layout.PayloadOf(m.block())
}

// IntoRaw clears the value and returns the payload pointer. If the value was owned, the pointer
// carries its count and must be passed to FromRaw eventually.
func (m *MaybeOwned[T]) IntoRaw() *T {
	p := (*T)(layout.PayloadOf(m.block()))
	*m = MaybeOwned[T]{}
	return p
}
