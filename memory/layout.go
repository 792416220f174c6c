package memory

import (
	"fmt"
	"reflect"
)

// Layout describes the memory of one block: the Go type that covers it, its size and its alignment.
// The same Layout must be passed to Allocator.Free as was passed to Allocator.Allocate.
type Layout struct {
	Type  reflect.Type
	Size  uintptr
	Align uintptr
}

// LayoutOf returns the Layout of a block covered by the provided type
func LayoutOf(t reflect.Type) Layout {
	return Layout{
		Type:  t,
		Size:  t.Size(),
		Align: uintptr(t.Align()),
	}
}

func (l Layout) String() string {
	return fmt.Sprintf("%s (size %d, align %d)", l.Type, l.Size, l.Align)
}
