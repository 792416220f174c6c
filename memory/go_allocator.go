package memory

import (
	"reflect"
	"unsafe"
)

// GoAllocator places blocks on the Go heap. It is the allocator used when none is specified, and
// the only one that accepts payloads holding Go pointers. Free is a no-op: once the last handle is
// gone the garbage collector reclaims the block.
type GoAllocator struct{}

var _ Allocator = &GoAllocator{}

var goAllocator = &GoAllocator{}

// Default returns the shared GoAllocator. It is always registered with ID 0.
func Default() Allocator {
	return goAllocator
}

func (a *GoAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	return reflect.New(layout.Type).UnsafePointer(), nil
}

func (a *GoAllocator) Free(ptr unsafe.Pointer, layout Layout) {}
