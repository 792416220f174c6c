package memory

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source allocator.go -destination ./mocks/allocator.go -package mocks

// Allocator reserves and releases the memory that blocks live in. Implementations must hand out
// memory that does not move for as long as the block is live, since handles are plain addresses.
//
// Allocate must return zeroed memory of at least layout.Size bytes aligned to layout.Align. Memory
// that will hold Go pointers (see memutils.HasPointers) must come from the Go heap and be typed with
// layout.Type so the garbage collector can trace it.
type Allocator interface {
	Allocate(layout Layout) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer, layout Layout)
}

// MaxAllocators is the number of allocators that can be registered at the same time
const MaxAllocators = 1 << 16

var (
	registryLock sync.Mutex
	registry     atomic.Pointer[[]Allocator]
)

func init() {
	registry.Store(&[]Allocator{Default()})
}

// Register assigns an ID to an allocator so that blocks can find their way back to it when they are
// released. Registering the same allocator twice returns the same ID. Allocators must be comparable.
// IDs freed by Unregister are handed out again.
func Register(allocator Allocator) (uint16, error) {
	registryLock.Lock()
	defer registryLock.Unlock()

	current := *registry.Load()
	free := -1
	for id, registered := range current {
		if registered == allocator {
			return uint16(id), nil
		}
		if registered == nil && free < 0 {
			free = id
		}
	}

	next := make([]Allocator, len(current), len(current)+1)
	copy(next, current)

	if free >= 0 {
		next[free] = allocator
	} else {
		if len(current) >= MaxAllocators {
			return 0, errors.Newf("cannot register more than %d allocators", MaxAllocators)
		}
		free = len(next)
		next = append(next, allocator)
	}
	registry.Store(&next)

	return uint16(free), nil
}

// Unregister releases the ID of an allocator so that it can be reused and the allocator can be
// collected. It must only be called once no block allocated through the allocator is live. The
// default allocator cannot be unregistered.
func Unregister(id uint16) {
	if id == 0 {
		panic("the default allocator cannot be unregistered")
	}

	registryLock.Lock()
	defer registryLock.Unlock()

	current := *registry.Load()
	if int(id) >= len(current) || current[id] == nil {
		panic(errors.Newf("no allocator is registered with id %d", id))
	}

	next := make([]Allocator, len(current))
	copy(next, current)
	next[id] = nil
	registry.Store(&next)
}

// IDOf returns the registry ID of an allocator, registering it first if needed
func IDOf(allocator Allocator) (uint16, error) {
	for id, registered := range *registry.Load() {
		if registered == allocator {
			return uint16(id), nil
		}
	}

	return Register(allocator)
}

// Lookup returns the allocator registered under id. It panics if no allocator has that ID, which can
// only happen if the block header was corrupted.
func Lookup(id uint16) Allocator {
	current := *registry.Load()
	if int(id) >= len(current) || current[id] == nil {
		panic(errors.Newf("no allocator is registered with id %d", id))
	}
	return current[id]
}
