//go:build !unix

package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/arc/memutils"
)

// ArenaAllocator is only available on unix platforms
type ArenaAllocator struct{}

var _ Allocator = &ArenaAllocator{}

// NewArenaAllocator always fails on this platform
func NewArenaAllocator(options ArenaAllocatorOptions) (*ArenaAllocator, error) {
	return nil, errors.Wrap(memutils.ErrAllocationFailed, "arena regions are not supported on this platform")
}

func (a *ArenaAllocator) ID() uint16 { return 0 }

func (a *ArenaAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	return nil, errors.Wrap(memutils.ErrAllocationFailed, "arena regions are not supported on this platform")
}

func (a *ArenaAllocator) Free(ptr unsafe.Pointer, layout Layout) {
	panic("arena regions are not supported on this platform")
}

func (a *ArenaAllocator) Destroy() error { return nil }

func (a *ArenaAllocator) CheckCorruption() error { return nil }

func (a *ArenaAllocator) BuildStatsString(detailedMap bool) string { return "{}" }
