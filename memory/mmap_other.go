//go:build !unix

package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/arc/memutils"
)

// MmapAllocatorOptions contains optional settings when creating an MmapAllocator
type MmapAllocatorOptions struct {
	// Logger receives debug output for every mapping and unmapping. slog.Default() is used if nil.
	Logger *slog.Logger
}

// MmapAllocator is only available on unix platforms
type MmapAllocator struct{}

var _ Allocator = &MmapAllocator{}

// NewMmapAllocator always fails on this platform
func NewMmapAllocator(options MmapAllocatorOptions) (*MmapAllocator, error) {
	return nil, errors.Wrap(memutils.ErrAllocationFailed, "mapped blocks are not supported on this platform")
}

func (a *MmapAllocator) ID() uint16 { return 0 }

func (a *MmapAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	return nil, errors.Wrap(memutils.ErrAllocationFailed, "mapped blocks are not supported on this platform")
}

func (a *MmapAllocator) Free(ptr unsafe.Pointer, layout Layout) {
	panic("mapped blocks are not supported on this platform")
}
