//go:build unix

package memory

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"

	"github.com/vkngwrapper/arc/memutils"
)

// MmapAllocatorOptions contains optional settings when creating an MmapAllocator
type MmapAllocatorOptions struct {
	// Logger receives debug output for every mapping and unmapping. slog.Default() is used if nil.
	Logger *slog.Logger
}

// MmapAllocator gives every block its own anonymous private mapping. Blocks live outside the Go heap,
// so their addresses can be handed to foreign code without pinning, but payload types holding Go
// pointers are rejected with memutils.ErrUnsupportedPayload.
//
// When built with the debug_arc tag, a magic value is written after each payload and checked when
// the block is freed.
type MmapAllocator struct {
	logger   *slog.Logger
	pageSize int
	id       uint16
}

var _ Allocator = &MmapAllocator{}

// NewMmapAllocator creates and registers an MmapAllocator
func NewMmapAllocator(options MmapAllocatorOptions) (*MmapAllocator, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocator := &MmapAllocator{
		logger:   logger,
		pageSize: unix.Getpagesize(),
	}

	var err error
	allocator.id, err = Register(allocator)
	if err != nil {
		return nil, err
	}

	return allocator, nil
}

// ID returns the registry ID of this allocator
func (a *MmapAllocator) ID() uint16 { return a.id }

func (a *MmapAllocator) mappingSize(layout Layout) int {
	return memutils.AlignUp(int(layout.Size)+memutils.DebugMargin, a.pageSize)
}

func (a *MmapAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	a.logger.Debug("MmapAllocator::Allocate")

	if memutils.HasPointers(layout.Type) {
		return nil, errors.Wrapf(memutils.ErrUnsupportedPayload, "%s holds Go pointers and cannot live in mapped memory", layout.Type)
	}
	if uintptr(a.pageSize)%layout.Align != 0 {
		return nil, errors.Wrapf(memutils.ErrUnsupportedPayload, "alignment %d is larger than a page", layout.Align)
	}

	size := a.mappingSize(layout)
	mapping, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map %d bytes", size), memutils.ErrAllocationFailed)
	}

	ptr := unsafe.Pointer(&mapping[0])
	memutils.WriteMagicValue(ptr, int(layout.Size))

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Mapped block",
		slog.String("Address", fmt.Sprintf("%p", ptr)),
		slog.Int("Size", size),
	)

	return ptr, nil
}

func (a *MmapAllocator) Free(ptr unsafe.Pointer, layout Layout) {
	a.logger.Debug("MmapAllocator::Free")

	if !memutils.ValidateMagicValue(ptr, int(layout.Size)) {
		panic(fmt.Sprintf("memory corruption detected after the block at %p", ptr))
	}

	size := a.mappingSize(layout)
	err := unix.Munmap(unsafe.Slice((*byte)(ptr), size))
	if err != nil {
		panic(fmt.Sprintf("unexpected failure when unmapping the block at %p: %+v", ptr, err))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Unmapped block",
		slog.String("Address", fmt.Sprintf("%p", ptr)),
		slog.Int("Size", size),
	)
}
