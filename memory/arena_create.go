package memory

import "golang.org/x/exp/slog"

// ArenaAllocatorFlags indicate specific ArenaAllocator behaviors to activate or deactivate
type ArenaAllocatorFlags int32

const (
	// ArenaAllocatorExternallySynchronized ensures that the allocator will not be synchronized
	// internally. The consumer must guarantee that blocks are only allocated and released from one
	// goroutine at a time.
	ArenaAllocatorExternallySynchronized ArenaAllocatorFlags = 1 << iota
)

func (f ArenaAllocatorFlags) String() string {
	if f&ArenaAllocatorExternallySynchronized != 0 {
		return "ArenaAllocatorExternallySynchronized"
	}
	return "None"
}

const (
	// DefaultArenaRegionSize is the region size used when ArenaAllocatorOptions.RegionSize is 0. It is
	// equal to 1Mb.
	DefaultArenaRegionSize int = 1024 * 1024
)

// ArenaAllocatorOptions contains optional settings when creating an ArenaAllocator
type ArenaAllocatorOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags ArenaAllocatorFlags
	// RegionSize is the size of each mapping that blocks are carved from. Blocks larger than a region
	// get a region of their own. It is rounded up to a whole number of pages.
	RegionSize int
	// Logger receives debug output for every allocation and release. slog.Default() is used if nil.
	Logger *slog.Logger
}
