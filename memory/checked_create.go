package memory

import (
	"strings"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/arc/internal/utils"
)

// CheckedAllocatorFlags indicate specific CheckedAllocator behaviors to activate or deactivate
type CheckedAllocatorFlags int32

const (
	// CheckedAllocatorExternallySynchronized ensures that the allocator will not be synchronized
	// internally. The consumer must guarantee that blocks are only allocated and released from one
	// goroutine at a time, but performance may improve because the internal mutex is not used.
	CheckedAllocatorExternallySynchronized CheckedAllocatorFlags = 1 << iota
	// CheckedAllocatorPoisonOnFree overwrites released blocks with a recognizable byte pattern before
	// passing them on to the parent allocator. Blocks whose type holds Go pointers are zeroed instead,
	// since the garbage collector may still be scanning them.
	CheckedAllocatorPoisonOnFree
)

var checkedAllocatorFlagNames = []string{
	"CheckedAllocatorExternallySynchronized",
	"CheckedAllocatorPoisonOnFree",
}

func (f CheckedAllocatorFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit, name := range checkedAllocatorFlagNames {
		if f&(1<<bit) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// CheckedAllocatorOptions contains optional settings when creating a CheckedAllocator
type CheckedAllocatorOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CheckedAllocatorFlags
	// Logger receives debug output for every allocation and release. slog.Default() is used if nil.
	Logger *slog.Logger
}

// NewCheckedAllocator creates an allocator that passes every request through to parent while keeping a
// record of every live block. It is intended for tests and diagnostics: it panics on a double free or on
// a free whose layout differs from the allocation's, and it can report or assert on leaked blocks.
//
// The returned allocator is registered and ready to use.
func NewCheckedAllocator(parent Allocator, options CheckedAllocatorOptions) (*CheckedAllocator, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocator := &CheckedAllocator{
		parent: parent,
		logger: logger,
		flags:  options.Flags,
		mutex: utils.OptionalRWMutex{
			Enabled: options.Flags&CheckedAllocatorExternallySynchronized == 0,
		},
		live: swiss.NewMap[uintptr, Layout](42),
	}

	var err error
	allocator.id, err = Register(allocator)
	if err != nil {
		return nil, err
	}

	return allocator, nil
}
