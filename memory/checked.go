package memory

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/arc/internal/utils"
	"github.com/vkngwrapper/arc/memutils"
	"github.com/vkngwrapper/arc/refcount"
)

const poisonByte = 0xDD

const counterSize = unsafe.Sizeof(refcount.Counter{})

// TestingT is the subset of testing.T used by the assertion methods of CheckedAllocator
type TestingT interface {
	Errorf(format string, args ...any)
	FailNow()
}

// CheckedAllocator wraps another Allocator and tracks every block it hands out. Create one with
// NewCheckedAllocator.
type CheckedAllocator struct {
	parent Allocator
	logger *slog.Logger
	flags  CheckedAllocatorFlags
	id     uint16

	mutex utils.OptionalRWMutex
	live  *swiss.Map[uintptr, Layout]

	currentBytes int
	peakBytes    int
	allocations  int
	frees        int
}

var _ Allocator = &CheckedAllocator{}

// ID returns the registry ID of this allocator
func (a *CheckedAllocator) ID() uint16 { return a.id }

func (a *CheckedAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	a.logger.Debug("CheckedAllocator::Allocate")

	ptr, err := a.parent.Allocate(layout)
	if err != nil {
		return nil, errors.Wrapf(err, "parent allocator failed to allocate %s", layout)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if previous, exists := a.live.Get(uintptr(ptr)); exists {
		panic(fmt.Sprintf("parent allocator returned live block %p (%s) a second time", ptr, previous))
	}

	a.live.Put(uintptr(ptr), layout)
	a.allocations++
	a.currentBytes += int(layout.Size)
	a.peakBytes = max(a.peakBytes, a.currentBytes)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated block",
		slog.String("Address", fmt.Sprintf("%p", ptr)),
		slog.String("Type", layout.Type.String()),
		slog.Int("Size", int(layout.Size)),
	)

	return ptr, nil
}

func (a *CheckedAllocator) Free(ptr unsafe.Pointer, layout Layout) {
	a.logger.Debug("CheckedAllocator::Free")

	a.mutex.Lock()
	allocated, exists := a.live.Get(uintptr(ptr))
	if !exists {
		a.mutex.Unlock()
		panic(errors.Wrapf(memutils.ErrDoubleFree, "block at %p", ptr))
	}
	if allocated != layout {
		a.mutex.Unlock()
		panic(errors.Wrapf(memutils.ErrLayoutMismatch, "block at %p was allocated as %s but freed as %s", ptr, allocated, layout))
	}

	a.live.Delete(uintptr(ptr))
	a.frees++
	a.currentBytes -= int(layout.Size)
	a.mutex.Unlock()

	if a.flags&CheckedAllocatorPoisonOnFree != 0 && layout.Size > counterSize {
		fill := byte(poisonByte)
		if memutils.HasPointers(layout.Type) {
			fill = 0
		}

		// The counter word is left alone so that a poisoned counter still catches stale handles
		bytes := unsafe.Slice((*byte)(ptr), layout.Size)[counterSize:]
		for i := range bytes {
			bytes[i] = fill
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed block",
		slog.String("Address", fmt.Sprintf("%p", ptr)),
		slog.Int("Size", int(layout.Size)),
	)

	a.parent.Free(ptr, layout)
}

// Close unregisters the allocator so that its ID can be reused. It fails if any block is still live.
// The allocator must not be used afterwards.
func (a *CheckedAllocator) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if count := a.live.Count(); count > 0 {
		return errors.Newf("cannot close an allocator with %d live blocks", count)
	}

	Unregister(a.id)
	return nil
}

// IsLive reports whether ptr is the address of a block allocated through this allocator and not yet freed
func (a *CheckedAllocator) IsLive(ptr unsafe.Pointer) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	_, exists := a.live.Get(uintptr(ptr))
	return exists
}

// CurrentAlloc returns the number of bytes held by live blocks
func (a *CheckedAllocator) CurrentAlloc() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.currentBytes
}

// LiveBlocks returns the number of blocks that have been allocated and not freed
func (a *CheckedAllocator) LiveBlocks() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.live.Count()
}

// Allocations returns the number of successful Allocate calls over the allocator's lifetime
func (a *CheckedAllocator) Allocations() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.allocations
}

// Frees returns the number of Free calls over the allocator's lifetime
func (a *CheckedAllocator) Frees() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.frees
}

// AssertSize fails the test if live blocks do not hold exactly size bytes
func (a *CheckedAllocator) AssertSize(t TestingT, size int) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	current := a.CurrentAlloc()
	if current != size {
		t.Errorf("expected %d bytes in live blocks, found %d", size, current)
		t.FailNow()
	}
}

// AssertNoLeaks fails the test if any block is still live
func (a *CheckedAllocator) AssertNoLeaks(t TestingT) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if a.live.Count() == 0 {
		return
	}

	a.live.Iter(func(address uintptr, layout Layout) bool {
		t.Errorf("leaked block at %#x: %s", address, layout)
		return false
	})
	t.FailNow()
}

// DebugLogLeaks logs every live block at Warn level
func (a *CheckedAllocator) DebugLogLeaks() {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.live.Iter(func(address uintptr, layout Layout) bool {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "Block was not freed",
			slog.String("Address", fmt.Sprintf("%#x", address)),
			slog.String("Type", layout.Type.String()),
			slog.Int("Size", int(layout.Size)),
		)
		return false
	})
}

// AddStatistics sums the allocator's live blocks into stats. Each block counts as its own region.
func (a *CheckedAllocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	count := a.live.Count()
	stats.RegionCount += count
	stats.BlockCount += count
	stats.RegionBytes += a.currentBytes
	stats.BlockBytes += a.currentBytes
}

// AddDetailedStatistics sums the allocator's live blocks into stats
func (a *CheckedAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.live.Iter(func(address uintptr, layout Layout) bool {
		stats.RegionCount++
		stats.RegionBytes += int(layout.Size)
		stats.AddBlock(int(layout.Size))
		return false
	})
}

// BuildStatsString returns a JSON document describing the allocator's usage. When detailedMap is true,
// every live block is listed.
func (a *CheckedAllocator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Allocator").String("CheckedAllocator")
	obj.Name("Flags").String(a.flags.String())

	a.mutex.RLock()
	obj.Name("Allocations").Int(a.allocations)
	obj.Name("Frees").Int(a.frees)
	obj.Name("PeakBytes").Int(a.peakBytes)
	a.mutex.RUnlock()

	total := obj.Name("Total").Object()
	printDetailedStatistics(&total, &stats)
	total.End()

	if detailedMap {
		a.printDetailedMap(&obj)
	}

	obj.End()
	return string(writer.Bytes())
}

func (a *CheckedAllocator) printDetailedMap(json *jwriter.ObjectState) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	a.live.Iter(func(address uintptr, layout Layout) bool {
		obj := blocks.Object()
		obj.Name("Address").String(fmt.Sprintf("%#x", address))
		obj.Name("Type").String(layout.Type.String())
		obj.Name("Size").Int(int(layout.Size))
		obj.End()
		return false
	})
}
