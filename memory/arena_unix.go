//go:build unix

package memory

import (
	"context"
	"fmt"
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"

	"github.com/vkngwrapper/arc/internal/utils"
	"github.com/vkngwrapper/arc/memutils"
	"github.com/vkngwrapper/arc/memutils/metadata"
)

type arenaRegion struct {
	id       int
	mapping  []byte
	base     unsafe.Pointer
	metadata *metadata.TLSF
}

type arenaBlock struct {
	region *arenaRegion
	handle metadata.SpanHandle
}

// ArenaAllocator carves blocks out of large anonymous mappings, using a two-level segregated fit index
// per mapping to find room. Like MmapAllocator it only accepts pointer-free payloads, but it does not
// pay for a system call on every block.
//
// An empty region is kept around for reuse; a second region becoming empty is unmapped.
type ArenaAllocator struct {
	logger     *slog.Logger
	flags      ArenaAllocatorFlags
	regionSize int
	pageSize   int
	id         uint16

	mutex        utils.OptionalMutex
	regions      []*arenaRegion
	nextRegionID int
	blocks       *swiss.Map[uintptr, arenaBlock]
}

var _ Allocator = &ArenaAllocator{}

// NewArenaAllocator creates and registers an ArenaAllocator. No memory is mapped until the first
// block is allocated.
func NewArenaAllocator(options ArenaAllocatorOptions) (*ArenaAllocator, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pageSize := unix.Getpagesize()
	regionSize := options.RegionSize
	if regionSize == 0 {
		regionSize = DefaultArenaRegionSize
	}
	if regionSize < 0 {
		return nil, errors.Newf("memory.ArenaAllocatorOptions.RegionSize must not be negative, but was %d", regionSize)
	}

	allocator := &ArenaAllocator{
		logger:     logger,
		flags:      options.Flags,
		regionSize: memutils.AlignUp(regionSize, pageSize),
		pageSize:   pageSize,
		mutex: utils.OptionalMutex{
			Enabled: options.Flags&ArenaAllocatorExternallySynchronized == 0,
		},
		blocks: swiss.NewMap[uintptr, arenaBlock](42),
	}

	var err error
	allocator.id, err = Register(allocator)
	if err != nil {
		return nil, err
	}

	return allocator, nil
}

// ID returns the registry ID of this allocator
func (a *ArenaAllocator) ID() uint16 { return a.id }

// RegionCount returns the number of regions currently mapped
func (a *ArenaAllocator) RegionCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return len(a.regions)
}

func (a *ArenaAllocator) Allocate(layout Layout) (unsafe.Pointer, error) {
	a.logger.Debug("ArenaAllocator::Allocate")

	if memutils.HasPointers(layout.Type) {
		return nil, errors.Wrapf(memutils.ErrUnsupportedPayload, "%s holds Go pointers and cannot live in an arena", layout.Type)
	}
	if uintptr(a.pageSize)%layout.Align != 0 {
		return nil, errors.Wrapf(memutils.ErrUnsupportedPayload, "alignment %d is larger than a page", layout.Align)
	}

	size := max(int(layout.Size)+memutils.DebugMargin, 1)

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, region := range a.regions {
		handle, offset, ok, err := region.metadata.Reserve(size, uint(layout.Align))
		if err != nil {
			return nil, err
		}
		if ok {
			return a.commit(region, handle, offset, layout), nil
		}
	}

	region, err := a.createRegion(max(a.regionSize, memutils.AlignUp(size, a.pageSize)))
	if err != nil {
		return nil, err
	}

	handle, offset, ok, err := region.metadata.Reserve(size, uint(layout.Align))
	if err != nil {
		return nil, err
	}
	if !ok {
		panic(fmt.Sprintf("a fresh region of %d bytes could not hold a block of %d bytes", region.metadata.Size(), size))
	}

	return a.commit(region, handle, offset, layout), nil
}

func (a *ArenaAllocator) commit(region *arenaRegion, handle metadata.SpanHandle, offset int, layout Layout) unsafe.Pointer {
	ptr := unsafe.Add(region.base, offset)
	clear(unsafe.Slice((*byte)(ptr), layout.Size))
	memutils.WriteMagicValue(ptr, int(layout.Size))

	a.blocks.Put(uintptr(ptr), arenaBlock{region: region, handle: handle})

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated block from region",
		slog.Int("Region", region.id),
		slog.Int("Offset", offset),
		slog.Int("Size", int(layout.Size)),
	)

	return ptr
}

func (a *ArenaAllocator) createRegion(size int) (*arenaRegion, error) {
	mapping, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map a region of %d bytes", size), memutils.ErrAllocationFailed)
	}

	region := &arenaRegion{
		id:       a.nextRegionID,
		mapping:  mapping,
		base:     unsafe.Pointer(&mapping[0]),
		metadata: metadata.NewTLSF(size),
	}
	a.nextRegionID++
	a.regions = append(a.regions, region)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created region",
		slog.Int("Region", region.id),
		slog.Int("Size", size),
	)

	return region, nil
}

func (a *ArenaAllocator) Free(ptr unsafe.Pointer, layout Layout) {
	a.logger.Debug("ArenaAllocator::Free")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	block, exists := a.blocks.Get(uintptr(ptr))
	if !exists {
		panic(errors.Wrapf(memutils.ErrDoubleFree, "block at %p", ptr))
	}

	if !memutils.ValidateMagicValue(ptr, int(layout.Size)) {
		panic(fmt.Sprintf("memory corruption detected after the block at %p", ptr))
	}

	hadEmptyRegion := a.hasEmptyRegion()
	region := block.region
	err := region.metadata.Release(block.handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when releasing the block at %p from region %d: %+v", ptr, region.id, err))
	}
	a.blocks.Delete(uintptr(ptr))
	memutils.DebugValidate(region.metadata)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed block from region",
		slog.Int("Region", region.id),
		slog.Int("Size", int(layout.Size)),
	)

	if hadEmptyRegion && region.metadata.IsEmpty() {
		a.removeRegion(region)
		a.unmapRegion(region)
	}
}

func (a *ArenaAllocator) hasEmptyRegion() bool {
	for _, region := range a.regions {
		if region.metadata.IsEmpty() {
			return true
		}
	}
	return false
}

func (a *ArenaAllocator) removeRegion(region *arenaRegion) {
	for i, candidate := range a.regions {
		if candidate == region {
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
			return
		}
	}
}

func (a *ArenaAllocator) unmapRegion(region *arenaRegion) {
	err := unix.Munmap(region.mapping)
	if err != nil {
		panic(fmt.Sprintf("unexpected failure when unmapping region %d: %+v", region.id, err))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty region", slog.Int("Region", region.id))
}

// Destroy unmaps every region. It fails without unmapping anything if any block is still live, since
// live handles would be left pointing at unmapped memory. On success the allocator's registry ID is
// released and the allocator must not be used again.
func (a *ArenaAllocator) Destroy() error {
	a.logger.Debug("ArenaAllocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if count := a.blocks.Count(); count > 0 {
		return errors.Newf("cannot destroy an arena with %d live blocks", count)
	}

	for _, region := range a.regions {
		a.unmapRegion(region)
	}
	a.regions = nil
	Unregister(a.id)

	return nil
}

// CheckCorruption verifies the magic value after every live block. It can only detect anything when
// built with the debug_arc tag.
func (a *ArenaAllocator) CheckCorruption() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, region := range a.regions {
		if err := region.metadata.CheckCorruption(region.base); err != nil {
			return errors.Wrapf(err, "region %d", region.id)
		}
	}
	return nil
}

// AddStatistics sums every region into stats
func (a *ArenaAllocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, region := range a.regions {
		region.metadata.AddStatistics(stats)
	}
}

// AddDetailedStatistics sums every region into stats, visiting every span
func (a *ArenaAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, region := range a.regions {
		region.metadata.AddDetailedStatistics(stats)
	}
}

// BuildStatsString returns a JSON document describing the allocator's usage. When detailedMap is true,
// every span of every region is listed.
func (a *ArenaAllocator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Allocator").String("ArenaAllocator")
	obj.Name("Flags").String(a.flags.String())
	obj.Name("RegionSize").Int(a.regionSize)

	total := obj.Name("Total").Object()
	printDetailedStatistics(&total, &stats)
	total.End()

	if detailedMap {
		a.printDetailedMap(&obj)
	}

	obj.End()
	return string(writer.Bytes())
}

func (a *ArenaAllocator) printDetailedMap(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	regions := json.Name("Regions").Object()
	defer regions.End()

	for _, region := range a.regions {
		regionObj := regions.Name(strconv.Itoa(region.id)).Object()
		region.metadata.PrintDetailedMap(&regionObj)
		regionObj.End()
	}
}
