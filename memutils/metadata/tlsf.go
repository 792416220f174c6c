// Package metadata tracks which byte ranges of a large memory region are in use. It stores nothing
// inside the region itself, so it can manage memory that the Go garbage collector never sees.
package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/arc/memutils"
)

const (
	smallSpanSize          = 256
	secondLevelIndex uint8 = 5
	memoryClassShift       = 7
	maxMemoryClasses       = 65 - memoryClassShift
)

// SpanHandle identifies a reserved range within a TLSF index
type SpanHandle uint64

// NoSpan is never returned for a successful reservation
const NoSpan SpanHandle = 0

var spanPool = sync.Pool{
	New: func() any {
		return &span{}
	},
}

type span struct {
	offset       int
	size         int
	prevPhysical *span
	nextPhysical *span

	prevFree *span
	nextFree *span

	handle SpanHandle
}

func (s *span) markFree() {
	s.prevFree = nil
}

func (s *span) markTaken() {
	s.prevFree = s
}

func (s *span) isFree() bool {
	return s.prevFree != s
}

// TLSF is a two-level segregated fit index over a region of memory. Free spans are bucketed by size
// class so that a fitting span is found with a couple of bitmap scans. The trailing free space of the
// region (the null span) is kept out of the buckets and consumed last.
//
// TLSF is not safe for concurrent use.
type TLSF struct {
	size              int
	spanCount         int
	freeCount         int
	freeSize          int
	isFreeBitmap      uint32
	innerIsFreeBitmap [maxMemoryClasses]uint32

	nextHandle SpanHandle
	handles    *swiss.Map[SpanHandle, *span]
	freeList   []*span
	nullSpan   *span
	tailSpan   *span
}

var _ memutils.Validatable = &TLSF{}

// NewTLSF creates an index over a region of size bytes, all of it free
func NewTLSF(size int) *TLSF {
	m := &TLSF{
		size:    size,
		handles: swiss.NewMap[SpanHandle, *span](42),
	}

	m.nullSpan = m.newSpan()
	m.nullSpan.size = size
	m.nullSpan.markFree()
	m.tailSpan = m.nullSpan

	memoryClass := sizeToMemoryClass(size)
	sli := sizeToSecondIndex(size, memoryClass)

	listSize := 1
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*int(uint(1)<<secondLevelIndex) + int(sli+1)
	}
	listSize += 4

	m.freeList = make([]*span, listSize)
	return m
}

func (m *TLSF) newSpan() *span {
	s := spanPool.Get().(*span)
	*s = span{}
	m.nextHandle++
	s.handle = m.nextHandle
	m.handles.Put(s.handle, s)
	return s
}

func (m *TLSF) releaseSpan(s *span) {
	m.handles.Delete(s.handle)
	spanPool.Put(s)
}

func (m *TLSF) lookup(handle SpanHandle) (*span, error) {
	s, ok := m.handles.Get(handle)
	if !ok {
		return nil, errors.Errorf("span handle %d does not belong to this index", handle)
	}
	return s, nil
}

// Size returns the number of bytes in the region
func (m *TLSF) Size() int { return m.size }

// SpanCount returns the number of live reservations
func (m *TLSF) SpanCount() int { return m.spanCount }

// SumFreeSize returns the number of bytes not covered by a reservation, including alignment padding
func (m *TLSF) SumFreeSize() int {
	return m.freeSize + m.nullSpan.size
}

// FreeRangeCount returns the number of distinct free ranges in the region
func (m *TLSF) FreeRangeCount() int {
	if m.nullSpan.size > 0 {
		return m.freeCount + 1
	}
	return m.freeCount
}

// IsEmpty returns true when the region holds no reservations
func (m *TLSF) IsEmpty() bool {
	return m.nullSpan.offset == 0
}

// Reserve finds room for size bytes at an offset that is a multiple of alignment and marks it as in use.
// ok is false when the region has no range that can hold the request.
func (m *TLSF) Reserve(size int, alignment uint) (handle SpanHandle, offset int, ok bool, err error) {
	if size < 1 {
		return NoSpan, 0, false, errors.Errorf("invalid reservation size: %d", size)
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return NoSpan, 0, false, err
	}

	memutils.DebugValidate(m)

	if size > m.SumFreeSize() {
		return NoSpan, 0, false, nil
	}

	target, offset := m.findFit(size, alignment)
	if target == nil {
		return NoSpan, 0, false, nil
	}

	return m.take(target, offset, size), offset, true, nil
}

func (m *TLSF) findFit(size int, alignment uint) (*span, int) {
	if m.freeCount == 0 {
		if offset, fits := m.fits(m.nullSpan, size, alignment); fits {
			return m.nullSpan, offset
		}
		return nil, 0
	}

	// Best fit bucket first
	candidate, listIndex := m.findFreeSpan(size)
	for ; candidate != nil; candidate = candidate.nextFree {
		if offset, fits := m.fits(candidate, size, alignment); fits {
			return candidate, offset
		}
	}

	if offset, fits := m.fits(m.nullSpan, size, alignment); fits {
		return m.nullSpan, offset
	}

	// Everything larger, for requests where alignment padding ruled out the bucket
	for listIndex++; listIndex < len(m.freeList); listIndex++ {
		for candidate = m.freeList[listIndex]; candidate != nil; candidate = candidate.nextFree {
			if offset, fits := m.fits(candidate, size, alignment); fits {
				return candidate, offset
			}
		}
	}

	return nil, 0
}

func (m *TLSF) fits(candidate *span, size int, alignment uint) (int, bool) {
	if !candidate.isFree() {
		panic(fmt.Sprintf("span at offset %d is already taken", candidate.offset))
	}

	alignedOffset := memutils.AlignUp(candidate.offset, int(alignment))
	if candidate.size < size+alignedOffset-candidate.offset {
		return 0, false
	}

	return alignedOffset, true
}

func (m *TLSF) take(current *span, offset int, size int) SpanHandle {
	if current != m.nullSpan {
		m.removeFree(current)
	}

	padding := offset - current.offset

	// Hand alignment padding to the previous span, or give it a span of its own
	if padding != 0 {
		prev := current.prevPhysical
		if prev == nil {
			panic("span at offset 0 required alignment padding")
		}

		if prev.isFree() {
			oldListIndex := m.listIndexFromSize(prev.size)
			prev.size += padding

			if oldListIndex != m.listIndexFromSize(prev.size) {
				prev.size -= padding
				m.removeFree(prev)

				prev.size += padding
				m.insertFree(prev)
			} else {
				m.freeSize += padding
			}
		} else {
			paddingSpan := m.newSpan()
			current.prevPhysical = paddingSpan
			prev.nextPhysical = paddingSpan
			paddingSpan.prevPhysical = prev
			paddingSpan.nextPhysical = current
			paddingSpan.size = padding
			paddingSpan.offset = current.offset
			paddingSpan.markTaken()

			m.insertFree(paddingSpan)
		}

		current.size -= padding
		current.offset += padding
	}

	switch {
	case current.size == size:
		if current == m.nullSpan {
			m.nullSpan = m.newSpan()
			m.nullSpan.offset = current.offset + size
			m.nullSpan.prevPhysical = current
			m.nullSpan.markFree()
			current.nextPhysical = m.nullSpan
			current.markTaken()
		}
	case current.size < size:
		panic(fmt.Sprintf("span at offset %d is too small for a reservation of %d bytes", current.offset, size))
	default:
		rest := m.newSpan()
		rest.size = current.size - size
		rest.offset = current.offset + size
		rest.prevPhysical = current
		rest.nextPhysical = current.nextPhysical
		current.nextPhysical = rest
		current.size = size

		if current == m.nullSpan {
			m.nullSpan = rest
			rest.markFree()
			current.markTaken()
		} else {
			rest.nextPhysical.prevPhysical = rest
			rest.markTaken()
			m.insertFree(rest)
		}
	}

	m.spanCount++
	return current.handle
}

// Release returns a reserved span to the free ranges, merging it with free neighbors
func (m *TLSF) Release(handle SpanHandle) error {
	s, err := m.lookup(handle)
	if err != nil {
		return err
	}
	if s.isFree() {
		return errors.Errorf("span at offset %d is already free", s.offset)
	}

	next := s.nextPhysical
	m.spanCount--

	prev := s.prevPhysical
	if prev != nil && prev.isFree() {
		m.removeFree(prev)
		m.merge(s, prev)
	}

	switch {
	case !next.isFree():
		m.insertFree(s)
	case next == m.nullSpan:
		m.merge(m.nullSpan, s)
	default:
		m.removeFree(next)
		m.merge(next, s)
		m.insertFree(next)
	}

	return nil
}

// SpanOffset returns the offset of a reserved span within the region
func (m *TLSF) SpanOffset(handle SpanHandle) (int, error) {
	s, err := m.lookup(handle)
	if err != nil {
		return 0, err
	}
	return s.offset, nil
}

// VisitSpans calls visit for every span in the region, highest offset first
func (m *TLSF) VisitSpans(visit func(offset int, size int, free bool) error) error {
	for s := m.nullSpan; s != nil; s = s.prevPhysical {
		if err := visit(s.offset, s.size, s.isFree()); err != nil {
			return err
		}
	}
	return nil
}

// CheckCorruption verifies the magic value written after each reservation. Reservations are expected
// to end in memutils.DebugMargin bytes written by memutils.WriteMagicValue.
func (m *TLSF) CheckCorruption(region unsafe.Pointer) error {
	for s := m.nullSpan.prevPhysical; s != nil; s = s.prevPhysical {
		if !s.isFree() && !memutils.ValidateMagicValue(region, s.offset+s.size-memutils.DebugMargin) {
			return errors.Errorf("memory corruption detected after the span at offset %d", s.offset)
		}
	}
	return nil
}

func (m *TLSF) Validate() error {
	if m.SumFreeSize() > m.size {
		return errors.New("invalid free size")
	}

	calculatedSize := m.nullSpan.size
	calculatedFreeSize := m.nullSpan.size
	var spanCount, freeCount, freeListCount int

	for listIndex := 0; listIndex < len(m.freeList); listIndex++ {
		s := m.freeList[listIndex]
		if s == nil {
			continue
		}

		if !s.isFree() {
			return errors.Errorf("span at offset %d is in the free list but is not free", s.offset)
		}
		if s.prevFree != nil {
			return errors.Errorf("span at offset %d is the head of a free list but has a previous span", s.offset)
		}

		freeListCount++
		for s.nextFree != nil {
			if !s.nextFree.isFree() {
				return errors.Errorf("span at offset %d is in the free list but is not free", s.nextFree.offset)
			}
			if s.nextFree.prevFree != s {
				return errors.Errorf("span at offset %d lists the span at offset %d as its next span, but the reverse reference is broken", s.offset, s.nextFree.offset)
			}

			freeListCount++
			s = s.nextFree
		}
	}

	if m.nullSpan.nextPhysical != nil {
		return errors.New("null span must be the last span in the region")
	}
	if m.nullSpan.prevPhysical != nil && m.nullSpan.prevPhysical.nextPhysical != m.nullSpan {
		return errors.New("null span has a span before it, but the reverse reference is broken")
	}

	nextOffset := m.nullSpan.offset
	for prev := m.nullSpan.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Errorf("span at offset %d does not end at the next span's start offset", prev.offset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.isFree() {
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			spanCount++
		}

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Errorf("span at offset %d has a previous span, but the reverse reference is broken", prev.offset)
		}
	}

	switch {
	case freeListCount != freeCount:
		return errors.Errorf("free list holds %d spans, but the region has %d free spans", freeListCount, freeCount)
	case nextOffset != 0:
		return errors.Errorf("the first span should have an offset of 0, but instead it has an offset of %d", nextOffset)
	case calculatedSize != m.size:
		return errors.Errorf("the region is %d bytes, but its spans add up to %d", m.size, calculatedSize)
	case calculatedFreeSize != m.SumFreeSize():
		return errors.Errorf("the region has %d free bytes, but its free spans add up to %d", m.SumFreeSize(), calculatedFreeSize)
	case spanCount != m.spanCount:
		return errors.Errorf("the region has %d reservations, but %d spans are taken", m.spanCount, spanCount)
	case freeCount != m.freeCount:
		return errors.Errorf("the region has %d free spans recorded, but %d were found", m.freeCount, freeCount)
	}

	return nil
}

// AddStatistics sums this region into stats
func (m *TLSF) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount++
	stats.RegionBytes += m.size
	stats.BlockCount += m.spanCount
	stats.BlockBytes += m.size - m.SumFreeSize()
}

// AddDetailedStatistics sums this region into stats, visiting every span
func (m *TLSF) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RegionCount++
	stats.RegionBytes += m.size
	if m.nullSpan.size > 0 {
		stats.AddFreeRange(m.nullSpan.size)
	}

	for s := m.nullSpan.prevPhysical; s != nil; s = s.prevPhysical {
		if s.isFree() {
			stats.AddFreeRange(s.size)
		} else {
			stats.AddBlock(s.size)
		}
	}
}

// PrintDetailedMap writes a summary of the region followed by every span, lowest offset first
func (m *TLSF) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.SumFreeSize())
	json.Name("Blocks").Int(m.spanCount)
	json.Name("UnusedRanges").Int(m.FreeRangeCount())

	spans := json.Name("Spans").Array()
	defer spans.End()

	for s := m.tailSpan; s != nil; s = s.nextPhysical {
		if s == m.nullSpan && s.size == 0 {
			continue
		}

		obj := spans.Object()
		obj.Name("Offset").Int(s.offset)
		obj.Name("Size").Int(s.size)
		obj.Name("Free").Bool(s.isFree())
		obj.End()
	}
}

func (m *TLSF) listIndexFromSize(size int) int {
	memoryClass := sizeToMemoryClass(size)
	return listIndex(memoryClass, sizeToSecondIndex(size, memoryClass))
}

func listIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	i := uint32(memoryClass-1)*uint32(uint(1)<<secondLevelIndex) + uint32(secondIndex)
	return int(i) + 4
}

func sizeToMemoryClass(size int) uint8 {
	if size > smallSpanSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - memoryClassShift
	}

	return 0
}

func sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		mask := uint(1) << secondLevelIndex
		indexVal := uint(size) >> (memoryClass + memoryClassShift - secondLevelIndex)
		return uint16(indexVal ^ mask)
	}

	return uint16((size - 1) / 64)
}

func (m *TLSF) findFreeSpan(size int) (*span, int) {
	memoryClass := sizeToMemoryClass(size)
	innerFreeMap := m.innerIsFreeBitmap[memoryClass] & (math.MaxUint32 << sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		// Check higher classes
		freeMap := m.isFreeBitmap & (math.MaxUint32 << (memoryClass + 1))
		if freeMap == 0 {
			return nil, listIndex(memoryClass, sizeToSecondIndex(size, memoryClass))
		}

		memoryClass = uint8(bits.TrailingZeros32(freeMap))
		innerFreeMap = m.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic("free bitmap is in an invalid state")
		}
	}

	index := listIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if m.freeList[index] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free spans, but none were in the free list", index))
	}

	return m.freeList[index], index
}

func (m *TLSF) removeFree(s *span) {
	if s == m.nullSpan {
		panic("cannot remove the null span")
	}
	if !s.isFree() {
		panic("provided span is not free")
	}

	if s.nextFree != nil {
		s.nextFree.prevFree = s.prevFree
	}
	if s.prevFree != nil {
		s.prevFree.nextFree = s.nextFree
	} else {
		memoryClass := sizeToMemoryClass(s.size)
		secondIndex := sizeToSecondIndex(s.size, memoryClass)
		index := listIndex(memoryClass, secondIndex)

		if m.freeList[index] != s {
			panic("span was not in the free list at the expected location")
		}
		m.freeList[index] = s.nextFree
		if s.nextFree == nil {
			m.innerIsFreeBitmap[memoryClass] &= ^(uint32(1) << secondIndex)
			if m.innerIsFreeBitmap[memoryClass] == 0 {
				m.isFreeBitmap &= ^(uint32(1) << memoryClass)
			}
		}
	}

	s.markTaken()
	s.nextFree = nil
	m.freeCount--
	m.freeSize -= s.size
}

func (m *TLSF) insertFree(s *span) {
	if s == m.nullSpan {
		panic("cannot insert the null span")
	}
	if s.isFree() {
		panic("span is already free")
	}

	memoryClass := sizeToMemoryClass(s.size)
	secondIndex := sizeToSecondIndex(s.size, memoryClass)
	index := listIndex(memoryClass, secondIndex)

	if index >= len(m.freeList) {
		panic("invalid free list index found for span")
	}

	s.prevFree = nil
	s.nextFree = m.freeList[index]
	m.freeList[index] = s
	if s.nextFree != nil {
		s.nextFree.prevFree = s
	} else {
		m.innerIsFreeBitmap[memoryClass] |= uint32(1) << secondIndex
		m.isFreeBitmap |= uint32(1) << memoryClass
	}
	m.freeCount++
	m.freeSize += s.size
}

func (m *TLSF) merge(s *span, prev *span) {
	if s.prevPhysical != prev {
		panic("cannot merge spans that are not adjacent")
	}
	if prev.isFree() {
		panic("cannot merge a span that belongs to the free list")
	}

	s.offset = prev.offset
	s.size += prev.size
	s.prevPhysical = prev.prevPhysical
	if s.prevPhysical != nil {
		s.prevPhysical.nextPhysical = s
	} else {
		m.tailSpan = s
	}

	m.releaseSpan(prev)
}
