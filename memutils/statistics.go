package memutils

import "math"

// Statistics summarizes the memory held by an allocator. A region is a large reservation that
// blocks are carved from; allocators that hand out blocks directly report one region per block.
type Statistics struct {
	RegionCount int
	BlockCount  int
	RegionBytes int
	BlockBytes  int
}

func (s *Statistics) Clear() {
	s.RegionCount = 0
	s.BlockCount = 0
	s.RegionBytes = 0
	s.BlockBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RegionCount += other.RegionCount
	s.BlockCount += other.BlockCount
	s.RegionBytes += other.RegionBytes
	s.BlockBytes += other.BlockBytes
}

type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	BlockSizeMin     int
	BlockSizeMax     int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++

	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, size)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, size)
}

func (s *DetailedStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	s.BlockSizeMin = min(s.BlockSizeMin, size)
	s.BlockSizeMax = max(s.BlockSizeMax, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, other.FreeRangeSizeMin)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, other.FreeRangeSizeMax)
	s.BlockSizeMin = min(s.BlockSizeMin, other.BlockSizeMin)
	s.BlockSizeMax = max(s.BlockSizeMax, other.BlockSizeMax)
}
