package memory

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/vkngwrapper/arc/memutils"
)

func printStatistics(json *jwriter.ObjectState, stats *memutils.Statistics) {
	json.Name("RegionCount").Int(stats.RegionCount)
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("RegionBytes").Int(stats.RegionBytes)
	json.Name("BlockBytes").Int(stats.BlockBytes)
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	printStatistics(json, &stats.Statistics)
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)

	if stats.BlockCount > 0 {
		json.Name("BlockSizeMin").Int(stats.BlockSizeMin)
		json.Name("BlockSizeMax").Int(stats.BlockSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}
