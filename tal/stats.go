package tal

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tmal-go/tal/memutils"
)

// CalculateStatistics sums the statistics of every initialized heap in the table. It reads every
// heap, so it must not run while any thread is allocating.
func (t *Table) CalculateStatistics() memutils.DetailedStatistics {
	t.logger.Debug("Table::CalculateStatistics")

	var stats memutils.DetailedStatistics
	stats.Clear()

	for _, pool := range t.heaps {
		if pool == nil {
			continue
		}

		var poolStats memutils.DetailedStatistics
		poolStats.Clear()
		pool.AddDetailedStatistics(&poolStats)
		stats.AddDetailedStatistics(&poolStats)
	}

	return stats
}

// CalculateSummary sums the basic counters of every initialized heap in the table. Unlike
// CalculateStatistics it does not walk the blocks of each heap.
func (t *Table) CalculateSummary() memutils.Statistics {
	t.logger.Debug("Table::CalculateSummary")

	var stats memutils.Statistics
	stats.Clear()

	for _, pool := range t.heaps {
		if pool != nil {
			pool.AddStatistics(&stats)
		}
	}

	return stats
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.Statistics) {
	json.Name("HeapCount").Int(stats.HeapCount)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("HeapBytes").Int(stats.HeapBytes)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("Slots").Int(stats.SlotCount)
	json.Name("ActiveSlots").Int(stats.ActiveSlots)
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	printStatistics(json, &stats.Statistics)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString produces a json document describing the table's totals and each initialized
// heap, keyed by thread id. If detailedMap is true, the totals include the range of block sizes
// and every block of every heap is listed.
func (t *Table) BuildStatsString(detailedMap bool) (string, error) {
	writer := jwriter.NewWriter()
	root := writer.Object()

	total := root.Name("Total").Object()
	if detailedMap {
		stats := t.CalculateStatistics()
		printDetailedStatistics(&total, &stats)
	} else {
		stats := t.CalculateSummary()
		printStatistics(&total, &stats)
	}
	total.End()

	heaps := root.Name("Heaps").Object()
	for threadID, pool := range t.heaps {
		if pool == nil {
			continue
		}

		heap := heaps.Name(strconv.Itoa(threadID)).Object()
		if detailedMap {
			pool.PrintDetailedMap(&heap)
		} else {
			pool.metadata.BlockJsonData(&heap)
		}
		heap.End()
	}
	heaps.End()

	root.End()

	if err := writer.Error(); err != nil {
		return "", err
	}

	return string(writer.Bytes()), nil
}
