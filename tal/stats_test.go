package tal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateStatistics(t *testing.T) {
	table := readyTable(t, TableSetup{
		Threads:      3,
		SlotCapacity: 8,
		HeapBytes:    64,
		Options:      CreateOptions{MinimumUnit: 8},
	})
	require.NoError(t, table.DestroyHeap(2))

	_, err := table.Allocate(0, 8)
	require.NoError(t, err)
	_, err = table.Allocate(0, 24)
	require.NoError(t, err)
	_, err = table.Allocate(1, 16)
	require.NoError(t, err)

	stats := table.CalculateStatistics()
	require.Equal(t, 2, stats.HeapCount)
	require.Equal(t, 128, stats.HeapBytes)
	require.Equal(t, 3, stats.AllocationCount)
	require.Equal(t, 48, stats.AllocationBytes)
	require.Equal(t, 80, stats.SumFreeBytes())
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 16, stats.SlotCount)
	require.Equal(t, 5, stats.ActiveSlots)
	require.Equal(t, 8, stats.AllocationSizeMin)
	require.Equal(t, 24, stats.AllocationSizeMax)
	require.Equal(t, 32, stats.UnusedRangeSizeMin)
	require.Equal(t, 48, stats.UnusedRangeSizeMax)
}

func TestCalculateSummary(t *testing.T) {
	table := readyTable(t, TableSetup{
		Threads:      2,
		SlotCapacity: 8,
		HeapBytes:    64,
		Options:      CreateOptions{MinimumUnit: 8},
	})

	_, err := table.Allocate(0, 8)
	require.NoError(t, err)
	_, err = table.Allocate(1, 24)
	require.NoError(t, err)

	summary := table.CalculateSummary()
	detailed := table.CalculateStatistics()
	require.Equal(t, detailed.Statistics, summary)
	require.Equal(t, 2, summary.HeapCount)
	require.Equal(t, 2, summary.AllocationCount)
	require.Equal(t, 32, summary.AllocationBytes)
	require.Equal(t, 96, summary.SumFreeBytes())
	require.Equal(t, 4, summary.ActiveSlots)
}

type heapStats struct {
	TotalBytes   int
	UnusedBytes  int
	Allocations  int
	UnusedRanges int
	Slots        int
	ActiveSlots  int
	Blocks       []struct {
		Offset int
		Size   int
		Type   string
		Slot   int
	}
}

type statsDocument struct {
	Total struct {
		HeapCount       int
		AllocationCount int
		HeapBytes       int
		AllocationBytes int
	}
	Heaps map[string]heapStats
}

func TestBuildStatsString(t *testing.T) {
	table := readyTable(t, TableSetup{
		Threads:      2,
		SlotCapacity: 8,
		HeapBytes:    64,
		Options:      CreateOptions{MinimumUnit: 8},
	})

	_, err := table.Allocate(0, 8)
	require.NoError(t, err)
	_, err = table.Allocate(0, 16)
	require.NoError(t, err)

	str, err := table.BuildStatsString(true)
	require.NoError(t, err)

	var doc statsDocument
	require.NoError(t, json.Unmarshal([]byte(str), &doc))

	require.Equal(t, 2, doc.Total.HeapCount)
	require.Equal(t, 2, doc.Total.AllocationCount)
	require.Equal(t, 128, doc.Total.HeapBytes)
	require.Equal(t, 24, doc.Total.AllocationBytes)

	require.Len(t, doc.Heaps, 2)
	heap := doc.Heaps["0"]
	require.Equal(t, 64, heap.TotalBytes)
	require.Equal(t, 40, heap.UnusedBytes)
	require.Equal(t, 2, heap.Allocations)
	require.Equal(t, 1, heap.UnusedRanges)
	require.Equal(t, 3, heap.ActiveSlots)
	require.Len(t, heap.Blocks, 3)
	require.Equal(t, 0, heap.Blocks[0].Offset)
	require.Equal(t, "USED", heap.Blocks[0].Type)
	require.Equal(t, 8, heap.Blocks[1].Offset)
	require.Equal(t, 16, heap.Blocks[1].Size)
	require.Equal(t, "FREE", heap.Blocks[2].Type)
	require.Equal(t, 40, heap.Blocks[2].Size)

	require.Len(t, doc.Heaps["1"].Blocks, 1)
}

func TestBuildStatsStringSummary(t *testing.T) {
	table := readyTable(t, TableSetup{
		Threads:      1,
		SlotCapacity: 8,
		HeapBytes:    64,
		Options:      CreateOptions{MinimumUnit: 8},
	})

	str, err := table.BuildStatsString(false)
	require.NoError(t, err)

	var doc statsDocument
	require.NoError(t, json.Unmarshal([]byte(str), &doc))
	require.Equal(t, 1, doc.Total.HeapCount)
	require.Equal(t, 64, doc.Total.HeapBytes)
	require.Equal(t, 64, doc.Heaps["0"].TotalBytes)
	require.Empty(t, doc.Heaps["0"].Blocks)
	require.NotContains(t, str, "UnusedRangeCount")
}
