package memutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetailedStatistics(t *testing.T) {
	var first DetailedStatistics
	first.Clear()
	first.HeapCount = 1
	first.HeapBytes = 128
	first.AddAllocation(16)
	first.AddAllocation(48)
	first.AddUnusedRange(64)

	var second DetailedStatistics
	second.Clear()
	second.HeapCount = 1
	second.HeapBytes = 64
	second.AddUnusedRange(8)

	var total DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&first)
	total.AddDetailedStatistics(&second)

	require.Equal(t, DetailedStatistics{
		Statistics: Statistics{
			HeapCount:       2,
			HeapBytes:       192,
			AllocationCount: 2,
			AllocationBytes: 64,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  16,
		AllocationSizeMax:  48,
		UnusedRangeSizeMin: 8,
		UnusedRangeSizeMax: 64,
	}, total)
	require.Equal(t, 128, total.SumFreeBytes())

	total.Clear()
	require.Equal(t, math.MaxInt, total.AllocationSizeMin)
	require.Equal(t, 0, total.HeapCount)
}
