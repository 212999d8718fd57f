package memutils_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/memutils"
)

func TestDetailedStatisticsAccumulate(t *testing.T) {
	var first memutils.DetailedStatistics
	first.Clear()
	first.HeapCount = 1
	first.HeapBytes = 1024
	first.AddAllocation(100)
	first.AddAllocation(300)
	first.AddUnusedRange(624)

	var second memutils.DetailedStatistics
	second.Clear()
	second.HeapCount = 1
	second.HeapBytes = 512
	second.AddAllocation(50)
	second.AddUnusedRange(200)
	second.AddUnusedRange(262)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&first)
	total.AddDetailedStatistics(&second)

	require.Equal(t, 2, total.HeapCount)
	require.Equal(t, 1536, total.HeapBytes)
	require.Equal(t, 3, total.AllocationCount)
	require.Equal(t, 450, total.AllocationBytes)
	require.Equal(t, 50, total.AllocationSizeMin)
	require.Equal(t, 300, total.AllocationSizeMax)
	require.Equal(t, 3, total.UnusedRangeCount)
	require.Equal(t, 200, total.UnusedRangeSizeMin)
	require.Equal(t, 624, total.UnusedRangeSizeMax)
}

func TestStatisticsWriteJSONOmitsEmptyRanges(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.HeapCount = 1
	stats.HeapBytes = 4096
	stats.AddUnusedRange(4096)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.WriteJSON(obj)
	obj.End()

	var document map[string]any
	require.NoError(t, json.Unmarshal(writer.Bytes(), &document))
	require.Equal(t, float64(4096), document["HeapBytes"])
	require.Equal(t, float64(1), document["UnusedRangeCount"])
	require.Equal(t, float64(4096), document["UnusedRangeSizeMin"])
	require.NotContains(t, document, "AllocationSizeMin")
}
