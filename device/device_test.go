package device_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/device"
)

func TestHeapFlagsString(t *testing.T) {
	require.Equal(t, "HeapFlagCPUVisible", device.HeapFlagCPUVisible.String())
	require.Contains(t, (device.HeapFlagCPUVisible | device.HeapFlagAllowBuffers).String(), "HeapFlagAllowBuffers")
}

func TestEnumStrings(t *testing.T) {
	require.Equal(t, "PlacementPlaced", device.PlacementPlaced.String())
	require.Equal(t, "DescriptorKindSampler", device.DescriptorKindSampler.String())
}
