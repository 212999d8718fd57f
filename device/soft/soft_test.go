package soft_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/device/soft"
	"github.com/wisprender/gpualloc/memutils"
)

func TestCreateHeapAddressesDoNotOverlap(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	first, err := dev.CreateHeap(device.HeapDesc{Size: 100_000, Alignment: 256, Name: "first"})
	require.NoError(t, err)
	second, err := dev.CreateHeap(device.HeapDesc{Size: 10, Alignment: 256, Name: "second"})
	require.NoError(t, err)

	require.NotZero(t, first.GPUAddress())
	require.Zero(t, first.GPUAddress()%(64*1024))
	require.Zero(t, second.GPUAddress()%(64*1024))
	require.GreaterOrEqual(t, second.GPUAddress(), first.GPUAddress()+100_000)
	require.Equal(t, 2, dev.LiveHeaps())
	require.Equal(t, 100_010, dev.UsedBytes())

	first.Release()
	second.Release()
	require.Equal(t, 0, dev.LiveHeaps())
	require.Equal(t, 0, dev.UsedBytes())
}

func TestCreateHeapRejectsBadDescriptions(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	_, err := dev.CreateHeap(device.HeapDesc{Size: 0})
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))

	_, err = dev.CreateHeap(device.HeapDesc{Size: 128, Alignment: 3})
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
}

func TestBudget(t *testing.T) {
	dev := soft.New(nil, soft.Options{Budget: 1024})

	heap, err := dev.CreateHeap(device.HeapDesc{Size: 1000})
	require.NoError(t, err)

	_, err = dev.CreateHeap(device.HeapDesc{Size: 100})
	require.True(t, errors.Is(err, device.ErrOutOfDeviceMemory))
	require.Equal(t, 1000, dev.UsedBytes())

	heap.Release()
	_, err = dev.CreateHeap(device.HeapDesc{Size: 1024})
	require.NoError(t, err)
}

func TestMapRequiresCPUVisible(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	hidden, err := dev.CreateHeap(device.HeapDesc{Size: 64})
	require.NoError(t, err)
	_, err = hidden.Map()
	require.True(t, errors.Is(err, device.ErrNotCPUVisible))

	visible, err := dev.CreateHeap(device.HeapDesc{Size: 64, Flags: device.HeapFlagCPUVisible})
	require.NoError(t, err)
	data, err := visible.Map()
	require.NoError(t, err)
	require.Len(t, data, 64)
	visible.Unmap()

	require.Panics(t, func() { visible.Unmap() })
}

func TestPlacedResources(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	heap, err := dev.CreateHeap(device.HeapDesc{
		Size:      1024,
		Placement: device.PlacementPlaced,
		Flags:     device.HeapFlagCPUVisible | device.HeapFlagAllowPlacedResources,
	})
	require.NoError(t, err)

	res, err := heap.CreatePlacedResource(256, 128)
	require.NoError(t, err)
	require.Equal(t, heap.GPUAddress()+256, res.GPUAddress())
	require.Equal(t, 256, res.Offset())
	require.Equal(t, 128, res.Size())

	view, err := res.Map()
	require.NoError(t, err)
	require.Len(t, view, 128)
	view[0] = 0xAB

	whole, err := heap.Map()
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), whole[256])

	_, err = heap.CreatePlacedResource(1000, 100)
	require.Error(t, err)

	res.Release()
	_, err = res.Map()
	require.True(t, errors.Is(err, device.ErrReleased))
}

func TestPlacedResourcesRequireFlag(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	heap, err := dev.CreateHeap(device.HeapDesc{Size: 1024})
	require.NoError(t, err)

	_, err = heap.CreatePlacedResource(0, 16)
	require.Error(t, err)
}

func TestResidencyIsCounted(t *testing.T) {
	dev := soft.New(nil, soft.Options{})

	heap, err := dev.CreateHeap(device.HeapDesc{Size: 64})
	require.NoError(t, err)

	require.NoError(t, heap.MakeResident())
	require.NoError(t, heap.Evict())
	require.NoError(t, heap.EnqueueMakeResident(7))
	require.Equal(t, 3, dev.ResidencyCalls())
}

func TestDescriptorHeaps(t *testing.T) {
	dev := soft.New(nil, soft.Options{DescriptorIncrement: 16})

	visible, err := dev.CreateDescriptorHeap(device.DescriptorHeapDesc{Count: 8, ShaderVisible: true})
	require.NoError(t, err)
	require.Equal(t, 16, visible.IncrementSize())
	require.NotZero(t, visible.CPUStart())
	require.NotZero(t, visible.GPUStart())

	hidden, err := dev.CreateDescriptorHeap(device.DescriptorHeapDesc{Count: 8})
	require.NoError(t, err)
	require.Zero(t, hidden.GPUStart())
	require.GreaterOrEqual(t, hidden.CPUStart(), visible.CPUStart()+8*16)
	require.Equal(t, 2, dev.LiveDescriptorHeaps())

	visible.Release()
	require.Panics(t, func() { visible.Release() })
	require.Equal(t, 1, dev.LiveDescriptorHeaps())

	_, err = dev.CreateDescriptorHeap(device.DescriptorHeapDesc{Count: 0})
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))
}
