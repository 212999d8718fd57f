package pools_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/device/soft"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/slab"
	"github.com/wisprender/gpualloc/pools"
)

// smallPoolOptions gives heaps of 16 pages that hold 8 two-version buffers of one page each
func smallPoolOptions() pools.BufferPoolOptions {
	return pools.BufferPoolOptions{
		HeapSize:       4096,
		Alignment:      256,
		FramesInFlight: 2,
		Name:           "test-constants",
	}
}

func TestPoolCreateFlagsString(t *testing.T) {
	require.Equal(t, "PoolCreateUnmapped", pools.PoolCreateUnmapped.String())
	combined := (pools.PoolCreateNeverGrow | pools.PoolCreateExternallySynchronized).String()
	require.Contains(t, combined, "PoolCreateNeverGrow")
	require.Contains(t, combined, "PoolCreateExternallySynchronized")
	require.NotContains(t, combined, "PoolCreateUnmapped")
}

func TestConstantBufferPoolWrite(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)
	require.Equal(t, 0, pool.HeapCount())

	buffer, err := pool.Create(100)
	require.NoError(t, err)
	require.Equal(t, 1, pool.HeapCount())
	require.Equal(t, 2, buffer.Versions())
	require.Equal(t, 256, buffer.AlignedSize())
	require.Equal(t, buffer.GPUAddress(0)+256, buffer.GPUAddress(1))

	require.NoError(t, pool.Write(buffer, frame.Index(1), 4, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3}, buffer.CPU(1)[4:7])
	require.Equal(t, []byte{0, 0, 0}, buffer.CPU(0)[4:7])

	err = pool.Write(buffer, frame.Index(0), 99, []byte{1, 2})
	require.True(t, errors.Is(err, memutils.ErrOutOfRange))

	pool.Destroy(buffer)
	require.True(t, buffer.IsNull())
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Close())
	require.Equal(t, 0, dev.LiveHeaps())
}

func TestConstantBufferPoolGrowsAndShrinks(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	var buffers []*slab.Buffer
	for i := 0; i < 8; i++ {
		buffer, err := pool.Create(256)
		require.NoError(t, err)
		buffers = append(buffers, buffer)
	}
	require.Equal(t, 1, pool.HeapCount())

	overflow, err := pool.Create(256)
	require.NoError(t, err)
	require.Equal(t, 2, pool.HeapCount())
	require.NotSame(t, buffers[0].Heap(), overflow.Heap())

	// A single empty heap is kept around for the next allocation
	pool.Destroy(overflow)
	require.Equal(t, 2, pool.HeapCount())

	for _, buffer := range buffers {
		pool.Destroy(buffer)
	}
	require.Equal(t, 1, pool.HeapCount())
	require.Equal(t, 1, dev.LiveHeaps())
	require.NoError(t, pool.Validate())

	require.NoError(t, pool.Close())
	require.Equal(t, 0, dev.LiveHeaps())
}

func TestConstantBufferPoolMinHeaps(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	options := smallPoolOptions()
	options.MinHeaps = 2
	pool, err := pools.NewConstantBufferPool(nil, dev, options)
	require.NoError(t, err)
	require.Equal(t, 2, pool.HeapCount())

	buffer, err := pool.Create(10)
	require.NoError(t, err)
	pool.Destroy(buffer)
	require.Equal(t, 2, pool.HeapCount())

	require.NoError(t, pool.Close())
}

func TestConstantBufferPoolGrowthLimits(t *testing.T) {
	testCases := map[string]func(options *pools.BufferPoolOptions){
		"NeverGrow": func(options *pools.BufferPoolOptions) {
			options.MinHeaps = 1
			options.Flags = pools.PoolCreateNeverGrow
		},
		"MaxHeaps": func(options *pools.BufferPoolOptions) {
			options.MaxHeaps = 1
		},
	}

	for name, configure := range testCases {
		t.Run(name, func(t *testing.T) {
			dev := soft.New(nil, soft.Options{})
			options := smallPoolOptions()
			configure(&options)
			pool, err := pools.NewConstantBufferPool(nil, dev, options)
			require.NoError(t, err)

			var buffers []*slab.Buffer
			for i := 0; i < 8; i++ {
				buffer, err := pool.Create(1)
				require.NoError(t, err)
				buffers = append(buffers, buffer)
			}

			_, err = pool.Create(1)
			require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
			require.Equal(t, 1, pool.HeapCount())

			pool.Destroy(buffers[3])
			_, err = pool.Create(1)
			require.NoError(t, err)
		})
	}
}

func TestConstantBufferPoolRejectsImpossibleSizes(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	_, err = pool.Create(0)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))

	_, err = pool.Create(2049)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, 0, pool.HeapCount())

	_, err = pool.Create(2048)
	require.NoError(t, err)
}

func TestConstantBufferPoolOversizedRequestsCreateNoHeaps(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = pool.Create(math.MaxInt)
		require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	}
	_, err = pool.Create(math.MaxInt - 255)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	require.Equal(t, 0, pool.HeapCount())
	require.Equal(t, 0, dev.LiveHeaps())
	require.NoError(t, pool.Close())
}

func TestConstantBufferPoolDeviceBudget(t *testing.T) {
	dev := soft.New(nil, soft.Options{Budget: 4096})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	_, err = pool.Create(2048)
	require.NoError(t, err)

	_, err = pool.Create(2048)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.True(t, errors.Is(err, device.ErrOutOfDeviceMemory))
	require.Equal(t, 1, pool.HeapCount())
}

func TestConstantBufferPoolUnmapped(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	options := smallPoolOptions()
	options.Flags = pools.PoolCreateUnmapped
	pool, err := pools.NewConstantBufferPool(nil, dev, options)
	require.NoError(t, err)

	buffer, err := pool.Create(16)
	require.NoError(t, err)
	require.Nil(t, buffer.CPU(0))

	err = pool.Write(buffer, frame.Index(0), 0, []byte{1})
	require.True(t, errors.Is(err, memutils.ErrHeapNotMapped))
}

func TestConstantBufferPoolNullBuffers(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	buffer, err := pool.Create(16)
	require.NoError(t, err)
	pool.Destroy(buffer)

	require.NotPanics(t, func() {
		pool.Destroy(buffer)
	})

	err = pool.Write(buffer, frame.Index(0), 0, []byte{1})
	require.True(t, errors.Is(err, memutils.ErrNullAllocation))
}

func TestConstantBufferPoolRejectsForeignBuffers(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	first, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)
	second, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	buffer, err := first.Create(16)
	require.NoError(t, err)

	require.Panics(t, func() {
		second.Destroy(buffer)
	})
}

func TestConstantBufferPoolCloseWithLiveBuffers(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	buffer, err := pool.Create(16)
	require.NoError(t, err)

	err = pool.Close()
	require.True(t, errors.Is(err, memutils.ErrResourcesInUse))
	require.Equal(t, 1, dev.LiveHeaps())

	pool.Destroy(buffer)
	require.NoError(t, pool.Close())
	require.Equal(t, 0, dev.LiveHeaps())
}

func TestConstantBufferPoolResidency(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	options := smallPoolOptions()
	options.MinHeaps = 3
	pool, err := pools.NewConstantBufferPool(nil, dev, options)
	require.NoError(t, err)

	require.NoError(t, pool.MakeResident())
	require.NoError(t, pool.Evict())
	require.Equal(t, 6, dev.ResidencyCalls())
}

func TestConstantBufferPoolStatistics(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewConstantBufferPool(nil, dev, smallPoolOptions())
	require.NoError(t, err)

	_, err = pool.Create(100)
	require.NoError(t, err)
	_, err = pool.Create(300)
	require.NoError(t, err)

	var stats memutils.Statistics
	pool.AddStatistics(&stats)
	require.Equal(t, 1, stats.HeapCount)
	require.Equal(t, 4096, stats.HeapBytes)
	require.Equal(t, 2, stats.AllocationCount)
}

func TestStructuredBufferPool(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewStructuredBufferPool(nil, dev, pools.BufferPoolOptions{
		HeapSize:       1024 * 1024,
		FramesInFlight: 3,
	})
	require.NoError(t, err)

	buffer, err := pool.Create(1000, 16)
	require.NoError(t, err)
	require.Equal(t, 1000, buffer.Count())
	require.Equal(t, 16, buffer.Stride())
	require.Equal(t, 16000, buffer.UnalignedSize())
	require.Equal(t, int(pools.StructuredBufferAlignment), buffer.AlignedSize())

	for version := 0; version < 3; version++ {
		resource := buffer.Resource(version)
		require.NotNil(t, resource)
		require.Equal(t, resource.GPUAddress(), buffer.GPUAddress(version))
		require.Equal(t, version*int(pools.StructuredBufferAlignment), resource.Offset())
	}

	require.NoError(t, pool.Write(buffer, frame.Index(2), 15996, []byte{9, 9, 9, 9}))
	require.Equal(t, []byte{9, 9, 9, 9}, buffer.CPU(2)[15996:])

	_, err = pool.Create(0, 16)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))

	_, err = pool.Create(1024*1024, 16)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	pool.Destroy(buffer)
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Close())
	require.Equal(t, 0, dev.LiveHeaps())
}

func TestStructuredBufferPoolRejectsOverflowingSizes(t *testing.T) {
	dev := soft.New(nil, soft.Options{})
	pool, err := pools.NewStructuredBufferPool(nil, dev, pools.BufferPoolOptions{
		HeapSize:       1024 * 1024,
		FramesInFlight: 3,
	})
	require.NoError(t, err)

	buffer, err := pool.Create((1<<62)+1, 4)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))
	require.Nil(t, buffer)

	_, err = pool.Create(math.MaxInt, math.MaxInt)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))

	require.Equal(t, 0, pool.HeapCount())
	require.Equal(t, 0, dev.LiveHeaps())
	require.NoError(t, pool.Close())
}
