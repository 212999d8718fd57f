package soft

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/wisprender/gpualloc/device"
)

type heap struct {
	parent   *Device
	desc     device.HeapDesc
	address  uint64
	data     []byte
	mapCount int
	resident bool
	released bool
}

var _ device.Heap = &heap{}

func (h *heap) Desc() device.HeapDesc { return h.desc }

func (h *heap) GPUAddress() uint64 { return h.address }

func (h *heap) Map() ([]byte, error) {
	if h.released {
		return nil, device.ErrReleased
	}
	if h.data == nil {
		return nil, errors.Wrapf(device.ErrNotCPUVisible, "heap %q", h.desc.Name)
	}

	h.mapCount++
	return h.data, nil
}

func (h *heap) Unmap() {
	if h.mapCount == 0 {
		panic(fmt.Sprintf("heap %q unmapped more times than it was mapped", h.desc.Name))
	}
	h.mapCount--
}

func (h *heap) CreatePlacedResource(offset, size int) (device.Resource, error) {
	if h.released {
		return nil, device.ErrReleased
	}
	if h.desc.Flags&device.HeapFlagAllowPlacedResources == 0 {
		return nil, errors.Newf("heap %q does not allow placed resources", h.desc.Name)
	}
	if offset < 0 || size < 1 || offset+size > h.desc.Size {
		return nil, errors.Newf("placed resource [%d, %d) does not fit in heap %q of size %d", offset, offset+size, h.desc.Name, h.desc.Size)
	}

	return &resource{heap: h, offset: offset, size: size}, nil
}

func (h *heap) MakeResident() error {
	h.parent.residencyCalls.Inc()
	h.resident = true
	return nil
}

func (h *heap) Evict() error {
	h.parent.residencyCalls.Inc()
	h.resident = false
	return nil
}

func (h *heap) EnqueueMakeResident(fence uint64) error {
	h.parent.residencyCalls.Inc()
	h.resident = true
	return nil
}

func (h *heap) Release() {
	if h.released {
		panic(fmt.Sprintf("heap %q was released twice", h.desc.Name))
	}

	h.released = true
	h.data = nil
	h.parent.usedBytes.Sub(int64(h.desc.Size))
	h.parent.liveHeaps.Dec()
}

type resource struct {
	heap     *heap
	offset   int
	size     int
	released bool
}

var _ device.Resource = &resource{}

func (r *resource) GPUAddress() uint64 { return r.heap.address + uint64(r.offset) }
func (r *resource) Offset() int        { return r.offset }
func (r *resource) Size() int          { return r.size }

func (r *resource) Map() ([]byte, error) {
	if r.released || r.heap.released {
		return nil, device.ErrReleased
	}
	if r.heap.data == nil {
		return nil, errors.Wrapf(device.ErrNotCPUVisible, "resource in heap %q", r.heap.desc.Name)
	}

	return r.heap.data[r.offset : r.offset+r.size : r.offset+r.size], nil
}

func (r *resource) Release() {
	if r.released {
		panic(fmt.Sprintf("placed resource at offset %d of heap %q was released twice", r.offset, r.heap.desc.Name))
	}
	r.released = true
}

type descriptorHeap struct {
	parent    *Device
	desc      device.DescriptorHeapDesc
	increment int
	cpuStart  uint64
	gpuStart  uint64
	released  bool
}

var _ device.DescriptorHeap = &descriptorHeap{}

func (h *descriptorHeap) Desc() device.DescriptorHeapDesc { return h.desc }
func (h *descriptorHeap) CPUStart() uint64                { return h.cpuStart }
func (h *descriptorHeap) GPUStart() uint64                { return h.gpuStart }
func (h *descriptorHeap) IncrementSize() int              { return h.increment }

func (h *descriptorHeap) Release() {
	if h.released {
		panic("descriptor heap was released twice")
	}
	h.released = true
	h.parent.liveDescHeaps.Dec()
}
