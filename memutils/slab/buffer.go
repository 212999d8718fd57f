package slab

import (
	"github.com/wisprender/gpualloc/device"
)

// Buffer is a range of pages in a Heap holding one copy of the caller's data per frame in flight.
// A freed Buffer is null and every accessor returns a zero value.
type Buffer struct {
	heap  *Heap
	index int

	beginOffset   int
	unalignedSize int
	alignedSize   int

	gpuAddresses []uint64
	cpu          [][]byte
	resources    []device.Resource
}

// IsNull reports whether the buffer has been freed or was never allocated
func (b *Buffer) IsNull() bool {
	return b == nil || b.heap == nil
}

// Heap returns the heap that owns this buffer, or nil for a null buffer
func (b *Buffer) Heap() *Heap {
	if b == nil {
		return nil
	}
	return b.heap
}

// BeginOffset is the byte offset of version 0 within the heap
func (b *Buffer) BeginOffset() int { return b.beginOffset }

// UnalignedSize is the size the caller requested
func (b *Buffer) UnalignedSize() int { return b.unalignedSize }

// AlignedSize is the distance in bytes between two versions of the buffer
func (b *Buffer) AlignedSize() int { return b.alignedSize }

func (b *Buffer) Versions() int { return len(b.gpuAddresses) }

func (b *Buffer) GPUAddress(version int) uint64 {
	if version < 0 || version >= len(b.gpuAddresses) {
		return 0
	}
	return b.gpuAddresses[version]
}

// CPU returns the mapped bytes of a version, or nil if the heap is not mapped
func (b *Buffer) CPU(version int) []byte {
	if version < 0 || version >= len(b.cpu) {
		return nil
	}
	return b.cpu[version]
}

// Resource returns the placed resource of a version. Only big-buffer heaps create placed resources.
func (b *Buffer) Resource(version int) device.Resource {
	if version < 0 || version >= len(b.resources) {
		return nil
	}
	return b.resources[version]
}

func (b *Buffer) nullify() {
	b.heap = nil
	b.index = -1
	b.gpuAddresses = nil
	b.cpu = nil
	b.resources = nil
}
