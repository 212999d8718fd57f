package slab

import (
	"github.com/wisprender/gpualloc/frame"
)

// Kind selects how a heap exposes its buffers to the GPU
type Kind uint32

const (
	// KindSmallBuffer heaps are a single committed resource. Buffers are ranges of it and share its GPU
	// address space.
	KindSmallBuffer Kind = iota
	// KindBigBuffer heaps are raw placement heaps. Every buffer version is a separate placed resource.
	KindBigBuffer
)

var kindMapping = map[Kind]string{
	KindSmallBuffer: "KindSmallBuffer",
	KindBigBuffer:   "KindBigBuffer",
}

func (k Kind) String() string {
	return kindMapping[k]
}

// DefaultAlignment is the page size used when HeapOptions.Alignment is zero. It matches the constant
// buffer placement alignment of common GPUs.
const DefaultAlignment uint = 256

type HeapOptions struct {
	Kind Kind
	// Size is the heap size in bytes. It is rounded down to a whole number of pages.
	Size int
	// Alignment is the page size in bytes and must be a power of two. Zero selects DefaultAlignment.
	Alignment uint
	// Versions is the number of copies of every buffer, one per frame in flight. Zero selects
	// frame.DefaultFramesInFlight.
	Versions int
	// Mapped heaps are CPU visible and accept Write
	Mapped bool
	// ExternallySynchronized disables the heap's mutex. The caller must serialize every call.
	ExternallySynchronized bool
	Name                   string
}

func (o HeapOptions) withDefaults() HeapOptions {
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}
	if o.Versions == 0 {
		o.Versions = frame.DefaultFramesInFlight
	}
	return o
}
