// Package device describes the collaborators that back the allocators with real memory: something
// that can create heaps, place resources inside them, create descriptor heaps, and accept residency
// hints. The allocators never talk to a graphics API directly. device/soft provides a host-memory
// implementation.
package device

//go:generate mockgen -source device.go -destination ./mocks/device.go -package mock_device

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
)

var (
	// ErrOutOfDeviceMemory is returned from CreateHeap when the device cannot back the requested heap
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// ErrNotCPUVisible is returned from Map when the heap or resource was created without HeapFlagCPUVisible
	ErrNotCPUVisible = errors.New("memory is not cpu visible")
	// ErrReleased is returned from operations on a heap or resource that has already been released
	ErrReleased = errors.New("object has already been released")
)

// Placement selects whether a heap is a single committed resource that callers sub-allocate from,
// or a raw heap that separate placed resources alias
type Placement uint32

const (
	PlacementCommitted Placement = iota
	PlacementPlaced
)

var placementMapping = map[Placement]string{
	PlacementCommitted: "PlacementCommitted",
	PlacementPlaced:    "PlacementPlaced",
}

func (p Placement) String() string {
	return placementMapping[p]
}

type HeapFlags int32

var heapFlagsMapping = common.NewFlagStringMapping[HeapFlags]()

func (f HeapFlags) Register(str string) {
	heapFlagsMapping.Register(f, str)
}
func (f HeapFlags) String() string {
	return heapFlagsMapping.FlagsToString(f)
}

const (
	// HeapFlagCPUVisible requests an upload heap that can be mapped into the CPU address space
	HeapFlagCPUVisible HeapFlags = 1 << iota
	// HeapFlagAllowBuffers permits buffers to live in the heap
	HeapFlagAllowBuffers
	// HeapFlagAllowPlacedResources permits CreatePlacedResource on the heap
	HeapFlagAllowPlacedResources
)

func init() {
	HeapFlagCPUVisible.Register("HeapFlagCPUVisible")
	HeapFlagAllowBuffers.Register("HeapFlagAllowBuffers")
	HeapFlagAllowPlacedResources.Register("HeapFlagAllowPlacedResources")
}

// HeapDesc describes a backing heap
type HeapDesc struct {
	Size      int
	Alignment uint
	Placement Placement
	Flags     HeapFlags
	Name      string
}

// DescriptorKind identifies which descriptor heap type a page is carved from
type DescriptorKind uint32

const (
	DescriptorKindCBVSRVUAV DescriptorKind = iota
	DescriptorKindSampler
	DescriptorKindRTV
	DescriptorKindDSV
)

var descriptorKindMapping = map[DescriptorKind]string{
	DescriptorKindCBVSRVUAV: "DescriptorKindCBVSRVUAV",
	DescriptorKindSampler:   "DescriptorKindSampler",
	DescriptorKindRTV:       "DescriptorKindRTV",
	DescriptorKindDSV:       "DescriptorKindDSV",
}

func (k DescriptorKind) String() string {
	return descriptorKindMapping[k]
}

// DescriptorHeapDesc describes a fixed-capacity descriptor heap
type DescriptorHeapDesc struct {
	Kind          DescriptorKind
	Count         int
	ShaderVisible bool
}

// Device creates the backing objects for the allocators. Failures are reported as errors, never
// as a nil object with a nil error.
type Device interface {
	CreateHeap(desc HeapDesc) (Heap, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
}

// Residency is implemented by objects that accept residency hints. These calls are passed through
// to the device untouched; the allocators attach no meaning to them.
type Residency interface {
	MakeResident() error
	Evict() error
	// EnqueueMakeResident asks for the object to be resident before the given fence value is signalled
	EnqueueMakeResident(fence uint64) error
}

// Heap is a contiguous range of GPU memory owned by exactly one allocator
type Heap interface {
	Residency

	Desc() HeapDesc
	GPUAddress() uint64
	// Map returns a CPU view of the entire heap. Only valid for HeapFlagCPUVisible heaps.
	Map() ([]byte, error)
	Unmap()
	// CreatePlacedResource creates a distinct GPU resource aliasing [offset, offset+size) of the heap
	CreatePlacedResource(offset, size int) (Resource, error)
	Release()
}

// Resource is a placed resource inside a Heap
type Resource interface {
	GPUAddress() uint64
	Offset() int
	Size() int
	// Map returns a CPU view of the resource. Only valid when the owning heap is HeapFlagCPUVisible.
	Map() ([]byte, error)
	Release()
}

// DescriptorHeap is a fixed-capacity table of descriptors
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUStart() uint64
	// GPUStart returns 0 for heaps that are not shader visible
	GPUStart() uint64
	// IncrementSize is the distance in bytes between two adjacent descriptor handles
	IncrementSize() int
	Release()
}
