package memutils

import "github.com/pkg/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ErrOutOfMemory is returned by pools when no heap, page, or block can satisfy a request and the pool
	// is not permitted to grow any further. Leaf allocators report the same condition with a false return value.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidSize is returned when a caller requests zero or a negative number of bytes or descriptors
	ErrInvalidSize = errors.New("allocation size must be at least 1")

	// ErrHeapNotMapped is returned from Write when the owning heap has no CPU mapping. The write is dropped.
	ErrHeapNotMapped = errors.New("heap is not mapped for cpu access")

	// ErrNullAllocation is returned when a null or already-freed handle is passed to an operation
	ErrNullAllocation = errors.New("allocation handle is null")

	// ErrOutOfRange is returned when a write or lookup would land outside of an allocation
	ErrOutOfRange = errors.New("offset out of range")

	// ErrUnknownHandle is returned when a handle does not belong to the allocator it was passed to
	ErrUnknownHandle = errors.New("handle is not known to this allocator")

	// ErrDoubleFree is returned when a handle that is already free is freed again
	ErrDoubleFree = errors.New("allocation is already free")

	// ErrResourcesInUse is returned when a heap or page is destroyed while allocations still reference it
	ErrResourcesInUse = errors.New("allocations were not freed before destruction")

	// ErrClosed is returned from operations on a pool whose device memory has already been released
	ErrClosed = errors.New("pool is closed")
)
