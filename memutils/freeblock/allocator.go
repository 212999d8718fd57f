// Package freeblock manages one large contiguous range, such as a vertex or index buffer, as a
// sorted, doubly linked list of free and occupied blocks. Allocation is first fit and freeing
// coalesces with both neighbors, so the list never contains two adjacent free blocks.
//
// Nodes live in a single arena slice and link to one another by index, and callers hold
// BlockHandle values rather than pointers into the list.
package freeblock

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

// BlockHandle identifies an occupied block. Handles are never reused.
type BlockHandle uint64

// NoBlock is the null handle
const NoBlock BlockHandle = 0

const noNode int32 = -1

// Block describes an occupied range returned from Allocate
type Block struct {
	Handle BlockHandle
	// Offset is the aligned offset of the caller's data
	Offset int
	// Size is the size the caller requested
	Size int
	// Padding is the number of bytes between the start of the occupied block and Offset
	Padding int
}

// IsNull reports whether the block was never allocated
func (b Block) IsNull() bool {
	return b.Handle == NoBlock
}

type Options struct {
	// ExternallySynchronized disables the allocator's mutex. The caller must serialize every call.
	ExternallySynchronized bool
	Name                   string
}

type node struct {
	offset int
	size   int
	prev   int32
	next   int32
	free   bool
	// handle is NoBlock for free nodes
	handle BlockHandle
}

type Allocator struct {
	logger  *slog.Logger
	options Options
	mutex   utils.OptionalMutex

	size      int
	nodes     []node
	freeSlots []int32
	head      int32

	handles    *swiss.Map[BlockHandle, int32]
	nextHandle BlockHandle

	freeBytes  int
	freeCount  int
	allocCount int
}

var _ memutils.Validatable = &Allocator{}

// New creates an allocator with one free block covering [0, size)
func New(logger *slog.Logger, size int, options Options) *Allocator {
	if size < 1 {
		panic(cerrors.Wrapf(memutils.ErrInvalidSize, "free block allocator %q has size %d", options.Name, size))
	}

	a := &Allocator{
		logger:  memutils.LoggerOrDiscard(logger),
		options: options,
		mutex:   utils.NewOptionalMutex(options.ExternallySynchronized),
		size:    size,
		handles: swiss.NewMap[BlockHandle, int32](16),
	}
	a.reset()

	return a
}

func (a *Allocator) reset() {
	a.nodes = a.nodes[:0]
	a.freeSlots = a.freeSlots[:0]
	a.nodes = append(a.nodes, node{offset: 0, size: a.size, prev: noNode, next: noNode, free: true})
	a.head = 0
	a.handles.Clear()
	a.freeBytes = a.size
	a.freeCount = 1
	a.allocCount = 0
}

func (a *Allocator) Size() int    { return a.size }
func (a *Allocator) Name() string { return a.options.Name }

func (a *Allocator) newNode(n node) int32 {
	if len(a.freeSlots) > 0 {
		slot := a.freeSlots[len(a.freeSlots)-1]
		a.freeSlots = a.freeSlots[:len(a.freeSlots)-1]
		a.nodes[slot] = n
		return slot
	}

	a.nodes = append(a.nodes, n)
	return int32(len(a.nodes) - 1)
}

func (a *Allocator) deleteNode(slot int32) {
	a.nodes[slot] = node{prev: noNode, next: noNode}
	a.freeSlots = append(a.freeSlots, slot)
}

// Allocate returns the first block in offset order that can hold size bytes at the requested
// alignment. The block keeps any alignment padding. A false return means no block is large enough.
func (a *Allocator) Allocate(size int, alignment uint) (Block, bool) {
	a.logger.Debug("Allocator::Allocate")

	if size < 1 {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "free block allocation with invalid size",
			slog.String("allocator", a.options.Name),
			slog.Int("size", size),
		)
		return Block{}, false
	}
	if alignment == 0 {
		alignment = 1
	}
	memutils.DebugCheckPow2(alignment, "free block alignment")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if size > a.freeBytes {
		return Block{}, false
	}

	for slot := a.head; slot != noNode; slot = a.nodes[slot].next {
		if !a.nodes[slot].free {
			continue
		}

		offset := a.nodes[slot].offset
		padding := int((alignment - uint(offset)%alignment) % alignment)
		needed := size + padding
		if a.nodes[slot].size < needed {
			continue
		}

		if a.nodes[slot].size > needed {
			// newNode may grow the arena, so node pointers are taken after it
			remainder := a.newNode(node{
				offset: offset + needed,
				size:   a.nodes[slot].size - needed,
				prev:   slot,
				next:   a.nodes[slot].next,
				free:   true,
			})
			current := &a.nodes[slot]
			if current.next != noNode {
				a.nodes[current.next].prev = remainder
			}
			current.next = remainder
			current.size = needed
			a.freeCount++
		}

		a.nextHandle++
		current := &a.nodes[slot]
		current.free = false
		current.handle = a.nextHandle
		a.handles.Put(current.handle, slot)

		a.freeCount--
		a.freeBytes -= needed
		a.allocCount++

		memutils.DebugValidate(a)
		return Block{
			Handle:  current.handle,
			Offset:  offset + padding,
			Size:    size,
			Padding: padding,
		}, true
	}

	return Block{}, false
}

// Free returns a block to the allocator and merges it with free neighbors. Unknown handles and
// handles that were already freed are reported as errors and leave the allocator unchanged.
func (a *Allocator) Free(handle BlockHandle) error {
	a.logger.Debug("Allocator::Free")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	slot, found := a.handles.Get(handle)
	if !found {
		err := memutils.ErrDoubleFree
		if handle == NoBlock || handle > a.nextHandle {
			err = memutils.ErrUnknownHandle
		}

		a.logger.LogAttrs(context.Background(), slog.LevelError, "invalid free block handle",
			slog.String("allocator", a.options.Name),
			slog.Uint64("handle", uint64(handle)),
			slog.Any("error", err),
		)
		return cerrors.Wrapf(err, "free of handle %d in allocator %q", handle, a.options.Name)
	}

	a.handles.Delete(handle)

	current := &a.nodes[slot]
	current.free = true
	current.handle = NoBlock
	a.freeBytes += current.size
	a.freeCount++
	a.allocCount--

	if prev := current.prev; prev != noNode && a.nodes[prev].free {
		a.absorbNext(prev)
		slot = prev
	}

	if next := a.nodes[slot].next; next != noNode && a.nodes[next].free {
		a.absorbNext(slot)
	}

	memutils.DebugValidate(a)
	return nil
}

// absorbNext merges the free node after slot into slot and deletes it
func (a *Allocator) absorbNext(slot int32) {
	current := &a.nodes[slot]
	absorbed := current.next
	next := a.nodes[absorbed]

	current.size += next.size
	current.next = next.next
	if next.next != noNode {
		a.nodes[next.next].prev = slot
	}

	a.deleteNode(absorbed)
	a.freeCount--
}

// Clear frees every block at once. Outstanding handles become invalid.
func (a *Allocator) Clear() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.reset()
}

// SumFreeSize returns the total size of free blocks. Padding inside occupied blocks is not free.
func (a *Allocator) SumFreeSize() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.freeBytes
}

func (a *Allocator) AllocationCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.allocCount
}

func (a *Allocator) FreeRegionsCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.freeCount
}

func (a *Allocator) IsEmpty() bool {
	return a.AllocationCount() == 0
}

// LargestFreeBlock returns the size of the largest free block
func (a *Allocator) LargestFreeBlock() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	largest := 0
	for slot := a.head; slot != noNode; slot = a.nodes[slot].next {
		if a.nodes[slot].free && a.nodes[slot].size > largest {
			largest = a.nodes[slot].size
		}
	}
	return largest
}

// Blocks calls visit for every block in offset order. Occupied blocks report their handle and the
// full size including padding. Iteration stops at the first error, which is returned.
func (a *Allocator) Blocks(visit func(handle BlockHandle, offset, size int, free bool) error) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for slot := a.head; slot != noNode; slot = a.nodes[slot].next {
		n := a.nodes[slot]
		err := visit(n.handle, n.offset, n.size, n.free)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) Validate() error {
	if a.head == noNode {
		return errors.New("free block list is empty")
	}
	if a.nodes[a.head].prev != noNode {
		return errors.New("free block list head has a predecessor")
	}

	expectedOffset := 0
	freeBytes := 0
	freeCount := 0
	allocCount := 0
	visited := 0
	prevSlot := noNode
	prevFree := false

	for slot := a.head; slot != noNode; slot = a.nodes[slot].next {
		n := a.nodes[slot]
		visited++
		if visited > len(a.nodes) {
			return errors.New("free block list contains a cycle")
		}

		if n.prev != prevSlot {
			return errors.Errorf("block at offset %d has predecessor %d but follows %d", n.offset, n.prev, prevSlot)
		}
		if n.offset != expectedOffset {
			return errors.Errorf("block at offset %d was expected at offset %d", n.offset, expectedOffset)
		}
		if n.size < 1 {
			return errors.Errorf("block at offset %d has size %d", n.offset, n.size)
		}

		if n.free {
			if prevFree {
				return errors.Errorf("free block at offset %d follows another free block", n.offset)
			}
			if n.handle != NoBlock {
				return errors.Errorf("free block at offset %d has handle %d", n.offset, n.handle)
			}
			freeBytes += n.size
			freeCount++
		} else {
			mapped, found := a.handles.Get(n.handle)
			if !found || mapped != slot {
				return errors.Errorf("occupied block at offset %d has handle %d that does not map back to it", n.offset, n.handle)
			}
			allocCount++
		}

		expectedOffset += n.size
		prevSlot = slot
		prevFree = n.free
	}

	if expectedOffset != a.size {
		return errors.Errorf("free block list covers %d bytes of %d", expectedOffset, a.size)
	}
	if visited+len(a.freeSlots) != len(a.nodes) {
		return errors.Errorf("free block arena has %d nodes, %d linked and %d recycled", len(a.nodes), visited, len(a.freeSlots))
	}
	if freeBytes != a.freeBytes {
		return errors.Errorf("free blocks sum to %d bytes but %d were recorded", freeBytes, a.freeBytes)
	}
	if freeCount != a.freeCount {
		return errors.Errorf("found %d free blocks but %d were recorded", freeCount, a.freeCount)
	}
	if allocCount != a.allocCount || allocCount != a.handles.Count() {
		return errors.Errorf("found %d occupied blocks, recorded %d, with %d handles", allocCount, a.allocCount, a.handles.Count())
	}

	return nil
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += a.size
	stats.AllocationCount += a.allocCount
	stats.AllocationBytes += a.size - a.freeBytes
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += a.size

	for slot := a.head; slot != noNode; slot = a.nodes[slot].next {
		if a.nodes[slot].free {
			stats.AddUnusedRange(a.nodes[slot].size)
		} else {
			stats.AddAllocation(a.nodes[slot].size)
		}
	}
}

// PrintDetailedMap populates a json object with the allocator's statistics and every block
func (a *Allocator) PrintDetailedMap(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	json.Name("Name").String(a.options.Name)
	statsObj := json.Name("Stats").Object()
	stats.WriteJSON(statsObj)
	statsObj.End()

	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	_ = a.Blocks(func(handle BlockHandle, offset, size int, free bool) error {
		obj := blocks.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		obj.Name("Free").Bool(free)
		return nil
	})
}
