// Package descriptor sub-allocates runs of descriptors out of fixed-capacity descriptor heaps.
//
// A Page tracks its free runs in two ordered indices, one by offset for neighbor merging and one
// by (size, offset) for best-fit search. Freed runs are not reusable right away. They wait in a
// FIFO tagged with the frame that freed them until the GPU reports that frame complete. Allocator
// pools pages and grows the pool on demand.
package descriptor

import (
	"context"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"go.uber.org/atomic"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const btreeDegree = 8

type freeRun struct {
	offset int
	size   int
}

func lessByOffset(a, b freeRun) bool {
	return a.offset < b.offset
}

func lessBySize(a, b freeRun) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

type staleRun struct {
	offset int
	size   int
	frame  frame.Number
}

type PageOptions struct {
	// ExternallySynchronized disables the page's mutex. The caller must serialize every call.
	ExternallySynchronized bool
}

// Page manages one descriptor heap
type Page struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	heap     device.DescriptorHeap
	clock    frame.Source
	capacity int
	stride   int
	cpuBase  uint64
	gpuBase  uint64

	byOffset    *btree.BTreeG[freeRun]
	bySize      *btree.BTreeG[freeRun]
	freeHandles int

	stale     []staleRun
	allocated *swiss.Map[int, int]
	refs      *atomic.Int64
	destroyed bool
}

var _ memutils.Validatable = &Page{}

// NewPage wraps a descriptor heap with a single free run covering its whole capacity. The page
// takes ownership of the heap.
func NewPage(logger *slog.Logger, heap device.DescriptorHeap, clock frame.Source, options PageOptions) *Page {
	desc := heap.Desc()
	if desc.Count < 1 {
		panic(fmt.Sprintf("descriptor heap has capacity %d", desc.Count))
	}

	p := &Page{
		logger: memutils.LoggerOrDiscard(logger),
		mutex:  utils.NewOptionalMutex(options.ExternallySynchronized),

		heap:     heap,
		clock:    clock,
		capacity: desc.Count,
		stride:   heap.IncrementSize(),
		cpuBase:  heap.CPUStart(),
		gpuBase:  heap.GPUStart(),

		byOffset:  btree.NewG[freeRun](btreeDegree, lessByOffset),
		bySize:    btree.NewG[freeRun](btreeDegree, lessBySize),
		allocated: swiss.NewMap[int, int](16),
		refs:      atomic.NewInt64(0),
	}
	p.insertRun(freeRun{offset: 0, size: desc.Count})

	return p
}

func (p *Page) Capacity() int               { return p.capacity }
func (p *Page) Stride() int                 { return p.stride }
func (p *Page) Kind() device.DescriptorKind { return p.heap.Desc().Kind }
func (p *Page) ShaderVisible() bool         { return p.heap.Desc().ShaderVisible }
func (p *Page) Heap() device.DescriptorHeap { return p.heap }

// References returns the number of live allocations that point into this page
func (p *Page) References() int {
	return int(p.refs.Load())
}

// NumFreeHandles returns the number of descriptors available to Allocate. Descriptors waiting for
// their frame to complete are not counted.
func (p *Page) NumFreeHandles() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.freeHandles
}

// HasSpace reports whether a run of count descriptors could be allocated right now
func (p *Page) HasSpace(count int) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if count > p.freeHandles {
		return false
	}
	_, found := p.findBestFit(count)
	return found
}

// StaleCount returns the number of freed runs waiting for their frame to complete
func (p *Page) StaleCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.stale)
}

func (p *Page) insertRun(run freeRun) {
	p.byOffset.ReplaceOrInsert(run)
	p.bySize.ReplaceOrInsert(run)
	p.freeHandles += run.size
}

func (p *Page) removeRun(run freeRun) {
	_, removed := p.byOffset.Delete(run)
	if !removed {
		panic(fmt.Sprintf("free descriptor run at offset %d was missing from the offset index", run.offset))
	}
	_, removed = p.bySize.Delete(run)
	if !removed {
		panic(fmt.Sprintf("free descriptor run at offset %d was missing from the size index", run.offset))
	}
	p.freeHandles -= run.size
}

func (p *Page) findBestFit(count int) (freeRun, bool) {
	var best freeRun
	found := false
	p.bySize.AscendGreaterOrEqual(freeRun{size: count}, func(run freeRun) bool {
		best = run
		found = true
		return false
	})
	return best, found
}

// Allocate carves count descriptors out of the smallest free run that can hold them. A false return
// means the page has no such run.
func (p *Page) Allocate(count int) (Allocation, bool) {
	if count < 1 {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "descriptor allocation with invalid count",
			slog.Int("count", count),
		)
		return Allocation{}, false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		panic("attempted to allocate from a destroyed descriptor page")
	}

	if count > p.freeHandles {
		return Allocation{}, false
	}

	run, found := p.findBestFit(count)
	if !found {
		return Allocation{}, false
	}

	p.removeRun(run)
	if run.size > count {
		p.insertRun(freeRun{offset: run.offset + count, size: run.size - count})
	}

	p.allocated.Put(run.offset, count)
	p.refs.Inc()

	allocation := Allocation{
		cpu:    p.cpuBase + uint64(run.offset*p.stride),
		count:  count,
		stride: p.stride,
		page:   p,
	}
	if p.gpuBase != 0 {
		allocation.gpu = p.gpuBase + uint64(run.offset*p.stride)
	}

	memutils.DebugValidate(p)
	return allocation, true
}

// Free queues the allocation's descriptors for release once the current frame completes, then
// nulls the allocation. The descriptors are not reusable until ReleaseStaleDescriptors is called
// with a completed frame at least as new as the current one.
func (p *Page) Free(allocation *Allocation) {
	if allocation.IsNull() {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "free of null descriptor allocation ignored")
		return
	}
	if allocation.page != p {
		panic("descriptor allocation freed through a page that does not own it")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	offset := int(allocation.cpu-p.cpuBase) / p.stride
	size, found := p.allocated.Get(offset)
	if !found {
		panic(fmt.Sprintf("descriptor run at offset %d is not allocated", offset))
	}
	if size != allocation.count {
		panic(fmt.Sprintf("descriptor run at offset %d was allocated with %d descriptors but freed with %d", offset, size, allocation.count))
	}

	p.allocated.Delete(offset)
	p.stale = append(p.stale, staleRun{
		offset: offset,
		size:   size,
		frame:  p.clock.FrameNumber(),
	})
	p.refs.Dec()

	*allocation = Allocation{}

	memutils.DebugValidate(p)
}

// ReleaseStaleDescriptors returns queued runs to the free indices, oldest first, stopping at the
// first run whose frame is newer than completed. It returns the number of descriptors released.
func (p *Page) ReleaseStaleDescriptors(completed frame.Number) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	released := 0
	for len(p.stale) > 0 && p.stale[0].frame <= completed {
		entry := p.stale[0]
		p.stale[0] = staleRun{}
		p.stale = p.stale[1:]

		p.freeBlock(entry.offset, entry.size)
		released += entry.size
	}

	if len(p.stale) == 0 {
		p.stale = nil
	}

	memutils.DebugValidate(p)
	return released
}

// freeBlock inserts a run into the free indices, merging it with the runs that end where it begins
// and begin where it ends
func (p *Page) freeBlock(offset, size int) {
	var predecessor, successor freeRun
	hasPredecessor, hasSuccessor := false, false

	p.byOffset.DescendLessOrEqual(freeRun{offset: offset}, func(run freeRun) bool {
		predecessor = run
		hasPredecessor = true
		return false
	})
	p.byOffset.AscendGreaterOrEqual(freeRun{offset: offset}, func(run freeRun) bool {
		successor = run
		hasSuccessor = true
		return false
	})

	if hasPredecessor {
		if predecessor.offset+predecessor.size > offset {
			panic(fmt.Sprintf("released descriptor run at offset %d overlaps free run [%d, %d)", offset, predecessor.offset, predecessor.offset+predecessor.size))
		}
		if predecessor.offset+predecessor.size == offset {
			p.removeRun(predecessor)
			offset = predecessor.offset
			size += predecessor.size
		}
	}

	if hasSuccessor {
		if successor.offset < offset+size {
			panic(fmt.Sprintf("released descriptor run ending at %d overlaps free run at offset %d", offset+size, successor.offset))
		}
		if successor.offset == offset+size {
			p.removeRun(successor)
			size += successor.size
		}
	}

	p.insertRun(freeRun{offset: offset, size: size})
}

// FreeRuns returns the free runs in offset order as (offset, size) pairs
func (p *Page) FreeRuns() [][2]int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	runs := make([][2]int, 0, p.byOffset.Len())
	p.byOffset.Ascend(func(run freeRun) bool {
		runs = append(runs, [2]int{run.offset, run.size})
		return true
	})
	return runs
}

// Destroy releases the descriptor heap. It fails while any allocation still references the page.
func (p *Page) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil
	}

	if refs := p.refs.Load(); refs > 0 {
		p.allocated.Iter(func(offset int, size int) bool {
			p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED DESCRIPTORS] unfreed descriptor allocation",
				slog.Int("offset", offset),
				slog.Int("count", size),
				slog.String("kind", p.heap.Desc().Kind.String()),
			)
			return false
		})
		return cerrors.Wrapf(memutils.ErrResourcesInUse, "descriptor page has %d live allocations", refs)
	}

	p.heap.Release()
	p.destroyed = true
	return nil
}

func (p *Page) validateLocked() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.Validate()
}

type extent struct {
	offset int
	size   int
	kind   string
}

// Validate checks the page without taking its mutex, so it may run inside the page's own
// operations. Allocator.Validate locks every page before checking it.
func (p *Page) Validate() error {
	if p.byOffset.Len() != p.bySize.Len() {
		return errors.Errorf("descriptor page has %d runs by offset but %d by size", p.byOffset.Len(), p.bySize.Len())
	}
	if int(p.refs.Load()) != p.allocated.Count() {
		return errors.Errorf("descriptor page has %d references but %d allocations", p.refs.Load(), p.allocated.Count())
	}

	extents := make([]extent, 0, p.byOffset.Len()+p.allocated.Count()+len(p.stale))
	freeHandles := 0
	var err error

	p.byOffset.Ascend(func(run freeRun) bool {
		if !p.bySize.Has(run) {
			err = errors.Errorf("free run at offset %d is missing from the size index", run.offset)
			return false
		}
		freeHandles += run.size
		extents = append(extents, extent{run.offset, run.size, "free"})
		return true
	})
	if err != nil {
		return err
	}
	if freeHandles != p.freeHandles {
		return errors.Errorf("free runs hold %d descriptors but %d were recorded", freeHandles, p.freeHandles)
	}

	p.allocated.Iter(func(offset int, size int) bool {
		extents = append(extents, extent{offset, size, "allocated"})
		return false
	})
	for _, entry := range p.stale {
		extents = append(extents, extent{entry.offset, entry.size, "stale"})
	}

	slices.SortFunc(extents, func(a, b extent) int {
		return a.offset - b.offset
	})

	expected := 0
	for i, ext := range extents {
		if ext.size < 1 {
			return errors.Errorf("%s run at offset %d has size %d", ext.kind, ext.offset, ext.size)
		}
		if ext.offset != expected {
			return errors.Errorf("%s run at offset %d was expected at offset %d", ext.kind, ext.offset, expected)
		}
		if i > 0 && ext.kind == "free" && extents[i-1].kind == "free" {
			return errors.Errorf("free run at offset %d was not merged with its predecessor", ext.offset)
		}
		expected += ext.size
	}

	if expected != p.capacity {
		return errors.Errorf("descriptor page runs cover %d descriptors of %d", expected, p.capacity)
	}

	return nil
}

func (p *Page) AddStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += p.capacity
	stats.AllocationCount += p.allocated.Count()
	p.allocated.Iter(func(offset int, size int) bool {
		stats.AllocationBytes += size
		return false
	})
}

func (p *Page) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += p.capacity

	p.allocated.Iter(func(offset int, size int) bool {
		stats.AddAllocation(size)
		return false
	})
	p.byOffset.Ascend(func(run freeRun) bool {
		stats.AddUnusedRange(run.size)
		return true
	})
}

// PrintDetailedMap populates a json object with the page's statistics, free runs and pending releases
func (p *Page) PrintDetailedMap(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	p.AddDetailedStatistics(&stats)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	json.Name("Kind").String(p.heap.Desc().Kind.String())
	json.Name("ShaderVisible").Bool(p.gpuBase != 0)
	json.Name("References").Int(int(p.refs.Load()))

	statsObj := json.Name("Stats").Object()
	stats.WriteJSON(statsObj)
	statsObj.End()

	free := json.Name("FreeRuns").Array()
	p.byOffset.Ascend(func(run freeRun) bool {
		obj := free.Object()
		obj.Name("Offset").Int(run.offset)
		obj.Name("Size").Int(run.size)
		obj.End()
		return true
	})
	free.End()

	stale := json.Name("StaleRuns").Array()
	for _, entry := range p.stale {
		obj := stale.Object()
		obj.Name("Offset").Int(entry.offset)
		obj.Name("Size").Int(entry.size)
		obj.Name("Frame").Int(int(entry.frame))
		obj.End()
	}
	stale.End()
}
