// Package slab implements the per-frame versioned buffer heap. A heap is divided into fixed-size
// pages tracked by a bitmap. Every buffer occupies versions*ceil(size/page) consecutive pages and
// version v of the buffer begins v*alignedSize bytes after version 0, so the CPU can write the
// copy for the current frame while the GPU still reads the copies of earlier frames.
package slab

import (
	"context"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/bitmap"
	"golang.org/x/exp/slog"
)

type Heap struct {
	logger  *slog.Logger
	options HeapOptions
	mutex   utils.OptionalMutex

	deviceHeap device.Heap
	mapped     []byte
	pages      *bitmap.Bitmap
	size       int

	buffers   []*Buffer
	destroyed bool
}

var _ memutils.Validatable = &Heap{}

// NewHeap creates the backing device heap and an allocator over it. Small mapped heaps are mapped
// once here and stay mapped until Destroy.
func NewHeap(logger *slog.Logger, dev device.Device, options HeapOptions) (*Heap, error) {
	logger = memutils.LoggerOrDiscard(logger)
	logger.Debug("Heap::NewHeap")

	options = options.withDefaults()

	err := memutils.CheckPow2(options.Alignment, "slab heap alignment")
	if err != nil {
		return nil, err
	}
	if options.Versions < 1 {
		return nil, cerrors.Newf("slab heap %q must have at least one version, not %d", options.Name, options.Versions)
	}

	pageCount := options.Size / int(options.Alignment)
	if pageCount < 1 {
		return nil, cerrors.Wrapf(memutils.ErrInvalidSize, "slab heap %q of %d bytes is smaller than one %d-byte page", options.Name, options.Size, options.Alignment)
	}
	size := pageCount * int(options.Alignment)

	desc := device.HeapDesc{
		Size:      size,
		Alignment: options.Alignment,
		Flags:     device.HeapFlagAllowBuffers,
		Name:      options.Name,
	}
	if options.Kind == KindBigBuffer {
		desc.Placement = device.PlacementPlaced
		desc.Flags |= device.HeapFlagAllowPlacedResources
	}
	if options.Mapped {
		desc.Flags |= device.HeapFlagCPUVisible
	}

	deviceHeap, err := dev.CreateHeap(desc)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to create device heap for slab heap %q", options.Name)
	}

	h := &Heap{
		logger:     logger,
		options:    options,
		mutex:      utils.NewOptionalMutex(options.ExternallySynchronized),
		deviceHeap: deviceHeap,
		pages:      bitmap.New(pageCount),
		size:       size,
	}

	if options.Mapped && options.Kind == KindSmallBuffer {
		h.mapped, err = deviceHeap.Map()
		if err != nil {
			deviceHeap.Release()
			return nil, cerrors.Wrapf(err, "failed to map slab heap %q", options.Name)
		}
	}

	return h, nil
}

func (h *Heap) Kind() Kind              { return h.options.Kind }
func (h *Heap) Name() string            { return h.options.Name }
func (h *Heap) Size() int               { return h.size }
func (h *Heap) Alignment() uint         { return h.options.Alignment }
func (h *Heap) Versions() int           { return h.options.Versions }
func (h *Heap) IsMapped() bool          { return h.options.Mapped }
func (h *Heap) DeviceHeap() device.Heap { return h.deviceHeap }
func (h *Heap) GPUAddress() uint64      { return h.deviceHeap.GPUAddress() }

func (h *Heap) pagesPerVersion(size int) int {
	return memutils.AlignUp(size, h.options.Alignment) / int(h.options.Alignment)
}

// LiveBuffers returns the number of buffers that have been allocated and not yet freed
func (h *Heap) LiveBuffers() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.buffers)
}

func (h *Heap) IsEmpty() bool {
	return h.LiveBuffers() == 0
}

// FreeBytes returns the number of bytes in free pages
func (h *Heap) FreeBytes() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.pages.FreePages() * int(h.options.Alignment)
}

// Allocate reserves pages for every version of a buffer of the requested size. A false return means
// the heap has no run of free pages large enough; the heap is unchanged in that case.
func (h *Heap) Allocate(size int) (*Buffer, bool) {
	h.logger.Debug("Heap::Allocate")

	if size < 1 {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "slab allocation with invalid size",
			slog.String("heap", h.options.Name),
			slog.Int("size", size),
		)
		return nil, false
	}

	alignment := int(h.options.Alignment)
	versions := h.options.Versions
	if size > h.size/versions {
		return nil, false
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.destroyed {
		panic(fmt.Sprintf("attempted to allocate from destroyed slab heap %q", h.options.Name))
	}

	alignedSize := h.pagesPerVersion(size) * alignment
	neededPages := alignedSize / alignment * versions

	startPage, found := h.pages.FindFreeRun(neededPages)
	if !found {
		return nil, false
	}
	beginOffset := startPage * alignment

	buffer := &Buffer{
		heap:          h,
		index:         len(h.buffers),
		beginOffset:   beginOffset,
		unalignedSize: size,
		alignedSize:   alignedSize,
		gpuAddresses:  make([]uint64, versions),
	}

	if h.options.Kind == KindBigBuffer {
		buffer.resources = make([]device.Resource, 0, versions)
		for version := 0; version < versions; version++ {
			resource, err := h.deviceHeap.CreatePlacedResource(beginOffset+version*alignedSize, alignedSize)
			if err != nil {
				h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to create placed buffer",
					slog.String("heap", h.options.Name),
					slog.Int("offset", beginOffset+version*alignedSize),
					slog.Int("size", alignedSize),
					slog.Any("error", err),
				)
				for _, created := range buffer.resources {
					created.Release()
				}
				return nil, false
			}
			buffer.resources = append(buffer.resources, resource)
		}
	}

	for version := 0; version < versions; version++ {
		versionOffset := beginOffset + version*alignedSize

		if buffer.resources != nil {
			buffer.gpuAddresses[version] = buffer.resources[version].GPUAddress()
		} else {
			buffer.gpuAddresses[version] = h.deviceHeap.GPUAddress() + uint64(versionOffset)
		}
	}

	if h.options.Mapped {
		buffer.cpu = make([][]byte, versions)
		for version := 0; version < versions; version++ {
			if buffer.resources != nil {
				data, err := buffer.resources[version].Map()
				if err != nil {
					h.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to map placed buffer",
						slog.String("heap", h.options.Name),
						slog.Any("error", err),
					)
					for _, created := range buffer.resources {
						created.Release()
					}
					return nil, false
				}
				buffer.cpu[version] = data[:size:size]
				continue
			}

			versionOffset := beginOffset + version*alignedSize
			buffer.cpu[version] = h.mapped[versionOffset : versionOffset+size : versionOffset+size]
		}
	}

	h.pages.ClearRange(startPage, neededPages)
	h.buffers = append(h.buffers, buffer)

	memutils.DebugValidate(h)
	return buffer, true
}

// Write copies data into one version of a buffer. Writes to null buffers, unmapped heaps or past
// the end of the requested size are dropped and reported as errors.
func (h *Heap) Write(buffer *Buffer, frameIndex frame.Index, offset int, data []byte) error {
	if buffer.IsNull() {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "write to null slab buffer",
			slog.String("heap", h.options.Name),
		)
		return memutils.ErrNullAllocation
	}
	if buffer.heap != h {
		panic(fmt.Sprintf("slab buffer at offset %d written through heap %q, which does not own it", buffer.beginOffset, h.options.Name))
	}
	if !h.options.Mapped {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "write to unmapped slab heap dropped",
			slog.String("heap", h.options.Name),
			slog.Int("offset", buffer.beginOffset),
		)
		return memutils.ErrHeapNotMapped
	}

	version := int(frameIndex)
	if version < 0 || version >= len(buffer.cpu) {
		return cerrors.Wrapf(memutils.ErrOutOfRange, "frame index %d of a buffer with %d versions", version, len(buffer.cpu))
	}
	if offset < 0 || offset+len(data) > buffer.unalignedSize {
		return cerrors.Wrapf(memutils.ErrOutOfRange, "write of %d bytes at offset %d to a buffer of %d bytes", len(data), offset, buffer.unalignedSize)
	}

	copy(buffer.cpu[version][offset:], data)
	return nil
}

// Free returns the buffer's pages to the heap and nulls the buffer. Freeing a null buffer is a
// logged no-op.
func (h *Heap) Free(buffer *Buffer) {
	h.logger.Debug("Heap::Free")

	if buffer.IsNull() {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "free of null slab buffer ignored",
			slog.String("heap", h.options.Name),
		)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if buffer.heap != h {
		panic(fmt.Sprintf("slab buffer at offset %d freed through heap %q, which does not own it", buffer.beginOffset, h.options.Name))
	}

	index := buffer.index
	if index < 0 || index >= len(h.buffers) || h.buffers[index] != buffer {
		index = -1
		for i, candidate := range h.buffers {
			if candidate == buffer {
				index = i
				break
			}
		}
		panic(fmt.Sprintf("slab buffer at offset %d has back-index %d but is stored at index %d of heap %q", buffer.beginOffset, buffer.index, index, h.options.Name))
	}

	lastIndex := len(h.buffers) - 1
	if index != lastIndex {
		moved := h.buffers[lastIndex]
		h.buffers[index] = moved
		moved.index = index
	}
	h.buffers[lastIndex] = nil
	h.buffers = h.buffers[:lastIndex]

	for _, resource := range buffer.resources {
		resource.Release()
	}

	startPage := buffer.beginOffset / int(h.options.Alignment)
	pageCount := h.pagesPerVersion(buffer.unalignedSize) * h.options.Versions
	if !h.pages.RangeIsOccupied(startPage, pageCount) {
		panic(fmt.Sprintf("slab buffer pages [%d, %d) of heap %q are already free", startPage, startPage+pageCount, h.options.Name))
	}
	h.pages.SetRange(startPage, pageCount)

	buffer.nullify()

	memutils.DebugValidate(h)
}

func (h *Heap) MakeResident() error {
	return h.deviceHeap.MakeResident()
}

func (h *Heap) Evict() error {
	return h.deviceHeap.Evict()
}

// EnqueueMakeResident asks for the heap to be resident before the given frame's fence is signalled
func (h *Heap) EnqueueMakeResident(fence frame.Number) error {
	return h.deviceHeap.EnqueueMakeResident(uint64(fence))
}

// Destroy releases the device heap. If buffers are still live, each is logged, the heap is left
// intact and an error is returned.
func (h *Heap) Destroy() error {
	h.logger.Debug("Heap::Destroy")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.destroyed {
		return nil
	}

	if len(h.buffers) > 0 {
		for _, buffer := range h.buffers {
			h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed slab buffer",
				slog.String("heap", h.options.Name),
				slog.Int("offset", buffer.beginOffset),
				slog.Int("size", buffer.unalignedSize),
				slog.Int("versions", len(buffer.gpuAddresses)),
			)
		}

		return cerrors.Wrapf(memutils.ErrResourcesInUse, "slab heap %q has %d live buffers", h.options.Name, len(h.buffers))
	}

	if h.mapped != nil {
		h.deviceHeap.Unmap()
		h.mapped = nil
	}
	h.deviceHeap.Release()
	h.destroyed = true

	return nil
}

func (h *Heap) Validate() error {
	if h.deviceHeap == nil {
		return errors.New("slab heap has no device heap")
	}

	err := h.pages.Validate()
	if err != nil {
		return err
	}

	usedPages := 0
	for index, buffer := range h.buffers {
		if buffer == nil {
			return errors.Errorf("slab heap has a nil buffer at index %d", index)
		}
		if buffer.heap != h {
			return errors.Errorf("buffer at index %d belongs to another heap", index)
		}
		if buffer.index != index {
			return errors.Errorf("buffer at index %d has back-index %d", index, buffer.index)
		}
		if buffer.beginOffset%int(h.options.Alignment) != 0 {
			return errors.Errorf("buffer at index %d begins at unaligned offset %d", index, buffer.beginOffset)
		}

		startPage := buffer.beginOffset / int(h.options.Alignment)
		pageCount := h.pagesPerVersion(buffer.unalignedSize) * h.options.Versions
		if startPage+pageCount > h.pages.PageCount() {
			return errors.Errorf("buffer at index %d extends past the end of the heap", index)
		}
		if !h.pages.RangeIsOccupied(startPage, pageCount) {
			return errors.Errorf("buffer at index %d covers free pages", index)
		}
		usedPages += pageCount
	}

	if usedPages+h.pages.FreePages() != h.pages.PageCount() {
		return errors.Errorf("slab heap buffers cover %d pages and %d pages are free, but the heap has %d pages", usedPages, h.pages.FreePages(), h.pages.PageCount())
	}

	return nil
}

func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += h.size
	stats.AllocationCount += len(h.buffers)
	stats.AllocationBytes += (h.pages.PageCount() - h.pages.FreePages()) * int(h.options.Alignment)
}

func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.HeapCount++
	stats.HeapBytes += h.size

	for _, buffer := range h.buffers {
		stats.AddAllocation(buffer.alignedSize * len(buffer.gpuAddresses))
	}

	alignment := int(h.options.Alignment)
	h.pages.VisitFreeRuns(func(start, count int) {
		stats.AddUnusedRange(count * alignment)
	})
}

// PrintDetailedMap populates a json object with the heap's settings, statistics, live buffers and
// free ranges
func (h *Heap) PrintDetailedMap(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	json.Name("Name").String(h.options.Name)
	json.Name("Kind").String(h.options.Kind.String())
	json.Name("Alignment").Int(int(h.options.Alignment))
	json.Name("Versions").Int(h.options.Versions)
	json.Name("Mapped").Bool(h.options.Mapped)

	statsObj := json.Name("Stats").Object()
	stats.WriteJSON(statsObj)
	statsObj.End()

	buffers := json.Name("Buffers").Array()
	for _, buffer := range h.buffers {
		obj := buffers.Object()
		obj.Name("Offset").Int(buffer.beginOffset)
		obj.Name("Size").Int(buffer.unalignedSize)
		obj.Name("AlignedSize").Int(buffer.alignedSize)
		obj.End()
	}
	buffers.End()

	alignment := int(h.options.Alignment)
	free := json.Name("FreeRanges").Array()
	h.pages.VisitFreeRuns(func(start, count int) {
		obj := free.Object()
		obj.Name("Offset").Int(start * alignment)
		obj.Name("Size").Int(count * alignment)
		obj.End()
	})
	free.End()
}
