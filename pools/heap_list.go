package pools

import (
	"context"
	"fmt"
	"strconv"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/slab"
	"golang.org/x/exp/slog"
)

// heapList is a growable list of slab heaps that share one set of options. It is the common core of
// the constant and structured buffer pools.
type heapList struct {
	logger      *slog.Logger
	dev         device.Device
	heapOptions slab.HeapOptions

	minHeapCount int
	maxHeapCount int
	neverGrow    bool

	mutex      utils.OptionalRWMutex
	heaps      []*slab.Heap
	nextHeapID int
}

func (l *heapList) Init(
	logger *slog.Logger,
	dev device.Device,
	heapOptions slab.HeapOptions,
	minHeapCount, maxHeapCount int,
	flags PoolCreateFlags,
) {
	l.logger = logger
	l.dev = dev
	l.heapOptions = heapOptions
	l.minHeapCount = minHeapCount
	l.maxHeapCount = maxHeapCount
	l.neverGrow = flags&PoolCreateNeverGrow != 0
	l.mutex = utils.NewOptionalRWMutex(heapOptions.ExternallySynchronized)
}

func (l *heapList) HeapCount() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.heaps)
}

func (l *heapList) CreateMinHeaps() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for len(l.heaps) < l.minHeapCount {
		_, err := l.createHeap()
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *heapList) createHeap() (*slab.Heap, error) {
	options := l.heapOptions
	options.Name = fmt.Sprintf("%s#%d", l.heapOptions.Name, l.nextHeapID)

	heap, err := slab.NewHeap(l.logger, l.dev, options)
	if err != nil {
		if cerrors.Is(err, device.ErrOutOfDeviceMemory) {
			err = cerrors.Mark(err, memutils.ErrOutOfMemory)
		}
		return nil, err
	}
	l.nextHeapID++

	l.heaps = append(l.heaps, heap)
	return heap, nil
}

func (l *heapList) canCreateHeap() bool {
	if l.neverGrow {
		return false
	}
	return l.maxHeapCount == 0 || len(l.heaps) < l.maxHeapCount
}

// Allocate tries each heap in order, emptiest last, and creates a new heap if none has room
func (l *heapList) Allocate(size int) (*slab.Buffer, error) {
	if size < 1 {
		return nil, cerrors.Wrapf(memutils.ErrInvalidSize, "requested a %d byte buffer", size)
	}

	heapBytes := memutils.AlignDown(l.heapOptions.Size, l.heapOptions.Alignment)
	if size > heapBytes/l.heapOptions.Versions ||
		memutils.AlignUp(size, l.heapOptions.Alignment)*l.heapOptions.Versions > heapBytes {
		return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "a %d byte buffer with %d versions does not fit in a %d byte heap", size, l.heapOptions.Versions, l.heapOptions.Size)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, heap := range l.heaps {
		buffer, ok := heap.Allocate(size)
		if ok {
			l.incrementallySortHeaps()
			return buffer, nil
		}
	}

	if !l.canCreateHeap() {
		return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "pool %q has no room for a %d byte buffer and may not grow past %d heaps", l.heapOptions.Name, size, len(l.heaps))
	}

	heap, err := l.createHeap()
	if err != nil {
		return nil, err
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new heap", slog.String("heap", heap.Name()))

	buffer, ok := heap.Allocate(size)
	if !ok {
		l.remove(heap)
		err = heap.Destroy()
		if err != nil {
			l.logger.LogAttrs(context.Background(), slog.LevelError, "failed to destroy unused heap",
				slog.String("heap", heap.Name()),
				slog.Any("error", err),
			)
		}
		return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "new heap %q could not place a %d byte buffer", heap.Name(), size)
	}

	l.incrementallySortHeaps()
	return buffer, nil
}

// Free returns a buffer to its heap. If this leaves more than one empty heap, one of them is destroyed.
func (l *heapList) Free(buffer *slab.Buffer) {
	heap := buffer.Heap()
	if heap == nil {
		l.logger.LogAttrs(context.Background(), slog.LevelWarn, "free of null buffer ignored",
			slog.String("pool", l.heapOptions.Name),
		)
		return
	}

	var heapToDelete *slab.Heap
	func() {
		l.mutex.Lock()
		defer l.mutex.Unlock()

		l.indexOf(heap)
		hasEmptyHeapBeforeFree := l.hasEmptyHeap()
		heap.Free(buffer)

		canDeleteHeap := len(l.heaps) > l.minHeapCount

		if heap.IsEmpty() && hasEmptyHeapBeforeFree && canDeleteHeap {
			heapToDelete = heap
			l.remove(heap)
		} else if !heap.IsEmpty() && hasEmptyHeapBeforeFree && canDeleteHeap {
			lastHeap := l.heaps[len(l.heaps)-1]
			if lastHeap.IsEmpty() {
				heapToDelete = lastHeap
				l.heaps = l.heaps[:len(l.heaps)-1]
			}
		}

		l.incrementallySortHeaps()
	}()

	if heapToDelete != nil {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty heap", slog.String("heap", heapToDelete.Name()))
		err := heapToDelete.Destroy()
		if err != nil {
			panic(fmt.Sprintf("unexpected failure when destroying an empty heap: %+v", err))
		}
	}
}

// Write copies data into one version of a buffer owned by this list
func (l *heapList) Write(buffer *slab.Buffer, frameIndex frame.Index, offset int, data []byte) error {
	heap := buffer.Heap()
	if heap == nil {
		l.logger.LogAttrs(context.Background(), slog.LevelWarn, "write to null buffer",
			slog.String("pool", l.heapOptions.Name),
		)
		return memutils.ErrNullAllocation
	}

	return heap.Write(buffer, frameIndex, offset, data)
}

func (l *heapList) indexOf(heap *slab.Heap) int {
	for heapIndex := 0; heapIndex < len(l.heaps); heapIndex++ {
		if l.heaps[heapIndex] == heap {
			return heapIndex
		}
	}

	panic(fmt.Sprintf("heap %q does not belong to pool %q", heap.Name(), l.heapOptions.Name))
}

func (l *heapList) remove(heap *slab.Heap) {
	heapIndex := l.indexOf(heap)
	l.heaps = append(l.heaps[:heapIndex], l.heaps[heapIndex+1:]...)
}

func (l *heapList) hasEmptyHeap() bool {
	for _, heap := range l.heaps {
		if heap.IsEmpty() {
			return true
		}
	}

	return false
}

// incrementallySortHeaps moves at most one heap one step toward ascending free space, so fuller
// heaps are tried first
func (l *heapList) incrementallySortHeaps() {
	for heapIndex := 1; heapIndex < len(l.heaps); heapIndex++ {
		if l.heaps[heapIndex-1].FreeBytes() > l.heaps[heapIndex].FreeBytes() {
			l.heaps[heapIndex-1], l.heaps[heapIndex] = l.heaps[heapIndex], l.heaps[heapIndex-1]
			return
		}
	}
}

func (l *heapList) MakeResident() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var err error
	for _, heap := range l.heaps {
		err = cerrors.CombineErrors(err, heap.MakeResident())
	}
	return err
}

func (l *heapList) Evict() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var err error
	for _, heap := range l.heaps {
		err = cerrors.CombineErrors(err, heap.Evict())
	}
	return err
}

func (l *heapList) Destroy() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	remaining := l.heaps[:0]
	var err error
	for _, heap := range l.heaps {
		destroyErr := heap.Destroy()
		if destroyErr != nil {
			remaining = append(remaining, heap)
			err = cerrors.CombineErrors(err, destroyErr)
		}
	}

	l.heaps = remaining
	return err
}

func (l *heapList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for heapIndex, heap := range l.heaps {
		if heap == nil {
			return cerrors.Newf("pool %q has a nil heap at index %d", l.heapOptions.Name, heapIndex)
		}

		err := heap.Validate()
		if err != nil {
			return cerrors.Wrapf(err, "heap %q", heap.Name())
		}
	}

	return nil
}

func (l *heapList) AddStatistics(stats *memutils.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, heap := range l.heaps {
		heap.AddStatistics(stats)
	}
}

func (l *heapList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, heap := range l.heaps {
		heap.AddDetailedStatistics(stats)
	}
}

func (l *heapList) PrintDetailedMap(writer *jwriter.Writer) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	for heapIndex, heap := range l.heaps {
		heapObj := objState.Name(strconv.Itoa(heapIndex)).Object()
		heap.PrintDetailedMap(heapObj)
		heapObj.End()
	}
}
