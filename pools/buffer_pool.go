package pools

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/slab"
	"golang.org/x/exp/slog"
)

const (
	// DefaultConstantHeapSize is the heap size used by constant buffer pools when none is configured
	DefaultConstantHeapSize = 1024 * 1024
	// DefaultStructuredHeapSize is the heap size used by structured buffer pools when none is configured
	DefaultStructuredHeapSize = 16 * 1024 * 1024
	// StructuredBufferAlignment is the placement alignment of big buffers
	StructuredBufferAlignment uint = 64 * 1024
)

// BufferPoolOptions configures a ConstantBufferPool or StructuredBufferPool
type BufferPoolOptions struct {
	// HeapSize is the size in bytes of every heap the pool creates. Zero selects the pool's default.
	HeapSize int
	// Alignment is the page size of the pool's heaps. Zero selects the pool's default.
	Alignment uint
	// FramesInFlight is the number of versions of every buffer. Zero selects frame.DefaultFramesInFlight.
	FramesInFlight int
	// MinHeaps heaps are created up front and never destroyed while the pool lives
	MinHeaps int
	// MaxHeaps caps growth. Zero means the pool grows until the device refuses.
	MaxHeaps int
	Flags    PoolCreateFlags
	Name     string
}

func (o BufferPoolOptions) heapOptions(kind slab.Kind, defaultSize int, defaultAlignment uint) slab.HeapOptions {
	heapOptions := slab.HeapOptions{
		Kind:                   kind,
		Size:                   o.HeapSize,
		Alignment:              o.Alignment,
		Versions:               o.FramesInFlight,
		Mapped:                 o.Flags&PoolCreateUnmapped == 0,
		ExternallySynchronized: o.Flags&PoolCreateExternallySynchronized != 0,
		Name:                   o.Name,
	}

	if heapOptions.Size == 0 {
		heapOptions.Size = defaultSize
	}
	if heapOptions.Alignment == 0 {
		heapOptions.Alignment = defaultAlignment
	}
	if heapOptions.Versions == 0 {
		heapOptions.Versions = frame.DefaultFramesInFlight
	}

	return heapOptions
}

// ConstantBufferPool hands out small per-frame-versioned buffers carved from committed heaps.
// All versions of a buffer share one heap so they can be addressed from a single GPU base.
type ConstantBufferPool struct {
	logger *slog.Logger
	heaps  heapList
}

var _ memutils.Validatable = &ConstantBufferPool{}

func NewConstantBufferPool(logger *slog.Logger, dev device.Device, options BufferPoolOptions) (*ConstantBufferPool, error) {
	logger = memutils.LoggerOrDiscard(logger)
	if options.Name == "" {
		options.Name = "constant-buffers"
	}

	heapOptions := options.heapOptions(slab.KindSmallBuffer, DefaultConstantHeapSize, slab.DefaultAlignment)
	err := memutils.CheckPow2(heapOptions.Alignment, "constant buffer alignment")
	if err != nil {
		return nil, err
	}

	pool := &ConstantBufferPool{logger: logger}
	pool.heaps.Init(logger, dev, heapOptions, options.MinHeaps, options.MaxHeaps, options.Flags)

	err = pool.heaps.CreateMinHeaps()
	if err != nil {
		_ = pool.heaps.Destroy()
		return nil, err
	}

	return pool, nil
}

// Create allocates a buffer of size bytes with one version per frame in flight
func (p *ConstantBufferPool) Create(size int) (*slab.Buffer, error) {
	p.logger.Debug("ConstantBufferPool::Create")

	return p.heaps.Allocate(size)
}

// Write copies data into the given frame's version of the buffer
func (p *ConstantBufferPool) Write(buffer *slab.Buffer, frameIndex frame.Index, offset int, data []byte) error {
	return p.heaps.Write(buffer, frameIndex, offset, data)
}

// Destroy frees the buffer immediately. The caller must ensure no frame in flight still reads it.
func (p *ConstantBufferPool) Destroy(buffer *slab.Buffer) {
	p.logger.Debug("ConstantBufferPool::Destroy")

	p.heaps.Free(buffer)
}

func (p *ConstantBufferPool) HeapCount() int      { return p.heaps.HeapCount() }
func (p *ConstantBufferPool) MakeResident() error { return p.heaps.MakeResident() }
func (p *ConstantBufferPool) Evict() error        { return p.heaps.Evict() }
func (p *ConstantBufferPool) Validate() error     { return p.heaps.Validate() }

// Close destroys every heap. Heaps with live buffers are logged and kept, and an error is returned.
func (p *ConstantBufferPool) Close() error {
	p.logger.Debug("ConstantBufferPool::Close")

	return p.heaps.Destroy()
}

func (p *ConstantBufferPool) AddStatistics(stats *memutils.Statistics) {
	p.heaps.AddStatistics(stats)
}

func (p *ConstantBufferPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.heaps.AddDetailedStatistics(stats)
}

func (p *ConstantBufferPool) PrintDetailedMap(writer *jwriter.Writer) {
	p.heaps.PrintDetailedMap(writer)
}

// StructuredBuffer is a big buffer holding count elements of stride bytes. Every version is a
// separate placed resource.
type StructuredBuffer struct {
	*slab.Buffer
	count  int
	stride int
}

func (b *StructuredBuffer) Count() int  { return b.count }
func (b *StructuredBuffer) Stride() int { return b.stride }

// StructuredBufferPool hands out large per-frame-versioned buffers carved from placement heaps
type StructuredBufferPool struct {
	logger *slog.Logger
	heaps  heapList
}

var _ memutils.Validatable = &StructuredBufferPool{}

func NewStructuredBufferPool(logger *slog.Logger, dev device.Device, options BufferPoolOptions) (*StructuredBufferPool, error) {
	logger = memutils.LoggerOrDiscard(logger)
	if options.Name == "" {
		options.Name = "structured-buffers"
	}

	heapOptions := options.heapOptions(slab.KindBigBuffer, DefaultStructuredHeapSize, StructuredBufferAlignment)
	err := memutils.CheckPow2(heapOptions.Alignment, "structured buffer alignment")
	if err != nil {
		return nil, err
	}

	pool := &StructuredBufferPool{logger: logger}
	pool.heaps.Init(logger, dev, heapOptions, options.MinHeaps, options.MaxHeaps, options.Flags)

	err = pool.heaps.CreateMinHeaps()
	if err != nil {
		_ = pool.heaps.Destroy()
		return nil, err
	}

	return pool, nil
}

// Create allocates a buffer of count elements of stride bytes
func (p *StructuredBufferPool) Create(count, stride int) (*StructuredBuffer, error) {
	p.logger.Debug("StructuredBufferPool::Create")

	if count < 1 || stride < 1 {
		return nil, memutils.ErrInvalidSize
	}

	size, err := memutils.CheckedMultiply(count, stride)
	if err != nil {
		return nil, err
	}

	buffer, err := p.heaps.Allocate(size)
	if err != nil {
		return nil, err
	}

	return &StructuredBuffer{
		Buffer: buffer,
		count:  count,
		stride: stride,
	}, nil
}

// Write copies data into the given frame's version of the buffer
func (p *StructuredBufferPool) Write(buffer *StructuredBuffer, frameIndex frame.Index, offset int, data []byte) error {
	if buffer == nil {
		return memutils.ErrNullAllocation
	}
	return p.heaps.Write(buffer.Buffer, frameIndex, offset, data)
}

// Destroy frees the buffer and releases its placed resources immediately
func (p *StructuredBufferPool) Destroy(buffer *StructuredBuffer) {
	p.logger.Debug("StructuredBufferPool::Destroy")

	if buffer == nil {
		return
	}
	p.heaps.Free(buffer.Buffer)
}

func (p *StructuredBufferPool) HeapCount() int      { return p.heaps.HeapCount() }
func (p *StructuredBufferPool) MakeResident() error { return p.heaps.MakeResident() }
func (p *StructuredBufferPool) Evict() error        { return p.heaps.Evict() }
func (p *StructuredBufferPool) Validate() error     { return p.heaps.Validate() }

func (p *StructuredBufferPool) Close() error {
	p.logger.Debug("StructuredBufferPool::Close")

	return p.heaps.Destroy()
}

func (p *StructuredBufferPool) AddStatistics(stats *memutils.Statistics) {
	p.heaps.AddStatistics(stats)
}

func (p *StructuredBufferPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.heaps.AddDetailedStatistics(stats)
}

func (p *StructuredBufferPool) PrintDetailedMap(writer *jwriter.Writer) {
	p.heaps.PrintDetailedMap(writer)
}
