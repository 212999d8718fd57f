package pools

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/descriptor"
	"golang.org/x/exp/slog"
)

type TexturePoolOptions struct {
	// DescriptorsPerPage is the capacity of each shader-visible descriptor page. Zero selects
	// descriptor.DefaultDescriptorsPerPage.
	DescriptorsPerPage int
	// MaxPages caps growth. Zero means the pool grows until the device refuses.
	MaxPages int
	// Only PoolCreateExternallySynchronized applies
	Flags PoolCreateFlags
}

// TexturePool hands out runs of shader-visible shader resource descriptors. Destroyed runs stay
// reserved until the frame that destroyed them has completed on the GPU.
type TexturePool struct {
	logger      *slog.Logger
	descriptors *descriptor.Allocator
}

var _ memutils.Validatable = &TexturePool{}

func NewTexturePool(logger *slog.Logger, dev device.Device, clock frame.Source, options TexturePoolOptions) *TexturePool {
	logger = memutils.LoggerOrDiscard(logger)

	return &TexturePool{
		logger: logger,
		descriptors: descriptor.NewAllocator(logger, dev, clock, descriptor.AllocatorOptions{
			Kind:                   device.DescriptorKindCBVSRVUAV,
			DescriptorsPerPage:     options.DescriptorsPerPage,
			ShaderVisible:          true,
			MaxPages:               options.MaxPages,
			ExternallySynchronized: options.Flags&PoolCreateExternallySynchronized != 0,
		}),
	}
}

// Create reserves count consecutive descriptors
func (p *TexturePool) Create(count int) (descriptor.Allocation, error) {
	p.logger.Debug("TexturePool::Create")

	return p.descriptors.Allocate(count)
}

// Destroy queues the descriptors for release once the current frame completes and nulls the
// allocation. Destroying a null allocation logs a warning and does nothing.
func (p *TexturePool) Destroy(allocation *descriptor.Allocation) {
	p.logger.Debug("TexturePool::Destroy")

	if allocation.IsNull() {
		p.logger.Warn("destroy of null texture descriptors ignored")
		return
	}
	allocation.Free()
}

// ReleaseStaleDescriptors reclaims every destroyed run whose frame has completed
func (p *TexturePool) ReleaseStaleDescriptors() int {
	return p.descriptors.ReleaseStaleDescriptors()
}

func (p *TexturePool) PageCount() int  { return p.descriptors.PageCount() }
func (p *TexturePool) Validate() error { return p.descriptors.Validate() }

func (p *TexturePool) Close() error {
	p.logger.Debug("TexturePool::Close")

	return p.descriptors.Destroy()
}

func (p *TexturePool) AddStatistics(stats *memutils.Statistics) {
	p.descriptors.AddStatistics(stats)
}

func (p *TexturePool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.descriptors.AddDetailedStatistics(stats)
}

func (p *TexturePool) PrintDetailedMap(writer *jwriter.Writer) {
	p.descriptors.PrintDetailedMap(writer)
}
