package pools

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

type ContextOptions struct {
	// FramesInFlight is the number of frames the GPU may lag behind the CPU. It sets the version count
	// of every buffer pool that does not configure its own. Zero selects frame.DefaultFramesInFlight.
	FramesInFlight int

	Constants  BufferPoolOptions
	Structured BufferPoolOptions
	Models     ModelPoolOptions
	Textures   TexturePoolOptions
}

// Context owns one pool of each kind and the frame clock that drives deferred reclamation
type Context struct {
	logger *slog.Logger
	clock  *frame.Clock

	constants  *ConstantBufferPool
	structured *StructuredBufferPool
	models     *ModelPool
	textures   *TexturePool
}

var _ memutils.Validatable = &Context{}

func NewContext(logger *slog.Logger, dev device.Device, options ContextOptions) (*Context, error) {
	logger = memutils.LoggerOrDiscard(logger)
	logger.Debug("Context::NewContext")

	clock := frame.NewClock(options.FramesInFlight)
	if options.Constants.FramesInFlight == 0 {
		options.Constants.FramesInFlight = clock.FramesInFlight()
	}
	if options.Structured.FramesInFlight == 0 {
		options.Structured.FramesInFlight = clock.FramesInFlight()
	}

	c := &Context{
		logger: logger,
		clock:  clock,
	}

	var err error
	c.constants, err = NewConstantBufferPool(logger, dev, options.Constants)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create constant buffer pool")
	}

	c.structured, err = NewStructuredBufferPool(logger, dev, options.Structured)
	if err != nil {
		_ = c.constants.Close()
		return nil, cerrors.Wrap(err, "failed to create structured buffer pool")
	}

	c.models, err = NewModelPool(logger, dev, options.Models)
	if err != nil {
		_ = c.constants.Close()
		_ = c.structured.Close()
		return nil, cerrors.Wrap(err, "failed to create model pool")
	}

	c.textures = NewTexturePool(logger, dev, clock, options.Textures)

	return c, nil
}

func (c *Context) Clock() *frame.Clock               { return c.clock }
func (c *Context) Constants() *ConstantBufferPool    { return c.constants }
func (c *Context) Structured() *StructuredBufferPool { return c.structured }
func (c *Context) Models() *ModelPool                { return c.models }
func (c *Context) Textures() *TexturePool            { return c.textures }
func (c *Context) FrameNumber() frame.Number         { return c.clock.FrameNumber() }
func (c *Context) FrameIndex() frame.Index           { return c.clock.Index() }

// EndFrame closes out the frame being recorded, sweeps descriptors whose frames have completed,
// and returns the number of the new frame
func (c *Context) EndFrame() frame.Number {
	c.logger.Debug("Context::EndFrame")

	next := c.clock.Advance()
	c.textures.ReleaseStaleDescriptors()
	return next
}

// SignalCompleted records the last frame the GPU has finished and reclaims anything it released.
// It returns the number of descriptors reclaimed.
func (c *Context) SignalCompleted(completed frame.Number) int {
	c.logger.Debug("Context::SignalCompleted")

	c.clock.Signal(completed)
	return c.textures.ReleaseStaleDescriptors()
}

func (c *Context) MakeResident() error {
	return cerrors.CombineErrors(
		cerrors.CombineErrors(c.constants.MakeResident(), c.structured.MakeResident()),
		c.models.MakeResident(),
	)
}

func (c *Context) Evict() error {
	return cerrors.CombineErrors(
		cerrors.CombineErrors(c.constants.Evict(), c.structured.Evict()),
		c.models.Evict(),
	)
}

func (c *Context) Validate() error {
	for _, pool := range []struct {
		name string
		pool memutils.Validatable
	}{
		{"constants", c.constants},
		{"structured", c.structured},
		{"models", c.models},
		{"textures", c.textures},
	} {
		err := pool.pool.Validate()
		if err != nil {
			return cerrors.Wrapf(err, "%s pool", pool.name)
		}
	}

	return nil
}

// Close closes every pool. Errors from pools with live allocations are combined; the other pools
// are still closed.
func (c *Context) Close() error {
	c.logger.Debug("Context::Close")

	var err error
	err = cerrors.CombineErrors(err, c.textures.Close())
	err = cerrors.CombineErrors(err, c.models.Close())
	err = cerrors.CombineErrors(err, c.structured.Close())
	err = cerrors.CombineErrors(err, c.constants.Close())
	return err
}

// CalculateStatistics sums the statistics of every pool into stats. Byte pools and descriptor pools
// are kept apart since their units differ.
func (c *Context) CalculateStatistics(bytes *memutils.DetailedStatistics, descriptors *memutils.DetailedStatistics) {
	bytes.Clear()
	descriptors.Clear()

	c.constants.AddDetailedStatistics(bytes)
	c.structured.AddDetailedStatistics(bytes)
	c.models.AddDetailedStatistics(bytes)
	c.textures.AddDetailedStatistics(descriptors)
}

// BuildStatsString returns a json document with the statistics of every pool. If detailedMap is
// true, every heap, block and descriptor page is listed as well.
func (c *Context) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	c.WriteStats(&writer, detailedMap)
	return string(writer.Bytes())
}

// WriteStats writes the document built by BuildStatsString as the next value of writer
func (c *Context) WriteStats(writer *jwriter.Writer, detailedMap bool) {
	var bytes, descriptors memutils.DetailedStatistics
	c.CalculateStatistics(&bytes, &descriptors)

	objState := writer.Object()
	defer objState.End()

	objState.Name("FrameNumber").Int(int(c.clock.FrameNumber()))
	objState.Name("CompletedFrame").Int(int(c.clock.CompletedFrame()))
	objState.Name("FramesInFlight").Int(c.clock.FramesInFlight())

	totalObj := objState.Name("Total").Object()
	bytesObj := totalObj.Name("Bytes").Object()
	bytes.WriteJSON(bytesObj)
	bytesObj.End()
	descriptorsObj := totalObj.Name("Descriptors").Object()
	descriptors.WriteJSON(descriptorsObj)
	descriptorsObj.End()
	totalObj.End()

	if !detailedMap {
		return
	}

	c.constants.PrintDetailedMap(objState.Name("ConstantBuffers"))
	c.structured.PrintDetailedMap(objState.Name("StructuredBuffers"))
	c.models.PrintDetailedMap(objState.Name("Models"))
	c.textures.PrintDetailedMap(objState.Name("Textures"))
}
