package pools

import (
	"context"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/freeblock"
	"golang.org/x/exp/slog"
)

const (
	DefaultVertexHeapSize = 16 * 1024 * 1024
	DefaultIndexHeapSize  = 4 * 1024 * 1024
	// DefaultVertexAlignment is the offset alignment of vertex ranges when none is configured
	DefaultVertexAlignment uint = 16
)

type ModelPoolOptions struct {
	VertexHeapSize  int
	IndexHeapSize   int
	VertexAlignment uint
	// Only PoolCreateUnmapped and PoolCreateExternallySynchronized apply. Model pools never grow.
	Flags PoolCreateFlags
	Name  string
}

// Mesh is a vertex range and an index range in a ModelPool. A destroyed Mesh is null.
type Mesh struct {
	pool *ModelPool

	vertexBlock  freeblock.Block
	vertexCount  int
	vertexStride int

	indexBlock freeblock.Block
	indexCount int
	indexSize  int
}

func (m *Mesh) IsNull() bool {
	return m == nil || m.pool == nil
}

func (m *Mesh) VertexCount() int  { return m.vertexCount }
func (m *Mesh) VertexStride() int { return m.vertexStride }
func (m *Mesh) VertexOffset() int { return m.vertexBlock.Offset }
func (m *Mesh) IndexCount() int   { return m.indexCount }
func (m *Mesh) IndexSize() int    { return m.indexSize }
func (m *Mesh) IndexOffset() int  { return m.indexBlock.Offset }

// VertexGPUAddress is the address of the first vertex, or 0 for a null mesh
func (m *Mesh) VertexGPUAddress() uint64 {
	if m.IsNull() {
		return 0
	}
	heap := m.pool.vertexHeap
	if heap == nil {
		return 0
	}
	return heap.GPUAddress() + uint64(m.vertexBlock.Offset)
}

// IndexGPUAddress is the address of the first index, or 0 for a null mesh or a mesh with no indices
func (m *Mesh) IndexGPUAddress() uint64 {
	if m.IsNull() || m.indexBlock.IsNull() {
		return 0
	}
	heap := m.pool.indexHeap
	if heap == nil {
		return 0
	}
	return heap.GPUAddress() + uint64(m.indexBlock.Offset)
}

// ModelPool holds static geometry. Vertices and indices live in two committed heaps, each managed
// by a first-fit free block allocator. Geometry is not versioned per frame.
type ModelPool struct {
	logger  *slog.Logger
	options ModelPoolOptions
	mutex   utils.OptionalMutex

	vertexHeap   device.Heap
	indexHeap    device.Heap
	vertexMemory []byte
	indexMemory  []byte

	vertices *freeblock.Allocator
	indices  *freeblock.Allocator

	// owners of occupied blocks, used to find the mesh behind a block during defragmentation
	vertexOwners *swiss.Map[freeblock.BlockHandle, *Mesh]
	indexOwners  *swiss.Map[freeblock.BlockHandle, *Mesh]
	inDefragPass bool
}

var _ memutils.Validatable = &ModelPool{}

func NewModelPool(logger *slog.Logger, dev device.Device, options ModelPoolOptions) (*ModelPool, error) {
	logger = memutils.LoggerOrDiscard(logger)
	logger.Debug("ModelPool::NewModelPool")

	if options.VertexHeapSize == 0 {
		options.VertexHeapSize = DefaultVertexHeapSize
	}
	if options.IndexHeapSize == 0 {
		options.IndexHeapSize = DefaultIndexHeapSize
	}
	if options.VertexAlignment == 0 {
		options.VertexAlignment = DefaultVertexAlignment
	}
	if options.Name == "" {
		options.Name = "models"
	}

	err := memutils.CheckPow2(options.VertexAlignment, "vertex alignment")
	if err != nil {
		return nil, err
	}

	externallySynchronized := options.Flags&PoolCreateExternallySynchronized != 0
	pool := &ModelPool{
		logger:  logger,
		options: options,
		mutex:   utils.NewOptionalMutex(externallySynchronized),
	}

	pool.vertexHeap, pool.vertexMemory, err = pool.createHeap(dev, options.VertexHeapSize, "vertices")
	if err != nil {
		return nil, err
	}

	pool.indexHeap, pool.indexMemory, err = pool.createHeap(dev, options.IndexHeapSize, "indices")
	if err != nil {
		pool.releaseHeap(pool.vertexHeap, pool.vertexMemory)
		return nil, err
	}

	pool.vertices = freeblock.New(logger, options.VertexHeapSize, freeblock.Options{
		ExternallySynchronized: externallySynchronized,
		Name:                   options.Name + "/vertices",
	})
	pool.indices = freeblock.New(logger, options.IndexHeapSize, freeblock.Options{
		ExternallySynchronized: externallySynchronized,
		Name:                   options.Name + "/indices",
	})
	pool.vertexOwners = swiss.NewMap[freeblock.BlockHandle, *Mesh](64)
	pool.indexOwners = swiss.NewMap[freeblock.BlockHandle, *Mesh](64)

	return pool, nil
}

func (p *ModelPool) createHeap(dev device.Device, size int, purpose string) (device.Heap, []byte, error) {
	desc := device.HeapDesc{
		Size:      size,
		Alignment: p.options.VertexAlignment,
		Placement: device.PlacementCommitted,
		Flags:     device.HeapFlagAllowBuffers,
		Name:      fmt.Sprintf("%s/%s", p.options.Name, purpose),
	}
	mapped := p.options.Flags&PoolCreateUnmapped == 0
	if mapped {
		desc.Flags |= device.HeapFlagCPUVisible
	}

	heap, err := dev.CreateHeap(desc)
	if err != nil {
		if cerrors.Is(err, device.ErrOutOfDeviceMemory) {
			err = cerrors.Mark(err, memutils.ErrOutOfMemory)
		}
		return nil, nil, cerrors.Wrapf(err, "failed to create %s heap for model pool %q", purpose, p.options.Name)
	}

	if !mapped {
		return heap, nil, nil
	}

	memory, err := heap.Map()
	if err != nil {
		heap.Release()
		return nil, nil, cerrors.Wrapf(err, "failed to map %s heap for model pool %q", purpose, p.options.Name)
	}

	return heap, memory, nil
}

func (p *ModelPool) releaseHeap(heap device.Heap, memory []byte) {
	if memory != nil {
		heap.Unmap()
	}
	heap.Release()
}

func (p *ModelPool) IsMapped() bool { return p.vertexMemory != nil }

// CreateMesh reserves room for vertexCount vertices of vertexStride bytes and indexCount indices of
// indexSize bytes. indexSize must be 2 or 4. A mesh with no indices is allowed. If the index range
// cannot be placed the vertex range is released again and the pool is unchanged.
func (p *ModelPool) CreateMesh(vertexCount, vertexStride, indexCount, indexSize int) (*Mesh, error) {
	p.logger.Debug("ModelPool::CreateMesh")

	if vertexCount < 1 || vertexStride < 1 || indexCount < 0 {
		return nil, cerrors.Wrapf(memutils.ErrInvalidSize, "mesh of %d vertices of %d bytes and %d indices", vertexCount, vertexStride, indexCount)
	}
	if indexCount > 0 && indexSize != 2 && indexSize != 4 {
		return nil, cerrors.Newf("index size must be 2 or 4, not %d", indexSize)
	}

	vertexBytes, err := memutils.CheckedMultiply(vertexCount, vertexStride)
	if err != nil {
		return nil, err
	}
	indexBytes := 0
	if indexCount > 0 {
		indexBytes, err = memutils.CheckedMultiply(indexCount, indexSize)
		if err != nil {
			return nil, err
		}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.vertexHeap == nil {
		return nil, cerrors.Wrapf(memutils.ErrClosed, "model pool %q", p.options.Name)
	}

	vertexBlock, ok := p.vertices.Allocate(vertexBytes, p.options.VertexAlignment)
	if !ok {
		return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "model pool %q has no room for %d vertex bytes", p.options.Name, vertexBytes)
	}

	mesh := &Mesh{
		pool:         p,
		vertexBlock:  vertexBlock,
		vertexCount:  vertexCount,
		vertexStride: vertexStride,
		indexCount:   indexCount,
		indexSize:    indexSize,
	}

	if indexCount > 0 {
		indexBlock, ok := p.indices.Allocate(indexBytes, uint(indexSize))
		if !ok {
			err := p.vertices.Free(vertexBlock.Handle)
			if err != nil {
				panic(fmt.Sprintf("failed to roll back vertex block of model pool %q: %+v", p.options.Name, err))
			}
			return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "model pool %q has no room for %d index bytes", p.options.Name, indexBytes)
		}
		mesh.indexBlock = indexBlock
		p.indexOwners.Put(indexBlock.Handle, mesh)
	}
	p.vertexOwners.Put(vertexBlock.Handle, mesh)

	return mesh, nil
}

func (p *ModelPool) checkMesh(mesh *Mesh) error {
	if mesh.IsNull() {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "operation on null mesh",
			slog.String("pool", p.options.Name),
		)
		return memutils.ErrNullAllocation
	}
	if mesh.pool != p {
		panic(fmt.Sprintf("mesh does not belong to model pool %q", p.options.Name))
	}
	return nil
}

func (p *ModelPool) write(memory []byte, block freeblock.Block, offset int, data []byte) error {
	if memory == nil {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "write to unmapped model pool",
			slog.String("pool", p.options.Name),
		)
		return memutils.ErrHeapNotMapped
	}
	if offset < 0 || offset+len(data) > block.Size {
		return cerrors.Wrapf(memutils.ErrOutOfRange, "write of %d bytes at offset %d into a %d byte range", len(data), offset, block.Size)
	}

	copy(memory[block.Offset+offset:], data)
	return nil
}

// Vertices returns the mapped bytes of the mesh's vertex range, or nil for a null mesh or an
// unmapped pool. The slice is only valid until the mesh is destroyed or moved by defragmentation.
func (p *ModelPool) Vertices(mesh *Mesh) []byte {
	if mesh.IsNull() || p.vertexMemory == nil {
		return nil
	}
	block := mesh.vertexBlock
	return p.vertexMemory[block.Offset : block.Offset+block.Size : block.Offset+block.Size]
}

// Indices returns the mapped bytes of the mesh's index range, or nil if there is none
func (p *ModelPool) Indices(mesh *Mesh) []byte {
	if mesh.IsNull() || p.indexMemory == nil || mesh.indexBlock.IsNull() {
		return nil
	}
	block := mesh.indexBlock
	return p.indexMemory[block.Offset : block.Offset+block.Size : block.Offset+block.Size]
}

// WriteVertices copies data into the mesh's vertex range at a byte offset
func (p *ModelPool) WriteVertices(mesh *Mesh, offset int, data []byte) error {
	err := p.checkMesh(mesh)
	if err != nil {
		return err
	}
	return p.write(p.vertexMemory, mesh.vertexBlock, offset, data)
}

// WriteIndices copies data into the mesh's index range at a byte offset
func (p *ModelPool) WriteIndices(mesh *Mesh, offset int, data []byte) error {
	err := p.checkMesh(mesh)
	if err != nil {
		return err
	}
	if mesh.indexBlock.IsNull() {
		return cerrors.Wrap(memutils.ErrOutOfRange, "mesh has no index range")
	}
	return p.write(p.indexMemory, mesh.indexBlock, offset, data)
}

// DestroyMesh releases both ranges of the mesh immediately and nulls it. The caller must ensure no
// frame in flight still reads the geometry.
func (p *ModelPool) DestroyMesh(mesh *Mesh) error {
	p.logger.Debug("ModelPool::DestroyMesh")

	err := p.checkMesh(mesh)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.inDefragPass {
		panic(fmt.Sprintf("attempted to destroy a mesh during a defragmentation pass of model pool %q", p.options.Name))
	}

	err = p.vertices.Free(mesh.vertexBlock.Handle)
	p.vertexOwners.Delete(mesh.vertexBlock.Handle)
	if !mesh.indexBlock.IsNull() {
		err = cerrors.CombineErrors(err, p.indices.Free(mesh.indexBlock.Handle))
		p.indexOwners.Delete(mesh.indexBlock.Handle)
	}

	mesh.pool = nil
	mesh.vertexBlock = freeblock.Block{}
	mesh.indexBlock = freeblock.Block{}
	return err
}

func (p *ModelPool) MeshCount() int {
	return p.vertices.AllocationCount()
}

func (p *ModelPool) MakeResident() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.vertexHeap == nil {
		return cerrors.Wrapf(memutils.ErrClosed, "model pool %q", p.options.Name)
	}
	return cerrors.CombineErrors(p.vertexHeap.MakeResident(), p.indexHeap.MakeResident())
}

func (p *ModelPool) Evict() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.vertexHeap == nil {
		return cerrors.Wrapf(memutils.ErrClosed, "model pool %q", p.options.Name)
	}
	return cerrors.CombineErrors(p.vertexHeap.Evict(), p.indexHeap.Evict())
}

// Close releases both heaps. If meshes are still live they are logged, nothing is released, and
// memutils.ErrResourcesInUse is returned. Closing a closed pool does nothing.
func (p *ModelPool) Close() error {
	p.logger.Debug("ModelPool::Close")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.vertexHeap == nil {
		return nil
	}

	if !p.vertices.IsEmpty() || !p.indices.IsEmpty() {
		p.logUnreleased(p.vertices)
		p.logUnreleased(p.indices)
		return cerrors.Wrapf(memutils.ErrResourcesInUse, "model pool %q", p.options.Name)
	}

	p.releaseHeap(p.vertexHeap, p.vertexMemory)
	p.releaseHeap(p.indexHeap, p.indexMemory)
	p.vertexHeap = nil
	p.indexHeap = nil
	p.vertexMemory = nil
	p.indexMemory = nil
	return nil
}

func (p *ModelPool) logUnreleased(allocator *freeblock.Allocator) {
	_ = allocator.Blocks(func(handle freeblock.BlockHandle, offset, size int, free bool) error {
		if free {
			return nil
		}

		p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed mesh range",
			slog.String("allocator", allocator.Name()),
			slog.Int("offset", offset),
			slog.Int("size", size),
		)
		return nil
	})
}

func (p *ModelPool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	// destination ranges reserved by an open defragmentation pass have no owner yet
	if !p.inDefragPass && (p.vertexOwners.Count() != p.vertices.AllocationCount() || p.indexOwners.Count() != p.indices.AllocationCount()) {
		return cerrors.Newf("model pool %q tracks %d vertex and %d index owners for %d vertex and %d index ranges",
			p.options.Name, p.vertexOwners.Count(), p.indexOwners.Count(), p.vertices.AllocationCount(), p.indices.AllocationCount())
	}
	if p.vertices.AllocationCount() < p.indices.AllocationCount() {
		return cerrors.Newf("model pool %q has %d index ranges but only %d vertex ranges", p.options.Name, p.indices.AllocationCount(), p.vertices.AllocationCount())
	}

	err := p.vertices.Validate()
	if err != nil {
		return cerrors.Wrap(err, "vertex allocator")
	}

	err = p.indices.Validate()
	if err != nil {
		return cerrors.Wrap(err, "index allocator")
	}

	return nil
}

func (p *ModelPool) AddStatistics(stats *memutils.Statistics) {
	p.vertices.AddStatistics(stats)
	p.indices.AddStatistics(stats)
}

func (p *ModelPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.vertices.AddDetailedStatistics(stats)
	p.indices.AddDetailedStatistics(stats)
}

func (p *ModelPool) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	vertexObj := objState.Name("Vertices").Object()
	p.vertices.PrintDetailedMap(vertexObj)
	vertexObj.End()

	indexObj := objState.Name("Indices").Object()
	p.indices.PrintDetailedMap(indexObj)
	indexObj.End()
}
