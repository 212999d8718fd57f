package pools

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/wisprender/gpualloc/memutils/freeblock"
)

// DefragmentationMoveOperation tells EndDefragPass what to do with a move
type DefragmentationMoveOperation uint32

const (
	// DefragmentationMoveCopy commits the move: the mesh points at the destination range afterward
	DefragmentationMoveCopy DefragmentationMoveOperation = iota
	// DefragmentationMoveIgnore abandons the move: the destination range is released and the mesh stays put
	DefragmentationMoveIgnore
)

var defragmentationMoveOperationMapping = map[DefragmentationMoveOperation]string{
	DefragmentationMoveCopy:   "DefragmentationMoveCopy",
	DefragmentationMoveIgnore: "DefragmentationMoveIgnore",
}

func (o DefragmentationMoveOperation) String() string {
	return defragmentationMoveOperationMapping[o]
}

// MeshRange selects the vertex or index range of a mesh
type MeshRange uint32

const (
	MeshRangeVertices MeshRange = iota
	MeshRangeIndices
)

var meshRangeMapping = map[MeshRange]string{
	MeshRangeVertices: "MeshRangeVertices",
	MeshRangeIndices:  "MeshRangeIndices",
}

func (r MeshRange) String() string {
	return meshRangeMapping[r]
}

// DefragmentationMove relocates one range of a mesh to a lower offset in the same heap. Between
// BeginDefragPass and EndDefragPass the caller copies Size bytes from SrcOffset to DstOffset, or
// sets Operation to DefragmentationMoveIgnore. Mapped pools can leave the copy to EndDefragPass.
type DefragmentationMove struct {
	Mesh      *Mesh
	Range     MeshRange
	SrcOffset int
	DstOffset int
	Size      int
	Operation DefragmentationMoveOperation

	dst freeblock.Block
}

// DefragmentationStats contains basic metrics for defragmentation over time
type DefragmentationStats struct {
	// BytesMoved is the number of bytes that have been successfully relocated
	BytesMoved int
	// AllocationsMoved is the number of successful relocations
	AllocationsMoved int
}

func (s *DefragmentationStats) Add(stats DefragmentationStats) {
	s.BytesMoved += stats.BytesMoved
	s.AllocationsMoved += stats.AllocationsMoved
}

// PassContext tracks the budget of the current defragmentation pass
type PassContext struct {
	// MaxPassBytes is the maximum number of bytes to relocate in each pass. Zero means unlimited.
	MaxPassBytes int
	// MaxPassAllocations is the maximum number of ranges to relocate in each pass. Zero means unlimited.
	MaxPassAllocations int
	// Stats contains statistics for the current pass
	Stats         DefragmentationStats
	ignoredAllocs int
}

const defragMaxAllocsToIgnore = 16

type defragCounterStatus uint32

const (
	defragCounterPass defragCounterStatus = iota
	defragCounterIgnore
	defragCounterEnd
)

func (p *PassContext) checkCounters(bytes int) defragCounterStatus {
	// Ignore the range if it would exceed the byte budget of the pass
	if p.MaxPassBytes > 0 && p.Stats.BytesMoved+bytes > p.MaxPassBytes {
		p.ignoredAllocs++
		if p.ignoredAllocs < defragMaxAllocsToIgnore {
			return defragCounterIgnore
		}
		return defragCounterEnd
	}

	p.ignoredAllocs = 0
	return defragCounterPass
}

// incrementCounters returns true once the pass budget has been used up
func (p *PassContext) incrementCounters(bytes int) bool {
	p.Stats.BytesMoved += bytes
	p.Stats.AllocationsMoved++

	if p.MaxPassAllocations > 0 && p.Stats.AllocationsMoved >= p.MaxPassAllocations {
		return true
	}
	return p.MaxPassBytes > 0 && p.Stats.BytesMoved >= p.MaxPassBytes
}

type defragCandidate struct {
	handle freeblock.BlockHandle
	offset int
}

// BeginDefragPass reserves lower destination ranges for as many mesh ranges as the pass budget
// allows and returns the resulting moves. An empty result means the pool is already compact. Meshes
// may not be destroyed until EndDefragPass is called.
func (p *ModelPool) BeginDefragPass(pass *PassContext) []DefragmentationMove {
	p.logger.Debug("ModelPool::BeginDefragPass")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.inDefragPass {
		panic(fmt.Sprintf("model pool %q already has an open defragmentation pass", p.options.Name))
	}

	pass.Stats = DefragmentationStats{}
	pass.ignoredAllocs = 0

	var moves []DefragmentationMove
	done := false
	for _, meshRange := range []MeshRange{MeshRangeVertices, MeshRangeIndices} {
		if done {
			break
		}
		moves, done = p.collectMoves(pass, meshRange, moves)
	}

	p.inDefragPass = len(moves) > 0
	return moves
}

func (p *ModelPool) collectMoves(pass *PassContext, meshRange MeshRange, moves []DefragmentationMove) ([]DefragmentationMove, bool) {
	allocator, owners := p.vertices, p.vertexOwners
	if meshRange == MeshRangeIndices {
		allocator, owners = p.indices, p.indexOwners
	}

	// Candidates are gathered first since Blocks holds the allocator lock
	var candidates []defragCandidate
	_ = allocator.Blocks(func(handle freeblock.BlockHandle, offset, size int, free bool) error {
		if !free {
			candidates = append(candidates, defragCandidate{handle: handle, offset: offset})
		}
		return nil
	})

	for _, candidate := range candidates {
		mesh, ok := owners.Get(candidate.handle)
		if !ok {
			panic(fmt.Sprintf("model pool %q has an occupied block with no owning mesh", p.options.Name))
		}

		src, alignment := mesh.vertexBlock, p.options.VertexAlignment
		if meshRange == MeshRangeIndices {
			src, alignment = mesh.indexBlock, uint(mesh.indexSize)
		}

		switch pass.checkCounters(src.Size) {
		case defragCounterIgnore:
			continue
		case defragCounterEnd:
			return moves, true
		}

		dst, ok := allocator.Allocate(src.Size, alignment)
		if !ok {
			continue
		}
		if dst.Offset >= src.Offset {
			// nothing below this range can hold it
			p.mustFree(allocator, dst.Handle)
			continue
		}

		moves = append(moves, DefragmentationMove{
			Mesh:      mesh,
			Range:     meshRange,
			SrcOffset: src.Offset,
			DstOffset: dst.Offset,
			Size:      src.Size,
			Operation: DefragmentationMoveCopy,
			dst:       dst,
		})

		if pass.incrementCounters(src.Size) {
			return moves, true
		}
	}

	return moves, false
}

func (p *ModelPool) mustFree(allocator *freeblock.Allocator, handle freeblock.BlockHandle) {
	err := allocator.Free(handle)
	if err != nil {
		panic(fmt.Sprintf("model pool %q failed to release a block it owns: %+v", p.options.Name, err))
	}
}

// EndDefragPass commits the moves returned by BeginDefragPass. For mapped pools the bytes of every
// DefragmentationMoveCopy move are copied here. Source ranges are released immediately, so the caller
// must ensure no frame in flight still reads them. pass.Stats reports the committed moves only.
func (p *ModelPool) EndDefragPass(pass *PassContext, moves []DefragmentationMove) error {
	p.logger.Debug("ModelPool::EndDefragPass")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.inDefragPass && len(moves) > 0 {
		return cerrors.Newf("model pool %q has no open defragmentation pass", p.options.Name)
	}
	p.inDefragPass = false

	pass.Stats = DefragmentationStats{}
	for i := range moves {
		move := &moves[i]
		allocator, owners, memory := p.vertices, p.vertexOwners, p.vertexMemory
		if move.Range == MeshRangeIndices {
			allocator, owners, memory = p.indices, p.indexOwners, p.indexMemory
		}

		if move.Operation == DefragmentationMoveIgnore {
			p.mustFree(allocator, move.dst.Handle)
			continue
		}

		if memory != nil {
			copy(memory[move.DstOffset:move.DstOffset+move.Size], memory[move.SrcOffset:move.SrcOffset+move.Size])
		}

		var src freeblock.Block
		if move.Range == MeshRangeIndices {
			src = move.Mesh.indexBlock
			move.Mesh.indexBlock = move.dst
		} else {
			src = move.Mesh.vertexBlock
			move.Mesh.vertexBlock = move.dst
		}

		p.mustFree(allocator, src.Handle)
		owners.Delete(src.Handle)
		owners.Put(move.dst.Handle, move.Mesh)

		pass.Stats.BytesMoved += move.Size
		pass.Stats.AllocationsMoved++
	}

	return nil
}

// Defragment runs passes until no range can move lower and returns the totals. It only works on
// mapped pools, where the copies are done on the CPU. The caller must ensure no frame in flight
// reads the pool's geometry.
func (p *ModelPool) Defragment(maxPassBytes, maxPassAllocations int) (DefragmentationStats, error) {
	p.logger.Debug("ModelPool::Defragment")

	var total DefragmentationStats
	if !p.IsMapped() {
		return total, cerrors.Newf("model pool %q is not mapped and must be defragmented with GPU copies", p.options.Name)
	}

	pass := PassContext{
		MaxPassBytes:       maxPassBytes,
		MaxPassAllocations: maxPassAllocations,
	}
	for {
		moves := p.BeginDefragPass(&pass)
		if len(moves) == 0 {
			return total, nil
		}

		err := p.EndDefragPass(&pass, moves)
		if err != nil {
			return total, err
		}
		total.Add(pass.Stats)
	}
}
