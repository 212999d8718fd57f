package pools

import "github.com/vkngwrapper/core/v2/common"

type PoolCreateFlags int32

var poolCreateFlagsMapping = common.NewFlagStringMapping[PoolCreateFlags]()

func (f PoolCreateFlags) Register(str string) {
	poolCreateFlagsMapping.Register(f, str)
}
func (f PoolCreateFlags) String() string {
	return poolCreateFlagsMapping.FlagsToString(f)
}

const (
	// PoolCreateUnmapped creates heaps without a CPU mapping. Buffers from such a pool are filled by
	// GPU copies and Write returns memutils.ErrHeapNotMapped.
	PoolCreateUnmapped PoolCreateFlags = 1 << iota
	// PoolCreateNeverGrow keeps the pool at its minimum heap count. Requests that do not fit fail with
	// memutils.ErrOutOfMemory instead of creating another heap.
	PoolCreateNeverGrow
	// PoolCreateExternallySynchronized disables every mutex in the pool. The caller must serialize all
	// calls into it.
	PoolCreateExternallySynchronized
)

func init() {
	PoolCreateUnmapped.Register("PoolCreateUnmapped")
	PoolCreateNeverGrow.Register("PoolCreateNeverGrow")
	PoolCreateExternallySynchronized.Register("PoolCreateExternallySynchronized")
}
