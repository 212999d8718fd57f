package freeblock_test

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/memutils"
	"github.com/wisprender/gpualloc/memutils/freeblock"
)

type region struct {
	offset int
	size   int
	free   bool
}

func regions(t *testing.T, a *freeblock.Allocator) []region {
	var out []region
	require.NoError(t, a.Blocks(func(handle freeblock.BlockHandle, offset, size int, free bool) error {
		out = append(out, region{offset, size, free})
		return nil
	}))
	return out
}

func TestSingleBlock(t *testing.T) {
	a := freeblock.New(nil, 1000, freeblock.Options{Name: "vertices"})

	require.Equal(t, []region{{0, 1000, true}}, regions(t, a))
	require.Equal(t, 1000, a.SumFreeSize())
	require.Equal(t, 1000, a.LargestFreeBlock())
	require.NoError(t, a.Validate())

	block, ok := a.Allocate(1000, 1)
	require.True(t, ok)
	require.Equal(t, 0, block.Offset)
	require.Equal(t, []region{{0, 1000, false}}, regions(t, a))

	_, ok = a.Allocate(1, 1)
	require.False(t, ok)

	require.NoError(t, a.Free(block.Handle))
	require.Equal(t, []region{{0, 1000, true}}, regions(t, a))
	require.NoError(t, a.Validate())
}

func TestAllocateSplitsAndPads(t *testing.T) {
	a := freeblock.New(nil, 1000, freeblock.Options{})

	first, ok := a.Allocate(10, 1)
	require.True(t, ok)
	require.Equal(t, 0, first.Offset)
	require.Equal(t, 0, first.Padding)

	second, ok := a.Allocate(32, 16)
	require.True(t, ok)
	require.Equal(t, 16, second.Offset)
	require.Equal(t, 6, second.Padding)
	require.Equal(t, 32, second.Size)

	require.Equal(t, []region{
		{0, 10, false},
		{10, 38, false},
		{48, 952, true},
	}, regions(t, a))
	require.Equal(t, 952, a.SumFreeSize())
	require.Equal(t, 2, a.AllocationCount())
	require.Equal(t, 1, a.FreeRegionsCount())
	require.NoError(t, a.Validate())
}

func TestAllocateIsFirstFit(t *testing.T) {
	a := freeblock.New(nil, 300, freeblock.Options{})

	blockA, _ := a.Allocate(100, 1)
	_, _ = a.Allocate(50, 1)
	blockC, _ := a.Allocate(20, 1)
	_, _ = a.Allocate(10, 1)

	require.NoError(t, a.Free(blockA.Handle))
	require.NoError(t, a.Free(blockC.Handle))

	// the 20 byte hole is a tighter fit but the 100 byte hole comes first
	block, ok := a.Allocate(20, 1)
	require.True(t, ok)
	require.Equal(t, 0, block.Offset)
}

func TestCoalesceInterleaved(t *testing.T) {
	a := freeblock.New(nil, 300, freeblock.Options{})

	blockA, ok := a.Allocate(100, 1)
	require.True(t, ok)
	blockB, ok := a.Allocate(100, 1)
	require.True(t, ok)
	blockC, ok := a.Allocate(100, 1)
	require.True(t, ok)

	require.NoError(t, a.Free(blockB.Handle))
	require.Equal(t, []region{{0, 100, false}, {100, 100, true}, {200, 100, false}}, regions(t, a))
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(blockA.Handle))
	require.Equal(t, []region{{0, 200, true}, {200, 100, false}}, regions(t, a))
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(blockC.Handle))
	require.Equal(t, []region{{0, 300, true}}, regions(t, a))
	require.NoError(t, a.Validate())
}

func TestCoalesceAllCombinations(t *testing.T) {
	testCases := map[string]struct {
		freeFirst []int
		freeLast  int
		expected  []region
	}{
		"NoNeighborsFree": {
			freeFirst: nil,
			freeLast:  1,
			expected:  []region{{0, 10, false}, {10, 10, true}, {20, 10, false}, {30, 70, true}},
		},
		"PrevFree": {
			freeFirst: []int{0},
			freeLast:  1,
			expected:  []region{{0, 20, true}, {20, 10, false}, {30, 70, true}},
		},
		"NextFree": {
			freeFirst: []int{2},
			freeLast:  1,
			expected:  []region{{0, 10, false}, {10, 90, true}},
		},
		"BothFree": {
			freeFirst: []int{0, 2},
			freeLast:  1,
			expected:  []region{{0, 100, true}},
		},
		"HeadWithoutPrev": {
			freeFirst: nil,
			freeLast:  0,
			expected:  []region{{0, 10, true}, {10, 10, false}, {20, 10, false}, {30, 70, true}},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			a := freeblock.New(nil, 100, freeblock.Options{})

			var blocks []freeblock.Block
			for i := 0; i < 3; i++ {
				block, ok := a.Allocate(10, 1)
				require.True(t, ok)
				blocks = append(blocks, block)
			}

			for _, index := range testCase.freeFirst {
				require.NoError(t, a.Free(blocks[index].Handle))
			}
			require.NoError(t, a.Free(blocks[testCase.freeLast].Handle))

			require.Equal(t, testCase.expected, regions(t, a))
			require.NoError(t, a.Validate())
		})
	}
}

func TestFreeTailWithoutNext(t *testing.T) {
	a := freeblock.New(nil, 20, freeblock.Options{})

	head, _ := a.Allocate(10, 1)
	tail, _ := a.Allocate(10, 1)

	require.NoError(t, a.Free(tail.Handle))
	require.Equal(t, []region{{0, 10, false}, {10, 10, true}}, regions(t, a))

	require.NoError(t, a.Free(head.Handle))
	require.Equal(t, []region{{0, 20, true}}, regions(t, a))
}

func TestFreeInvalidHandles(t *testing.T) {
	a := freeblock.New(nil, 100, freeblock.Options{})

	block, ok := a.Allocate(10, 1)
	require.True(t, ok)

	err := a.Free(freeblock.NoBlock)
	require.True(t, errors.Is(err, memutils.ErrUnknownHandle))

	err = a.Free(block.Handle + 100)
	require.True(t, errors.Is(err, memutils.ErrUnknownHandle))

	require.NoError(t, a.Free(block.Handle))

	err = a.Free(block.Handle)
	require.True(t, errors.Is(err, memutils.ErrDoubleFree))
	require.Equal(t, []region{{0, 100, true}}, regions(t, a))

	again, ok := a.Allocate(10, 1)
	require.True(t, ok)
	require.NotEqual(t, block.Handle, again.Handle)

	err = a.Free(block.Handle)
	require.True(t, errors.Is(err, memutils.ErrDoubleFree))
	require.Equal(t, 1, a.AllocationCount())
}

func TestClear(t *testing.T) {
	a := freeblock.New(nil, 100, freeblock.Options{})
	for i := 0; i < 5; i++ {
		_, ok := a.Allocate(7, 4)
		require.True(t, ok)
	}

	a.Clear()
	require.True(t, a.IsEmpty())
	require.Equal(t, []region{{0, 100, true}}, regions(t, a))
	require.NoError(t, a.Validate())
}

func TestStatistics(t *testing.T) {
	a := freeblock.New(nil, 100, freeblock.Options{})
	_, _ = a.Allocate(10, 1)
	middle, _ := a.Allocate(20, 1)
	_, _ = a.Allocate(30, 1)
	require.NoError(t, a.Free(middle.Handle))

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			HeapCount:       1,
			HeapBytes:       100,
			AllocationCount: 2,
			AllocationBytes: 40,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  10,
		AllocationSizeMax:  30,
		UnusedRangeSizeMin: 20,
		UnusedRangeSizeMax: 40,
	}, stats)
}

func TestRandomSequencesCoalesceToOneBlock(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const size = 1 << 16

	for iteration := 0; iteration < 50; iteration++ {
		a := freeblock.New(nil, size, freeblock.Options{})
		var live []freeblock.Block

		for step := 0; step < 400; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				index := rng.Intn(len(live))
				require.NoError(t, a.Free(live[index].Handle))
				live[index] = live[len(live)-1]
				live = live[:len(live)-1]
			} else {
				alignment := uint(1) << uint(rng.Intn(7))
				block, ok := a.Allocate(1+rng.Intn(2048), alignment)
				if ok {
					require.Zero(t, block.Offset%int(alignment))
					live = append(live, block)
				}
			}

			require.NoError(t, a.Validate())
		}

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, block := range live {
			require.NoError(t, a.Free(block.Handle))
			require.NoError(t, a.Validate())
		}

		require.Equal(t, []region{{0, size, true}}, regions(t, a))
	}
}

func BenchmarkAllocateFree(b *testing.B) {
	a := freeblock.New(nil, 1<<24, freeblock.Options{ExternallySynchronized: true})
	blocks := make([]freeblock.Block, 0, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		block, ok := a.Allocate(256+i%1024, 16)
		if ok {
			blocks = append(blocks, block)
		}
		if len(blocks) == cap(blocks) {
			for _, block := range blocks {
				_ = a.Free(block.Handle)
			}
			blocks = blocks[:0]
		}
	}
}

func TestConcurrentAllocateFree(t *testing.T) {
	a := freeblock.New(nil, 1<<20, freeblock.Options{Name: "vertices"})

	const workers = 8
	const blocksPerWorker = 64

	kept := make([][]freeblock.Block, workers)
	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			random := rand.New(rand.NewSource(int64(worker)))
			for i := 0; i < blocksPerWorker; i++ {
				block, ok := a.Allocate(1+random.Intn(1024), 16)
				if !ok {
					t.Errorf("worker %d failed to allocate block %d", worker, i)
					return
				}
				kept[worker] = append(kept[worker], block)

				scratch, ok := a.Allocate(1+random.Intn(256), 4)
				if !ok {
					t.Errorf("worker %d failed to allocate scratch block %d", worker, i)
					return
				}
				if err := a.Free(scratch.Handle); err != nil {
					t.Error(err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()

	var all []freeblock.Block
	for _, blocks := range kept {
		all = append(all, blocks...)
	}
	require.Len(t, all, workers*blocksPerWorker)
	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })
	for i, block := range all {
		require.Zero(t, block.Offset%16)
		if i > 0 {
			require.LessOrEqual(t, all[i-1].Offset+all[i-1].Size, block.Offset, "blocks %d and %d overlap", i-1, i)
		}
	}
	require.Equal(t, workers*blocksPerWorker, a.AllocationCount())
	require.NoError(t, a.Validate())

	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(blocks []freeblock.Block) {
			defer wg.Done()
			for _, block := range blocks {
				if err := a.Free(block.Handle); err != nil {
					t.Error(err)
				}
			}
		}(kept[worker])
	}
	wg.Wait()

	require.NoError(t, a.Validate())
	require.True(t, a.IsEmpty())
	require.Equal(t, 1<<20, a.SumFreeSize())
	require.Equal(t, 1, a.FreeRegionsCount())
	require.Equal(t, 1<<20, a.LargestFreeBlock())
}
