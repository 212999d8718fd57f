package bitmap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wisprender/gpualloc/memutils/bitmap"
)

func TestNewIsAllFree(t *testing.T) {
	b := bitmap.New(130)

	require.Equal(t, 130, b.PageCount())
	require.Equal(t, 130, b.FreePages())
	require.Equal(t, 130, b.LongestFreeRun())
	require.NoError(t, b.Validate())

	start, ok := b.FindFreeRun(130)
	require.True(t, ok)
	require.Equal(t, 0, start)

	_, ok = b.FindFreeRun(131)
	require.False(t, ok)
}

func TestFindFreeRunRejectsEmptyRequest(t *testing.T) {
	b := bitmap.New(8)

	_, ok := b.FindFreeRun(0)
	require.False(t, ok)
}

func TestFindFreeRunSkipsOccupiedWords(t *testing.T) {
	b := bitmap.New(256)
	b.ClearRange(0, 128)

	start, ok := b.FindFreeRun(1)
	require.True(t, ok)
	require.Equal(t, 128, start)

	b.SetPage(63)
	start, ok = b.FindFreeRun(2)
	require.True(t, ok)
	require.Equal(t, 128, start)

	start, ok = b.FindFreeRun(1)
	require.True(t, ok)
	require.Equal(t, 63, start)
}

func TestFindFreeRunCrossesWordBoundary(t *testing.T) {
	b := bitmap.New(128)
	b.ClearRange(0, 60)
	b.ClearRange(70, 58)

	start, ok := b.FindFreeRun(10)
	require.True(t, ok)
	require.Equal(t, 60, start)

	_, ok = b.FindFreeRun(11)
	require.False(t, ok)
}

func TestFindFreeRunStopsAtPageCount(t *testing.T) {
	b := bitmap.New(70)
	b.ClearRange(0, 66)

	start, ok := b.FindFreeRun(4)
	require.True(t, ok)
	require.Equal(t, 66, start)

	_, ok = b.FindFreeRun(5)
	require.False(t, ok)
	require.NoError(t, b.Validate())
}

func TestPageOperations(t *testing.T) {
	b := bitmap.New(16)

	b.ClearPage(3)
	require.False(t, b.IsFree(3))
	require.Equal(t, 15, b.FreePages())

	b.SetPage(3)
	require.True(t, b.IsFree(3))

	b.ClearRange(4, 8)
	require.True(t, b.RangeIsOccupied(4, 8))
	require.False(t, b.RangeIsFree(3, 2))
	require.True(t, b.RangeIsFree(0, 4))
	require.Equal(t, 4, b.LongestFreeRun())

	require.Panics(t, func() { b.ClearPage(16) })
	require.Panics(t, func() { b.SetRange(10, 10) })
}

func TestVisitFreeRuns(t *testing.T) {
	b := bitmap.New(20)
	b.ClearRange(2, 3)
	b.ClearPage(10)
	b.ClearRange(18, 2)

	type run struct{ start, count int }
	var runs []run
	b.VisitFreeRuns(func(start, count int) {
		runs = append(runs, run{start, count})
	})

	require.Equal(t, []run{{0, 2}, {5, 5}, {11, 7}}, runs)
}

func bruteForceFind(free []bool, needed int) (int, bool) {
	length := 0
	for i, isFree := range free {
		if !isFree {
			length = 0
			continue
		}
		length++
		if length == needed {
			return i - needed + 1, true
		}
	}
	return 0, false
}

func TestFindFreeRunMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iteration := 0; iteration < 200; iteration++ {
		pageCount := 1 + rng.Intn(300)
		b := bitmap.New(pageCount)
		free := make([]bool, pageCount)
		for i := range free {
			free[i] = true
		}

		density := rng.Float64()
		for page := 0; page < pageCount; page++ {
			if rng.Float64() < density {
				b.ClearPage(page)
				free[page] = false
			}
		}

		expectedFree := 0
		for _, isFree := range free {
			if isFree {
				expectedFree++
			}
		}
		require.Equal(t, expectedFree, b.FreePages())
		require.NoError(t, b.Validate())

		for needed := 1; needed <= 12; needed++ {
			expectedStart, expectedOK := bruteForceFind(free, needed)
			start, ok := b.FindFreeRun(needed)
			require.Equal(t, expectedOK, ok, "page count %d needed %d", pageCount, needed)
			if ok {
				require.Equal(t, expectedStart, start, "page count %d needed %d", pageCount, needed)
			}
		}
	}
}

func BenchmarkFindFreeRun(b *testing.B) {
	bm := bitmap.New(4096)
	for page := 0; page < 4000; page += 3 {
		bm.ClearPage(page)
	}
	bm.ClearRange(0, 3000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bm.FindFreeRun(2)
	}
}
