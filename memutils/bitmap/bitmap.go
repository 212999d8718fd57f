// Package bitmap tracks which fixed-size pages of a heap are free. A set bit is a free page.
package bitmap

import (
	"math/bits"

	"github.com/pkg/errors"
	"github.com/wisprender/gpualloc/memutils"
)

const wordBits = 64

// Bitmap is a page occupancy map. It is not safe for concurrent use; the owning heap serializes
// access.
type Bitmap struct {
	words     []uint64
	pageCount int
}

var _ memutils.Validatable = &Bitmap{}

// New creates a bitmap with every page free
func New(pageCount int) *Bitmap {
	if pageCount < 0 {
		panic("bitmap page count must not be negative")
	}

	b := &Bitmap{
		words:     make([]uint64, memutils.DivideRoundUp(pageCount, wordBits)),
		pageCount: pageCount,
	}
	b.SetRange(0, pageCount)

	return b
}

func (b *Bitmap) PageCount() int { return b.pageCount }

// FindFreeRun returns the lowest page index that begins neededPages consecutive free pages.
// Fully occupied words are skipped whole. Pages past PageCount are never considered.
func (b *Bitmap) FindFreeRun(neededPages int) (int, bool) {
	memutils.DebugAssert(neededPages >= 1, "requested a run of %d pages", neededPages)
	if neededPages < 1 || neededPages > b.pageCount {
		return 0, false
	}

	runStart := 0
	runLength := 0

	for wordIndex, word := range b.words {
		base := wordIndex * wordBits

		if word == 0 {
			runLength = 0
			continue
		}

		limit := wordBits
		if base+limit > b.pageCount {
			limit = b.pageCount - base
		}

		for bit := 0; bit < limit; bit++ {
			if word&(1<<uint(bit)) == 0 {
				runLength = 0
				continue
			}

			if runLength == 0 {
				runStart = base + bit
			}
			runLength++

			if runLength == neededPages {
				return runStart, true
			}
		}
	}

	return 0, false
}

func (b *Bitmap) checkPage(page int) {
	if page < 0 || page >= b.pageCount {
		panic(errors.Errorf("page %d is outside of a bitmap with %d pages", page, b.pageCount))
	}
}

// ClearPage marks a page occupied
func (b *Bitmap) ClearPage(page int) {
	b.checkPage(page)
	b.words[page/wordBits] &^= 1 << uint(page%wordBits)
}

// SetPage marks a page free
func (b *Bitmap) SetPage(page int) {
	b.checkPage(page)
	b.words[page/wordBits] |= 1 << uint(page%wordBits)
}

func (b *Bitmap) IsFree(page int) bool {
	b.checkPage(page)
	return b.words[page/wordBits]&(1<<uint(page%wordBits)) != 0
}

// rangeMasks calls visit once for each word touched by [start, start+count) with the bits of that
// word inside the range
func (b *Bitmap) rangeMasks(start, count int, visit func(wordIndex int, mask uint64)) {
	if count == 0 {
		return
	}
	if start < 0 || count < 0 || start+count > b.pageCount {
		panic(errors.Errorf("page range [%d, %d) is outside of a bitmap with %d pages", start, start+count, b.pageCount))
	}

	end := start + count
	for page := start; page < end; {
		wordIndex := page / wordBits
		bit := page % wordBits
		span := wordBits - bit
		if page+span > end {
			span = end - page
		}

		var mask uint64
		if span == wordBits {
			mask = ^uint64(0)
		} else {
			mask = ((uint64(1) << uint(span)) - 1) << uint(bit)
		}
		visit(wordIndex, mask)

		page += span
	}
}

// ClearRange marks count pages beginning at start occupied
func (b *Bitmap) ClearRange(start, count int) {
	b.rangeMasks(start, count, func(wordIndex int, mask uint64) {
		b.words[wordIndex] &^= mask
	})
}

// SetRange marks count pages beginning at start free
func (b *Bitmap) SetRange(start, count int) {
	b.rangeMasks(start, count, func(wordIndex int, mask uint64) {
		b.words[wordIndex] |= mask
	})
}

// RangeIsFree reports whether every page in [start, start+count) is free
func (b *Bitmap) RangeIsFree(start, count int) bool {
	free := true
	b.rangeMasks(start, count, func(wordIndex int, mask uint64) {
		if b.words[wordIndex]&mask != mask {
			free = false
		}
	})
	return free
}

// RangeIsOccupied reports whether every page in [start, start+count) is occupied
func (b *Bitmap) RangeIsOccupied(start, count int) bool {
	occupied := true
	b.rangeMasks(start, count, func(wordIndex int, mask uint64) {
		if b.words[wordIndex]&mask != 0 {
			occupied = false
		}
	})
	return occupied
}

// FreePages returns the number of free pages
func (b *Bitmap) FreePages() int {
	count := 0
	for _, word := range b.words {
		count += bits.OnesCount64(word)
	}
	return count
}

// VisitFreeRuns calls visit for every maximal run of free pages in ascending order
func (b *Bitmap) VisitFreeRuns(visit func(start, count int)) {
	runStart := -1
	for page := 0; page < b.pageCount; page++ {
		if b.words[page/wordBits]&(1<<uint(page%wordBits)) != 0 {
			if runStart < 0 {
				runStart = page
			}
			continue
		}

		if runStart >= 0 {
			visit(runStart, page-runStart)
			runStart = -1
		}
	}

	if runStart >= 0 {
		visit(runStart, b.pageCount-runStart)
	}
}

// LongestFreeRun returns the length of the largest run of free pages
func (b *Bitmap) LongestFreeRun() int {
	longest := 0
	b.VisitFreeRuns(func(start, count int) {
		if count > longest {
			longest = count
		}
	})
	return longest
}

func (b *Bitmap) Validate() error {
	if len(b.words) != memutils.DivideRoundUp(b.pageCount, wordBits) {
		return errors.Errorf("bitmap has %d words for %d pages", len(b.words), b.pageCount)
	}

	if tail := b.pageCount % wordBits; tail != 0 {
		last := b.words[len(b.words)-1]
		if last>>uint(tail) != 0 {
			return errors.New("bitmap has free bits past the final page")
		}
	}

	if free := b.FreePages(); free > b.pageCount {
		return errors.Errorf("bitmap reports %d free pages out of %d", free, b.pageCount)
	}

	return nil
}
