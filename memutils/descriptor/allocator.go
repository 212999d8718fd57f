package descriptor

import (
	"strconv"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/wisprender/gpualloc/device"
	"github.com/wisprender/gpualloc/frame"
	"github.com/wisprender/gpualloc/internal/utils"
	"github.com/wisprender/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

// DefaultDescriptorsPerPage is the capacity of pages created when AllocatorOptions.DescriptorsPerPage is zero
const DefaultDescriptorsPerPage = 256

type AllocatorOptions struct {
	Kind device.DescriptorKind
	// DescriptorsPerPage is the capacity of new pages. Requests larger than this get a page of their own size.
	DescriptorsPerPage int
	ShaderVisible      bool
	// MaxPages caps pool growth. Zero means the pool grows until the device refuses.
	MaxPages int
	// ExternallySynchronized disables the pool and page mutexes. The caller must serialize every call.
	ExternallySynchronized bool
}

var _ memutils.Validatable = &Allocator{}

// Allocator is a growable pool of descriptor pages of one kind
type Allocator struct {
	logger  *slog.Logger
	dev     device.Device
	clock   frame.Source
	options AllocatorOptions
	mutex   utils.OptionalRWMutex

	pages []*Page
	// available holds the indices of pages with at least one free descriptor
	available *btree.BTreeG[int]
}

func NewAllocator(logger *slog.Logger, dev device.Device, clock frame.Source, options AllocatorOptions) *Allocator {
	if options.DescriptorsPerPage == 0 {
		options.DescriptorsPerPage = DefaultDescriptorsPerPage
	}

	return &Allocator{
		logger:    memutils.LoggerOrDiscard(logger),
		dev:       dev,
		clock:     clock,
		options:   options,
		mutex:     utils.NewOptionalRWMutex(options.ExternallySynchronized),
		available: btree.NewOrderedG[int](btreeDegree),
	}
}

func (a *Allocator) Kind() device.DescriptorKind { return a.options.Kind }

// Allocate returns count consecutive descriptors from the first available page that can hold them,
// creating a new page if none can
func (a *Allocator) Allocate(count int) (Allocation, error) {
	a.logger.Debug("Allocator::Allocate")

	if count < 1 {
		return Allocation{}, cerrors.Wrapf(memutils.ErrInvalidSize, "requested %d descriptors", count)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	var allocation Allocation
	success := false
	var exhausted []int

	a.available.Ascend(func(index int) bool {
		page := a.pages[index]
		allocation, success = page.Allocate(count)
		if page.NumFreeHandles() == 0 {
			exhausted = append(exhausted, index)
		}
		return !success
	})

	for _, index := range exhausted {
		a.available.Delete(index)
	}

	if success {
		return allocation, nil
	}

	page, err := a.createPage(count)
	if err != nil {
		return Allocation{}, err
	}

	allocation, success = page.Allocate(count)
	if !success {
		panic("a newly created descriptor page could not satisfy the request it was sized for")
	}
	if page.NumFreeHandles() > 0 {
		a.available.ReplaceOrInsert(len(a.pages) - 1)
	}

	return allocation, nil
}

func (a *Allocator) createPage(minimumCount int) (*Page, error) {
	if a.options.MaxPages > 0 && len(a.pages) >= a.options.MaxPages {
		return nil, cerrors.Wrapf(memutils.ErrOutOfMemory, "%s descriptor pool is limited to %d pages", a.options.Kind, a.options.MaxPages)
	}

	capacity := a.options.DescriptorsPerPage
	if minimumCount > capacity {
		capacity = minimumCount
	}

	heap, err := a.dev.CreateDescriptorHeap(device.DescriptorHeapDesc{
		Kind:          a.options.Kind,
		Count:         capacity,
		ShaderVisible: a.options.ShaderVisible,
	})
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to create %s descriptor heap of %d descriptors", a.options.Kind, capacity)
	}

	page := NewPage(a.logger, heap, a.clock, PageOptions{ExternallySynchronized: a.options.ExternallySynchronized})
	a.pages = append(a.pages, page)

	return page, nil
}

// ReleaseStaleDescriptors releases every page's queued runs up to the clock's completed frame and
// returns pages that regained descriptors to the available set. It returns the number of
// descriptors released.
func (a *Allocator) ReleaseStaleDescriptors() int {
	completed := a.clock.CompletedFrame()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	released := 0
	for index, page := range a.pages {
		released += page.ReleaseStaleDescriptors(completed)
		if page.NumFreeHandles() > 0 {
			a.available.ReplaceOrInsert(index)
		}
	}

	return released
}

func (a *Allocator) PageCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return len(a.pages)
}

// AvailablePageCount returns the number of pages that have at least one free descriptor
func (a *Allocator) AvailablePageCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.available.Len()
}

// Destroy destroys every page. Pages with live allocations are kept and reported in the returned
// error, and remain usable.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	remaining := a.pages[:0]
	var err error
	for _, page := range a.pages {
		destroyErr := page.Destroy()
		if destroyErr != nil {
			remaining = append(remaining, page)
			err = cerrors.CombineErrors(err, destroyErr)
		}
	}
	for index := len(remaining); index < len(a.pages); index++ {
		a.pages[index] = nil
	}
	a.pages = remaining

	a.available.Clear(false)
	for index, page := range a.pages {
		if page.NumFreeHandles() > 0 {
			a.available.ReplaceOrInsert(index)
		}
	}

	return err
}

func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for index, page := range a.pages {
		err := page.validateLocked()
		if err != nil {
			return cerrors.Wrapf(err, "descriptor page %d", index)
		}

		if page.NumFreeHandles() == 0 && a.available.Has(index) {
			return cerrors.Newf("descriptor page %d has no free descriptors but is marked available", index)
		}
	}

	var err error
	a.available.Ascend(func(index int) bool {
		if index >= len(a.pages) {
			err = cerrors.Newf("available page %d does not exist", index)
			return false
		}
		return true
	})
	return err
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, page := range a.pages {
		page.AddStatistics(stats)
	}
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, page := range a.pages {
		page.AddDetailedStatistics(stats)
	}
}

// PrintDetailedMap writes a json object with one entry per page
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	for index, page := range a.pages {
		pageObj := objState.Name(strconv.Itoa(index)).Object()
		pageObj.Name("Available").Bool(a.available.Has(index))
		page.PrintDetailedMap(pageObj)
		pageObj.End()
	}
}
