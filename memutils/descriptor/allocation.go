package descriptor

// Allocation is a run of consecutive descriptors in one Page. The zero value is the null
// allocation. Go has no move semantics, so ownership is transferred with Take.
type Allocation struct {
	cpu    uint64
	gpu    uint64
	count  int
	stride int
	page   *Page
}

// IsNull reports whether the allocation is empty or has already been freed
func (a *Allocation) IsNull() bool {
	return a == nil || a.page == nil
}

// CPUHandle returns the handle of the first descriptor, or 0 for a null allocation
func (a *Allocation) CPUHandle() uint64 { return a.cpu }

// GPUHandle returns the shader-visible handle of the first descriptor. It is 0 for null allocations
// and for pages that are not shader visible.
func (a *Allocation) GPUHandle() uint64 { return a.gpu }

// Count returns the number of descriptors in the allocation
func (a *Allocation) Count() int { return a.count }

// Stride returns the distance in bytes between adjacent descriptor handles
func (a *Allocation) Stride() int { return a.stride }

func (a *Allocation) Page() *Page { return a.page }

// CPUHandleAt returns the handle of the descriptor at index, or 0 if index is out of range
func (a *Allocation) CPUHandleAt(index int) uint64 {
	if a.IsNull() || index < 0 || index >= a.count {
		return 0
	}
	return a.cpu + uint64(index*a.stride)
}

// GPUHandleAt returns the shader-visible handle of the descriptor at index, or 0 if there is none
func (a *Allocation) GPUHandleAt(index int) uint64 {
	if a.IsNull() || a.gpu == 0 || index < 0 || index >= a.count {
		return 0
	}
	return a.gpu + uint64(index*a.stride)
}

// Free hands the descriptors back to their page for release once the current frame completes.
// The allocation becomes null. Freeing a null allocation does nothing.
func (a *Allocation) Free() {
	if a.IsNull() {
		return
	}
	a.page.Free(a)
}

// Take returns a copy of the allocation and nulls the receiver, transferring ownership
func (a *Allocation) Take() Allocation {
	out := *a
	*a = Allocation{}
	return out
}
