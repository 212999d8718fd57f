package memutils

// Validatable is implemented by every allocator and pool. Validate walks the whole structure and
// reports the first broken invariant it finds without changing any state.
type Validatable interface {
	Validate() error
}
