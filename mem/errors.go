package mem

import "errors"

var (
	// ErrBadAlign indicates an address or size that violates page alignment.
	ErrBadAlign = errors.New("mem: not page-aligned")

	// ErrNotOwned indicates a free of an address outside any tracked range.
	// Only reported under PolicyReport; PolicyTolerate absorbs it.
	ErrNotOwned = errors.New("mem: address not owned by this allocator")

	// ErrAlreadyFree indicates a free of an address that is already free.
	// Only reported under PolicyReport; PolicyTolerate absorbs it.
	ErrAlreadyFree = errors.New("mem: address already free")
)
