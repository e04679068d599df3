package pmm

import "errors"

var (
	// ErrInitialized indicates a second Init call on the same allocator.
	ErrInitialized = errors.New("pmm: already initialized")

	// ErrNotInitialized indicates use of an allocator whose Init failed or
	// was never called.
	ErrNotInitialized = errors.New("pmm: not initialized")

	// ErrNoRegions indicates Init was called without any RAM regions.
	ErrNoRegions = errors.New("pmm: no memory regions supplied")

	// ErrRegionOverlap indicates two supplied regions share a page.
	ErrRegionOverlap = errors.New("pmm: memory regions overlap")

	// ErrArenaOverflow indicates the boot bitmap arena would exceed its
	// safety bound relative to the kernel's physical base.
	ErrArenaOverflow = errors.New("pmm: bootstrap bitmap arena overflow")
)
