// Package format defines the page geometry shared by every allocator layer.
//
// All allocators in this module account for physical memory in fixed 4KB
// pages. The constants here are the single source of truth for page size,
// shift and alignment masks; the buddy allocator's order arithmetic builds
// on top of them.
package format

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a single physical page in bytes.
	PageSize = 1 << PageShift

	// PageMask masks the in-page offset bits of an address.
	PageMask = PageSize - 1

	// WordBits is the number of pages tracked per bitmap word.
	WordBits = 64
)
