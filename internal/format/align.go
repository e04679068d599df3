package format

import "math/bits"

// Alignment and order arithmetic shared by the allocator layers.
// An order-k allocation spans 2^k pages, so order-to-size conversions are
// pure shifts on top of PageShift.

// PageAlignDown returns addr rounded down to the start of its page.
func PageAlignDown(addr uint64) uint64 {
	return addr &^ uint64(PageMask)
}

// PageAlignUp returns addr rounded up to the next page boundary.
//
// Example:
//
//	PageAlignUp(1)    = 4096
//	PageAlignUp(4096) = 4096
//	PageAlignUp(4097) = 8192
func PageAlignUp(addr uint64) uint64 {
	return (addr + PageMask) &^ uint64(PageMask)
}

// IsPageAligned reports whether addr sits exactly on a page boundary.
func IsPageAligned(addr uint64) bool {
	return addr&PageMask == 0
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return (n + PageMask) >> PageShift
}

// AlignTo returns n aligned up to the next multiple of align.
// align must be a power of two.
func AlignTo(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// OrderPages returns the number of pages spanned by a block of the given order.
func OrderPages(order int) uint64 {
	return 1 << order
}

// OrderBytes returns the byte size of a block of the given order.
func OrderBytes(order int) uint64 {
	return 1 << (order + PageShift)
}

// OrderFor returns the smallest order whose block covers at least pages.
func OrderFor(pages uint64) int {
	if pages <= 1 {
		return 0
	}
	return bits.Len64(pages - 1)
}
