// Package buddy implements the power-of-two page-block allocator that sits
// on top of the physical frame allocator.
//
// # Overview
//
// The allocator obtains variable-size chunks of contiguous pages from pmm
// and subdivides each chunk into naturally aligned power-of-two blocks. An
// order-k allocation spans 2^k pages. Free blocks of the same order form a
// doubly linked list per order; allocation scans the lists from the
// requested order upward, splitting larger blocks down as needed, and
// freeing coalesces a block with its XOR buddy as long as both halves are
// free and belong to the same chunk.
//
// The first page of every chunk is set aside as the chunk's header page and
// is never carved into blocks. The remainder is carved greedily into the
// largest self-aligned blocks that fit, capped one order below MaxOrder to
// keep the buddy arithmetic away from the bypass boundary.
//
// # Growth and shrink-back
//
// When no free block can satisfy a request, the allocator grows by one
// chunk. The chunk size comes from a three-tier heuristic (small orders use
// the minimum chunk, mid orders a medium chunk, very large orders get their
// exact need plus slack for the header page and block alignment); if the
// heuristic size cannot be satisfied by pmm, the request is retried at the
// minimum chunk size before giving up. A chunk whose blocks are all free
// again is returned to pmm wholesale, unless doing so would drop the
// allocator below its retained-chunk minimum.
//
// # Bypass
//
// Requests of MaxOrder and above skip the buddy machinery entirely and go
// straight to pmm.AllocPages; they are tracked in a separate pair of
// statistics counters.
//
// # Thread safety
//
// Allocator is not safe for concurrent use. Callers serialize externally.
package buddy
