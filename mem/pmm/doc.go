// Package pmm implements the physical frame allocator, the lowest layer of
// the allocation core.
//
// # Overview
//
// The allocator owns a fixed set of physical RAM regions discovered at boot
// (on real hardware, by the device-tree parser). Each region carries one
// allocation bitmap with a single bit per page; bit set means allocated or
// reserved. Allocation is a first-fit scan over the regions in registration
// order. Multi-page allocations must fit inside a single region; they never
// span regions.
//
// # Boot-time bitmap arena
//
// Init sizes one bitmap per region and accounts for all of them in a small
// bump-style bootstrap arena placed immediately after the kernel image. The
// arena pages are reserved in the bitmaps themselves, together with the
// kernel image, the boot page tables, the device-tree blob and the console
// MMIO window, so nothing else can ever be handed out from those ranges.
// Init fails without marking the allocator initialized when no regions are
// supplied or when the arena would overflow its safety bound relative to
// the kernel's physical base.
//
// # Misuse policy
//
// Freeing an address outside every region, out of bounds, or already free
// is absorbed silently under the default PolicyTolerate, matching the
// historical "tolerate but do not propagate" kernel behavior. Construct
// the allocator with mem.PolicyReport to surface these as typed errors
// instead; state is never modified either way.
//
// # Thread safety
//
// Allocator is not safe for concurrent use. Callers serialize externally.
package pmm
