// Package mem defines the shared vocabulary of the allocation core: physical
// addresses, allocation flags, the misuse-handling policy, and the Mapper
// seam through which allocators touch the bytes behind a physical address.
//
// # Layering
//
// The allocation core is built from four layers, leaf to root:
//
//   - mem/pmm: physical frame allocator (one bitmap per RAM region)
//   - mem/buddy: power-of-two page-block allocator on top of pmm
//   - mem/slab: fixed-size object caches, backed directly by pmm pages
//   - mem/lookup: page-to-cache reverse index consulted by free(ptr) callers
//
// # Physical memory model
//
// Allocators account for address space; they never dereference a PhysAddr
// directly. Whenever a layer needs to touch page contents (zeroing a freshly
// allocated page, clearing an object), it goes through a Mapper, which plays
// the role the kernel's physical-to-virtual alias would play on real
// hardware. Early in boot no alias exists yet, so a nil Mapper is legal and
// downgrades those layers to pure accounting.
//
// ArenaMapper backs a simulated machine with ordinary heap memory and is
// what the test suites use. MmapArena does the same with an anonymous
// memory mapping, which is cheaper for multi-gigabyte simulations.
//
// # Thread safety
//
// Nothing in this module is safe for concurrent use. The target is a
// uniprocessor kernel with no scheduler; callers serialize externally.
package mem
