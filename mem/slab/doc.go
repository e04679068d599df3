// Package slab implements fixed-size object caches backed by whole pages
// obtained directly from the physical frame allocator.
//
// # Overview
//
// A Cache hands out objects of one size and alignment with O(1) alloc and
// free-list push. Each cache owns zero or more Slabs, partitioned into
// three lists by their free-object count: full (no free objects), partial,
// and empty (all objects free). Allocation prefers partial slabs, then
// promotes an empty one, and only then grows a fresh slab; pages come
// straight from pmm, never through the buddy layer.
//
// # Freelist by index
//
// A slab stores no per-object header. Its freelist is an array of object
// indices forming a singly linked list by index, with a sentinel marking
// the end; handing out or taking back an object touches exactly one array
// slot and the list head. The same zero-overhead property is what forces
// free(ptr) callers to recover the owning cache through the reverse-lookup
// index (package lookup) rather than through headers.
//
// # Reaping
//
// When a free empties a slab completely, the slab moves to the empty list.
// The first empty slab is retained as a warm reserve; any further empty
// slab is destroyed immediately and its pages returned to pmm, unless the
// cache was created with mem.CacheNoReap.
//
// # Tracking
//
// Unless a cache carries mem.CacheNoTrack, every slab it creates or
// destroys is reported to the registry's Tracker. The reverse-lookup index
// registers itself here; its own entry cache must be created with
// CacheNoTrack so that allocating an index entry can never recurse back
// into the index.
//
// # Thread safety
//
// Nothing here is safe for concurrent use. Callers serialize externally.
package slab
