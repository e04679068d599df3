// Package lookup maintains the reverse index from physical page address to
// owning slab, so freeing an object by bare address does not require the
// caller to name its cache.
//
// The index is a chained hash table keyed by page frame number. It lives
// through two phases. During early bring-up, before the slab layer can
// allocate its own metadata, entries come from a bump arena of pmm pages
// and the bucket array is a small fixed table; growing past its load limit
// in this phase is a fatal configuration error. Once the slab registry is
// up, MigrateToDynamic moves entry backing into a dedicated slab cache and
// subsequent growth allocates bucket arrays from the buddy allocator. The
// entry cache is created with CacheNoTrack, so its own slabs never feed
// back into the index.
package lookup
