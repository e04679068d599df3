package mem

// PhysAddr is a physical memory address. The zero address doubles as the
// "no memory" return value of every allocation entry point, so no valid
// allocation is ever handed out at address 0.
type PhysAddr uint64

// AllocFlags modify the behavior of a single allocation or of a whole cache.
type AllocFlags uint32

const (
	// FlagZero requests that the allocation's bytes be cleared before it is
	// returned. Without a Mapper the request is a no-op.
	FlagZero AllocFlags = 1 << iota

	// FlagNoSleep requests fail-fast behavior instead of blocking. No entry
	// point in this module ever blocks, so the flag is currently always
	// honored; it exists so call sites can state intent ahead of a future
	// sleeping allocator.
	FlagNoSleep

	// CacheNoReap keeps fully-free slabs attached to their cache instead of
	// returning their pages to the physical allocator.
	CacheNoReap

	// CacheNoTrack excludes a cache's slabs from the reverse-lookup index.
	// Infrastructure caches whose allocations happen inside the index itself
	// must carry this flag, otherwise inserting an index entry would recurse
	// back into the index.
	CacheNoTrack
)

// Policy selects how the allocators respond to caller misuse: freeing an
// address they do not own, freeing it twice, or freeing out of range.
type Policy uint8

const (
	// PolicyTolerate silently ignores misuse. Statistics are left untouched
	// and the call reports success. This mirrors the historical kernel
	// behavior of absorbing bad frees rather than propagating them.
	PolicyTolerate Policy = iota

	// PolicyReport returns a typed error (ErrNotOwned, ErrAlreadyFree)
	// instead of absorbing the misuse. State is still left unmodified.
	PolicyReport
)

// Mapper resolves a physical address range to a writable byte view, standing
// in for the kernel's physical-to-virtual translation. Map returns nil when
// the range is not backed; callers must treat that as "no alias available"
// and skip the byte access.
type Mapper interface {
	Map(addr PhysAddr, n int) []byte
}
