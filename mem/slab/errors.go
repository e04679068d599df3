package slab

import "errors"

var (
	// ErrInitialized indicates a second Init call on the same registry.
	ErrInitialized = errors.New("slab: already initialized")

	// ErrNotInitialized indicates the registry (or its backing pmm) is not
	// ready for use.
	ErrNotInitialized = errors.New("slab: not initialized")

	// ErrBadObjectSize indicates an object size of zero or above
	// MaxObjectSize.
	ErrBadObjectSize = errors.New("slab: object size out of range")

	// ErrBadAlignment indicates an alignment that is not a power of two.
	ErrBadAlignment = errors.New("slab: alignment not a power of two")

	// ErrCacheDestroyed indicates use of a cache after CacheDestroy.
	ErrCacheDestroyed = errors.New("slab: cache destroyed")
)
