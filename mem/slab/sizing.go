package slab

import (
	"github.com/joshuapare/memkit/internal/format"
)

// MaxObjectSize is the largest object a cache will accept. Anything larger
// belongs to the page-level allocators.
const MaxObjectSize = 32 << 10

// SizingConfig drives the slab-geometry search. It is configuration rather
// than hard-coded branches so the heuristic stays independently testable.
type SizingConfig struct {
	// MinObjects is the object count a slab size must reach before the
	// search stops; the cap may yield fewer for very large objects.
	MinObjects int

	// MaxSlabPages caps the slab size tried by the search.
	MaxSlabPages uint64

	// HeaderBytes is the per-slab bookkeeping reservation, kept identical
	// to the on-hardware layout so object counts match the real kernel.
	HeaderBytes uint64

	// IndexBytes is the per-object freelist-index overhead.
	IndexBytes uint64
}

// DefaultSizing matches the kernel defaults: one-page slabs preferred,
// at least 8 objects, growing by powers of two up to 16 pages.
var DefaultSizing = SizingConfig{
	MinObjects:   8,
	MaxSlabPages: 16,
	HeaderBytes:  64,
	IndexBytes:   4,
}

func (s SizingConfig) normalize() SizingConfig {
	d := DefaultSizing
	if s.MinObjects == 0 {
		s.MinObjects = d.MinObjects
	}
	if s.MaxSlabPages == 0 {
		s.MaxSlabPages = d.MaxSlabPages
	}
	if s.HeaderBytes == 0 {
		s.HeaderBytes = d.HeaderBytes
	}
	if s.IndexBytes == 0 {
		s.IndexBytes = d.IndexBytes
	}
	return s
}

// geometry is the result of the slab-size search for one cache.
type geometry struct {
	pages      uint64 // slab size in pages
	objects    int    // objects per slab
	objectBase uint64 // offset of object 0 within the slab
}

// findGeometry searches slab sizes from one page upward in powers of two,
// picking the smallest size that yields at least MinObjects once the
// header and per-object index overhead are subtracted and the object area
// is aligned. At the cap, any size yielding at least one object is
// accepted; otherwise the object size is unusable.
func (s SizingConfig) findGeometry(objectSize, align uint64) (geometry, bool) {
	var last geometry
	for pages := uint64(1); pages <= s.MaxSlabPages; pages <<= 1 {
		total := pages << format.PageShift
		if total <= s.HeaderBytes {
			continue
		}
		n := (total - s.HeaderBytes) / (objectSize + s.IndexBytes)
		var base uint64
		for n > 0 {
			base = format.AlignTo(s.HeaderBytes+n*s.IndexBytes, align)
			if base+n*objectSize <= total {
				break
			}
			n--
		}
		if n == 0 {
			continue
		}
		last = geometry{pages: pages, objects: int(n), objectBase: base}
		if int(n) >= s.MinObjects {
			return last, true
		}
	}
	if last.objects >= 1 {
		return last, true
	}
	return geometry{}, false
}
