package slab

import (
	"fmt"
	"os"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
)

// Runtime debug flag for slab diagnostics - controlled by MEMKIT_LOG_ALLOC.
var logSlab = os.Getenv("MEMKIT_LOG_ALLOC") != ""

// freelistEnd is the sentinel terminating a slab's index freelist.
const freelistEnd = int32(-1)

// allocatedMark occupies an object's freelist slot while the object is
// live. A free of a slot not carrying the mark is a double free.
const allocatedMark = int32(-2)

type listID uint8

const (
	listFull listID = iota
	listPartial
	listEmpty
)

// CacheStats is a snapshot of one cache's counters.
type CacheStats struct {
	Allocs     uint64
	Frees      uint64
	ActiveObjs uint64
	TotalObjs  uint64
	// ActiveSlabs counts slabs with at least one live object.
	ActiveSlabs int
	TotalSlabs  int
}

// Cache is a pool of fixed-size, fixed-alignment objects.
type Cache struct {
	name           string
	objectSize     uint64
	align          uint64
	flags          mem.AllocFlags
	slabPages      uint64
	objectsPerSlab int
	objectBase     uint64

	full    *Slab
	partial *Slab
	empty   *Slab

	nFull, nPartial, nEmpty int

	allocs, frees uint64
	activeObjs    uint64

	reg       *Registry
	destroyed bool
}

// Slab is one run of pages carved into objects for a single cache. The
// freelist is an index array: freelist[i] names the next free object after
// object i, and head names the first free object.
type Slab struct {
	base  mem.PhysAddr
	pages uint64

	numFree  int
	freelist []int32
	head     int32

	cache      *Cache
	prev, next *Slab
	list       listID
}

// Base returns the physical address of the slab's first page.
func (s *Slab) Base() mem.PhysAddr { return s.base }

// Pages returns the number of pages the slab spans.
func (s *Slab) Pages() uint64 { return s.pages }

// SizeBytes returns the slab's size in bytes.
func (s *Slab) SizeBytes() uint64 { return s.pages << format.PageShift }

// Cache returns the cache owning this slab.
func (s *Slab) Cache() *Cache { return s.cache }

// Name returns the cache's diagnostic name.
func (c *Cache) Name() string { return c.name }

// ObjectSize returns the rounded per-object size in bytes.
func (c *Cache) ObjectSize() uint64 { return c.objectSize }

// ObjectsPerSlab returns how many objects one slab holds.
func (c *Cache) ObjectsPerSlab() int { return c.objectsPerSlab }

// SlabPages returns the slab size in pages chosen for this cache.
func (c *Cache) SlabPages() uint64 { return c.slabPages }

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() CacheStats {
	total := c.nFull + c.nPartial + c.nEmpty
	return CacheStats{
		Allocs:     c.allocs,
		Frees:      c.frees,
		ActiveObjs: c.activeObjs,
		TotalObjs:  uint64(total) * uint64(c.objectsPerSlab),
		ActiveSlabs: c.nFull + c.nPartial,
		TotalSlabs:  total,
	}
}

// Alloc hands out one object, creating a new slab only when no partial or
// empty slab exists. Returns 0 when pmm cannot back a new slab. The cost
// is O(1) regardless of how many slabs the cache owns.
func (c *Cache) Alloc(flags mem.AllocFlags) mem.PhysAddr {
	if c.destroyed {
		return 0
	}

	s := c.partial
	if s == nil {
		if c.empty != nil {
			s = c.empty
			c.moveSlab(s, listPartial)
		} else {
			s = c.newSlab()
			if s == nil {
				return 0
			}
		}
	}

	idx := s.head
	s.head = s.freelist[idx]
	s.freelist[idx] = allocatedMark
	s.numFree--
	if s.numFree == 0 {
		c.moveSlab(s, listFull)
	}

	addr := s.objectAddr(idx)
	if flags&mem.FlagZero != 0 && c.reg.mapper != nil {
		if v := c.reg.mapper.Map(addr, int(c.objectSize)); v != nil {
			clear(v)
		}
	}

	c.allocs++
	c.activeObjs++
	return addr
}

// Free takes back one object. The owning slab is found by scanning the
// slab lists for address-range containment: with no per-object header
// this is the one operation that cannot be O(1), and it is the
// allocator's documented cost center. An object that no slab contains,
// or one that is already free, is misuse, handled per the registry
// policy; state is untouched on a rejected free.
func (c *Cache) Free(obj mem.PhysAddr) error {
	if c.destroyed {
		return ErrCacheDestroyed
	}

	s, idx := c.findSlab(obj)
	if s == nil {
		if logSlab {
			fmt.Fprintf(os.Stderr, "[SLAB] %s: object %#x not found in cache\n", c.name, obj)
		}
		return c.misuse(mem.ErrNotOwned)
	}
	if s.freelist[idx] != allocatedMark {
		if logSlab {
			fmt.Fprintf(os.Stderr, "[SLAB] %s: object %#x freed twice\n", c.name, obj)
		}
		return c.misuse(mem.ErrAlreadyFree)
	}

	s.freelist[idx] = s.head
	s.head = idx
	s.numFree++
	c.frees++
	c.activeObjs--

	switch {
	case s.numFree == 1 && s.list == listFull:
		c.moveSlab(s, listPartial)
	case s.numFree == c.objectsPerSlab:
		c.moveSlab(s, listEmpty)
		// One empty slab stays as a warm reserve; further ones go straight
		// back to pmm unless the cache opted out of reaping.
		if c.flags&mem.CacheNoReap == 0 && c.nEmpty > 1 {
			c.destroySlab(s)
		}
	}
	return nil
}

// findSlab scans the full, partial and empty lists for the slab whose
// object area contains obj, returning it and the object index. Empty
// slabs are included so a stale free into one is classified as a double
// free rather than a foreign address.
func (c *Cache) findSlab(obj mem.PhysAddr) (*Slab, int32) {
	for _, head := range []*Slab{c.full, c.partial, c.empty} {
		for s := head; s != nil; s = s.next {
			start := s.base + mem.PhysAddr(c.objectBase)
			end := start + mem.PhysAddr(uint64(c.objectsPerSlab)*c.objectSize)
			if obj >= start && obj < end {
				return s, int32(uint64(obj-start) / c.objectSize)
			}
		}
	}
	return nil, 0
}

// newSlab grows the cache by one slab, pages straight from pmm, and links
// it into the partial list.
func (c *Cache) newSlab() *Slab {
	base := c.reg.pmm.AllocPages(c.slabPages)
	if base == 0 {
		return nil
	}
	s := &Slab{
		base:     base,
		pages:    c.slabPages,
		numFree:  c.objectsPerSlab,
		freelist: make([]int32, c.objectsPerSlab),
		cache:    c,
	}
	for i := range s.freelist {
		s.freelist[i] = int32(i + 1)
	}
	s.freelist[len(s.freelist)-1] = freelistEnd
	s.head = 0

	s.list = listPartial
	c.pushSlab(s)

	if c.flags&mem.CacheNoTrack == 0 && c.reg.tracker != nil {
		c.reg.tracker.TrackSlab(s)
	}
	return s
}

// destroySlab unlinks s and returns its pages to pmm.
func (c *Cache) destroySlab(s *Slab) {
	c.unlinkSlab(s)
	if c.flags&mem.CacheNoTrack == 0 && c.reg.tracker != nil {
		c.reg.tracker.UntrackSlab(s)
	}
	c.reg.pmm.FreePages(s.base, s.pages) //nolint:errcheck // slab pages came from pmm
}

func (s *Slab) objectAddr(idx int32) mem.PhysAddr {
	return s.base + mem.PhysAddr(s.cache.objectBase+uint64(idx)*s.cache.objectSize)
}

func (c *Cache) listHead(id listID) **Slab {
	switch id {
	case listFull:
		return &c.full
	case listPartial:
		return &c.partial
	default:
		return &c.empty
	}
}

func (c *Cache) listCount(id listID) *int {
	switch id {
	case listFull:
		return &c.nFull
	case listPartial:
		return &c.nPartial
	default:
		return &c.nEmpty
	}
}

func (c *Cache) pushSlab(s *Slab) {
	head := c.listHead(s.list)
	s.prev = nil
	s.next = *head
	if s.next != nil {
		s.next.prev = s
	}
	*head = s
	*c.listCount(s.list)++
}

func (c *Cache) unlinkSlab(s *Slab) {
	head := c.listHead(s.list)
	if s.prev != nil {
		s.prev.next = s.next
	} else if *head == s {
		*head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
	*c.listCount(s.list)--
}

func (c *Cache) moveSlab(s *Slab, to listID) {
	c.unlinkSlab(s)
	s.list = to
	c.pushSlab(s)
}

func (c *Cache) misuse(err error) error {
	if c.reg.policy == mem.PolicyReport {
		return err
	}
	return nil
}
