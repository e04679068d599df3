package slab

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/pmm"
)

// Tracker receives slab lifecycle events so a reverse-lookup index can map
// page addresses back to their owning cache. Caches created with
// mem.CacheNoTrack never reach the tracker.
type Tracker interface {
	TrackSlab(s *Slab)
	UntrackSlab(s *Slab)
}

// Config carries the registry's tunables.
type Config struct {
	Sizing SizingConfig
	Policy mem.Policy
}

// Registry owns every cache in the system. Construct with New, Init once,
// then create caches. The registry itself performs no locking; callers
// serialize externally.
type Registry struct {
	pmm    *pmm.Allocator
	mapper mem.Mapper
	sizing SizingConfig
	policy mem.Policy

	caches      []*Cache
	tracker     Tracker
	initialized bool
}

// New creates a registry over the given physical frame allocator. The
// mapper, when non-nil, enables object zeroing for mem.FlagZero requests.
// A nil config selects DefaultSizing and PolicyTolerate.
func New(p *pmm.Allocator, m mem.Mapper, cfg *Config) *Registry {
	r := &Registry{pmm: p, mapper: m, sizing: DefaultSizing}
	if cfg != nil {
		r.sizing = cfg.Sizing.normalize()
		r.policy = cfg.Policy
	}
	return r
}

// Init prepares the registry. The backing pmm allocator must already be
// initialized.
func (r *Registry) Init() error {
	if r.initialized {
		return ErrInitialized
	}
	if r.pmm == nil || !r.pmm.Initialized() {
		return ErrNotInitialized
	}
	r.initialized = true
	return nil
}

// SetTracker installs the slab lifecycle tracker. Must be called before
// any tracked cache creates its first slab, or that slab will be invisible
// to free(ptr) reverse lookups.
func (r *Registry) SetTracker(t Tracker) {
	r.tracker = t
}

// Caches returns the live caches in creation order.
func (r *Registry) Caches() []*Cache {
	return r.caches
}

// CacheCreate builds a cache of fixed-size objects. The object size is
// rounded up to max(align, 8); slab geometry comes from the registry's
// sizing search. The cache allocates no pages until its first allocation.
func (r *Registry) CacheCreate(name string, objectSize, align uint64, flags mem.AllocFlags) (*Cache, error) {
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	if objectSize == 0 || objectSize > MaxObjectSize {
		return nil, fmt.Errorf("slab: %q size %d: %w", name, objectSize, ErrBadObjectSize)
	}
	if align == 0 {
		align = 8
	}
	if bits.OnesCount64(align) != 1 {
		return nil, fmt.Errorf("slab: %q align %d: %w", name, align, ErrBadAlignment)
	}
	minAlign := align
	if minAlign < 8 {
		minAlign = 8
	}
	rounded := (objectSize + minAlign - 1) &^ (minAlign - 1)

	geo, ok := r.sizing.findGeometry(rounded, align)
	if !ok {
		return nil, fmt.Errorf("slab: %q rounded size %d: %w", name, rounded, ErrBadObjectSize)
	}

	c := &Cache{
		name:           name,
		objectSize:     rounded,
		align:          align,
		flags:          flags,
		slabPages:      geo.pages,
		objectsPerSlab: geo.objects,
		objectBase:     geo.objectBase,
		reg:            r,
	}
	r.caches = append(r.caches, c)
	return c, nil
}

// CacheDestroy tears down every slab in all three of the cache's lists,
// returning their pages to pmm, and removes the cache from the registry.
func (r *Registry) CacheDestroy(c *Cache) error {
	if c.destroyed {
		return ErrCacheDestroyed
	}
	for _, head := range []**Slab{&c.full, &c.partial, &c.empty} {
		for *head != nil {
			c.destroySlab(*head)
		}
	}
	for i, cc := range r.caches {
		if cc == c {
			r.caches = append(r.caches[:i], r.caches[i+1:]...)
			break
		}
	}
	c.destroyed = true
	return nil
}
