package lookup

import (
	"fmt"
	"os"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/buddy"
	"github.com/joshuapare/memkit/mem/pmm"
	"github.com/joshuapare/memkit/mem/slab"
)

var logLookup = os.Getenv("MEMKIT_LOG_ALLOC") != ""

// entryBytes is the accounting footprint of one index entry in backing
// memory: key, slab reference, chain link, and padding to keep the entry
// cache geometry stable.
const entryBytes = 40

// bucketBytes is the accounting footprint of one bucket slot.
const bucketBytes = 8

// recordMagic marks a live entry record in backing memory. Post-mortem
// tooling scans for it when reconstructing the index from a memory dump.
const recordMagic = 0x4D4B4C55 // "ULKM"

// Record layout within an entry's backing slot.
const (
	recOffMagic = 0  // u32 recordMagic
	recOffPages = 4  // u32 slab size in pages
	recOffKey   = 8  // u64 page key
	recOffSlab  = 16 // u64 slab base address
)

type phase uint8

const (
	phaseBootstrap phase = iota
	phaseDynamic
)

// Entry is one key-to-slab binding. Entries chain within a bucket;
// backing records the physical storage charged for the entry, zero while
// no backing could be obtained.
type Entry struct {
	key     mem.PhysAddr
	slab    *slab.Slab
	next    *Entry
	backing mem.PhysAddr
}

// Config tunes the index. The zero value selects the defaults.
type Config struct {
	// BootstrapBuckets is the initial bucket count, a power of two.
	// Default 64.
	BootstrapBuckets int

	// LoadPercent is the occupancy threshold, in percent of the bucket
	// count, past which the table grows. Default 75.
	LoadPercent int

	// EntryCacheName names the slab cache created at migration.
	// Default "lookup-entries".
	EntryCacheName string
}

func (c Config) normalize() Config {
	if c.BootstrapBuckets == 0 {
		c.BootstrapBuckets = 64
	}
	if c.LoadPercent == 0 {
		c.LoadPercent = 75
	}
	if c.EntryCacheName == "" {
		c.EntryCacheName = "lookup-entries"
	}
	return c
}

// Stats is a snapshot of the index counters.
type Stats struct {
	Entries       uint64
	Buckets       int
	Finds         uint64
	Hits          uint64
	Inserts       uint64
	Removes       uint64
	Collisions    uint64
	Resizes       uint64
	BackingMisses uint64
	Degraded      bool
	Dynamic       bool
}

// Index is the page-to-slab reverse lookup table. It implements
// slab.Tracker so the registry can feed it directly. Not safe for
// concurrent use.
type Index struct {
	cfg    Config
	pmm    *pmm.Allocator
	bud    *buddy.Allocator
	mapper mem.Mapper
	cache  *slab.Cache

	buckets      []*Entry
	bucketsBack  mem.PhysAddr
	bucketsOrder int

	count     uint64
	threshold uint64
	ph        phase
	resizing  bool

	// bootstrap bump arena
	bootPages []mem.PhysAddr
	bootOff   uint64

	initialized bool

	stats struct {
		finds, hits, inserts, removes uint64
		collisions, resizes           uint64
		backingMisses                 uint64
		degraded                      bool
	}

	// halt fires when the table must grow before migration. There is no
	// way to recover in that state short of fixing the boot configuration.
	halt func(msg string)

	// allocBuckets obtains backing for a dynamic bucket array; swapped in
	// tests to exercise the degraded path.
	allocBuckets func(pages uint64) mem.PhysAddr
}

// New creates an index over the given allocators. The buddy allocator is
// only exercised after migration; it may still be uninitialized at
// construction time.
func New(p *pmm.Allocator, b *buddy.Allocator, cfg *Config) *Index {
	i := &Index{pmm: p, bud: b}
	if cfg != nil {
		i.cfg = *cfg
	}
	i.cfg = i.cfg.normalize()
	i.halt = func(msg string) { panic("lookup: " + msg) }
	i.allocBuckets = func(pages uint64) mem.PhysAddr {
		return i.bud.Alloc(format.OrderFor(pages))
	}
	return i
}

// Init sets up the bootstrap table. The bucket array in this phase is
// plain kernel image storage and charges no pages.
func (i *Index) Init() error {
	if i.initialized {
		return ErrInitialized
	}
	if !i.pmm.Initialized() {
		return ErrNotInitialized
	}
	i.buckets = make([]*Entry, i.cfg.BootstrapBuckets)
	i.threshold = uint64(i.cfg.BootstrapBuckets) * uint64(i.cfg.LoadPercent) / 100
	i.initialized = true
	return nil
}

// SetMapper installs the physical-to-virtual alias. With a mapper in
// place every entry mirrors itself into its backing slot as a fixed
// little-endian record, so a memory dump alone suffices to rebuild the
// index. A nil mapper leaves entries accounting-only.
func (i *Index) SetMapper(m mem.Mapper) {
	i.mapper = m
}

// Initialized reports whether Init has completed.
func (i *Index) Initialized() bool { return i.initialized }

// EntryCount returns the number of live entries.
func (i *Index) EntryCount() uint64 { return i.count }

// LoadFactorPercent returns current occupancy as a percentage of the
// bucket count.
func (i *Index) LoadFactorPercent() int {
	if len(i.buckets) == 0 {
		return 0
	}
	return int(i.count * 100 / uint64(len(i.buckets)))
}

// Stats returns a snapshot of the index counters.
func (i *Index) Stats() Stats {
	return Stats{
		Entries:       i.count,
		Buckets:       len(i.buckets),
		Finds:         i.stats.finds,
		Hits:          i.stats.hits,
		Inserts:       i.stats.inserts,
		Removes:       i.stats.removes,
		Collisions:    i.stats.collisions,
		Resizes:       i.stats.resizes,
		BackingMisses: i.stats.backingMisses,
		Degraded:      i.stats.degraded,
		Dynamic:       i.ph == phaseDynamic,
	}
}

// hashKey folds the page frame number so that runs of adjacent pages do
// not pile into adjacent buckets alone.
func hashKey(key mem.PhysAddr) uint64 {
	h := uint64(key) >> format.PageShift
	h ^= h >> 16
	return h
}

func (i *Index) bucketFor(key mem.PhysAddr) int {
	return int(hashKey(key) & uint64(len(i.buckets)-1))
}

// Find returns the slab owning the page that contains addr, or nil when
// no tracked slab covers it.
func (i *Index) Find(addr mem.PhysAddr) *slab.Slab {
	if !i.initialized {
		return nil
	}
	i.stats.finds++
	key := addr &^ mem.PhysAddr(format.PageMask)
	for e := i.buckets[i.bucketFor(key)]; e != nil; e = e.next {
		if e.key == key {
			i.stats.hits++
			return e.slab
		}
	}
	return nil
}

// TrackSlab registers every page of the slab. Called by the registry for
// each slab created in a tracked cache.
func (i *Index) TrackSlab(s *slab.Slab) {
	if !i.initialized {
		return
	}
	for p := uint64(0); p < s.Pages(); p++ {
		i.insert(s.Base()+mem.PhysAddr(p<<format.PageShift), s)
	}
}

// UntrackSlab drops every page of the slab from the index.
func (i *Index) UntrackSlab(s *slab.Slab) {
	if !i.initialized {
		return
	}
	for p := uint64(0); p < s.Pages(); p++ {
		i.remove(s.Base() + mem.PhysAddr(p<<format.PageShift))
	}
}

func (i *Index) insert(key mem.PhysAddr, s *slab.Slab) {
	if !i.resizing && i.count+1 > i.threshold {
		i.grow()
	}

	e := &Entry{key: key, slab: s, backing: i.allocEntryBacking()}
	i.writeRecord(e)
	b := i.bucketFor(key)
	if i.buckets[b] != nil {
		i.stats.collisions++
	}
	e.next = i.buckets[b]
	i.buckets[b] = e
	i.count++
	i.stats.inserts++
}

func (i *Index) remove(key mem.PhysAddr) {
	b := i.bucketFor(key)
	for pe, e := &i.buckets[b], i.buckets[b]; e != nil; pe, e = &e.next, e.next {
		if e.key == key {
			*pe = e.next
			i.freeEntryBacking(e)
			i.count--
			i.stats.removes++
			return
		}
	}
}

// grow doubles the bucket array. Before migration there is nowhere to get
// a larger array from, so crossing the load threshold is fatal: the
// bootstrap table was sized wrong for the boot workload. After migration
// the new array is charged to the buddy allocator; when that charge cannot
// be met the index stays on the current array and widens its threshold
// instead of failing inserts.
func (i *Index) grow() {
	if i.ph == phaseBootstrap {
		i.halt(fmt.Sprintf("bootstrap table over %d%% load (%d entries in %d buckets) before migration",
			i.cfg.LoadPercent, i.count, len(i.buckets)))
		// Unreachable with the default hook. A test hook that returns
		// leaves the table usable but over-loaded.
		i.threshold *= 4
		return
	}

	newN := len(i.buckets) * 2
	pages := format.PagesFor(uint64(newN) * bucketBytes)
	back := i.allocBuckets(pages)
	if back == 0 {
		i.stats.degraded = true
		i.threshold *= 4
		if logLookup {
			fmt.Fprintf(os.Stderr, "[LOOKUP] bucket array grow to %d failed, threshold now %d\n", newN, i.threshold)
		}
		return
	}

	old := i.buckets
	oldBack, oldOrder := i.bucketsBack, i.bucketsOrder
	i.buckets = make([]*Entry, newN)
	i.bucketsBack = back
	i.bucketsOrder = format.OrderFor(pages)
	i.threshold = uint64(newN) * uint64(i.cfg.LoadPercent) / 100
	i.stats.resizes++

	// Relink existing entries into the new array. No entry backing moves,
	// so this cannot recurse into any allocator.
	i.resizing = true
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			b := i.bucketFor(e.key)
			if i.buckets[b] != nil {
				i.stats.collisions++
			}
			e.next = i.buckets[b]
			i.buckets[b] = e
			e = next
		}
	}
	i.resizing = false

	if oldBack != 0 {
		_ = i.bud.Free(oldBack, oldOrder)
	}
}

// MigrateToDynamic moves entry backing from the bootstrap bump arena into
// a dedicated slab cache and returns the bootstrap pages to pmm. Must be
// called exactly once, after the slab registry is initialized.
func (i *Index) MigrateToDynamic(reg *slab.Registry) error {
	if !i.initialized {
		return ErrNotInitialized
	}
	if i.ph == phaseDynamic {
		return ErrMigrated
	}

	// CacheNoTrack keeps the entry cache's own slabs out of the index;
	// CacheNoReap keeps its empty slabs warm across churn.
	c, err := reg.CacheCreate(i.cfg.EntryCacheName, entryBytes, 8, mem.CacheNoTrack|mem.CacheNoReap)
	if err != nil {
		return err
	}
	i.cache = c
	i.ph = phaseDynamic

	// Re-charge every live entry to the cache before the arena pages go
	// away.
	for _, head := range i.buckets {
		for e := head; e != nil; e = e.next {
			i.clearRecord(e)
			if back := c.Alloc(0); back != 0 {
				e.backing = back
			} else {
				e.backing = 0
				i.stats.backingMisses++
			}
			i.writeRecord(e)
		}
	}

	for _, pg := range i.bootPages {
		_ = i.pmm.FreePages(pg, 1)
	}
	i.bootPages = nil
	i.bootOff = 0
	return nil
}

// allocEntryBacking charges the storage for one entry to whichever
// allocator the current phase uses. A zero return means the charge could
// not be met; the entry still functions.
func (i *Index) allocEntryBacking() mem.PhysAddr {
	if i.ph == phaseDynamic {
		if back := i.cache.Alloc(0); back != 0 {
			return back
		}
		i.stats.backingMisses++
		return 0
	}

	const perPage = format.PageSize / entryBytes
	if i.bootOff == 0 || i.bootOff >= perPage*entryBytes {
		pg := i.pmm.AllocPage()
		if pg == 0 {
			// This early in boot there is no fallback allocator to turn to.
			i.halt("bootstrap entry page allocation failed")
			i.stats.backingMisses++
			return 0
		}
		i.bootPages = append(i.bootPages, pg)
		i.bootOff = 0
	}
	addr := i.bootPages[len(i.bootPages)-1] + mem.PhysAddr(i.bootOff)
	i.bootOff += entryBytes
	return addr
}

func (i *Index) freeEntryBacking(e *Entry) {
	i.clearRecord(e)
	if i.ph == phaseDynamic && e.backing != 0 {
		_ = i.cache.Free(e.backing)
	}
	// Bootstrap backing is bump-allocated and reclaimed wholesale at
	// migration.
}

// writeRecord mirrors the entry into its backing slot.
func (i *Index) writeRecord(e *Entry) {
	if i.mapper == nil || e.backing == 0 {
		return
	}
	v := i.mapper.Map(e.backing, entryBytes)
	if v == nil || !buf.Has(v, 0, entryBytes) {
		return
	}
	buf.PutU32LE(v[recOffMagic:], recordMagic)
	buf.PutU32LE(v[recOffPages:], uint32(e.slab.Pages()))
	buf.PutU64LE(v[recOffKey:], uint64(e.key))
	buf.PutU64LE(v[recOffSlab:], uint64(e.slab.Base()))
}

// clearRecord invalidates the backing record before the slot is reused.
func (i *Index) clearRecord(e *Entry) {
	if i.mapper == nil || e.backing == 0 {
		return
	}
	if v := i.mapper.Map(e.backing, entryBytes); v != nil {
		clear(v)
	}
}
