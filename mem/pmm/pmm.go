package pmm

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
)

// DefaultBootArenaLimit bounds how far past the kernel's physical base the
// bootstrap bitmap arena may grow. Overflowing it means the region list is
// absurdly large for this class of machine, and Init refuses to continue.
const DefaultBootArenaLimit = 16 << 20 // 16MB

// RegionDesc describes one physical RAM region as reported by the platform's
// device-tree parser. Base and Size must be page-aligned.
type RegionDesc struct {
	Base mem.PhysAddr
	Size uint64
}

// End returns the first address past the region.
func (d RegionDesc) End() mem.PhysAddr {
	return d.Base + mem.PhysAddr(d.Size)
}

// BootLayout names the memory already occupied when Init runs. Every range
// listed here is reserved in the region bitmaps before the allocator hands
// out its first page. Ranges that fall outside all RAM regions (typically
// the console MMIO window) are skipped without complaint.
type BootLayout struct {
	KernelStart    mem.PhysAddr // physical base of the kernel image
	BootPageTables RegionDesc   // page tables built by the early boot code
	DeviceTree     RegionDesc   // relocated device-tree blob
	ConsoleMMIO    RegionDesc   // console device register window
}

// Config carries the allocator's tunables.
type Config struct {
	// Policy selects how misuse (bad or double free) is handled.
	Policy mem.Policy

	// BootArenaLimit overrides DefaultBootArenaLimit when non-zero.
	BootArenaLimit uint64
}

// region is the tracked form of a RegionDesc: the descriptor plus its
// allocation bitmap and free-page count.
type region struct {
	base       mem.PhysAddr
	size       uint64
	totalPages uint64
	freePages  uint64
	bitmap     []uint64
}

func (r *region) end() mem.PhysAddr {
	return r.base + mem.PhysAddr(r.size)
}

func (r *region) contains(addr mem.PhysAddr) bool {
	return addr >= r.base && addr < r.end()
}

// pageIndex returns the page index of addr within the region.
// The caller must have checked containment.
func (r *region) pageIndex(addr mem.PhysAddr) uint64 {
	return uint64(addr-r.base) >> format.PageShift
}

func (r *region) pageAddr(idx uint64) mem.PhysAddr {
	return r.base + mem.PhysAddr(idx<<format.PageShift)
}

func (r *region) isSet(idx uint64) bool {
	return r.bitmap[idx/format.WordBits]&(1<<(idx%format.WordBits)) != 0
}

func (r *region) set(idx uint64) {
	r.bitmap[idx/format.WordBits] |= 1 << (idx % format.WordBits)
}

func (r *region) clear(idx uint64) {
	r.bitmap[idx/format.WordBits] &^= 1 << (idx % format.WordBits)
}

// Stats is a snapshot of the global page counters.
type Stats struct {
	TotalPages     uint64
	FreePages      uint64
	AllocatedPages uint64
	ReservedPages  uint64
}

// Allocator is the physical frame allocator. Construct with New, then call
// Init exactly once with the boot-time region list before any allocation.
type Allocator struct {
	cfg    Config
	mapper mem.Mapper

	regions     []*region
	initialized bool

	totalPages    uint64
	freePages     uint64
	reservedPages uint64

	arenaStart mem.PhysAddr
	arenaEnd   mem.PhysAddr
}

// New creates an uninitialized allocator. A nil config selects
// PolicyTolerate and DefaultBootArenaLimit.
func New(cfg *Config) *Allocator {
	a := &Allocator{}
	if cfg != nil {
		a.cfg = *cfg
	}
	if a.cfg.BootArenaLimit == 0 {
		a.cfg.BootArenaLimit = DefaultBootArenaLimit
	}
	return a
}

// SetMapper installs the physical-to-virtual alias used to zero page
// contents. Before the VM layer is up there is no alias; a nil mapper
// leaves the allocator in pure accounting mode.
func (a *Allocator) SetMapper(m mem.Mapper) {
	a.mapper = m
}

// Initialized reports whether Init has completed successfully.
func (a *Allocator) Initialized() bool { return a.initialized }

// Init builds one bitmap per region, accounts for all bitmaps in a bump
// arena placed immediately after kernelEnd, and reserves every range the
// boot environment already occupies. On failure the allocator stays
// uninitialized and unusable.
func (a *Allocator) Init(kernelEnd mem.PhysAddr, regions []RegionDesc, layout BootLayout) error {
	if a.initialized {
		return ErrInitialized
	}
	if len(regions) == 0 {
		return ErrNoRegions
	}

	for i, d := range regions {
		if !format.IsPageAligned(uint64(d.Base)) || !format.IsPageAligned(d.Size) || d.Size == 0 {
			return fmt.Errorf("pmm: region %d (base=%#x size=%#x): %w", i, d.Base, d.Size, mem.ErrBadAlign)
		}
		for j := 0; j < i; j++ {
			if d.Base < regions[j].End() && regions[j].Base < d.End() {
				return fmt.Errorf("pmm: regions %d and %d: %w", j, i, ErrRegionOverlap)
			}
		}
	}

	// Size the bootstrap arena: one bitmap per region, word-aligned, bumped
	// from the first page boundary after the kernel image. The bitmaps
	// themselves live in Go-managed slices, but the pages the arena would
	// occupy on hardware are still accounted and reserved so the physical
	// layout matches the real boot memory map.
	arenaStart := mem.PhysAddr(format.PageAlignUp(uint64(kernelEnd)))
	cursor := uint64(arenaStart)
	tracked := make([]*region, 0, len(regions))
	for _, d := range regions {
		totalPages := d.Size >> format.PageShift
		words := (totalPages + format.WordBits - 1) / format.WordBits
		cursor += format.AlignTo(words*8, 8)
		tracked = append(tracked, &region{
			base:       d.Base,
			size:       d.Size,
			totalPages: totalPages,
			freePages:  totalPages,
			bitmap:     make([]uint64, words),
		})
	}
	arenaEnd := mem.PhysAddr(format.PageAlignUp(cursor))

	if uint64(arenaEnd) > uint64(layout.KernelStart)+a.cfg.BootArenaLimit {
		return fmt.Errorf("pmm: arena [%#x, %#x) past kernel base %#x + %#x: %w",
			arenaStart, arenaEnd, layout.KernelStart, a.cfg.BootArenaLimit, ErrArenaOverflow)
	}

	// Pages past the end of a region that share its last bitmap word do not
	// exist; pin their bits so a word scan can never hand them out.
	for _, r := range tracked {
		if tail := r.totalPages % format.WordBits; tail != 0 {
			r.bitmap[len(r.bitmap)-1] |= ^uint64(0) << tail
		}
		a.totalPages += r.totalPages
		a.freePages += r.totalPages
	}

	a.regions = tracked
	a.arenaStart = arenaStart
	a.arenaEnd = arenaEnd
	a.initialized = true

	// Reserve everything the boot environment already occupies.
	a.ReserveRegion(layout.KernelStart, uint64(mem.PhysAddr(format.PageAlignUp(uint64(kernelEnd)))-layout.KernelStart))
	a.ReserveRegion(layout.BootPageTables.Base, layout.BootPageTables.Size)
	a.ReserveRegion(arenaStart, uint64(arenaEnd-arenaStart))
	a.ReserveRegion(layout.DeviceTree.Base, layout.DeviceTree.Size)
	a.ReserveRegion(layout.ConsoleMMIO.Base, layout.ConsoleMMIO.Size)

	return nil
}

// AllocPage allocates one page using a first-fit scan over the regions in
// registration order. Returns 0 when every region is exhausted.
func (a *Allocator) AllocPage() mem.PhysAddr {
	if !a.initialized {
		return 0
	}
	for _, r := range a.regions {
		if r.freePages == 0 {
			continue
		}
		for wi, w := range r.bitmap {
			if w == ^uint64(0) {
				continue
			}
			idx := uint64(wi)*format.WordBits + uint64(bits.TrailingZeros64(^w))
			r.set(idx)
			r.freePages--
			a.freePages--
			addr := r.pageAddr(idx)
			a.zero(addr, format.PageSize)
			return addr
		}
	}
	return 0
}

// AllocPages allocates n contiguous pages within a single region; requests
// never span regions. Returns 0 when no region holds a large enough run.
func (a *Allocator) AllocPages(n uint64) mem.PhysAddr {
	if !a.initialized || n == 0 {
		return 0
	}
	if n == 1 {
		return a.AllocPage()
	}
	for _, r := range a.regions {
		if r.freePages < n {
			continue
		}
		start, ok := r.findRun(n)
		if !ok {
			continue
		}
		for i := uint64(0); i < n; i++ {
			r.set(start + i)
		}
		r.freePages -= n
		a.freePages -= n
		addr := r.pageAddr(start)
		a.zero(addr, int(n)*format.PageSize)
		return addr
	}
	return 0
}

// findRun locates n contiguous clear bits, returning the index of the first.
func (r *region) findRun(n uint64) (uint64, bool) {
	var run, start uint64
	for idx := uint64(0); idx < r.totalPages; idx++ {
		if r.isSet(idx) {
			run = 0
			continue
		}
		if run == 0 {
			start = idx
		}
		run++
		if run == n {
			return start, true
		}
	}
	return 0, false
}

// FreePage returns one page to the allocator. Misuse is handled per Policy.
func (a *Allocator) FreePage(addr mem.PhysAddr) error {
	return a.FreePages(addr, 1)
}

// FreePages returns n contiguous pages to the allocator. The whole range
// must lie in one region and be currently allocated; otherwise the call is
// misuse and no state changes.
//
// The bitmap carries one bit per page, so a reserved page is
// indistinguishable from an allocated one; freeing a reserved page is
// accepted and skews the reserved/allocated split in Stats. Callers must
// not free ranges they reserved through ReservePage or ReserveRegion.
func (a *Allocator) FreePages(addr mem.PhysAddr, n uint64) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if n == 0 {
		return nil
	}
	r := a.regionFor(addr)
	if r == nil || !format.IsPageAligned(uint64(addr)) {
		return a.misuse(mem.ErrNotOwned)
	}
	start := r.pageIndex(addr)
	if start+n > r.totalPages {
		return a.misuse(mem.ErrNotOwned)
	}
	// Validate before mutating so a bad free cannot corrupt the counters.
	for i := uint64(0); i < n; i++ {
		if !r.isSet(start + i) {
			return a.misuse(mem.ErrAlreadyFree)
		}
	}
	for i := uint64(0); i < n; i++ {
		r.clear(start + i)
	}
	r.freePages += n
	a.freePages += n
	return nil
}

// ReservePage marks one page allocated without handing it to a caller.
func (a *Allocator) ReservePage(addr mem.PhysAddr) {
	a.ReserveRegion(addr, format.PageSize)
}

// ReserveRegion marks every page of [base, base+size) allocated without
// handing them to a caller. Pages outside all regions and pages that are
// already taken are skipped; reservations routinely cover MMIO windows that
// no RAM region backs.
func (a *Allocator) ReserveRegion(base mem.PhysAddr, size uint64) {
	if !a.initialized || size == 0 {
		return
	}
	first := mem.PhysAddr(format.PageAlignDown(uint64(base)))
	last := mem.PhysAddr(format.PageAlignUp(uint64(base) + size))
	for addr := first; addr < last; addr += format.PageSize {
		r := a.regionFor(addr)
		if r == nil {
			continue
		}
		idx := r.pageIndex(addr)
		if r.isSet(idx) {
			continue
		}
		r.set(idx)
		r.freePages--
		a.freePages--
		a.reservedPages++
	}
}

// IsAvailable reports whether the page containing addr is tracked and free.
func (a *Allocator) IsAvailable(addr mem.PhysAddr) bool {
	if !a.initialized {
		return false
	}
	r := a.regionFor(addr)
	if r == nil {
		return false
	}
	return !r.isSet(r.pageIndex(mem.PhysAddr(format.PageAlignDown(uint64(addr)))))
}

// Stats returns a snapshot of the global page counters. The
// reserved/allocated split is derived, not tracked per page: it is
// accurate as long as no caller frees a reserved range (see FreePages).
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalPages:     a.totalPages,
		FreePages:      a.freePages,
		AllocatedPages: a.totalPages - a.freePages - a.reservedPages,
		ReservedPages:  a.reservedPages,
	}
}

// MemoryStart returns the lowest address tracked by any region.
func (a *Allocator) MemoryStart() mem.PhysAddr {
	var lo mem.PhysAddr
	for i, r := range a.regions {
		if i == 0 || r.base < lo {
			lo = r.base
		}
	}
	return lo
}

// MemoryEnd returns the first address past the highest tracked region.
func (a *Allocator) MemoryEnd() mem.PhysAddr {
	var hi mem.PhysAddr
	for _, r := range a.regions {
		if r.end() > hi {
			hi = r.end()
		}
	}
	return hi
}

// BootArena returns the range reserved for the bootstrap bitmap arena.
func (a *Allocator) BootArena() (start, end mem.PhysAddr) {
	return a.arenaStart, a.arenaEnd
}

func (a *Allocator) regionFor(addr mem.PhysAddr) *region {
	for _, r := range a.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func (a *Allocator) misuse(err error) error {
	if a.cfg.Policy == mem.PolicyReport {
		return err
	}
	return nil
}

func (a *Allocator) zero(addr mem.PhysAddr, n int) {
	if a.mapper == nil {
		return
	}
	if v := a.mapper.Map(addr, n); v != nil {
		clear(v)
	}
}
