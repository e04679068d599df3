package buddy

import (
	"math/bits"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/pmm"
)

// block is one power-of-two run of pages inside a chunk. Free blocks are
// linked into the per-order free list; allocated blocks carry nil links.
type block struct {
	addr      mem.PhysAddr
	order     int
	allocated bool
	chunk     *chunk

	prev, next *block
}

// chunk is one pmm allocation carved into blocks. Its first page is the
// header page and never appears in any block.
type chunk struct {
	phys  mem.PhysAddr
	pages uint64

	// blocks holds every live block record, keyed by address. Coalescing
	// removes the upper buddy's record; splitting adds one.
	blocks map[mem.PhysAddr]*block

	allocatedBlocks int
}

func (c *chunk) contains(addr mem.PhysAddr) bool {
	return addr >= c.phys && addr < c.phys+mem.PhysAddr(c.pages<<format.PageShift)
}

// Stats is a snapshot of the allocator's counters.
type Stats struct {
	AllocCalls uint64
	FreeCalls  uint64

	Splits        uint64
	Coalesces     uint64
	Grows         uint64
	ChunkReleases uint64

	// Requests at or above MaxOrder bypass the buddy lists entirely.
	MaxOrderAllocs uint64
	MaxOrderFrees  uint64

	// Frees of addresses inside a chunk but without a block record. The
	// record is materialized on first sight; this counts those repairs.
	UntrackedFrees uint64

	Chunks            int
	PagesOwned        uint64
	FreeBlocksByOrder []int
}

// Allocator is the buddy page allocator. Construct with New, then call
// Init once before allocating.
type Allocator struct {
	cfg Config
	pmm *pmm.Allocator

	// freeLists[k] heads the doubly linked list of free order-k blocks.
	freeLists []*block
	chunks    []*chunk

	stats       Stats
	initialized bool

	// Test hook: called after each successful chunk growth.
	onGrow func(pages uint64)
}

// New creates an allocator over the given physical frame allocator.
// A nil config selects ConfigDefault.
func New(p *pmm.Allocator, cfg *Config) *Allocator {
	c := ConfigDefault
	if cfg != nil {
		c = cfg.normalize()
	}
	return &Allocator{
		cfg:       c,
		pmm:       p,
		freeLists: make([]*block, c.MaxOrder),
	}
}

// Init prepares the allocator. The backing pmm allocator must already be
// initialized. When the configuration asks for prewarming, one minimum-size
// chunk is grown immediately.
func (a *Allocator) Init() error {
	if a.initialized {
		return ErrInitialized
	}
	if a.pmm == nil || !a.pmm.Initialized() {
		return ErrNotInitialized
	}
	a.initialized = true
	if a.cfg.Prewarm {
		a.grow(0)
	}
	return nil
}

// Alloc allocates a block of 2^order pages and returns its physical
// address, which is always aligned to the block's own size. Returns 0 on
// exhaustion; there is no retry or blocking built in.
func (a *Allocator) Alloc(order int) mem.PhysAddr {
	if !a.initialized || order < 0 || order > 30 {
		return 0
	}
	a.stats.AllocCalls++

	// Very large requests go straight to pmm so the buddy arithmetic never
	// has to reason about blocks at the MaxOrder alignment boundary.
	if order >= a.cfg.MaxOrder {
		addr := a.pmm.AllocPages(format.OrderPages(order))
		if addr != 0 {
			a.stats.MaxOrderAllocs++
		}
		return addr
	}

	b := a.takeBlock(order)
	if b == nil {
		if !a.grow(order) {
			return 0
		}
		b = a.takeBlock(order)
		if b == nil {
			return 0
		}
	}

	b.allocated = true
	b.chunk.allocatedBlocks++
	return b.addr
}

// Free returns a block of 2^order pages. Misuse (out-of-range order,
// unknown address, double free) is handled per the configured policy. A free of an address that
// lies inside a chunk but has no block record is treated as a recoverable
// inconsistency: the record is materialized and the free proceeds.
func (a *Allocator) Free(addr mem.PhysAddr, order int) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if order < 0 || order > 30 {
		return a.misuse(ErrBadOrder)
	}
	a.stats.FreeCalls++

	if order >= a.cfg.MaxOrder {
		err := a.pmm.FreePages(addr, format.OrderPages(order))
		if err == nil {
			a.stats.MaxOrderFrees++
		}
		return err
	}

	c := a.chunkFor(addr)
	if c == nil {
		return a.misuse(mem.ErrNotOwned)
	}
	b := c.blocks[addr]
	if b == nil {
		b = &block{addr: addr, order: order, allocated: true, chunk: c}
		c.blocks[addr] = b
		c.allocatedBlocks++
		a.stats.UntrackedFrees++
	}
	if !b.allocated {
		return a.misuse(mem.ErrAlreadyFree)
	}

	b.allocated = false
	c.allocatedBlocks--

	// Coalesce with the XOR buddy while it exists, is free, and matches
	// our order. Buddies never cross chunks: the lookup is per-chunk.
	for b.order < a.cfg.MaxOrder-1 {
		budAddr := mem.PhysAddr(uint64(b.addr) ^ format.OrderBytes(b.order))
		bud := c.blocks[budAddr]
		if bud == nil || bud.allocated || bud.order != b.order {
			break
		}
		a.unlinkFree(bud)
		if bud.addr < b.addr {
			delete(c.blocks, b.addr)
			b = bud
		} else {
			delete(c.blocks, bud.addr)
		}
		b.order++
		a.stats.Coalesces++
	}
	a.pushFree(b)

	if c.allocatedBlocks == 0 && len(a.chunks) > a.cfg.MinChunks {
		a.releaseChunk(c)
	}
	return nil
}

// AllocMultiple allocates at least numPages contiguous pages by rounding
// the request up to the covering order. FreeMultiple releases it.
func (a *Allocator) AllocMultiple(numPages uint64) mem.PhysAddr {
	if numPages == 0 {
		return 0
	}
	return a.Alloc(format.OrderFor(numPages))
}

// FreeMultiple frees an allocation made with AllocMultiple of the same
// page count.
func (a *Allocator) FreeMultiple(addr mem.PhysAddr, numPages uint64) error {
	if numPages == 0 {
		return nil
	}
	return a.Free(addr, format.OrderFor(numPages))
}

// Stats returns a snapshot of the allocator's counters, including the
// current free-block population per order.
func (a *Allocator) Stats() Stats {
	st := a.stats
	st.Chunks = len(a.chunks)
	for _, c := range a.chunks {
		st.PagesOwned += c.pages
	}
	st.FreeBlocksByOrder = make([]int, a.cfg.MaxOrder)
	for k := range a.freeLists {
		for b := a.freeLists[k]; b != nil; b = b.next {
			st.FreeBlocksByOrder[k]++
		}
	}
	return st
}

// takeBlock pops a free block of exactly the requested order, splitting a
// larger block down if that is the first one available.
func (a *Allocator) takeBlock(order int) *block {
	for k := order; k < a.cfg.MaxOrder; k++ {
		b := a.freeLists[k]
		if b == nil {
			continue
		}
		a.unlinkFree(b)
		for b.order > order {
			a.split(b)
		}
		return b
	}
	return nil
}

// split halves b, keeping the lower half and pushing the upper half onto
// its free list. b must not be on any free list.
func (a *Allocator) split(b *block) {
	b.order--
	upper := &block{
		addr:  b.addr + mem.PhysAddr(format.OrderBytes(b.order)),
		order: b.order,
		chunk: b.chunk,
	}
	b.chunk.blocks[upper.addr] = upper
	a.pushFree(upper)
	a.stats.Splits++
}

// grow obtains one new chunk from pmm, sized by the three-tier heuristic
// and retried at the minimum chunk size if that fails.
func (a *Allocator) grow(order int) bool {
	pages := a.cfg.chunkPagesFor(order)
	phys := a.pmm.AllocPages(pages)
	if phys == 0 && pages != a.cfg.MinChunkPages {
		pages = a.cfg.MinChunkPages
		phys = a.pmm.AllocPages(pages)
	}
	if phys == 0 {
		return false
	}
	a.addChunk(phys, pages)
	a.stats.Grows++
	if a.onGrow != nil {
		a.onGrow(pages)
	}
	return true
}

// addChunk registers a fresh chunk and carves its data pages (everything
// past the header page) into the largest self-aligned blocks that fit,
// capped at MaxOrder-1.
func (a *Allocator) addChunk(phys mem.PhysAddr, pages uint64) {
	c := &chunk{
		phys:   phys,
		pages:  pages,
		blocks: make(map[mem.PhysAddr]*block),
	}
	a.chunks = append(a.chunks, c)

	addr := phys + format.PageSize
	end := phys + mem.PhysAddr(pages<<format.PageShift)
	for addr < end {
		remaining := uint64(end-addr) >> format.PageShift
		order := bits.Len64(remaining) - 1
		if align := bits.TrailingZeros64(uint64(addr) >> format.PageShift); align < order {
			order = align
		}
		if order > a.cfg.MaxOrder-1 {
			order = a.cfg.MaxOrder - 1
		}
		b := &block{addr: addr, order: order, chunk: c}
		c.blocks[addr] = b
		a.pushFree(b)
		addr += mem.PhysAddr(format.OrderBytes(order))
	}
}

// releaseChunk pulls every block of a fully-free chunk out of the free
// lists and hands the chunk's pages back to pmm.
func (a *Allocator) releaseChunk(c *chunk) {
	for _, b := range c.blocks {
		a.unlinkFree(b)
	}
	for i, cc := range a.chunks {
		if cc == c {
			a.chunks = append(a.chunks[:i], a.chunks[i+1:]...)
			break
		}
	}
	a.pmm.FreePages(c.phys, c.pages) //nolint:errcheck // chunk pages came from pmm
	a.stats.ChunkReleases++
}

func (a *Allocator) pushFree(b *block) {
	b.prev = nil
	b.next = a.freeLists[b.order]
	if b.next != nil {
		b.next.prev = b
	}
	a.freeLists[b.order] = b
}

func (a *Allocator) unlinkFree(b *block) {
	if b.prev != nil {
		b.prev.next = b.next
	} else if a.freeLists[b.order] == b {
		a.freeLists[b.order] = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
}

func (a *Allocator) chunkFor(addr mem.PhysAddr) *chunk {
	for _, c := range a.chunks {
		if c.contains(addr) {
			return c
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
