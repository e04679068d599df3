package main

import (
	"fmt"
	"math/rand"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/buddy"
	"github.com/joshuapare/memkit/mem/lookup"
	"github.com/joshuapare/memkit/mem/pmm"
	"github.com/joshuapare/memkit/mem/slab"
)

const (
	ramBase     = mem.PhysAddr(0x4000_0000)
	kernelPages = 16
)

// stack is a fully wired allocator hierarchy over a synthetic RAM arena:
// pmm at the bottom, buddy and the slab registry above it, and the reverse
// lookup index migrated to its dynamic phase.
type stack struct {
	arena *mem.ArenaMapper
	pmm   *pmm.Allocator
	bud   *buddy.Allocator
	reg   *slab.Registry
	idx   *lookup.Index

	// baseFree is the pmm free-page count right after bring-up; the
	// conservation check measures against it.
	baseFree uint64
}

func buildStack(ramPages uint64) (*stack, error) {
	arena, err := mem.NewArena(ramBase, ramPages*format.PageSize)
	if err != nil {
		return nil, err
	}

	p := pmm.New(nil)
	p.SetMapper(arena)
	kernelEnd := ramBase + kernelPages*format.PageSize
	err = p.Init(kernelEnd,
		[]pmm.RegionDesc{{Base: ramBase, Size: ramPages * format.PageSize}},
		pmm.BootLayout{KernelStart: ramBase})
	if err != nil {
		return nil, fmt.Errorf("pmm init: %w", err)
	}

	// Compact tuning keeps MinChunks at zero, so the buddy allocator hands
	// every emptied chunk back and the conservation check can account for
	// each page.
	bcfg := buddy.ConfigCompact
	b := buddy.New(p, &bcfg)
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("buddy init: %w", err)
	}

	r := slab.New(p, arena, nil)
	if err := r.Init(); err != nil {
		return nil, fmt.Errorf("slab init: %w", err)
	}

	idx := lookup.New(p, b, nil)
	idx.SetMapper(arena)
	if err := idx.Init(); err != nil {
		return nil, fmt.Errorf("lookup init: %w", err)
	}
	r.SetTracker(idx)
	if err := idx.MigrateToDynamic(r); err != nil {
		return nil, fmt.Errorf("lookup migrate: %w", err)
	}

	return &stack{
		arena:    arena,
		pmm:      p,
		bud:      b,
		reg:      r,
		idx:      idx,
		baseFree: p.Stats().FreePages,
	}, nil
}

// entryCache returns the lookup index's own slab cache, the one piece of
// infrastructure that stays resident after a workload is torn down.
func (s *stack) entryCache() *slab.Cache {
	for _, c := range s.reg.Caches() {
		if c.Name() == "lookup-entries" {
			return c
		}
	}
	return nil
}

type workloadResult struct {
	Ops         int
	BuddyAllocs int
	BuddyFrees  int
	SlabAllocs  int
	SlabFrees   int
	Lookups     int
	LookupMiss  int

	// Conservation accounting, in pages.
	BaseFree      uint64
	FinalFree     uint64
	BuddyResident uint64
	IndexResident uint64
	LeakedPages   int64
}

// runWorkload drives a randomized mix of buddy and slab traffic, checking
// each held slab object against the reverse index as it goes, then tears
// everything down and accounts for every page.
func runWorkload(st *stack, ops int, seed int64) (*workloadResult, error) {
	rng := rand.New(rand.NewSource(seed))
	res := &workloadResult{Ops: ops}

	sizes := []uint64{64, 448, 2048}
	caches := make([]*slab.Cache, len(sizes))
	for i, sz := range sizes {
		c, err := st.reg.CacheCreate(fmt.Sprintf("sim-%d", sz), sz, 8, 0)
		if err != nil {
			return nil, err
		}
		caches[i] = c
	}

	type buddyBlock struct {
		addr  mem.PhysAddr
		order int
	}
	var blocks []buddyBlock
	held := make([][]mem.PhysAddr, len(caches))

	for i := 0; i < ops; i++ {
		switch rng.Intn(5) {
		case 0: // buddy alloc
			order := rng.Intn(5)
			if addr := st.bud.Alloc(order); addr != 0 {
				blocks = append(blocks, buddyBlock{addr, order})
				res.BuddyAllocs++
			}
		case 1: // buddy free
			if len(blocks) > 0 {
				j := rng.Intn(len(blocks))
				b := blocks[j]
				blocks[j] = blocks[len(blocks)-1]
				blocks = blocks[:len(blocks)-1]
				if err := st.bud.Free(b.addr, b.order); err != nil {
					return nil, err
				}
				res.BuddyFrees++
			}
		case 2: // slab alloc
			ci := rng.Intn(len(caches))
			if obj := caches[ci].Alloc(0); obj != 0 {
				held[ci] = append(held[ci], obj)
				res.SlabAllocs++
			}
		case 3: // slab free
			ci := rng.Intn(len(caches))
			if n := len(held[ci]); n > 0 {
				j := rng.Intn(n)
				obj := held[ci][j]
				held[ci][j] = held[ci][n-1]
				held[ci] = held[ci][:n-1]
				if err := caches[ci].Free(obj); err != nil {
					return nil, err
				}
				res.SlabFrees++
			}
		case 4: // reverse lookup of a live object
			ci := rng.Intn(len(caches))
			if n := len(held[ci]); n > 0 {
				obj := held[ci][rng.Intn(n)]
				res.Lookups++
				if s := st.idx.Find(obj); s == nil || s.Cache() != caches[ci] {
					res.LookupMiss++
				}
			}
		}
	}

	// Teardown: return every object and block, then destroy the workload
	// caches so their pages flow back to pmm.
	for ci, objs := range held {
		for _, obj := range objs {
			if err := caches[ci].Free(obj); err != nil {
				return nil, err
			}
			res.SlabFrees++
		}
	}
	for _, b := range blocks {
		if err := st.bud.Free(b.addr, b.order); err != nil {
			return nil, err
		}
		res.BuddyFrees++
	}
	for _, c := range caches {
		if err := st.reg.CacheDestroy(c); err != nil {
			return nil, err
		}
	}

	res.BaseFree = st.baseFree
	res.FinalFree = st.pmm.Stats().FreePages
	res.BuddyResident = st.bud.Stats().PagesOwned
	if ec := st.entryCache(); ec != nil {
		ecs := ec.Stats()
		res.IndexResident = uint64(ecs.TotalSlabs) * ec.SlabPages()
	}
	res.LeakedPages = int64(res.BaseFree) - int64(res.FinalFree) -
		int64(res.BuddyResident) - int64(res.IndexResident)
	return res, nil
}
