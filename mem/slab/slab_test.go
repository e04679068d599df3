package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/pmm"
)

const testRAMBase = mem.PhysAddr(0x4000_0000)

func newTestRegistry(t testing.TB, ramPages uint64, cfg *Config) (*Registry, *pmm.Allocator, *mem.ArenaMapper) {
	t.Helper()

	arena, err := mem.NewArena(testRAMBase, ramPages*format.PageSize)
	require.NoError(t, err)

	p := pmm.New(nil)
	p.SetMapper(arena)
	err = p.Init(testRAMBase+16*format.PageSize,
		[]pmm.RegionDesc{{Base: testRAMBase, Size: ramPages * format.PageSize}},
		pmm.BootLayout{KernelStart: testRAMBase})
	require.NoError(t, err)

	r := New(p, arena, cfg)
	require.NoError(t, r.Init())
	return r, p, arena
}

// trackerSpy records slab lifecycle events.
type trackerSpy struct {
	tracked   []*Slab
	untracked []*Slab
}

func (ts *trackerSpy) TrackSlab(s *Slab)   { ts.tracked = append(ts.tracked, s) }
func (ts *trackerSpy) UntrackSlab(s *Slab) { ts.untracked = append(ts.untracked, s) }

func TestGeometrySearch(t *testing.T) {
	s := DefaultSizing

	// 448-byte objects: (4096-64)/(448+4) = 8 objects in a one-page slab.
	geo, ok := s.findGeometry(448, 8)
	require.True(t, ok)
	assert.Equal(t, uint64(1), geo.pages)
	assert.Equal(t, 8, geo.objects)

	// Tiny objects: (4096-64)/(8+4) = 336 per page.
	geo, ok = s.findGeometry(8, 8)
	require.True(t, ok)
	assert.Equal(t, uint64(1), geo.pages)
	assert.Equal(t, 336, geo.objects)

	// Huge objects fall through to the cap with a single object.
	geo, ok = s.findGeometry(MaxObjectSize, 8)
	require.True(t, ok)
	assert.Equal(t, uint64(16), geo.pages)
	assert.Equal(t, 1, geo.objects)

	// The object area respects alignment.
	geo, ok = s.findGeometry(512, 256)
	require.True(t, ok)
	assert.Zero(t, geo.objectBase%256)
}

func TestCacheCreateValidation(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1024, nil)

	_, err := r.CacheCreate("zero", 0, 8, 0)
	assert.ErrorIs(t, err, ErrBadObjectSize)

	_, err = r.CacheCreate("huge", MaxObjectSize+1, 8, 0)
	assert.ErrorIs(t, err, ErrBadObjectSize)

	_, err = r.CacheCreate("align", 64, 12, 0)
	assert.ErrorIs(t, err, ErrBadAlignment)

	// Object size rounds up to max(align, 8).
	c, err := r.CacheCreate("round-a", 13, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), c.ObjectSize())

	c, err = r.CacheCreate("round-b", 3, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), c.ObjectSize())
}

func TestNinthAllocGrowsSecondSlab(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1024, nil)

	c, err := r.CacheCreate("t", 448, 8, 0)
	require.NoError(t, err)
	require.Equal(t, 8, c.ObjectsPerSlab())

	for i := 0; i < 8; i++ {
		require.NotEqual(t, mem.PhysAddr(0), c.Alloc(0), "alloc %d", i)
	}
	assert.Equal(t, 1, c.Stats().TotalSlabs)

	// The 9th allocation must create a second slab.
	require.NotEqual(t, mem.PhysAddr(0), c.Alloc(0))
	st := c.Stats()
	assert.Equal(t, 2, st.TotalSlabs)
	assert.Equal(t, uint64(9), st.Allocs)
	assert.Equal(t, uint64(9), st.ActiveObjs)
}

func TestStatsAccounting(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1024, nil)
	c, err := r.CacheCreate("acct", 64, 8, 0)
	require.NoError(t, err)

	const n, m = 23, 17
	objs := make([]mem.PhysAddr, 0, n)
	for j := 0; j < n; j++ {
		obj := c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), obj)
		objs = append(objs, obj)
	}
	for i := 0; i < m; i++ {
		require.NoError(t, c.Free(objs[i]))
	}

	st := c.Stats()
	assert.Equal(t, uint64(n), st.Allocs)
	assert.Equal(t, uint64(m), st.Frees)
	assert.Equal(t, uint64(n-m), st.ActiveObjs)
}

func TestAllocZeroesObject(t *testing.T) {
	r, _, arena := newTestRegistry(t, 1024, nil)
	c, err := r.CacheCreate("zeroed", 128, 8, 0)
	require.NoError(t, err)

	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	v := arena.Map(obj, int(c.ObjectSize()))
	require.NotNil(t, v)
	for i := range v {
		v[i] = 0xCC
	}
	require.NoError(t, c.Free(obj))

	// Same object comes back; FlagZero must clear the stale bytes.
	again := c.Alloc(mem.FlagZero)
	assert.Equal(t, obj, again)
	for i := range v {
		require.Equal(t, byte(0), v[i], "byte %d not zeroed", i)
	}
}

func TestListTransitionsAndReap(t *testing.T) {
	r, p, _ := newTestRegistry(t, 1024, nil)
	c, err := r.CacheCreate("lists", 448, 8, 0)
	require.NoError(t, err)
	n := c.ObjectsPerSlab()

	// Fill exactly one slab: it must end up full.
	objs := make([]mem.PhysAddr, n)
	for i := range objs {
		objs[i] = c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), objs[i])
	}
	assert.Equal(t, 1, c.nFull)
	assert.Equal(t, 0, c.nPartial)

	// One free: full -> partial.
	require.NoError(t, c.Free(objs[0]))
	assert.Equal(t, 0, c.nFull)
	assert.Equal(t, 1, c.nPartial)

	// Free the rest: partial -> empty, retained as the warm reserve.
	for _, obj := range objs[1:] {
		require.NoError(t, c.Free(obj))
	}
	assert.Equal(t, 1, c.nEmpty)
	assert.Equal(t, 1, c.Stats().TotalSlabs)

	// Fill two slabs, then empty both: the second empty slab is reaped and
	// its pages go back to pmm.
	free0 := p.Stats().FreePages
	objs2 := make([]mem.PhysAddr, 2*n)
	for i := range objs2 {
		objs2[i] = c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), objs2[i])
	}
	for _, obj := range objs2 {
		require.NoError(t, c.Free(obj))
	}
	assert.Equal(t, 1, c.nEmpty, "only the reserve empty slab survives")
	assert.Equal(t, free0, p.Stats().FreePages, "reaped slab pages returned")
}

func TestNoReapKeepsEmptySlabs(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1024, nil)
	c, err := r.CacheCreate("noreap", 448, 8, mem.CacheNoReap)
	require.NoError(t, err)
	n := c.ObjectsPerSlab()

	objs := make([]mem.PhysAddr, 2*n)
	for i := range objs {
		objs[i] = c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), objs[i])
	}
	for _, obj := range objs {
		require.NoError(t, c.Free(obj))
	}
	assert.Equal(t, 2, c.nEmpty)
	assert.Equal(t, 2, c.Stats().TotalSlabs)
}

func TestFreeNotOwned(t *testing.T) {
	t.Run("tolerate", func(t *testing.T) {
		r, _, _ := newTestRegistry(t, 1024, nil)
		c, err := r.CacheCreate("tol", 64, 8, 0)
		require.NoError(t, err)
		obj := c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), obj)

		before := c.Stats()
		assert.NoError(t, c.Free(0xDEAD_0000))
		assert.Equal(t, before, c.Stats())
	})

	t.Run("report", func(t *testing.T) {
		r, _, _ := newTestRegistry(t, 1024, &Config{Policy: mem.PolicyReport})
		c, err := r.CacheCreate("rep", 64, 8, 0)
		require.NoError(t, err)
		_ = c.Alloc(0)
		assert.ErrorIs(t, c.Free(0xDEAD_0000), mem.ErrNotOwned)
	})
}

func TestFreeDoubleFree(t *testing.T) {
	t.Run("report with live sibling", func(t *testing.T) {
		r, _, _ := newTestRegistry(t, 1024, &Config{Policy: mem.PolicyReport})
		c, err := r.CacheCreate("rep", 64, 8, 0)
		require.NoError(t, err)

		obj := c.Alloc(0)
		sibling := c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), obj)
		require.NotEqual(t, mem.PhysAddr(0), sibling)
		require.NoError(t, c.Free(obj))

		// The second free must be rejected without touching counters or
		// lists: the slab still holds the sibling and must stay reachable.
		before := c.Stats()
		assert.ErrorIs(t, c.Free(obj), mem.ErrAlreadyFree)
		assert.Equal(t, before, c.Stats())
		assert.Equal(t, uint64(1), c.Stats().ActiveObjs)
		assert.NotNil(t, c.partial, "slab with a live object stays partial")

		// The sibling is still live and freeable exactly once.
		require.NoError(t, c.Free(sibling))
		assert.ErrorIs(t, c.Free(sibling), mem.ErrAlreadyFree)
	})

	t.Run("report after slab emptied", func(t *testing.T) {
		r, _, _ := newTestRegistry(t, 1024, &Config{Policy: mem.PolicyReport})
		c, err := r.CacheCreate("rep", 64, 8, 0)
		require.NoError(t, err)

		obj := c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), obj)
		require.NoError(t, c.Free(obj))

		// The slab is on the empty list now; a stale free into it is still
		// a double free, not a foreign address.
		assert.ErrorIs(t, c.Free(obj), mem.ErrAlreadyFree)
	})

	t.Run("tolerate", func(t *testing.T) {
		r, _, _ := newTestRegistry(t, 1024, nil)
		c, err := r.CacheCreate("tol", 64, 8, 0)
		require.NoError(t, err)

		obj := c.Alloc(0)
		sibling := c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), sibling)
		require.NoError(t, c.Free(obj))

		before := c.Stats()
		assert.NoError(t, c.Free(obj))
		assert.Equal(t, before, c.Stats())
		assert.Equal(t, uint64(1), c.Stats().ActiveObjs)
	})
}

func TestCacheDestroy(t *testing.T) {
	r, p, _ := newTestRegistry(t, 1024, nil)
	free0 := p.Stats().FreePages

	c, err := r.CacheCreate("doomed", 448, 8, 0)
	require.NoError(t, err)
	for n := 0; n < 20; n++ {
		require.NotEqual(t, mem.PhysAddr(0), c.Alloc(0))
	}
	require.Len(t, r.Caches(), 1)

	require.NoError(t, r.CacheDestroy(c))
	assert.Empty(t, r.Caches())
	assert.Equal(t, free0, p.Stats().FreePages, "all slab pages returned")
	assert.ErrorIs(t, r.CacheDestroy(c), ErrCacheDestroyed)
	assert.Equal(t, mem.PhysAddr(0), c.Alloc(0))
}

func TestTrackerEvents(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1024, nil)
	spy := &trackerSpy{}
	r.SetTracker(spy)

	c, err := r.CacheCreate("tracked", 448, 8, 0)
	require.NoError(t, err)
	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	require.Len(t, spy.tracked, 1)
	assert.Equal(t, c, spy.tracked[0].Cache())

	require.NoError(t, r.CacheDestroy(c))
	assert.Len(t, spy.untracked, 1)

	// CacheNoTrack caches never reach the tracker.
	nt, err := r.CacheCreate("infra", 64, 8, mem.CacheNoTrack)
	require.NoError(t, err)
	require.NotEqual(t, mem.PhysAddr(0), nt.Alloc(0))
	assert.Len(t, spy.tracked, 1)
}

func TestExhaustedPMMFailsAlloc(t *testing.T) {
	r, p, _ := newTestRegistry(t, 64, nil)
	c, err := r.CacheCreate("starved", 448, 8, 0)
	require.NoError(t, err)

	for p.AllocPage() != 0 {
	}
	assert.Equal(t, mem.PhysAddr(0), c.Alloc(0))
}
