package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
	"github.com/joshuapare/memkit/mem/buddy"
	"github.com/joshuapare/memkit/mem/pmm"
	"github.com/joshuapare/memkit/mem/slab"
)

const testRAMBase = mem.PhysAddr(0x4000_0000)

type testEnv struct {
	arena *mem.ArenaMapper
	pmm   *pmm.Allocator
	bud   *buddy.Allocator
	reg   *slab.Registry
	idx   *Index
}

func newTestEnv(t testing.TB, ramPages uint64) *testEnv {
	t.Helper()

	arena, err := mem.NewArena(testRAMBase, ramPages*format.PageSize)
	require.NoError(t, err)

	p := pmm.New(nil)
	p.SetMapper(arena)
	err = p.Init(testRAMBase+16*format.PageSize,
		[]pmm.RegionDesc{{Base: testRAMBase, Size: ramPages * format.PageSize}},
		pmm.BootLayout{KernelStart: testRAMBase})
	require.NoError(t, err)

	b := buddy.New(p, nil)
	require.NoError(t, b.Init())

	r := slab.New(p, arena, nil)
	require.NoError(t, r.Init())

	idx := New(p, b, nil)
	idx.SetMapper(arena)
	require.NoError(t, idx.Init())
	r.SetTracker(idx)

	return &testEnv{arena: arena, pmm: p, bud: b, reg: r, idx: idx}
}

// wideCache creates a cache whose slabs span eight pages (2048-byte
// objects, 15 per slab).
func wideCache(t testing.TB, r *slab.Registry) *slab.Cache {
	t.Helper()
	c, err := r.CacheCreate("wide", 2048, 8, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(8), c.SlabPages())
	return c
}

// hugeCache creates a cache whose slabs span sixteen pages with a single
// object each, the fastest way to pile entries into the index.
func hugeCache(t testing.TB, r *slab.Registry) *slab.Cache {
	t.Helper()
	c, err := r.CacheCreate("huge", 32<<10, 8, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(16), c.SlabPages())
	require.Equal(t, 1, c.ObjectsPerSlab())
	return c
}

func TestInitLifecycle(t *testing.T) {
	env := newTestEnv(t, 512)
	assert.True(t, env.idx.Initialized())
	assert.ErrorIs(t, env.idx.Init(), ErrInitialized)

	cold := New(pmm.New(nil), env.bud, nil)
	assert.ErrorIs(t, cold.Init(), ErrNotInitialized)
	assert.Nil(t, cold.Find(testRAMBase))
}

func TestFindCoversWholeSlab(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := wideCache(t, env.reg)

	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	require.Equal(t, uint64(8), env.idx.EntryCount())

	s := env.idx.Find(obj)
	require.NotNil(t, s)
	assert.Equal(t, c, s.Cache())

	// Every byte of the slab resolves, from the first byte of the first
	// page to the last byte of the last page.
	assert.Equal(t, s, env.idx.Find(s.Base()))
	last := s.Base() + mem.PhysAddr(s.SizeBytes()) - 1
	assert.Equal(t, s, env.idx.Find(last))

	// One past the end does not.
	assert.Nil(t, env.idx.Find(s.Base()+mem.PhysAddr(s.SizeBytes())))
}

func TestDestroyRemovesEntries(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := wideCache(t, env.reg)

	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	s := env.idx.Find(obj)
	require.NotNil(t, s)
	base := s.Base()

	require.NoError(t, env.reg.CacheDestroy(c))
	assert.Nil(t, env.idx.Find(base))
	assert.Zero(t, env.idx.EntryCount())
	assert.Equal(t, uint64(8), env.idx.Stats().Removes)
}

func TestBootstrapOverflowIsFatal(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := hugeCache(t, env.reg)

	var halted string
	env.idx.halt = func(msg string) { halted = msg }

	// 64 buckets at 75% load tolerate 48 entries. Three 16-page slabs fit
	// exactly; the fourth crosses the line on its first page.
	for n := 0; n < 3; n++ {
		require.NotEqual(t, mem.PhysAddr(0), c.Alloc(0))
	}
	require.Equal(t, uint64(48), env.idx.EntryCount())
	require.Empty(t, halted)

	require.NotEqual(t, mem.PhysAddr(0), c.Alloc(0))
	assert.NotEmpty(t, halted, "crossing the load limit before migration must halt")

	// The table must not have silently grown.
	st := env.idx.Stats()
	assert.Equal(t, 64, st.Buckets)
	assert.Zero(t, st.Resizes)
}

func TestMigrateToDynamic(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := wideCache(t, env.reg)

	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	s := env.idx.Find(obj)
	require.NotNil(t, s)
	require.NotEmpty(t, env.idx.bootPages)

	require.NoError(t, env.idx.MigrateToDynamic(env.reg))
	assert.ErrorIs(t, env.idx.MigrateToDynamic(env.reg), ErrMigrated)

	st := env.idx.Stats()
	assert.True(t, st.Dynamic)
	assert.Zero(t, st.BackingMisses)
	assert.Empty(t, env.idx.bootPages, "bootstrap arena pages returned")

	// Entries survive the migration intact.
	assert.Equal(t, s, env.idx.Find(s.Base()))
	assert.Equal(t, uint64(8), env.idx.EntryCount())

	// The entry cache itself must not appear in the index.
	for _, ec := range env.reg.Caches() {
		if ec.Name() == "lookup-entries" {
			st := ec.Stats()
			require.NotZero(t, st.TotalSlabs)
		}
	}
}

func TestDynamicResizeDoubles(t *testing.T) {
	env := newTestEnv(t, 2048)
	require.NoError(t, env.idx.MigrateToDynamic(env.reg))
	c := hugeCache(t, env.reg)

	objs := make([]mem.PhysAddr, 4)
	for i := range objs {
		objs[i] = c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), objs[i])
	}

	st := env.idx.Stats()
	assert.Equal(t, uint64(1), st.Resizes)
	assert.Equal(t, 128, st.Buckets)
	assert.Equal(t, uint64(64), st.Entries)
	assert.False(t, st.Degraded)

	// Every page of every slab still resolves after the rehash.
	for _, obj := range objs {
		s := env.idx.Find(obj)
		require.NotNil(t, s)
		for p := uint64(0); p < s.Pages(); p++ {
			pg := s.Base() + mem.PhysAddr(p<<format.PageShift)
			assert.Equal(t, s, env.idx.Find(pg))
		}
	}
}

func TestDegradedModeWidensThreshold(t *testing.T) {
	env := newTestEnv(t, 2048)
	require.NoError(t, env.idx.MigrateToDynamic(env.reg))

	env.idx.allocBuckets = func(uint64) mem.PhysAddr { return 0 }
	c := hugeCache(t, env.reg)

	objs := make([]mem.PhysAddr, 4)
	for i := range objs {
		objs[i] = c.Alloc(0)
		require.NotEqual(t, mem.PhysAddr(0), objs[i])
	}

	st := env.idx.Stats()
	assert.True(t, st.Degraded)
	assert.Zero(t, st.Resizes)
	assert.Equal(t, 64, st.Buckets)
	assert.Equal(t, uint64(64), st.Entries)
	assert.Equal(t, uint64(48*4), env.idx.threshold)

	// Inserts keep landing even while degraded.
	for _, obj := range objs {
		require.NotNil(t, env.idx.Find(obj))
	}
}

func TestBackingRecordsMirrorEntries(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := wideCache(t, env.reg)

	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)
	s := env.idx.Find(obj)
	require.NotNil(t, s)

	// Walk every bucket and check each entry's backing record against the
	// in-memory state, the way a dump analyzer would.
	seen := 0
	for _, head := range env.idx.buckets {
		for e := head; e != nil; e = e.next {
			require.NotEqual(t, mem.PhysAddr(0), e.backing)
			v := env.arena.Map(e.backing, entryBytes)
			require.NotNil(t, v)
			assert.Equal(t, uint32(recordMagic), buf.U32LE(v[recOffMagic:]))
			assert.Equal(t, uint32(s.Pages()), buf.U32LE(v[recOffPages:]))
			assert.Equal(t, uint64(e.key), buf.U64LE(v[recOffKey:]))
			assert.Equal(t, uint64(s.Base()), buf.U64LE(v[recOffSlab:]))
			seen++
		}
	}
	assert.Equal(t, 8, seen)

	// Records survive migration to cache-backed slots.
	require.NoError(t, env.idx.MigrateToDynamic(env.reg))
	for _, head := range env.idx.buckets {
		for e := head; e != nil; e = e.next {
			v := env.arena.Map(e.backing, entryBytes)
			require.NotNil(t, v)
			assert.Equal(t, uint32(recordMagic), buf.U32LE(v[recOffMagic:]))
		}
	}

	// Removal invalidates the record before the slot is reused.
	var backs []mem.PhysAddr
	for _, head := range env.idx.buckets {
		for e := head; e != nil; e = e.next {
			backs = append(backs, e.backing)
		}
	}
	require.NoError(t, env.reg.CacheDestroy(c))
	for _, back := range backs {
		v := env.arena.Map(back, entryBytes)
		require.NotNil(t, v)
		assert.Zero(t, buf.U32LE(v[recOffMagic:]))
	}
}

func TestFindCounters(t *testing.T) {
	env := newTestEnv(t, 1024)
	c := wideCache(t, env.reg)
	obj := c.Alloc(0)
	require.NotEqual(t, mem.PhysAddr(0), obj)

	require.NotNil(t, env.idx.Find(obj))
	require.Nil(t, env.idx.Find(0xDEAD_0000))

	st := env.idx.Stats()
	assert.Equal(t, uint64(2), st.Finds)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(8), st.Inserts)
	assert.NotZero(t, st.Buckets)
}
