package pmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
)

// Simulated machine used across the pmm tests: a single RAM bank with the
// kernel image at its base, boot page tables and a relocated device tree
// above it, and a console MMIO window outside RAM entirely.
const (
	testRAMBase = mem.PhysAddr(0x4000_0000)

	testKernelPages    = 16
	testPageTablePages = 4
	testDTBPages       = 2

	testMMIOBase = mem.PhysAddr(0x0900_0000)
)

// testLayout builds the BootLayout for a machine whose RAM starts at
// testRAMBase.
func testLayout() BootLayout {
	return BootLayout{
		KernelStart: testRAMBase,
		BootPageTables: RegionDesc{
			Base: testRAMBase + 32*format.PageSize,
			Size: testPageTablePages * format.PageSize,
		},
		DeviceTree: RegionDesc{
			Base: testRAMBase + 64*format.PageSize,
			Size: testDTBPages * format.PageSize,
		},
		ConsoleMMIO: RegionDesc{
			Base: testMMIOBase,
			Size: format.PageSize,
		},
	}
}

// newTestAllocator boots an allocator over a single region of ramPages
// pages, backed by an ArenaMapper so page zeroing is observable.
func newTestAllocator(t testing.TB, ramPages uint64, cfg *Config) (*Allocator, *mem.ArenaMapper) {
	t.Helper()

	arena, err := mem.NewArena(testRAMBase, ramPages*format.PageSize)
	require.NoError(t, err)

	a := New(cfg)
	a.SetMapper(arena)

	kernelEnd := testRAMBase + testKernelPages*format.PageSize
	err = a.Init(kernelEnd, []RegionDesc{{Base: testRAMBase, Size: ramPages * format.PageSize}}, testLayout())
	require.NoError(t, err)
	require.True(t, a.Initialized())

	return a, arena
}
