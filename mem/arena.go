package mem

import (
	"fmt"

	"github.com/joshuapare/memkit/internal/format"
)

// ArenaMapper simulates a machine's physical RAM with an ordinary heap
// allocation. It implements Mapper over a single contiguous region whose
// physical base address is chosen by the caller, so tests can model RAM
// that does not start at address zero (as on most ARM64/RISC-V boards).
type ArenaMapper struct {
	base PhysAddr
	data []byte
}

// NewArena creates an arena of size bytes of simulated RAM starting at base.
// Both base and size must be page-aligned.
func NewArena(base PhysAddr, size uint64) (*ArenaMapper, error) {
	if !format.IsPageAligned(uint64(base)) || !format.IsPageAligned(size) {
		return nil, fmt.Errorf("mem: arena base %#x / size %#x not page-aligned: %w", base, size, ErrBadAlign)
	}
	if size == 0 {
		return nil, fmt.Errorf("mem: zero-size arena: %w", ErrBadAlign)
	}
	return &ArenaMapper{base: base, data: make([]byte, size)}, nil
}

// Base returns the physical address of the first byte of the arena.
func (a *ArenaMapper) Base() PhysAddr { return a.base }

// Size returns the arena size in bytes.
func (a *ArenaMapper) Size() uint64 { return uint64(len(a.data)) }

// Map returns a writable view of [addr, addr+n), or nil if any part of the
// range falls outside the arena.
func (a *ArenaMapper) Map(addr PhysAddr, n int) []byte {
	if n <= 0 || addr < a.base {
		return nil
	}
	off := uint64(addr - a.base)
	if off+uint64(n) > uint64(len(a.data)) {
		return nil
	}
	return a.data[off : off+uint64(n)]
}
