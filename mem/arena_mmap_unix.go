//go:build unix

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/memkit/internal/format"
)

// MmapArena simulates physical RAM with an anonymous memory mapping instead
// of a heap allocation. For multi-gigabyte simulations this keeps untouched
// pages out of the process RSS, since the kernel only materializes pages the
// workload actually writes.
type MmapArena struct {
	base PhysAddr
	data []byte
}

// NewMmapArena creates an mmap-backed arena of size bytes starting at the
// given simulated physical base. Both base and size must be page-aligned.
// The caller must Close the arena to release the mapping.
func NewMmapArena(base PhysAddr, size uint64) (*MmapArena, error) {
	if !format.IsPageAligned(uint64(base)) || !format.IsPageAligned(size) {
		return nil, fmt.Errorf("mem: mmap arena base %#x / size %#x not page-aligned: %w", base, size, ErrBadAlign)
	}
	if size == 0 {
		return nil, fmt.Errorf("mem: zero-size mmap arena: %w", ErrBadAlign)
	}
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap arena: %w", err)
	}
	return &MmapArena{base: base, data: data}, nil
}

// Base returns the physical address of the first byte of the arena.
func (a *MmapArena) Base() PhysAddr { return a.base }

// Size returns the arena size in bytes.
func (a *MmapArena) Size() uint64 { return uint64(len(a.data)) }

// Map returns a writable view of [addr, addr+n), or nil if any part of the
// range falls outside the arena.
func (a *MmapArena) Map(addr PhysAddr, n int) []byte {
	if n <= 0 || addr < a.base || a.data == nil {
		return nil
	}
	off := uint64(addr - a.base)
	if off+uint64(n) > uint64(len(a.data)) {
		return nil
	}
	return a.data[off : off+uint64(n)]
}

// Close releases the mapping. Calling Close twice is a no-op.
func (a *MmapArena) Close() error {
	if a.data == nil {
		return nil
	}
	data := a.data
	a.data = nil
	return unix.Munmap(data)
}
