package buddy

import (
	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem"
)

// Config carries the allocator's tunables. The chunk-growth tiers are
// configuration rather than hard-coded branches so they stay independently
// testable.
type Config struct {
	// Name identifies this configuration in diagnostics.
	Name string

	// MaxOrder is the first order that bypasses the buddy machinery and
	// goes straight to pmm. Block orders run 0..MaxOrder-1.
	MaxOrder int

	// MinChunkPages is the chunk size (header page included) requested for
	// small-order growth, and the fallback size when a larger heuristic
	// request cannot be satisfied.
	MinChunkPages uint64

	// MediumChunkPages is the chunk size requested for mid-order growth.
	MediumChunkPages uint64

	// MediumOrderMin is the first order that uses the medium tier.
	MediumOrderMin int

	// LargeOrderMin is the first order that sizes its chunk from the exact
	// need instead of a fixed tier.
	LargeOrderMin int

	// MinChunks is the number of chunks retained even when fully free.
	MinChunks int

	// Prewarm grows one minimum-size chunk during Init so the first
	// allocation does not pay the growth cost.
	Prewarm bool

	// Policy selects how misuse (bad or double free) is handled.
	Policy mem.Policy
}

// Predefined configurations.
var (
	// ConfigDefault matches the boot-time kernel tuning: 4KB..8MB blocks,
	// 256KB minimum chunks, 2MB medium chunks.
	ConfigDefault = Config{
		Name:             "Default",
		MaxOrder:         12,
		MinChunkPages:    64,
		MediumChunkPages: 512,
		MediumOrderMin:   4,
		LargeOrderMin:    8,
		MinChunks:        1,
	}

	// ConfigCompact trades growth frequency for footprint: small chunks,
	// eager shrink-back. Useful for memory-constrained simulations.
	ConfigCompact = Config{
		Name:             "Compact",
		MaxOrder:         10,
		MinChunkPages:    32,
		MediumChunkPages: 128,
		MediumOrderMin:   3,
		LargeOrderMin:    6,
		MinChunks:        0,
	}
)

// normalize fills zero values from ConfigDefault.
func (c Config) normalize() Config {
	d := ConfigDefault
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxOrder <= 0 {
		c.MaxOrder = d.MaxOrder
	}
	if c.MinChunkPages == 0 {
		c.MinChunkPages = d.MinChunkPages
	}
	if c.MediumChunkPages == 0 {
		c.MediumChunkPages = d.MediumChunkPages
	}
	if c.MediumOrderMin == 0 {
		c.MediumOrderMin = d.MediumOrderMin
	}
	if c.LargeOrderMin == 0 {
		c.LargeOrderMin = d.LargeOrderMin
	}
	return c
}

// chunkPagesFor applies the three-tier growth heuristic for a request of
// the given order. The large tier asks for twice the block size: the extra
// pages cover the header page and guarantee that a self-aligned block of
// the requested order exists somewhere in the carved span regardless of
// where pmm places the chunk.
func (c Config) chunkPagesFor(order int) uint64 {
	switch {
	case order < c.MediumOrderMin:
		return c.MinChunkPages
	case order < c.LargeOrderMin:
		return c.MediumChunkPages
	default:
		return 2 * format.OrderPages(order)
	}
}
