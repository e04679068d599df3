package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/internal/format"
	"github.com/joshuapare/memkit/mem/buddy"
	"github.com/joshuapare/memkit/mem/pmm"
	"github.com/joshuapare/memkit/mem/slab"
)

var infoPages uint64

func init() {
	cmd := newInfoCmd()
	cmd.Flags().Uint64Var(&infoPages, "pages", 4096, "RAM arena size in pages")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Boot a simulated memory map and report the stack's geometry",
		Long: `The info command brings up the allocator stack over a synthetic
RAM arena and prints the resulting memory map along with the geometry the
allocators are built around: page size, buddy order range and growth
tiers, and slab sizing parameters.

Example:
  memctl info
  memctl info --pages 16384
  memctl info --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfoCmd()
		},
	}
}

type infoReport struct {
	PageSize  uint64
	PageShift uint64

	MemoryStart uint64
	MemoryEnd   uint64
	PMM         pmm.Stats

	BuddyMaxOrder     int
	BuddyMaxBlock     uint64
	BuddyChunkTiers   []uint64
	BuddyGrowthOrders []int

	SlabMinObjects   int
	SlabMaxSlabPages uint64
	SlabMaxObject    uint64
}

func runInfoCmd() error {
	printVerbose("Building stack over %d pages\n", infoPages)
	st, err := buildStack(infoPages)
	if err != nil {
		return err
	}

	bc := buddy.ConfigDefault
	sc := slab.DefaultSizing

	rep := infoReport{
		PageSize:  format.PageSize,
		PageShift: format.PageShift,

		MemoryStart: uint64(st.pmm.MemoryStart()),
		MemoryEnd:   uint64(st.pmm.MemoryEnd()),
		PMM:         st.pmm.Stats(),

		BuddyMaxOrder:     bc.MaxOrder,
		BuddyMaxBlock:     format.OrderBytes(bc.MaxOrder - 1),
		BuddyChunkTiers:   []uint64{bc.MinChunkPages, bc.MediumChunkPages},
		BuddyGrowthOrders: []int{bc.MediumOrderMin, bc.LargeOrderMin},

		SlabMinObjects:   sc.MinObjects,
		SlabMaxSlabPages: sc.MaxSlabPages,
		SlabMaxObject:    slab.MaxObjectSize,
	}

	if jsonOut {
		return printJSON(rep)
	}

	printInfo("\nMemory map:\n")
	printInfo("  RAM:         %#x - %#x\n", rep.MemoryStart, rep.MemoryEnd)
	printInfo("  Total:       %d pages\n", rep.PMM.TotalPages)
	printInfo("  Reserved:    %d pages (kernel image, bitmap arena)\n", rep.PMM.ReservedPages)
	printInfo("  Free:        %d pages\n", rep.PMM.FreePages)

	printInfo("\nPage geometry:\n")
	printInfo("  Page size:   %d bytes (shift %d)\n", rep.PageSize, rep.PageShift)

	printInfo("\nBuddy allocator:\n")
	printInfo("  Orders:      0..%d (largest block %d KiB)\n", rep.BuddyMaxOrder-1, rep.BuddyMaxBlock/1024)
	printInfo("  Growth:      %d pages below order %d, %d pages below order %d, sized-to-fit above\n",
		rep.BuddyChunkTiers[0], rep.BuddyGrowthOrders[0],
		rep.BuddyChunkTiers[1], rep.BuddyGrowthOrders[1])

	printInfo("\nSlab allocator:\n")
	printInfo("  Min objects per slab:  %d\n", rep.SlabMinObjects)
	printInfo("  Max slab size:         %d pages\n", rep.SlabMaxSlabPages)
	printInfo("  Max object size:       %d KiB\n", rep.SlabMaxObject/1024)

	printInfo("\nReverse index:\n")
	printInfo("  Bootstrap buckets:     64\n")
	printInfo("  Growth threshold:      75%% load\n")
	return nil
}
