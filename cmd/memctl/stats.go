package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/memkit/mem/buddy"
	"github.com/joshuapare/memkit/mem/lookup"
	"github.com/joshuapare/memkit/mem/pmm"
	"github.com/joshuapare/memkit/mem/slab"
)

var (
	statsPages uint64
	statsOps   int
	statsSeed  int64
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().Uint64Var(&statsPages, "pages", 4096, "RAM arena size in pages")
	cmd.Flags().IntVar(&statsOps, "ops", 10000, "Number of random operations")
	cmd.Flags().Int64Var(&statsSeed, "seed", 1, "Workload random seed")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show detailed per-allocator statistics after a workload",
		Long: `The stats command runs the same randomized workload as simulate
and then dumps every allocator's counters: pmm page accounting, buddy
split/coalesce/growth activity, per-cache slab occupancy, and the reverse
index's load and collision figures.

Example:
  memctl stats
  memctl stats --ops 100000 --seed 7
  memctl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsCmd()
		},
	}
}

type stackStats struct {
	PMM    pmm.Stats
	Buddy  buddy.Stats
	Caches map[string]slab.CacheStats
	Lookup lookup.Stats
}

func runStatsCmd() error {
	st, err := buildStack(statsPages)
	if err != nil {
		return err
	}
	if _, err := runWorkload(st, statsOps, statsSeed); err != nil {
		return fmt.Errorf("workload failed: %w", err)
	}

	all := stackStats{
		PMM:    st.pmm.Stats(),
		Buddy:  st.bud.Stats(),
		Caches: map[string]slab.CacheStats{},
		Lookup: st.idx.Stats(),
	}
	for _, c := range st.reg.Caches() {
		all.Caches[c.Name()] = c.Stats()
	}

	if jsonOut {
		return printJSON(all)
	}

	p := message.NewPrinter(language.English)

	printInfo("\nPhysical frames:\n")
	printInfo("  Total:      %s pages\n", p.Sprintf("%d", all.PMM.TotalPages))
	printInfo("  Free:       %s pages\n", p.Sprintf("%d", all.PMM.FreePages))
	printInfo("  Allocated:  %s pages\n", p.Sprintf("%d", all.PMM.AllocatedPages))
	printInfo("  Reserved:   %s pages\n", p.Sprintf("%d", all.PMM.ReservedPages))

	printInfo("\nBuddy:\n")
	printInfo("  Allocs:     %s\n", p.Sprintf("%d", all.Buddy.AllocCalls))
	printInfo("  Frees:      %s\n", p.Sprintf("%d", all.Buddy.FreeCalls))
	printInfo("  Splits:     %s\n", p.Sprintf("%d", all.Buddy.Splits))
	printInfo("  Coalesces:  %s\n", p.Sprintf("%d", all.Buddy.Coalesces))
	printInfo("  Grows:      %s\n", p.Sprintf("%d", all.Buddy.Grows))
	printInfo("  Releases:   %s\n", p.Sprintf("%d", all.Buddy.ChunkReleases))
	printInfo("  Chunks:     %d (%s pages)\n", all.Buddy.Chunks, p.Sprintf("%d", all.Buddy.PagesOwned))

	printInfo("\nSlab caches:\n")
	for name, cs := range all.Caches {
		printInfo("  %s: %s allocs, %s frees, %s/%s objects live, %d slabs\n",
			name,
			p.Sprintf("%d", cs.Allocs), p.Sprintf("%d", cs.Frees),
			p.Sprintf("%d", cs.ActiveObjs), p.Sprintf("%d", cs.TotalObjs),
			cs.TotalSlabs)
	}

	printInfo("\nReverse index:\n")
	printInfo("  Entries:    %s in %d buckets\n", p.Sprintf("%d", all.Lookup.Entries), all.Lookup.Buckets)
	printInfo("  Finds:      %s (%s hits)\n", p.Sprintf("%d", all.Lookup.Finds), p.Sprintf("%d", all.Lookup.Hits))
	printInfo("  Inserts:    %s\n", p.Sprintf("%d", all.Lookup.Inserts))
	printInfo("  Removes:    %s\n", p.Sprintf("%d", all.Lookup.Removes))
	printInfo("  Collisions: %s\n", p.Sprintf("%d", all.Lookup.Collisions))
	printInfo("  Resizes:    %s\n", p.Sprintf("%d", all.Lookup.Resizes))
	if all.Lookup.Degraded {
		printInfo("  Degraded:   yes\n")
	}
	return nil
}
