package main

import (
	"testing"
)

func TestWorkloadConservation(t *testing.T) {
	tests := []struct {
		name  string
		pages uint64
		ops   int
		seed  int64
	}{
		{name: "small arena short run", pages: 1024, ops: 500, seed: 1},
		{name: "default arena", pages: 4096, ops: 5000, seed: 42},
		{name: "churn heavy", pages: 4096, ops: 20000, seed: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := buildStack(tt.pages)
			if err != nil {
				t.Fatalf("buildStack: %v", err)
			}
			res, err := runWorkload(st, tt.ops, tt.seed)
			if err != nil {
				t.Fatalf("runWorkload: %v", err)
			}
			if res.LeakedPages != 0 {
				t.Errorf("leaked %d pages (base %d, final %d, buddy %d, index %d)",
					res.LeakedPages, res.BaseFree, res.FinalFree,
					res.BuddyResident, res.IndexResident)
			}
			if res.LookupMiss != 0 {
				t.Errorf("reverse lookup missed %d of %d live objects", res.LookupMiss, res.Lookups)
			}
			if res.SlabAllocs != res.SlabFrees {
				t.Errorf("slab alloc/free imbalance after teardown: %d vs %d", res.SlabAllocs, res.SlabFrees)
			}
			if res.BuddyAllocs != res.BuddyFrees {
				t.Errorf("buddy alloc/free imbalance after teardown: %d vs %d", res.BuddyAllocs, res.BuddyFrees)
			}
		})
	}
}
