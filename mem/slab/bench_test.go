package slab

import (
	"testing"

	"github.com/joshuapare/memkit/mem"
)

// Benchmark object churn at representative sizes
func BenchmarkAllocFree_64(b *testing.B) {
	benchmarkAllocFree(b, 64)
}

func BenchmarkAllocFree_448(b *testing.B) {
	benchmarkAllocFree(b, 448)
}

func BenchmarkAllocFree_2048(b *testing.B) {
	benchmarkAllocFree(b, 2048)
}

func benchmarkAllocFree(b *testing.B, size uint64) {
	r, _, _ := newTestRegistry(b, 4096, nil)
	c, err := r.CacheCreate("bench", size, 8, 0)
	if err != nil {
		b.Fatalf("cache create failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj := c.Alloc(0)
		if obj == 0 {
			b.Fatal("alloc returned 0")
		}
		if err := c.Free(obj); err != nil {
			b.Fatalf("free failed: %v", err)
		}
	}
}

// BenchmarkFreeScan measures the linear owner scan with many resident
// slabs, the cache's documented cost center.
func BenchmarkFreeScan(b *testing.B) {
	r, _, _ := newTestRegistry(b, 8192, nil)
	c, err := r.CacheCreate("scan", 448, 8, 0)
	if err != nil {
		b.Fatalf("cache create failed: %v", err)
	}

	// Populate enough objects to spread across dozens of slabs, then churn
	// the oldest one so every Free walks the full list.
	objs := make([]mem.PhysAddr, 0, 512)
	for n := 0; n < cap(objs); n++ {
		obj := c.Alloc(0)
		if obj == 0 {
			b.Fatal("alloc returned 0")
		}
		objs = append(objs, obj)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Free(objs[0]); err != nil {
			b.Fatalf("free failed: %v", err)
		}
		objs[0] = c.Alloc(0)
	}
}
