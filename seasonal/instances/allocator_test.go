package instances

import (
	"testing"

	"github.com/eventide-games/seasonal/seasonal/world"
)

func TestGridArity(t *testing.T) {
	tests := []struct {
		maxInstances int
		want         int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{4, 2},
		{5, 3},
		{9, 3},
		{10, 4},
	}
	for _, tt := range tests {
		if got := GridArity(tt.maxInstances); got != tt.want {
			t.Errorf("GridArity(%d) = %d, want %d", tt.maxInstances, got, tt.want)
		}
	}
}

func TestAllocatorFillsGrid(t *testing.T) {
	area := world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000}
	alloc := NewAllocator(area, 64)
	footprint := world.Size{Width: 100, Depth: 100}
	arity := GridArity(4)

	var origins []world.Coordinate
	for i := 0; i < 4; i++ {
		origin, ok := alloc.FindFreeSlot(arity)
		if !ok {
			t.Fatalf("slot %d: no free slot in an area with room for 4", i)
		}
		if !area.Contains(origin) {
			t.Fatalf("slot %d: origin %v outside area", i, origin)
		}
		if origin.Y != 64 {
			t.Errorf("slot %d: origin Y = %d, want base height 64", i, origin.Y)
		}
		alloc.Reserve(origin, footprint, 16)
		origins = append(origins, origin)
	}

	if _, ok := alloc.FindFreeSlot(arity); ok {
		t.Error("fifth slot found in a full 2x2 grid")
	}
	if alloc.Count() != 4 {
		t.Errorf("Count() = %d, want 4", alloc.Count())
	}

	for i := range origins {
		ri, _ := alloc.RangeAt(origins[i])
		for j := i + 1; j < len(origins); j++ {
			rj, _ := alloc.RangeAt(origins[j])
			if ri.Overlaps(rj) {
				t.Errorf("ranges %v and %v overlap", ri, rj)
			}
		}
	}
}

func TestAllocatorReleaseReuse(t *testing.T) {
	area := world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000}
	alloc := NewAllocator(area, 64)
	footprint := world.Size{Width: 100, Depth: 100}
	arity := GridArity(4)

	first, _ := alloc.FindFreeSlot(arity)
	alloc.Reserve(first, footprint, 16)

	second, _ := alloc.FindFreeSlot(arity)
	if second == first {
		t.Fatal("second slot should differ from the reserved first")
	}

	alloc.Release(first)
	if alloc.Count() != 0 {
		t.Fatalf("Count() after release = %d, want 0", alloc.Count())
	}

	reused, ok := alloc.FindFreeSlot(arity)
	if !ok || reused != first {
		t.Errorf("freed slot not reused: got %v, want %v", reused, first)
	}
}

func TestAllocatorSpacingExpandsRange(t *testing.T) {
	alloc := NewAllocator(world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000}, 64)
	origin := world.Coordinate{X: 100, Y: 64, Z: 200}

	alloc.Reserve(origin, world.Size{Width: 50, Depth: 60}, 10)

	r, ok := alloc.RangeAt(origin)
	if !ok {
		t.Fatal("no range recorded at origin")
	}
	want := world.Region{MinX: 100, MinZ: 200, MaxX: 160, MaxZ: 270}
	if r != want {
		t.Errorf("range = %v, want %v", r, want)
	}
}

func TestAllocatorReserveRange(t *testing.T) {
	alloc := NewAllocator(world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000}, 64)
	origin := world.Coordinate{X: 100, Y: 64, Z: 200}

	// Bounds starting before the origin stay covered.
	alloc.ReserveRange(origin, world.Region{MinX: 95, MinZ: 195, MaxX: 200, MaxZ: 300}, 10)

	r, ok := alloc.RangeAt(origin)
	if !ok {
		t.Fatal("no range recorded at origin")
	}
	want := world.Region{MinX: 95, MinZ: 195, MaxX: 210, MaxZ: 310}
	if r != want {
		t.Errorf("range = %v, want %v", r, want)
	}

	alloc.Release(origin)
	if alloc.Count() != 0 {
		t.Errorf("Count() after release = %d, want 0", alloc.Count())
	}
}

func TestAllocatorDegenerateArea(t *testing.T) {
	alloc := NewAllocator(world.Region{MinX: 0, MinZ: 0, MaxX: 2, MaxZ: 2}, 64)
	if _, ok := alloc.FindFreeSlot(10); ok {
		t.Error("found a slot in an area smaller than one grid cell")
	}
}
