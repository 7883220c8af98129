package instances

import (
	"math"

	"github.com/eventide-games/seasonal/seasonal/world"
)

// GridArity returns the per-axis cell count needed to fit maxInstances
// footprints in the event area.
func GridArity(maxInstances int) int {
	if maxInstances <= 1 {
		return 1
	}
	return int(math.Ceil(math.Sqrt(float64(maxInstances))))
}

// Allocator hands out non-overlapping instance footprints inside the
// configured event area. The occupied set is a sound over-approximation of
// live footprints: ranges are reserved before anything registers and only
// released through instance teardown, so two instances can never share
// ground.
//
// Owned exclusively by the Instance Manager; main-loop access only.
type Allocator struct {
	area       world.Region
	baseHeight int
	ranges     map[world.Coordinate]world.Region
}

func NewAllocator(area world.Region, baseHeight int) *Allocator {
	return &Allocator{
		area:       area,
		baseHeight: baseHeight,
		ranges:     make(map[world.Coordinate]world.Region),
	}
}

// FindFreeSlot divides the area into gridArity x gridArity cells, scans them
// in row-major order, and returns the first cell center not contained in any
// occupied range.
func (a *Allocator) FindFreeSlot(gridArity int) (world.Coordinate, bool) {
	if gridArity < 1 {
		gridArity = 1
	}
	cellWidth := a.area.Width() / gridArity
	cellDepth := a.area.Depth() / gridArity
	if cellWidth == 0 || cellDepth == 0 {
		return world.Coordinate{}, false
	}

	for row := 0; row < gridArity; row++ {
		for col := 0; col < gridArity; col++ {
			probe := world.Coordinate{
				X: a.area.MinX + col*cellWidth + cellWidth/2,
				Y: a.baseHeight,
				Z: a.area.MinZ + row*cellDepth + cellDepth/2,
			}
			if !a.occupied(probe) {
				return probe, true
			}
		}
	}
	return world.Coordinate{}, false
}

func (a *Allocator) occupied(c world.Coordinate) bool {
	for _, r := range a.ranges {
		if r.Contains(c) {
			return true
		}
	}
	return false
}

// Reserve records origin's footprint, expanded by spacing on the positive
// axes. Size must be the measured placed size, not the configured nominal
// one, so the reservation never under-covers real content.
func (a *Allocator) Reserve(origin world.Coordinate, size world.Size, spacing int) {
	a.ranges[origin] = world.Region{
		MinX: origin.X,
		MinZ: origin.Z,
		MaxX: origin.X + size.Width + spacing,
		MaxZ: origin.Z + size.Depth + spacing,
	}
}

// ReserveRange records an explicit range for origin, expanded by spacing on
// the positive axes. Used when the measured bounds do not start at the
// origin itself.
func (a *Allocator) ReserveRange(origin world.Coordinate, r world.Region, spacing int) {
	a.ranges[origin] = world.Region{
		MinX: r.MinX,
		MinZ: r.MinZ,
		MaxX: r.MaxX + spacing,
		MaxZ: r.MaxZ + spacing,
	}
}

// Release removes the range reserved at exactly this origin.
func (a *Allocator) Release(origin world.Coordinate) {
	delete(a.ranges, origin)
}

// Count returns the number of occupied ranges, provisional holds included.
func (a *Allocator) Count() int {
	return len(a.ranges)
}

// RangeAt returns the reserved range for an origin, if any.
func (a *Allocator) RangeAt(origin world.Coordinate) (world.Region, bool) {
	r, ok := a.ranges[origin]
	return r, ok
}
