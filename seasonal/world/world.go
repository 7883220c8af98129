package world

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// Coordinate is a block position in the host world.
type Coordinate struct {
	X int
	Y int
	Z int
}

// Region is an axis-aligned rectangle on the XZ plane. Min is inclusive,
// Max is exclusive.
type Region struct {
	MinX int
	MinZ int
	MaxX int
	MaxZ int
}

func (r Region) Contains(c Coordinate) bool {
	return c.X >= r.MinX && c.X < r.MaxX && c.Z >= r.MinZ && c.Z < r.MaxZ
}

func (r Region) Overlaps(o Region) bool {
	return r.MinX < o.MaxX && o.MinX < r.MaxX && r.MinZ < o.MaxZ && o.MinZ < r.MaxZ
}

func (r Region) Width() int {
	return r.MaxX - r.MinX
}

func (r Region) Depth() int {
	return r.MaxZ - r.MinZ
}

// MarkerCategory classifies sentinel blocks reported back by the placement
// collaborator after a paste.
type MarkerCategory string

const (
	MarkerNormalSpawn MarkerCategory = "normal_spawn"
	MarkerMiniBoss    MarkerCategory = "mini_boss"
	MarkerFinalBoss   MarkerCategory = "final_boss"
	MarkerPlayerSpawn MarkerCategory = "player_spawn"
)

// MarkerSet holds scanned marker coordinates keyed by category. Coordinates
// are absolute world positions, already shifted by the applied paste offset.
type MarkerSet map[MarkerCategory][]Coordinate

// Size is the measured footprint of placed content on the XZ plane.
type Size struct {
	Width int
	Depth int
}

// PasteResult is what the placement collaborator reports after materializing
// content. The engine never inspects the content format itself.
type PasteResult struct {
	AppliedOffset Coordinate
	RegionSize    Size
	Markers       MarkerSet
}

// EntityID is an opaque handle to a spawned entity in the host world.
type EntityID string

// Role identifies what a tracked entity is within an instance run.
type Role string

const (
	RoleTrash     Role = "trash"
	RoleMiniBoss  Role = "mini_boss"
	RoleFinalBoss Role = "final_boss"
)

// Tag is attached to entities at spawn time so that kill and spawn
// notifications can be resolved back to an instance and role without any
// reverse index. Notifications are never correlated by call order.
type Tag struct {
	InstanceID snowflake.ID
	Role       Role
}

// Placer materializes scripted content in the world and scans its markers.
type Placer interface {
	Place(ctx context.Context, contentID string, origin Coordinate) (*PasteResult, error)
	Clear(ctx context.Context, region Region) error
}

// Spawner materializes mobs. Spawn is fire and forget: no handle is returned
// synchronously. The host calls the spawn-notification callback (see
// instances.Manager.OnEntitySpawned) once the entity exists, carrying back
// the tag given here.
type Spawner interface {
	Spawn(mobTypeID string, at Coordinate, tag Tag)
	Despawn(id EntityID)
}

// Teleporter moves players. Must only be called from the main loop.
type Teleporter interface {
	Teleport(playerID string, to Coordinate)
}

// Messenger delivers informational notices to players, such as instance
// expiry reminders.
type Messenger interface {
	Notify(playerID string, message string)
}
