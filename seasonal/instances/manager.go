package instances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/sync/semaphore"

	"github.com/eventide-games/seasonal/seasonal/logger"
	"github.com/eventide-games/seasonal/seasonal/world"
)

var (
	ErrCapacityExhausted = errors.New("max concurrent instances reached")
	ErrNoFreeSlot        = errors.New("no free instance slot")
	ErrCreationInFlight  = errors.New("instance creation already in progress")
	ErrPlacementFailed   = errors.New("content placement failed")
)

const collaboratorTimeout = 30 * time.Second

// Config holds the variant parameters of the instance subsystem.
type Config struct {
	ContentID    string
	Area         world.Region
	BaseHeight   int
	MaxInstances int
	Footprint    world.Size
	Spacing      int

	Expiry          time.Duration
	ReminderOffsets []time.Duration
	CleanupDelay    time.Duration
	SafeLocation    world.Coordinate

	Sequence SequenceConfig

	// MaxConcurrentPlacements bounds how many slow paste operations run at
	// once on the worker pool.
	MaxConcurrentPlacements int64
}

// Manager owns the active-instance map and the occupied-range set. Every
// termination path, whether completion, death, disconnect, timeout or a
// forced reset, flows through RemoveInstance; no other code clears placed
// content or releases space.
//
// All exported methods must be called from the main loop. The placement
// step of CreateInstance runs on a worker goroutine and re-dispatches its
// continuation back onto the loop before touching any shared state.
type Manager struct {
	cfg        Config
	loop       *Loop
	alloc      *Allocator
	placer     world.Placer
	spawner    world.Spawner
	teleporter world.Teleporter
	messenger  world.Messenger
	seq        *Sequence

	active  map[string]*Instance
	byID    map[snowflake.ID]*Instance
	pending map[string]world.Coordinate

	placements *semaphore.Weighted
}

func NewManager(cfg Config, loop *Loop, placer world.Placer, spawner world.Spawner, teleporter world.Teleporter, messenger world.Messenger) *Manager {
	if cfg.MaxConcurrentPlacements <= 0 {
		cfg.MaxConcurrentPlacements = 2
	}
	return &Manager{
		cfg:        cfg,
		loop:       loop,
		alloc:      NewAllocator(cfg.Area, cfg.BaseHeight),
		placer:     placer,
		spawner:    spawner,
		teleporter: teleporter,
		messenger:  messenger,
		seq:        NewSequence(spawner, cfg.Sequence),
		active:     make(map[string]*Instance),
		byID:       make(map[snowflake.ID]*Instance),
		pending:    make(map[string]world.Coordinate),
		placements: semaphore.NewWeighted(cfg.MaxConcurrentPlacements),
	}
}

// Get returns the owner's active instance, if any.
func (m *Manager) Get(ownerID string) *Instance {
	return m.active[ownerID]
}

// ByID resolves an instance from a spawn tag's instance ID.
func (m *Manager) ByID(id snowflake.ID) *Instance {
	return m.byID[id]
}

func (m *Manager) ActiveCount() int {
	return len(m.active)
}

// CreateInstance allocates and materializes a private instance for ownerID.
// Creation is idempotent per owner: an existing instance is handed back
// as-is. The slow placement step runs off-loop; onReady fires on the main
// loop once the instance is registered (or creation failed), which is where
// the caller teleports the owner in.
func (m *Manager) CreateInstance(ctx context.Context, ownerID string, onReady func(*Instance, error)) {
	if inst := m.active[ownerID]; inst != nil {
		onReady(inst, nil)
		return
	}
	if _, inFlight := m.pending[ownerID]; inFlight {
		onReady(nil, ErrCreationInFlight)
		return
	}
	if len(m.active)+len(m.pending) >= m.cfg.MaxInstances {
		onReady(nil, ErrCapacityExhausted)
		return
	}

	origin, ok := m.alloc.FindFreeSlot(GridArity(m.cfg.MaxInstances))
	if !ok {
		onReady(nil, ErrNoFreeSlot)
		return
	}

	// Hold the slot with the nominal footprint while placement is in
	// flight so a concurrent creation cannot pick the same cell. The hold
	// is replaced with the measured footprint on success and released on
	// any failure.
	m.alloc.Reserve(origin, m.cfg.Footprint, m.cfg.Spacing)
	m.pending[ownerID] = origin

	logger.LogInstance("Instance creation started",
		slog.String("owner_id", ownerID),
		slog.Int("origin_x", origin.X),
		slog.Int("origin_z", origin.Z))

	go func() {
		if err := m.placements.Acquire(ctx, 1); err != nil {
			m.loop.Submit(func() {
				m.abortCreate(ownerID, origin, fmt.Errorf("placement slot: %w", err), onReady)
			})
			return
		}
		defer m.placements.Release(1)

		placeCtx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
		defer cancel()

		result, err := m.placer.Place(placeCtx, m.cfg.ContentID, origin)
		m.loop.Submit(func() {
			m.finishCreate(ownerID, origin, result, err, onReady)
		})
	}()
}

func (m *Manager) abortCreate(ownerID string, origin world.Coordinate, err error, onReady func(*Instance, error)) {
	delete(m.pending, ownerID)
	m.alloc.Release(origin)
	onReady(nil, err)
}

func (m *Manager) finishCreate(ownerID string, origin world.Coordinate, result *world.PasteResult, placeErr error, onReady func(*Instance, error)) {
	delete(m.pending, ownerID)

	if placeErr != nil {
		m.alloc.Release(origin)
		slog.Error("Instance placement failed",
			slog.String("type", "instance"),
			slog.String("owner_id", ownerID),
			slog.Any("error", placeErr))
		onReady(nil, fmt.Errorf("%w: %v", ErrPlacementFailed, placeErr))
		return
	}

	spawns := result.Markers[world.MarkerPlayerSpawn]
	if len(spawns) != 1 {
		m.alloc.Release(origin)
		m.clearContent(m.placedRegion(origin, result))
		err := fmt.Errorf("%w: expected exactly one player spawn marker, found %d", ErrPlacementFailed, len(spawns))
		slog.Error("Instance placement rejected",
			slog.String("type", "instance"),
			slog.String("owner_id", ownerID),
			slog.Any("error", err))
		onReady(nil, err)
		return
	}

	bounds := m.placedRegion(origin, result)

	// Swap the nominal hold for the measured footprint. The range covers
	// both the origin and the placed bounds, so an applied offset in any
	// direction never leaves content outside the reservation.
	m.alloc.Release(origin)
	m.alloc.ReserveRange(origin, world.Region{
		MinX: min(origin.X, bounds.MinX),
		MinZ: min(origin.Z, bounds.MinZ),
		MaxX: max(origin.X, bounds.MaxX),
		MaxZ: max(origin.Z, bounds.MaxZ),
	}, m.cfg.Spacing)

	inst := newInstance(ownerID, origin, bounds, result.Markers, spawns[0])
	m.active[ownerID] = inst
	m.byID[inst.ID] = inst

	m.seq.Populate(inst)
	m.startExpiry(inst)

	logger.LogInstance("Instance created",
		slog.String("owner_id", ownerID),
		slog.String("instance_id", inst.ID.String()),
		slog.Int("active", len(m.active)))

	onReady(inst, nil)
}

func (m *Manager) placedRegion(origin world.Coordinate, result *world.PasteResult) world.Region {
	minX := origin.X + result.AppliedOffset.X
	minZ := origin.Z + result.AppliedOffset.Z
	return world.Region{
		MinX: minX,
		MinZ: minZ,
		MaxX: minX + result.RegionSize.Width,
		MaxZ: minZ + result.RegionSize.Depth,
	}
}

// startExpiry arms the hard wall-clock deadline plus the purely
// informational reminder ticks.
func (m *Manager) startExpiry(inst *Instance) {
	ownerID := inst.OwnerID
	inst.setActiveTimer(m.loop.After(m.cfg.Expiry, func() {
		if m.active[ownerID] != inst {
			return
		}
		logger.LogInstance("Instance expired",
			slog.String("owner_id", ownerID))
		m.teleporter.Teleport(ownerID, m.cfg.SafeLocation)
		m.RemoveInstance(ownerID)
	}))

	for _, offset := range m.cfg.ReminderOffsets {
		if offset <= 0 || offset >= m.cfg.Expiry {
			continue
		}
		remaining := offset
		inst.addReminder(m.loop.After(m.cfg.Expiry-offset, func() {
			if m.active[ownerID] != inst {
				return
			}
			m.messenger.Notify(ownerID, fmt.Sprintf("Your instance closes in %s.", remaining))
		}))
	}
}

// OnEntitySpawned is the spawn-notification callback. It re-derives the
// owning instance from the tag alone; the Nth notification is never assumed
// to match the Nth spawn request.
func (m *Manager) OnEntitySpawned(id world.EntityID, tag world.Tag) {
	inst := m.byID[tag.InstanceID]
	if inst == nil {
		// The instance was torn down between the spawn request and the
		// notification. Remove the orphan rather than leak it.
		m.spawner.Despawn(id)
		return
	}
	inst.Track(id)
}

// OnEntityKilled routes a tagged entity death into the boss sequence.
func (m *Manager) OnEntityKilled(id world.EntityID, tag world.Tag) {
	inst := m.byID[tag.InstanceID]
	if inst == nil {
		return
	}

	switch tag.Role {
	case world.RoleMiniBoss:
		m.seq.RecordMiniBossKill(inst, id)
	case world.RoleFinalBoss:
		m.onFinalBossKilled(inst)
	}
}

// onFinalBossKilled marks the run won and schedules the post-completion
// cleanup. Installing the cleanup timer into the shared slot cancels the
// auto-expiry deadline: once the run is won the time limit no longer
// applies.
func (m *Manager) onFinalBossKilled(inst *Instance) {
	if inst.completed {
		return
	}
	inst.completed = true
	inst.cancelReminders()
	ownerID := inst.OwnerID

	logger.LogInstance("Instance completed",
		slog.String("owner_id", ownerID),
		slog.String("instance_id", inst.ID.String()))

	m.messenger.Notify(ownerID, fmt.Sprintf("Victory! You will be returned in %s.", m.cfg.CleanupDelay))

	inst.setActiveTimer(m.loop.After(m.cfg.CleanupDelay, func() {
		if m.active[ownerID] != inst {
			return
		}
		m.teleporter.Teleport(ownerID, m.cfg.SafeLocation)
		m.RemoveInstance(ownerID)
	}))
}

// RemoveInstance tears down the owner's instance: cancels its timers,
// despawns tracked entities, clears placed content, and releases its range.
// Idempotent; the only teardown choke point.
func (m *Manager) RemoveInstance(ownerID string) {
	inst, ok := m.active[ownerID]
	if !ok {
		return
	}

	inst.cancelTimers()

	for id := range inst.tracked {
		m.spawner.Despawn(id)
	}
	m.clearContent(inst.Bounds)

	delete(m.active, ownerID)
	delete(m.byID, inst.ID)
	m.alloc.Release(inst.Origin)

	logger.LogInstance("Instance removed",
		slog.String("owner_id", ownerID),
		slog.String("instance_id", inst.ID.String()),
		slog.Int("active", len(m.active)))
}

func (m *Manager) clearContent(region world.Region) {
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()

	if err := m.placer.Clear(ctx, region); err != nil {
		slog.Error("Failed to clear instance content",
			slog.String("type", "instance"),
			slog.Any("error", err))
	}
}

// SweepStale force-removes instances whose expiry deadline passed without
// their timer firing. A safety net behind the per-instance timers; runs
// periodically on the main loop.
func (m *Manager) SweepStale() {
	deadline := time.Now().Add(-m.cfg.Expiry - time.Minute)
	for ownerID, inst := range m.active {
		if inst.completed || inst.CreatedAt.After(deadline) {
			continue
		}
		slog.Warn("Sweeping stale instance",
			slog.String("type", "instance"),
			slog.String("owner_id", ownerID))
		m.teleporter.Teleport(ownerID, m.cfg.SafeLocation)
		m.RemoveInstance(ownerID)
	}
}

// Shutdown tears down every active instance.
func (m *Manager) Shutdown() {
	for ownerID := range m.active {
		m.teleporter.Teleport(ownerID, m.cfg.SafeLocation)
		m.RemoveInstance(ownerID)
	}
}
