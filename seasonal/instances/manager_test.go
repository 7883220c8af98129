package instances

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eventide-games/seasonal/seasonal/world"
)

type fakePlacer struct {
	mu      sync.Mutex
	err     error
	markers world.MarkerSet
	offset  world.Coordinate
	gate    chan struct{} // when set, Place blocks until closed
	origins []world.Coordinate
	cleared []world.Region
}

func (f *fakePlacer) Place(_ context.Context, _ string, origin world.Coordinate) (*world.PasteResult, error) {
	f.mu.Lock()
	f.origins = append(f.origins, origin)
	gate := f.gate
	err := f.err
	markers := f.markers
	offset := f.offset
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &world.PasteResult{
		AppliedOffset: offset,
		RegionSize:    world.Size{Width: 100, Depth: 100},
		Markers:       markers,
	}, nil
}

func (f *fakePlacer) Clear(_ context.Context, region world.Region) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, region)
	return nil
}

func (f *fakePlacer) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cleared)
}

type teleportCall struct {
	playerID string
	to       world.Coordinate
}

type fakeTeleporter struct {
	mu    sync.Mutex
	calls []teleportCall
}

func (f *fakeTeleporter) Teleport(playerID string, to world.Coordinate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, teleportCall{playerID: playerID, to: to})
}

func (f *fakeTeleporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMessenger struct {
	mu    sync.Mutex
	notes []string
}

func (f *fakeMessenger) Notify(_ string, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, message)
}

type managerFixture struct {
	loop       *Loop
	manager    *Manager
	placer     *fakePlacer
	spawner    *fakeSpawner
	teleporter *fakeTeleporter
	messenger  *fakeMessenger
}

func newManagerFixture(t *testing.T, mutate func(*Config)) *managerFixture {
	t.Helper()
	cfg := Config{
		ContentID:    "seasonal_keep",
		Area:         world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000},
		BaseHeight:   64,
		MaxInstances: 4,
		Footprint:    world.Size{Width: 100, Depth: 100},
		Spacing:      16,
		Expiry:       time.Hour,
		CleanupDelay: time.Hour,
		SafeLocation: world.Coordinate{X: 0, Y: 70, Z: 0},
		Sequence:     testSequenceConfig(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &managerFixture{
		loop:       startLoop(t),
		placer:     &fakePlacer{markers: testMarkers(4, 3, 1), offset: world.Coordinate{X: 2, Z: 2}},
		spawner:    &fakeSpawner{},
		teleporter: &fakeTeleporter{},
		messenger:  &fakeMessenger{},
	}
	f.manager = NewManager(cfg, f.loop, f.placer, f.spawner, f.teleporter, f.messenger)
	return f
}

// create runs CreateInstance on the loop and waits for onReady.
func (f *managerFixture) create(t *testing.T, ownerID string) (*Instance, error) {
	t.Helper()
	type result struct {
		inst *Instance
		err  error
	}
	ch := make(chan result, 1)
	f.loop.Submit(func() {
		f.manager.CreateInstance(context.Background(), ownerID, func(inst *Instance, err error) {
			ch <- result{inst, err}
		})
	})
	select {
	case r := <-ch:
		return r.inst, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for instance creation")
		return nil, nil
	}
}

func (f *managerFixture) onLoop(fn func()) {
	f.loop.SubmitWait(fn)
}

func TestCreateInstance(t *testing.T) {
	f := newManagerFixture(t, nil)

	inst, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.OwnerID != "alice" {
		t.Errorf("owner = %q, want alice", inst.OwnerID)
	}

	var active, reserved int
	f.onLoop(func() {
		active = f.manager.ActiveCount()
		reserved = f.manager.alloc.Count()
	})
	if active != 1 || reserved != 1 {
		t.Errorf("active = %d, reserved = %d, want 1/1", active, reserved)
	}

	// Bounds follow the applied offset and measured size, not the config.
	wantBounds := world.Region{
		MinX: inst.Origin.X + 2, MinZ: inst.Origin.Z + 2,
		MaxX: inst.Origin.X + 102, MaxZ: inst.Origin.Z + 102,
	}
	if inst.Bounds != wantBounds {
		t.Errorf("bounds = %v, want %v", inst.Bounds, wantBounds)
	}

	// Populate ran: trash and mini-bosses are out.
	if minis := f.spawner.byRole(world.RoleMiniBoss); len(minis) != 3 {
		t.Errorf("mini-boss spawns = %d, want 3", len(minis))
	}
}

func TestCreateInstanceIdempotent(t *testing.T) {
	f := newManagerFixture(t, nil)

	first, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	second, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("repeat CreateInstance: %v", err)
	}
	if first != second {
		t.Error("repeat creation built a new instance instead of returning the existing one")
	}

	var reserved int
	f.onLoop(func() { reserved = f.manager.alloc.Count() })
	if reserved != 1 {
		t.Errorf("reserved ranges = %d, want 1", reserved)
	}
}

func TestCreateInstanceCapacity(t *testing.T) {
	f := newManagerFixture(t, func(cfg *Config) { cfg.MaxInstances = 1 })

	if _, err := f.create(t, "alice"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := f.create(t, "bob"); !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("err = %v, want ErrCapacityExhausted", err)
	}

	// Removing frees the slot for the next owner.
	f.onLoop(func() { f.manager.RemoveInstance("alice") })
	if _, err := f.create(t, "bob"); err != nil {
		t.Errorf("CreateInstance after removal: %v", err)
	}
}

func TestCreateInstanceWhileInFlight(t *testing.T) {
	f := newManagerFixture(t, nil)
	gate := make(chan struct{})
	f.placer.gate = gate

	started := make(chan struct{}, 1)
	f.loop.Submit(func() {
		f.manager.CreateInstance(context.Background(), "alice", func(*Instance, error) {})
		started <- struct{}{}
	})
	<-started

	if _, err := f.create(t, "alice"); !errors.Is(err, ErrCreationInFlight) {
		t.Errorf("err = %v, want ErrCreationInFlight", err)
	}
	close(gate)
}

func TestConcurrentCreationsGetDistinctSlots(t *testing.T) {
	f := newManagerFixture(t, nil)
	gate := make(chan struct{})
	f.placer.gate = gate

	type result struct {
		inst *Instance
		err  error
	}
	results := make(chan result, 2)
	f.onLoop(func() {
		f.manager.CreateInstance(context.Background(), "alice", func(inst *Instance, err error) {
			results <- result{inst, err}
		})
		f.manager.CreateInstance(context.Background(), "bob", func(inst *Instance, err error) {
			results <- result{inst, err}
		})
	})
	close(gate)

	var insts []*Instance
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("creation %d: %v", i, r.err)
			}
			insts = append(insts, r.inst)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for creations")
		}
	}

	// The provisional hold taken at slot-selection time must keep the two
	// in-flight creations off the same cell.
	if insts[0].Origin == insts[1].Origin {
		t.Errorf("both creations placed at %v", insts[0].Origin)
	}
	if insts[0].Bounds.Overlaps(insts[1].Bounds) {
		t.Errorf("bounds %v and %v overlap", insts[0].Bounds, insts[1].Bounds)
	}
}

func TestPlacementFailureRollsBack(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.placer.err = errors.New("paste worker crashed")

	if _, err := f.create(t, "alice"); !errors.Is(err, ErrPlacementFailed) {
		t.Fatalf("err = %v, want ErrPlacementFailed", err)
	}

	var active, reserved int
	f.onLoop(func() {
		active = f.manager.ActiveCount()
		reserved = f.manager.alloc.Count()
	})
	if active != 0 || reserved != 0 {
		t.Fatalf("active = %d, reserved = %d after failure, want 0/0", active, reserved)
	}

	// The owner can retry immediately.
	f.placer.mu.Lock()
	f.placer.err = nil
	f.placer.mu.Unlock()
	if _, err := f.create(t, "alice"); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestPlacementRejectedWithoutPlayerSpawn(t *testing.T) {
	f := newManagerFixture(t, nil)
	markers := testMarkers(4, 3, 1)
	delete(markers, world.MarkerPlayerSpawn)
	f.placer.markers = markers

	if _, err := f.create(t, "alice"); !errors.Is(err, ErrPlacementFailed) {
		t.Fatalf("err = %v, want ErrPlacementFailed", err)
	}

	// The half-placed content must not be left in the world.
	if f.placer.clearCount() != 1 {
		t.Errorf("clear calls = %d, want 1", f.placer.clearCount())
	}
	var reserved int
	f.onLoop(func() { reserved = f.manager.alloc.Count() })
	if reserved != 0 {
		t.Errorf("reserved ranges = %d, want 0", reserved)
	}
}

func TestReservationCoversPlacedBounds(t *testing.T) {
	f := newManagerFixture(t, nil)
	// A placement that shifts content toward negative coordinates must
	// still end up entirely inside the reservation.
	f.placer.offset = world.Coordinate{X: -5, Z: -5}

	inst, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	var r world.Region
	var ok bool
	f.onLoop(func() { r, ok = f.manager.alloc.RangeAt(inst.Origin) })
	if !ok {
		t.Fatal("no range reserved at the instance origin")
	}
	if r.MinX > inst.Bounds.MinX || r.MinZ > inst.Bounds.MinZ ||
		r.MaxX < inst.Bounds.MaxX || r.MaxZ < inst.Bounds.MaxZ {
		t.Errorf("reservation %v does not cover bounds %v", r, inst.Bounds)
	}
}

func TestCompletionCancelsReminders(t *testing.T) {
	f := newManagerFixture(t, func(cfg *Config) {
		cfg.Expiry = 200 * time.Millisecond
		cfg.ReminderOffsets = []time.Duration{150 * time.Millisecond}
	})
	// Zero mini-boss markers: the final boss is out immediately.
	f.placer.markers = testMarkers(2, 0, 1)

	inst, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	// Win the run before the reminder tick at t=50ms fires. The cleanup
	// delay is long, so the instance stays active through the tick's
	// original deadline.
	f.onLoop(func() {
		f.manager.OnEntityKilled("boss", world.Tag{InstanceID: inst.ID, Role: world.RoleFinalBoss})
	})

	time.Sleep(120 * time.Millisecond)
	f.loop.SubmitWait(func() {})

	f.messenger.mu.Lock()
	defer f.messenger.mu.Unlock()
	for _, note := range f.messenger.notes {
		if strings.Contains(note, "closes in") {
			t.Errorf("expiry reminder %q delivered after the run was won", note)
		}
	}
}

func TestRemoveInstance(t *testing.T) {
	f := newManagerFixture(t, nil)
	inst, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	f.onLoop(func() {
		f.manager.OnEntitySpawned("e1", world.Tag{InstanceID: inst.ID, Role: world.RoleTrash})
		f.manager.OnEntitySpawned("e2", world.Tag{InstanceID: inst.ID, Role: world.RoleMiniBoss})
		f.manager.RemoveInstance("alice")
	})

	f.spawner.mu.Lock()
	despawned := len(f.spawner.despawned)
	f.spawner.mu.Unlock()
	if despawned != 2 {
		t.Errorf("despawned = %d, want both tracked entities", despawned)
	}
	if f.placer.clearCount() != 1 {
		t.Errorf("clear calls = %d, want 1", f.placer.clearCount())
	}

	var active, reserved int
	f.onLoop(func() {
		// Repeat removal is a no-op.
		f.manager.RemoveInstance("alice")
		active = f.manager.ActiveCount()
		reserved = f.manager.alloc.Count()
	})
	if active != 0 || reserved != 0 {
		t.Errorf("active = %d, reserved = %d, want 0/0", active, reserved)
	}
	if f.placer.clearCount() != 1 {
		t.Errorf("clear calls after repeat removal = %d, want still 1", f.placer.clearCount())
	}
}

func TestOrphanSpawnIsDespawned(t *testing.T) {
	f := newManagerFixture(t, nil)

	f.onLoop(func() {
		f.manager.OnEntitySpawned("ghost", world.Tag{InstanceID: 12345, Role: world.RoleTrash})
	})

	f.spawner.mu.Lock()
	defer f.spawner.mu.Unlock()
	if len(f.spawner.despawned) != 1 || f.spawner.despawned[0] != "ghost" {
		t.Errorf("despawned = %v, want the orphaned entity", f.spawner.despawned)
	}
}

func TestExpiryRemovesInstance(t *testing.T) {
	f := newManagerFixture(t, func(cfg *Config) { cfg.Expiry = 30 * time.Millisecond })

	if _, err := f.create(t, "alice"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var active int
		f.onLoop(func() { active = f.manager.ActiveCount() })
		if active == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("instance not removed after expiry")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f.teleporter.count() != 1 {
		t.Errorf("teleports = %d, want owner moved to safety once", f.teleporter.count())
	}
}

func TestCompletionSupersedesExpiry(t *testing.T) {
	f := newManagerFixture(t, func(cfg *Config) {
		cfg.Expiry = 150 * time.Millisecond
		cfg.CleanupDelay = 20 * time.Millisecond
		cfg.Sequence.MiniBossCount = 0
	})
	// Zero mini-boss markers: the final boss is out immediately.
	f.placer.markers = testMarkers(2, 0, 1)

	inst, err := f.create(t, "alice")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if !inst.FinalBossSpawned() {
		t.Fatal("final boss should spawn with zero mini-boss markers")
	}

	f.onLoop(func() {
		f.manager.OnEntityKilled("boss", world.Tag{InstanceID: inst.ID, Role: world.RoleFinalBoss})
		// A second kill notification must not schedule a second cleanup.
		f.manager.OnEntityKilled("boss", world.Tag{InstanceID: inst.ID, Role: world.RoleFinalBoss})
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		var active int
		f.onLoop(func() { active = f.manager.ActiveCount() })
		if active == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cleanup never removed the completed instance")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Wait past the original expiry deadline: the cancelled expiry timer
	// must not fire a second teardown or teleport.
	time.Sleep(250 * time.Millisecond)
	if got := f.teleporter.count(); got != 1 {
		t.Errorf("teleports = %d, want exactly 1", got)
	}
	if f.placer.clearCount() != 1 {
		t.Errorf("clear calls = %d, want exactly 1", f.placer.clearCount())
	}
}

func TestShutdownRemovesEverything(t *testing.T) {
	f := newManagerFixture(t, nil)
	for _, owner := range []string{"alice", "bob", "carol"} {
		if _, err := f.create(t, owner); err != nil {
			t.Fatalf("CreateInstance %s: %v", owner, err)
		}
	}

	var active, reserved int
	f.onLoop(func() {
		f.manager.Shutdown()
		active = f.manager.ActiveCount()
		reserved = f.manager.alloc.Count()
	})
	if active != 0 || reserved != 0 {
		t.Errorf("active = %d, reserved = %d after shutdown, want 0/0", active, reserved)
	}
	if f.teleporter.count() != 3 {
		t.Errorf("teleports = %d, want every owner moved to safety", f.teleporter.count())
	}
}
