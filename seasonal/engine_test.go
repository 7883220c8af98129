package seasonal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eventide-games/seasonal/seasonal/database/models"
	"github.com/eventide-games/seasonal/seasonal/database/repositories"
	"github.com/eventide-games/seasonal/seasonal/instances"
	"github.com/eventide-games/seasonal/seasonal/quests"
	"github.com/eventide-games/seasonal/seasonal/world"
)

type nopProgressRepo struct{}

func (nopProgressRepo) LoadPlayer(context.Context, string) (*repositories.PlayerRows, error) {
	return &repositories.PlayerRows{}, nil
}
func (nopProgressRepo) UpsertAmount(context.Context, string, string, int) error { return nil }
func (nopProgressRepo) MarkAccepted(context.Context, string, string) error      { return nil }
func (nopProgressRepo) MarkCompleted(context.Context, string, string) error     { return nil }
func (nopProgressRepo) MarkClaimed(context.Context, string, string) error       { return nil }
func (nopProgressRepo) CompletionStandings(context.Context) ([]*repositories.Standing, error) {
	return nil, nil
}

type stubPlacer struct{}

func (stubPlacer) Place(_ context.Context, _ string, origin world.Coordinate) (*world.PasteResult, error) {
	return &world.PasteResult{
		RegionSize: world.Size{Width: 10, Depth: 10},
		Markers: world.MarkerSet{
			world.MarkerPlayerSpawn: {{X: origin.X + 1, Y: origin.Y, Z: origin.Z + 1}},
			world.MarkerFinalBoss:   {{X: origin.X + 5, Y: origin.Y, Z: origin.Z + 5}},
		},
	}, nil
}

func (stubPlacer) Clear(context.Context, world.Region) error { return nil }

type nopSpawner struct{}

func (nopSpawner) Spawn(string, world.Coordinate, world.Tag) {}
func (nopSpawner) Despawn(world.EntityID)                    {}

type recordingTeleporter struct {
	mu    sync.Mutex
	calls []world.Coordinate
}

func (r *recordingTeleporter) Teleport(_ string, to world.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, to)
}

type recordingMessenger struct {
	mu    sync.Mutex
	notes []string
}

func (r *recordingMessenger) Notify(_ string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, message)
}

// newHostEngine builds the façade directly on fakes, skipping the database
// wiring, with the main loop already running.
func newHostEngine(t *testing.T) (*Engine, *recordingTeleporter) {
	t.Helper()

	catalog, err := quests.BuildCatalog([]*models.QuestDefinition{
		{QuestID: "w1", ChainID: "wolves", OrderIndex: 0, Name: "Cull the Pack", TargetKey: "kill:wolf", RequiredAmount: 2, Difficulty: models.DifficultyAny},
	}, nil)
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	store, err := quests.NewStore(nopProgressRepo{}, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	loop := instances.NewLoop(64)
	teleporter := &recordingTeleporter{}
	messenger := &recordingMessenger{}
	manager := instances.NewManager(instances.Config{
		ContentID:    "seasonal_keep",
		Area:         world.Region{MinX: 0, MinZ: 0, MaxX: 1000, MaxZ: 1000},
		BaseHeight:   64,
		MaxInstances: 4,
		Footprint:    world.Size{Width: 10, Depth: 10},
		Expiry:       time.Hour,
		CleanupDelay: time.Hour,
	}, loop, stubPlacer{}, nopSpawner{}, teleporter, messenger)

	e := &Engine{
		Quests:     quests.NewEngine(catalog, store),
		Instances:  manager,
		Loop:       loop,
		store:      store,
		teleporter: teleporter,
		messenger:  messenger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return e, teleporter
}

func TestOnKillRunsOnLoop(t *testing.T) {
	ctx := context.Background()
	e, _ := newHostEngine(t)

	e.Loop.SubmitWait(func() {
		if !e.Quests.Accept(ctx, "alice", "w1") {
			t.Error("Accept failed")
		}
	})

	// OnKill must not touch shared state while the loop is busy. Block the
	// loop and verify the call waits its turn.
	blocker := make(chan struct{})
	e.Loop.Submit(func() { <-blocker })

	done := make(chan []string, 1)
	go func() {
		done <- e.OnKill(ctx, "alice", "kill:wolf", false, "", nil)
	}()

	select {
	case <-done:
		t.Fatal("OnKill returned while the loop was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocker)
	select {
	case completed := <-done:
		if len(completed) != 0 {
			t.Errorf("one of two kills completed %v", completed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnKill never returned after the loop drained")
	}

	if completed := e.OnKill(ctx, "alice", "kill:wolf", false, "", nil); len(completed) != 1 || completed[0] != "w1" {
		t.Errorf("completed = %v, want [w1]", completed)
	}
}

func TestEnterInstanceTeleportsIn(t *testing.T) {
	e, teleporter := newHostEngine(t)

	e.EnterInstance(context.Background(), "alice")

	deadline := time.Now().Add(2 * time.Second)
	for {
		teleporter.mu.Lock()
		n := len(teleporter.calls)
		teleporter.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("player never teleported into the instance")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var inst *instances.Instance
	e.Loop.SubmitWait(func() { inst = e.Instances.Get("alice") })
	if inst == nil {
		t.Fatal("no active instance after EnterInstance")
	}

	teleporter.mu.Lock()
	to := teleporter.calls[0]
	teleporter.mu.Unlock()
	if to != inst.PlayerSpawn {
		t.Errorf("teleported to %v, want player spawn %v", to, inst.PlayerSpawn)
	}
}

func TestOnPlayerQuitTearsDownOnLoop(t *testing.T) {
	e, _ := newHostEngine(t)

	e.EnterInstance(context.Background(), "alice")
	deadline := time.Now().Add(2 * time.Second)
	for {
		var active int
		e.Loop.SubmitWait(func() { active = e.Instances.ActiveCount() })
		if active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("instance never created")
		}
		time.Sleep(10 * time.Millisecond)
	}

	e.OnPlayerQuit("alice")

	var active int
	e.Loop.SubmitWait(func() { active = e.Instances.ActiveCount() })
	if active != 0 {
		t.Errorf("active = %d after quit, want 0", active)
	}
}
