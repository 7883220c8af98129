package seasonal

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eventide-games/seasonal/seasonal/database"
	"github.com/eventide-games/seasonal/seasonal/database/models"
	"github.com/eventide-games/seasonal/seasonal/database/repositories"
	"github.com/eventide-games/seasonal/seasonal/instances"
	"github.com/eventide-games/seasonal/seasonal/logger"
	"github.com/eventide-games/seasonal/seasonal/quests"
	"github.com/eventide-games/seasonal/seasonal/utils"
	"github.com/eventide-games/seasonal/seasonal/world"
)

const partedCacheSize = 512

// Engine is the seasonal event core: the quest progression engine and the
// solo instance lifecycle manager behind one façade. The host's listener
// layer feeds it kill, spawn, join and quit notifications; commands and
// menus call into it and render whatever it returns.
//
// The notification entry points (OnKill, OnEntitySpawned, OnPlayerQuit,
// OnPlayerDeath, EnterInstance) dispatch their bodies onto the main loop
// and are safe to call from any goroutine except the loop itself. Code
// already running on the loop calls Quests and Instances directly.
type Engine struct {
	Cfg       Config
	DB        *database.DB
	Quests    *quests.Engine
	Instances *instances.Manager
	Loop      *instances.Loop

	CatalogRepo  repositories.CatalogRepository
	ProgressRepo repositories.ProgressRepository

	store      *quests.Store
	procs      *utils.ProcessManager
	rng        *rand.Rand
	teleporter world.Teleporter
	messenger  world.Messenger
}

// New wires the engine from config, an open database, and the host's
// collaborators. Call Start before use.
func New(cfg Config, db *database.DB, placer world.Placer, spawner world.Spawner, teleporter world.Teleporter, messenger world.Messenger) (*Engine, error) {
	catalogRepo := repositories.NewCatalogRepository(db.BunDB())
	progressRepo := repositories.NewProgressRepository(db.BunDB())

	store, err := quests.NewStore(progressRepo, partedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress store: %w", err)
	}

	loop := instances.NewLoop(256)

	manager := instances.NewManager(instances.Config{
		ContentID:    cfg.Event.ContentID,
		Area:         cfg.Event.Area(),
		BaseHeight:   cfg.Event.BaseHeight,
		MaxInstances: cfg.Event.MaxInstances,
		Footprint: world.Size{
			Width: cfg.Event.FootprintWidth,
			Depth: cfg.Event.FootprintDepth,
		},
		Spacing:         cfg.Event.Spacing,
		Expiry:          cfg.Event.Expiry(),
		ReminderOffsets: cfg.Event.ReminderOffsets(),
		CleanupDelay:    cfg.Event.CleanupDelay(),
		SafeLocation:    cfg.Event.SafeLocation(),
		Sequence: instances.SequenceConfig{
			TrashMobType:        cfg.Event.TrashMobType,
			MiniBossMobType:     cfg.Event.MiniBossMobType,
			FinalBossMobType:    cfg.Event.FinalBossMobType,
			MiniBossCount:       cfg.Event.MiniBossCount,
			NormalSpawnSampling: cfg.Event.NormalSpawnSampling,
		},
	}, loop, placer, spawner, teleporter, messenger)

	e := &Engine{
		Cfg:          cfg,
		DB:           db,
		Instances:    manager,
		Loop:         loop,
		CatalogRepo:  catalogRepo,
		ProgressRepo: progressRepo,
		store:        store,
		procs:        utils.NewProcessManager(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		teleporter:   teleporter,
		messenger:    messenger,
	}
	return e, nil
}

// Start hydrates the quest catalog and launches the main loop and the
// stale-instance sweep.
func (e *Engine) Start(ctx context.Context) error {
	var (
		defs    []*models.QuestDefinition
		chains  []*models.QuestChain
		rewards []*models.QuestReward
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		defs, err = e.CatalogRepo.GetAllDefinitions(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		chains, err = e.CatalogRepo.GetAllChains(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		rewards, err = e.CatalogRepo.GetAllRewards(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load quest catalog: %w", err)
	}

	catalog, err := quests.BuildCatalog(defs, rewards)
	if err != nil {
		return fmt.Errorf("invalid quest catalog: %w", err)
	}
	e.Quests = quests.NewEngine(catalog, e.store)

	e.procs.Start("main-loop", func(ctx context.Context) {
		e.Loop.Run(ctx)
	})
	e.procs.Start("stale-sweep", func(ctx context.Context) {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Loop.Submit(e.Instances.SweepStale)
			case <-ctx.Done():
				return
			}
		}
	})

	logger.LogSystem("Seasonal event engine started",
		slog.String("event", e.Cfg.Event.Name),
		slog.Int("quests", len(defs)),
		slog.Int("chains", len(chains)))

	return nil
}

// OnKill is the host's kill-event entry point. The droprate trial happens
// here, before the quest engine is called; each kill gets its own
// independent draw.
//
// When the kill happened inside an instance, the entity's tag routes it
// into the boss sequence as well; tag is nil for kills in the open world.
// Returns the quests completed by this kill. Blocks until the loop has
// processed the event.
func (e *Engine) OnKill(ctx context.Context, playerID, targetKey string, hardKill bool, entity world.EntityID, tag *world.Tag) []string {
	var completed []string
	e.Loop.SubmitWait(func() {
		if e.rollProgress() {
			completed = e.Quests.AddProgress(ctx, playerID, targetKey, 1, hardKill)
		}
		if tag != nil {
			e.Instances.OnEntityKilled(entity, *tag)
		}
	})
	return completed
}

// OnEntitySpawned is the host's spawn-notification entry point.
func (e *Engine) OnEntitySpawned(entity world.EntityID, tag world.Tag) {
	e.Loop.Submit(func() {
		e.Instances.OnEntitySpawned(entity, tag)
	})
}

// EnterInstance requests a private instance for the player; once it is
// ready the player is teleported to its spawn point. Failures are reported
// to the player directly.
func (e *Engine) EnterInstance(ctx context.Context, playerID string) {
	e.Loop.Submit(func() {
		e.Instances.CreateInstance(ctx, playerID, func(inst *instances.Instance, err error) {
			if err != nil {
				e.messenger.Notify(playerID, "The event area is not available right now, try again shortly.")
				return
			}
			e.teleporter.Teleport(playerID, inst.PlayerSpawn)
		})
	})
}

func (e *Engine) rollProgress() bool {
	pct := e.Cfg.Event.ProgressDropratePct
	if pct <= 0 || pct >= 100 {
		return true
	}
	return e.rng.Intn(100) < pct
}

// ReloadRewards refreshes the catalog's reward lists from the store after
// an admin edit.
func (e *Engine) ReloadRewards(ctx context.Context) error {
	rewards, err := e.CatalogRepo.GetAllRewards(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload rewards: %w", err)
	}
	e.Loop.SubmitWait(func() {
		e.Quests.Catalog().ApplyRewards(rewards)
	})

	logger.LogQuest("Quest rewards reloaded",
		slog.Int("rows", len(rewards)))
	return nil
}

// OnPlayerQuit handles a disconnect: the instance is torn down and the
// player's quest records move to the snapshot cache.
func (e *Engine) OnPlayerQuit(playerID string) {
	e.Loop.Submit(func() {
		e.Instances.RemoveInstance(playerID)
		e.Quests.PlayerParted(playerID)
	})
}

// OnPlayerDeath tears down the player's instance; death ends the run.
func (e *Engine) OnPlayerDeath(playerID string) {
	e.Loop.Submit(func() {
		e.Instances.RemoveInstance(playerID)
	})
}

// Shutdown tears down all instances and stops background processes.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.Loop.SubmitWait(e.Instances.Shutdown)
	if err := e.procs.Shutdown(timeout); err != nil {
		slog.Warn("Engine shutdown timed out", slog.Any("error", err))
	}
}
