package instances

import (
	"log/slog"

	"github.com/eventide-games/seasonal/seasonal/logger"
	"github.com/eventide-games/seasonal/seasonal/world"
)

// SequenceConfig binds mob types and sampling parameters to marker roles
// for one event variant.
type SequenceConfig struct {
	TrashMobType     string
	MiniBossMobType  string
	FinalBossMobType string

	// MiniBossCount is the target number of mini-bosses. Fewer markers than
	// this lowers the kill goal instead of blocking the run.
	MiniBossCount int

	// NormalSpawnSampling spawns trash at every Nth normal marker. Using
	// all markers makes runs unreasonably dense.
	NormalSpawnSampling int
}

// Sequence drives the boss progression of a run:
//
//	spawning -> all mini-bosses dead -> final boss spawned -> completed
//
// It keeps no per-run state of its own; everything mutable lives on the
// Instance. Entity identity comes exclusively from the spawn tag, never
// from request/notification ordering.
type Sequence struct {
	spawner world.Spawner
	cfg     SequenceConfig
}

func NewSequence(spawner world.Spawner, cfg SequenceConfig) *Sequence {
	if cfg.MiniBossCount <= 0 {
		cfg.MiniBossCount = 3
	}
	if cfg.NormalSpawnSampling <= 0 {
		cfg.NormalSpawnSampling = 1
	}
	return &Sequence{spawner: spawner, cfg: cfg}
}

// Populate spawns the initial content of a freshly created instance: a
// strided subset of the normal markers plus up to the configured number of
// mini-bosses. With zero mini-boss markers the kill goal is zero and the
// final boss spawns immediately.
func (s *Sequence) Populate(inst *Instance) {
	normals := inst.Markers[world.MarkerNormalSpawn]
	for i := 0; i < len(normals); i += s.cfg.NormalSpawnSampling {
		s.spawner.Spawn(s.cfg.TrashMobType, normals[i], world.Tag{
			InstanceID: inst.ID,
			Role:       world.RoleTrash,
		})
	}

	minis := inst.Markers[world.MarkerMiniBoss]
	goal := s.cfg.MiniBossCount
	if len(minis) < goal {
		goal = len(minis)
	}
	inst.miniBossGoal = goal

	for i := 0; i < goal; i++ {
		s.spawner.Spawn(s.cfg.MiniBossMobType, minis[i], world.Tag{
			InstanceID: inst.ID,
			Role:       world.RoleMiniBoss,
		})
	}

	logger.LogInstance("Instance populated",
		slog.String("owner_id", inst.OwnerID),
		slog.Int("trash_spawns", (len(normals)+s.cfg.NormalSpawnSampling-1)/s.cfg.NormalSpawnSampling),
		slog.Int("mini_boss_goal", goal))

	if goal == 0 {
		s.spawnFinalBoss(inst)
	}
}

// RecordMiniBossKill records a mini-boss death. Returns true when the kill
// goal has just been reached and the final boss was spawned. Duplicate
// notifications for the same handle are absorbed.
func (s *Sequence) RecordMiniBossKill(inst *Instance, id world.EntityID) bool {
	if inst.finalBossSpawned || inst.completed {
		return false
	}
	if !inst.recordMiniBossKill(id) {
		return false
	}

	logger.LogInstance("Mini-boss killed",
		slog.String("owner_id", inst.OwnerID),
		slog.Int("kills", inst.MiniBossKills()),
		slog.Int("goal", inst.miniBossGoal))

	if inst.MiniBossKills() < inst.miniBossGoal {
		return false
	}

	s.spawnFinalBoss(inst)
	return true
}

func (s *Sequence) spawnFinalBoss(inst *Instance) {
	finals := inst.Markers[world.MarkerFinalBoss]
	if len(finals) == 0 {
		slog.Error("No final boss marker in instance, run cannot progress",
			slog.String("type", "instance"),
			slog.String("owner_id", inst.OwnerID))
		return
	}

	inst.finalBossSpawned = true
	s.spawner.Spawn(s.cfg.FinalBossMobType, finals[0], world.Tag{
		InstanceID: inst.ID,
		Role:       world.RoleFinalBoss,
	})

	logger.LogInstance("Final boss spawned",
		slog.String("owner_id", inst.OwnerID))
}
