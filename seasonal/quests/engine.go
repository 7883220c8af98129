package quests

import (
	"context"
	"log/slog"

	"github.com/eventide-games/seasonal/seasonal/logger"
)

// Engine drives the per-(player, quest) state machine:
//
//	Locked -> Unlocked -> Accepted -> Completed -> Claimed
//
// Unlocked is never stored; it is recomputed from the chain relation on
// every check. Invalid transitions are expected user-driven races (double
// click, stale UI) and return false rather than erroring.
//
// All methods must be called from the main loop; records are never touched
// concurrently.
type Engine struct {
	catalog *Catalog
	store   *Store
}

func NewEngine(catalog *Catalog, store *Store) *Engine {
	return &Engine{
		catalog: catalog,
		store:   store,
	}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// IsUnlocked reports whether a quest is available to the player. The first
// quest of a chain is always unlocked; every later quest requires its
// predecessor to be both completed and claimed.
func (e *Engine) IsUnlocked(ctx context.Context, playerID, questID string) bool {
	quest, ok := e.catalog.Quest(questID)
	if !ok {
		return false
	}

	prev := e.catalog.Previous(quest)
	if prev == nil {
		return true
	}

	rec := e.store.Record(ctx, playerID, prev.ID)
	return rec.Completed && rec.Claimed
}

// Accept marks a quest accepted. Returns false if the quest is unknown,
// locked, already accepted, or already completed.
func (e *Engine) Accept(ctx context.Context, playerID, questID string) bool {
	if _, ok := e.catalog.Quest(questID); !ok {
		return false
	}
	if !e.IsUnlocked(ctx, playerID, questID) {
		return false
	}

	rec := e.store.Record(ctx, playerID, questID)
	if rec.Accepted || rec.Completed {
		return false
	}

	rec.Accepted = true
	e.store.SaveAccepted(ctx, playerID, questID)

	logger.LogQuest("Quest accepted",
		slog.String("player_id", playerID),
		slog.String("quest_id", questID))
	return true
}

// Claim marks a completed quest claimed. The caller grants the reward items;
// the engine only flips the flag. Returns false if the quest is not
// completed or was already claimed.
func (e *Engine) Claim(ctx context.Context, playerID, questID string) bool {
	if _, ok := e.catalog.Quest(questID); !ok {
		return false
	}

	rec := e.store.Record(ctx, playerID, questID)
	if !rec.Completed || rec.Claimed {
		return false
	}

	rec.Claimed = true
	e.store.SaveClaimed(ctx, playerID, questID)

	logger.LogQuest("Quest claimed",
		slog.String("player_id", playerID),
		slog.String("quest_id", questID))
	return true
}

// AddProgress applies one progress event to every catalog quest matching the
// target key and returns the IDs of quests that completed as a result.
//
// A single kill may advance quests in unrelated chains at once, so all
// matches are evaluated, never just the first. Progress is clamped at the
// required amount; events arriving after completion are silently absorbed.
// Droprate gating is the caller's concern: by the time this is called the
// trial has already succeeded.
func (e *Engine) AddProgress(ctx context.Context, playerID, targetKey string, amount int, hardKill bool) []string {
	if amount <= 0 {
		return nil
	}

	var completed []string
	for _, quest := range e.catalog.ByTarget(targetKey) {
		rec := e.store.Record(ctx, playerID, quest.ID)
		if !rec.Accepted || rec.Completed {
			continue
		}
		if quest.HardOnly() && !hardKill {
			continue
		}
		if !e.IsUnlocked(ctx, playerID, quest.ID) {
			continue
		}

		newAmount := rec.Amount + amount
		if newAmount > quest.Required {
			newAmount = quest.Required
		}
		if newAmount == rec.Amount {
			continue
		}

		rec.Amount = newAmount
		e.store.SaveAmount(ctx, playerID, quest.ID, newAmount)

		if newAmount >= quest.Required {
			rec.Completed = true
			e.store.SaveCompleted(ctx, playerID, quest.ID)
			completed = append(completed, quest.ID)

			logger.LogQuest("Quest completed",
				slog.String("player_id", playerID),
				slog.String("quest_id", quest.ID),
				slog.Int("required", quest.Required))
		}
	}

	return completed
}

// Snapshot returns a copy of the player's record for read-only observers
// such as progress GUIs.
func (e *Engine) Snapshot(ctx context.Context, playerID, questID string) (Record, bool) {
	if _, ok := e.catalog.Quest(questID); !ok {
		return Record{}, false
	}
	return *e.store.Record(ctx, playerID, questID), true
}

// PlayerParted releases the player's live records into the snapshot cache.
func (e *Engine) PlayerParted(playerID string) {
	e.store.PlayerParted(playerID)
}
