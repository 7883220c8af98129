package quests

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/eventide-games/seasonal/seasonal/database/repositories"
	"github.com/eventide-games/seasonal/seasonal/logger"
)

// Record is the mutable per-(player, quest) state. Amount only ever grows
// while the quest is open, and the three flags form a strict progression:
// accepted, then completed, then claimed.
type Record struct {
	Amount    int
	Accepted  bool
	Completed bool
	Claimed   bool
}

// Store owns every player's in-memory records and writes each transition
// through to the repository. In-memory state is the source of truth for the
// process lifetime: a failed write is logged and never rolls a transition
// back.
//
// All methods must be called from the main loop.
type Store struct {
	repo    repositories.ProgressRepository
	players map[string]map[string]*Record
	parted  *lru.Cache // playerID -> map[string]*Record, players that left
}

func NewStore(repo repositories.ProgressRepository, partedCacheSize int) (*Store, error) {
	cache, err := lru.New(partedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		repo:    repo,
		players: make(map[string]map[string]*Record),
		parted:  cache,
	}, nil
}

// Record returns the live record for (player, quest), creating a zero record
// if none exists. The player's rows are hydrated from the repository on
// first touch.
func (s *Store) Record(ctx context.Context, playerID, questID string) *Record {
	records := s.playerRecords(ctx, playerID)
	rec, ok := records[questID]
	if !ok {
		rec = &Record{}
		records[questID] = rec
	}
	return rec
}

func (s *Store) playerRecords(ctx context.Context, playerID string) map[string]*Record {
	if records, ok := s.players[playerID]; ok {
		return records
	}

	// A quick rejoin gets its snapshot back without a round trip.
	if cached, ok := s.parted.Get(playerID); ok {
		records := cached.(map[string]*Record)
		s.parted.Remove(playerID)
		s.players[playerID] = records
		return records
	}

	records := make(map[string]*Record)
	rows, err := s.repo.LoadPlayer(ctx, playerID)
	if err != nil {
		logger.LogError("Failed to load player progress, starting from empty records", err,
			slog.String("player_id", playerID))
	} else {
		for _, row := range rows.Progress {
			records[row.QuestID] = &Record{Amount: row.Amount}
		}
		ensure := func(questID string) *Record {
			rec, ok := records[questID]
			if !ok {
				rec = &Record{}
				records[questID] = rec
			}
			return rec
		}
		for _, row := range rows.Accepted {
			ensure(row.QuestID).Accepted = true
		}
		for _, row := range rows.Completed {
			ensure(row.QuestID).Completed = true
		}
		for _, row := range rows.Claimed {
			ensure(row.QuestID).Claimed = true
		}
	}

	s.players[playerID] = records
	return records
}

// PlayerParted moves a player's records out of the live map into the
// bounded snapshot cache.
func (s *Store) PlayerParted(playerID string) {
	records, ok := s.players[playerID]
	if !ok {
		return
	}
	delete(s.players, playerID)
	s.parted.Add(playerID, records)
}

// SaveAmount persists an amount change. Best-effort durability: the
// in-memory record stays authoritative on failure.
func (s *Store) SaveAmount(ctx context.Context, playerID, questID string, amount int) {
	if err := s.repo.UpsertAmount(ctx, playerID, questID, amount); err != nil {
		logger.LogError("Failed to persist quest amount", err,
			slog.String("player_id", playerID),
			slog.String("quest_id", questID))
	}
}

func (s *Store) SaveAccepted(ctx context.Context, playerID, questID string) {
	if err := s.repo.MarkAccepted(ctx, playerID, questID); err != nil {
		logger.LogError("Failed to persist quest acceptance", err,
			slog.String("player_id", playerID),
			slog.String("quest_id", questID))
	}
}

func (s *Store) SaveCompleted(ctx context.Context, playerID, questID string) {
	if err := s.repo.MarkCompleted(ctx, playerID, questID); err != nil {
		logger.LogError("Failed to persist quest completion", err,
			slog.String("player_id", playerID),
			slog.String("quest_id", questID))
	}
}

func (s *Store) SaveClaimed(ctx context.Context, playerID, questID string) {
	if err := s.repo.MarkClaimed(ctx, playerID, questID); err != nil {
		logger.LogError("Failed to persist quest claim", err,
			slog.String("player_id", playerID),
			slog.String("quest_id", questID))
	}
}
