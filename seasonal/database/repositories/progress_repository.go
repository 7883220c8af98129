package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/eventide-games/seasonal/seasonal/database/models"
	"github.com/eventide-games/seasonal/seasonal/logger"
)

// PlayerRows is everything persisted for one player, loaded in one shot when
// the player's records are first touched.
type PlayerRows struct {
	Progress  []*models.QuestProgress
	Accepted  []*models.QuestAccepted
	Completed []*models.QuestCompleted
	Claimed   []*models.QuestClaimed
}

// Standing is one row of the end-of-event completion standings.
type Standing struct {
	PlayerID  string `bun:"player_id"`
	Completed int    `bun:"completed"`
	Claimed   int    `bun:"claimed"`
}

type ProgressRepository interface {
	LoadPlayer(ctx context.Context, playerID string) (*PlayerRows, error)
	UpsertAmount(ctx context.Context, playerID, questID string, amount int) error
	MarkAccepted(ctx context.Context, playerID, questID string) error
	MarkCompleted(ctx context.Context, playerID, questID string) error
	MarkClaimed(ctx context.Context, playerID, questID string) error
	CompletionStandings(ctx context.Context) ([]*Standing, error)
}

type progressRepository struct {
	db *bun.DB
}

func NewProgressRepository(db *bun.DB) ProgressRepository {
	return &progressRepository{db: db}
}

func (r *progressRepository) LoadPlayer(ctx context.Context, playerID string) (*PlayerRows, error) {
	start := time.Now()
	rows := &PlayerRows{}

	if err := r.db.NewSelect().
		Model(&rows.Progress).
		Where("player_id = ?", playerID).
		Scan(ctx); err != nil {
		return nil, err
	}
	if err := r.db.NewSelect().
		Model(&rows.Accepted).
		Where("player_id = ?", playerID).
		Scan(ctx); err != nil {
		return nil, err
	}
	if err := r.db.NewSelect().
		Model(&rows.Completed).
		Where("player_id = ?", playerID).
		Scan(ctx); err != nil {
		return nil, err
	}
	if err := r.db.NewSelect().
		Model(&rows.Claimed).
		Where("player_id = ?", playerID).
		Scan(ctx); err != nil {
		return nil, err
	}

	logger.LogQuery("load player progress", time.Since(start), nil)
	return rows, nil
}

func (r *progressRepository) UpsertAmount(ctx context.Context, playerID, questID string, amount int) error {
	row := &models.QuestProgress{
		PlayerID:  playerID,
		QuestID:   questID,
		Amount:    amount,
		UpdatedAt: time.Now(),
	}

	start := time.Now()
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (player_id, quest_id) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	logger.LogQuery("upsert quest_progress", time.Since(start), err)

	return err
}

func (r *progressRepository) MarkAccepted(ctx context.Context, playerID, questID string) error {
	row := &models.QuestAccepted{
		PlayerID:   playerID,
		QuestID:    questID,
		AcceptedAt: time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (player_id, quest_id) DO NOTHING").
		Exec(ctx)

	return err
}

func (r *progressRepository) MarkCompleted(ctx context.Context, playerID, questID string) error {
	row := &models.QuestCompleted{
		PlayerID:    playerID,
		QuestID:     questID,
		CompletedAt: time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (player_id, quest_id) DO NOTHING").
		Exec(ctx)

	return err
}

func (r *progressRepository) MarkClaimed(ctx context.Context, playerID, questID string) error {
	row := &models.QuestClaimed{
		PlayerID:  playerID,
		QuestID:   questID,
		ClaimedAt: time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (player_id, quest_id) DO NOTHING").
		Exec(ctx)

	return err
}

func (r *progressRepository) CompletionStandings(ctx context.Context) ([]*Standing, error) {
	var standings []*Standing
	err := r.db.NewSelect().
		ColumnExpr("qm.player_id AS player_id").
		ColumnExpr("count(*) AS completed").
		ColumnExpr("count(ql.quest_id) AS claimed").
		TableExpr("quest_completed AS qm").
		Join("LEFT JOIN quest_claimed ql ON ql.player_id = qm.player_id AND ql.quest_id = qm.quest_id").
		GroupExpr("qm.player_id").
		OrderExpr("completed DESC, claimed DESC").
		Scan(ctx, &standings)

	return standings, err
}
