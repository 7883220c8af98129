package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/eventide-games/seasonal/seasonal/database/models"
	"github.com/eventide-games/seasonal/seasonal/logger"
)

type CatalogRepository interface {
	GetAllDefinitions(ctx context.Context) ([]*models.QuestDefinition, error)
	GetDefinition(ctx context.Context, questID string) (*models.QuestDefinition, error)
	CreateDefinition(ctx context.Context, def *models.QuestDefinition) error

	GetAllChains(ctx context.Context) ([]*models.QuestChain, error)
	GetChain(ctx context.Context, chainID string) (*models.QuestChain, error)

	GetAllRewards(ctx context.Context) ([]*models.QuestReward, error)
	GetRewards(ctx context.Context, questID string) ([]*models.QuestReward, error)
	ReplaceRewards(ctx context.Context, questID string, rewards []*models.QuestReward) error
}

type catalogRepository struct {
	db *bun.DB
}

func NewCatalogRepository(db *bun.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetAllDefinitions(ctx context.Context) ([]*models.QuestDefinition, error) {
	var defs []*models.QuestDefinition
	err := r.db.NewSelect().
		Model(&defs).
		Order("chain_id ASC", "order_index ASC").
		Scan(ctx)

	return defs, err
}

func (r *catalogRepository) GetDefinition(ctx context.Context, questID string) (*models.QuestDefinition, error) {
	def := new(models.QuestDefinition)
	err := r.db.NewSelect().
		Model(def).
		Where("quest_id = ?", questID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quest not found: %s", questID)
		}
		return nil, err
	}

	return def, nil
}

func (r *catalogRepository) CreateDefinition(ctx context.Context, def *models.QuestDefinition) error {
	def.CreatedAt = time.Now()
	def.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(def).Exec(ctx)
	return err
}

func (r *catalogRepository) GetAllChains(ctx context.Context) ([]*models.QuestChain, error) {
	var chains []*models.QuestChain
	err := r.db.NewSelect().
		Model(&chains).
		Order("chain_id ASC").
		Scan(ctx)

	return chains, err
}

func (r *catalogRepository) GetChain(ctx context.Context, chainID string) (*models.QuestChain, error) {
	chain := new(models.QuestChain)
	err := r.db.NewSelect().
		Model(chain).
		Where("chain_id = ?", chainID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quest chain not found: %s", chainID)
		}
		return nil, err
	}

	return chain, nil
}

func (r *catalogRepository) GetAllRewards(ctx context.Context) ([]*models.QuestReward, error) {
	var rewards []*models.QuestReward
	err := r.db.NewSelect().
		Model(&rewards).
		Order("quest_id ASC", "id ASC").
		Scan(ctx)

	return rewards, err
}

func (r *catalogRepository) GetRewards(ctx context.Context, questID string) ([]*models.QuestReward, error) {
	var rewards []*models.QuestReward
	err := r.db.NewSelect().
		Model(&rewards).
		Where("quest_id = ?", questID).
		Order("id ASC").
		Scan(ctx)

	return rewards, err
}

// ReplaceRewards swaps a quest's whole reward set in one transaction, which
// is how admin reward edits arrive.
func (r *catalogRepository) ReplaceRewards(ctx context.Context, questID string, rewards []*models.QuestReward) error {
	start := time.Now()
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.QuestReward)(nil)).
			Where("quest_id = ?", questID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear rewards: %w", err)
		}

		if len(rewards) == 0 {
			return nil
		}

		for _, reward := range rewards {
			reward.QuestID = questID
			reward.CreatedAt = time.Now()
		}
		if _, err := tx.NewInsert().Model(&rewards).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert rewards: %w", err)
		}
		return nil
	})
	logger.LogQuery("replace quest_rewards", time.Since(start), err)
	return err
}
