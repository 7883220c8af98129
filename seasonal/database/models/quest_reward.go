package models

import (
	"time"

	"github.com/uptrace/bun"
)

// QuestReward rows are the admin-editable reward set of a quest. The catalog
// reloads them on demand so edits take effect without a restart.
type QuestReward struct {
	bun.BaseModel `bun:"table:quest_rewards,alias:qr"`

	ID        int64     `bun:"id,pk,autoincrement"`
	QuestID   string    `bun:"quest_id,notnull"`
	ItemID    string    `bun:"item_id,notnull"`
	Amount    int       `bun:"amount,notnull,default:1"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
