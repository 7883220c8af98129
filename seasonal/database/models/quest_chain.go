package models

import (
	"time"

	"github.com/uptrace/bun"
)

type QuestChain struct {
	bun.BaseModel `bun:"table:quest_chains,alias:qc"`

	ID          int64     `bun:"id,pk,autoincrement"`
	ChainID     string    `bun:"chain_id,notnull,unique"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}
