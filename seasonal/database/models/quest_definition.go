package models

import (
	"time"

	"github.com/uptrace/bun"
)

type QuestDefinition struct {
	bun.BaseModel `bun:"table:quest_definitions,alias:qd"`

	ID             int64     `bun:"id,pk,autoincrement"`
	QuestID        string    `bun:"quest_id,notnull,unique"`
	ChainID        string    `bun:"chain_id,notnull"`
	OrderIndex     int       `bun:"order_index,notnull"`
	Name           string    `bun:"name,notnull"`
	TargetKey      string    `bun:"target_key,notnull"`
	RequiredAmount int       `bun:"required_amount,notnull"`
	Difficulty     string    `bun:"difficulty,notnull,default:'any'"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// Difficulty constraint constants
const (
	DifficultyAny      = "any"
	DifficultyHardOnly = "hard_only"
)
