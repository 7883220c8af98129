package models

import (
	"time"

	"github.com/uptrace/bun"
)

// The four progress tables are composite-keyed on (player_id, quest_id) and
// written through on every quest engine transition. Amounts are upserted;
// the flag tables are insert-once.

type QuestProgress struct {
	bun.BaseModel `bun:"table:quest_progress,alias:qp"`

	PlayerID  string    `bun:"player_id,pk"`
	QuestID   string    `bun:"quest_id,pk"`
	Amount    int       `bun:"amount,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type QuestAccepted struct {
	bun.BaseModel `bun:"table:quest_accepted,alias:qa"`

	PlayerID   string    `bun:"player_id,pk"`
	QuestID    string    `bun:"quest_id,pk"`
	AcceptedAt time.Time `bun:"accepted_at,notnull"`
}

type QuestCompleted struct {
	bun.BaseModel `bun:"table:quest_completed,alias:qm"`

	PlayerID    string    `bun:"player_id,pk"`
	QuestID     string    `bun:"quest_id,pk"`
	CompletedAt time.Time `bun:"completed_at,notnull"`
}

type QuestClaimed struct {
	bun.BaseModel `bun:"table:quest_claimed,alias:ql"`

	PlayerID  string    `bun:"player_id,pk"`
	QuestID   string    `bun:"quest_id,pk"`
	ClaimedAt time.Time `bun:"claimed_at,notnull"`
}
