package quests

import (
	"fmt"
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/eventide-games/seasonal/seasonal/database/models"
)

// Reward is one item grant attached to a quest.
type Reward struct {
	ItemID string
	Amount int
}

// Quest is an immutable catalog entry. Only the reward list may change after
// construction, via ApplyRewards when an admin edits the stored reward set.
type Quest struct {
	ID         string
	ChainID    string
	OrderIndex int
	Name       string
	TargetKey  string
	Required   int
	Difficulty string
	Rewards    []Reward
}

// HardOnly reports whether progress requires a hard-mode kill.
func (q *Quest) HardOnly() bool {
	return q.Difficulty == models.DifficultyHardOnly
}

// Catalog holds the event's quest definitions, indexed for the engine's
// access patterns: by ID for player actions, by chain for unlock checks, by
// target key for progress dispatch.
type Catalog struct {
	byID     map[string]*Quest
	chains   map[string][]*Quest
	byTarget map[string][]*Quest
	ordered  []*Quest
}

// BuildCatalog validates definitions and assembles the catalog. Order
// indexes must be unique within a chain; required amounts must be positive.
func BuildCatalog(defs []*models.QuestDefinition, rewards []*models.QuestReward) (*Catalog, error) {
	c := &Catalog{
		byID:     make(map[string]*Quest, len(defs)),
		chains:   make(map[string][]*Quest),
		byTarget: make(map[string][]*Quest),
	}

	seenOrder := make(map[string]map[int]string)

	for _, def := range defs {
		if def.RequiredAmount <= 0 {
			return nil, fmt.Errorf("quest %s: required amount must be positive, got %d", def.QuestID, def.RequiredAmount)
		}
		if def.Difficulty != models.DifficultyAny && def.Difficulty != models.DifficultyHardOnly {
			return nil, fmt.Errorf("quest %s: unknown difficulty %q", def.QuestID, def.Difficulty)
		}
		if _, dup := c.byID[def.QuestID]; dup {
			return nil, fmt.Errorf("duplicate quest id %s", def.QuestID)
		}
		if orders := seenOrder[def.ChainID]; orders != nil {
			if other, dup := orders[def.OrderIndex]; dup {
				return nil, fmt.Errorf("chain %s: quests %s and %s share order index %d",
					def.ChainID, other, def.QuestID, def.OrderIndex)
			}
		} else {
			seenOrder[def.ChainID] = make(map[int]string)
		}
		seenOrder[def.ChainID][def.OrderIndex] = def.QuestID

		q := &Quest{
			ID:         def.QuestID,
			ChainID:    def.ChainID,
			OrderIndex: def.OrderIndex,
			Name:       def.Name,
			TargetKey:  def.TargetKey,
			Required:   def.RequiredAmount,
			Difficulty: def.Difficulty,
		}

		c.byID[q.ID] = q
		c.chains[q.ChainID] = append(c.chains[q.ChainID], q)
		c.byTarget[q.TargetKey] = append(c.byTarget[q.TargetKey], q)
		c.ordered = append(c.ordered, q)
	}

	for _, chain := range c.chains {
		sort.Slice(chain, func(i, j int) bool {
			return chain[i].OrderIndex < chain[j].OrderIndex
		})
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if c.ordered[i].ChainID != c.ordered[j].ChainID {
			return c.ordered[i].ChainID < c.ordered[j].ChainID
		}
		return c.ordered[i].OrderIndex < c.ordered[j].OrderIndex
	})

	c.ApplyRewards(rewards)
	return c, nil
}

// Quest looks up a quest by ID.
func (c *Catalog) Quest(id string) (*Quest, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// Chain returns a chain's quests in unlock order.
func (c *Catalog) Chain(chainID string) []*Quest {
	return c.chains[chainID]
}

// ByTarget returns every quest matching a target key, across all chains.
func (c *Catalog) ByTarget(key string) []*Quest {
	return c.byTarget[key]
}

// Previous returns the quest that gates q in its chain, or nil for the
// first quest.
func (c *Catalog) Previous(q *Quest) *Quest {
	chain := c.chains[q.ChainID]
	for i, entry := range chain {
		if entry.ID == q.ID {
			if i == 0 {
				return nil
			}
			return chain[i-1]
		}
	}
	return nil
}

// Quests returns all quests in stable chain/order sequence.
func (c *Catalog) Quests() []*Quest {
	return c.ordered
}

// ApplyRewards replaces every quest's reward list from freshly loaded rows.
// Rows referencing unknown quests are skipped.
func (c *Catalog) ApplyRewards(rows []*models.QuestReward) {
	for _, q := range c.byID {
		q.Rewards = nil
	}
	for _, row := range rows {
		q, ok := c.byID[row.QuestID]
		if !ok {
			continue
		}
		q.Rewards = append(q.Rewards, Reward{ItemID: row.ItemID, Amount: row.Amount})
	}
}

// Search finds quests by approximate name match, for admin tooling.
func (c *Catalog) Search(query string, limit int) []*Quest {
	names := make([]string, len(c.ordered))
	for i, q := range c.ordered {
		names[i] = q.Name
	}

	matches := fuzzy.Find(query, names)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*Quest, len(matches))
	for i, m := range matches {
		results[i] = c.ordered[m.Index]
	}
	return results
}
