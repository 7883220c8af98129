package instances

import (
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/eventide-games/seasonal/seasonal/world"
)

// instanceSeq fills the low 22 bits of each ID so that instances minted in
// the same millisecond never collide.
var instanceSeq atomic.Uint64

func newInstanceID() snowflake.ID {
	seq := instanceSeq.Add(1) & 0x3FFFFF
	return snowflake.ID(uint64(snowflake.New(time.Now())) | seq)
}

// Instance is one player's live private copy of the event area. Created
// once, mutated only from the main loop, destroyed through
// Manager.RemoveInstance and nowhere else.
type Instance struct {
	ID          snowflake.ID
	OwnerID     string
	Origin      world.Coordinate
	Bounds      world.Region
	Markers     world.MarkerSet
	PlayerSpawn world.Coordinate
	CreatedAt   time.Time

	tracked     map[world.EntityID]struct{}
	killedMinis map[world.EntityID]struct{}

	miniBossGoal     int
	finalBossSpawned bool
	completed        bool

	// One timer slot holds either the auto-expiry deadline or, once the run
	// is won, the post-completion cleanup countdown. Replacing always
	// cancels the previous occupant, so the two paths are mutually
	// exclusive by construction.
	activeTimer *Task
	reminders   []*Task
}

func newInstance(ownerID string, origin world.Coordinate, bounds world.Region, markers world.MarkerSet, playerSpawn world.Coordinate) *Instance {
	return &Instance{
		ID:          newInstanceID(),
		OwnerID:     ownerID,
		Origin:      origin,
		Bounds:      bounds,
		Markers:     markers,
		PlayerSpawn: playerSpawn,
		CreatedAt:   time.Now(),
		tracked:     make(map[world.EntityID]struct{}),
		killedMinis: make(map[world.EntityID]struct{}),
	}
}

func (i *Instance) Completed() bool {
	return i.completed
}

func (i *Instance) FinalBossSpawned() bool {
	return i.finalBossSpawned
}

// MiniBossGoal is how many mini-boss kills gate the final boss. It follows
// the marker count when fewer than the configured number exist.
func (i *Instance) MiniBossGoal() int {
	return i.miniBossGoal
}

func (i *Instance) MiniBossKills() int {
	return len(i.killedMinis)
}

// Track registers a spawned entity as belonging to this instance so
// teardown can remove it.
func (i *Instance) Track(id world.EntityID) {
	i.tracked[id] = struct{}{}
}

// TrackedEntities returns the handles of all tracked entities.
func (i *Instance) TrackedEntities() []world.EntityID {
	out := make([]world.EntityID, 0, len(i.tracked))
	for id := range i.tracked {
		out = append(out, id)
	}
	return out
}

// recordMiniBossKill adds a kill to the set. Returns false when the handle
// was already recorded; repeated kill notifications for one entity must not
// double count.
func (i *Instance) recordMiniBossKill(id world.EntityID) bool {
	if _, seen := i.killedMinis[id]; seen {
		return false
	}
	i.killedMinis[id] = struct{}{}
	return true
}

// setActiveTimer installs a timer into the single slot, cancelling whatever
// held it before.
func (i *Instance) setActiveTimer(t *Task) {
	i.activeTimer.Cancel()
	i.activeTimer = t
}

func (i *Instance) addReminder(t *Task) {
	i.reminders = append(i.reminders, t)
}

// cancelReminders stops the informational reminder ticks. Called on
// teardown and on completion; a won run has no deadline left to remind
// about.
func (i *Instance) cancelReminders() {
	for _, t := range i.reminders {
		t.Cancel()
	}
	i.reminders = nil
}

// cancelTimers stops the active timer and every reminder. Called on every
// teardown path before anything else is torn down.
func (i *Instance) cancelTimers() {
	i.activeTimer.Cancel()
	i.activeTimer = nil
	i.cancelReminders()
}
