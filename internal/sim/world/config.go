package world

import (
	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/pathfinder"
	"tilemove.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	Seed               int64
	SnapshotEveryTicks int

	// ArenaRooms sizes the pathfinder's room table.
	ArenaRooms int
	Movement   controller.Config
}

// ConfigFromTuning builds a world config from a loaded tuning file. A
// non-zero seed overrides the tuning seed.
func ConfigFromTuning(id string, seed int64, t tuning.Tuning) WorldConfig {
	mv := t.Controller()
	if seed != 0 {
		mv.Seed = seed
	}
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		Seed:               mv.Seed,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		ArenaRooms:         t.Pathfinder.ArenaRooms,
		Movement:           mv,
	}
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 5
	}
	if c.ArenaRooms <= 0 {
		c.ArenaRooms = pathfinder.DefaultCapacity
	}
	if c.Movement.MaxOps <= 0 {
		seed := c.Movement.Seed
		c.Movement = controller.DefaultConfig()
		c.Movement.Seed = seed
	}
	if c.Movement.MaxRooms > c.ArenaRooms {
		c.Movement.MaxRooms = c.ArenaRooms
	}
	if c.Movement.Seed == 0 {
		c.Movement.Seed = c.Seed
	}
}
