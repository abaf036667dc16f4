package world

import (
	"math/rand"

	"tilemove.ai/internal/movement/coord"
)

const taskSeedMix = 0x5DEECE66D

// assignTasks hands a new task to every agent whose task is finished,
// expired or missing. The draw order is fixed by the sorted agent IDs.
func (w *World) assignTasks(nowTick uint64) {
	rng := rand.New(rand.NewSource(w.cfg.Seed ^ int64(nowTick*taskSeedMix)))
	for _, id := range w.order {
		a := w.agents[id]
		if !w.taskDone(a, nowTick) {
			continue
		}
		a.Task = w.pickTask(rng, a, nowTick)
	}
}

func (w *World) taskDone(a *Agent, nowTick uint64) bool {
	t := a.Task
	if t.Kind == "" {
		return true
	}
	if nowTick-t.Since >= uint64(w.mix.TimeoutTicks) {
		return true
	}
	switch t.Kind {
	case TaskIdle:
		return nowTick >= t.Until
	case TaskFlee:
		return a.Pos.RangeTo(t.Target) >= t.Range
	default:
		return a.Pos.RangeTo(t.Target) <= t.Range
	}
}

func (w *World) pickTask(rng *rand.Rand, a *Agent, nowTick uint64) Task {
	m := w.mix
	total := m.Hub + m.Wander + m.Flee + m.Idle
	if total <= 0 {
		return Task{Kind: TaskIdle, Since: nowTick, Until: nowTick + uint64(m.IdleTicks)}
	}
	roll := rng.Intn(total)
	switch {
	case roll < m.Hub:
		h := w.hubs[rng.Intn(len(w.hubs))]
		tile := h.tiles[rng.Intn(len(h.tiles))]
		if target, err := coord.LocalToWorld(h.room, tile[0], tile[1]); err == nil {
			return Task{Kind: TaskHub, Target: target, Range: h.rng, FlowKey: h.key, Since: nowTick}
		}
	case roll < m.Hub+m.Wander:
		if target, ok := w.randomTarget(rng); ok {
			return Task{Kind: TaskWander, Target: target, Range: 1, Since: nowTick}
		}
	case roll < m.Hub+m.Wander+m.Flee:
		return Task{Kind: TaskFlee, Target: a.Pos, Range: m.FleeRange, Since: nowTick}
	}
	return Task{Kind: TaskIdle, Since: nowTick, Until: nowTick + uint64(m.IdleTicks)}
}

// randomTarget picks a passable interior tile of an open room; it may be
// occupied.
func (w *World) randomTarget(rng *rand.Rand) (coord.WorldPosition, bool) {
	open := make([]coord.MapPosition, 0, len(w.rooms))
	for _, r := range w.rooms {
		if !r.blocked {
			open = append(open, r.pos)
		}
	}
	if len(open) == 0 {
		return coord.Null, false
	}
	for try := 0; try < 64; try++ {
		room := open[rng.Intn(len(open))]
		pos, err := coord.LocalToWorld(room, 1+rng.Intn(coord.RoomSize-2), 1+rng.Intn(coord.RoomSize-2))
		if err == nil && w.passable(pos) {
			return pos, true
		}
	}
	return coord.Null, false
}
