package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

// Step advances the world by one tick. It is meant for tests and tools
// that drive the world without Run.
func (w *World) Step() TickLogEntry {
	return w.step()
}

func (w *World) step() TickLogEntry {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.assignTasks(nowTick)
	w.ensureFlowFields(nowTick)

	from := make(map[string]coord.WorldPosition, len(w.order))
	states := make([]controller.AgentState, 0, len(w.order))
	for _, id := range w.order {
		a := w.agents[id]
		from[id] = a.Pos
		states = append(states, controller.AgentState{
			ID:       a.ID,
			Pos:      a.Pos,
			Fatigued: a.Fatigue > 0,
			Request:  a.Task.request(),
		})
	}

	batch := &moveBatch{w: w, moves: map[string]coord.WorldPosition{}}
	outcomes, stats, err := w.ctrl.Tick(nowTick, states, batch)
	if err != nil {
		w.logf("tick %d: controller: %v", nowTick, err)
	}
	reverted := w.applyMoves(batch.moves)

	var moves []RecordedMove
	for _, o := range outcomes {
		a := w.agents[o.ID]
		if a == nil || a.Pos == o.From {
			continue
		}
		moves = append(moves, RecordedMove{
			AgentID: o.ID,
			From:    o.From.String(),
			To:      a.Pos.String(),
			Dir:     o.From.DirectionTo(a.Pos).String(),
			Source:  o.Source,
		})
	}
	crossings := w.crossExits(from)
	w.updateFatigue(from)

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	entry := TickLogEntry{
		Tick:      nowTick,
		Stats:     stats,
		Moves:     moves,
		Crossings: crossings,
		Reverted:  reverted,
		Edits:     w.pendingEdits,
		StepMS:    stepMS,
		Digest:    w.stateDigest(nowTick),
	}
	w.totals.add(stats, len(crossings), len(reverted))

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logf("tick log: %v", err)
		}
	}
	if w.index != nil {
		_ = w.index.WriteTick(entry)
	}

	// Observer stream (read-only).
	w.stepObservers(nowTick, entry)
	w.builtFlows = w.builtFlows[:0]
	w.pendingEdits = nil

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportReplayState(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	nextTick := w.tick.Add(1)
	searches, ops := w.engine.Counters()
	w.metrics.Store(WorldMetrics{
		Tick:      nextTick,
		Agents:    len(w.agents),
		Observers: len(w.observers),
		StepMS:    stepMS,
		Last:      stats,
		Totals:    w.totals,
		Cache:     w.ctrl.Flows().Stats(),
		Searches:  searches,
		SearchOps: ops,
		QueueDepths: QueueDepths{
			ObserverJoin:  len(w.observerJoin),
			ObserverLeave: len(w.observerLeave),
			AgentReq:      len(w.agentReq),
			EditReq:       len(w.editReq),
		},
	})
	return entry
}

// ensureFlowFields builds the field of every hub that is not cached.
func (w *World) ensureFlowFields(nowTick uint64) {
	for _, h := range w.hubs {
		if _, ok := w.ctrl.Flows().Get(h.room, h.key); ok {
			continue
		}
		if _, err := w.ctrl.EnsureFlowField(h.room, h.key, h.tiles, nowTick); err != nil {
			w.logf("flow field %s/%s: %v", h.name, h.key, err)
			continue
		}
		w.builtFlows = append(w.builtFlows, flowKey{room: h.room, key: h.key})
	}
}

// moveBatch collects accepted moves; they are applied together once the
// controller is done with the tick.
type moveBatch struct {
	w     *World
	moves map[string]coord.WorldPosition
}

func (b *moveBatch) Move(id string, dir coord.Direction) error {
	a := b.w.agents[id]
	if a == nil {
		return ErrUnknownAgent
	}
	if a.Fatigue > 0 {
		return ErrFatigued
	}
	to, err := a.Pos.Step(dir)
	if err != nil {
		return err
	}
	if !b.w.passable(to) {
		return ErrImpassable
	}
	b.moves[id] = to
	return nil
}

// applyMoves commits the batch. A mover whose destination ends up shared
// (its holder stayed because its own move was refused) is reverted, which
// can cascade back along a chain.
func (w *World) applyMoves(moves map[string]coord.WorldPosition) []string {
	var reverted []string
	for {
		final := make(map[coord.WorldPosition][]string, len(w.order))
		for _, id := range w.order {
			pos := w.agents[id].Pos
			if to, ok := moves[id]; ok {
				pos = to
			}
			final[pos] = append(final[pos], id)
		}
		changed := false
		for _, ids := range final {
			if len(ids) < 2 {
				continue
			}
			for _, id := range ids {
				if _, ok := moves[id]; ok {
					delete(moves, id)
					reverted = append(reverted, id)
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	for id, to := range moves {
		w.agents[id].Pos = to
	}
	sort.Strings(reverted)
	return reverted
}

// crossExits carries agents that walked onto an exit tile this tick over
// to the facing tile of the neighbouring room, when it is open.
func (w *World) crossExits(from map[string]coord.WorldPosition) []RecordedMove {
	occ := make(map[coord.WorldPosition]string, len(w.order))
	for _, id := range w.order {
		occ[w.agents[id].Pos] = id
	}
	var out []RecordedMove
	for _, id := range w.order {
		a := w.agents[id]
		f := from[id]
		if a.Pos == f || f.IsEdge() || !a.Pos.IsEdge() {
			continue
		}
		dir := exitDirection(a.Pos)
		dest, err := a.Pos.Step(dir)
		if err != nil || !w.passable(dest) {
			continue
		}
		if _, taken := occ[dest]; taken {
			continue
		}
		delete(occ, a.Pos)
		out = append(out, RecordedMove{AgentID: id, From: a.Pos.String(), To: dest.String(), Dir: dir.String()})
		a.Pos = dest
		occ[dest] = id
	}
	return out
}

func exitDirection(p coord.WorldPosition) coord.Direction {
	switch {
	case p.LocalX() == 0:
		return coord.Left
	case p.LocalX() == coord.RoomSize-1:
		return coord.Right
	case p.LocalY() == 0:
		return coord.Top
	default:
		return coord.Bottom
	}
}

// updateFatigue charges agents that entered swamp and rests the others.
func (w *World) updateFatigue(from map[string]coord.WorldPosition) {
	for _, id := range w.order {
		a := w.agents[id]
		if a.Pos != from[id] && w.terrain.At(a.Pos) == terrain.Swamp {
			a.Fatigue = w.swampFatigue
			continue
		}
		if a.Fatigue > 0 {
			a.Fatigue--
		}
	}
}

func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nowTick)
	h.Write(buf[:])
	for _, id := range w.order {
		a := w.agents[id]
		h.Write([]byte(id))
		binary.LittleEndian.PutUint32(buf[:4], a.Pos.XX)
		binary.LittleEndian.PutUint32(buf[4:], a.Pos.YY)
		h.Write(buf[:])
		h.Write([]byte{byte(a.Fatigue)})
	}
	return hex.EncodeToString(h.Sum(nil))
}
