package world

import (
	"errors"
	"fmt"
	"sort"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/pathcache"
	"tilemove.ai/internal/movement/terrain"
	"tilemove.ai/internal/persistence/snapshot"
)

var ErrReplayMismatch = errors.New("replay state does not match world")

func toPos(p coord.WorldPosition) snapshot.PosV1   { return snapshot.PosV1{X: p.XX, Y: p.YY} }
func fromPos(p snapshot.PosV1) coord.WorldPosition { return coord.WorldPosition{XX: p.X, YY: p.Y} }

// ExportReplayState captures agents, their cached paths and the flow
// cache as of the end of nowTick.
func (w *World) ExportReplayState(nowTick uint64) snapshot.ReplayStateV1 {
	s := snapshot.ReplayStateV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			RunID:   w.runID,
			Tick:    nowTick,
		},
		Seed:       w.cfg.Seed,
		TickRate:   w.cfg.TickRateHz,
		ScenarioID: w.scenario,
	}
	for _, id := range w.order {
		a := w.agents[id]
		av := snapshot.AgentV1{
			ID:      a.ID,
			Pos:     toPos(a.Pos),
			Fatigue: a.Fatigue,
			Task: snapshot.TaskV1{
				Kind:    a.Task.Kind,
				Target:  toPos(a.Task.Target),
				Range:   a.Task.Range,
				FlowKey: a.Task.FlowKey,
				Since:   a.Task.Since,
				Until:   a.Task.Until,
			},
		}
		if mem, ok := w.ctrl.Memory(id); ok {
			av.HasMem = true
			av.Path = mem.Path.String()
			av.Target = toPos(mem.Target)
			av.Range = mem.Range
			av.Flee = mem.Flee
			av.Expect = toPos(mem.Expect)
			av.Stuck = mem.Stuck
		}
		s.Agents = append(s.Agents, av)
	}
	for _, r := range w.ctrl.Flows().Export() {
		s.Flows = append(s.Flows, snapshot.FlowV1{Room: r.Room, Key: r.Key, Built: r.Built, Field: r.Field})
	}
	s.Costs = append(s.Costs, w.edits...)
	return s
}

// ImportReplayState replaces agents, paths and flow fields with a saved
// state. It must run before Run, or on the loop goroutine.
func (w *World) ImportReplayState(s snapshot.ReplayStateV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("%w: %d", snapshot.ErrVersion, s.Header.Version)
	}
	if s.ScenarioID != w.scenario {
		return fmt.Errorf("%w: scenario %q, world runs %q", ErrReplayMismatch, s.ScenarioID, w.scenario)
	}

	// Nothing is mutated until the whole state has been checked.
	edited := make(map[coord.WorldPosition]uint8, len(s.Costs))
	editAt := make([]coord.WorldPosition, len(s.Costs))
	for i, e := range s.Costs {
		r, ok := w.roomByName(e.Room)
		if !ok {
			return fmt.Errorf("%w: cost edit in unknown room %q", ErrReplayMismatch, e.Room)
		}
		p, err := coord.LocalToWorld(r.pos, e.X, e.Y)
		if err != nil {
			return fmt.Errorf("%w: cost edit %s (%d,%d): %v", ErrReplayMismatch, e.Room, e.X, e.Y, err)
		}
		edited[p] = e.Cost
		editAt[i] = p
	}
	passable := func(p coord.WorldPosition) bool {
		if v, ok := edited[p]; ok {
			return v != terrain.CostImpassable && w.walkable(p)
		}
		return w.passable(p)
	}

	agents := make(map[string]*Agent, len(s.Agents))
	taken := make(map[coord.WorldPosition]string, len(s.Agents))
	for _, av := range s.Agents {
		pos := fromPos(av.Pos)
		if !passable(pos) {
			return fmt.Errorf("%w: agent %s on impassable tile %v", ErrReplayMismatch, av.ID, pos)
		}
		if other, dup := taken[pos]; dup {
			return fmt.Errorf("%w: agents %s and %s share %v", ErrReplayMismatch, other, av.ID, pos)
		}
		if agents[av.ID] != nil {
			return fmt.Errorf("%w: duplicate agent %s", ErrReplayMismatch, av.ID)
		}
		taken[pos] = av.ID
		agents[av.ID] = &Agent{
			ID:      av.ID,
			Pos:     pos,
			Fatigue: av.Fatigue,
			Task: Task{
				Kind:    av.Task.Kind,
				Target:  fromPos(av.Task.Target),
				Range:   av.Task.Range,
				FlowKey: av.Task.FlowKey,
				Since:   av.Task.Since,
				Until:   av.Task.Until,
			},
		}
	}

	records := make([]pathcache.FlowRecord, 0, len(s.Flows))
	for _, f := range s.Flows {
		records = append(records, pathcache.FlowRecord{Room: f.Room, Key: f.Key, Built: f.Built, Field: f.Field})
	}
	if err := w.ctrl.Flows().Import(records); err != nil {
		return fmt.Errorf("flows: %w", err)
	}

	for i, e := range s.Costs {
		w.costs.set(editAt[i].Room(), e.X, e.Y, e.Cost)
	}
	w.edits = append(w.edits[:0], s.Costs...)
	w.pendingEdits = nil

	for _, id := range w.ctrl.Memories() {
		w.ctrl.ForgetAgent(id)
	}
	for _, av := range s.Agents {
		if !av.HasMem {
			continue
		}
		path := pathcache.Path(av.Path)
		if !path.Valid() {
			path = ""
		}
		w.ctrl.SetMemory(av.ID, controller.Memory{
			Path:   path,
			Target: fromPos(av.Target),
			Range:  av.Range,
			Flee:   av.Flee,
			Expect: fromPos(av.Expect),
			Stuck:  av.Stuck,
		})
	}

	w.agents = agents
	w.order = w.order[:0]
	for id := range agents {
		w.order = append(w.order, id)
	}
	sort.Strings(w.order)
	w.tick.Store(s.Header.Tick + 1)
	return nil
}
