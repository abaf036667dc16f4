package world

import (
	"encoding/json"
	"strings"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/pathcache"
	"tilemove.ai/internal/observerproto"
	"tilemove.ai/internal/sim/encoding"
)

// ObserverJoinRequest registers a read-only observer session that receives:
// - one ROOM message per subscribed room (DataOut), then
// - a TICK message every tick (TickOut), and
// - FLOW messages when hub fields are built, if requested (DataOut).
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	DataOut   chan []byte

	Rooms []string
	Flows bool
}

// ObserverSubscribeRequest updates an existing observer session subscription settings.
type ObserverSubscribeRequest struct {
	SessionID string
	Rooms     []string
	Flows     bool
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte

	// nil means every room
	rooms map[coord.MapPosition]bool
	flows bool
}

func (c *observerClient) wants(room coord.MapPosition) bool {
	return c.rooms == nil || c.rooms[room]
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if w == nil || req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}

	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}

	c := &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		dataOut: req.DataOut,
		rooms:   w.roomFilter(req.Rooms),
		flows:   req.Flows,
	}
	w.observers[req.SessionID] = c
	w.sendRooms(c, nil)
	if c.flows {
		for _, h := range w.hubs {
			if c.wants(h.room) {
				w.sendFlow(c, flowKey{room: h.room, key: h.key})
			}
		}
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	prev := c.rooms
	c.rooms = w.roomFilter(req.Rooms)
	c.flows = req.Flows
	if prev != nil {
		w.sendRooms(c, prev)
	}
}

func (w *World) handleObserverLeave(sessionID string) {
	if sessionID == "" {
		return
	}
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
	close(c.dataOut)
}

// roomFilter resolves names to rooms, ignoring unknown ones. An empty list
// selects every room.
func (w *World) roomFilter(names []string) map[coord.MapPosition]bool {
	if len(names) == 0 {
		return nil
	}
	out := map[coord.MapPosition]bool{}
	for _, n := range names {
		if r, ok := w.roomByName(strings.TrimSpace(n)); ok {
			out[r.pos] = true
		}
	}
	return out
}

// sendRooms sends ROOM messages for subscribed rooms not in skip.
func (w *World) sendRooms(c *observerClient, skip map[coord.MapPosition]bool) {
	for _, r := range w.rooms {
		if !c.wants(r.pos) || skip[r.pos] {
			continue
		}
		rows, _ := w.RoomRows(r.name)
		b, err := json.Marshal(observerproto.RoomMsg{
			Type:            "ROOM",
			ProtocolVersion: observerproto.Version,
			Room:            r.name,
			Rows:            rows,
		})
		if err != nil {
			continue
		}
		select {
		case c.dataOut <- b:
		default:
		}
	}
}

func (w *World) sendFlow(c *observerClient, k flowKey) {
	field, ok := w.ctrl.Flows().Get(k.room, k.key)
	if !ok {
		return
	}
	name, _ := coord.GridToRoom(k.room)
	b, err := json.Marshal(observerproto.FlowMsg{
		Type:            "FLOW",
		ProtocolVersion: observerproto.Version,
		Room:            name,
		Key:             k.key,
		Built:           w.tick.Load(),
		Dirs:            flowDirs(field),
	})
	if err != nil {
		return
	}
	select {
	case c.dataOut <- b:
	default:
	}
}

func flowDirs(m *pathcache.DirectionMatrix) string {
	buf := make([]byte, coord.RoomArea)
	for i := range buf {
		buf[i] = byte(m.GetIndex(i))
	}
	return encoding.EncodeRLE(buf)
}

func (w *World) stepObservers(nowTick uint64, entry TickLogEntry) {
	if len(w.observers) == 0 {
		return
	}

	agents := make([]observerproto.AgentState, 0, len(w.order))
	agentRooms := make([]coord.MapPosition, 0, len(w.order))
	for _, id := range w.order {
		a := w.agents[id]
		name, _ := coord.GridToRoom(a.Pos.Room())
		st := observerproto.AgentState{
			ID:      a.ID,
			Room:    name,
			X:       a.Pos.LocalX(),
			Y:       a.Pos.LocalY(),
			Fatigue: a.Fatigue,
			Task:    a.Task.Kind,
		}
		if a.Task.Kind != TaskIdle && !a.Task.Target.IsNull() {
			st.Target = a.Task.Target.String()
		}
		if mem, ok := w.ctrl.Memory(id); ok {
			st.Path = mem.Path.String()
		}
		agents = append(agents, st)
		agentRooms = append(agentRooms, a.Pos.Room())
	}
	moves := toMoveInfo(entry.Moves)
	crossings := toMoveInfo(entry.Crossings)
	stats := observerproto.TickStats{
		Requests:    entry.Stats.Requests,
		Moves:       entry.Stats.Moves,
		Blocked:     entry.Stats.Blocked,
		Searches:    entry.Stats.Searches,
		ReplaySteps: entry.Stats.ReplaySteps,
		FlowSteps:   entry.Stats.FlowSteps,
		Passes:      entry.Stats.Passes,
		StepMS:      entry.StepMS,
	}

	for _, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            "TICK",
			ProtocolVersion: observerproto.Version,
			Tick:            nowTick,
			Agents:          agents,
			Moves:           moves,
			Crossings:       crossings,
			Stats:           stats,
		}
		if c.rooms != nil {
			msg.Agents = msg.Agents[:0:0]
			for i, st := range agents {
				if c.rooms[agentRooms[i]] {
					msg.Agents = append(msg.Agents, st)
				}
			}
			msg.Moves = filterMoves(moves, msg.Agents)
			msg.Crossings = filterMoves(crossings, msg.Agents)
		}
		if b, err := json.Marshal(msg); err == nil {
			sendLatest(c.tickOut, b)
		}
		if c.flows {
			for _, k := range w.builtFlows {
				if c.wants(k.room) {
					w.sendFlow(c, k)
				}
			}
		}
	}
}

func toMoveInfo(in []RecordedMove) []observerproto.MoveInfo {
	if len(in) == 0 {
		return nil
	}
	out := make([]observerproto.MoveInfo, len(in))
	for i, m := range in {
		out[i] = observerproto.MoveInfo{AgentID: m.AgentID, From: m.From, To: m.To, Dir: m.Dir, Source: m.Source}
	}
	return out
}

func filterMoves(moves []observerproto.MoveInfo, visible []observerproto.AgentState) []observerproto.MoveInfo {
	if len(moves) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(visible))
	for _, a := range visible {
		ids[a.ID] = true
	}
	var out []observerproto.MoveInfo
	for _, m := range moves {
		if ids[m.AgentID] {
			out = append(out, m)
		}
	}
	return out
}
