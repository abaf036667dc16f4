package world

import (
	"context"
	"errors"
	"fmt"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/persistence/snapshot"
)

var ErrLoopUnavailable = errors.New("world loop not available")

// AgentView is a copy of one agent's state for read-only callers.
type AgentView struct {
	ID        string            `json:"id"`
	Room      string            `json:"room"`
	X         int               `json:"x"`
	Y         int               `json:"y"`
	Fatigue   int               `json:"fatigue"`
	Task      Task              `json:"task"`
	Memory    controller.Memory `json:"memory"`
	HasMemory bool              `json:"has_memory"`
}

type agentReq struct {
	AgentID string
	Resp    chan agentResp
}

type agentResp struct {
	View AgentView
	Err  error
}

// RequestAgent returns an agent's state from the world loop goroutine.
func (w *World) RequestAgent(ctx context.Context, agentID string) (AgentView, error) {
	if w == nil || w.agentReq == nil {
		return AgentView{}, ErrLoopUnavailable
	}
	req := agentReq{AgentID: agentID, Resp: make(chan agentResp, 1)}
	select {
	case w.agentReq <- req:
	case <-ctx.Done():
		return AgentView{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.View, resp.Err
	case <-ctx.Done():
		return AgentView{}, ctx.Err()
	}
}

func (w *World) handleAgentReq(req agentReq) {
	resp := agentResp{}
	defer func() {
		if req.Resp == nil {
			return
		}
		select {
		case req.Resp <- resp:
		default:
		}
	}()
	resp.View, resp.Err = w.Agent(req.AgentID)
}

// Agent reads one agent directly; only safe from the loop goroutine or
// when the loop is not running.
func (w *World) Agent(id string) (AgentView, error) {
	a := w.agents[id]
	if a == nil {
		return AgentView{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	v := AgentView{
		ID:      a.ID,
		X:       a.Pos.LocalX(),
		Y:       a.Pos.LocalY(),
		Fatigue: a.Fatigue,
		Task:    a.Task,
	}
	v.Room, _ = coord.GridToRoom(a.Pos.Room())
	v.Memory, v.HasMemory = w.ctrl.Memory(id)
	return v, nil
}

// AgentIDs lists agents in tick order.
func (w *World) AgentIDs() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

type editKind int

const (
	editInvalidate editKind = iota + 1
	editSetCost
)

type editReq struct {
	Kind editKind
	Room string
	X, Y int
	Cost uint8
	Resp chan editResp
}

type editResp struct {
	Dropped int
	Err     error
}

// RequestInvalidateFlow drops a room's cached flow fields through the loop.
func (w *World) RequestInvalidateFlow(ctx context.Context, room string) (int, error) {
	resp, err := w.sendEdit(ctx, editReq{Kind: editInvalidate, Room: room})
	if err != nil {
		return 0, err
	}
	return resp.Dropped, resp.Err
}

// RequestSetCost changes a structural tile cost through the loop.
func (w *World) RequestSetCost(ctx context.Context, room string, x, y int, cost uint8) error {
	resp, err := w.sendEdit(ctx, editReq{Kind: editSetCost, Room: room, X: x, Y: y, Cost: cost})
	if err != nil {
		return err
	}
	return resp.Err
}

func (w *World) sendEdit(ctx context.Context, req editReq) (editResp, error) {
	if w == nil || w.editReq == nil {
		return editResp{}, ErrLoopUnavailable
	}
	req.Resp = make(chan editResp, 1)
	select {
	case w.editReq <- req:
	case <-ctx.Done():
		return editResp{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-ctx.Done():
		return editResp{}, ctx.Err()
	}
}

func (w *World) handleEditReq(req editReq) {
	var resp editResp
	switch req.Kind {
	case editInvalidate:
		resp.Dropped, resp.Err = w.InvalidateFlow(req.Room)
	case editSetCost:
		resp.Err = w.SetCost(req.Room, req.X, req.Y, req.Cost)
	default:
		resp.Err = fmt.Errorf("unknown edit kind %d", req.Kind)
	}
	if req.Resp != nil {
		select {
		case req.Resp <- resp:
		default:
		}
	}
}

// InvalidateFlow drops every cached flow field of a room. Hubs rebuild on
// the next tick.
func (w *World) InvalidateFlow(name string) (int, error) {
	r, ok := w.roomByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	n := w.ctrl.Flows().Invalidate(r.pos)
	if w.index != nil {
		w.index.RecordInvalidation(w.tick.Load(), name, "", n)
	}
	w.logf("invalidated %d flow field(s) in %s", n, name)
	return n, nil
}

// SetCost edits one structural tile cost (0 clears, 255 blocks) and
// invalidates the room's flow fields. Cached paths are not touched; the
// controller notices a blocked next step on replay.
func (w *World) SetCost(name string, x, y int, cost uint8) error {
	r, ok := w.roomByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	if x < 0 || y < 0 || x >= coord.RoomSize || y >= coord.RoomSize {
		return fmt.Errorf("local (%d,%d): %w", x, y, coord.ErrBadLocal)
	}
	w.costs.set(r.pos, x, y, cost)
	e := snapshot.CostV1{Room: name, X: x, Y: y, Cost: cost, Tick: w.tick.Load()}
	w.edits = append(w.edits, e)
	w.pendingEdits = append(w.pendingEdits, e)
	_, err := w.InvalidateFlow(name)
	return err
}
