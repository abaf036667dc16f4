// Package pathfinder finds routes across the multi-room grid with A* and
// jump point search. An Engine owns fixed-size search arrays and is reused
// across searches; it must not be shared between goroutines mid-search.
package pathfinder

import (
	"errors"
	"fmt"
	"math"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

// DefaultCapacity is the arena size in rooms.
const DefaultCapacity = 64

const obstacle = math.MaxUint32

var (
	ErrNoGoals        = errors.New("pathfinder: no goals")
	ErrInvalidOptions = errors.New("pathfinder: invalid options")
	ErrNoTerrain      = errors.New("pathfinder: no terrain for origin room")
)

// Goal is a target tile and the range at which it counts as reached.
type Goal struct {
	Pos   coord.WorldPosition
	Range uint32
}

// Options bound and shape one search. MaxOps and MaxRooms are required.
type Options struct {
	PlainCost uint32
	SwampCost uint32
	MaxRooms  int
	MaxOps    int
	// MaxCost stops the search once g+h exceeds it; zero means no limit.
	MaxCost uint32
	Flee    bool
	// HeuristicWeight multiplies h; zero is treated as 1.
	HeuristicWeight float64
	Costs           terrain.CostProvider
	// Naive expands all eight neighbours of every node instead of jumping.
	Naive bool
}

// Result is the outcome of a search. Incomplete results still carry the
// path to the node closest to a goal.
type Result struct {
	Path       []coord.WorldPosition
	Cost       uint32
	Ops        int
	Incomplete bool
}

// Engine is a reusable search arena.
type Engine struct {
	terrain  terrain.Provider
	capacity int

	rooms   roomTable
	oc      openClosed
	heap    nodeHeap
	parents []uint32
	g       []uint32

	goals  []Goal
	flee   bool
	weight float64
	plain  uint32
	swamp  uint32

	searches uint64
	ops      uint64
}

// NewEngine allocates an arena for up to capacity rooms per search.
func NewEngine(tp terrain.Provider, capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	tiles := capacity * coord.RoomArea
	return &Engine{
		terrain:  tp,
		capacity: capacity,
		rooms:    newRoomTable(capacity),
		oc:       newOpenClosed(tiles),
		heap:     newNodeHeap(tiles),
		parents:  make([]uint32, tiles),
		g:        make([]uint32, tiles),
	}
}

func (e *Engine) Capacity() int { return e.capacity }

// Counters returns the number of searches run and nodes expanded so far.
func (e *Engine) Counters() (searches, ops uint64) { return e.searches, e.ops }

func (o Options) validate(capacity int) error {
	if o.MaxOps <= 0 {
		return fmt.Errorf("%w: max ops %d", ErrInvalidOptions, o.MaxOps)
	}
	if o.MaxRooms <= 0 || o.MaxRooms > capacity {
		return fmt.Errorf("%w: max rooms %d (capacity %d)", ErrInvalidOptions, o.MaxRooms, capacity)
	}
	if o.PlainCost == 0 || o.PlainCost >= 255 || o.SwampCost == 0 || o.SwampCost >= 255 {
		return fmt.Errorf("%w: terrain costs %d/%d", ErrInvalidOptions, o.PlainCost, o.SwampCost)
	}
	if o.HeuristicWeight != 0 && (o.HeuristicWeight < 1 || math.IsNaN(o.HeuristicWeight) || math.IsInf(o.HeuristicWeight, 0)) {
		return fmt.Errorf("%w: heuristic weight %v", ErrInvalidOptions, o.HeuristicWeight)
	}
	return nil
}

// Search finds a route from origin toward the goals.
func (e *Engine) Search(origin coord.WorldPosition, goals []Goal, opts Options) (Result, error) {
	if len(goals) == 0 {
		return Result{}, ErrNoGoals
	}
	if err := opts.validate(e.capacity); err != nil {
		return Result{}, err
	}
	if !origin.InWorld() {
		return Result{}, fmt.Errorf("origin %v: %w", origin, coord.ErrOutOfWorld)
	}
	for _, g := range goals {
		if !g.Pos.InWorld() {
			return Result{}, fmt.Errorf("goal %v: %w", g.Pos, coord.ErrOutOfWorld)
		}
	}
	if _, ok := e.terrain.Terrain(origin.Room()); !ok {
		return Result{}, fmt.Errorf("%v: %w", origin.Room(), ErrNoTerrain)
	}

	e.goals = append(e.goals[:0], goals...)
	e.flee = opts.Flee
	e.weight = opts.HeuristicWeight
	if e.weight == 0 {
		e.weight = 1
	}
	e.plain = opts.PlainCost
	e.swamp = opts.SwampCost
	maxCost := opts.MaxCost
	if maxCost == 0 {
		maxCost = math.MaxUint32
	}

	ox, oy := int(origin.XX), int(origin.YY)
	originH := e.heuristic(ox, oy)
	if originH == 0 {
		return Result{Incomplete: true}, nil
	}

	e.searches++
	e.oc.clear()
	e.heap.reset()
	e.rooms.reset(opts.MaxRooms, e.terrain, opts.Costs)

	if e.rooms.slot(origin.Room()) < 0 {
		return Result{Incomplete: true}, nil
	}
	originIdx := e.index(ox, oy)
	e.g[originIdx] = 0
	e.parents[originIdx] = originIdx
	e.oc.close(originIdx)
	e.astar(originIdx, ox, oy, 0)

	best, bestH := originIdx, originH
	ops := opts.MaxOps
	for !e.heap.empty() && ops > 0 {
		idx, _ := e.heap.pop()
		e.oc.close(idx)

		x, y := e.pos(idx)
		h := e.heuristic(x, y)
		g := e.g[idx]
		if h < bestH {
			best, bestH = idx, h
		}
		if h == 0 {
			break
		}
		if uint64(g)+uint64(h) > uint64(maxCost) {
			break
		}

		if opts.Naive {
			e.astar(idx, x, y, g)
		} else {
			e.jps(idx, x, y, g)
		}
		ops--
	}

	used := opts.MaxOps - ops
	e.ops += uint64(used)
	return Result{
		Path:       e.reconstruct(best, originIdx),
		Cost:       e.g[best],
		Ops:        used,
		Incomplete: bestH != 0,
	}, nil
}

func (e *Engine) reconstruct(idx, origin uint32) []coord.WorldPosition {
	var path []coord.WorldPosition
	for guard := 0; idx != origin && guard < len(e.parents); guard++ {
		x, y := e.pos(idx)
		parent := e.parents[idx]
		px, py := e.pos(parent)
		dx, dy := sign(px-x), sign(py-y)
		for x != px || y != py {
			path = append(path, coord.WorldPosition{XX: uint32(x), YY: uint32(y)})
			x += dx
			y += dy
		}
		idx = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// heuristic is the remaining distance to the nearest goal range, or in flee
// mode the largest shortfall against any goal range.
func (e *Engine) heuristic(x, y int) uint32 {
	p := coord.WorldPosition{XX: uint32(x), YY: uint32(y)}
	if e.flee {
		var h uint32
		for _, g := range e.goals {
			if d := p.RangeTo(g.Pos); d < g.Range {
				h = max(h, g.Range-d)
			}
		}
		return h
	}
	h := uint32(math.MaxUint32)
	for _, g := range e.goals {
		d := p.RangeTo(g.Pos)
		if d <= g.Range {
			return 0
		}
		h = min(h, d-g.Range)
	}
	return h
}

// look returns the cost of entering a tile, or obstacle.
func (e *Engine) look(x, y int) uint32 {
	if x < 0 || y < 0 || x >= coord.WorldSize*coord.RoomSize || y >= coord.WorldSize*coord.RoomSize {
		return obstacle
	}
	slot := e.rooms.slot(coord.MapPosition{XX: uint8(x / coord.RoomSize), YY: uint8(y / coord.RoomSize)})
	if slot < 0 {
		return obstacle
	}
	room := &e.rooms.rooms[slot]
	local := (y%coord.RoomSize)*coord.RoomSize + x%coord.RoomSize
	t := room.terrain[local]
	if t == terrain.Wall {
		return obstacle
	}
	if room.costs != nil {
		switch c := room.costs[local]; c {
		case terrain.CostUnset:
		case terrain.CostImpassable:
			return obstacle
		default:
			return uint32(c)
		}
	}
	if t == terrain.Swamp {
		return e.swamp
	}
	return e.plain
}

// index must only be called for tiles whose room already has a slot.
func (e *Engine) index(x, y int) uint32 {
	slot := e.rooms.slot(coord.MapPosition{XX: uint8(x / coord.RoomSize), YY: uint8(y / coord.RoomSize)})
	return uint32(slot*coord.RoomArea + (y%coord.RoomSize)*coord.RoomSize + x%coord.RoomSize)
}

func (e *Engine) pos(idx uint32) (int, int) {
	room := e.rooms.rooms[idx/coord.RoomArea].pos
	local := int(idx % coord.RoomArea)
	return int(room.XX)*coord.RoomSize + local%coord.RoomSize, int(room.YY)*coord.RoomSize + local/coord.RoomSize
}

func (e *Engine) push(parent uint32, x, y int, g uint32) {
	idx := e.index(x, y)
	if e.oc.isClosed(idx) {
		return
	}
	f := g + uint32(float64(e.heuristic(x, y))*e.weight)
	if e.oc.isOpen(idx) {
		if e.heap.priority(idx) > f {
			e.g[idx] = g
			e.parents[idx] = parent
			e.heap.update(idx, f)
		}
		return
	}
	e.g[idx] = g
	e.parents[idx] = parent
	e.oc.open(idx)
	e.heap.push(idx, f)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
