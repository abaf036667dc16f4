// Package controller turns per-agent move requests into arbitrated move
// commands once per tick, replaying cached paths and flow fields where it can.
package controller

import (
	"log"
	"math"
	"sort"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/pathcache"
	"tilemove.ai/internal/movement/pathfinder"
	"tilemove.ai/internal/movement/terrain"
	"tilemove.ai/internal/movement/traffic"
)

type Config struct {
	PlainCost       uint32
	SwampCost       uint32
	MaxRooms        int
	MaxOps          int
	HeuristicWeight float64
	PathAge         int
	// AgentCost is the tile cost of an occupied tile when avoiding agents.
	AgentCost uint8
	// StuckRepath forces a fresh search that avoids agents after this many
	// blocked ticks in a row. Zero disables it.
	StuckRepath int
	SinglePass  bool
	Seed        int64
}

func DefaultConfig() Config {
	return Config{
		PlainCost:       2,
		SwampCost:       5,
		MaxRooms:        15,
		MaxOps:          12000,
		HeuristicWeight: 1.2,
		PathAge:         pathcache.DefaultPathAge,
		AgentCost:       6,
		StuckRepath:     3,
	}
}

// MoveOptions adjust a single request. Zero values fall back to Config.
type MoveOptions struct {
	PathAge     int
	IgnoreCache bool
	AvoidAgents bool
	MaxOps      int
	MaxRooms    int
}

// Request asks to move within Range of Target, or with Flee set, to at
// least Range away from it. FlowKey names a cached flow field to follow
// when one exists for the agent's room.
type Request struct {
	Target  coord.WorldPosition
	Range   uint32
	Flee    bool
	FlowKey string
	Options MoveOptions
}

type AgentState struct {
	ID       string
	Pos      coord.WorldPosition
	Fatigued bool
	// Request is nil for agents with nothing to do this tick.
	Request *Request
}

// Memory is the per-agent state kept between ticks.
type Memory struct {
	Path   pathcache.Path      `json:"path"`
	Target coord.WorldPosition `json:"target"`
	Range  uint32              `json:"range"`
	Flee   bool                `json:"flee,omitempty"`
	Expect coord.WorldPosition `json:"expect"`
	Stuck  int                 `json:"stuck,omitempty"`
}

// Stats describes one tick.
type Stats struct {
	Agents       int `json:"agents"`
	Requests     int `json:"requests"`
	Arrived      int `json:"arrived"`
	FlowSteps    int `json:"flow_steps"`
	ReplaySteps  int `json:"replay_steps"`
	Searches     int `json:"searches"`
	SearchOps    int `json:"search_ops"`
	Incomplete   int `json:"incomplete"`
	SearchErrors int `json:"search_errors"`
	StalePaths   int `json:"stale_paths"`
	Moves        int `json:"moves"`
	Blocked      int `json:"blocked"`
	Shoved       int `json:"shoved"`
	MoveErrors   int `json:"move_errors"`
	Passes       int `json:"passes"`
}

// Outcome is what happened to one agent this tick.
type Outcome struct {
	ID       string              `json:"id"`
	From     coord.WorldPosition `json:"from"`
	Intended coord.WorldPosition `json:"intended"`
	Matched  coord.WorldPosition `json:"matched"`
	Dir      coord.Direction     `json:"dir,omitempty"`
	Source   string              `json:"source,omitempty"`
}

const (
	sourceFlow   = "flow"
	sourceReplay = "replay"
	sourceSearch = "search"
)

type Controller struct {
	engine  *pathfinder.Engine
	terrain terrain.Provider
	costs   terrain.CostProvider
	flows   *pathcache.FlowCache
	arbiter *traffic.Arbiter
	cfg     Config
	logger  *log.Logger

	memory map[string]*Memory

	// per-tick
	overlays map[coord.MapPosition]terrain.Overlay
	crowded  map[coord.MapPosition]*terrain.CostMatrix
	occupied map[coord.WorldPosition]bool
}

// New wires a controller. costs supplies structural overlays (roads,
// buildings) and may be nil.
func New(engine *pathfinder.Engine, tp terrain.Provider, costs terrain.CostProvider, flows *pathcache.FlowCache, cfg Config, logger *log.Logger) *Controller {
	if flows == nil {
		flows = pathcache.NewFlowCache()
	}
	c := &Controller{
		engine:   engine,
		terrain:  tp,
		costs:    costs,
		flows:    flows,
		cfg:      cfg,
		logger:   logger,
		memory:   map[string]*Memory{},
		overlays: map[coord.MapPosition]terrain.Overlay{},
		crowded:  map[coord.MapPosition]*terrain.CostMatrix{},
		occupied: map[coord.WorldPosition]bool{},
	}
	c.arbiter = traffic.NewArbiter(c.neighbors, traffic.Options{SinglePass: cfg.SinglePass, Seed: cfg.Seed})
	return c
}

func (c *Controller) Flows() *pathcache.FlowCache { return c.flows }

// Tick computes intents, arbitrates them and sends the resulting moves.
func (c *Controller) Tick(tick uint64, agents []AgentState, sink traffic.Sink) ([]Outcome, Stats, error) {
	clear(c.overlays)
	clear(c.crowded)
	clear(c.occupied)
	for _, a := range agents {
		c.occupied[a.Pos] = true
	}

	st := Stats{Agents: len(agents)}
	outcomes := make([]Outcome, len(agents))
	arb := make([]traffic.Agent, len(agents))
	fromPath := make([]bool, len(agents))
	for i, a := range agents {
		intent := coord.Null
		source := ""
		if a.Request != nil {
			st.Requests++
			intent, source = c.intend(a, &st)
			fromPath[i] = source == sourceReplay || source == sourceSearch
		}
		outcomes[i] = Outcome{ID: a.ID, From: a.Pos, Intended: intent, Source: source}
		arb[i] = traffic.Agent{
			ID:      a.ID,
			Pos:     a.Pos,
			Intent:  intent,
			Movable: !a.Fatigued,
		}
	}

	res, err := c.arbiter.Resolve(tick, arb)
	if err != nil {
		return nil, st, err
	}
	st.Passes = res.Passes

	rejected := map[string]bool{}
	st.Moves = traffic.Dispatch(sink, res.Moves, func(m traffic.Move, err error) {
		st.MoveErrors++
		rejected[m.ID] = true
		if c.logger != nil {
			c.logger.Printf("move %s %v rejected: %v", m.ID, m.Dir, err)
		}
	})

	for i, a := range agents {
		matched := res.Matched[i]
		if rejected[a.ID] {
			matched = a.Pos
		}
		outcomes[i].Matched = matched
		if matched != a.Pos {
			outcomes[i].Dir = a.Pos.DirectionTo(matched)
		}
		mem := c.memory[a.ID]
		intent := outcomes[i].Intended
		switch {
		case !intent.IsNull() && matched == intent:
			if mem != nil {
				if fromPath[i] {
					mem.Path = mem.Path.Advance()
				}
				mem.Expect = matched
				mem.Stuck = 0
			}
		case matched != a.Pos:
			st.Shoved++
			if mem != nil {
				mem.Path = ""
				mem.Expect = matched
			}
		default:
			if !intent.IsNull() {
				st.Blocked++
			}
			if mem != nil {
				mem.Expect = a.Pos
				if !intent.IsNull() {
					mem.Stuck++
				}
			}
		}
	}
	return outcomes, st, nil
}

// intend picks the tile an agent wants to enter this tick.
func (c *Controller) intend(a AgentState, st *Stats) (coord.WorldPosition, string) {
	req := a.Request
	mem := c.memory[a.ID]
	if mem == nil {
		mem = &Memory{Expect: a.Pos}
		c.memory[a.ID] = mem
	}

	if arrived(a.Pos, req) {
		st.Arrived++
		mem.Path = ""
		mem.Stuck = 0
		return coord.Null, ""
	}
	if mem.Target != req.Target || mem.Range != req.Range || mem.Flee != req.Flee {
		mem.Path = ""
		mem.Stuck = 0
		mem.Target, mem.Range, mem.Flee = req.Target, req.Range, req.Flee
	}
	if mem.Expect != a.Pos && !crossedSeam(mem.Expect, a.Pos) {
		mem.Path = ""
	}
	mem.Expect = a.Pos
	if a.Fatigued {
		return coord.Null, ""
	}

	if req.FlowKey != "" && !req.Flee {
		if next, ok := c.flowStep(a.Pos, req.FlowKey); ok {
			st.FlowSteps++
			mem.Path = ""
			return next, sourceFlow
		}
	}

	avoid := req.Options.AvoidAgents
	if c.cfg.StuckRepath > 0 && mem.Stuck >= c.cfg.StuckRepath {
		mem.Path = ""
		mem.Stuck = 0
		avoid = true
	}
	if req.Options.IgnoreCache {
		mem.Path = ""
	}
	if !mem.Path.Empty() {
		if next, ok := c.pathStep(a.Pos, mem.Path); ok {
			st.ReplaySteps++
			return next, sourceReplay
		}
		st.StalePaths++
		mem.Path = ""
	}

	res, err := c.search(a.Pos, req, avoid)
	if err != nil {
		st.SearchErrors++
		if c.logger != nil {
			c.logger.Printf("search %s from %v: %v", a.ID, a.Pos, err)
		}
		return coord.Null, ""
	}
	st.Searches++
	st.SearchOps += res.Ops
	if res.Incomplete {
		st.Incomplete++
	}
	age := req.Options.PathAge
	if age <= 0 {
		age = c.cfg.PathAge
	}
	mem.Path = pathcache.Serialize(a.Pos, res.Path, age)
	if next, ok := c.pathStep(a.Pos, mem.Path); ok {
		return next, sourceSearch
	}
	mem.Path = ""
	return coord.Null, ""
}

func arrived(pos coord.WorldPosition, req *Request) bool {
	d := pos.RangeTo(req.Target)
	if req.Flee {
		return d >= req.Range
	}
	return d <= req.Range
}

func crossedSeam(expect, pos coord.WorldPosition) bool {
	return !expect.IsNull() && expect.IsEdge() && pos.IsEdge() && expect.Room() != pos.Room() && expect.RangeTo(pos) == 1
}

func (c *Controller) pathStep(pos coord.WorldPosition, p pathcache.Path) (coord.WorldPosition, bool) {
	d := p.Peek()
	if d == coord.None {
		return coord.Null, false
	}
	next, err := pos.Step(d)
	if err != nil || !c.passable(next) {
		return coord.Null, false
	}
	return next, true
}

func (c *Controller) flowStep(pos coord.WorldPosition, key string) (coord.WorldPosition, bool) {
	field, ok := c.flows.Get(pos.Room(), key)
	if !ok {
		return coord.Null, false
	}
	d := field.GetIndex(pos.LocalIndex())
	if d == coord.None {
		return coord.Null, false
	}
	next, err := pos.Step(d)
	if err != nil || !c.passable(next) {
		return coord.Null, false
	}
	return next, true
}

func (c *Controller) search(pos coord.WorldPosition, req *Request, avoid bool) (pathfinder.Result, error) {
	opts := pathfinder.Options{
		PlainCost:       c.cfg.PlainCost,
		SwampCost:       c.cfg.SwampCost,
		MaxRooms:        c.cfg.MaxRooms,
		MaxOps:          c.cfg.MaxOps,
		HeuristicWeight: c.cfg.HeuristicWeight,
		Flee:            req.Flee,
		Costs:           terrain.CostFunc(c.overlay),
	}
	if avoid {
		opts.Costs = terrain.CostFunc(c.crowdedOverlay)
	}
	if req.Options.MaxOps > 0 {
		opts.MaxOps = req.Options.MaxOps
	}
	if req.Options.MaxRooms > 0 {
		opts.MaxRooms = min(req.Options.MaxRooms, c.engine.Capacity())
	}
	return c.engine.Search(pos, []pathfinder.Goal{{Pos: req.Target, Range: req.Range}}, opts)
}

// overlay caches the structural overlay per room for the tick.
func (c *Controller) overlay(room coord.MapPosition) terrain.Overlay {
	if ov, ok := c.overlays[room]; ok {
		return ov
	}
	var ov terrain.Overlay
	if c.costs != nil {
		ov = c.costs.CostOverlay(room)
	}
	c.overlays[room] = ov
	return ov
}

// crowdedOverlay adds occupied tiles to the structural overlay.
func (c *Controller) crowdedOverlay(room coord.MapPosition) terrain.Overlay {
	base := c.overlay(room)
	if base.Blocked {
		return base
	}
	if m, ok := c.crowded[room]; ok {
		return terrain.Overlay{Matrix: m}
	}
	var m terrain.CostMatrix
	if base.Matrix != nil {
		m = *base.Matrix
	}
	for p := range c.occupied {
		if p.Room() != room {
			continue
		}
		i := p.LocalIndex()
		if m[i] != terrain.CostImpassable && m[i] < c.cfg.AgentCost {
			m[i] = c.cfg.AgentCost
		}
	}
	c.crowded[room] = &m
	return terrain.Overlay{Matrix: &m}
}

func (c *Controller) passable(p coord.WorldPosition) bool {
	if !p.InWorld() {
		return false
	}
	t, ok := c.terrain.Terrain(p.Room())
	if !ok || t[p.LocalIndex()] == terrain.Wall {
		return false
	}
	ov := c.overlay(p.Room())
	if ov.Blocked {
		return false
	}
	return ov.Matrix == nil || ov.Matrix[p.LocalIndex()] != terrain.CostImpassable
}

// neighbors lists the tiles an idle agent can be pushed onto.
func (c *Controller) neighbors(p coord.WorldPosition) []coord.WorldPosition {
	out := make([]coord.WorldPosition, 0, 8)
	for _, d := range coord.Directions {
		n, err := p.Step(d)
		if err != nil || n.IsEdge() || !c.passable(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// EnsureFlowField builds the named field for a room unless it is cached.
func (c *Controller) EnsureFlowField(room coord.MapPosition, key string, sources [][2]int, tick uint64) (*pathcache.DirectionMatrix, error) {
	return c.flows.GetOrBuild(room, key, tick, func() (*pathcache.DirectionMatrix, error) {
		t, ok := c.terrain.Terrain(room)
		if !ok {
			return nil, pathfinder.ErrNoTerrain
		}
		var m *terrain.CostMatrix
		if c.costs != nil {
			m = c.costs.CostOverlay(room).Matrix
		}
		return pathcache.GenerateFlowField(pathcache.FlowCosts(t, m), sources)
	})
}

// EstimateDistance returns the route length between two tiles, or 1.75x
// the straight-line range when no complete route is found.
func (c *Controller) EstimateDistance(from, to coord.WorldPosition, rng uint32) int {
	if from.RangeTo(to) <= rng {
		return 0
	}
	res, err := c.search(from, &Request{Target: to, Range: rng}, false)
	if err == nil && !res.Incomplete {
		return len(res.Path)
	}
	return int(math.Round(float64(from.RangeTo(to)) * 1.75))
}

func (c *Controller) Memory(id string) (Memory, bool) {
	m, ok := c.memory[id]
	if !ok {
		return Memory{}, false
	}
	return *m, true
}

func (c *Controller) SetMemory(id string, m Memory) {
	cp := m
	c.memory[id] = &cp
}

func (c *Controller) ForgetAgent(id string) { delete(c.memory, id) }

// Memories returns agent IDs with stored memory, sorted.
func (c *Controller) Memories() []string {
	ids := make([]string, 0, len(c.memory))
	for id := range c.memory {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
