package world

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/pathcache"
	"tilemove.ai/internal/movement/pathfinder"
	"tilemove.ai/internal/movement/terrain"
	"tilemove.ai/internal/observerproto"
	"tilemove.ai/internal/persistence/snapshot"
)

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrUnknownRoom  = errors.New("unknown room")
	ErrFatigued     = errors.New("agent is fatigued")
	ErrImpassable   = errors.New("tile is impassable")
)

const (
	TaskHub    = "hub"
	TaskWander = "wander"
	TaskFlee   = "flee"
	TaskIdle   = "idle"
)

type Agent struct {
	ID      string
	Pos     coord.WorldPosition
	Fatigue int
	Task    Task
}

// Task is the synthetic job driving an agent's move requests.
type Task struct {
	Kind    string              `json:"kind"`
	Target  coord.WorldPosition `json:"target"`
	Range   uint32              `json:"range"`
	FlowKey string              `json:"flow_key,omitempty"`
	Since   uint64              `json:"since"`
	Until   uint64              `json:"until,omitempty"`
}

func (t Task) request() *controller.Request {
	switch t.Kind {
	case TaskHub, TaskWander:
		return &controller.Request{Target: t.Target, Range: t.Range, FlowKey: t.FlowKey}
	case TaskFlee:
		return &controller.Request{Target: t.Target, Range: t.Range, Flee: true}
	}
	return nil
}

// World is a single-threaded tick host around the movement controller.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	scenario string
	runID    string
	logger   *log.Logger

	tick atomic.Uint64

	terrain *terrain.Map
	costs   *structureCosts
	engine  *pathfinder.Engine
	ctrl    *controller.Controller

	rooms        []room
	hubs         []hub
	mix          TaskMix
	swampFatigue int

	agents map[string]*Agent
	order  []string

	// cost edits applied after load, replayed on import
	edits []snapshot.CostV1
	// edits since the last tick, carried in the next tick log entry
	pendingEdits []snapshot.CostV1
	// flow fields built during the current tick
	builtFlows []flowKey

	stop          chan struct{}
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	agentReq      chan agentReq
	editReq       chan editReq

	observers map[string]*observerClient

	// Optional hooks (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	index      Index

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.ReplayStateV1

	metrics atomic.Value
	totals  Totals
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Index is a secondary read model of the tick stream.
type Index interface {
	WriteTick(entry TickLogEntry) error
	RecordInvalidation(tick uint64, room, key string, dropped int)
}

type TickLogEntry struct {
	Tick      uint64           `json:"tick"`
	Stats     controller.Stats `json:"stats"`
	Moves     []RecordedMove   `json:"moves,omitempty"`
	Crossings []RecordedMove   `json:"crossings,omitempty"`
	Reverted  []string         `json:"reverted,omitempty"`
	// Edits were applied before this tick was stepped.
	Edits  []snapshot.CostV1 `json:"edits,omitempty"`
	StepMS float64           `json:"step_ms"`
	Digest string            `json:"digest"`
}

type RecordedMove struct {
	AgentID string `json:"agent_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Dir     string `json:"dir"`
	Source  string `json:"source,omitempty"`
}

type flowKey struct {
	room coord.MapPosition
	key  string
}

func New(cfg WorldConfig, scen *Scenario, logger *log.Logger) (*World, error) {
	if scen == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrScenario)
	}
	if cfg.Seed == 0 {
		cfg.Seed = scen.Seed
	}
	cfg.applyDefaults()

	rooms, hubs, err := scen.compile()
	if err != nil {
		return nil, err
	}
	tm := terrain.NewMap()
	costs := newStructureCosts()
	for _, r := range rooms {
		tm.Set(r.pos, r.terrain)
		if r.costs != nil {
			m := *r.costs
			costs.rooms[r.pos] = &m
		}
		if r.blocked {
			costs.blocked[r.pos] = true
		}
	}
	engine := pathfinder.NewEngine(tm, cfg.ArenaRooms)

	mix := scen.Tasks
	mix.applyDefaults(len(hubs))
	fatigue := scen.SwampFatigue
	switch {
	case fatigue == 0:
		fatigue = 1
	case fatigue < 0:
		fatigue = 0
	}

	w := &World{
		cfg:           cfg,
		scenario:      scen.ID,
		runID:         uuid.NewString(),
		logger:        logger,
		terrain:       tm,
		costs:         costs,
		engine:        engine,
		ctrl:          controller.New(engine, tm, costs, pathcache.NewFlowCache(), cfg.Movement, logger),
		rooms:         rooms,
		hubs:          hubs,
		mix:           mix,
		swampFatigue:  fatigue,
		agents:        map[string]*Agent{},
		stop:          make(chan struct{}),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 64),
		agentReq:      make(chan agentReq, 64),
		editReq:       make(chan editReq, 64),
		observers:     map[string]*observerClient{},
	}
	if err := w.spawn(scen.Agents); err != nil {
		return nil, err
	}
	w.metrics.Store(WorldMetrics{Agents: len(w.agents)})
	return w, nil
}

func (w *World) spawn(spec AgentsSpec) error {
	for _, p := range spec.Place {
		m, err := coord.RoomToGrid(p.Room)
		if err != nil {
			return fmt.Errorf("%w: agent %s: %v", ErrScenario, p.ID, err)
		}
		pos, err := coord.LocalToWorld(m, p.X, p.Y)
		if err != nil {
			return fmt.Errorf("%w: agent %s: %v", ErrScenario, p.ID, err)
		}
		if w.agents[p.ID] != nil {
			return fmt.Errorf("%w: duplicate agent %s", ErrScenario, p.ID)
		}
		if !w.passable(pos) || w.occupant(pos) != "" {
			return fmt.Errorf("%w: agent %s placed on blocked tile %v", ErrScenario, p.ID, pos)
		}
		w.addAgent(&Agent{ID: p.ID, Pos: pos})
	}

	var spawnRooms []coord.MapPosition
	for _, r := range w.rooms {
		if r.blocked {
			continue
		}
		if len(spec.Rooms) == 0 || containsString(spec.Rooms, r.name) {
			spawnRooms = append(spawnRooms, r.pos)
		}
	}
	if spec.Count > 0 && len(spawnRooms) == 0 {
		return fmt.Errorf("%w: no room to spawn agents in", ErrScenario)
	}
	rng := rand.New(rand.NewSource(w.cfg.Seed))
	n := 0
	for i := 0; i < spec.Count; i++ {
		pos, ok := w.randomFreeTile(rng, spawnRooms)
		if !ok {
			return fmt.Errorf("%w: no free tile for agent %d", ErrScenario, i)
		}
		var id string
		for {
			n++
			id = fmt.Sprintf("A%d", n)
			if w.agents[id] == nil {
				break
			}
		}
		w.addAgent(&Agent{ID: id, Pos: pos})
	}
	return nil
}

func (w *World) addAgent(a *Agent) {
	w.agents[a.ID] = a
	w.order = append(w.order, a.ID)
	sort.Strings(w.order)
}

// randomFreeTile picks an unoccupied, passable interior tile.
func (w *World) randomFreeTile(rng *rand.Rand, rooms []coord.MapPosition) (coord.WorldPosition, bool) {
	for try := 0; try < 500; try++ {
		room := rooms[rng.Intn(len(rooms))]
		x := 1 + rng.Intn(coord.RoomSize-2)
		y := 1 + rng.Intn(coord.RoomSize-2)
		pos, err := coord.LocalToWorld(room, x, y)
		if err != nil {
			continue
		}
		if w.passable(pos) && w.occupant(pos) == "" {
			return pos, true
		}
	}
	return coord.Null, false
}

func (w *World) passable(p coord.WorldPosition) bool {
	return w.walkable(p) && w.costs.at(p) != terrain.CostImpassable
}

// walkable ignores per-tile structure costs.
func (w *World) walkable(p coord.WorldPosition) bool {
	if !p.InWorld() {
		return false
	}
	t, ok := w.terrain.Terrain(p.Room())
	if !ok || t[p.LocalIndex()] == terrain.Wall {
		return false
	}
	return !w.costs.blocked[p.Room()]
}

// occupant scans agents; callers holding many lookups should build a map.
func (w *World) occupant(p coord.WorldPosition) string {
	for _, id := range w.order {
		if w.agents[id].Pos == p {
			return id
		}
	}
	return ""
}

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

func (w *World) SetTickLogger(l TickLogger)                       { w.tickLogger = l }
func (w *World) SetIndex(idx Index)                               { w.index = idx }
func (w *World) SetSnapshotSink(ch chan<- snapshot.ReplayStateV1) { w.snapshotSink = ch }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) RunID() string      { return w.runID }
func (w *World) ScenarioID() string { return w.scenario }

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Rooms lists the scenario's room names in load order.
func (w *World) Rooms() []string {
	out := make([]string, len(w.rooms))
	for i, r := range w.rooms {
		out[i] = r.name
	}
	return out
}

// RoomRows renders a room's terrain and structural costs as glyph rows.
func (w *World) RoomRows(name string) ([]string, error) {
	r, ok := w.roomByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	t, _ := w.terrain.Terrain(r.pos)
	return terrain.Render(t, w.costs.rooms[r.pos]), nil
}

func (w *World) Hubs() []observerproto.HubInfo {
	out := make([]observerproto.HubInfo, 0, len(w.hubs))
	for _, h := range w.hubs {
		out = append(out, observerproto.HubInfo{Key: h.key, Room: h.name, Tiles: h.tiles, Range: h.rng})
	}
	return out
}

// Controller exposes the movement controller for tools that drive the
// world without its loop.
func (w *World) Controller() *controller.Controller { return w.ctrl }

func (w *World) roomByName(name string) (room, bool) {
	for _, r := range w.rooms {
		if r.name == name {
			return r, true
		}
	}
	return room{}, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
