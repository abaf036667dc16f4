package world

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

var ErrScenario = errors.New("scenario: invalid")

// Scenario describes the rooms, agents and hubs a world starts with.
type Scenario struct {
	ID     string     `yaml:"id"`
	Seed   int64      `yaml:"seed"`
	Rooms  []RoomSpec `yaml:"rooms"`
	Agents AgentsSpec `yaml:"agents"`
	Hubs   []HubSpec  `yaml:"hubs"`
	Tasks  TaskMix    `yaml:"tasks"`

	// SwampFatigue is how many ticks an agent rests after entering swamp.
	SwampFatigue int `yaml:"swamp_fatigue"`
}

// RoomSpec is either 50 explicit rows, or a walled room with open exits
// and painted rectangles.
type RoomSpec struct {
	Name    string   `yaml:"name"`
	Rows    []string `yaml:"rows,omitempty"`
	Exits   string   `yaml:"exits,omitempty"`
	Paint   []Paint  `yaml:"paint,omitempty"`
	Blocked bool     `yaml:"blocked,omitempty"`
}

// Paint fills the inclusive rectangle [x0,y0,x1,y1] with one glyph.
type Paint struct {
	Glyph string `yaml:"glyph"`
	Rect  [4]int `yaml:"rect"`
}

type AgentsSpec struct {
	// Count agents are spawned on random free tiles of Rooms (every
	// unblocked room when empty), in addition to Place.
	Count int          `yaml:"count"`
	Rooms []string     `yaml:"rooms,omitempty"`
	Place []AgentPlace `yaml:"place,omitempty"`
}

type AgentPlace struct {
	ID   string `yaml:"id"`
	Room string `yaml:"room"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
}

// HubSpec is a set of destination tiles with a cached flow field.
type HubSpec struct {
	Key   string   `yaml:"key"`
	Room  string   `yaml:"room"`
	Tiles [][2]int `yaml:"tiles"`
	Range uint32   `yaml:"range"`
}

// TaskMix weights the synthetic tasks handed to agents.
type TaskMix struct {
	Hub    int `yaml:"hub"`
	Wander int `yaml:"wander"`
	Flee   int `yaml:"flee"`
	Idle   int `yaml:"idle"`

	IdleTicks    int    `yaml:"idle_ticks"`
	FleeRange    uint32 `yaml:"flee_range"`
	TimeoutTicks int    `yaml:"timeout_ticks"`
}

func (m *TaskMix) applyDefaults(hubs int) {
	if m.Hub <= 0 && m.Wander <= 0 && m.Flee <= 0 && m.Idle <= 0 {
		m.Hub, m.Wander, m.Flee, m.Idle = 50, 35, 5, 10
	}
	if hubs == 0 {
		m.Hub = 0
	}
	if m.IdleTicks <= 0 {
		m.IdleTicks = 5
	}
	if m.FleeRange == 0 {
		m.FleeRange = 8
	}
	if m.TimeoutTicks <= 0 {
		m.TimeoutTicks = 300
	}
}

type room struct {
	name    string
	pos     coord.MapPosition
	terrain *terrain.RoomTerrain
	costs   *terrain.CostMatrix
	blocked bool
}

type hub struct {
	key   string
	room  coord.MapPosition
	name  string
	tiles [][2]int
	rng   uint32
}

func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseScenario(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScenario, err)
	}
	if _, _, err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// compile parses every room and hub.
func (s *Scenario) compile() ([]room, []hub, error) {
	if len(s.Rooms) == 0 {
		return nil, nil, fmt.Errorf("%w: no rooms", ErrScenario)
	}
	rooms := make([]room, 0, len(s.Rooms))
	byName := map[string]int{}
	for _, rs := range s.Rooms {
		pos, err := coord.RoomToGrid(rs.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: room %q: %v", ErrScenario, rs.Name, err)
		}
		if _, dup := byName[rs.Name]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate room %q", ErrScenario, rs.Name)
		}
		rows := rs.Rows
		if len(rows) == 0 {
			rows, err = paintRoom(rs.Exits, rs.Paint)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: room %q: %v", ErrScenario, rs.Name, err)
			}
		}
		ter, costs, err := terrain.ParseRoom(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: room %q: %v", ErrScenario, rs.Name, err)
		}
		byName[rs.Name] = len(rooms)
		rooms = append(rooms, room{name: rs.Name, pos: pos, terrain: ter, costs: costs, blocked: rs.Blocked})
	}

	hubs := make([]hub, 0, len(s.Hubs))
	seen := map[string]bool{}
	for _, hs := range s.Hubs {
		i, ok := byName[hs.Room]
		if !ok {
			return nil, nil, fmt.Errorf("%w: hub %q in unknown room %q", ErrScenario, hs.Key, hs.Room)
		}
		if hs.Key == "" || len(hs.Tiles) == 0 {
			return nil, nil, fmt.Errorf("%w: hub in %q needs a key and tiles", ErrScenario, hs.Room)
		}
		if seen[hs.Key] {
			return nil, nil, fmt.Errorf("%w: duplicate hub key %q", ErrScenario, hs.Key)
		}
		seen[hs.Key] = true
		for _, t := range hs.Tiles {
			if t[0] < 1 || t[1] < 1 || t[0] > coord.RoomSize-2 || t[1] > coord.RoomSize-2 {
				return nil, nil, fmt.Errorf("%w: hub %q tile %v outside room interior", ErrScenario, hs.Key, t)
			}
		}
		hubs = append(hubs, hub{key: hs.Key, room: rooms[i].pos, name: hs.Room, tiles: hs.Tiles, rng: hs.Range})
	}

	for _, p := range s.Agents.Place {
		if _, ok := byName[p.Room]; !ok || p.ID == "" {
			return nil, nil, fmt.Errorf("%w: agent %q placed in unknown room %q", ErrScenario, p.ID, p.Room)
		}
	}
	for _, name := range s.Agents.Rooms {
		if _, ok := byName[name]; !ok {
			return nil, nil, fmt.Errorf("%w: spawn room %q unknown", ErrScenario, name)
		}
	}
	if s.Agents.Count < 0 {
		return nil, nil, fmt.Errorf("%w: negative agent count", ErrScenario)
	}
	return rooms, hubs, nil
}

// paintRoom renders a walled room with the given exits and fills the
// painted rectangles.
func paintRoom(exits string, paint []Paint) ([]string, error) {
	rows := terrain.Render(terrain.BorderWalls(strings.ToUpper(exits)), nil)
	grid := make([][]byte, len(rows))
	for y, r := range rows {
		grid[y] = []byte(r)
	}
	for _, p := range paint {
		if len(p.Glyph) != 1 || !strings.Contains(".~#=X", p.Glyph) {
			return nil, fmt.Errorf("bad glyph %q", p.Glyph)
		}
		x0, y0, x1, y1 := p.Rect[0], p.Rect[1], p.Rect[2], p.Rect[3]
		if x0 > x1 || y0 > y1 || x0 < 0 || y0 < 0 || x1 >= coord.RoomSize || y1 >= coord.RoomSize {
			return nil, fmt.Errorf("bad rect %v", p.Rect)
		}
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				grid[y][x] = p.Glyph[0]
			}
		}
	}
	for y := range grid {
		rows[y] = string(grid[y])
	}
	return rows, nil
}
