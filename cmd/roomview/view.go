package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/sim/world"
)

var arrows = [9]rune{'·', '↑', '↗', '→', '↘', '↓', '↙', '←', '↖'}

var (
	styleWall   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleSwamp  = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleRoad   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleBlock  = tcell.StyleDefault.Foreground(tcell.ColorRed)
	stylePlain  = tcell.StyleDefault.Foreground(tcell.ColorDarkGray)
	styleFlow   = tcell.StyleDefault.Foreground(tcell.ColorTeal)
	styleAgent  = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	styleTired  = tcell.StyleDefault.Foreground(tcell.ColorOrange).Bold(true)
	styleHub    = tcell.StyleDefault.Foreground(tcell.ColorFuchsia).Bold(true)
	stylePath   = tcell.StyleDefault.Foreground(tcell.ColorAqua)
	styleStatus = tcell.StyleDefault.Reverse(true)
)

// viewer holds the browsing state over one world.
type viewer struct {
	w      *world.World
	rooms  []string
	room   int
	flow   int // index into hub keys of the current room, -1 for none
	agents bool
	paths  bool
}

func newViewer(w *world.World) *viewer {
	return &viewer{w: w, rooms: w.Rooms(), flow: 0, agents: true, paths: true}
}

func (v *viewer) roomName() string { return v.rooms[v.room] }

// hubKeys lists hub keys declared in the current room.
func (v *viewer) hubKeys() []string {
	var keys []string
	for _, h := range v.w.Hubs() {
		if h.Room == v.roomName() {
			keys = append(keys, h.Key)
		}
	}
	return keys
}

func (v *viewer) flowKey() string {
	keys := v.hubKeys()
	if v.flow < 0 || v.flow >= len(keys) {
		return ""
	}
	return keys[v.flow]
}

func (v *viewer) nextRoom(delta int) {
	n := len(v.rooms)
	v.room = ((v.room+delta)%n + n) % n
	v.flow = 0
}

func (v *viewer) cycleFlow() {
	n := len(v.hubKeys())
	v.flow++
	if v.flow >= n {
		v.flow = -1
	}
}

// pathTiles expands an agent's buffered path, cut at the first tile that
// leaves its room.
func pathTiles(m coord.MapPosition, a world.AgentView) []coord.WorldPosition {
	if !a.HasMemory || a.Memory.Path == "" {
		return nil
	}
	start, err := coord.LocalToWorld(m, a.X, a.Y)
	if err != nil {
		return nil
	}
	var out []coord.WorldPosition
	for _, p := range a.Memory.Path.Positions(start) {
		if p.Room() != m {
			break
		}
		out = append(out, p)
	}
	return out
}

func terrainCell(glyph byte) (rune, tcell.Style) {
	switch glyph {
	case '#':
		return '█', styleWall
	case '~':
		return '~', styleSwamp
	case '=':
		return '=', styleRoad
	case 'X':
		return 'X', styleBlock
	default:
		return '.', stylePlain
	}
}

// draw renders the current room, its flow field and agents, and a status line.
func (v *viewer) draw(s tcell.Screen) {
	s.Clear()
	name := v.roomName()
	rows, err := v.w.RoomRows(name)
	if err != nil {
		drawText(s, 0, 0, styleStatus, err.Error())
		s.Show()
		return
	}
	for y, row := range rows {
		for x := 0; x < len(row); x++ {
			r, st := terrainCell(row[x])
			s.SetContent(x*2, y, r, nil, st)
		}
	}

	key := v.flowKey()
	if key != "" {
		m, _ := coord.RoomToGrid(name)
		if field, ok := v.w.Controller().Flows().Get(m, key); ok {
			for y := 0; y < coord.RoomSize; y++ {
				for x := 0; x < coord.RoomSize; x++ {
					d := field.Get(x, y)
					if d == coord.None || rows[y][x] == '#' {
						continue
					}
					s.SetContent(x*2, y, arrows[d], nil, styleFlow)
				}
			}
		}
	}
	if v.paths {
		m, _ := coord.RoomToGrid(name)
		for _, id := range v.w.AgentIDs() {
			a, err := v.w.Agent(id)
			if err != nil || a.Room != name {
				continue
			}
			for _, p := range pathTiles(m, a) {
				s.SetContent(p.LocalX()*2, p.LocalY(), '*', nil, stylePath)
			}
		}
	}
	for _, h := range v.w.Hubs() {
		if h.Room != name {
			continue
		}
		for _, t := range h.Tiles {
			s.SetContent(t[0]*2, t[1], 'H', nil, styleHub)
		}
	}

	shown := 0
	if v.agents {
		for _, id := range v.w.AgentIDs() {
			a, err := v.w.Agent(id)
			if err != nil || a.Room != name {
				continue
			}
			st := styleAgent
			if a.Fatigue > 0 {
				st = styleTired
			}
			s.SetContent(a.X*2, a.Y, '@', nil, st)
			shown++
		}
	}

	flow := key
	if flow == "" {
		flow = "off"
	}
	status := fmt.Sprintf(" %s  tick=%d  agents=%d  flow=%s  [n/p] room [f] flow [a] agents [r] paths [space] step [q] quit ",
		name, v.w.CurrentTick(), shown, flow)
	drawText(s, 0, coord.RoomSize, styleStatus, status)
	s.Show()
}

func drawText(s tcell.Screen, x, y int, st tcell.Style, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, st)
		x++
	}
}

// handleKey applies one key press; it reports false when the viewer should exit.
func (v *viewer) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyTab, tcell.KeyRight:
		v.nextRoom(1)
		return true
	case tcell.KeyBacktab, tcell.KeyLeft:
		v.nextRoom(-1)
		return true
	}
	switch ev.Rune() {
	case 'q', 'Q':
		return false
	case 'n':
		v.nextRoom(1)
	case 'p':
		v.nextRoom(-1)
	case 'f':
		v.cycleFlow()
	case 'a':
		v.agents = !v.agents
	case 'r':
		v.paths = !v.paths
	case ' ':
		v.w.Step()
	}
	return true
}
