package main

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/sim/world"
)

const viewScenario = `
id: view
seed: 2
rooms:
  - name: W1N1
    exits: E
    paint:
      - glyph: "~"
        rect: [5, 5, 6, 6]
  - name: W0N1
    exits: W
agents:
  count: 0
  place:
    - {id: a, room: W1N1, x: 10, y: 12}
hubs:
  - key: depot
    room: W1N1
    tiles: [[25, 25]]
tasks:
  idle: 1
`

func newTestViewer(t *testing.T) (*viewer, tcell.SimulationScreen) {
	t.Helper()
	scen, err := world.ParseScenario([]byte(viewScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "view"}, scen, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Step()
	s := tcell.NewSimulationScreen("")
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(s.Fini)
	s.SetSize(120, 60)
	return newViewer(w), s
}

func cell(s tcell.SimulationScreen, x, y int) rune {
	cells, w, _ := s.GetContents()
	c := cells[y*w+x]
	if len(c.Runes) == 0 {
		return ' '
	}
	return c.Runes[0]
}

func TestDrawRoomWithFlowAndAgents(t *testing.T) {
	v, s := newTestViewer(t)
	v.draw(s)

	if got := cell(s, 0, 0); got != '█' {
		t.Fatalf("corner: %q", got)
	}
	if got := cell(s, 20, 12); got != '@' {
		t.Fatalf("agent cell: %q", got)
	}
	if got := cell(s, 50, 25); got != 'H' {
		t.Fatalf("hub cell: %q", got)
	}
	// The tile left of the hub points right, toward it.
	if got := cell(s, 48, 25); got != '→' {
		t.Fatalf("flow cell: %q", got)
	}

	v.cycleFlow()
	v.agents = false
	v.draw(s)
	if got := cell(s, 48, 25); got != '.' {
		t.Fatalf("flow overlay still drawn: %q", got)
	}
	if got := cell(s, 20, 12); got == '@' {
		t.Fatalf("agent drawn while hidden")
	}
}

func TestHandleKeys(t *testing.T) {
	v, _ := newTestViewer(t)
	if !v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'n', tcell.ModNone)) || v.roomName() != "W0N1" {
		t.Fatalf("next room: %s", v.roomName())
	}
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'p', tcell.ModNone))
	if v.roomName() != "W1N1" {
		t.Fatalf("prev room: %s", v.roomName())
	}
	tick := v.w.CurrentTick()
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone))
	if v.w.CurrentTick() != tick+1 {
		t.Fatalf("space did not step")
	}
	if v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)) {
		t.Fatalf("q did not quit")
	}
}

func TestPathTilesStopAtRoomEdge(t *testing.T) {
	m, _ := coord.RoomToGrid("W1N1")
	a := world.AgentView{
		ID: "a", Room: "W1N1", X: 47, Y: 10, HasMemory: true,
		Memory: controller.Memory{Path: "3333"},
	}
	got := pathTiles(m, a)
	if len(got) != 2 || got[0] != coord.MustWorld("W1N1", 48, 10) || got[1] != coord.MustWorld("W1N1", 49, 10) {
		t.Fatalf("pathTiles = %v", got)
	}
	a.HasMemory = false
	if got := pathTiles(m, a); got != nil {
		t.Fatalf("no memory: %v", got)
	}
}

func TestPathToggleKey(t *testing.T) {
	v, _ := newTestViewer(t)
	if !v.paths {
		t.Fatalf("paths overlay should start on")
	}
	v.handleKey(tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone))
	if v.paths {
		t.Fatalf("r did not toggle paths")
	}
}
