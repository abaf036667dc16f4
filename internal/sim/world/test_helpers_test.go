package world

import (
	"testing"

	"tilemove.ai/internal/movement/coord"
)

const pairScenario = `
id: test_pair
seed: 7
rooms:
  - name: W1N1
    exits: E
    paint:
      - glyph: "~"
        rect: [20, 10, 22, 40]
  - name: W0N1
    exits: W
    paint:
      - glyph: "X"
        rect: [30, 20, 30, 30]
      - glyph: "="
        rect: [2, 25, 39, 25]
agents:
  count: 12
hubs:
  - key: depot
    room: W0N1
    tiles: [[40, 25], [40, 26]]
    range: 1
tasks:
  hub: 3
  wander: 3
  flee: 1
  idle: 1
`

func newTestWorld(t *testing.T, raw string) *World {
	t.Helper()
	scen, err := ParseScenario([]byte(raw))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	w, err := New(WorldConfig{ID: "test", TickRateHz: 20}, scen, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// placeOnly is pairScenario without random agents, for hand-placed tests.
func placeOnly(place string) string {
	return `
id: test_place
seed: 3
rooms:
  - name: W1N1
    exits: E
    paint:
      - glyph: "~"
        rect: [20, 10, 22, 40]
  - name: W0N1
    exits: W
agents:
  count: 0
  place:
` + place + `
tasks:
  idle: 1
  idle_ticks: 1000
`
}

func setWander(w *World, id string, target coord.WorldPosition) {
	w.agents[id].Task = Task{Kind: TaskWander, Target: target, Range: 1, Since: w.CurrentTick()}
}

func assertDistinct(t *testing.T, w *World) {
	t.Helper()
	seen := map[coord.WorldPosition]string{}
	for _, id := range w.order {
		p := w.agents[id].Pos
		if other, ok := seen[p]; ok {
			t.Fatalf("tick %d: %s and %s share %v", w.CurrentTick(), other, id, p)
		}
		if !w.passable(p) {
			t.Fatalf("tick %d: %s on impassable %v", w.CurrentTick(), id, p)
		}
		seen[p] = id
	}
}
