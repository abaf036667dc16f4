package main

import (
	"bytes"
	"strings"
	"testing"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/sim/world"
)

func TestSummaryAggregates(t *testing.T) {
	var s summary
	for i := uint64(5); i < 8; i++ {
		_ = s.add(world.TickLogEntry{
			Tick:  i,
			Stats: controller.Stats{Moves: 2, Searches: 1, SearchOps: 40},
			Moves: []world.RecordedMove{{AgentID: "A1", Source: "replay"}, {AgentID: "A2", Source: "flow"}},
		})
	}
	if s.first != 5 || s.last != 7 || s.ticks != 3 || s.moves != 6 || s.sources["flow"] != 3 {
		t.Fatalf("summary: %+v", s)
	}
	var buf bytes.Buffer
	s.print(&buf)
	if !strings.Contains(buf.String(), "ops/search=40.0") {
		t.Fatalf("output:\n%s", buf.String())
	}
}
