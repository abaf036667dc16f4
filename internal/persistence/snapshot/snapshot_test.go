package snapshot

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func sampleState(tick uint64) ReplayStateV1 {
	return ReplayStateV1{
		Header:     Header{WorldID: "w1", RunID: "run", Tick: tick},
		Seed:       42,
		TickRate:   5,
		ScenarioID: "two_rooms",
		Agents: []AgentV1{
			{ID: "A1", Pos: PosV1{X: 6360, Y: 6375}, Path: "3344", Target: PosV1{X: 6370, Y: 6375}, Expect: PosV1{X: 6360, Y: 6375}, HasMem: true,
				Task: TaskV1{Kind: "wander", Target: PosV1{X: 6370, Y: 6375}, Since: 3}},
			{ID: "A2", Pos: PosV1{X: 6361, Y: 6380}, Fatigue: 1, Task: TaskV1{Kind: "idle", Until: 20}},
		},
		Flows: []FlowV1{{Room: 0x7f7f, Key: "hub", Built: 2, Field: make([]byte, 1250)}},
		Costs: []CostV1{{Room: "W0N0", X: 10, Y: 11, Cost: 255, Tick: 7}},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "12.snap.zst")
	if err := WriteSnapshot(path, sampleState(12)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Tick != 12 || got.Header.Agents != 2 || got.Header.Flows != 1 {
		t.Fatalf("header: %+v", got.Header)
	}
	if len(got.Agents) != 2 || got.Agents[0].Path != "3344" || got.Agents[1].Fatigue != 1 {
		t.Fatalf("agents: %+v", got.Agents)
	}
	if len(got.Flows[0].Field) != 1250 || got.Costs[0].Cost != 255 {
		t.Fatalf("flows/costs: %+v %+v", got.Flows, got.Costs)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.WorldID != "w1" || h.Tick != 12 || h.RunID != "run" {
		t.Fatalf("header: %+v", h)
	}
}

func TestReadSnapshotRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	s := sampleState(1)
	s.Header.Version = 9
	if err := WriteSnapshot(path, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
	for _, tick := range []uint64{500, 1500, 1000} {
		if err := WriteSnapshot(filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick)), sampleState(tick)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := filepath.Base(Latest(dir)); got != "1500.snap.zst" {
		t.Fatalf("latest: %q", got)
	}
}
