package traffic

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"tilemove.ai/internal/movement/coord"
)

func at(x, y int) coord.WorldPosition { return coord.MustWorld("W1N1", x, y) }

// openNeighbors treats every non-edge tile as usable.
func openNeighbors(p coord.WorldPosition) []coord.WorldPosition {
	var out []coord.WorldPosition
	for _, d := range coord.Directions {
		n, err := p.Step(d)
		if err != nil || n.IsEdge() || n.Room() != p.Room() {
			continue
		}
		out = append(out, n)
	}
	return out
}

func mover(id string, from, to coord.WorldPosition) Agent {
	return Agent{ID: id, Pos: from, Intent: to, Movable: true}
}

func idle(id string, pos coord.WorldPosition, movable bool) Agent {
	return Agent{ID: id, Pos: pos, Intent: coord.Null, Movable: movable}
}

func checkInjective(t *testing.T, res Result) {
	t.Helper()
	seen := map[coord.WorldPosition]int{}
	for i, m := range res.Matched {
		if j, dup := seen[m]; dup {
			t.Fatalf("agents %d and %d both matched to %v", j, i, m)
		}
		seen[m] = i
	}
}

func TestResolveSingleAgent(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	res, err := a.Resolve(1, []Agent{mover("a", at(10, 10), at(11, 10))})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Matched[0] != at(11, 10) || len(res.Moves) != 1 || res.Moves[0].Dir != coord.Right {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Requested != 1 || res.Satisfied != 1 {
		t.Fatalf("counts: %+v", res)
	}
}

func TestResolveChainRotation(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	agents := []Agent{
		mover("a", at(10, 10), at(11, 10)),
		mover("b", at(11, 10), at(12, 10)),
		mover("c", at(12, 10), at(13, 10)),
	}
	res, err := a.Resolve(1, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i, ag := range agents {
		if res.Matched[i] != ag.Intent {
			t.Fatalf("%s matched %v want %v", ag.ID, res.Matched[i], ag.Intent)
		}
	}
	if len(res.Moves) != 3 {
		t.Fatalf("expected three moves, got %+v", res.Moves)
	}
	checkInjective(t, res)
}

func TestResolveSwap(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	res, err := a.Resolve(3, []Agent{
		mover("a", at(10, 10), at(11, 11)),
		mover("b", at(11, 11), at(10, 10)),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Matched[0] != at(11, 11) || res.Matched[1] != at(10, 10) {
		t.Fatalf("swap failed: %v", res.Matched)
	}
}

func TestResolveCycleRotates(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	agents := []Agent{
		mover("a", at(10, 10), at(11, 10)),
		mover("b", at(11, 10), at(11, 11)),
		mover("c", at(11, 11), at(10, 10)),
	}
	res, err := a.Resolve(1, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i, ag := range agents {
		if res.Matched[i] != ag.Intent {
			t.Fatalf("%s matched %v want %v", ag.ID, res.Matched[i], ag.Intent)
		}
	}
	checkInjective(t, res)
}

func TestResolveContestedTile(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	target := at(20, 20)
	agents := []Agent{
		mover("a", at(19, 20), target),
		mover("b", at(21, 20), target),
	}
	res, err := a.Resolve(9, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Matched[0] != target || res.Matched[1] != agents[1].Pos {
		t.Fatalf("first requester should keep the tile: %v", res.Matched)
	}
	if res.Satisfied != 1 || len(res.Moves) != 1 {
		t.Fatalf("counts: %+v", res)
	}
}

func TestResolveShovesIdleAgent(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	agents := []Agent{
		mover("a", at(10, 10), at(11, 10)),
		idle("b", at(11, 10), true),
	}
	res, err := a.Resolve(5, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Matched[0] != at(11, 10) {
		t.Fatalf("mover blocked: %v", res.Matched)
	}
	if res.Matched[1] == at(11, 10) || res.Matched[1].RangeTo(at(11, 10)) != 1 {
		t.Fatalf("idle agent not moved one step aside: %v", res.Matched[1])
	}
	checkInjective(t, res)
}

func TestResolveBlockedByImmovable(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	agents := []Agent{
		mover("a", at(10, 10), at(11, 10)),
		idle("b", at(11, 10), false),
	}
	res, err := a.Resolve(5, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Moves) != 0 || res.Matched[0] != agents[0].Pos || res.Matched[1] != agents[1].Pos {
		t.Fatalf("nobody should move: %+v", res)
	}
}

func TestResolveIdleAgentsLeftAlone(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	agents := []Agent{idle("a", at(10, 10), true), idle("b", at(11, 10), true)}
	res, err := a.Resolve(5, agents)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Moves) != 0 || res.Requested != 0 {
		t.Fatalf("idle agents moved: %+v", res)
	}
}

func TestResolveRejectsSharedTile(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{})
	_, err := a.Resolve(1, []Agent{idle("a", at(5, 5), true), idle("b", at(5, 5), true)})
	if !errors.Is(err, ErrSharedTile) {
		t.Fatalf("expected ErrSharedTile, got %v", err)
	}
}

func TestResolveRandomCrowdsStayInjective(t *testing.T) {
	a := NewArbiter(openNeighbors, Options{Seed: 42})
	for round := 0; round < 200; round++ {
		rng := rand.New(rand.NewSource(int64(round)))
		occupied := map[coord.WorldPosition]bool{}
		var agents []Agent
		for len(agents) < 40 {
			p := at(5+rng.Intn(8), 5+rng.Intn(8))
			if occupied[p] {
				continue
			}
			occupied[p] = true
			id := fmt.Sprintf("u%d", len(agents))
			switch rng.Intn(4) {
			case 0:
				agents = append(agents, idle(id, p, rng.Intn(3) > 0))
			default:
				d := coord.Directions[rng.Intn(8)]
				n, _ := p.Step(d)
				agents = append(agents, mover(id, p, n))
			}
		}
		res, err := a.Resolve(uint64(round), agents)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		checkInjective(t, res)
		for i, ag := range agents {
			m := res.Matched[i]
			if m == ag.Pos {
				continue
			}
			if !ag.Movable || m.RangeTo(ag.Pos) != 1 {
				t.Fatalf("round %d: %s moved illegally %v -> %v", round, ag.ID, ag.Pos, m)
			}
			if !ag.Intent.IsNull() && m != ag.Intent {
				t.Fatalf("round %d: %s moved off its intent to %v", round, ag.ID, m)
			}
		}
		again, err := a.Resolve(uint64(round), agents)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		for i := range again.Matched {
			if again.Matched[i] != res.Matched[i] {
				t.Fatalf("round %d: resolution not deterministic", round)
			}
		}
	}
}

type recordSink struct {
	got []string
}

func (r *recordSink) Move(id string, dir coord.Direction) error {
	if id == "bad" {
		return errors.New("rejected")
	}
	r.got = append(r.got, fmt.Sprintf("%s:%v", id, dir))
	return nil
}

func TestDispatch(t *testing.T) {
	sink := &recordSink{}
	var refused []string
	sent := Dispatch(sink, []Move{{ID: "a", Dir: coord.Top}, {ID: "bad", Dir: coord.Left}, {ID: "c", Dir: coord.Bottom}},
		func(m Move, err error) { refused = append(refused, m.ID) })
	if sent != 2 || len(refused) != 1 || refused[0] != "bad" {
		t.Fatalf("Dispatch sent=%d refused=%v", sent, refused)
	}
	if len(sink.got) != 2 || sink.got[0] != "a:top" || sink.got[1] != "c:bottom" {
		t.Fatalf("sink saw %v", sink.got)
	}
	if n := Dispatch(sink, []Move{{ID: "bad", Dir: coord.Top}}, nil); n != 0 {
		t.Fatalf("nil reject: sent=%d", n)
	}
}
