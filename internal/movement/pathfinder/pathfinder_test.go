package pathfinder

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"testing"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

func testOptions() Options {
	return Options{PlainCost: 1, SwampCost: 5, MaxRooms: 4, MaxOps: 20000, HeuristicWeight: 1}
}

func roomPos(t *testing.T, name string) coord.MapPosition {
	t.Helper()
	m, err := coord.RoomToGrid(name)
	if err != nil {
		t.Fatalf("RoomToGrid(%q): %v", name, err)
	}
	return m
}

func randomRoom(seed int64) *terrain.RoomTerrain {
	r := terrain.BorderWalls("")
	rng := rand.New(rand.NewSource(seed))
	for y := 2; y < coord.RoomSize-2; y++ {
		for x := 2; x < coord.RoomSize-2; x++ {
			switch v := rng.Intn(10); {
			case v < 2:
				r[y*coord.RoomSize+x] = terrain.Wall
			case v < 4:
				r[y*coord.RoomSize+x] = terrain.Swamp
			}
		}
	}
	return r
}

// dijkstra returns the optimal cost between two tiles of a single room.
func dijkstra(room *terrain.RoomTerrain, opts Options, sx, sy, tx, ty int) uint32 {
	dist := make([]uint32, coord.RoomArea)
	for i := range dist {
		dist[i] = math.MaxUint32
	}
	cost := func(i int) uint32 {
		switch room[i] {
		case terrain.Wall:
			return math.MaxUint32
		case terrain.Swamp:
			return opts.SwampCost
		}
		return opts.PlainCost
	}
	q := &distQueue{}
	start := sy*coord.RoomSize + sx
	dist[start] = 0
	heap.Push(q, distItem{start, 0})
	for q.Len() > 0 {
		it := heap.Pop(q).(distItem)
		if it.d != dist[it.i] {
			continue
		}
		x, y := it.i%coord.RoomSize, it.i/coord.RoomSize
		for _, d := range coord.Directions {
			dx, dy := d.Delta()
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= coord.RoomSize || ny >= coord.RoomSize {
				continue
			}
			ni := ny*coord.RoomSize + nx
			c := cost(ni)
			if c == math.MaxUint32 {
				continue
			}
			if nd := it.d + c; nd < dist[ni] {
				dist[ni] = nd
				heap.Push(q, distItem{ni, nd})
			}
		}
	}
	return dist[ty*coord.RoomSize+tx]
}

type distItem struct {
	i int
	d uint32
}

type distQueue []distItem

func (q distQueue) Len() int           { return len(q) }
func (q distQueue) Less(i, j int) bool { return q[i].d < q[j].d }
func (q distQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)        { *q = append(*q, x.(distItem)) }
func (q *distQueue) Pop() any          { o := *q; n := len(o); it := o[n-1]; *q = o[:n-1]; return it }

// checkPath verifies adjacency and passability and returns the summed cost.
func checkPath(t *testing.T, m *terrain.Map, opts Options, origin coord.WorldPosition, path []coord.WorldPosition) uint32 {
	t.Helper()
	var total uint32
	prev := origin
	for i, p := range path {
		if prev.RangeTo(p) != 1 {
			t.Fatalf("step %d: %v -> %v is not adjacent", i, prev, p)
		}
		switch m.At(p) {
		case terrain.Wall:
			t.Fatalf("step %d: %v is a wall", i, p)
		case terrain.Swamp:
			total += opts.SwampCost
		default:
			total += opts.PlainCost
		}
		prev = p
	}
	return total
}

func TestSearchOpenRoomJumpMatchesNaive(t *testing.T) {
	m := terrain.NewMap()
	room := roomPos(t, "W1N1")
	m.Set(room, terrain.BorderWalls(""))
	e := NewEngine(m, 4)

	origin := coord.MustWorld("W1N1", 5, 5)
	targets := [][2]int{{40, 30}, {5, 44}, {44, 5}, {25, 26}, {6, 5}}
	for _, tg := range targets {
		goal := Goal{Pos: coord.MustWorld("W1N1", tg[0], tg[1])}
		jump, err := e.Search(origin, []Goal{goal}, testOptions())
		if err != nil {
			t.Fatalf("jump search: %v", err)
		}
		naiveOpts := testOptions()
		naiveOpts.Naive = true
		naive, err := e.Search(origin, []Goal{goal}, naiveOpts)
		if err != nil {
			t.Fatalf("naive search: %v", err)
		}
		if jump.Incomplete || naive.Incomplete {
			t.Fatalf("target %v: incomplete jump=%v naive=%v", tg, jump.Incomplete, naive.Incomplete)
		}
		if jump.Cost != naive.Cost {
			t.Fatalf("target %v: jump cost %d != naive cost %d", tg, jump.Cost, naive.Cost)
		}
		if want := origin.RangeTo(goal.Pos); jump.Cost != want {
			t.Fatalf("target %v: cost %d want %d", tg, jump.Cost, want)
		}
		if got := checkPath(t, m, testOptions(), origin, jump.Path); got != jump.Cost {
			t.Fatalf("target %v: path sums to %d, reported %d", tg, got, jump.Cost)
		}
		if jump.Path[len(jump.Path)-1] != goal.Pos {
			t.Fatalf("target %v: path ends at %v", tg, jump.Path[len(jump.Path)-1])
		}
	}
}

func TestSearchMatchesOptimal(t *testing.T) {
	checked := 0
	for seed := int64(1); seed <= 40; seed++ {
		m := terrain.NewMap()
		room := roomPos(t, "W1N1")
		ter := randomRoom(seed)
		rng := rand.New(rand.NewSource(seed * 31))
		pick := func() (int, int) {
			for {
				x, y := 2+rng.Intn(46), 2+rng.Intn(46)
				if ter.At(x, y) != terrain.Wall {
					return x, y
				}
			}
		}
		sx, sy := pick()
		tx, ty := pick()
		if sx == tx && sy == ty {
			continue
		}
		m.Set(room, ter)
		opts := testOptions()
		optimal := dijkstra(ter, opts, sx, sy, tx, ty)

		origin := coord.MustWorld("W1N1", sx, sy)
		goal := coord.MustWorld("W1N1", tx, ty)
		e := NewEngine(m, 4)
		for _, naive := range []bool{false, true} {
			opts.Naive = naive
			res, err := e.Search(origin, []Goal{{Pos: goal}}, opts)
			if err != nil {
				t.Fatalf("seed %d: %v", seed, err)
			}
			if optimal == math.MaxUint32 {
				if !res.Incomplete {
					t.Fatalf("seed %d naive=%v: unreachable goal reported complete", seed, naive)
				}
				continue
			}
			if res.Incomplete {
				t.Fatalf("seed %d naive=%v: incomplete on reachable goal", seed, naive)
			}
			if res.Cost != optimal {
				t.Fatalf("seed %d naive=%v: cost %d, optimal %d", seed, naive, res.Cost, optimal)
			}
			if got := checkPath(t, m, opts, origin, res.Path); got != res.Cost {
				t.Fatalf("seed %d naive=%v: path sums to %d, reported %d", seed, naive, got, res.Cost)
			}
			if res.Path[len(res.Path)-1] != goal {
				t.Fatalf("seed %d naive=%v: path ends at %v", seed, naive, res.Path[len(res.Path)-1])
			}
			checked++
		}
	}
	if checked == 0 {
		t.Fatalf("no reachable cases generated")
	}
}

// quadMap lays out four rooms in a 2x2 block with every shared border open
// and random interiors.
func quadMap(t *testing.T, seed int64) (*terrain.Map, []string) {
	t.Helper()
	layout := map[string]string{"W1N1": "ES", "W0N1": "WS", "W1N0": "EN", "W0N0": "WN"}
	names := []string{"W1N1", "W0N1", "W1N0", "W0N0"}
	m := terrain.NewMap()
	for i, name := range names {
		ter := randomRoom(seed*7 + int64(i))
		open := terrain.BorderWalls(layout[name])
		last := coord.RoomSize - 1
		for k := 0; k < coord.RoomSize; k++ {
			for _, idx := range []int{k, last*coord.RoomSize + k, k * coord.RoomSize, k*coord.RoomSize + last} {
				ter[idx] = open[idx]
			}
		}
		m.Set(roomPos(t, name), ter)
	}
	return m, names
}

func TestSearchJumpMatchesNaiveAcrossSeams(t *testing.T) {
	checked := 0
	for seed := int64(1); seed <= 30; seed++ {
		m, names := quadMap(t, seed)
		rng := rand.New(rand.NewSource(seed * 13))
		pick := func() coord.WorldPosition {
			for {
				p := coord.MustWorld(names[rng.Intn(len(names))], rng.Intn(coord.RoomSize), rng.Intn(coord.RoomSize))
				if m.At(p) != terrain.Wall {
					return p
				}
			}
		}
		origin, goal := pick(), pick()
		if origin == goal {
			continue
		}
		e := NewEngine(m, 4)
		jump, err := e.Search(origin, []Goal{{Pos: goal}}, testOptions())
		if err != nil {
			t.Fatalf("seed %d jump: %v", seed, err)
		}
		naiveOpts := testOptions()
		naiveOpts.Naive = true
		naive, err := e.Search(origin, []Goal{{Pos: goal}}, naiveOpts)
		if err != nil {
			t.Fatalf("seed %d naive: %v", seed, err)
		}
		if jump.Incomplete != naive.Incomplete {
			t.Fatalf("seed %d %v->%v: incomplete jump=%v naive=%v", seed, origin, goal, jump.Incomplete, naive.Incomplete)
		}
		if naive.Incomplete {
			continue
		}
		if jump.Cost != naive.Cost {
			t.Fatalf("seed %d %v->%v: jump cost %d != naive cost %d", seed, origin, goal, jump.Cost, naive.Cost)
		}
		if got := checkPath(t, m, testOptions(), origin, jump.Path); got != jump.Cost {
			t.Fatalf("seed %d: jump path sums to %d, reported %d", seed, got, jump.Cost)
		}
		checked++
	}
	if checked == 0 {
		t.Fatalf("no reachable cases generated")
	}
}

func TestSearchCrossesRooms(t *testing.T) {
	m := terrain.NewMap()
	west, east := roomPos(t, "W1N1"), roomPos(t, "W0N1")
	m.Set(west, terrain.BorderWalls("E"))
	m.Set(east, terrain.BorderWalls("W"))
	e := NewEngine(m, 4)

	origin := coord.MustWorld("W1N1", 10, 25)
	goal := Goal{Pos: coord.MustWorld("W0N1", 30, 20), Range: 1}
	res, err := e.Search(origin, []Goal{goal}, testOptions())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Incomplete {
		t.Fatalf("expected complete result: %+v", res)
	}
	checkPath(t, m, testOptions(), origin, res.Path)
	last := res.Path[len(res.Path)-1]
	if last.RangeTo(goal.Pos) > 1 || last.Room() != east {
		t.Fatalf("path ends at %v", last)
	}

	opts := testOptions()
	opts.MaxRooms = 1
	res, err = e.Search(origin, []Goal{goal}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Incomplete {
		t.Fatalf("room cap of one should leave the search incomplete")
	}
	for _, p := range res.Path {
		if p.Room() != west {
			t.Fatalf("capped search left the origin room: %v", p)
		}
	}
}

func TestSearchCostOverlay(t *testing.T) {
	m := terrain.NewMap()
	west, east := roomPos(t, "W1N1"), roomPos(t, "W0N1")
	m.Set(west, terrain.BorderWalls("E"))
	m.Set(east, terrain.BorderWalls("W"))
	e := NewEngine(m, 4)

	calls := map[coord.MapPosition]int{}
	var wall terrain.CostMatrix
	for y := 0; y < coord.RoomSize; y++ {
		if y != 40 {
			wall.Set(20, y, terrain.CostImpassable)
		}
	}
	opts := testOptions()
	opts.Costs = terrain.CostFunc(func(room coord.MapPosition) terrain.Overlay {
		calls[room]++
		if room == west {
			return terrain.Overlay{Matrix: &wall}
		}
		return terrain.Overlay{}
	})
	origin := coord.MustWorld("W1N1", 10, 10)
	goal := Goal{Pos: coord.MustWorld("W1N1", 30, 10)}
	res, err := e.Search(origin, []Goal{goal}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Incomplete {
		t.Fatalf("expected a route through the gap")
	}
	through := false
	for _, p := range res.Path {
		if p.LocalX() == 20 {
			if p.LocalY() != 40 {
				t.Fatalf("path crosses the overlay wall at %v", p)
			}
			through = true
		}
	}
	if !through {
		t.Fatalf("path never crossed column 20")
	}
	for room, n := range calls {
		if n != 1 {
			t.Fatalf("cost overlay for %v called %d times", room, n)
		}
	}

	opts.Costs = terrain.CostFunc(func(room coord.MapPosition) terrain.Overlay {
		return terrain.Overlay{Blocked: room == east}
	})
	res, err = e.Search(origin, []Goal{{Pos: coord.MustWorld("W0N1", 10, 10)}}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Incomplete {
		t.Fatalf("blocked room should be unreachable")
	}
}

func TestSearchOpsBudgetMonotonic(t *testing.T) {
	m := terrain.NewMap()
	room := roomPos(t, "W1N1")
	m.Set(room, randomRoom(7))
	ter, _ := m.Terrain(room)
	ter[3*coord.RoomSize+3] = terrain.Plain
	ter[45*coord.RoomSize+45] = terrain.Plain
	e := NewEngine(m, 4)

	origin := coord.MustWorld("W1N1", 3, 3)
	goals := []Goal{{Pos: coord.MustWorld("W1N1", 45, 45)}}
	full, err := e.Search(origin, goals, testOptions())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if full.Incomplete {
		t.Skip("random room has no route")
	}
	for budget := full.Ops; budget >= 1; budget-- {
		opts := testOptions()
		opts.MaxOps = budget
		res, err := e.Search(origin, goals, opts)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !res.Incomplete {
			t.Fatalf("budget %d (< %d+1) completed", budget, full.Ops)
		}
		if res.Ops > budget {
			t.Fatalf("budget %d used %d ops", budget, res.Ops)
		}
	}
	opts := testOptions()
	opts.MaxOps = full.Ops + 1
	res, err := e.Search(origin, goals, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Incomplete || res.Cost != full.Cost {
		t.Fatalf("budget %d: %+v, want cost %d", opts.MaxOps, res, full.Cost)
	}
}

func TestSearchFlee(t *testing.T) {
	m := terrain.NewMap()
	m.Set(roomPos(t, "W1N1"), terrain.BorderWalls(""))
	e := NewEngine(m, 4)
	danger := coord.MustWorld("W1N1", 25, 25)

	opts := testOptions()
	opts.Flee = true
	far := coord.MustWorld("W1N1", 10, 25)
	res, err := e.Search(far, []Goal{{Pos: danger, Range: 5}}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Cost != 0 || len(res.Path) != 0 || res.Ops != 0 {
		t.Fatalf("flee from outside range should be a no-op: %+v", res)
	}

	near := coord.MustWorld("W1N1", 24, 25)
	res, err = e.Search(near, []Goal{{Pos: danger, Range: 5}}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Incomplete || len(res.Path) == 0 {
		t.Fatalf("flee should complete: %+v", res)
	}
	if end := res.Path[len(res.Path)-1]; end.RangeTo(danger) < 5 {
		t.Fatalf("flee ended within range at %v", end)
	}
}

func TestSearchAlreadyAtGoal(t *testing.T) {
	m := terrain.NewMap()
	m.Set(roomPos(t, "W1N1"), terrain.BorderWalls(""))
	e := NewEngine(m, 4)
	p := coord.MustWorld("W1N1", 10, 10)
	res, err := e.Search(p, []Goal{{Pos: coord.MustWorld("W1N1", 11, 11), Range: 1}}, testOptions())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Path) != 0 || res.Cost != 0 || res.Ops != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSearchWeightedHeuristic(t *testing.T) {
	m := terrain.NewMap()
	room := roomPos(t, "W1N1")
	ter := randomRoom(3)
	ter[5*coord.RoomSize+5] = terrain.Plain
	ter[44*coord.RoomSize+40] = terrain.Plain
	m.Set(room, ter)
	e := NewEngine(m, 4)
	opts := testOptions()
	optimal := dijkstra(ter, opts, 5, 5, 40, 44)
	if optimal == math.MaxUint32 {
		t.Skip("random room has no route")
	}
	opts.HeuristicWeight = 1.5
	origin := coord.MustWorld("W1N1", 5, 5)
	res, err := e.Search(origin, []Goal{{Pos: coord.MustWorld("W1N1", 40, 44)}}, opts)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Incomplete || res.Cost < optimal {
		t.Fatalf("weighted search: %+v optimal %d", res, optimal)
	}
	if got := checkPath(t, m, opts, origin, res.Path); got != res.Cost {
		t.Fatalf("path sums to %d, reported %d", got, res.Cost)
	}
}

func TestSearchGenerationWrap(t *testing.T) {
	m := terrain.NewMap()
	m.Set(roomPos(t, "W1N1"), terrain.BorderWalls(""))
	e := NewEngine(m, 2)
	origin := coord.MustWorld("W1N1", 5, 5)
	goals := []Goal{{Pos: coord.MustWorld("W1N1", 40, 20)}}

	want, err := e.Search(origin, goals, testOptions())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	e.oc.marker = math.MaxUint32 - 3
	for i := 0; i < 3; i++ {
		got, err := e.Search(origin, goals, testOptions())
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got.Cost != want.Cost || got.Incomplete || got.Ops != want.Ops {
			t.Fatalf("search %d after wrap: %+v, want %+v", i, got, want)
		}
	}
	if e.oc.marker > 10 {
		t.Fatalf("marker did not wrap: %d", e.oc.marker)
	}
}

func TestSearchErrors(t *testing.T) {
	m := terrain.NewMap()
	m.Set(roomPos(t, "W1N1"), terrain.BorderWalls(""))
	e := NewEngine(m, 4)
	origin := coord.MustWorld("W1N1", 5, 5)
	goals := []Goal{{Pos: coord.MustWorld("W1N1", 6, 9)}}

	if _, err := e.Search(origin, nil, testOptions()); !errors.Is(err, ErrNoGoals) {
		t.Fatalf("expected ErrNoGoals, got %v", err)
	}
	for _, mutate := range []func(*Options){
		func(o *Options) { o.MaxOps = 0 },
		func(o *Options) { o.MaxRooms = 0 },
		func(o *Options) { o.MaxRooms = 5 },
		func(o *Options) { o.HeuristicWeight = 0.5 },
		func(o *Options) { o.PlainCost = 0 },
	} {
		opts := testOptions()
		mutate(&opts)
		if _, err := e.Search(origin, goals, opts); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("expected ErrInvalidOptions for %+v, got %v", opts, err)
		}
	}
	if _, err := e.Search(coord.MustWorld("W5N5", 1, 1), goals, testOptions()); !errors.Is(err, ErrNoTerrain) {
		t.Fatalf("expected ErrNoTerrain, got %v", err)
	}
	if _, err := e.Search(coord.Null, goals, testOptions()); !errors.Is(err, coord.ErrOutOfWorld) {
		t.Fatalf("expected ErrOutOfWorld, got %v", err)
	}
}
