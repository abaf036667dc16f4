// Package traffic resolves simultaneous tile requests into a conflict-free
// set of single-step moves for one tick.
package traffic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"tilemove.ai/internal/movement/coord"
)

var ErrSharedTile = errors.New("traffic: two agents on one tile")

// Agent is one unit's state for the current tick. Intent is coord.Null when
// the agent has no move request; such agents hold their tile but may still
// be pushed aside by a chain that needs it.
type Agent struct {
	ID      string
	Pos     coord.WorldPosition
	Intent  coord.WorldPosition
	Movable bool
}

func (a Agent) hasIntent() bool {
	return !a.Intent.IsNull() && a.Intent != a.Pos && a.Pos.RangeTo(a.Intent) == 1
}

// Move is a committed single step.
type Move struct {
	ID   string
	From coord.WorldPosition
	To   coord.WorldPosition
	Dir  coord.Direction
}

// NeighborFunc lists the tiles an idle agent may be pushed onto. Walls,
// exit tiles and other unusable tiles must already be filtered out.
type NeighborFunc func(pos coord.WorldPosition) []coord.WorldPosition

type Options struct {
	// SinglePass stops after one sweep over the requesting agents instead
	// of repeating while any sweep makes progress.
	SinglePass bool
	// Seed is mixed with the tick to order idle agents' candidates.
	Seed int64
}

// Result holds the matched tile for every input agent, in input order.
type Result struct {
	Matched   []coord.WorldPosition
	Moves     []Move
	Requested int
	Satisfied int
	Passes    int
}

type slot struct {
	agent      Agent
	matched    coord.WorldPosition
	candidates []coord.WorldPosition
	ready      bool
}

// Arbiter keeps scratch state between ticks; it is not safe for concurrent use.
type Arbiter struct {
	neighbors NeighborFunc
	opts      Options
	rng       *rand.Rand

	slots  []slot
	holder map[coord.WorldPosition]int
	seen   visitSet
}

func NewArbiter(neighbors NeighborFunc, opts Options) *Arbiter {
	return &Arbiter{
		neighbors: neighbors,
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		holder:    map[coord.WorldPosition]int{},
	}
}

// Resolve arbitrates one tick.
func (a *Arbiter) Resolve(tick uint64, agents []Agent) (Result, error) {
	a.rng.Seed(a.opts.Seed ^ int64(tick*0x9E3779B97F4A7C15>>1))
	clear(a.holder)
	a.slots = a.slots[:0]
	a.seen.reset(len(agents))

	var requesting []int
	for i, ag := range agents {
		if prev, dup := a.holder[ag.Pos]; dup {
			return Result{}, fmt.Errorf("%s and %s at %v: %w", agents[prev].ID, ag.ID, ag.Pos, ErrSharedTile)
		}
		a.slots = append(a.slots, slot{agent: ag, matched: ag.Pos})
		a.holder[ag.Pos] = i
		if ag.hasIntent() {
			requesting = append(requesting, i)
		}
	}

	res := Result{Requested: len(requesting)}
	for pass := 0; pass <= len(requesting); pass++ {
		res.Passes++
		progress := false
		for _, i := range requesting {
			s := &a.slots[i]
			if s.matched == s.agent.Intent {
				continue
			}
			a.seen.next()
			a.release(i)
			if a.search(i, 0, &a.seen) > 0 {
				progress = true
				continue
			}
			a.assign(i, s.agent.Pos)
		}
		if !progress || a.opts.SinglePass {
			break
		}
	}

	res.Matched = make([]coord.WorldPosition, len(a.slots))
	for i := range a.slots {
		s := &a.slots[i]
		res.Matched[i] = s.matched
		if s.agent.hasIntent() && s.matched == s.agent.Intent {
			res.Satisfied++
		}
		if s.matched != s.agent.Pos {
			res.Moves = append(res.Moves, Move{
				ID:   s.agent.ID,
				From: s.agent.Pos,
				To:   s.matched,
				Dir:  s.agent.Pos.DirectionTo(s.matched),
			})
		}
	}
	return res, nil
}

// search walks from agent i over its candidate tiles, recursing into the
// holders of occupied tiles. A chain is committed only when its score is
// positive: +1 for each agent reaching its intent, -1 for each agent pushed
// off its intent. The first free tile reached ends the branch.
func (a *Arbiter) search(i int, score int, seen *visitSet) int {
	seen.mark(i)
	for _, c := range a.candidates(i) {
		s := score
		if a.slots[i].agent.hasIntent() && a.slots[i].agent.Intent == c {
			s++
		}
		occ, taken := a.holder[c]
		if !taken {
			if s > 0 {
				a.assign(i, c)
			}
			return s
		}
		if seen.has(occ) {
			continue
		}
		if o := a.slots[occ].agent; o.hasIntent() && o.Intent == c {
			s--
		}
		if r := a.search(occ, s, seen); r > 0 {
			a.assign(i, c)
			return r
		}
	}
	return math.MinInt
}

func (a *Arbiter) candidates(i int) []coord.WorldPosition {
	s := &a.slots[i]
	if s.ready {
		return s.candidates
	}
	s.ready = true
	switch {
	case !s.agent.Movable:
	case s.agent.hasIntent():
		s.candidates = []coord.WorldPosition{s.agent.Intent}
	case a.neighbors != nil:
		s.candidates = append([]coord.WorldPosition(nil), a.neighbors(s.agent.Pos)...)
		a.rng.Shuffle(len(s.candidates), func(x, y int) {
			s.candidates[x], s.candidates[y] = s.candidates[y], s.candidates[x]
		})
	}
	return s.candidates
}

func (a *Arbiter) release(i int) {
	s := &a.slots[i]
	if h, ok := a.holder[s.matched]; ok && h == i {
		delete(a.holder, s.matched)
	}
}

func (a *Arbiter) assign(i int, tile coord.WorldPosition) {
	a.release(i)
	a.slots[i].matched = tile
	a.holder[tile] = i
}

// visitSet is an epoch-stamped membership set over agent indexes.
type visitSet struct {
	stamp []uint32
	epoch uint32
}

func (v *visitSet) reset(n int) {
	if cap(v.stamp) < n {
		v.stamp = make([]uint32, n)
		v.epoch = 0
		return
	}
	v.stamp = v.stamp[:n]
}

func (v *visitSet) next() {
	v.epoch++
	if v.epoch == 0 {
		clear(v.stamp)
		v.epoch = 1
	}
}

func (v *visitSet) mark(i int)     { v.stamp[i] = v.epoch }
func (v *visitSet) has(i int) bool { return v.stamp[i] == v.epoch }
