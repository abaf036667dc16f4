// Package pathcache stores movement that outlives a tick: serialized step
// strings replayed by agents, and per-room flow fields toward busy targets.
package pathcache

import (
	"strings"

	"tilemove.ai/internal/movement/coord"
)

// DefaultPathAge is how many steps a serialized path buffers.
const DefaultPathAge = 8

// Path is a sequence of direction codes '1'..'8', first step first.
type Path string

// Serialize converts a route starting next to from into at most age steps.
// Steps across a room seam are omitted; exits carry agents over.
func Serialize(from coord.WorldPosition, route []coord.WorldPosition, age int) Path {
	if age <= 0 {
		age = DefaultPathAge
	}
	var b strings.Builder
	prev := from
	for _, p := range route {
		if b.Len() >= age {
			break
		}
		if prev.Room() == p.Room() {
			d := prev.DirectionTo(p)
			if d == coord.None || prev.RangeTo(p) != 1 {
				break
			}
			b.WriteByte('0' + byte(d))
		}
		prev = p
	}
	return Path(b.String())
}

func (p Path) Len() int       { return len(p) }
func (p Path) Empty() bool    { return len(p) == 0 }
func (p Path) String() string { return string(p) }

// Peek returns the next direction, or None when the path is empty or corrupt.
func (p Path) Peek() coord.Direction {
	if len(p) == 0 {
		return coord.None
	}
	d := coord.Direction(p[0] - '0')
	if !d.Valid() {
		return coord.None
	}
	return d
}

// Advance drops the first step.
func (p Path) Advance() Path {
	if len(p) == 0 {
		return p
	}
	return p[1:]
}

// Valid reports whether every code is a direction.
func (p Path) Valid() bool {
	for i := 0; i < len(p); i++ {
		if p[i] < '1' || p[i] > '8' {
			return false
		}
	}
	return true
}

// Positions expands the path from a start tile. Expansion stops at the
// first step that would leave the world.
func (p Path) Positions(from coord.WorldPosition) []coord.WorldPosition {
	out := make([]coord.WorldPosition, 0, len(p))
	cur := from
	for i := 0; i < len(p); i++ {
		next, err := cur.Step(coord.Direction(p[i] - '0'))
		if err != nil {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}
