package pathcache

import (
	"errors"
	"math"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

// Flow-field tile costs.
const (
	FlowPlainCost = 3
	FlowSwampCost = 5
	FlowRoadCost  = 1
)

var ErrNoSources = errors.New("pathcache: flow field needs at least one source")

// FlowCosts derives the per-tile cost used for flow fields. Overlay entries
// replace terrain costs; walls stay impassable.
func FlowCosts(ter *terrain.RoomTerrain, overlay *terrain.CostMatrix) *terrain.CostMatrix {
	var out terrain.CostMatrix
	for i := range out {
		switch ter[i] {
		case terrain.Wall:
			out[i] = terrain.CostImpassable
			continue
		case terrain.Swamp:
			out[i] = FlowSwampCost
		default:
			out[i] = FlowPlainCost
		}
		if overlay != nil && overlay[i] != terrain.CostUnset {
			out[i] = overlay[i]
		}
	}
	return &out
}

// GenerateFlowField relaxes distances outward from every source and records,
// per tile, the step toward the cheapest neighbour. Exit tiles are left out
// so agents following the field never leave the room. Sources and
// unreachable tiles hold coord.None.
func GenerateFlowField(costs *terrain.CostMatrix, sources [][2]int) (*DirectionMatrix, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	var dist [coord.RoomArea]uint16
	for i := range dist {
		dist[i] = math.MaxUint16
	}
	queue := make([]int, 0, coord.RoomArea)
	for _, s := range sources {
		x, y := s[0], s[1]
		if x < 0 || y < 0 || x >= coord.RoomSize || y >= coord.RoomSize {
			continue
		}
		i := y*coord.RoomSize + x
		if dist[i] == 0 {
			continue
		}
		dist[i] = 0
		queue = append(queue, i)
	}
	if len(queue) == 0 {
		return nil, ErrNoSources
	}

	var field DirectionMatrix
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		cx, cy := cur%coord.RoomSize, cur/coord.RoomSize
		step := uint32(costs[cur])
		switch step {
		case uint32(terrain.CostUnset):
			step = FlowPlainCost
		case uint32(terrain.CostImpassable):
			// Only a source can be impassable here, e.g. a storage structure.
			step = FlowRoadCost
		}
		nd := uint32(dist[cur]) + step
		if nd >= math.MaxUint16 {
			continue
		}
		for _, d := range coord.Directions {
			dx, dy := d.Delta()
			nx, ny := cx+dx, cy+dy
			if nx <= 0 || ny <= 0 || nx >= coord.RoomSize-1 || ny >= coord.RoomSize-1 {
				continue
			}
			n := ny*coord.RoomSize + nx
			if costs[n] == terrain.CostImpassable {
				continue
			}
			if uint32(dist[n]) <= nd {
				continue
			}
			dist[n] = uint16(nd)
			field.SetIndex(n, d.Opposite())
			queue = append(queue, n)
		}
	}
	return &field, nil
}
