package world

import (
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

// structureCosts is the host's cost matrix provider: roads, blocking
// structures and rooms closed to pathing.
type structureCosts struct {
	rooms   map[coord.MapPosition]*terrain.CostMatrix
	blocked map[coord.MapPosition]bool
}

func newStructureCosts() *structureCosts {
	return &structureCosts{
		rooms:   map[coord.MapPosition]*terrain.CostMatrix{},
		blocked: map[coord.MapPosition]bool{},
	}
}

func (s *structureCosts) CostOverlay(room coord.MapPosition) terrain.Overlay {
	if s.blocked[room] {
		return terrain.Overlay{Blocked: true}
	}
	return terrain.Overlay{Matrix: s.rooms[room]}
}

func (s *structureCosts) set(room coord.MapPosition, x, y int, v uint8) {
	m := s.rooms[room]
	if m == nil {
		m = &terrain.CostMatrix{}
		s.rooms[room] = m
	}
	m.Set(x, y, v)
}

func (s *structureCosts) at(p coord.WorldPosition) uint8 {
	m := s.rooms[p.Room()]
	if m == nil {
		return terrain.CostUnset
	}
	return m[p.LocalIndex()]
}
