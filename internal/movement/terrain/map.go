package terrain

import (
	"sort"
	"sync"

	"tilemove.ai/internal/movement/coord"
)

// Map is an in-memory terrain provider safe for concurrent readers.
type Map struct {
	mu    sync.RWMutex
	rooms map[coord.MapPosition]*RoomTerrain
}

func NewMap() *Map {
	return &Map{rooms: map[coord.MapPosition]*RoomTerrain{}}
}

func (m *Map) Set(room coord.MapPosition, t *RoomTerrain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room] = t
}

func (m *Map) Terrain(room coord.MapPosition) (*RoomTerrain, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.rooms[room]
	return t, ok
}

// At returns the terrain under a world position; missing rooms read as Wall.
func (m *Map) At(p coord.WorldPosition) Terrain {
	if !p.InWorld() {
		return Wall
	}
	t, ok := m.Terrain(p.Room())
	if !ok {
		return Wall
	}
	return t[p.LocalIndex()]
}

// Rooms lists registered rooms ordered by ID.
func (m *Map) Rooms() []coord.MapPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]coord.MapPosition, 0, len(m.rooms))
	for r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
