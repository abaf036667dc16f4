package pathfinder

import (
	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/movement/terrain"
)

const (
	slotUnset   uint16 = 0
	slotBlocked uint16 = 0xFFFF
)

type roomInfo struct {
	pos     coord.MapPosition
	terrain *terrain.RoomTerrain
	costs   *terrain.CostMatrix
}

// roomTable assigns each room touched by a search a dense slot. Rooms are
// resolved lazily on first lookup and forgotten when the next search starts.
type roomTable struct {
	rooms   []roomInfo
	reverse []uint16
	touched []uint16
	limit   int

	terrain terrain.Provider
	costs   terrain.CostProvider
}

func newRoomTable(capacity int) roomTable {
	return roomTable{
		rooms:   make([]roomInfo, 0, capacity),
		reverse: make([]uint16, 1<<16),
		touched: make([]uint16, 0, capacity*2),
	}
}

func (t *roomTable) reset(limit int, tp terrain.Provider, cp terrain.CostProvider) {
	for _, id := range t.touched {
		t.reverse[id] = slotUnset
	}
	t.touched = t.touched[:0]
	t.rooms = t.rooms[:0]
	t.limit = limit
	t.terrain = tp
	t.costs = cp
}

// slot returns the room's table index, or -1 when the room is impassable,
// has no terrain, or would exceed the room limit.
func (t *roomTable) slot(room coord.MapPosition) int {
	id := room.ID()
	switch s := t.reverse[id]; s {
	case slotUnset:
	case slotBlocked:
		return -1
	default:
		return int(s) - 1
	}
	if len(t.rooms) >= t.limit {
		return -1
	}

	t.touched = append(t.touched, id)
	ter, ok := t.terrain.Terrain(room)
	if !ok || ter == nil {
		t.reverse[id] = slotBlocked
		return -1
	}
	var matrix *terrain.CostMatrix
	if t.costs != nil {
		ov := t.costs.CostOverlay(room)
		if ov.Blocked {
			t.reverse[id] = slotBlocked
			return -1
		}
		matrix = ov.Matrix
	}
	t.rooms = append(t.rooms, roomInfo{pos: room, terrain: ter, costs: matrix})
	t.reverse[id] = uint16(len(t.rooms))
	return len(t.rooms) - 1
}
