// Package terrain holds static room terrain and per-tick cost overlays.
package terrain

import (
	"errors"
	"fmt"
	"strings"

	"tilemove.ai/internal/movement/coord"
)

type Terrain uint8

const (
	Plain Terrain = iota
	Wall
	Swamp
)

func (t Terrain) String() string {
	switch t {
	case Plain:
		return "plain"
	case Wall:
		return "wall"
	case Swamp:
		return "swamp"
	}
	return fmt.Sprintf("terrain(%d)", uint8(t))
}

// RoomTerrain is a room's immutable terrain, indexed y*50+x.
type RoomTerrain [coord.RoomArea]Terrain

func (r *RoomTerrain) At(x, y int) Terrain { return r[y*coord.RoomSize+x] }

// Cost overlay values.
const (
	CostUnset      uint8 = 0
	CostImpassable uint8 = 255
)

// CostMatrix overrides terrain cost per tile: 0 defers to terrain, 255 blocks.
type CostMatrix [coord.RoomArea]uint8

func (m *CostMatrix) Get(x, y int) uint8 { return m[y*coord.RoomSize+x] }

func (m *CostMatrix) Set(x, y int, v uint8) { m[y*coord.RoomSize+x] = v }

// Overlay is the result of a cost-matrix query for one room. Blocked marks
// the whole room as impassable.
type Overlay struct {
	Matrix  *CostMatrix
	Blocked bool
}

// Provider supplies static terrain.
type Provider interface {
	Terrain(room coord.MapPosition) (*RoomTerrain, bool)
}

// CostProvider supplies a room's dynamic cost overlay. A nil Matrix means
// terrain only.
type CostProvider interface {
	CostOverlay(room coord.MapPosition) Overlay
}

// CostFunc adapts a function to CostProvider.
type CostFunc func(room coord.MapPosition) Overlay

func (f CostFunc) CostOverlay(room coord.MapPosition) Overlay { return f(room) }

var ErrBadRoomRows = errors.New("room rows must be 50x50")

// Structure markers that ParseRoom can extract alongside terrain.
const (
	MarkRoad      = '='
	MarkStructure = 'X'
)

// ParseRoom reads 50 rows of 50 glyphs: '.' plain, '~' swamp, '#' wall,
// '=' road (plain terrain), 'X' blocking structure (plain terrain).
// Roads and structures are returned as a cost matrix; nil when neither
// appears. The four corner tiles are always walls.
func ParseRoom(rows []string) (*RoomTerrain, *CostMatrix, error) {
	if len(rows) != coord.RoomSize {
		return nil, nil, fmt.Errorf("%d rows: %w", len(rows), ErrBadRoomRows)
	}
	var t RoomTerrain
	var m CostMatrix
	marked := false
	for y, row := range rows {
		row = strings.TrimRight(row, "\r")
		if len(row) != coord.RoomSize {
			return nil, nil, fmt.Errorf("row %d has %d columns: %w", y, len(row), ErrBadRoomRows)
		}
		for x := 0; x < coord.RoomSize; x++ {
			i := y*coord.RoomSize + x
			switch row[x] {
			case '.', ' ':
				t[i] = Plain
			case '~':
				t[i] = Swamp
			case '#':
				t[i] = Wall
			case MarkRoad:
				t[i] = Plain
				m[i] = 1
				marked = true
			case MarkStructure:
				t[i] = Plain
				m[i] = CostImpassable
				marked = true
			default:
				return nil, nil, fmt.Errorf("row %d col %d: unknown glyph %q", y, x, row[x])
			}
		}
	}
	last := coord.RoomSize - 1
	for _, c := range [4][2]int{{0, 0}, {last, 0}, {0, last}, {last, last}} {
		i := c[1]*coord.RoomSize + c[0]
		t[i] = Wall
		m[i] = 0
	}
	if !marked {
		return &t, nil, nil
	}
	return &t, &m, nil
}

// Fill returns a room of uniform terrain.
func Fill(t Terrain) *RoomTerrain {
	var r RoomTerrain
	for i := range r {
		r[i] = t
	}
	return &r
}

// BorderWalls returns a plain room walled on every edge except at the
// listed exit sides ('N', 'E', 'S', 'W'), where the middle 46 tiles stay open.
func BorderWalls(exits string) *RoomTerrain {
	r := Fill(Plain)
	last := coord.RoomSize - 1
	for i := 0; i < coord.RoomSize; i++ {
		open := i > 1 && i < last-1
		if !open || !strings.ContainsRune(exits, 'N') {
			r[i] = Wall
		}
		if !open || !strings.ContainsRune(exits, 'S') {
			r[last*coord.RoomSize+i] = Wall
		}
		if !open || !strings.ContainsRune(exits, 'W') {
			r[i*coord.RoomSize] = Wall
		}
		if !open || !strings.ContainsRune(exits, 'E') {
			r[i*coord.RoomSize+last] = Wall
		}
	}
	return r
}

// Render is the inverse of ParseRoom. m may be nil.
func Render(t *RoomTerrain, m *CostMatrix) []string {
	rows := make([]string, coord.RoomSize)
	buf := make([]byte, coord.RoomSize)
	for y := 0; y < coord.RoomSize; y++ {
		for x := 0; x < coord.RoomSize; x++ {
			i := y*coord.RoomSize + x
			switch t[i] {
			case Wall:
				buf[x] = '#'
			case Swamp:
				buf[x] = '~'
			default:
				buf[x] = '.'
			}
			if m == nil || t[i] == Wall {
				continue
			}
			switch m[i] {
			case CostImpassable:
				buf[x] = MarkStructure
			case 1:
				buf[x] = MarkRoad
			}
		}
		rows[y] = string(buf)
	}
	return rows
}
