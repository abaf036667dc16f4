// Package coord maps between room names, room-local tiles and the flat world grid.
package coord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// RoomSize is the side length of a room in tiles.
	RoomSize = 50
	// RoomArea is the number of tiles in one room.
	RoomArea = RoomSize * RoomSize
	// WorldSize is the side length of the room grid.
	WorldSize = 255

	halfWorld = WorldSize / 2
)

var (
	ErrMalformedRoomName = errors.New("malformed room name")
	ErrOutOfWorld        = errors.New("position outside world")
	ErrBadLocal          = errors.New("local coordinate outside room")
	ErrBadDirection      = errors.New("invalid direction")
)

// MapPosition identifies a room by its cell in the room grid.
type MapPosition struct {
	XX uint8
	YY uint8
}

// ID packs the position into a dense 16-bit index.
func (m MapPosition) ID() uint16 { return uint16(m.XX)<<8 | uint16(m.YY) }

// MapPositionFromID is the inverse of ID.
func MapPositionFromID(id uint16) MapPosition {
	return MapPosition{XX: uint8(id >> 8), YY: uint8(id)}
}

func (m MapPosition) Valid() bool { return m.XX < WorldSize && m.YY < WorldSize }

func (m MapPosition) String() string {
	name, err := GridToRoom(m)
	if err != nil {
		return fmt.Sprintf("room(%d,%d)", m.XX, m.YY)
	}
	return name
}

// Offset returns the neighbouring room, or false past the world border.
func (m MapPosition) Offset(dx, dy int) (MapPosition, bool) {
	x := int(m.XX) + dx
	y := int(m.YY) + dy
	if x < 0 || y < 0 || x >= WorldSize || y >= WorldSize {
		return MapPosition{}, false
	}
	return MapPosition{XX: uint8(x), YY: uint8(y)}, true
}

// RoomToGrid parses names such as "W3N7" or "E0S12".
func RoomToGrid(name string) (MapPosition, error) {
	if len(name) < 4 {
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}
	i := 1
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	if i == 1 || i >= len(name)-1 {
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}
	hn, ok := parseIndex(name[1:i])
	if !ok {
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}
	vn, ok := parseIndex(name[i+1:])
	if !ok {
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}

	var x, y int
	switch name[0] {
	case 'W':
		x = halfWorld - hn
	case 'E':
		x = halfWorld + hn + 1
	default:
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}
	switch name[i] {
	case 'N':
		y = halfWorld - vn
	case 'S':
		y = halfWorld + vn + 1
	default:
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrMalformedRoomName)
	}
	if x < 0 || y < 0 || x >= WorldSize || y >= WorldSize {
		return MapPosition{}, fmt.Errorf("%q: %w", name, ErrOutOfWorld)
	}
	return MapPosition{XX: uint8(x), YY: uint8(y)}, nil
}

// parseIndex accepts plain decimal digits without a redundant leading zero.
func parseIndex(s string) (int, bool) {
	if s == "" || len(s) > 3 || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// GridToRoom formats a room grid cell as its room name.
func GridToRoom(m MapPosition) (string, error) {
	if !m.Valid() {
		return "", fmt.Errorf("room (%d,%d): %w", m.XX, m.YY, ErrOutOfWorld)
	}
	buf := make([]byte, 0, 8)
	if int(m.XX) <= halfWorld {
		buf = append(buf, 'W')
		buf = strconv.AppendInt(buf, int64(halfWorld-int(m.XX)), 10)
	} else {
		buf = append(buf, 'E')
		buf = strconv.AppendInt(buf, int64(int(m.XX)-halfWorld-1), 10)
	}
	if int(m.YY) <= halfWorld {
		buf = append(buf, 'N')
		buf = strconv.AppendInt(buf, int64(halfWorld-int(m.YY)), 10)
	} else {
		buf = append(buf, 'S')
		buf = strconv.AppendInt(buf, int64(int(m.YY)-halfWorld-1), 10)
	}
	return string(buf), nil
}

// WorldPosition is a flat coordinate across every room of the world.
type WorldPosition struct {
	XX uint32 `json:"x"`
	YY uint32 `json:"y"`
}

// Null is the reserved "no position" value.
var Null = WorldPosition{XX: math.MaxUint32, YY: 0}

func (p WorldPosition) IsNull() bool { return p == Null }

// LocalToWorld combines a room and a local tile.
func LocalToWorld(room MapPosition, x, y int) (WorldPosition, error) {
	if !room.Valid() {
		return Null, fmt.Errorf("room (%d,%d): %w", room.XX, room.YY, ErrOutOfWorld)
	}
	if x < 0 || y < 0 || x >= RoomSize || y >= RoomSize {
		return Null, fmt.Errorf("local (%d,%d): %w", x, y, ErrBadLocal)
	}
	return WorldPosition{
		XX: uint32(room.XX)*RoomSize + uint32(x),
		YY: uint32(room.YY)*RoomSize + uint32(y),
	}, nil
}

// MustWorld is LocalToWorld for constants known to be valid.
func MustWorld(room string, x, y int) WorldPosition {
	m, err := RoomToGrid(room)
	if err != nil {
		panic(err)
	}
	p, err := LocalToWorld(m, x, y)
	if err != nil {
		panic(err)
	}
	return p
}

// WorldToLocal splits a position into its room and local tile.
func WorldToLocal(p WorldPosition) (MapPosition, int, int, error) {
	if !p.InWorld() {
		return MapPosition{}, 0, 0, fmt.Errorf("(%d,%d): %w", p.XX, p.YY, ErrOutOfWorld)
	}
	return p.Room(), p.LocalX(), p.LocalY(), nil
}

// InWorld reports whether the position lies inside the room grid.
func (p WorldPosition) InWorld() bool {
	return p.XX < WorldSize*RoomSize && p.YY < WorldSize*RoomSize
}

func (p WorldPosition) Room() MapPosition {
	return MapPosition{XX: uint8(p.XX / RoomSize), YY: uint8(p.YY / RoomSize)}
}

func (p WorldPosition) LocalX() int { return int(p.XX % RoomSize) }
func (p WorldPosition) LocalY() int { return int(p.YY % RoomSize) }

// LocalIndex is y*50+x within the room.
func (p WorldPosition) LocalIndex() int { return p.LocalY()*RoomSize + p.LocalX() }

// IsEdge reports whether the tile is on its room's exit border.
func (p WorldPosition) IsEdge() bool {
	x, y := p.LocalX(), p.LocalY()
	return x == 0 || y == 0 || x == RoomSize-1 || y == RoomSize-1
}

func (p WorldPosition) String() string {
	if p.IsNull() {
		return "null"
	}
	if !p.InWorld() {
		return fmt.Sprintf("(%d,%d)", p.XX, p.YY)
	}
	return fmt.Sprintf("%s[%d,%d]", p.Room(), p.LocalX(), p.LocalY())
}

// RangeTo is the Chebyshev distance.
func (p WorldPosition) RangeTo(o WorldPosition) uint32 {
	return max(absDiff(p.XX, o.XX), absDiff(p.YY, o.YY))
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// Offset applies a delta, rejecting results that would leave the world or wrap.
func (p WorldPosition) Offset(dx, dy int) (WorldPosition, error) {
	x := int64(p.XX) + int64(dx)
	y := int64(p.YY) + int64(dy)
	if x < 0 || y < 0 || x >= WorldSize*RoomSize || y >= WorldSize*RoomSize {
		return Null, fmt.Errorf("%v%+d%+d: %w", p, dx, dy, ErrOutOfWorld)
	}
	return WorldPosition{XX: uint32(x), YY: uint32(y)}, nil
}

// Step moves one tile in the given direction.
func (p WorldPosition) Step(d Direction) (WorldPosition, error) {
	if !d.Valid() {
		return Null, fmt.Errorf("%d: %w", d, ErrBadDirection)
	}
	o := offsets[d]
	return p.Offset(o[0], o[1])
}

// DirectionTo returns the step direction toward o, or 0 when equal.
func (p WorldPosition) DirectionTo(o WorldPosition) Direction {
	return DirectionFromDelta(sign(int64(o.XX)-int64(p.XX)), sign(int64(o.YY)-int64(p.YY)))
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
