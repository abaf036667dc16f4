package coord

// Direction is one of the eight compass steps, 1 (Top) through 8 (TopLeft)
// clockwise. Zero means "no direction".
type Direction uint8

const (
	None Direction = iota
	Top
	TopRight
	Right
	BottomRight
	Bottom
	BottomLeft
	Left
	TopLeft
)

// Directions lists every valid direction in code order.
var Directions = [8]Direction{Top, TopRight, Right, BottomRight, Bottom, BottomLeft, Left, TopLeft}

var offsets = [9][2]int{
	{0, 0},
	{0, -1},
	{1, -1},
	{1, 0},
	{1, 1},
	{0, 1},
	{-1, 1},
	{-1, 0},
	{-1, -1},
}

func (d Direction) Valid() bool { return d >= Top && d <= TopLeft }

// Delta returns the (dx, dy) of one step.
func (d Direction) Delta() (int, int) {
	if !d.Valid() {
		return 0, 0
	}
	return offsets[d][0], offsets[d][1]
}

func (d Direction) Opposite() Direction {
	if !d.Valid() {
		return None
	}
	return Direction((uint8(d)+3)%8 + 1)
}

func (d Direction) Diagonal() bool { return d.Valid() && d%2 == 0 }

// DirectionFromDelta maps a unit delta to its direction.
func DirectionFromDelta(dx, dy int) Direction {
	for d := Top; d <= TopLeft; d++ {
		if offsets[d][0] == dx && offsets[d][1] == dy {
			return d
		}
	}
	return None
}

func (d Direction) String() string {
	switch d {
	case Top:
		return "top"
	case TopRight:
		return "top_right"
	case Right:
		return "right"
	case BottomRight:
		return "bottom_right"
	case Bottom:
		return "bottom"
	case BottomLeft:
		return "bottom_left"
	case Left:
		return "left"
	case TopLeft:
		return "top_left"
	}
	return "none"
}
