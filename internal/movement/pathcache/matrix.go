package pathcache

import (
	"errors"
	"fmt"

	"tilemove.ai/internal/movement/coord"
)

// MatrixBytes is the packed size of a room's direction field.
const MatrixBytes = coord.RoomArea / 2

var ErrMatrixSize = errors.New("pathcache: packed matrix must be 1250 bytes")

// DirectionMatrix holds one 4-bit direction per tile; even tile indices use
// the low nibble and odd ones the high nibble.
type DirectionMatrix [MatrixBytes]byte

func (m *DirectionMatrix) GetIndex(i int) coord.Direction {
	b := m[i/2]
	if i%2 == 1 {
		b >>= 4
	}
	return coord.Direction(b & 0x0F)
}

// SetIndex stores d; values that do not fit in a nibble are stored as zero.
func (m *DirectionMatrix) SetIndex(i int, d coord.Direction) {
	v := byte(d)
	if v > 0x0F {
		v = 0
	}
	if i%2 == 1 {
		m[i/2] = m[i/2]&0x0F | v<<4
	} else {
		m[i/2] = m[i/2]&0xF0 | v
	}
}

func (m *DirectionMatrix) Get(x, y int) coord.Direction {
	return m.GetIndex(y*coord.RoomSize + x)
}

func (m *DirectionMatrix) Set(x, y int, d coord.Direction) {
	m.SetIndex(y*coord.RoomSize+x, d)
}

func (m *DirectionMatrix) Bytes() []byte {
	out := make([]byte, MatrixBytes)
	copy(out, m[:])
	return out
}

// MatrixFromBytes restores a matrix produced by Bytes.
func MatrixFromBytes(b []byte) (*DirectionMatrix, error) {
	if len(b) != MatrixBytes {
		return nil, fmt.Errorf("%d bytes: %w", len(b), ErrMatrixSize)
	}
	var m DirectionMatrix
	copy(m[:], b)
	return &m, nil
}
