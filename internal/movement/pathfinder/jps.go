package pathfinder

import "tilemove.ai/internal/movement/coord"

func isBorder(v int) bool     { return (v+1)%coord.RoomSize < 2 }
func isNearBorder(v int) bool { return (v+2)%coord.RoomSize < 4 }

// astar pushes every passable neighbour. Exit tiles may only be left by
// stepping straight across the seam or back into their own room.
func (e *Engine) astar(idx uint32, x, y int, g uint32) {
	lx, ly := x%coord.RoomSize, y%coord.RoomSize
	for _, d := range coord.Directions {
		dx, dy := d.Delta()
		switch {
		case lx == 0:
			if dx == 0 || (dx < 0 && dy != 0) {
				continue
			}
		case lx == coord.RoomSize-1:
			if dx == 0 || (dx > 0 && dy != 0) {
				continue
			}
		case ly == 0:
			if dy == 0 || (dy < 0 && dx != 0) {
				continue
			}
		case ly == coord.RoomSize-1:
			if dy == 0 || (dy > 0 && dx != 0) {
				continue
			}
		}
		nx, ny := x+dx, y+dy
		c := e.look(nx, ny)
		if c == obstacle {
			continue
		}
		e.push(idx, nx, ny, g+c)
	}
}

// jps expands a node along the direction it was reached from, skipping
// runs of equal-cost tiles. Within two tiles of a room seam it falls back
// to single steps because costs are discontinuous there.
func (e *Engine) jps(idx uint32, x, y int, g uint32) {
	px, py := e.pos(e.parents[idx])
	dx, dy := sign(x-px), sign(y-py)

	var nb [3][2]int
	n := 0
	switch lx, ly := x%coord.RoomSize, y%coord.RoomSize; {
	case lx == 0:
		if dx == -1 {
			nb[0], n = [2]int{x - 1, y}, 1
		} else if dx == 1 {
			nb, n = [3][2]int{{x + 1, y - 1}, {x + 1, y}, {x + 1, y + 1}}, 3
		}
	case lx == coord.RoomSize-1:
		if dx == 1 {
			nb[0], n = [2]int{x + 1, y}, 1
		} else if dx == -1 {
			nb, n = [3][2]int{{x - 1, y - 1}, {x - 1, y}, {x - 1, y + 1}}, 3
		}
	case ly == 0:
		if dy == -1 {
			nb[0], n = [2]int{x, y - 1}, 1
		} else if dy == 1 {
			nb, n = [3][2]int{{x - 1, y + 1}, {x, y + 1}, {x + 1, y + 1}}, 3
		}
	case ly == coord.RoomSize-1:
		if dy == 1 {
			nb[0], n = [2]int{x, y + 1}, 1
		} else if dy == -1 {
			nb, n = [3][2]int{{x - 1, y - 1}, {x, y - 1}, {x + 1, y - 1}}, 3
		}
	}
	if n != 0 {
		for _, p := range nb[:n] {
			if c := e.look(p[0], p[1]); c != obstacle {
				e.push(idx, p[0], p[1], g+c)
			}
		}
		return
	}
	if dx == 0 && dy == 0 {
		e.astar(idx, x, y, g)
		return
	}

	borderDx, borderDy := 0, 0
	switch x % coord.RoomSize {
	case 1:
		borderDx = -1
	case coord.RoomSize - 2:
		borderDx = 1
	}
	switch y % coord.RoomSize {
	case 1:
		borderDy = -1
	case coord.RoomSize - 2:
		borderDy = 1
	}

	cost := e.look(x, y)
	if dx != 0 {
		if c := e.look(x+dx, y); c != obstacle {
			if borderDy == 0 {
				e.jumpNeighbor(idx, x, y, x+dx, y, g, cost, c)
			} else {
				e.push(idx, x+dx, y, g+c)
			}
		}
	}
	if dy != 0 {
		if c := e.look(x, y+dy); c != obstacle {
			if borderDx == 0 {
				e.jumpNeighbor(idx, x, y, x, y+dy, g, cost, c)
			} else {
				e.push(idx, x, y+dy, g+c)
			}
		}
	}

	// Forced neighbours.
	switch {
	case dx != 0 && dy != 0:
		if c := e.look(x+dx, y+dy); c != obstacle {
			e.jumpNeighbor(idx, x, y, x+dx, y+dy, g, cost, c)
		}
		if e.look(x-dx, y) != cost {
			e.jumpNeighbor(idx, x, y, x-dx, y+dy, g, cost, e.look(x-dx, y+dy))
		}
		if e.look(x, y-dy) != cost {
			e.jumpNeighbor(idx, x, y, x+dx, y-dy, g, cost, e.look(x+dx, y-dy))
		}
	case dx != 0:
		if borderDy == 1 || e.look(x, y+1) != cost {
			e.jumpNeighbor(idx, x, y, x+dx, y+1, g, cost, e.look(x+dx, y+1))
		}
		if borderDy == -1 || e.look(x, y-1) != cost {
			e.jumpNeighbor(idx, x, y, x+dx, y-1, g, cost, e.look(x+dx, y-1))
		}
	default:
		if borderDx == 1 || e.look(x+1, y) != cost {
			e.jumpNeighbor(idx, x, y, x+1, y+dy, g, cost, e.look(x+1, y+dy))
		}
		if borderDx == -1 || e.look(x-1, y) != cost {
			e.jumpNeighbor(idx, x, y, x-1, y+dy, g, cost, e.look(x-1, y+dy))
		}
	}
}

// jumpNeighbor pushes nx,ny directly when its cost differs from the current
// tile or it sits on a seam, and otherwise pushes the jump point found by
// scanning onward from it.
func (e *Engine) jumpNeighbor(idx uint32, x, y, nx, ny int, g, cost, nc uint32) {
	if nc != cost || isBorder(nx) || isBorder(ny) {
		if nc == obstacle {
			return
		}
		e.push(idx, nx, ny, g+nc)
		return
	}
	jx, jy, ok := e.jump(nc, nx, ny, nx-x, ny-y)
	if !ok {
		return
	}
	steps := uint32(max(abs(jx-x), abs(jy-y)))
	e.push(idx, jx, jy, g+nc*(steps-1)+e.look(jx, jy))
}

func (e *Engine) jump(cost uint32, x, y, dx, dy int) (int, int, bool) {
	switch {
	case dx != 0 && dy != 0:
		return e.jumpXY(cost, x, y, dx, dy)
	case dx != 0:
		return e.jumpX(cost, x, y, dx)
	default:
		return e.jumpY(cost, x, y, dy)
	}
}

func (e *Engine) jumpX(cost uint32, x, y, dx int) (int, int, bool) {
	prevUp := e.look(x, y-1)
	prevDown := e.look(x, y+1)
	for {
		if e.heuristic(x, y) == 0 || isNearBorder(x) {
			break
		}
		up := e.look(x+dx, y-1)
		down := e.look(x+dx, y+1)
		if (up != obstacle && prevUp != cost) || (down != obstacle && prevDown != cost) {
			break
		}
		prevUp, prevDown = up, down
		x += dx

		c := e.look(x, y)
		if c == obstacle {
			return 0, 0, false
		}
		if c != cost {
			break
		}
	}
	return x, y, true
}

func (e *Engine) jumpY(cost uint32, x, y, dy int) (int, int, bool) {
	prevLeft := e.look(x-1, y)
	prevRight := e.look(x+1, y)
	for {
		if e.heuristic(x, y) == 0 || isNearBorder(y) {
			break
		}
		left := e.look(x-1, y+dy)
		right := e.look(x+1, y+dy)
		if (left != obstacle && prevLeft != cost) || (right != obstacle && prevRight != cost) {
			break
		}
		prevLeft, prevRight = left, right
		y += dy

		c := e.look(x, y)
		if c == obstacle {
			return 0, 0, false
		}
		if c != cost {
			break
		}
	}
	return x, y, true
}

func (e *Engine) jumpXY(cost uint32, x, y, dx, dy int) (int, int, bool) {
	prevX := e.look(x-dx, y)
	prevY := e.look(x, y-dy)
	for {
		if e.heuristic(x, y) == 0 || isNearBorder(x) || isNearBorder(y) {
			break
		}
		if (e.look(x-dx, y+dy) != obstacle && prevX != cost) || (e.look(x+dx, y-dy) != obstacle && prevY != cost) {
			break
		}
		prevX = e.look(x, y+dy)
		prevY = e.look(x+dx, y)
		if prevY != obstacle {
			if _, _, ok := e.jumpX(cost, x+dx, y, dx); ok {
				break
			}
		}
		if prevX != obstacle {
			if _, _, ok := e.jumpY(cost, x, y+dy, dy); ok {
				break
			}
		}
		x += dx
		y += dy

		c := e.look(x, y)
		if c == obstacle {
			return 0, 0, false
		}
		if c != cost {
			break
		}
	}
	return x, y, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
