package pathfinder

import "math"

// nodeHeap is a binary min-heap of tile indices keyed by a per-tile priority.
// pos tracks each queued tile's slot so priorities can be lowered in place.
type nodeHeap struct {
	items []uint32
	prio  []uint32
	pos   []int32
}

func newNodeHeap(tiles int) nodeHeap {
	return nodeHeap{
		items: make([]uint32, 0, 1024),
		prio:  make([]uint32, tiles),
		pos:   make([]int32, tiles),
	}
}

func (h *nodeHeap) reset()      { h.items = h.items[:0] }
func (h *nodeHeap) len() int    { return len(h.items) }
func (h *nodeHeap) empty() bool { return len(h.items) == 0 }

func (h *nodeHeap) priority(idx uint32) uint32 { return h.prio[idx] }

func (h *nodeHeap) push(idx, p uint32) {
	h.prio[idx] = p
	h.pos[idx] = int32(len(h.items))
	h.items = append(h.items, idx)
	h.up(len(h.items) - 1)
}

// update lowers the priority of a tile already in the heap.
func (h *nodeHeap) update(idx, p uint32) {
	h.prio[idx] = p
	h.up(int(h.pos[idx]))
}

func (h *nodeHeap) pop() (uint32, uint32) {
	if len(h.items) == 0 {
		return 0, math.MaxUint32
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.swap(0, last)
	h.items = h.items[:last]
	if last > 0 {
		h.down(0)
	}
	h.pos[top] = -1
	return top, h.prio[top]
}

func (h *nodeHeap) less(i, j int) bool {
	return h.prio[h.items[i]] < h.prio[h.items[j]]
}

func (h *nodeHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i]] = int32(i)
	h.pos[h.items[j]] = int32(j)
}

func (h *nodeHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			return
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *nodeHeap) down(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && h.less(r, l) {
			m = r
		}
		if !h.less(m, i) {
			return
		}
		h.swap(i, m)
		i = m
	}
}

// openClosed marks tiles open or closed for the current search. Each search
// bumps the marker by two instead of clearing the array; the array is only
// zeroed when the marker is about to overflow.
type openClosed struct {
	marks  []uint32
	marker uint32
}

func newOpenClosed(tiles int) openClosed {
	return openClosed{marks: make([]uint32, tiles), marker: 1}
}

func (o *openClosed) clear() {
	if o.marker >= math.MaxUint32-2 {
		clear(o.marks)
		o.marker = 1
		return
	}
	o.marker += 2
}

func (o *openClosed) isOpen(i uint32) bool   { return o.marks[i] == o.marker }
func (o *openClosed) isClosed(i uint32) bool { return o.marks[i] == o.marker+1 }
func (o *openClosed) open(i uint32)          { o.marks[i] = o.marker }
func (o *openClosed) close(i uint32)         { o.marks[i] = o.marker + 1 }
