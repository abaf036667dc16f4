package pathfinder

import (
	"math/rand"
	"testing"
)

func TestNodeHeapOrdersAndUpdates(t *testing.T) {
	h := newNodeHeap(512)
	rng := rand.New(rand.NewSource(4))
	for i := uint32(0); i < 512; i++ {
		h.push(i, uint32(1000+rng.Intn(5000)))
	}
	for i := uint32(0); i < 512; i += 3 {
		if p := h.priority(i); p > 10 {
			h.update(i, p-10-uint32(rng.Intn(900)))
		}
	}
	last := uint32(0)
	for n := 0; !h.empty(); n++ {
		idx, p := h.pop()
		if p < last {
			t.Fatalf("pop %d: priority %d after %d", n, p, last)
		}
		if h.pos[idx] != -1 {
			t.Fatalf("popped tile %d still has a heap slot", idx)
		}
		last = p
	}
}

func TestOpenClosedGenerations(t *testing.T) {
	oc := newOpenClosed(8)
	oc.clear()
	oc.open(1)
	oc.close(2)
	if !oc.isOpen(1) || oc.isClosed(1) || !oc.isClosed(2) {
		t.Fatalf("unexpected marks: %v marker %d", oc.marks, oc.marker)
	}
	oc.clear()
	if oc.isOpen(1) || oc.isClosed(2) {
		t.Fatalf("marks survived a new generation")
	}
}
