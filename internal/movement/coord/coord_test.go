package coord

import (
	"errors"
	"testing"
)

func TestRoomNameRoundTrip(t *testing.T) {
	for x := 0; x < WorldSize; x++ {
		for y := 0; y < WorldSize; y += 7 {
			m := MapPosition{XX: uint8(x), YY: uint8(y)}
			name, err := GridToRoom(m)
			if err != nil {
				t.Fatalf("GridToRoom(%+v): %v", m, err)
			}
			got, err := RoomToGrid(name)
			if err != nil {
				t.Fatalf("RoomToGrid(%q): %v", name, err)
			}
			if got != m {
				t.Fatalf("round trip %q: got %+v want %+v", name, got, m)
			}
		}
	}
}

func TestRoomToGridKnownNames(t *testing.T) {
	cases := map[string]MapPosition{
		"W0N0":     {XX: 127, YY: 127},
		"E0S0":     {XX: 128, YY: 128},
		"W127N127": {XX: 0, YY: 0},
		"E126S126": {XX: 254, YY: 254},
		"W3N7":     {XX: 124, YY: 120},
	}
	for name, want := range cases {
		got, err := RoomToGrid(name)
		if err != nil {
			t.Fatalf("RoomToGrid(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("RoomToGrid(%q)=%+v want %+v", name, got, want)
		}
	}
}

func TestRoomToGridRejectsMalformed(t *testing.T) {
	for _, name := range []string{"", "W1", "X1N1", "W1Q1", "WN1", "W1N", "W01N1", "W1N+1", "W1N-1", "W1N1x", "sim"} {
		if _, err := RoomToGrid(name); !errors.Is(err, ErrMalformedRoomName) {
			t.Fatalf("RoomToGrid(%q): expected ErrMalformedRoomName, got %v", name, err)
		}
	}
	if _, err := RoomToGrid("E127N0"); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("E127N0: expected ErrOutOfWorld, got %v", err)
	}
}

func TestLocalWorldRoundTrip(t *testing.T) {
	rooms := []MapPosition{{0, 0}, {127, 127}, {254, 254}, {12, 200}}
	for _, room := range rooms {
		for x := 0; x < RoomSize; x++ {
			for y := 0; y < RoomSize; y++ {
				p, err := LocalToWorld(room, x, y)
				if err != nil {
					t.Fatalf("LocalToWorld: %v", err)
				}
				r, lx, ly, err := WorldToLocal(p)
				if err != nil {
					t.Fatalf("WorldToLocal: %v", err)
				}
				if r != room || lx != x || ly != y {
					t.Fatalf("round trip: got %v %d %d want %v %d %d", r, lx, ly, room, x, y)
				}
			}
		}
	}
	if _, err := LocalToWorld(MapPosition{}, 50, 0); !errors.Is(err, ErrBadLocal) {
		t.Fatalf("expected ErrBadLocal, got %v", err)
	}
	if _, _, _, err := WorldToLocal(Null); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("expected ErrOutOfWorld for Null, got %v", err)
	}
}

func TestOffsetRejectsWrap(t *testing.T) {
	origin := WorldPosition{}
	if _, err := origin.Step(TopLeft); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("expected ErrOutOfWorld, got %v", err)
	}
	far := WorldPosition{XX: WorldSize*RoomSize - 1, YY: 10}
	if _, err := far.Step(Right); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("expected ErrOutOfWorld, got %v", err)
	}
	if _, err := far.Step(None); !errors.Is(err, ErrBadDirection) {
		t.Fatalf("expected ErrBadDirection, got %v", err)
	}
}

func TestDirections(t *testing.T) {
	p := MustWorld("W1N1", 25, 25)
	for _, d := range Directions {
		q, err := p.Step(d)
		if err != nil {
			t.Fatalf("Step(%v): %v", d, err)
		}
		if got := p.DirectionTo(q); got != d {
			t.Fatalf("DirectionTo after Step(%v) = %v", d, got)
		}
		if got := q.DirectionTo(p); got != d.Opposite() {
			t.Fatalf("Opposite(%v) = %v, want %v", d, d.Opposite(), got)
		}
		if p.RangeTo(q) != 1 {
			t.Fatalf("RangeTo after one step = %d", p.RangeTo(q))
		}
	}
	if p.DirectionTo(p) != None {
		t.Fatalf("DirectionTo(self) should be None")
	}
	q := MustWorld("W0N1", 2, 20)
	if got := p.RangeTo(q); got != 27 {
		t.Fatalf("RangeTo across rooms = %d, want 27", got)
	}
}
