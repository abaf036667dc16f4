package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilemove.ai/internal/observerproto"
	"tilemove.ai/internal/sim/world"
)

const testScenario = `
id: observer_test
seed: 5
rooms:
  - name: W1N1
    exits: E
  - name: W0N1
    exits: W
agents:
  count: 4
hubs:
  - key: depot
    room: W0N1
    tiles: [[25, 25]]
`

func startWorld(t *testing.T) *world.World {
	t.Helper()
	scen, err := world.ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "obs", TickRateHz: 50}, scen, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestBootstrapHandler(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).BootstrapHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.WorldID != "obs" || boot.RunID != w.RunID() || boot.WorldParams.RoomSize != 50 || boot.WorldParams.Scenario != "observer_test" {
		t.Fatalf("bootstrap: %+v", boot)
	}
	if len(boot.Rooms) != 2 || len(boot.Hubs) != 1 || boot.Hubs[0].Key != "depot" {
		t.Fatalf("rooms/hubs: %+v", boot)
	}

	post, err := http.Post(srv.URL, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status: %d", post.StatusCode)
	}
}

func TestWSStreamsRoomsAndTicks(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).WSHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Rooms: []string{"w0n1", "bogus"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var sawRoom, sawTick bool
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !(sawRoom && sawTick) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v (room=%v tick=%v)", err, sawRoom, sawTick)
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(msg, &head)
		switch head.Type {
		case "ROOM":
			var room observerproto.RoomMsg
			_ = json.Unmarshal(msg, &room)
			if room.Room != "W0N1" {
				t.Fatalf("unsubscribed room: %s", room.Room)
			}
			sawRoom = true
		case "TICK":
			var tick observerproto.TickMsg
			_ = json.Unmarshal(msg, &tick)
			for _, a := range tick.Agents {
				if a.Room != "W0N1" {
					t.Fatalf("agent outside subscription: %+v", a)
				}
			}
			sawTick = true
		}
	}
}

func TestWSRejectsBadHandshake(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestDecodeSubscribeNormalizesRooms(t *testing.T) {
	sub, err := decodeSubscribe([]byte(`{"type":"SUBSCRIBE","protocol_version":"` + observerproto.Version + `","rooms":[" w0n1","W0N1","bogus","e3s2"],"flows":true}`))
	if err != nil {
		t.Fatalf("decodeSubscribe: %v", err)
	}
	if len(sub.Rooms) != 2 || sub.Rooms[0] != "W0N1" || sub.Rooms[1] != "E3S2" || !sub.Flows {
		t.Fatalf("sub = %+v", sub)
	}
	if _, err := decodeSubscribe([]byte(`{"type":"HELLO"}`)); !errors.Is(err, errNotSubscribe) {
		t.Fatalf("HELLO: %v", err)
	}
	if _, err := decodeSubscribe([]byte(`{`)); !errors.Is(err, errBadSubscribe) {
		t.Fatalf("truncated: %v", err)
	}
}
