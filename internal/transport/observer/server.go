package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/observerproto"
	"tilemove.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			RunID:           s.world.RunID(),
			Tick:            s.world.CurrentTick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz: cfg.TickRateHz,
				RoomSize:   coord.RoomSize,
				Seed:       cfg.Seed,
				Scenario:   s.world.ScenarioID(),
			},
			Rooms: s.world.Rooms(),
			Hubs:  s.world.Hubs(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

const (
	handshakeWait = 5 * time.Second
	readWait      = 60 * time.Second
	writeWait     = 5 * time.Second
	pingEvery     = 25 * time.Second
)

var (
	errBadSubscribe = errors.New("bad subscribe")
	errNotSubscribe = errors.New("expected SUBSCRIBE")
)

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := decodeSubscribe(msg)
		if err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}

		sid := "O" + uuid.NewString()
		tickOut := make(chan []byte, 8)
		dataOut := make(chan []byte, 1024)
		select {
		case s.world.ObserverJoin() <- world.ObserverJoinRequest{SessionID: sid, TickOut: tickOut, DataOut: dataOut, Rooms: sub.Rooms, Flows: sub.Flows}:
			s.logf("observer %s joined rooms=%v flows=%v", sid, sub.Rooms, sub.Flows)
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- pump(ctx, conn, tickOut, dataOut) }()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := decodeSubscribe(msg)
			if err != nil {
				continue
			}
			select {
			case s.world.ObserverSubscribe() <- world.ObserverSubscribeRequest{SessionID: sid, Rooms: sub.Rooms, Flows: sub.Flows}:
			default:
				// Dropped under load; the client may resend.
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// decodeSubscribe parses and normalizes one SUBSCRIBE frame.
func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, errBadSubscribe
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, errNotSubscribe
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

// pump writes queued frames until ctx ends or the world closes the session.
// Room and flow data go out before a pending tick so clients can draw it.
func pump(ctx context.Context, conn *websocket.Conn, tickOut, dataOut <-chan []byte) error {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	write := func(kind int, b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(kind, b)
	}
	for {
		select {
		case b, ok := <-dataOut:
			if !ok {
				return nil
			}
			if err := write(websocket.TextMessage, b); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return err
			}
		case b, ok := <-dataOut:
			if !ok {
				return nil
			}
			if err := write(websocket.TextMessage, b); err != nil {
				return err
			}
		case b, ok := <-tickOut:
			if !ok {
				return nil
			}
			if err := write(websocket.TextMessage, b); err != nil {
				return err
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// maxRooms caps one subscription; the rest are ignored.
const maxRooms = 64

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	rooms := sub.Rooms[:0:0]
	seen := map[string]bool{}
	for _, r := range sub.Rooms {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		if _, err := coord.RoomToGrid(r); err != nil {
			continue
		}
		seen[r] = true
		rooms = append(rooms, r)
		if len(rooms) == maxRooms {
			break
		}
	}
	sub.Rooms = rooms
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
