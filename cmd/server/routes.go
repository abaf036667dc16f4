package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/persistence/mirror"
	"tilemove.ai/internal/sim/world"
	"tilemove.ai/internal/transport/observer"
)

// setupRoutes builds the HTTP surface. idx and mir may be nil.
func setupRoutes(w *world.World, idx runtimeIndex, mir *mirror.Mirror, logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", metricsHandler(w, idx, mir))

	obsSrv := observer.NewServer(w, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/observer/bootstrap", obsSrv.BootstrapHandler())
		r.Get("/observer/ws", obsSrv.WSHandler())

		r.Get("/stats", func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				WorldID string             `json:"world_id"`
				RunID   string             `json:"run_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: w.ID(),
				RunID:   w.RunID(),
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			respondJSON(rw, http.StatusOK, resp)
		})

		r.Get("/agents/{id}", func(rw http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			v, err := w.RequestAgent(ctx, chi.URLParam(r, "id"))
			if err != nil {
				respondError(rw, err)
				return
			}
			respondJSON(rw, http.StatusOK, v)
		})

		// Local-only edit endpoints.
		r.Group(func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Post("/rooms/{room}/invalidate", func(rw http.ResponseWriter, r *http.Request) {
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				room := strings.ToUpper(chi.URLParam(r, "room"))
				n, err := w.RequestInvalidateFlow(ctx, room)
				if err != nil {
					respondError(rw, err)
					return
				}
				respondJSON(rw, http.StatusOK, map[string]any{"ok": true, "room": room, "dropped": n})
			})
			r.Post("/rooms/{room}/cost", func(rw http.ResponseWriter, r *http.Request) {
				var body struct {
					X    int   `json:"x"`
					Y    int   `json:"y"`
					Cost uint8 `json:"cost"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					http.Error(rw, "bad json", http.StatusBadRequest)
					return
				}
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				room := strings.ToUpper(chi.URLParam(r, "room"))
				if err := w.RequestSetCost(ctx, room, body.X, body.Y, body.Cost); err != nil {
					respondError(rw, err)
					return
				}
				respondJSON(rw, http.StatusOK, map[string]any{"ok": true, "room": room})
			})
		})
	})
	return r
}

func metricsHandler(w *world.World, idx runtimeIndex, mir *mirror.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		id := w.ID()
		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tilemove_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_world_tick gauge\n")
		fmt.Fprintf(rw, "tilemove_world_tick{world=%q} %d\n", id, tick)

		fmt.Fprintf(rw, "# HELP tilemove_world_agents Current number of agents in the world.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_world_agents gauge\n")
		fmt.Fprintf(rw, "tilemove_world_agents{world=%q} %d\n", id, m.Agents)

		fmt.Fprintf(rw, "# HELP tilemove_world_observers Connected observer sessions.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_world_observers gauge\n")
		fmt.Fprintf(rw, "tilemove_world_observers{world=%q} %d\n", id, m.Observers)

		fmt.Fprintf(rw, "# HELP tilemove_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_world_step_ms gauge\n")
		fmt.Fprintf(rw, "tilemove_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

		fmt.Fprintf(rw, "# HELP tilemove_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "tilemove_world_queue_depth{world=%q,queue=%q} %d\n", id, "observer_join", m.QueueDepths.ObserverJoin)
		fmt.Fprintf(rw, "tilemove_world_queue_depth{world=%q,queue=%q} %d\n", id, "observer_leave", m.QueueDepths.ObserverLeave)
		fmt.Fprintf(rw, "tilemove_world_queue_depth{world=%q,queue=%q} %d\n", id, "agent_req", m.QueueDepths.AgentReq)
		fmt.Fprintf(rw, "tilemove_world_queue_depth{world=%q,queue=%q} %d\n", id, "edit_req", m.QueueDepths.EditReq)

		fmt.Fprintf(rw, "# HELP tilemove_movement_total Movement counters since start.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_movement_total counter\n")
		t := m.Totals
		for _, kv := range []struct {
			name string
			v    uint64
		}{
			{"moves", t.Moves},
			{"blocked", t.Blocked},
			{"shoved", t.Shoved},
			{"arrived", t.Arrived},
			{"searches", t.Searches},
			{"incomplete", t.Incomplete},
			{"replay_steps", t.ReplaySteps},
			{"flow_steps", t.FlowSteps},
			{"stale_paths", t.StalePaths},
			{"move_errors", t.MoveErrors},
			{"crossings", t.Crossings},
			{"reverted", t.Reverted},
		} {
			fmt.Fprintf(rw, "tilemove_movement_total{world=%q,kind=%q} %d\n", id, kv.name, kv.v)
		}

		fmt.Fprintf(rw, "# HELP tilemove_flow_cache Flow-field cache counters.\n")
		fmt.Fprintf(rw, "# TYPE tilemove_flow_cache gauge\n")
		fmt.Fprintf(rw, "tilemove_flow_cache{world=%q,metric=%q} %d\n", id, "entries", m.Cache.Entries)
		fmt.Fprintf(rw, "tilemove_flow_cache{world=%q,metric=%q} %d\n", id, "hits", m.Cache.Hits)
		fmt.Fprintf(rw, "tilemove_flow_cache{world=%q,metric=%q} %d\n", id, "misses", m.Cache.Misses)
		fmt.Fprintf(rw, "tilemove_flow_cache{world=%q,metric=%q} %d\n", id, "builds", m.Cache.Builds)
		fmt.Fprintf(rw, "tilemove_flow_cache{world=%q,metric=%q} %d\n", id, "invalidations", m.Cache.Invalidations)

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP tilemove_index_queue_depth Index writer queue depth.\n")
			fmt.Fprintf(rw, "# TYPE tilemove_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "tilemove_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP tilemove_index_dropped_total Index writes dropped under load.\n")
			fmt.Fprintf(rw, "# TYPE tilemove_index_dropped_total counter\n")
			fmt.Fprintf(rw, "tilemove_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
			fmt.Fprintf(rw, "tilemove_index_dropped_total{kind=%q} %d\n", "invalidation", s.DropInvalidTotal)
			fmt.Fprintf(rw, "tilemove_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
		}

		if mir != nil {
			s := mir.Stats()
			fmt.Fprintf(rw, "# HELP tilemove_mirror_queue_depth Upload mirror queue depth.\n")
			fmt.Fprintf(rw, "# TYPE tilemove_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "tilemove_mirror_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP tilemove_mirror_total Upload mirror counters.\n")
			fmt.Fprintf(rw, "# TYPE tilemove_mirror_total counter\n")
			fmt.Fprintf(rw, "tilemove_mirror_total{kind=%q} %d\n", "enqueued", s.EnqueuedTotal)
			fmt.Fprintf(rw, "tilemove_mirror_total{kind=%q} %d\n", "dropped", s.DroppedTotal)
			fmt.Fprintf(rw, "tilemove_mirror_total{kind=%q} %d\n", "uploaded", s.UploadSuccessTotal)
			fmt.Fprintf(rw, "tilemove_mirror_total{kind=%q} %d\n", "failed", s.UploadFailTotal)
			fmt.Fprintf(rw, "# HELP tilemove_mirror_last_success_unix Time of the last successful upload.\n")
			fmt.Fprintf(rw, "# TYPE tilemove_mirror_last_success_unix gauge\n")
			fmt.Fprintf(rw, "tilemove_mirror_last_success_unix %d\n", s.LastSuccessUnix)
		}
	}
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func respondJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(data)
}

func respondError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrUnknownAgent), errors.Is(err, world.ErrUnknownRoom):
		status = http.StatusNotFound
	case errors.Is(err, coord.ErrBadLocal):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, world.ErrLoopUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
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
