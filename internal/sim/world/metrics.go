package world

import (
	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/pathcache"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick      uint64  `json:"tick"`
	Agents    int     `json:"agents"`
	Observers int     `json:"observers"`
	StepMS    float64 `json:"step_ms"`

	Last   controller.Stats     `json:"last"`
	Totals Totals               `json:"totals"`
	Cache  pathcache.CacheStats `json:"cache"`

	Searches  uint64 `json:"searches"`
	SearchOps uint64 `json:"search_ops"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	ObserverJoin  int `json:"observer_join"`
	ObserverLeave int `json:"observer_leave"`
	AgentReq      int `json:"agent_req"`
	EditReq       int `json:"edit_req"`
}

// Totals accumulate since the world was created.
type Totals struct {
	Ticks       uint64 `json:"ticks"`
	Moves       uint64 `json:"moves"`
	Blocked     uint64 `json:"blocked"`
	Shoved      uint64 `json:"shoved"`
	Arrived     uint64 `json:"arrived"`
	Searches    uint64 `json:"searches"`
	Incomplete  uint64 `json:"incomplete"`
	ReplaySteps uint64 `json:"replay_steps"`
	FlowSteps   uint64 `json:"flow_steps"`
	StalePaths  uint64 `json:"stale_paths"`
	MoveErrors  uint64 `json:"move_errors"`
	Crossings   uint64 `json:"crossings"`
	Reverted    uint64 `json:"reverted"`
}

func (t *Totals) add(s controller.Stats, crossings, reverted int) {
	t.Ticks++
	t.Moves += uint64(s.Moves)
	t.Blocked += uint64(s.Blocked)
	t.Shoved += uint64(s.Shoved)
	t.Arrived += uint64(s.Arrived)
	t.Searches += uint64(s.Searches)
	t.Incomplete += uint64(s.Incomplete)
	t.ReplaySteps += uint64(s.ReplaySteps)
	t.FlowSteps += uint64(s.FlowSteps)
	t.StalePaths += uint64(s.StalePaths)
	t.MoveErrors += uint64(s.MoveErrors)
	t.Crossings += uint64(crossings)
	t.Reverted += uint64(reverted)
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
