package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"

	"tilemove.ai/internal/sim/world"
)

// summary aggregates a tick log for a quick health read.
type summary struct {
	first, last uint64
	ticks       uint64
	moves       uint64
	blocked     uint64
	searches    uint64
	searchOps   uint64
	replay      uint64
	flow        uint64
	crossings   uint64
	reverted    uint64
	edits       uint64
	maxStepMS   float64
	sources     map[string]uint64
}

func (s *summary) add(e world.TickLogEntry) error {
	if s.ticks == 0 || e.Tick < s.first {
		s.first = e.Tick
	}
	if e.Tick > s.last {
		s.last = e.Tick
	}
	s.ticks++
	s.moves += uint64(e.Stats.Moves)
	s.blocked += uint64(e.Stats.Blocked)
	s.searches += uint64(e.Stats.Searches)
	s.searchOps += uint64(e.Stats.SearchOps)
	s.replay += uint64(e.Stats.ReplaySteps)
	s.flow += uint64(e.Stats.FlowSteps)
	s.crossings += uint64(len(e.Crossings))
	s.reverted += uint64(len(e.Reverted))
	s.edits += uint64(len(e.Edits))
	if e.StepMS > s.maxStepMS {
		s.maxStepMS = e.StepMS
	}
	if s.sources == nil {
		s.sources = map[string]uint64{}
	}
	for _, m := range e.Moves {
		s.sources[m.Source]++
	}
	return nil
}

func (s *summary) print(out io.Writer) {
	fmt.Fprintf(out, "ticks %d..%d (%s entries)\n", s.first, s.last, humanize.Comma(int64(s.ticks)))
	fmt.Fprintf(out, "moves=%s blocked=%s crossings=%s reverted=%s edits=%d\n",
		humanize.Comma(int64(s.moves)), humanize.Comma(int64(s.blocked)),
		humanize.Comma(int64(s.crossings)), humanize.Comma(int64(s.reverted)), s.edits)
	opsPerSearch := 0.0
	if s.searches > 0 {
		opsPerSearch = float64(s.searchOps) / float64(s.searches)
	}
	fmt.Fprintf(out, "searches=%s ops/search=%.1f replay_steps=%s flow_steps=%s max_step=%.2fms\n",
		humanize.Comma(int64(s.searches)), opsPerSearch,
		humanize.Comma(int64(s.replay)), humanize.Comma(int64(s.flow)), s.maxStepMS)

	keys := make([]string, 0, len(s.sources))
	for k := range s.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  source %-8s %s\n", k, humanize.Comma(int64(s.sources[k])))
	}
}
