package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	persistlog "tilemove.ai/internal/persistence/log"
	"tilemove.ai/internal/persistence/snapshot"
	"tilemove.ai/internal/sim/tuning"
	"tilemove.ai/internal/sim/world"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath     = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir    = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		scenarioPath = flag.String("scenario", "./configs/scenario.yaml", "scenario the snapshot was taken from")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "tuning the run used")
		fromTick     = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick       = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		summaryOnly  = flag.Bool("summary", false, "summarize the tick log without re-simulating")
	)
	flag.Parse()

	if *snapPath == "" && !(*summaryOnly && *eventsDir != "") {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	var snap snapshot.ReplayStateV1
	if *snapPath != "" {
		var err error
		snap, err = snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		size := ""
		if fi, err := os.Stat(*snapPath); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		paths := 0
		for _, a := range snap.Agents {
			if a.Path != "" {
				paths++
			}
		}
		fmt.Printf("snapshot v%d world=%s run=%s scenario=%s tick=%d seed=%d agents=%d paths=%d flows=%d edits=%d size=%s\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.RunID, snap.ScenarioID, snap.Header.Tick, snap.Seed,
			len(snap.Agents), paths, len(snap.Flows), len(snap.Costs), size)
	}

	if *eventsDir == "" {
		return
	}
	files, err := persistlog.TickLogFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	if *summaryOnly {
		var sum summary
		for _, path := range files {
			if err := persistlog.ScanTickLog(path, sum.add); err != nil {
				fmt.Fprintln(os.Stderr, "read events:", err)
				os.Exit(1)
			}
		}
		sum.print(os.Stdout)
		return
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	scen, err := world.LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load scenario:", err)
		os.Exit(1)
	}
	cfg := world.ConfigFromTuning(snap.Header.WorldID, snap.Seed, tune)
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	w, err := world.New(cfg, scen, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}
	if err := w.ImportReplayState(snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}

	startTick := w.CurrentTick()
	verifyFrom := *fromTick
	if verifyFrom == 0 {
		verifyFrom = startTick
	}

	var checked uint64
	for _, path := range files {
		err := persistlog.ScanTickLog(path, func(e world.TickLogEntry) error {
			return replayEntry(w, e, startTick, verifyFrom, *toTick, &checked)
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d ticks (from snapshot tick=%d)\n", checked, snap.Header.Tick)
}

func replayEntry(w *world.World, entry world.TickLogEntry, startTick, verifyFrom, toTick uint64, checked *uint64) error {
	if entry.Tick < startTick {
		return nil
	}
	if toTick != 0 && entry.Tick > toTick {
		return errStop
	}
	if entry.Tick != w.CurrentTick() {
		return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
	}
	for _, ed := range entry.Edits {
		if err := w.SetCost(ed.Room, ed.X, ed.Y, ed.Cost); err != nil {
			return fmt.Errorf("tick %d: edit: %w", entry.Tick, err)
		}
	}
	got := w.Step()
	if got.Tick >= verifyFrom {
		*checked++
		if got.Digest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", got.Tick, got.Digest, entry.Digest)
		}
	}
	return nil
}
