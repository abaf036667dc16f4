package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"

	"tilemove.ai/internal/sim/tuning"
	"tilemove.ai/internal/sim/world"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "./configs/scenario.yaml", "scenario to view")
		tuningPath   = flag.String("tuning", "", "tuning file (optional)")
		warmup       = flag.Int("ticks", 1, "ticks to simulate before showing (builds hub flow fields)")
	)
	flag.Parse()

	if err := run(*scenarioPath, *tuningPath, *warmup); err != nil {
		fmt.Fprintln(os.Stderr, "roomview:", err)
		os.Exit(1)
	}
}

func run(scenarioPath, tuningPath string, warmup int) error {
	scen, err := world.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	tune := tuning.Defaults()
	if tuningPath != "" {
		if tune, err = tuning.Load(tuningPath); err != nil {
			return err
		}
	}
	w, err := world.New(world.ConfigFromTuning("roomview", 0, tune), scen, nil)
	if err != nil {
		return err
	}
	for i := 0; i < warmup; i++ {
		w.Step()
	}

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	v := newViewer(w)
	v.draw(s)
	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventKey:
			if !v.handleKey(ev) {
				return nil
			}
		case nil:
			return nil
		}
		v.draw(s)
	}
}
