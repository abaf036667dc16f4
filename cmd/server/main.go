package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	persistlog "tilemove.ai/internal/persistence/log"
	"tilemove.ai/internal/persistence/snapshot"
	"tilemove.ai/internal/sim/tuning"
	"tilemove.ai/internal/sim/world"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		worldID      = flag.String("world", "world_1", "world id")
		seed         = flag.Int64("seed", 0, "world seed (0: scenario seed; ignored when resuming)")
		configDir    = flag.String("configs", "./configs", "config directory")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenarioPath = flag.String("scenario", "", "path to scenario.yaml (default: <configs>/scenario.yaml)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index (tick stats + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	sp := strings.TrimSpace(*scenarioPath)
	if sp == "" {
		sp = filepath.Join(*configDir, "scenario.yaml")
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	scen, err := world.LoadScenario(sp)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(worldDir, "snapshots"))
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if digest, err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		} else {
			logger.Printf("tuning digest=%s", digest[:12])
		}
	}

	// Create world (fresh or resumed from snapshot).
	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		cfg := world.ConfigFromTuning(*worldID, snap.Seed, tune)
		if snap.TickRate > 0 {
			cfg.TickRateHz = snap.TickRate
		}
		w, err = world.New(cfg, scen, logger)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		if err := w.ImportReplayState(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d agents=%d flows=%d",
			filepath.Base(snapshotToLoad), w.CurrentTick(), len(snap.Agents), len(snap.Flows))
	} else {
		w, err = world.New(world.ConfigFromTuning(*worldID, *seed, tune), scen, logger)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		logger.Printf("fresh world scenario=%s seed=%d agents=%d rooms=%d",
			w.ScenarioID(), w.Config().Seed, len(w.AgentIDs()), len(w.Rooms()))
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Optional: object storage mirror for closed tick logs and snapshots.
	mir, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mir.Close()

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if mir != nil {
		tickLog.OnClose(mir.Enqueue)
	}
	w.SetTickLogger(tickLog)
	if idx != nil {
		w.SetIndex(idx)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Snapshot writer.
	snapCh := make(chan snapshot.ReplayStateV1, 2)
	w.SetSnapshotSink(snapCh)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if fi, err := os.Stat(path); err == nil {
					logger.Printf("snapshot tick=%d size=%s", snap.Header.Tick, humanize.Bytes(uint64(fi.Size())))
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				mir.Enqueue(path)
			}
		}
	})

	g.Go(func() error {
		if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("world stopped: %w", err)
		}
		return nil
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           setupRoutes(w, idx, mir, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
