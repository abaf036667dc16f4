package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilemove.ai/internal/persistence/indexdb"
	"tilemove.ai/internal/persistence/snapshot"
	"tilemove.ai/internal/sim/tuning"
	"tilemove.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.Index
	Close() error
	UpsertTuning(tune tuning.Tuning) (string, error)
	RecordSnapshot(path string, snap snapshot.ReplayStateV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported TM_INDEX_BACKEND: %s", backend)
	}
}
