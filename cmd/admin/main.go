package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilemove.ai/internal/movement/coord"
	"tilemove.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "invalidate":
			invalidateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// rollbackCmd writes a copy of a snapshot with cost edits removed, so a
// resumed world sees the scenario's original tiles again.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path to rollback from (optional; defaults to latest)")
	room := fs.String("room", "", "only edits in this room (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "rollback edits since tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "rollback edits up to tick (inclusive, optional; defaults to snapshot tick)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	roomName := strings.ToUpper(strings.TrimSpace(*room))
	if roomName != "" {
		if _, err := coord.RoomToGrid(roomName); err != nil {
			fmt.Fprintln(os.Stderr, "bad -room:", err)
			os.Exit(2)
		}
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad = snapshot.Latest(filepath.Join(worldDir, "snapshots"))
	}
	if snapshotToLoad == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	endTick := *toTick
	if endTick == 0 || endTick > snap.Header.Tick {
		endTick = snap.Header.Tick
	}

	removed, dropped := rollbackEdits(&snap, roomName, *sinceTick, endTick)
	if removed == 0 {
		fmt.Println("no matching cost edits; nothing to rollback")
		return
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("rollback ok: snapshot=%s tick=%d room=%q since=%d to=%d removed=%d flows_dropped=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, roomName, *sinceTick, endTick, removed, dropped, *outPath)
}

// rollbackEdits removes matching cost edits and drops the cached flow
// fields of every room that lost an edit; they are rebuilt on resume.
// An empty room matches every room.
func rollbackEdits(snap *snapshot.ReplayStateV1, room string, since, to uint64) (removed, flowsDropped int) {
	touched := map[uint16]bool{}
	kept := snap.Costs[:0]
	for _, e := range snap.Costs {
		if (room == "" || e.Room == room) && e.Tick >= since && e.Tick <= to {
			removed++
			if m, err := coord.RoomToGrid(e.Room); err == nil {
				touched[m.ID()] = true
			}
			continue
		}
		kept = append(kept, e)
	}
	snap.Costs = kept

	flows := snap.Flows[:0]
	for _, f := range snap.Flows {
		if touched[f.Room] {
			flowsDropped++
			continue
		}
		flows = append(flows, f)
	}
	snap.Flows = flows
	snap.Header.Flows = len(flows)
	return removed, flowsDropped
}
