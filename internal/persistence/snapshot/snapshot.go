package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	RunID   string `json:"run_id,omitempty"`
	Tick    uint64 `json:"tick"`
	Agents  int    `json:"agents"`
	Flows   int    `json:"flows"`
}

// ReplayStateV1 is everything needed to resume movement where it stopped:
// agent positions, their serialized paths and the cached flow fields.
// Terrain is not included; it is reloaded from the scenario.
type ReplayStateV1 struct {
	Header Header `json:"header"`

	Seed       int64  `json:"seed"`
	TickRate   int    `json:"tick_rate_hz"`
	ScenarioID string `json:"scenario_id"`

	Agents []AgentV1 `json:"agents"`
	Flows  []FlowV1  `json:"flows"`
	Costs  []CostV1  `json:"costs,omitempty"`
}

type PosV1 struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

type AgentV1 struct {
	ID      string `json:"id"`
	Pos     PosV1  `json:"pos"`
	Fatigue int    `json:"fatigue,omitempty"`

	Task TaskV1 `json:"task"`

	// Controller memory.
	Path   string `json:"path,omitempty"`
	Target PosV1  `json:"target"`
	Range  uint32 `json:"range"`
	Flee   bool   `json:"flee,omitempty"`
	Expect PosV1  `json:"expect"`
	Stuck  int    `json:"stuck,omitempty"`
	HasMem bool   `json:"has_mem"`
}

type TaskV1 struct {
	Kind    string `json:"kind"`
	Target  PosV1  `json:"target"`
	Range   uint32 `json:"range"`
	FlowKey string `json:"flow_key,omitempty"`
	Since   uint64 `json:"since"`
	Until   uint64 `json:"until,omitempty"`
}

// FlowV1 is one cached flow field, packed 4 bits per tile.
type FlowV1 struct {
	Room  uint16 `json:"room"`
	Key   string `json:"key"`
	Built uint64 `json:"built"`
	Field []byte `json:"field"`
}

// CostV1 records a structural cost edit made after the scenario was loaded.
type CostV1 struct {
	Room string `json:"room"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Cost uint8  `json:"cost"`
	Tick uint64 `json:"tick"`
}

func WriteSnapshot(path string, snap ReplayStateV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	snap.Header.Agents = len(snap.Agents)
	snap.Header.Flows = len(snap.Flows)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (ReplayStateV1, error) {
	var snap ReplayStateV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

// Latest returns the snapshot with the highest tick in dir, or "" when
// there is none.
func Latest(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	best := ""
	var bestTick uint64
	for _, m := range matches {
		var tick uint64
		if _, err := fmt.Sscanf(filepath.Base(m), "%d.snap.zst", &tick); err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = m, tick
		}
	}
	return best
}
