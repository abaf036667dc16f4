package tuning

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"tilemove.ai/internal/movement/controller"
	"tilemove.ai/internal/movement/pathfinder"
)

//go:embed tuning.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("tuning.schema.json", schemaJSON)

var ErrInvalid = errors.New("tuning: invalid")

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Pathfinder Pathfinder `yaml:"pathfinder"`
	Movement   Movement   `yaml:"movement"`
}

type Pathfinder struct {
	PlainCost       uint32  `yaml:"plain_cost"`
	SwampCost       uint32  `yaml:"swamp_cost"`
	MaxRooms        int     `yaml:"max_rooms"`
	MaxOps          int     `yaml:"max_ops"`
	HeuristicWeight float64 `yaml:"heuristic_weight"`
	ArenaRooms      int     `yaml:"arena_rooms"`
}

type Movement struct {
	PathAge     int   `yaml:"path_age"`
	AgentCost   uint8 `yaml:"agent_cost"`
	StuckRepath int   `yaml:"stuck_repath"`
	SinglePass  bool  `yaml:"single_pass"`
	Seed        int64 `yaml:"seed"`
}

func Defaults() Tuning {
	d := controller.DefaultConfig()
	return Tuning{
		TickRateHz:         5,
		SnapshotEveryTicks: 500,
		Pathfinder: Pathfinder{
			PlainCost:       d.PlainCost,
			SwampCost:       d.SwampCost,
			MaxRooms:        d.MaxRooms,
			MaxOps:          d.MaxOps,
			HeuristicWeight: d.HeuristicWeight,
			ArenaRooms:      pathfinder.DefaultCapacity,
		},
		Movement: Movement{
			PathAge:     d.PathAge,
			AgentCost:   d.AgentCost,
			StuckRepath: d.StuckRepath,
		},
	}
}

// Load reads a tuning file over the defaults. The raw document is checked
// against the embedded schema before it is decoded.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if doc != nil {
		// Round-trip through JSON so the validator sees JSON types.
		b, err := json.Marshal(doc)
		if err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
		var inst any
		if err := json.Unmarshal(b, &inst); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
		if err := schema.Validate(inst); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w: %v", ErrInvalid, err)
		}
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks constraints the schema cannot express.
func (t Tuning) Validate() error {
	p := t.Pathfinder
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("%w: tick_rate_hz must be positive", ErrInvalid)
	case p.MaxOps <= 0 || p.MaxRooms <= 0:
		return fmt.Errorf("%w: pathfinder budgets must be positive", ErrInvalid)
	case p.ArenaRooms < p.MaxRooms:
		return fmt.Errorf("%w: max_rooms %d exceeds arena_rooms %d", ErrInvalid, p.MaxRooms, p.ArenaRooms)
	case p.HeuristicWeight < 1:
		return fmt.Errorf("%w: heuristic_weight must be >= 1", ErrInvalid)
	case p.PlainCost == 0 || p.PlainCost >= 255 || p.SwampCost == 0 || p.SwampCost >= 255:
		return fmt.Errorf("%w: terrain costs must be in 1..254", ErrInvalid)
	}
	return nil
}

// Controller returns the movement controller settings.
func (t Tuning) Controller() controller.Config {
	return controller.Config{
		PlainCost:       t.Pathfinder.PlainCost,
		SwampCost:       t.Pathfinder.SwampCost,
		MaxRooms:        t.Pathfinder.MaxRooms,
		MaxOps:          t.Pathfinder.MaxOps,
		HeuristicWeight: t.Pathfinder.HeuristicWeight,
		PathAge:         t.Movement.PathAge,
		AgentCost:       t.Movement.AgentCost,
		StuckRepath:     t.Movement.StuckRepath,
		SinglePass:      t.Movement.SinglePass,
		Seed:            t.Movement.Seed,
	}
}
