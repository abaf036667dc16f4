package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := []byte("tick_rate_hz: 10\npathfinder:\n  max_ops: 4000\n  heuristic_weight: 1.5\nmovement:\n  path_age: 5\n")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickRateHz != 10 || got.Pathfinder.MaxOps != 4000 || got.Movement.PathAge != 5 {
		t.Fatalf("unexpected tuning: %+v", got)
	}
	if got.Pathfinder.MaxRooms != Defaults().Pathfinder.MaxRooms {
		t.Fatalf("max_rooms default lost: %+v", got.Pathfinder)
	}
	cfg := got.Controller()
	if cfg.MaxOps != 4000 || cfg.HeuristicWeight != 1.5 || cfg.PathAge != 5 {
		t.Fatalf("controller config: %+v", cfg)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	for _, doc := range []string{
		"tick_rate_hz: 0\n",
		"pathfinder:\n  heuristic_weight: 0.5\n",
		"movement:\n  path_age: 0\n",
		"unknown_key: 1\n",
		"pathfinder:\n  max_ops: many\n",
	} {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%q: expected ErrInvalid, got %v", doc, err)
		}
	}
}

func TestValidateCrossField(t *testing.T) {
	tu := Defaults()
	tu.Pathfinder.ArenaRooms = 4
	tu.Pathfinder.MaxRooms = 8
	if err := tu.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Parse([]byte("pathfinder:\n  arena_rooms: 4\n  max_rooms: 8\n")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid from Parse, got %v", err)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if got != Defaults() {
		t.Fatalf("empty document should yield defaults: %+v", got)
	}
}
